package leita

import (
	"sync"

	"github.com/aukilabs/ingwaz/geo"
	"github.com/aukilabs/ingwaz/models"
)

// Watch is a participant's registered region of interest. seen carries
// the entities observed inside the region on the previous frame and is
// only touched by the session frame goroutine.
type Watch struct {
	ID     uint32
	Region geo.Rect

	seen map[uint32]*models.Entity
}

// State keeps track of the watches registered by the participants of a
// session.
type State struct {
	watchMutex sync.RWMutex
	watchIDs   models.SequentialIDGenerator
	watches    map[uint32]map[uint32]*Watch
}

func (s *State) NewWatchID() uint32 {
	return s.watchIDs.New()
}

func (s *State) SetWatch(participantID uint32, w *Watch) {
	s.watchMutex.Lock()
	defer s.watchMutex.Unlock()

	if s.watches == nil {
		s.watches = make(map[uint32]map[uint32]*Watch)
	}

	watches, ok := s.watches[participantID]
	if !ok {
		watches = make(map[uint32]*Watch)
		s.watches[participantID] = watches
	}

	watches[w.ID] = w
}

func (s *State) Watch(participantID, watchID uint32) (*Watch, bool) {
	s.watchMutex.RLock()
	defer s.watchMutex.RUnlock()

	w, ok := s.watches[participantID][watchID]
	return w, ok
}

func (s *State) RemoveWatch(participantID, watchID uint32) {
	s.watchMutex.Lock()
	defer s.watchMutex.Unlock()

	watches := s.watches[participantID]
	delete(watches, watchID)
	if len(watches) == 0 {
		delete(s.watches, participantID)
	}
}

func (s *State) RemoveWatches(participantID uint32) {
	s.watchMutex.Lock()
	defer s.watchMutex.Unlock()

	delete(s.watches, participantID)
}

func (s *State) Watches(participantID uint32) []*Watch {
	s.watchMutex.RLock()
	defer s.watchMutex.RUnlock()

	watches := make([]*Watch, 0, len(s.watches[participantID]))
	for _, w := range s.watches[participantID] {
		watches = append(watches, w)
	}
	return watches
}

func (s *State) WatchCount(participantID uint32) int {
	s.watchMutex.RLock()
	defer s.watchMutex.RUnlock()

	return len(s.watches[participantID])
}
