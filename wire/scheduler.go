package wire

import (
	"context"
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

const schedulerQueueSize = 512

// Dispatcher enqueues received messages for consumption.
type Dispatcher interface {
	// Dispatch enqueues the given message.
	Dispatch(ctx context.Context, msg Msg) error

	// HandleFrame releases the messages buffered since the previous
	// frame.
	HandleFrame()
}

// Consumer exposes the messages to handle.
type Consumer interface {
	Messages() <-chan Msg
}

// Scheduler forwards received messages immediately until frame
// handling begins. Once a session frame loop starts calling
// HandleFrame, messages are buffered and released in arrival order at
// each frame boundary.
type Scheduler struct {
	once sync.Once
	done chan struct{}

	mutex   sync.Mutex
	framed  bool
	pending []Msg

	out chan Msg
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		done: make(chan struct{}),
		out:  make(chan Msg, schedulerQueueSize),
	}
}

func (s *Scheduler) Dispatch(ctx context.Context, msg Msg) error {
	s.mutex.Lock()
	if s.framed {
		s.pending = append(s.pending, msg)
		s.mutex.Unlock()
		return nil
	}
	s.mutex.Unlock()

	select {
	case s.out <- msg:
		return nil

	case <-s.done:
		return errors.New("scheduler is closed")

	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) HandleFrame() {
	s.mutex.Lock()
	s.framed = true
	pending := s.pending
	s.pending = nil
	s.mutex.Unlock()

	for _, msg := range pending {
		select {
		case s.out <- msg:

		case <-s.done:
			return
		}
	}
}

func (s *Scheduler) Messages() <-chan Msg {
	return s.out
}

// Close releases the scheduler resources and unblocks pending
// dispatches.
func (s *Scheduler) Close() {
	s.once.Do(func() {
		close(s.done)
	})
}
