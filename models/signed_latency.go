package models

import (
	"crypto/ecdsa"
	"math"
	"sort"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/ingwaz/messages"
	"github.com/aukilabs/ingwaz/wire"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/segmentio/encoding/json"
)

// SignedLatency measures the round trip latency between the server and
// a client over several ping iterations and reports the aggregated
// stats signed with the server wallet key.
type SignedLatency struct {
	RequestID     uint32
	StartedAt     time.Time
	Iteration     uint32
	PingRequests  map[uint32]LatencyMetricsData
	SessionID     string
	ClientID      string
	WalletAddress string

	sender     wire.ResponseSender
	privateKey *ecdsa.PrivateKey
}

type LatencyMetricsData struct {
	Start time.Time
	End   time.Time
}

func (s *SignedLatency) Start(privateKey *ecdsa.PrivateKey, sender wire.ResponseSender, requestID, iteration uint32, sessionID, clientID, walletAddress string) {
	s.StartedAt = time.Now()
	s.RequestID = requestID
	s.Iteration = iteration
	s.PingRequests = make(map[uint32]LatencyMetricsData, iteration)
	s.sender = sender
	s.SessionID = sessionID
	s.ClientID = clientID
	s.WalletAddress = walletAddress
	s.privateKey = privateKey

	s.sendPingRequest()
}

// Done reports whether every iteration completed.
func (s *SignedLatency) Done() bool {
	return s.Iteration == 0
}

// OnPing records the round trip completed by the given ping response,
// then either sends the next ping request or signs and sends the
// aggregated stats.
func (s *SignedLatency) OnPing(pingReqID uint32) error {
	pingRequest, ok := s.PingRequests[pingReqID]
	if !ok {
		return errors.New("ping request not found")
	}

	s.Iteration--
	s.PingRequests[pingReqID] = LatencyMetricsData{
		Start: pingRequest.Start,
		End:   time.Now(),
	}

	if s.Iteration > 0 {
		s.sendPingRequest()
		return nil
	}

	// Latencies are measured in microseconds.
	var min, max, mean float64
	var latencies []float64

	for _, v := range s.PingRequests {
		latency := float64(v.End.Sub(v.Start).Microseconds())
		latencies = append(latencies, latency)
		if latency < min || min == 0 {
			min = latency
		}
		if latency > max {
			max = latency
		}
		mean += latency
	}
	mean = math.Round(mean / float64(len(s.PingRequests)))

	last := float64(time.Since(pingRequest.Start).Microseconds())

	sort.Float64s(latencies)

	var p95 float64
	index := int(float64(len(latencies)) * 0.95)
	if index < len(latencies) && index > 0 {
		p95 = latencies[index-1]
	}

	stats := messages.LatencyStats{
		CreatedAt:     time.Now(),
		Min:           min,
		Max:           max,
		Mean:          mean,
		P95:           p95,
		Last:          last,
		Iteration:     uint32(len(s.PingRequests)),
		SessionID:     s.SessionID,
		ClientID:      s.ClientID,
		WalletAddress: s.WalletAddress,
	}

	data, err := json.Marshal(stats)
	if err != nil {
		return errors.New("failed to marshal latency stats").Wrap(err)
	}
	signature, err := crypto.Sign(crypto.Keccak256Hash(data).Bytes(), s.privateKey)
	if err != nil {
		return errors.New("failed to sign latency stats").Wrap(err)
	}

	s.sender.Send(&messages.SignedLatencyResponse{
		Type:      messages.MsgTypeSignedLatencyResponse,
		Timestamp: time.Now(),
		RequestID: s.RequestID,
		Data:      data,
		Signature: hexutil.Encode(signature),
	})
	return nil
}

func (s *SignedLatency) sendPingRequest() {
	pingReqID := uint32(time.Now().UnixNano())
	s.PingRequests[pingReqID] = LatencyMetricsData{
		Start: time.Now(),
	}
	s.sender.Send(&messages.PingRequest{
		Type:      messages.MsgTypePingRequest,
		Timestamp: time.Now(),
		RequestID: pingReqID,
	})
}
