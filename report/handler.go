// Package report forwards session usage summaries to the registry.
// Reports are queued on a buffered channel when sessions close and
// drained by a single goroutine, so slow registry calls never stall a
// websocket handler.
package report

import (
	"context"
	"strings"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	maxSendAttempts = 3
	sendRetryDelay  = time.Second * 5
)

// SessionUsageReport is the payload posted to the registry when a
// session closes.
type SessionUsageReport struct {
	SessionID        string    `json:"session_id"`
	SessionUUID      string    `json:"session_uuid"`
	AppKey           string    `json:"app_key,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	EndedAt          time.Time `json:"ended_at"`
	PeakParticipants int       `json:"peak_participants"`
	PeakEntities     int       `json:"peak_entities"`
	PeakIndexNodes   int       `json:"peak_index_nodes"`
}

// Sender posts session usage reports to the registry.
type Sender interface {
	SendSessionReport(ctx context.Context, report SessionUsageReport) error
}

// Handler drains the report channel and forwards each report to the
// registry.
type Handler struct {
	Registry   Sender
	ReportChan chan SessionUsageReport
}

func (h Handler) HandleReports(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return

			case r := <-h.ReportChan:
				h.forward(ctx, r)
			}
		}
	}()
}

func (h Handler) forward(ctx context.Context, r SessionUsageReport) {
	var err error
	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		start := time.Now()

		if err = h.Registry.SendSessionReport(ctx, r); err == nil {
			instrumentReportSend(start)
			return
		}
		instrumentReportSendError(err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(sendRetryDelay):
		}
	}

	logs.WithTag("session_id", r.SessionID).
		WithTag("attempts", maxSendAttempts).
		Warn(errors.New("forwarding session usage report failed").Wrap(err))
}

// VerifyAck checks that signature covers the Keccak256 hash of body and
// recovers to the given wallet address.
func VerifyAck(body, signature []byte, walletAddress string) error {
	hash := crypto.Keccak256Hash(body)

	pub, err := crypto.SigToPub(hash.Bytes(), signature)
	if err != nil {
		instrumentReportVerificationError(err)
		return errors.New("recovering ack signer failed").Wrap(err)
	}

	addr := crypto.PubkeyToAddress(*pub)
	if !strings.EqualFold(addr.Hex(), walletAddress) {
		err := errors.New("ack signer mismatch").
			WithTag("expected", walletAddress).
			WithTag("recovered", addr.Hex())
		instrumentReportVerificationError(err)
		return err
	}
	return nil
}
