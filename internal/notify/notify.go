// Package notify delivers customer messages on a best-effort basis. Delivery
// is fire-and-forget relative to financial state changes: a failed send is
// logged and recorded, never surfaced to the ledger or reconciliation caller.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/kbekoe/databroker/internal/model"
	"go.uber.org/zap"
)

// Gateway is the narrow contract over the external SMS/email collaborator.
type Gateway interface {
	Deliver(ctx context.Context, recipient, message string) error
}

type Store interface {
	InsertNotificationLog(ctx context.Context, log model.NotificationLog) error
	FailedBroadcastLogs(ctx context.Context, broadcastID string) ([]model.NotificationLog, error)
	HasSentLog(ctx context.Context, broadcastID, recipient string) (bool, error)
	MarkLogSent(ctx context.Context, id int64) error
}

type Sender struct {
	gateway Gateway
	store   Store
	logger  *zap.SugaredLogger

	attempts int
	backoff  time.Duration
	wg       sync.WaitGroup
}

func NewSender(gateway Gateway, store Store, logger *zap.SugaredLogger) *Sender {
	return &Sender{
		gateway:  gateway,
		store:    store,
		logger:   logger,
		attempts: 3,
		backoff:  2 * time.Second,
	}
}

// Send queues delivery in the background and always succeeds from the
// caller's point of view. The detached context keeps the retry alive after
// the owning request finishes.
func (s *Sender) Send(ctx context.Context, recipient, message string) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deliver(context.WithoutCancel(ctx), recipient, message, nil)
	}()
	return nil
}

// Wait blocks until in-flight deliveries drain. Called on shutdown.
func (s *Sender) Wait() {
	s.wg.Wait()
}

func (s *Sender) deliver(ctx context.Context, recipient, message string, broadcastID *string) bool {
	var lastErr error
	for attempt := 0; attempt < s.attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(s.backoff)
		}
		if lastErr = s.gateway.Deliver(ctx, recipient, message); lastErr == nil {
			s.record(ctx, model.NotificationLog{
				BroadcastID: broadcastID,
				Recipient:   recipient,
				Message:     message,
				Status:      model.NotificationSent,
			})
			return true
		}
	}

	s.logger.Warnf("notification to %s failed after %d attempts: %v", recipient, s.attempts, lastErr)
	s.record(ctx, model.NotificationLog{
		BroadcastID: broadcastID,
		Recipient:   recipient,
		Message:     message,
		Status:      model.NotificationFailed,
		Error:       lastErr.Error(),
	})
	return false
}

func (s *Sender) record(ctx context.Context, log model.NotificationLog) {
	if err := s.store.InsertNotificationLog(ctx, log); err != nil {
		s.logger.Errorf("record notification log for %s: %v", log.Recipient, err)
	}
}

type BroadcastSummary struct {
	Resent  int `json:"resent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// RetryFailedBroadcast resends the failed rows of a broadcast. Recipients
// are deduplicated within the batch, and a recipient who already has any
// successful delivery for the same broadcast is treated as served: the
// failed duplicate is marked sent without resending.
func (s *Sender) RetryFailedBroadcast(ctx context.Context, broadcastID string) (BroadcastSummary, error) {
	logs, err := s.store.FailedBroadcastLogs(ctx, broadcastID)
	if err != nil {
		return BroadcastSummary{}, err
	}

	var summary BroadcastSummary
	seen := make(map[string]bool)
	for _, entry := range logs {
		if seen[entry.Recipient] {
			summary.Skipped++
			continue
		}
		seen[entry.Recipient] = true

		served, err := s.store.HasSentLog(ctx, broadcastID, entry.Recipient)
		if err != nil {
			s.logger.Errorf("check delivery log for %s: %v", entry.Recipient, err)
			summary.Failed++
			continue
		}
		if served {
			if err := s.store.MarkLogSent(ctx, entry.ID); err != nil {
				s.logger.Errorf("mark duplicate log %d sent: %v", entry.ID, err)
			}
			summary.Skipped++
			continue
		}

		if s.deliver(ctx, entry.Recipient, entry.Message, &broadcastID) {
			if err := s.store.MarkLogSent(ctx, entry.ID); err != nil {
				s.logger.Errorf("mark log %d sent: %v", entry.ID, err)
			}
			summary.Resent++
		} else {
			summary.Failed++
		}
	}

	return summary, nil
}
