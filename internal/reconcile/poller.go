package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/kbekoe/databroker/internal/errs"
)

type Summary struct {
	Checked     int `json:"checked"`
	Synced      int `json:"synced"`
	Failed      int `json:"failed"`
	RateLimited int `json:"rateLimited"`
}

// PollBatch sweeps a bounded batch of open trackings, oldest first, checking
// each against its provider. Rows are independent: one failure never aborts
// the batch. Calls are paced by the injected limiter, and a rate-limit
// response puts that provider into an extended cooldown for the rest of the
// run.
func (r *Reconciler) PollBatch(ctx context.Context) Summary {
	var summary Summary

	trackings, err := r.store.OpenTrackings(ctx, r.batchSize)
	if err != nil {
		r.logger.Errorf("select open trackings: %v", err)
		return summary
	}

	for _, tracking := range trackings {
		if ctx.Err() != nil {
			return summary
		}
		summary.Checked++

		adapter, ok := r.providers.ByName(tracking.Provider)
		if !ok {
			r.logger.Errorf("tracking %d references unknown provider %q", tracking.ID, tracking.Provider)
			summary.Failed++
			continue
		}

		if err := r.limiter.Wait(ctx, tracking.Provider); err != nil {
			return summary
		}

		result, err := adapter.CheckStatus(ctx, tracking.ProviderRef)
		if err != nil {
			if errors.Is(err, errs.ErrRateLimited) {
				r.limiter.Cooldown(tracking.Provider, r.cooldown)
				summary.RateLimited++
				continue
			}
			// transport or parse failure, the next cycle retries
			r.logger.Errorf("check status for tracking %d: %v", tracking.ID, err)
			summary.Failed++
			continue
		}

		applied, err := r.ApplyExternalStatus(ctx, tracking.ProviderRef, result.RawStatus, result.RawMessage)
		if err != nil {
			r.logger.Errorf("apply status for tracking %d: %v", tracking.ID, err)
			summary.Failed++
			continue
		}
		if applied {
			summary.Synced++
		}
	}

	return summary
}

// Run drives the poll sweep on a fixed interval until ctx is cancelled.
// Overlapping runs are tolerated by design: every apply is idempotent.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary := r.PollBatch(ctx)
			if summary.Checked > 0 {
				r.logger.Infof("poll sweep: checked=%d synced=%d failed=%d rateLimited=%d",
					summary.Checked, summary.Synced, summary.Failed, summary.RateLimited)
			}
		}
	}
}
