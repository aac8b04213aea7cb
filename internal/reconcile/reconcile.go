// Package reconcile converges tracked orders on the provider's source of
// truth. Webhook pushes and the poll sweep are two unreliable channels that
// funnel into one idempotent apply operation; duplicate and out-of-order
// signals are expected, not errors.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/kbekoe/databroker/internal/model"
	"github.com/kbekoe/databroker/internal/provider"
	"github.com/kbekoe/databroker/internal/ratelimit"
	"go.uber.org/zap"
)

type Store interface {
	InsertWebhookEvent(ctx context.Context, ev model.WebhookEvent) error
	TrackingByProviderRef(ctx context.Context, providerRef string) (model.FulfillmentTracking, error)
	UpdateTrackingStatus(ctx context.Context, id int64, status model.TrackingStatus, message string) error
	OpenTrackings(ctx context.Context, limit int) ([]model.FulfillmentTracking, error)
	GetOrder(ctx context.Context, id int64) (model.Order, error)
	SetOrderStatus(ctx context.Context, id int64, status model.OrderStatus) error
}

type Ledger interface {
	CreditForOrders(ctx context.Context, orderIDs []int64) ([]int64, error)
	RecomputeChain(ctx context.Context, shopID int64) error
}

type Notifier interface {
	Send(ctx context.Context, recipient, message string) error
}

type Reconciler struct {
	store     Store
	ledger    Ledger
	notifier  Notifier
	providers *provider.Selector
	limiter   *ratelimit.Limiter
	logger    *zap.SugaredLogger

	batchSize    int
	pollInterval time.Duration
	cooldown     time.Duration
}

func NewReconciler(store Store, ledger Ledger, notifier Notifier, providers *provider.Selector,
	limiter *ratelimit.Limiter, logger *zap.SugaredLogger,
	batchSize int, pollInterval, cooldown time.Duration) *Reconciler {
	return &Reconciler{
		store:        store,
		ledger:       ledger,
		notifier:     notifier,
		providers:    providers,
		limiter:      limiter,
		logger:       logger,
		batchSize:    batchSize,
		pollInterval: pollInterval,
		cooldown:     cooldown,
	}
}

func trackingStatusFor(class provider.Class) model.TrackingStatus {
	switch class {
	case provider.ClassSuccess:
		return model.TrackingCompleted
	case provider.ClassFailure:
		return model.TrackingFailed
	default:
		return model.TrackingProcessing
	}
}

// ApplyExternalStatus is the single funnel both ingress paths call. It
// classifies the raw provider status, no-ops on duplicates, and applies
// terminal transitions together with their ledger and notification effects.
// The one regression allowed: a provider reporting an order still in flight
// overrides a previously applied completion, correcting premature success.
// Returns whether anything changed.
func (r *Reconciler) ApplyExternalStatus(ctx context.Context, providerRef, rawStatus, rawMessage string) (bool, error) {
	tracking, err := r.store.TrackingByProviderRef(ctx, providerRef)
	if err != nil {
		return false, err
	}

	raw := rawStatus
	if raw == "" {
		raw = rawMessage
	}
	computed := trackingStatusFor(provider.Classify(raw))

	if computed == tracking.Status {
		return false, nil
	}

	if tracking.Status == model.TrackingCompleted {
		if computed == model.TrackingProcessing {
			// provider says it is still working on an order we already
			// marked done: its recency wins, revert and keep polling
			r.logger.Warnf("order %d reverted: provider reports %q after completion", tracking.OrderID, rawStatus)
			if err := r.store.UpdateTrackingStatus(ctx, tracking.ID, model.TrackingProcessing, rawMessage); err != nil {
				return false, fmt.Errorf("revert tracking %d: %w", tracking.ID, err)
			}
			if err := r.store.SetOrderStatus(ctx, tracking.OrderID, model.OrderPending); err != nil {
				return false, fmt.Errorf("revert order %d: %w", tracking.OrderID, err)
			}
			return true, nil
		}
		r.logger.Warnf("ignoring %q for completed order %d", rawStatus, tracking.OrderID)
		return false, nil
	}

	if err := r.store.UpdateTrackingStatus(ctx, tracking.ID, computed, rawMessage); err != nil {
		return false, fmt.Errorf("update tracking %d: %w", tracking.ID, err)
	}

	switch computed {
	case model.TrackingCompleted:
		return true, r.applyCompleted(ctx, tracking)
	case model.TrackingFailed:
		return true, r.applyFailed(ctx, tracking, rawMessage)
	default:
		if err := r.store.SetOrderStatus(ctx, tracking.OrderID, model.OrderPending); err != nil {
			return false, fmt.Errorf("set order %d pending: %w", tracking.OrderID, err)
		}
		return true, nil
	}
}

func (r *Reconciler) applyCompleted(ctx context.Context, tracking model.FulfillmentTracking) error {
	if err := r.store.SetOrderStatus(ctx, tracking.OrderID, model.OrderCompleted); err != nil {
		return fmt.Errorf("complete order %d: %w", tracking.OrderID, err)
	}

	shopIDs, err := r.ledger.CreditForOrders(ctx, []int64{tracking.OrderID})
	if err != nil {
		return fmt.Errorf("credit order %d: %w", tracking.OrderID, err)
	}
	for _, shopID := range shopIDs {
		if err := r.ledger.RecomputeChain(ctx, shopID); err != nil {
			r.logger.Errorf("recompute balance chain for shop %d: %v", shopID, err)
		}
	}

	order, err := r.store.GetOrder(ctx, tracking.OrderID)
	if err != nil {
		r.logger.Errorf("load completed order %d: %v", tracking.OrderID, err)
		return nil
	}
	message := fmt.Sprintf("Your %sGB bundle has been delivered to %s.", order.SizeGB, order.Recipient)
	if err := r.notifier.Send(ctx, order.Recipient, message); err != nil {
		r.logger.Warnf("notify completed order %d: %v", order.ID, err)
	}
	return nil
}

func (r *Reconciler) applyFailed(ctx context.Context, tracking model.FulfillmentTracking, rawMessage string) error {
	if err := r.store.SetOrderStatus(ctx, tracking.OrderID, model.OrderFailed); err != nil {
		return fmt.Errorf("fail order %d: %w", tracking.OrderID, err)
	}

	order, err := r.store.GetOrder(ctx, tracking.OrderID)
	if err != nil {
		r.logger.Errorf("load failed order %d: %v", tracking.OrderID, err)
		return nil
	}
	message := "Your data bundle order failed: " + rawMessage
	if err := r.notifier.Send(ctx, order.Recipient, message); err != nil {
		r.logger.Warnf("notify failed order %d: %v", order.ID, err)
	}
	return nil
}
