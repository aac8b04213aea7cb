// Package fulfill decides how a paid order gets fulfilled: submitted to the
// active provider adapter, queued for a manual operator, or left to the
// dedicated external service for non-provider networks.
package fulfill

import (
	"context"
	"errors"
	"fmt"

	"github.com/kbekoe/databroker/internal/errs"
	"github.com/kbekoe/databroker/internal/model"
	"github.com/kbekoe/databroker/internal/provider"
	"go.uber.org/zap"
)

// AutoFulfillKey is the persisted runtime flag gating automatic submission
// of provider-backed orders. Unset means enabled.
const AutoFulfillKey = "auto_fulfill_mtn"

const (
	MethodAuto   = "auto_provider"
	MethodManual = "manual"
	MethodNone   = "none"
)

type Store interface {
	GetOrder(ctx context.Context, id int64) (model.Order, error)
	MarkOrderPaid(ctx context.Context, id int64) (bool, error)
	SetOrderStatus(ctx context.Context, id int64, status model.OrderStatus) error
	SetOrderBlacklistState(ctx context.Context, orderID int64, status model.OrderStatus, queue model.OrderQueue) error
	SetOrderProviderRef(ctx context.Context, id int64, ref string) error
	CreateTracking(ctx context.Context, tracking model.FulfillmentTracking) error
	HasOpenTracking(ctx context.Context, orderID int64) (bool, error)
	OrdersAwaitingManual(ctx context.Context) ([]model.Order, error)
	FulfillableOrders(ctx context.Context, limit int) ([]model.Order, error)
	GetSetting(ctx context.Context, key string) (string, error)
}

type Gate interface {
	IsBlacklisted(ctx context.Context, phone string) (bool, error)
}

type Ledger interface {
	CreateProfitRecord(ctx context.Context, order model.Order) error
}

type Notifier interface {
	Send(ctx context.Context, recipient, message string) error
}

type Outcome struct {
	Success     bool   `json:"success"`
	Method      string `json:"method"`
	ProviderRef string `json:"provider_ref,omitempty"`
	Message     string `json:"message,omitempty"`
}

type Router struct {
	store     Store
	providers *provider.Selector
	gate      Gate
	ledger    Ledger
	notifier  Notifier
	logger    *zap.SugaredLogger
}

func NewRouter(store Store, providers *provider.Selector, gate Gate, ledger Ledger, notifier Notifier, logger *zap.SugaredLogger) *Router {
	return &Router{
		store:     store,
		providers: providers,
		gate:      gate,
		ledger:    ledger,
		notifier:  notifier,
		logger:    logger,
	}
}

// HandlePaid is the pipeline head end, invoked by the payment-verification
// collaborator. The paid flip is guarded so a duplicate callback is rejected
// before any profit record or submission happens.
func (r *Router) HandlePaid(ctx context.Context, orderID int64) (Outcome, error) {
	flipped, err := r.store.MarkOrderPaid(ctx, orderID)
	if err != nil {
		return Outcome{}, fmt.Errorf("mark order paid: %w", err)
	}
	if !flipped {
		return Outcome{}, errs.ErrAlreadyPaid
	}

	order, err := r.store.GetOrder(ctx, orderID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load order: %w", err)
	}

	if err := r.ledger.CreateProfitRecord(ctx, order); err != nil {
		return Outcome{}, err
	}

	blocked, err := r.gate.IsBlacklisted(ctx, order.Recipient)
	if err != nil {
		return Outcome{}, fmt.Errorf("blacklist check: %w", err)
	}
	if blocked {
		if err := r.store.SetOrderBlacklistState(ctx, order.ID, model.OrderBlacklisted, model.QueueBlacklisted); err != nil {
			return Outcome{}, fmt.Errorf("park blacklisted order: %w", err)
		}
		if err := r.notifier.Send(ctx, order.Recipient, "Your data bundle order is on hold. Contact support."); err != nil {
			r.logger.Warnf("notify blacklisted order %d: %v", order.ID, err)
		}
		return Outcome{Success: false, Method: MethodNone, Message: "recipient blacklisted"}, nil
	}

	return r.ProcessOrder(ctx, order)
}

// ProcessOrder applies the routing decision table to a paid order. The
// idempotency guard is a status check plus the open-tracking invariant, not
// a lock: a second invocation while the first submission is in flight is
// rejected.
func (r *Router) ProcessOrder(ctx context.Context, order model.Order) (Outcome, error) {
	if !order.Network.ProviderBacked() {
		// fulfilled by the dedicated external service for that network
		return Outcome{Success: true, Method: MethodNone}, nil
	}

	if order.PaymentStatus != model.PaymentCompleted {
		return Outcome{}, errs.ErrOrderNotFulfillable
	}
	if order.Status != model.OrderPending || order.Queue != model.QueueDefault {
		return Outcome{}, errs.ErrAlreadySubmitted
	}
	open, err := r.store.HasOpenTracking(ctx, order.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("check open tracking: %w", err)
	}
	if open {
		return Outcome{}, errs.ErrAlreadySubmitted
	}

	flag, err := r.store.GetSetting(ctx, AutoFulfillKey)
	if err != nil {
		return Outcome{}, fmt.Errorf("read auto-fulfill flag: %w", err)
	}
	if flag == "off" {
		if err := r.store.SetOrderStatus(ctx, order.ID, model.OrderPendingDownload); err != nil {
			return Outcome{}, fmt.Errorf("queue for manual fulfillment: %w", err)
		}
		return Outcome{Success: true, Method: MethodManual}, nil
	}

	return r.submit(ctx, order)
}

// ManualFulfill is the operator-triggered path for orders parked while the
// auto-fulfill flag was off.
func (r *Router) ManualFulfill(ctx context.Context, orderID int64) (Outcome, error) {
	order, err := r.store.GetOrder(ctx, orderID)
	if err != nil {
		return Outcome{}, err
	}
	if order.Status != model.OrderPendingDownload {
		return Outcome{}, errs.ErrOrderNotFulfillable
	}

	open, err := r.store.HasOpenTracking(ctx, order.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("check open tracking: %w", err)
	}
	if open {
		return Outcome{}, errs.ErrAlreadySubmitted
	}

	return r.submit(ctx, order)
}

func (r *Router) submit(ctx context.Context, order model.Order) (Outcome, error) {
	adapter, err := r.providers.ActiveMTN(ctx)
	if err != nil {
		return Outcome{}, err
	}

	result, err := adapter.PlaceOrder(ctx, order.Recipient, order.Network, order.SizeGB)
	if err != nil {
		// transport failure: the order keeps its current status and the
		// next cycle retries
		return Outcome{}, fmt.Errorf("place order %d with %s: %w", order.ID, adapter.Name(), err)
	}

	if !result.Success {
		if err := r.store.SetOrderStatus(ctx, order.ID, model.OrderFailed); err != nil {
			return Outcome{}, fmt.Errorf("mark order %d failed: %w", order.ID, err)
		}
		if err := r.notifier.Send(ctx, order.Recipient, "Your data bundle order could not be placed: "+result.Message); err != nil {
			r.logger.Warnf("notify failed order %d: %v", order.ID, err)
		}
		return Outcome{Success: false, Method: MethodAuto, Message: result.Message}, nil
	}

	orderType := model.OrderTypeShop
	if order.Direct() {
		orderType = model.OrderTypeDirect
	}
	tracking := model.FulfillmentTracking{
		Provider:    adapter.Name(),
		ProviderRef: result.ProviderRef,
		Status:      model.TrackingPending,
		LastMessage: result.Message,
		OrderID:     order.ID,
		OrderType:   orderType,
	}
	if err := r.store.CreateTracking(ctx, tracking); err != nil {
		return Outcome{}, fmt.Errorf("create tracking for order %d: %w", order.ID, err)
	}
	if err := r.store.SetOrderProviderRef(ctx, order.ID, result.ProviderRef); err != nil {
		return Outcome{}, fmt.Errorf("store provider ref on order %d: %w", order.ID, err)
	}
	if err := r.store.SetOrderStatus(ctx, order.ID, model.OrderPending); err != nil {
		return Outcome{}, fmt.Errorf("set order %d pending: %w", order.ID, err)
	}

	return Outcome{Success: true, Method: MethodAuto, ProviderRef: result.ProviderRef}, nil
}

type SweepSummary struct {
	Checked   int `json:"checked"`
	Submitted int `json:"submitted"`
	Queued    int `json:"queued"`
	Failed    int `json:"failed"`
}

// SweepUnsubmitted re-routes paid provider-backed orders sitting in the
// default queue with no open tracking: orders released from the blacklist,
// and orders whose submission died on a transport error. Orders are
// independent; a rejection means another path got there first and is not
// counted as a failure. The open-tracking guard keeps overlapping sweeps
// idempotent.
func (r *Router) SweepUnsubmitted(ctx context.Context, limit int) (SweepSummary, error) {
	var summary SweepSummary

	orders, err := r.store.FulfillableOrders(ctx, limit)
	if err != nil {
		return summary, fmt.Errorf("select fulfillable orders: %w", err)
	}

	for _, order := range orders {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Checked++

		outcome, err := r.ProcessOrder(ctx, order)
		if err != nil {
			if IsRejection(err) {
				continue
			}
			r.logger.Errorf("sweep submit order %d: %v", order.ID, err)
			summary.Failed++
			continue
		}

		switch {
		case outcome.Method == MethodManual:
			summary.Queued++
		case outcome.Success:
			summary.Submitted++
		default:
			summary.Failed++
		}
	}

	return summary, nil
}

// AwaitingManual lists orders parked for operator action. They stay listed
// indefinitely until acted on.
func (r *Router) AwaitingManual(ctx context.Context) ([]model.Order, error) {
	orders, err := r.store.OrdersAwaitingManual(ctx)
	if err != nil {
		return nil, fmt.Errorf("list manual orders: %w", err)
	}
	return orders, nil
}

// IsRejection reports whether err is one of the expected routing rejections
// rather than an internal failure, so handlers can map it to a 4xx.
func IsRejection(err error) bool {
	return errors.Is(err, errs.ErrAlreadyPaid) ||
		errors.Is(err, errs.ErrAlreadySubmitted) ||
		errors.Is(err, errs.ErrOrderNotFulfillable)
}
