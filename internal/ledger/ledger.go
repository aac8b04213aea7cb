// Package ledger owns profit records and the materialized per-shop balance.
// The balance row is never patched in place: every change that can affect
// credited or withdrawn totals triggers a full refold of the profit and
// withdrawal history.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kbekoe/databroker/internal/errs"
	"github.com/kbekoe/databroker/internal/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const pageSize = 500

type Store interface {
	InsertProfitRecord(ctx context.Context, rec model.ProfitRecord) error
	CreditProfitRecords(ctx context.Context, orderIDs []int64) ([]int64, error)
	ProfitRecordsPage(ctx context.Context, shopID, afterID int64, limit int) ([]model.ProfitRecord, error)
	MarkProfitWithdrawn(ctx context.Context, shopID int64, amount decimal.Decimal) error

	GetWithdrawal(ctx context.Context, id int64) (model.WithdrawalRequest, error)
	SetWithdrawalStatus(ctx context.Context, id int64, status model.WithdrawalStatus) error
	ApprovedWithdrawalsSum(ctx context.Context, shopID int64) (decimal.Decimal, error)

	ReplaceBalance(ctx context.Context, balance model.AvailableBalance) error

	ListShopIDs(ctx context.Context) ([]int64, error)
	ShopParent(ctx context.Context, shopID int64) (*int64, error)
	ParentProfitSum(ctx context.Context, shopID int64) (decimal.Decimal, error)
}

type Engine struct {
	store  Store
	logger *zap.SugaredLogger
}

func NewEngine(store Store, logger *zap.SugaredLogger) *Engine {
	return &Engine{store: store, logger: logger}
}

// CreateProfitRecord inserts the pending ledger entry for a freshly paid
// order. Direct orders carry no shop and produce no entry. Balance is not
// recomputed here: pending profit is informational until credited.
func (e *Engine) CreateProfitRecord(ctx context.Context, order model.Order) error {
	if order.Direct() {
		return nil
	}

	rec := model.ProfitRecord{
		ShopID:  *order.ShopID,
		OrderID: order.ID,
		Amount:  order.Profit,
		Status:  model.ProfitPending,
	}
	if err := e.store.InsertProfitRecord(ctx, rec); err != nil {
		return fmt.Errorf("insert profit record: %w", err)
	}
	return nil
}

// CreditForOrders flips pending records for the given orders to credited and
// returns the shops whose balances now need recomputing. Records already
// credited are untouched, so a duplicate completion signal is a no-op.
func (e *Engine) CreditForOrders(ctx context.Context, orderIDs []int64) ([]int64, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}

	shopIDs, err := e.store.CreditProfitRecords(ctx, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("credit profit records: %w", err)
	}
	return shopIDs, nil
}

// RecomputeBalance rebuilds a shop's materialized balance from scratch:
// every profit record is paged through and folded by status, approved
// withdrawals are summed, and the stored row is replaced wholesale.
// Credited here means lifetime credited (credited plus withdrawn records);
// available is what remains after approved withdrawals, floored at zero.
func (e *Engine) RecomputeBalance(ctx context.Context, shopID int64) (model.AvailableBalance, error) {
	var total, credited, pending decimal.Decimal

	var afterID int64
	for {
		page, err := e.store.ProfitRecordsPage(ctx, shopID, afterID, pageSize)
		if err != nil {
			return model.AvailableBalance{}, fmt.Errorf("page profit records: %w", err)
		}
		for _, rec := range page {
			total = total.Add(rec.Amount)
			switch rec.Status {
			case model.ProfitCredited, model.ProfitWithdrawn:
				credited = credited.Add(rec.Amount)
			case model.ProfitPending:
				pending = pending.Add(rec.Amount)
			}
			afterID = rec.ID
		}
		if len(page) < pageSize {
			break
		}
	}

	withdrawn, err := e.store.ApprovedWithdrawalsSum(ctx, shopID)
	if err != nil {
		return model.AvailableBalance{}, fmt.Errorf("sum approved withdrawals: %w", err)
	}

	available := credited.Sub(withdrawn)
	if available.IsNegative() {
		available = decimal.Zero
	}

	balance := model.AvailableBalance{
		ShopID:     shopID,
		Total:      total,
		Credited:   credited,
		Withdrawn:  withdrawn,
		Pending:    pending,
		Available:  available,
		ComputedAt: time.Now().UTC(),
	}

	if err := e.store.ReplaceBalance(ctx, balance); err != nil {
		return model.AvailableBalance{}, fmt.Errorf("replace balance: %w", err)
	}
	return balance, nil
}

// RecomputeChain recomputes a shop's balance and then walks up the parent
// chain recomputing each ancestor. The walk is bounded to guard against a
// parent cycle introduced by bad data.
func (e *Engine) RecomputeChain(ctx context.Context, shopID int64) error {
	current := shopID
	for depth := 0; depth < 16; depth++ {
		if _, err := e.RecomputeBalance(ctx, current); err != nil {
			return fmt.Errorf("recompute shop %d: %w", current, err)
		}

		parent, err := e.store.ShopParent(ctx, current)
		if err != nil {
			if errors.Is(err, errs.ErrShopNotFound) {
				return nil
			}
			return fmt.Errorf("lookup parent of shop %d: %w", current, err)
		}
		if parent == nil {
			return nil
		}
		current = *parent
	}
	e.logger.Warnf("parent chain for shop %d exceeds depth limit, stopping", shopID)
	return nil
}

// ApproveWithdrawal marks the request approved, moves credited records to
// withdrawn oldest-first until the amount is covered, and refolds the
// balance with the withdrawal now counted.
func (e *Engine) ApproveWithdrawal(ctx context.Context, withdrawalID int64) error {
	w, err := e.store.GetWithdrawal(ctx, withdrawalID)
	if err != nil {
		return fmt.Errorf("get withdrawal: %w", err)
	}
	if w.Status != model.WithdrawalPending {
		return errs.ErrWithdrawalNotPending
	}

	if err := e.store.SetWithdrawalStatus(ctx, withdrawalID, model.WithdrawalApproved); err != nil {
		return fmt.Errorf("approve withdrawal: %w", err)
	}
	if err := e.store.MarkProfitWithdrawn(ctx, w.ShopID, w.Amount); err != nil {
		// records stay credited; the fold treats both the same, only the
		// per-record bookkeeping drifted
		e.logger.Errorf("mark profit withdrawn for shop %d: %v", w.ShopID, err)
	}

	if _, err := e.RecomputeBalance(ctx, w.ShopID); err != nil {
		return err
	}
	return nil
}

// RejectWithdrawal marks the request rejected and refolds with it excluded,
// restoring the shop's available balance.
func (e *Engine) RejectWithdrawal(ctx context.Context, withdrawalID int64) error {
	w, err := e.store.GetWithdrawal(ctx, withdrawalID)
	if err != nil {
		return fmt.Errorf("get withdrawal: %w", err)
	}
	if w.Status != model.WithdrawalPending {
		return errs.ErrWithdrawalNotPending
	}

	if err := e.store.SetWithdrawalStatus(ctx, withdrawalID, model.WithdrawalRejected); err != nil {
		return fmt.Errorf("reject withdrawal: %w", err)
	}

	if _, err := e.RecomputeBalance(ctx, w.ShopID); err != nil {
		return err
	}
	return nil
}

type ResyncSummary struct {
	Synced int              `json:"synced"`
	Failed int              `json:"failed"`
	Errors map[int64]string `json:"errors,omitempty"`
}

// ResyncAll refolds every shop's balance. It is the repair mechanism for the
// known race between concurrent recomputes and safe to run at any time.
func (e *Engine) ResyncAll(ctx context.Context) (ResyncSummary, error) {
	shopIDs, err := e.store.ListShopIDs(ctx)
	if err != nil {
		return ResyncSummary{}, fmt.Errorf("list shops: %w", err)
	}

	summary := ResyncSummary{Errors: make(map[int64]string)}
	for _, id := range shopIDs {
		if _, err := e.RecomputeBalance(ctx, id); err != nil {
			e.logger.Errorf("resync shop %d: %v", id, err)
			summary.Failed++
			summary.Errors[id] = err.Error()
			continue
		}
		summary.Synced++
	}
	return summary, nil
}

// ParentEarnings sums the parent-profit amounts recorded directly on
// sub-agent orders for the given parent shop. These earnings are a derived
// aggregate, not ledger entries, and never enter RecomputeBalance.
func (e *Engine) ParentEarnings(ctx context.Context, shopID int64) (decimal.Decimal, error) {
	sum, err := e.store.ParentProfitSum(ctx, shopID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum parent profit: %w", err)
	}
	return sum, nil
}
