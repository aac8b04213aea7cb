package ledger

import (
	"context"
	"sort"
	"testing"

	"github.com/kbekoe/databroker/internal/errs"
	"github.com/kbekoe/databroker/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeStore struct {
	nextID      int64
	records     []*model.ProfitRecord
	withdrawals map[int64]*model.WithdrawalRequest
	balances    map[int64]model.AvailableBalance
	parents     map[int64]*int64
	shops       []int64
	parentProf  map[int64]decimal.Decimal

	replaceCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		withdrawals: make(map[int64]*model.WithdrawalRequest),
		balances:    make(map[int64]model.AvailableBalance),
		parents:     make(map[int64]*int64),
		parentProf:  make(map[int64]decimal.Decimal),
	}
}

func (f *fakeStore) InsertProfitRecord(ctx context.Context, rec model.ProfitRecord) error {
	f.nextID++
	rec.ID = f.nextID
	f.records = append(f.records, &rec)
	return nil
}

func (f *fakeStore) CreditProfitRecords(ctx context.Context, orderIDs []int64) ([]int64, error) {
	var shopIDs []int64
	for _, rec := range f.records {
		for _, id := range orderIDs {
			if rec.OrderID == id && rec.Status == model.ProfitPending {
				rec.Status = model.ProfitCredited
				shopIDs = append(shopIDs, rec.ShopID)
			}
		}
	}
	return shopIDs, nil
}

func (f *fakeStore) ProfitRecordsPage(ctx context.Context, shopID, afterID int64, limit int) ([]model.ProfitRecord, error) {
	var page []model.ProfitRecord
	sorted := make([]*model.ProfitRecord, len(f.records))
	copy(sorted, f.records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for _, rec := range sorted {
		if rec.ShopID != shopID || rec.ID <= afterID {
			continue
		}
		page = append(page, *rec)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

func (f *fakeStore) MarkProfitWithdrawn(ctx context.Context, shopID int64, amount decimal.Decimal) error {
	covered := decimal.Zero
	for _, rec := range f.records {
		if covered.GreaterThanOrEqual(amount) {
			break
		}
		if rec.ShopID == shopID && rec.Status == model.ProfitCredited {
			rec.Status = model.ProfitWithdrawn
			covered = covered.Add(rec.Amount)
		}
	}
	return nil
}

func (f *fakeStore) GetWithdrawal(ctx context.Context, id int64) (model.WithdrawalRequest, error) {
	w, ok := f.withdrawals[id]
	if !ok {
		return model.WithdrawalRequest{}, errs.ErrWithdrawalNotFound
	}
	return *w, nil
}

func (f *fakeStore) SetWithdrawalStatus(ctx context.Context, id int64, status model.WithdrawalStatus) error {
	f.withdrawals[id].Status = status
	return nil
}

func (f *fakeStore) ApprovedWithdrawalsSum(ctx context.Context, shopID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, w := range f.withdrawals {
		if w.ShopID == shopID && w.Status == model.WithdrawalApproved {
			sum = sum.Add(w.Amount)
		}
	}
	return sum, nil
}

func (f *fakeStore) ReplaceBalance(ctx context.Context, balance model.AvailableBalance) error {
	f.replaceCalls++
	f.balances[balance.ShopID] = balance
	return nil
}

func (f *fakeStore) ListShopIDs(ctx context.Context) ([]int64, error) {
	return f.shops, nil
}

func (f *fakeStore) ShopParent(ctx context.Context, shopID int64) (*int64, error) {
	return f.parents[shopID], nil
}

func (f *fakeStore) ParentProfitSum(ctx context.Context, shopID int64) (decimal.Decimal, error) {
	return f.parentProf[shopID], nil
}

func setupEngine(t *testing.T) (*Engine, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	return NewEngine(store, zaptest.NewLogger(t).Sugar()), store
}

func shopOrder(id, shopID int64, profit string) model.Order {
	return model.Order{ID: id, ShopID: &shopID, Profit: decimal.RequireFromString(profit)}
}

func TestCreateProfitRecordSkipsDirectOrders(t *testing.T) {
	engine, store := setupEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.CreateProfitRecord(ctx, model.Order{ID: 1, Profit: decimal.NewFromInt(5)}))
	require.Empty(t, store.records)

	require.NoError(t, engine.CreateProfitRecord(ctx, shopOrder(2, 10, "5")))
	require.Len(t, store.records, 1)
	require.Equal(t, model.ProfitPending, store.records[0].Status)
}

func TestCreditForOrdersIsIdempotent(t *testing.T) {
	engine, store := setupEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.CreateProfitRecord(ctx, shopOrder(1, 10, "2.50")))

	shopIDs, err := engine.CreditForOrders(ctx, []int64{1})
	require.NoError(t, err)
	require.Equal(t, []int64{10}, shopIDs)
	require.Equal(t, model.ProfitCredited, store.records[0].Status)

	// second signal for the same order credits nothing
	shopIDs, err = engine.CreditForOrders(ctx, []int64{1})
	require.NoError(t, err)
	require.Empty(t, shopIDs)
}

func TestRecomputeBalanceFold(t *testing.T) {
	engine, _ := setupEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.CreateProfitRecord(ctx, shopOrder(1, 10, "3")))
	require.NoError(t, engine.CreateProfitRecord(ctx, shopOrder(2, 10, "4")))
	require.NoError(t, engine.CreateProfitRecord(ctx, shopOrder(3, 10, "5")))
	_, err := engine.CreditForOrders(ctx, []int64{1, 2})
	require.NoError(t, err)

	balance, err := engine.RecomputeBalance(ctx, 10)
	require.NoError(t, err)

	require.True(t, balance.Total.Equal(decimal.NewFromInt(12)), "total %s", balance.Total)
	require.True(t, balance.Credited.Equal(decimal.NewFromInt(7)), "credited %s", balance.Credited)
	require.True(t, balance.Pending.Equal(decimal.NewFromInt(5)), "pending %s", balance.Pending)
	require.True(t, balance.Available.Equal(decimal.NewFromInt(7)), "available %s", balance.Available)
}

func TestRecomputeBalanceDeterministic(t *testing.T) {
	engine, store := setupEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.CreateProfitRecord(ctx, shopOrder(1, 10, "3.33")))
	_, err := engine.CreditForOrders(ctx, []int64{1})
	require.NoError(t, err)

	first, err := engine.RecomputeBalance(ctx, 10)
	require.NoError(t, err)
	second, err := engine.RecomputeBalance(ctx, 10)
	require.NoError(t, err)

	first.ComputedAt = second.ComputedAt
	require.Equal(t, first, second)
	require.Equal(t, 2, store.replaceCalls)
}

func TestAvailableInvariantAcrossEventSequences(t *testing.T) {
	engine, store := setupEngine(t)
	ctx := context.Background()

	// three completed orders, one approved withdrawal, one rejected
	require.NoError(t, engine.CreateProfitRecord(ctx, shopOrder(1, 10, "10")))
	require.NoError(t, engine.CreateProfitRecord(ctx, shopOrder(2, 10, "20")))
	require.NoError(t, engine.CreateProfitRecord(ctx, shopOrder(3, 10, "30")))
	_, err := engine.CreditForOrders(ctx, []int64{1, 2, 3})
	require.NoError(t, err)

	store.withdrawals[1] = &model.WithdrawalRequest{ID: 1, ShopID: 10, Amount: decimal.NewFromInt(25), Status: model.WithdrawalPending}
	store.withdrawals[2] = &model.WithdrawalRequest{ID: 2, ShopID: 10, Amount: decimal.NewFromInt(100), Status: model.WithdrawalPending}

	require.NoError(t, engine.ApproveWithdrawal(ctx, 1))
	require.NoError(t, engine.RejectWithdrawal(ctx, 2))

	balance := store.balances[10]
	require.True(t, balance.Credited.Equal(decimal.NewFromInt(60)), "credited %s", balance.Credited)
	require.True(t, balance.Withdrawn.Equal(decimal.NewFromInt(25)), "withdrawn %s", balance.Withdrawn)
	require.True(t, balance.Available.Equal(decimal.NewFromInt(35)), "available %s", balance.Available)

	// over-withdrawal floors at zero rather than going negative
	store.withdrawals[3] = &model.WithdrawalRequest{ID: 3, ShopID: 10, Amount: decimal.NewFromInt(1000), Status: model.WithdrawalPending}
	require.NoError(t, engine.ApproveWithdrawal(ctx, 3))
	require.True(t, store.balances[10].Available.IsZero(), "available %s", store.balances[10].Available)
}

func TestApproveWithdrawalTwiceRejected(t *testing.T) {
	engine, store := setupEngine(t)
	ctx := context.Background()

	store.withdrawals[1] = &model.WithdrawalRequest{ID: 1, ShopID: 10, Amount: decimal.NewFromInt(5), Status: model.WithdrawalPending}
	require.NoError(t, engine.ApproveWithdrawal(ctx, 1))
	require.ErrorIs(t, engine.ApproveWithdrawal(ctx, 1), errs.ErrWithdrawalNotPending)
}

func TestRecomputeChainWalksAncestors(t *testing.T) {
	engine, store := setupEngine(t)
	ctx := context.Background()

	parent := int64(1)
	grandparent := int64(2)
	store.parents[10] = &parent
	store.parents[1] = &grandparent

	require.NoError(t, engine.RecomputeChain(ctx, 10))

	for _, id := range []int64{10, 1, 2} {
		if _, ok := store.balances[id]; !ok {
			t.Errorf("expected balance recomputed for shop %d", id)
		}
	}
}

func TestResyncAll(t *testing.T) {
	engine, store := setupEngine(t)
	ctx := context.Background()

	store.shops = []int64{1, 2, 3}
	summary, err := engine.ResyncAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, summary.Synced)
	require.Equal(t, 0, summary.Failed)
}

func TestParentEarningsStayOutOfBalance(t *testing.T) {
	engine, store := setupEngine(t)
	ctx := context.Background()

	store.parentProf[1] = decimal.NewFromInt(42)

	earnings, err := engine.ParentEarnings(ctx, 1)
	require.NoError(t, err)
	require.True(t, earnings.Equal(decimal.NewFromInt(42)))

	// the aggregate never shows up in the materialized balance
	balance, err := engine.RecomputeBalance(ctx, 1)
	require.NoError(t, err)
	require.True(t, balance.Total.IsZero())
	require.True(t, balance.Available.IsZero())
}

func TestRecomputeBalancePagination(t *testing.T) {
	engine, _ := setupEngine(t)
	ctx := context.Background()

	for i := 0; i < pageSize+7; i++ {
		require.NoError(t, engine.CreateProfitRecord(ctx, shopOrder(int64(i+1), 10, "1")))
	}
	orderIDs := make([]int64, 0, pageSize+7)
	for i := 0; i < pageSize+7; i++ {
		orderIDs = append(orderIDs, int64(i+1))
	}
	_, err := engine.CreditForOrders(ctx, orderIDs)
	require.NoError(t, err)

	balance, err := engine.RecomputeBalance(ctx, 10)
	require.NoError(t, err)
	require.True(t, balance.Credited.Equal(decimal.NewFromInt(int64(pageSize+7))), "credited %s", balance.Credited)
}
