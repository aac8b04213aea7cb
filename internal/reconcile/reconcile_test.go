package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/kbekoe/databroker/internal/errs"
	"github.com/kbekoe/databroker/internal/mocks"
	"github.com/kbekoe/databroker/internal/model"
	"github.com/kbekoe/databroker/internal/provider"
	"github.com/kbekoe/databroker/internal/ratelimit"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
)

type fakeStore struct {
	trackings map[string]*model.FulfillmentTracking
	orders    map[int64]*model.Order
	events    []model.WebhookEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		trackings: make(map[string]*model.FulfillmentTracking),
		orders:    make(map[int64]*model.Order),
	}
}

func (f *fakeStore) InsertWebhookEvent(ctx context.Context, ev model.WebhookEvent) error {
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeStore) TrackingByProviderRef(ctx context.Context, ref string) (model.FulfillmentTracking, error) {
	t, ok := f.trackings[ref]
	if !ok {
		return model.FulfillmentTracking{}, errs.ErrTrackingNotFound
	}
	return *t, nil
}

func (f *fakeStore) UpdateTrackingStatus(ctx context.Context, id int64, status model.TrackingStatus, message string) error {
	for _, t := range f.trackings {
		if t.ID == id {
			t.Status = status
			t.LastMessage = message
		}
	}
	return nil
}

func (f *fakeStore) OpenTrackings(ctx context.Context, limit int) ([]model.FulfillmentTracking, error) {
	var out []model.FulfillmentTracking
	for _, t := range f.trackings {
		if !t.Status.Terminal() {
			out = append(out, *t)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) GetOrder(ctx context.Context, id int64) (model.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return model.Order{}, errs.ErrOrderNotFound
	}
	return *o, nil
}

func (f *fakeStore) SetOrderStatus(ctx context.Context, id int64, status model.OrderStatus) error {
	f.orders[id].Status = status
	return nil
}

type fakeLedger struct {
	credits    int
	recomputes []int64
}

func (l *fakeLedger) CreditForOrders(ctx context.Context, orderIDs []int64) ([]int64, error) {
	if l.credits > 0 {
		// pending records were already flipped, nothing to credit
		return nil, nil
	}
	l.credits++
	return []int64{10}, nil
}

func (l *fakeLedger) RecomputeChain(ctx context.Context, shopID int64) error {
	l.recomputes = append(l.recomputes, shopID)
	return nil
}

type countNotifier struct{ sent []string }

func (n *countNotifier) Send(ctx context.Context, recipient, message string) error {
	n.sent = append(n.sent, message)
	return nil
}

func setupReconciler(t *testing.T, adapters ...provider.Adapter) (*Reconciler, *fakeStore, *fakeLedger, *countNotifier) {
	t.Helper()
	store := newFakeStore()
	ledger := &fakeLedger{}
	notifier := &countNotifier{}
	sel := provider.NewSelector(fakeSettings{}, adapters)

	rec := NewReconciler(store, ledger, notifier, sel,
		ratelimit.New(time.Millisecond), zaptest.NewLogger(t).Sugar(),
		10, time.Minute, 50*time.Millisecond)
	return rec, store, ledger, notifier
}

type fakeSettings struct{}

func (fakeSettings) GetSetting(ctx context.Context, key string) (string, error) { return "", nil }

func seedTracked(store *fakeStore, ref string, trackingStatus model.TrackingStatus, orderStatus model.OrderStatus) {
	shopID := int64(10)
	store.trackings[ref] = &model.FulfillmentTracking{
		ID: 1, Provider: provider.DatahubName, ProviderRef: ref,
		Status: trackingStatus, OrderID: 100, OrderType: model.OrderTypeShop,
	}
	store.orders[100] = &model.Order{
		ID: 100, ShopID: &shopID, Network: model.NetworkMTN,
		SizeGB: decimal.NewFromInt(1), Recipient: "0551234567",
		PaymentStatus: model.PaymentCompleted, Status: orderStatus, Queue: model.QueueDefault,
	}
}

func TestApplyExternalStatusCompletes(t *testing.T) {
	rec, store, ledger, notifier := setupReconciler(t)
	ctx := context.Background()
	seedTracked(store, "PX1", model.TrackingPending, model.OrderPending)

	applied, err := rec.ApplyExternalStatus(ctx, "PX1", "Order Successful", "delivered")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !applied {
		t.Fatal("expected applied")
	}
	if store.orders[100].Status != model.OrderCompleted {
		t.Errorf("expected order completed, got %s", store.orders[100].Status)
	}
	if store.trackings["PX1"].Status != model.TrackingCompleted {
		t.Errorf("expected tracking completed, got %s", store.trackings["PX1"].Status)
	}
	if ledger.credits != 1 {
		t.Errorf("expected one credit, got %d", ledger.credits)
	}
	if len(ledger.recomputes) != 1 || ledger.recomputes[0] != 10 {
		t.Errorf("expected recompute for shop 10, got %v", ledger.recomputes)
	}
	if len(notifier.sent) != 1 {
		t.Errorf("expected one notification, got %d", len(notifier.sent))
	}
}

func TestApplyTerminalStatusTwiceIsIdempotent(t *testing.T) {
	rec, store, ledger, notifier := setupReconciler(t)
	ctx := context.Background()
	seedTracked(store, "PX1", model.TrackingPending, model.OrderPending)

	// webhook then poll delivering the same terminal signal
	for i := 0; i < 2; i++ {
		if _, err := rec.ApplyExternalStatus(ctx, "PX1", "completed", ""); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}

	if store.orders[100].Status != model.OrderCompleted {
		t.Errorf("expected completed, got %s", store.orders[100].Status)
	}
	if ledger.credits != 1 {
		t.Errorf("credit must happen once, got %d", ledger.credits)
	}
	if len(notifier.sent) != 1 {
		t.Errorf("notification must happen once, got %d", len(notifier.sent))
	}
}

func TestApplyFailureNotifiesWithProviderMessage(t *testing.T) {
	rec, store, ledger, notifier := setupReconciler(t)
	ctx := context.Background()
	seedTracked(store, "PX1", model.TrackingProcessing, model.OrderPending)

	applied, err := rec.ApplyExternalStatus(ctx, "PX1", "FAILED", "number barred by network")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !applied {
		t.Fatal("expected applied")
	}
	if store.orders[100].Status != model.OrderFailed {
		t.Errorf("expected failed, got %s", store.orders[100].Status)
	}
	if ledger.credits != 0 {
		t.Error("failure must never credit profit")
	}
	if len(notifier.sent) != 1 || notifier.sent[0] != "Your data bundle order failed: number barred by network" {
		t.Errorf("unexpected notifications: %v", notifier.sent)
	}
}

func TestRevertOnRegression(t *testing.T) {
	rec, store, _, _ := setupReconciler(t)
	ctx := context.Background()
	seedTracked(store, "PX1", model.TrackingCompleted, model.OrderCompleted)

	applied, err := rec.ApplyExternalStatus(ctx, "PX1", "pending", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !applied {
		t.Fatal("expected applied")
	}
	if store.orders[100].Status != model.OrderPending {
		t.Errorf("expected order reverted to pending, got %s", store.orders[100].Status)
	}
	if store.trackings["PX1"].Status != model.TrackingProcessing {
		t.Errorf("expected tracking reopened, got %s", store.trackings["PX1"].Status)
	}
}

func TestCompletedNeverFlipsToFailed(t *testing.T) {
	rec, store, _, notifier := setupReconciler(t)
	ctx := context.Background()
	seedTracked(store, "PX1", model.TrackingCompleted, model.OrderCompleted)

	applied, err := rec.ApplyExternalStatus(ctx, "PX1", "failed", "late failure")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied {
		t.Error("late failure after completion must be ignored")
	}
	if store.orders[100].Status != model.OrderCompleted {
		t.Errorf("expected completed, got %s", store.orders[100].Status)
	}
	if len(notifier.sent) != 0 {
		t.Error("no notification expected")
	}
}

func TestUnknownReferenceError(t *testing.T) {
	rec, _, _, _ := setupReconciler(t)

	_, err := rec.ApplyExternalStatus(context.Background(), "GHOST", "completed", "")
	if !errors.Is(err, errs.ErrTrackingNotFound) {
		t.Fatalf("expected ErrTrackingNotFound, got %v", err)
	}
}

func TestPollBatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter := mocks.NewMockAdapter(ctrl)
	adapter.EXPECT().Name().Return(provider.DatahubName).AnyTimes()

	rec, store, _, _ := setupReconciler(t, adapter)
	ctx := context.Background()

	seedTracked(store, "PX1", model.TrackingPending, model.OrderPending)
	shopID := int64(10)
	store.trackings["PX2"] = &model.FulfillmentTracking{
		ID: 2, Provider: provider.DatahubName, ProviderRef: "PX2",
		Status: model.TrackingProcessing, OrderID: 101, OrderType: model.OrderTypeShop,
	}
	store.orders[101] = &model.Order{
		ID: 101, ShopID: &shopID, Network: model.NetworkMTN,
		SizeGB: decimal.NewFromInt(2), Recipient: "0551234568",
		PaymentStatus: model.PaymentCompleted, Status: model.OrderPending, Queue: model.QueueDefault,
	}

	adapter.EXPECT().
		CheckStatus(gomock.Any(), "PX1").
		Return(provider.StatusResult{Success: true, RawStatus: "delivered"}, nil)
	adapter.EXPECT().
		CheckStatus(gomock.Any(), "PX2").
		Return(provider.StatusResult{}, errors.New("connection reset"))

	summary := rec.PollBatch(ctx)

	if summary.Checked != 2 {
		t.Errorf("expected 2 checked, got %d", summary.Checked)
	}
	if summary.Synced != 1 {
		t.Errorf("expected 1 synced, got %d", summary.Synced)
	}
	if summary.Failed != 1 {
		t.Errorf("expected 1 failed, got %d", summary.Failed)
	}
	if store.orders[100].Status != model.OrderCompleted {
		t.Errorf("expected order 100 completed, got %s", store.orders[100].Status)
	}
	// the failed row stays open for the next cycle
	if store.trackings["PX2"].Status != model.TrackingProcessing {
		t.Errorf("expected PX2 untouched, got %s", store.trackings["PX2"].Status)
	}
}

func TestPollBatchRateLimitCooldown(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter := mocks.NewMockAdapter(ctrl)
	adapter.EXPECT().Name().Return(provider.DatahubName).AnyTimes()

	rec, store, _, _ := setupReconciler(t, adapter)
	ctx := context.Background()
	seedTracked(store, "PX1", model.TrackingPending, model.OrderPending)

	adapter.EXPECT().
		CheckStatus(gomock.Any(), "PX1").
		Return(provider.StatusResult{}, errs.ErrRateLimited)

	summary := rec.PollBatch(ctx)

	if summary.RateLimited != 1 {
		t.Errorf("expected 1 rate limited, got %d", summary.RateLimited)
	}
	if !rec.limiter.CoolingDown(provider.DatahubName) {
		t.Error("expected provider in cooldown after 429")
	}
	if store.orders[100].Status != model.OrderPending {
		t.Errorf("order must stay pending, got %s", store.orders[100].Status)
	}
}
