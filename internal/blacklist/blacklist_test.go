package blacklist

import (
	"context"
	"testing"

	"github.com/kbekoe/databroker/internal/model"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeStore struct {
	entries []model.BlacklistEntry
	orders  map[int64]*model.Order

	failResetFor map[int64]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{orders: make(map[int64]*model.Order), failResetFor: make(map[int64]error)}
}

func matches(phone string, candidates []string) bool {
	for _, c := range candidates {
		if phone == c {
			return true
		}
	}
	return false
}

func (f *fakeStore) BlacklistContains(ctx context.Context, candidates []string) (bool, error) {
	for _, e := range f.entries {
		if matches(e.Phone, candidates) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) AddBlacklistEntries(ctx context.Context, entries []model.BlacklistEntry) error {
	f.entries = append(f.entries, entries...)
	return nil
}

func (f *fakeStore) RemoveBlacklistEntry(ctx context.Context, candidates []string) (int64, error) {
	var kept []model.BlacklistEntry
	var removed int64
	for _, e := range f.entries {
		if matches(e.Phone, candidates) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	f.entries = kept
	return removed, nil
}

func (f *fakeStore) OrdersByRecipient(ctx context.Context, candidates []string, statuses []model.OrderStatus) ([]model.Order, error) {
	var out []model.Order
	for _, o := range f.orders {
		if !matches(o.Recipient, candidates) {
			continue
		}
		for _, s := range statuses {
			if o.Status == s {
				out = append(out, *o)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) SetOrderBlacklistState(ctx context.Context, orderID int64, status model.OrderStatus, queue model.OrderQueue) error {
	if err, ok := f.failResetFor[orderID]; ok {
		return err
	}
	o := f.orders[orderID]
	o.Status = status
	o.Queue = queue
	return nil
}

func (f *fakeStore) BlacklistedOrders(ctx context.Context) ([]model.Order, error) {
	var out []model.Order
	for _, o := range f.orders {
		if o.Status == model.OrderBlacklisted || o.Queue == model.QueueBlacklisted {
			out = append(out, *o)
		}
	}
	return out, nil
}

type noopNotifier struct{ sent int }

func (n *noopNotifier) Send(ctx context.Context, recipient, message string) error {
	n.sent++
	return nil
}

func setupGate(t *testing.T) (*Gate, *fakeStore, *noopNotifier) {
	t.Helper()
	store := newFakeStore()
	notifier := &noopNotifier{}
	return NewGate(store, notifier, zaptest.NewLogger(t).Sugar()), store, notifier
}

func TestCandidates(t *testing.T) {
	cases := []struct {
		phone string
		want  []string
	}{
		{"0551234567", []string{"551234567", "0551234567"}},
		{"551234567", []string{"551234567", "0551234567"}},
		{"055 123 4567", []string{"551234567", "0551234567"}},
		{"+233551234567", []string{"233551234567", "0233551234567"}},
		{"", nil},
		{"abc", nil},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Candidates(tc.phone), "phone=%q", tc.phone)
	}
}

func TestBlacklistMembershipAcrossFormats(t *testing.T) {
	ctx := context.Background()

	// stored with leading zero, queried without, and the other way round
	for _, stored := range []string{"0551234567", "551234567"} {
		for _, queried := range []string{"0551234567", "551234567"} {
			gate, _, _ := setupGate(t)

			_, err := gate.Add(ctx, []string{stored}, "fraud")
			require.NoError(t, err)

			blocked, err := gate.IsBlacklisted(ctx, queried)
			require.NoError(t, err)
			require.True(t, blocked, "stored=%s queried=%s", stored, queried)

			require.NoError(t, gate.Remove(ctx, queried))

			blocked, err = gate.IsBlacklisted(ctx, queried)
			require.NoError(t, err)
			require.False(t, blocked, "stored=%s queried=%s after remove", stored, queried)
		}
	}
}

func TestAddParksInFlightOrders(t *testing.T) {
	gate, store, notifier := setupGate(t)
	ctx := context.Background()

	store.orders[1] = &model.Order{ID: 1, Recipient: "0551234567", Status: model.OrderPending, Queue: model.QueueDefault}
	store.orders[2] = &model.Order{ID: 2, Recipient: "551234567", Status: model.OrderProcessing, Queue: model.QueueDefault}
	store.orders[3] = &model.Order{ID: 3, Recipient: "0551234567", Status: model.OrderCompleted, Queue: model.QueueDefault}

	_, err := gate.Add(ctx, []string{"0551234567"}, "chargeback")
	require.NoError(t, err)

	require.Equal(t, model.OrderBlacklisted, store.orders[1].Status)
	require.Equal(t, model.QueueBlacklisted, store.orders[1].Queue)
	require.Equal(t, model.OrderBlacklisted, store.orders[2].Status)
	// completed orders are left alone
	require.Equal(t, model.OrderCompleted, store.orders[3].Status)
	require.Equal(t, 2, notifier.sent)
}

func TestRemoveResetsParkedOrders(t *testing.T) {
	gate, store, _ := setupGate(t)
	ctx := context.Background()

	store.orders[1] = &model.Order{ID: 1, Recipient: "0551234567", Status: model.OrderPending, Queue: model.QueueDefault}

	_, err := gate.Add(ctx, []string{"0551234567"}, "")
	require.NoError(t, err)
	require.Equal(t, model.OrderBlacklisted, store.orders[1].Status)

	require.NoError(t, gate.Remove(ctx, "551234567"))
	require.Equal(t, model.OrderPending, store.orders[1].Status)
	require.Equal(t, model.QueueDefault, store.orders[1].Queue)

	// the sweep run after a clean removal finds nothing to repair
	fixed, err := gate.FixOrphaned(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, fixed)
}

func TestFixOrphanedRepairsDrift(t *testing.T) {
	gate, store, _ := setupGate(t)
	ctx := context.Background()

	// order left behind by a removal whose reset step failed
	store.orders[7] = &model.Order{ID: 7, Recipient: "0209998888", Status: model.OrderBlacklisted, Queue: model.QueueBlacklisted}
	// order whose phone is still blocked must stay parked
	store.orders[8] = &model.Order{ID: 8, Recipient: "0551234567", Status: model.OrderBlacklisted, Queue: model.QueueBlacklisted}
	store.entries = append(store.entries, model.BlacklistEntry{Phone: "551234567"})

	fixed, err := gate.FixOrphaned(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, fixed)

	require.Equal(t, model.OrderPending, store.orders[7].Status)
	require.Equal(t, model.QueueDefault, store.orders[7].Queue)
	require.Equal(t, model.OrderBlacklisted, store.orders[8].Status)
}
