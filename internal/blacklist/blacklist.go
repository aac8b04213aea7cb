// Package blacklist intercepts orders for blocked phone numbers before they
// reach a provider.
package blacklist

import (
	"context"
	"fmt"
	"strings"

	"github.com/kbekoe/databroker/internal/model"
	"go.uber.org/zap"
)

type Store interface {
	BlacklistContains(ctx context.Context, candidates []string) (bool, error)
	AddBlacklistEntries(ctx context.Context, entries []model.BlacklistEntry) error
	RemoveBlacklistEntry(ctx context.Context, candidates []string) (int64, error)
	OrdersByRecipient(ctx context.Context, candidates []string, statuses []model.OrderStatus) ([]model.Order, error)
	SetOrderBlacklistState(ctx context.Context, orderID int64, status model.OrderStatus, queue model.OrderQueue) error
	BlacklistedOrders(ctx context.Context) ([]model.Order, error)
}

type Notifier interface {
	Send(ctx context.Context, recipient, message string) error
}

type Gate struct {
	store    Store
	notifier Notifier
	logger   *zap.SugaredLogger
}

func NewGate(store Store, notifier Notifier, logger *zap.SugaredLogger) *Gate {
	return &Gate{store: store, notifier: notifier, logger: logger}
}

// Candidates normalizes a phone number into both canonical digit forms: with
// and without the leading zero. Historical entries were inserted in either
// format, so membership checks must try both.
func Candidates(phone string) []string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}

	d := digits.String()
	if d == "" {
		return nil
	}

	if strings.HasPrefix(d, "0") {
		bare := strings.TrimLeft(d, "0")
		if bare == "" {
			return []string{d}
		}
		return []string{bare, "0" + bare}
	}
	return []string{d, "0" + d}
}

func (g *Gate) IsBlacklisted(ctx context.Context, phone string) (bool, error) {
	candidates := Candidates(phone)
	if len(candidates) == 0 {
		return false, nil
	}

	found, err := g.store.BlacklistContains(ctx, candidates)
	if err != nil {
		return false, fmt.Errorf("blacklist lookup: %w", err)
	}
	return found, nil
}

// Add inserts entries for each phone and parks any in-flight orders for those
// phones in the blacklisted status and queue. Phones are stored as given, not
// normalized, matching how historical data was written.
func (g *Gate) Add(ctx context.Context, phones []string, reason string) (int, error) {
	entries := make([]model.BlacklistEntry, 0, len(phones))
	for _, phone := range phones {
		phone = strings.TrimSpace(phone)
		if phone == "" {
			continue
		}
		entries = append(entries, model.BlacklistEntry{Phone: phone, Reason: reason})
	}
	if len(entries) == 0 {
		return 0, nil
	}

	if err := g.store.AddBlacklistEntries(ctx, entries); err != nil {
		return 0, fmt.Errorf("add blacklist entries: %w", err)
	}

	for _, entry := range entries {
		g.parkOrders(ctx, entry.Phone)
	}

	return len(entries), nil
}

func (g *Gate) parkOrders(ctx context.Context, phone string) {
	candidates := Candidates(phone)
	orders, err := g.store.OrdersByRecipient(ctx, candidates, []model.OrderStatus{model.OrderPending, model.OrderProcessing})
	if err != nil {
		g.logger.Errorf("find orders for blacklisted phone %s: %v", phone, err)
		return
	}

	for _, order := range orders {
		if err := g.store.SetOrderBlacklistState(ctx, order.ID, model.OrderBlacklisted, model.QueueBlacklisted); err != nil {
			g.logger.Errorf("park order %d: %v", order.ID, err)
			continue
		}
		if err := g.notifier.Send(ctx, order.Recipient, "Your data bundle order is on hold. Contact support."); err != nil {
			g.logger.Warnf("notify blacklisted order %d: %v", order.ID, err)
		}
	}
}

// Remove deletes the entry and resets any orders parked in blacklisted state
// for that phone back to pending so the router picks them up on the next
// cycle. The reset is deliberate and explicit, not a side effect of the
// membership change; if it fails partway the orphan sweep repairs the rest.
func (g *Gate) Remove(ctx context.Context, phone string) error {
	candidates := Candidates(phone)
	if len(candidates) == 0 {
		return nil
	}

	if _, err := g.store.RemoveBlacklistEntry(ctx, candidates); err != nil {
		return fmt.Errorf("remove blacklist entry: %w", err)
	}

	orders, err := g.store.OrdersByRecipient(ctx, candidates, []model.OrderStatus{model.OrderBlacklisted})
	if err != nil {
		return fmt.Errorf("find parked orders: %w", err)
	}

	for _, order := range orders {
		if err := g.store.SetOrderBlacklistState(ctx, order.ID, model.OrderPending, model.QueueDefault); err != nil {
			g.logger.Errorf("reset parked order %d: %v", order.ID, err)
		}
	}

	return nil
}

// FixOrphaned re-checks every order still carrying blacklisted state against
// current blacklist membership and clears the ones whose phone no longer
// matches. It repairs drift left behind when a removal reset orders only
// partially.
func (g *Gate) FixOrphaned(ctx context.Context) (int, error) {
	orders, err := g.store.BlacklistedOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("list blacklisted orders: %w", err)
	}

	fixed := 0
	for _, order := range orders {
		blocked, err := g.IsBlacklisted(ctx, order.Recipient)
		if err != nil {
			g.logger.Errorf("sweep order %d: %v", order.ID, err)
			continue
		}
		if blocked {
			continue
		}
		if err := g.store.SetOrderBlacklistState(ctx, order.ID, model.OrderPending, model.QueueDefault); err != nil {
			g.logger.Errorf("sweep reset order %d: %v", order.ID, err)
			continue
		}
		fixed++
	}

	return fixed, nil
}
