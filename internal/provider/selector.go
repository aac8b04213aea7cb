package provider

import (
	"context"
	"fmt"

	"github.com/kbekoe/databroker/internal/errs"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// ActiveProviderKey is the persisted setting naming which MTN-class adapter
// currently takes new orders.
const ActiveProviderKey = "active_mtn_provider"

type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
}

// Selector owns the configured adapters. Exactly one MTN-class adapter is
// active at a time; the balance path fans out to all of them regardless.
type Selector struct {
	settings SettingsStore
	mtnClass map[string]Adapter
	all      []Adapter
}

func NewSelector(settings SettingsStore, mtnClass []Adapter, others ...Adapter) *Selector {
	byName := make(map[string]Adapter, len(mtnClass))
	all := make([]Adapter, 0, len(mtnClass)+len(others))
	for _, a := range mtnClass {
		byName[a.Name()] = a
		all = append(all, a)
	}
	all = append(all, others...)

	return &Selector{settings: settings, mtnClass: byName, all: all}
}

// ActiveMTN returns the adapter selected by the persisted flag. An unset
// flag falls back to datahub, matching historical behavior.
func (s *Selector) ActiveMTN(ctx context.Context) (Adapter, error) {
	name, err := s.settings.GetSetting(ctx, ActiveProviderKey)
	if err != nil {
		return nil, fmt.Errorf("read active provider: %w", err)
	}
	if name == "" {
		name = DatahubName
	}

	adapter, ok := s.mtnClass[name]
	if !ok {
		return nil, fmt.Errorf("active provider %q: %w", name, errs.ErrNoActiveProvider)
	}
	return adapter, nil
}

// ByName resolves any configured adapter, active or not. The reconciler
// needs this because open trackings may belong to a previously active one.
func (s *Selector) ByName(name string) (Adapter, bool) {
	for _, a := range s.all {
		if a.Name() == name {
			return a, true
		}
	}
	return nil, false
}

// IsMTNClass reports whether name is one of the interchangeable MTN
// providers that may be set active.
func (s *Selector) IsMTNClass(name string) bool {
	_, ok := s.mtnClass[name]
	return ok
}

type BalanceReport struct {
	Balance *decimal.Decimal `json:"balance,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// AllBalances queries every configured adapter in parallel. Individual
// failures are reported per provider, never returned as an error: this is a
// monitoring path and partial data is still useful.
func (s *Selector) AllBalances(ctx context.Context) map[string]BalanceReport {
	reports := make([]BalanceReport, len(s.all))

	g, gctx := errgroup.WithContext(ctx)
	for i, adapter := range s.all {
		i, adapter := i, adapter
		g.Go(func() error {
			balance, err := adapter.CheckBalance(gctx)
			if err != nil {
				reports[i] = BalanceReport{Error: err.Error()}
				return nil
			}
			reports[i] = BalanceReport{Balance: balance}
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]BalanceReport, len(s.all))
	for i, adapter := range s.all {
		out[adapter.Name()] = reports[i]
	}
	return out
}
