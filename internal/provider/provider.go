// Package provider wraps the external fulfillment APIs behind one Adapter
// interface. Business-level rejections (insufficient provider balance, bad
// recipient) come back as unsuccessful results, not errors; only transport
// and parse failures are errors.
package provider

import (
	"context"

	"github.com/kbekoe/databroker/internal/model"
	"github.com/shopspring/decimal"
)

type PlaceResult struct {
	Success     bool
	ProviderRef string
	Message     string
}

type StatusResult struct {
	Success    bool
	RawStatus  string
	RawMessage string
}

type Adapter interface {
	Name() string
	PlaceOrder(ctx context.Context, phone string, network model.Network, sizeGB decimal.Decimal) (PlaceResult, error)
	CheckStatus(ctx context.Context, providerRef string) (StatusResult, error)
	CheckBalance(ctx context.Context) (*decimal.Decimal, error)
}

// sizeUnits rounds a fractional bundle size to the integer unit a provider
// expects. Rounding happens only here, at the adapter boundary, so retries
// upstream never compound rounding errors.
func sizeUnits(sizeGB decimal.Decimal, unitsPerGB int64) int64 {
	return sizeGB.Mul(decimal.NewFromInt(unitsPerGB)).Round(0).IntPart()
}
