package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/kbekoe/databroker/internal/errs"
	"github.com/kbekoe/databroker/internal/model"
	"github.com/shopspring/decimal"
)

const QuicknetName = "quicknet"

// Quicknet is the second MTN-class provider. Its API sizes bundles in
// megabytes and requires a client-generated idempotency reference.
type Quicknet struct {
	client *resty.Client
}

func NewQuicknet(baseURL, apiKey string, timeout time.Duration) *Quicknet {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("X-Api-Key", apiKey).
		SetTimeout(timeout)

	return &Quicknet{client: client}
}

func (q *Quicknet) Name() string { return QuicknetName }

func (q *Quicknet) PlaceOrder(ctx context.Context, phone string, network model.Network, sizeGB decimal.Decimal) (PlaceResult, error) {
	var answer struct {
		Success bool   `json:"success"`
		ID      string `json:"id"`
		Msg     string `json:"msg"`
	}

	resp, err := q.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"phone":     phone,
			"bundle_mb": sizeUnits(sizeGB, 1000),
			"reference": uuid.NewString(),
		}).
		SetResult(&answer).
		Post("/v1/purchase")
	if err != nil {
		return PlaceResult{}, fmt.Errorf("quicknet place order: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK, http.StatusCreated:
		return PlaceResult{Success: answer.Success, ProviderRef: answer.ID, Message: answer.Msg}, nil
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusPaymentRequired:
		return PlaceResult{Success: false, Message: answer.Msg}, nil
	case http.StatusTooManyRequests:
		return PlaceResult{}, fmt.Errorf("quicknet place order: %w", errs.ErrRateLimited)
	default:
		return PlaceResult{}, fmt.Errorf("quicknet place order: unexpected status code %d", resp.StatusCode())
	}
}

func (q *Quicknet) CheckStatus(ctx context.Context, providerRef string) (StatusResult, error) {
	var answer struct {
		State  string `json:"state"`
		Detail string `json:"detail"`
	}

	resp, err := q.client.R().
		SetContext(ctx).
		SetResult(&answer).
		Get("/v1/purchase/" + providerRef)
	if err != nil {
		return StatusResult{}, fmt.Errorf("quicknet check status: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		return StatusResult{Success: true, RawStatus: answer.State, RawMessage: answer.Detail}, nil
	case http.StatusTooManyRequests:
		return StatusResult{}, fmt.Errorf("quicknet check status: %w", errs.ErrRateLimited)
	default:
		return StatusResult{}, fmt.Errorf("quicknet check status: unexpected status code %d", resp.StatusCode())
	}
}

func (q *Quicknet) CheckBalance(ctx context.Context) (*decimal.Decimal, error) {
	var answer struct {
		Amount decimal.Decimal `json:"amount"`
	}

	resp, err := q.client.R().
		SetContext(ctx).
		SetResult(&answer).
		Get("/v1/wallet")
	if err != nil {
		return nil, fmt.Errorf("quicknet check balance: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("quicknet check balance: unexpected status code %d", resp.StatusCode())
	}

	return &answer.Amount, nil
}
