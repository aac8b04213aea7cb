package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kbekoe/databroker/internal/errs"
	"github.com/kbekoe/databroker/internal/model"
	"github.com/shopspring/decimal"
)

const TeleserveName = "teleserve"

// Teleserve covers the non-MTN networks. The router never submits to it
// (those orders go through a dedicated external service), but it shares the
// Adapter contract so the balance monitor can query it alongside the rest.
type Teleserve struct {
	client *resty.Client
}

func NewTeleserve(baseURL, apiKey string, timeout time.Duration) *Teleserve {
	client := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetTimeout(timeout)

	return &Teleserve{client: client}
}

func (t *Teleserve) Name() string { return TeleserveName }

func (t *Teleserve) PlaceOrder(ctx context.Context, phone string, network model.Network, sizeGB decimal.Decimal) (PlaceResult, error) {
	var answer struct {
		OK        bool   `json:"ok"`
		Reference string `json:"reference"`
		Message   string `json:"message"`
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"msisdn":  phone,
			"network": string(network),
			"size_gb": sizeUnits(sizeGB, 1),
		}).
		SetResult(&answer).
		Post("/api/v2/topup")
	if err != nil {
		return PlaceResult{}, fmt.Errorf("teleserve place order: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK, http.StatusCreated:
		return PlaceResult{Success: answer.OK, ProviderRef: answer.Reference, Message: answer.Message}, nil
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusPaymentRequired:
		return PlaceResult{Success: false, Message: answer.Message}, nil
	case http.StatusTooManyRequests:
		return PlaceResult{}, fmt.Errorf("teleserve place order: %w", errs.ErrRateLimited)
	default:
		return PlaceResult{}, fmt.Errorf("teleserve place order: unexpected status code %d", resp.StatusCode())
	}
}

func (t *Teleserve) CheckStatus(ctx context.Context, providerRef string) (StatusResult, error) {
	var answer struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetResult(&answer).
		Get("/api/v2/topup/" + providerRef)
	if err != nil {
		return StatusResult{}, fmt.Errorf("teleserve check status: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		return StatusResult{Success: true, RawStatus: answer.Status, RawMessage: answer.Message}, nil
	case http.StatusTooManyRequests:
		return StatusResult{}, fmt.Errorf("teleserve check status: %w", errs.ErrRateLimited)
	default:
		return StatusResult{}, fmt.Errorf("teleserve check status: unexpected status code %d", resp.StatusCode())
	}
}

func (t *Teleserve) CheckBalance(ctx context.Context) (*decimal.Decimal, error) {
	var answer struct {
		Balance decimal.Decimal `json:"balance"`
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetResult(&answer).
		Get("/api/v2/balance")
	if err != nil {
		return nil, fmt.Errorf("teleserve check balance: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("teleserve check balance: unexpected status code %d", resp.StatusCode())
	}

	return &answer.Balance, nil
}
