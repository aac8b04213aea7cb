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

const DatahubName = "datahub"

// Datahub is one of the two interchangeable MTN-class providers. Its API
// sizes bundles in whole gigabytes.
type Datahub struct {
	client *resty.Client
}

func NewDatahub(baseURL, apiKey string, timeout time.Duration) *Datahub {
	client := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetTimeout(timeout)

	return &Datahub{client: client}
}

func (d *Datahub) Name() string { return DatahubName }

func (d *Datahub) PlaceOrder(ctx context.Context, phone string, network model.Network, sizeGB decimal.Decimal) (PlaceResult, error) {
	var answer struct {
		Status  string `json:"status"`
		OrderID string `json:"order_id"`
		Message string `json:"message"`
	}

	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"recipient": phone,
			"network":   string(network),
			"capacity":  sizeUnits(sizeGB, 1),
		}).
		SetResult(&answer).
		Post("/api/orders")
	if err != nil {
		return PlaceResult{}, fmt.Errorf("datahub place order: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK, http.StatusCreated:
		if answer.Status != "success" {
			return PlaceResult{Success: false, Message: answer.Message}, nil
		}
		return PlaceResult{Success: true, ProviderRef: answer.OrderID, Message: answer.Message}, nil
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusPaymentRequired:
		return PlaceResult{Success: false, Message: answer.Message}, nil
	case http.StatusTooManyRequests:
		return PlaceResult{}, fmt.Errorf("datahub place order: %w", errs.ErrRateLimited)
	default:
		return PlaceResult{}, fmt.Errorf("datahub place order: unexpected status code %d", resp.StatusCode())
	}
}

func (d *Datahub) CheckStatus(ctx context.Context, providerRef string) (StatusResult, error) {
	var answer struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}

	resp, err := d.client.R().
		SetContext(ctx).
		SetResult(&answer).
		Get("/api/orders/" + providerRef + "/status")
	if err != nil {
		return StatusResult{}, fmt.Errorf("datahub check status: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		return StatusResult{Success: true, RawStatus: answer.Status, RawMessage: answer.Message}, nil
	case http.StatusTooManyRequests:
		return StatusResult{}, fmt.Errorf("datahub check status: %w", errs.ErrRateLimited)
	default:
		return StatusResult{}, fmt.Errorf("datahub check status: unexpected status code %d", resp.StatusCode())
	}
}

func (d *Datahub) CheckBalance(ctx context.Context) (*decimal.Decimal, error) {
	var answer struct {
		Balance decimal.Decimal `json:"balance"`
	}

	resp, err := d.client.R().
		SetContext(ctx).
		SetResult(&answer).
		Get("/api/balance")
	if err != nil {
		return nil, fmt.Errorf("datahub check balance: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("datahub check balance: unexpected status code %d", resp.StatusCode())
	}

	return &answer.Balance, nil
}
