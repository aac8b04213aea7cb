package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kbekoe/databroker/internal/errs"
	"github.com/kbekoe/databroker/internal/model"
)

// CreateTracking inserts the tracking row for a submitted order. The partial
// unique index allows at most one non-terminal row per order, so a concurrent
// duplicate submission surfaces here as ErrAlreadySubmitted.
func (s *PostgresStorage) CreateTracking(ctx context.Context, t model.FulfillmentTracking) error {
	const query = `
		INSERT INTO fulfillment_trackings (provider, provider_ref, status, last_message, order_id, order_type)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.Exec(ctx, query, t.Provider, t.ProviderRef, t.Status, t.LastMessage, t.OrderID, t.OrderType)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return errs.ErrAlreadySubmitted
		}
		return fmt.Errorf("create tracking: %w", err)
	}
	return nil
}

func (s *PostgresStorage) HasOpenTracking(ctx context.Context, orderID int64) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM fulfillment_trackings
			WHERE order_id = $1 AND status IN ('pending', 'processing')
		)`

	var open bool
	if err := s.db.QueryRow(ctx, query, orderID).Scan(&open); err != nil {
		return false, fmt.Errorf("check open tracking: %w", err)
	}
	return open, nil
}

func (s *PostgresStorage) TrackingByProviderRef(ctx context.Context, providerRef string) (model.FulfillmentTracking, error) {
	const query = `
		SELECT id, provider, provider_ref, status, last_message, order_id, order_type, created_at, updated_at
		FROM fulfillment_trackings
		WHERE provider_ref = $1
		ORDER BY id DESC
		LIMIT 1`

	var t model.FulfillmentTracking
	err := s.db.QueryRow(ctx, query, providerRef).Scan(&t.ID, &t.Provider, &t.ProviderRef,
		&t.Status, &t.LastMessage, &t.OrderID, &t.OrderType, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.FulfillmentTracking{}, errs.ErrTrackingNotFound
		}
		return model.FulfillmentTracking{}, fmt.Errorf("tracking by provider ref: %w", err)
	}
	return t, nil
}

func (s *PostgresStorage) UpdateTrackingStatus(ctx context.Context, id int64, status model.TrackingStatus, message string) error {
	const query = `
		UPDATE fulfillment_trackings
		SET status = $1, last_message = $2, updated_at = NOW()
		WHERE id = $3`

	tag, err := s.db.Exec(ctx, query, status, message, id)
	if err != nil {
		return fmt.Errorf("update tracking status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrTrackingNotFound
	}
	return nil
}

func (s *PostgresStorage) OpenTrackings(ctx context.Context, limit int) ([]model.FulfillmentTracking, error) {
	const query = `
		SELECT id, provider, provider_ref, status, last_message, order_id, order_type, created_at, updated_at
		FROM fulfillment_trackings
		WHERE status IN ('pending', 'processing')
		ORDER BY created_at ASC
		LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("open trackings: %w", err)
	}
	defer rows.Close()

	var list []model.FulfillmentTracking
	for rows.Next() {
		var t model.FulfillmentTracking
		err := rows.Scan(&t.ID, &t.Provider, &t.ProviderRef, &t.Status, &t.LastMessage,
			&t.OrderID, &t.OrderType, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan tracking: %w", err)
		}
		list = append(list, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return list, nil
}

func (s *PostgresStorage) InsertWebhookEvent(ctx context.Context, ev model.WebhookEvent) error {
	const query = `
		INSERT INTO webhook_events (id, provider, provider_ref, payload)
		VALUES ($1, $2, $3, $4)`

	_, err := s.db.Exec(ctx, query, ev.ID, ev.Provider, ev.ProviderRef, ev.Payload)
	if err != nil {
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}
