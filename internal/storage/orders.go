package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/kbekoe/databroker/internal/errs"
	"github.com/kbekoe/databroker/internal/model"
)

const orderColumns = `id, shop_id, parent_shop_id, network, size_gb, recipient,
	payment_status, status, queue, profit, parent_profit, provider_ref, created_at, updated_at`

func scanOrder(row pgx.Row) (model.Order, error) {
	var o model.Order
	err := row.Scan(&o.ID, &o.ShopID, &o.ParentShopID, &o.Network, &o.SizeGB, &o.Recipient,
		&o.PaymentStatus, &o.Status, &o.Queue, &o.Profit, &o.ParentProfit, &o.ProviderRef,
		&o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (s *PostgresStorage) GetOrder(ctx context.Context, id int64) (model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Order{}, errs.ErrOrderNotFound
		}
		return model.Order{}, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

func (s *PostgresStorage) CreateOrder(ctx context.Context, order model.Order) (int64, error) {
	const query = `
		INSERT INTO orders (shop_id, parent_shop_id, network, size_gb, recipient, profit, parent_profit)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	var id int64
	err := s.db.QueryRow(ctx, query, order.ShopID, order.ParentShopID, order.Network,
		order.SizeGB, order.Recipient, order.Profit, order.ParentProfit).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create order: %w", err)
	}
	return id, nil
}

// MarkOrderPaid flips payment status exactly once. The guard lives in the
// WHERE clause so duplicate payment callbacks lose the race cleanly.
func (s *PostgresStorage) MarkOrderPaid(ctx context.Context, id int64) (bool, error) {
	const query = `
		UPDATE orders
		SET payment_status = 'completed', updated_at = NOW()
		WHERE id = $1 AND payment_status = 'unpaid'`

	tag, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("mark order paid: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStorage) SetOrderStatus(ctx context.Context, id int64, status model.OrderStatus) error {
	const query = `UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2`

	tag, err := s.db.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("set order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrOrderNotFound
	}
	return nil
}

func (s *PostgresStorage) SetOrderBlacklistState(ctx context.Context, orderID int64, status model.OrderStatus, queue model.OrderQueue) error {
	const query = `UPDATE orders SET status = $1, queue = $2, updated_at = NOW() WHERE id = $3`

	tag, err := s.db.Exec(ctx, query, status, queue, orderID)
	if err != nil {
		return fmt.Errorf("set order blacklist state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrOrderNotFound
	}
	return nil
}

func (s *PostgresStorage) SetOrderProviderRef(ctx context.Context, id int64, ref string) error {
	const query = `UPDATE orders SET provider_ref = $1, updated_at = NOW() WHERE id = $2`

	_, err := s.db.Exec(ctx, query, ref, id)
	if err != nil {
		return fmt.Errorf("set order provider ref: %w", err)
	}
	return nil
}

func (s *PostgresStorage) OrdersByRecipient(ctx context.Context, candidates []string, statuses []model.OrderStatus) ([]model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE recipient = ANY($1) AND status = ANY($2)`

	statusStrings := make([]string, len(statuses))
	for i, st := range statuses {
		statusStrings[i] = string(st)
	}

	rows, err := s.db.Query(ctx, query, candidates, statusStrings)
	if err != nil {
		return nil, fmt.Errorf("orders by recipient: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

func (s *PostgresStorage) BlacklistedOrders(ctx context.Context) ([]model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE status = 'blacklisted' OR queue = 'blacklisted'`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("blacklisted orders: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

func (s *PostgresStorage) OrdersAwaitingManual(ctx context.Context) ([]model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE status = 'pending_download' ORDER BY created_at ASC`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("orders awaiting manual: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

// FulfillableOrders selects paid provider-backed orders still waiting in
// the default queue with no open tracking. These are the ones the routing
// sweep picks up after a blacklist release or a transport failure.
func (s *PostgresStorage) FulfillableOrders(ctx context.Context, limit int) ([]model.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders o
		WHERE o.payment_status = 'completed'
			AND o.network = 'MTN'
			AND o.status = 'pending'
			AND o.queue = 'default'
			AND NOT EXISTS (
				SELECT 1 FROM fulfillment_trackings t
				WHERE t.order_id = o.id AND t.status IN ('pending', 'processing')
			)
		ORDER BY o.created_at ASC
		LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fulfillable orders: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

func collectOrders(rows pgx.Rows) ([]model.Order, error) {
	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return orders, nil
}
