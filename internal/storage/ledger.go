package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/kbekoe/databroker/internal/errs"
	"github.com/kbekoe/databroker/internal/model"
	"github.com/shopspring/decimal"
)

func (s *PostgresStorage) InsertProfitRecord(ctx context.Context, rec model.ProfitRecord) error {
	const query = `
		INSERT INTO profit_records (shop_id, order_id, amount, status)
		VALUES ($1, $2, $3, $4)`

	_, err := s.db.Exec(ctx, query, rec.ShopID, rec.OrderID, rec.Amount, rec.Status)
	if err != nil {
		return fmt.Errorf("insert profit record: %w", err)
	}
	return nil
}

// CreditProfitRecords marks pending records for the given orders credited and
// returns the distinct shops touched. Records in any other status are left
// alone, which is what makes a repeated completion signal harmless.
func (s *PostgresStorage) CreditProfitRecords(ctx context.Context, orderIDs []int64) ([]int64, error) {
	const query = `
		UPDATE profit_records
		SET status = 'credited'
		WHERE order_id = ANY($1) AND status = 'pending'
		RETURNING shop_id`

	rows, err := s.db.Query(ctx, query, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("credit profit records: %w", err)
	}
	defer rows.Close()

	seen := make(map[int64]struct{})
	var shopIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan shop id: %w", err)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		shopIDs = append(shopIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return shopIDs, nil
}

func (s *PostgresStorage) ProfitRecordsPage(ctx context.Context, shopID, afterID int64, limit int) ([]model.ProfitRecord, error) {
	const query = `
		SELECT id, shop_id, order_id, amount, status, created_at
		FROM profit_records
		WHERE shop_id = $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3`

	rows, err := s.db.Query(ctx, query, shopID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("page profit records: %w", err)
	}
	defer rows.Close()

	var page []model.ProfitRecord
	for rows.Next() {
		var rec model.ProfitRecord
		if err := rows.Scan(&rec.ID, &rec.ShopID, &rec.OrderID, &rec.Amount, &rec.Status, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan profit record: %w", err)
		}
		page = append(page, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return page, nil
}

// MarkProfitWithdrawn flips credited records to withdrawn oldest-first until
// their running total covers the amount. The last record flipped may overshoot;
// the balance fold does not care, the per-record status is bookkeeping only.
func (s *PostgresStorage) MarkProfitWithdrawn(ctx context.Context, shopID int64, amount decimal.Decimal) error {
	const query = `
		UPDATE profit_records
		SET status = 'withdrawn'
		WHERE id IN (
			SELECT id FROM (
				SELECT id, amount, SUM(amount) OVER (ORDER BY id ASC) AS running
				FROM profit_records
				WHERE shop_id = $1 AND status = 'credited'
			) ranked
			WHERE ranked.running - ranked.amount < $2
		)`

	_, err := s.db.Exec(ctx, query, shopID, amount)
	if err != nil {
		return fmt.Errorf("mark profit withdrawn: %w", err)
	}
	return nil
}

func (s *PostgresStorage) GetWithdrawal(ctx context.Context, id int64) (model.WithdrawalRequest, error) {
	const query = `
		SELECT id, shop_id, amount, status, created_at, processed_at
		FROM withdrawal_requests
		WHERE id = $1`

	var w model.WithdrawalRequest
	err := s.db.QueryRow(ctx, query, id).Scan(&w.ID, &w.ShopID, &w.Amount, &w.Status, &w.CreatedAt, &w.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.WithdrawalRequest{}, errs.ErrWithdrawalNotFound
		}
		return model.WithdrawalRequest{}, fmt.Errorf("get withdrawal: %w", err)
	}
	return w, nil
}

func (s *PostgresStorage) SetWithdrawalStatus(ctx context.Context, id int64, status model.WithdrawalStatus) error {
	const query = `
		UPDATE withdrawal_requests
		SET status = $1, processed_at = NOW()
		WHERE id = $2 AND status = 'pending'`

	tag, err := s.db.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("set withdrawal status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrWithdrawalNotPending
	}
	return nil
}

func (s *PostgresStorage) ApprovedWithdrawalsSum(ctx context.Context, shopID int64) (decimal.Decimal, error) {
	const query = `
		SELECT COALESCE(SUM(amount), 0)
		FROM withdrawal_requests
		WHERE shop_id = $1 AND status = 'approved'`

	var sum decimal.Decimal
	if err := s.db.QueryRow(ctx, query, shopID).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("sum approved withdrawals: %w", err)
	}
	return sum, nil
}

// ReplaceBalance swaps the shop's materialized balance row inside one
// transaction, serialized per shop with an advisory lock so two concurrent
// refolds cannot interleave their delete and insert.
func (s *PostgresStorage) ReplaceBalance(ctx context.Context, balance model.AvailableBalance) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, balance.ShopID); err != nil {
		return fmt.Errorf("acquire balance lock: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM available_balances WHERE shop_id = $1`, balance.ShopID); err != nil {
		return fmt.Errorf("delete balance: %w", err)
	}

	const insert = `
		INSERT INTO available_balances (shop_id, total, credited, withdrawn, pending, available, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = tx.Exec(ctx, insert, balance.ShopID, balance.Total, balance.Credited,
		balance.Withdrawn, balance.Pending, balance.Available, balance.ComputedAt)
	if err != nil {
		return fmt.Errorf("insert balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit balance: %w", err)
	}
	return nil
}

func (s *PostgresStorage) GetBalance(ctx context.Context, shopID int64) (model.AvailableBalance, error) {
	const query = `
		SELECT shop_id, total, credited, withdrawn, pending, available, computed_at
		FROM available_balances
		WHERE shop_id = $1`

	var b model.AvailableBalance
	err := s.db.QueryRow(ctx, query, shopID).Scan(&b.ShopID, &b.Total, &b.Credited,
		&b.Withdrawn, &b.Pending, &b.Available, &b.ComputedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AvailableBalance{ShopID: shopID}, nil
		}
		return model.AvailableBalance{}, fmt.Errorf("get balance: %w", err)
	}
	return b, nil
}

func (s *PostgresStorage) ListShopIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM shops ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list shops: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan shop id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return ids, nil
}

func (s *PostgresStorage) ShopParent(ctx context.Context, shopID int64) (*int64, error) {
	const query = `SELECT parent_id FROM shops WHERE id = $1`

	var parent *int64
	if err := s.db.QueryRow(ctx, query, shopID).Scan(&parent); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrShopNotFound
		}
		return nil, fmt.Errorf("shop parent: %w", err)
	}
	return parent, nil
}

func (s *PostgresStorage) ParentProfitSum(ctx context.Context, shopID int64) (decimal.Decimal, error) {
	const query = `
		SELECT COALESCE(SUM(parent_profit), 0)
		FROM orders
		WHERE parent_shop_id = $1 AND status = 'completed'`

	var sum decimal.Decimal
	if err := s.db.QueryRow(ctx, query, shopID).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("sum parent profit: %w", err)
	}
	return sum, nil
}
