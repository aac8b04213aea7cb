package storage

import (
	"context"
	"fmt"

	"github.com/kbekoe/databroker/internal/model"
)

func (s *PostgresStorage) BlacklistContains(ctx context.Context, candidates []string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM blacklist WHERE phone = ANY($1))`

	var found bool
	if err := s.db.QueryRow(ctx, query, candidates).Scan(&found); err != nil {
		return false, fmt.Errorf("blacklist lookup: %w", err)
	}
	return found, nil
}

func (s *PostgresStorage) AddBlacklistEntries(ctx context.Context, entries []model.BlacklistEntry) error {
	const query = `
		INSERT INTO blacklist (phone, reason)
		VALUES ($1, $2)
		ON CONFLICT (phone) DO UPDATE SET reason = EXCLUDED.reason`

	for _, entry := range entries {
		if _, err := s.db.Exec(ctx, query, entry.Phone, entry.Reason); err != nil {
			return fmt.Errorf("insert blacklist entry %s: %w", entry.Phone, err)
		}
	}
	return nil
}

func (s *PostgresStorage) RemoveBlacklistEntry(ctx context.Context, candidates []string) (int64, error) {
	const query = `DELETE FROM blacklist WHERE phone = ANY($1)`

	tag, err := s.db.Exec(ctx, query, candidates)
	if err != nil {
		return 0, fmt.Errorf("remove blacklist entry: %w", err)
	}
	return tag.RowsAffected(), nil
}

// BlacklistPage lists entries newest-first with an optional substring search
// over the stored phone.
func (s *PostgresStorage) BlacklistPage(ctx context.Context, search string, offset, limit int) ([]model.BlacklistEntry, int64, error) {
	const countQuery = `SELECT COUNT(*) FROM blacklist WHERE phone LIKE '%' || $1 || '%'`
	const query = `
		SELECT id, phone, reason, created_at
		FROM blacklist
		WHERE phone LIKE '%' || $1 || '%'
		ORDER BY created_at DESC
		OFFSET $2 LIMIT $3`

	var total int64
	if err := s.db.QueryRow(ctx, countQuery, search).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count blacklist: %w", err)
	}

	rows, err := s.db.Query(ctx, query, search, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("page blacklist: %w", err)
	}
	defer rows.Close()

	var entries []model.BlacklistEntry
	for rows.Next() {
		var e model.BlacklistEntry
		if err := rows.Scan(&e.ID, &e.Phone, &e.Reason, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan blacklist entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("row iteration: %w", err)
	}
	return entries, total, nil
}
