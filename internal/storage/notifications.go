package storage

import (
	"context"
	"fmt"

	"github.com/kbekoe/databroker/internal/model"
)

func (s *PostgresStorage) InsertNotificationLog(ctx context.Context, log model.NotificationLog) error {
	const query = `
		INSERT INTO notification_logs (broadcast_id, recipient, message, status, error)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.db.Exec(ctx, query, log.BroadcastID, log.Recipient, log.Message, log.Status, log.Error)
	if err != nil {
		return fmt.Errorf("insert notification log: %w", err)
	}
	return nil
}

func (s *PostgresStorage) FailedBroadcastLogs(ctx context.Context, broadcastID string) ([]model.NotificationLog, error) {
	const query = `
		SELECT id, broadcast_id, recipient, message, status, error, created_at
		FROM notification_logs
		WHERE broadcast_id = $1 AND status = 'failed'
		ORDER BY id ASC`

	rows, err := s.db.Query(ctx, query, broadcastID)
	if err != nil {
		return nil, fmt.Errorf("list failed broadcast logs: %w", err)
	}
	defer rows.Close()

	var logs []model.NotificationLog
	for rows.Next() {
		var l model.NotificationLog
		if err := rows.Scan(&l.ID, &l.BroadcastID, &l.Recipient, &l.Message, &l.Status, &l.Error, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification log: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return logs, nil
}

func (s *PostgresStorage) HasSentLog(ctx context.Context, broadcastID, recipient string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM notification_logs
			WHERE broadcast_id = $1 AND recipient = $2 AND status = 'sent'
		)`

	var sent bool
	if err := s.db.QueryRow(ctx, query, broadcastID, recipient).Scan(&sent); err != nil {
		return false, fmt.Errorf("check sent log: %w", err)
	}
	return sent, nil
}

func (s *PostgresStorage) MarkLogSent(ctx context.Context, id int64) error {
	const query = `UPDATE notification_logs SET status = 'sent', error = '' WHERE id = $1`

	if _, err := s.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("mark log sent: %w", err)
	}
	return nil
}
