package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStorage struct {
	db *pgxpool.Pool
}

func (store *PostgresStorage) initSchema(ctx context.Context) error {
	const initSchemaQuery = `
	CREATE TABLE IF NOT EXISTS shops (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		parent_id INT REFERENCES shops(id),
		created_at TIMESTAMP DEFAULT NOW()
	);
	CREATE TABLE IF NOT EXISTS orders (
		id SERIAL PRIMARY KEY,
		shop_id INT REFERENCES shops(id),
		parent_shop_id INT REFERENCES shops(id),
		network TEXT NOT NULL,
		size_gb NUMERIC NOT NULL,
		recipient TEXT NOT NULL,
		payment_status TEXT NOT NULL DEFAULT 'unpaid',
		status TEXT NOT NULL DEFAULT 'pending',
		queue TEXT NOT NULL DEFAULT 'default',
		profit NUMERIC NOT NULL DEFAULT 0,
		parent_profit NUMERIC NOT NULL DEFAULT 0,
		provider_ref TEXT,
		created_at TIMESTAMP DEFAULT NOW(),
		updated_at TIMESTAMP DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_orders_recipient ON orders(recipient);
	CREATE INDEX IF NOT EXISTS idx_orders_status_queue ON orders(status, queue);
	CREATE TABLE IF NOT EXISTS fulfillment_trackings (
		id SERIAL PRIMARY KEY,
		provider TEXT NOT NULL,
		provider_ref TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		last_message TEXT NOT NULL DEFAULT '',
		order_id INT NOT NULL REFERENCES orders(id),
		order_type TEXT NOT NULL DEFAULT 'shop',
		created_at TIMESTAMP DEFAULT NOW(),
		updated_at TIMESTAMP DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_trackings_provider_ref ON fulfillment_trackings(provider_ref);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_one_open_tracking
		ON fulfillment_trackings(order_id) WHERE status IN ('pending', 'processing');
	CREATE TABLE IF NOT EXISTS webhook_events (
		id UUID PRIMARY KEY,
		provider TEXT NOT NULL,
		provider_ref TEXT,
		payload TEXT NOT NULL,
		received_at TIMESTAMP DEFAULT NOW()
	);
	CREATE TABLE IF NOT EXISTS profit_records (
		id SERIAL PRIMARY KEY,
		shop_id INT NOT NULL REFERENCES shops(id),
		order_id INT NOT NULL REFERENCES orders(id),
		amount NUMERIC NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_profit_records_shop ON profit_records(shop_id, id);
	CREATE TABLE IF NOT EXISTS available_balances (
		shop_id INT PRIMARY KEY REFERENCES shops(id),
		total NUMERIC NOT NULL,
		credited NUMERIC NOT NULL,
		withdrawn NUMERIC NOT NULL,
		pending NUMERIC NOT NULL,
		available NUMERIC NOT NULL,
		computed_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS withdrawal_requests (
		id SERIAL PRIMARY KEY,
		shop_id INT NOT NULL REFERENCES shops(id),
		amount NUMERIC NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP DEFAULT NOW(),
		processed_at TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS blacklist (
		id SERIAL PRIMARY KEY,
		phone TEXT NOT NULL UNIQUE,
		reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT NOW()
	);
	CREATE TABLE IF NOT EXISTS notification_logs (
		id SERIAL PRIMARY KEY,
		broadcast_id TEXT,
		recipient TEXT NOT NULL,
		message TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_notification_logs_broadcast ON notification_logs(broadcast_id, recipient);
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`

	_, err := store.db.Exec(ctx, initSchemaQuery)
	return err
}

func NewPostgresStorage(ctx context.Context, databaseURI string) (*PostgresStorage, error) {
	db, err := pgxpool.New(ctx, databaseURI)
	if err != nil {
		return nil, err
	}

	storage := &PostgresStorage{db: db}

	if err := storage.Ping(ctx); err != nil {
		return nil, err
	}

	if err := storage.initSchema(ctx); err != nil {
		return nil, err
	}

	return storage, nil
}

func (store *PostgresStorage) Ping(ctx context.Context) error {
	return store.db.Ping(ctx)
}

func (store *PostgresStorage) GetSetting(ctx context.Context, key string) (string, error) {
	const query = `SELECT value FROM settings WHERE key = $1`

	var value string
	err := store.db.QueryRow(ctx, query, key).Scan(&value)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

func (store *PostgresStorage) SetSetting(ctx context.Context, key, value string) error {
	const query = `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`

	_, err := store.db.Exec(ctx, query, key, value)
	return err
}
