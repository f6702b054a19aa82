package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS opportunities (
	id             TEXT PRIMARY KEY,
	exchange       TEXT NOT NULL,
	path           TEXT NOT NULL,
	profit_percent DOUBLE PRECISION NOT NULL,
	volume         DOUBLE PRECISION NOT NULL,
	volatility     DOUBLE PRECISION NOT NULL,
	detected_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_opportunities_detected_at ON opportunities (detected_at);

CREATE TABLE IF NOT EXISTS trades (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	exchange   TEXT NOT NULL,
	path       TEXT NOT NULL,
	profit     DOUBLE PRECISION NOT NULL,
	volume     DOUBLE PRECISION NOT NULL,
	status     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	closed_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_trades_user_status ON trades (user_id, status);
`

// PostgresStorage implements Storage using PostgreSQL.
type PostgresStorage struct {
	sqlStore
}

// PostgresConfig holds PostgreSQL configuration.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
	Logger   *zap.Logger
}

// NewPostgresStorage connects to PostgreSQL and creates the schema if needed.
func NewPostgresStorage(ctx context.Context, cfg *PostgresConfig) (*PostgresStorage, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	p := newPostgresStorage(db, cfg.Logger)
	if err = p.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	cfg.Logger.Info("postgres-storage-connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))

	return p, nil
}

func newPostgresStorage(db *sql.DB, logger *zap.Logger) *PostgresStorage {
	return &PostgresStorage{sqlStore{
		db:      db,
		logger:  logger,
		backend: "postgres",
		rebind:  dollarPlaceholders,
	}}
}

// Migrate creates the tables and indexes if they do not exist.
func (p *PostgresStorage) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}
