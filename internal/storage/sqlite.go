package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS opportunities (
	id             TEXT PRIMARY KEY,
	exchange       TEXT NOT NULL,
	path           TEXT NOT NULL,
	profit_percent REAL NOT NULL,
	volume         REAL NOT NULL,
	volatility     REAL NOT NULL,
	detected_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_opportunities_detected_at ON opportunities(detected_at);

CREATE TABLE IF NOT EXISTS trades (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	exchange   TEXT NOT NULL,
	path       TEXT NOT NULL,
	profit     REAL NOT NULL,
	volume     REAL NOT NULL,
	status     TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	closed_at  TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_trades_user_status ON trades(user_id, status);
`

// SQLiteStorage implements Storage on an embedded SQLite file.
type SQLiteStorage struct {
	sqlStore
}

// NewSQLiteStorage opens (creating if needed) the database at path.
// ":memory:" gives a private in-memory database.
func NewSQLiteStorage(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStorage, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if _, err = db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	logger.Info("sqlite-storage-opened", zap.String("path", path))

	return &SQLiteStorage{sqlStore{
		db:      db,
		logger:  logger,
		backend: "sqlite",
		rebind:  questionMarks,
	}}, nil
}
