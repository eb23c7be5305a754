package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/ciaranashton/relay-agent/internal/store"
)

var migrations = []store.Migration{
	{
		Version:     1,
		Description: "seen_messages",
		SQL: `
		CREATE TABLE IF NOT EXISTS seen_messages (
			id       TEXT PRIMARY KEY,
			seen_at  INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_seen_at ON seen_messages(seen_at);
		`,
	},
}

// SQLite persists seen IDs so deduplication survives restarts.
type SQLite struct {
	db     *sql.DB
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func NewSQLite(dbPath string, ttl time.Duration, logger *slog.Logger) (*SQLite, error) {
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := store.RunMigrations(db, migrations, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("dedup migration failed: %w", err)
	}
	return &SQLite{db: db, ttl: ttl, logger: logger, now: time.Now}, nil
}

func (s *SQLite) Seen(ctx context.Context, id string) (bool, error) {
	now := s.now()
	cutoff := now.Add(-s.ttl).UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("dedup begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM seen_messages WHERE seen_at < ?`, cutoff); err != nil {
		return false, fmt.Errorf("dedup prune: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO seen_messages (id, seen_at) VALUES (?, ?)`,
		id, now.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("dedup insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("dedup commit: %w", err)
	}
	return n == 0, nil
}

func (s *SQLite) Forget(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM seen_messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("dedup forget: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
