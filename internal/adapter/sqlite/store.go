// Package sqlite stores the reading history in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/couchcryptid/flood-monitor-service/internal/domain"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS flood_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	record_key TEXT NOT NULL UNIQUE,
	water_level REAL,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_flood_history_timestamp ON flood_history(timestamp);`

// Store is an append-only history table. Subscribers are notified in-process
// after every successful Append.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger

	mu       sync.Mutex
	nextID   int
	handlers map[int]domain.HistoryHandler
}

// Open creates the database file and schema if needed.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serializes writers, which SQLite requires anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	logger.Info("history database opened", "path", path)
	return &Store{
		db:       db,
		path:     path,
		logger:   logger,
		handlers: make(map[int]domain.HistoryHandler),
	}, nil
}

// Append inserts rec under a fresh key and notifies subscribers.
func (s *Store) Append(ctx context.Context, rec domain.HistoryRecord) (domain.HistoryRecord, error) {
	rec.Key = uuid.NewString()

	var level sql.NullFloat64
	if rec.WaterLevel != nil {
		level = sql.NullFloat64{Float64: *rec.WaterLevel, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flood_history(record_key, water_level, timestamp) VALUES(?, ?, ?)`,
		rec.Key, level, rec.Timestamp,
	)
	if err != nil {
		return domain.HistoryRecord{}, fmt.Errorf("insert history record: %w", err)
	}

	s.notify(ctx)
	return rec, nil
}

// List returns every record in insertion order.
func (s *Store) List(ctx context.Context) ([]domain.HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_key, water_level, timestamp FROM flood_history ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var records []domain.HistoryRecord
	for rows.Next() {
		var (
			rec   domain.HistoryRecord
			level sql.NullFloat64
		)
		if err := rows.Scan(&rec.Key, &level, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		if level.Valid {
			v := level.Float64
			rec.WaterLevel = &v
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return records, nil
}

// Subscribe delivers the current history to handle immediately and again
// after every Append.
func (s *Store) Subscribe(ctx context.Context, handle domain.HistoryHandler) (domain.Subscription, error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = handle
	s.mu.Unlock()

	handle(records)

	return domain.UnsubscribeFunc(func() error {
		s.mu.Lock()
		delete(s.handlers, id)
		s.mu.Unlock()
		return nil
	}), nil
}

func (s *Store) notify(ctx context.Context) {
	s.mu.Lock()
	handlers := make([]domain.HistoryHandler, 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()
	if len(handlers) == 0 {
		return
	}

	// The append already succeeded; use a fresh context so a caller deadline
	// does not hide it from subscribers.
	records, err := s.List(context.WithoutCancel(ctx))
	if err != nil {
		s.logger.Error("reload history for subscribers failed", "error", err)
		return
	}
	for _, h := range handlers {
		h(records)
	}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
