// Package store persists synthesis settings and read history in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/narralabs/narra-core/internal/config"
	"github.com/narralabs/narra-core/internal/synth"
)

// Settings keys and their declared defaults. The settings map is read
// wholesale before each pipeline run; the HTTP settings handler is the only
// writer and never runs during an active read.
const (
	KeyAPIKey     = "api_key"
	KeyResourceID = "resource_id"
	KeySpeaker    = "speaker"
	KeyAdditions  = "additions"
	KeyFormat     = "format"
	KeySampleRate = "sample_rate"
	KeyMaxLength  = "max_length"
)

func defaults() map[string]string {
	return map[string]string{
		KeyAPIKey:     "",
		KeyResourceID: "",
		KeySpeaker:    "",
		KeyAdditions:  "",
		KeyFormat:     synth.FormatMP3,
		KeySampleRate: "24000",
		KeyMaxLength:  "5000",
	}
}

// HistoryEntry records the outcome of one read request.
type HistoryEntry struct {
	ID        int64
	RequestID string
	State     string
	Segments  int
	Error     string
	CreatedAt time.Time
}

// Store wraps the SQLite-backed settings and history tables.
type Store struct {
	db    *sql.DB
	cfg   config.StoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL,
    state TEXT NOT NULL,
    segments INTEGER NOT NULL,
    error TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_created ON history(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Settings reads the whole settings map, applying declared defaults for any
// key never written.
func (s *Store) Settings(ctx context.Context) (synth.Settings, error) {
	values := defaults()

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return synth.Settings{}, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return synth.Settings{}, err
		}
		if _, known := values[key]; known {
			values[key] = value
		}
	}
	if err := rows.Err(); err != nil {
		return synth.Settings{}, err
	}

	settings := synth.Settings{
		APIKey:     values[KeyAPIKey],
		ResourceID: values[KeyResourceID],
		Speaker:    values[KeySpeaker],
		Additions:  values[KeyAdditions],
		Format:     values[KeyFormat],
	}
	settings.SampleRate = parseIntOr(values[KeySampleRate], 24000)
	settings.MaxLength = parseIntOr(values[KeyMaxLength], 5000)
	return settings, nil
}

func parseIntOr(value string, fallback int) int {
	if parsed, err := strconv.Atoi(value); err == nil {
		return parsed
	}
	return fallback
}

// SetSetting writes one settings key. Unknown keys are rejected.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if _, known := defaults()[key]; !known {
		return fmt.Errorf("unknown settings key %q", key)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value, updated_at)
		 VALUES(?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, s.clock().UTC())
	return err
}

// AppendHistory records one finished read request.
func (s *Store) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history(request_id, state, segments, error, created_at)
		 VALUES(?, ?, ?, ?, ?)`,
		entry.RequestID, entry.State, entry.Segments, entry.Error, entry.CreatedAt)
	return err
}

// ListHistory retrieves up to limit entries, newest first.
func (s *Store) ListHistory(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, state, segments, error, created_at
		 FROM history ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var created string
		if err := rows.Scan(&e.ID, &e.RequestID, &e.State, &e.Segments, &e.Error, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = ts
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune applies configured retention to the history table.
func (s *Store) Prune(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM history WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxHistory > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM history WHERE id IN (
			SELECT id FROM history ORDER BY created_at DESC, id DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxHistory)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
