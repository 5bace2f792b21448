package infra

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"lmout/internal/domain"
)

// SQLiteHistory implements domain.HistoryStore on a local sqlite file.
type SQLiteHistory struct {
	db *sql.DB
}

// OpenHistory opens (creating if needed) the history database and runs
// migrations.
func OpenHistory(dbPath string) (*SQLiteHistory, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// WAL mode; sqlite supports only one writer at a time.
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	h := &SQLiteHistory{db: db}
	if err := h.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return h, nil
}

func (h *SQLiteHistory) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS lockouts (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		schedule_id TEXT,
		started_at DATETIME NOT NULL,
		ended_at DATETIME NOT NULL,
		duration_secs INTEGER NOT NULL,
		block_only INTEGER NOT NULL DEFAULT 0,
		blocked_apps TEXT NOT NULL DEFAULT '[]',
		outcome TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_lockouts_started_at ON lockouts(started_at);
	`
	_, err := h.db.Exec(schema)
	return err
}

// Record inserts one finished session.
func (h *SQLiteHistory) Record(ctx context.Context, entry domain.HistoryEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	apps, err := json.Marshal(entry.BlockedApps)
	if err != nil {
		return err
	}

	_, err = h.db.ExecContext(ctx, `
		INSERT INTO lockouts (id, source, schedule_id, started_at, ended_at,
			duration_secs, block_only, blocked_apps, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), entry.Source, entry.ScheduleID,
		entry.StartedAt, entry.EndedAt, entry.DurationSecs,
		entry.BlockOnly, string(apps), entry.Outcome)
	if err != nil {
		return fmt.Errorf("record lockout: %w", err)
	}
	return nil
}

// List returns the most recent entries, newest first.
func (h *SQLiteHistory) List(ctx context.Context, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT id, source, schedule_id, started_at, ended_at,
			duration_secs, block_only, blocked_apps, outcome
		FROM lockouts
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list lockouts: %w", err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		var id, apps string
		if err := rows.Scan(&id, &e.Source, &e.ScheduleID, &e.StartedAt,
			&e.EndedAt, &e.DurationSecs, &e.BlockOnly, &apps, &e.Outcome); err != nil {
			return nil, err
		}
		if parsed, err := uuid.Parse(id); err == nil {
			e.ID = parsed
		}
		_ = json.Unmarshal([]byte(apps), &e.BlockedApps)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the database connection.
func (h *SQLiteHistory) Close() error {
	return h.db.Close()
}

var _ domain.HistoryStore = (*SQLiteHistory)(nil)
