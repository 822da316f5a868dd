package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/evagent/evagent/pkg/config"
	"github.com/evagent/evagent/pkg/history"
	"github.com/evagent/evagent/pkg/supervisor"
	"github.com/evagent/evagent/pkg/worker"
)

// Store implements history.Store using SQLite
type Store struct {
	db *sql.DB
}

// Factory creates SQLite stores
type Factory struct{}

var _ history.Factory = (*Factory)(nil)

func (f *Factory) CreateStore(ctx context.Context, cfg config.HistoryConfig) (history.Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite history requires a path")
	}
	s, err := Open(ctx, cfg.Path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Open opens or creates the history database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		final_status INTEGER NOT NULL,
		retries INTEGER NOT NULL,
		failed_kinds TEXT NOT NULL,
		summary TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create runs table: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Record(ctx context.Context, summary supervisor.RunSummary) error {
	if summary.RunID == "" {
		return errors.New("run summary has no run ID")
	}

	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}

	e := history.EntryOf(summary)
	failed := make([]string, len(e.FailedKinds))
	for i, k := range e.FailedKinds {
		failed[i] = string(k)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO runs (id, started_at, finished_at, final_status, retries, failed_kinds, summary) VALUES (?, ?, ?, ?, ?, ?, ?)",
		e.RunID,
		e.StartedAt.UTC().Format(time.RFC3339Nano),
		e.FinishedAt.UTC().Format(time.RFC3339Nano),
		e.FinalStatus,
		e.Retries,
		strings.Join(failed, ","),
		string(data))
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, runID string) (supervisor.RunSummary, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT summary FROM runs WHERE id = ?", runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return supervisor.RunSummary{}, fmt.Errorf("%s: %w", runID, history.ErrNotFound)
	}
	if err != nil {
		return supervisor.RunSummary{}, fmt.Errorf("failed to load run: %w", err)
	}

	var summary supervisor.RunSummary
	if err := json.Unmarshal([]byte(data), &summary); err != nil {
		return supervisor.RunSummary{}, fmt.Errorf("failed to decode run %s: %w", runID, err)
	}
	return summary, nil
}

func (s *Store) List(ctx context.Context, query history.Query) ([]history.Entry, error) {
	sqlQuery := "SELECT id, started_at, finished_at, final_status, retries, failed_kinds FROM runs"
	if query.FailedOnly {
		sqlQuery += " WHERE final_status = 0"
	}
	sqlQuery += " ORDER BY started_at DESC, id DESC"
	if query.Limit > 0 {
		sqlQuery = fmt.Sprintf("%s LIMIT %d", sqlQuery, query.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var entries []history.Entry
	for rows.Next() {
		var e history.Entry
		var started, finished, failed string
		if err := rows.Scan(&e.RunID, &started, &finished, &e.FinalStatus, &e.Retries, &failed); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		e.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		e.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		if failed != "" {
			for k := range strings.SplitSeq(failed, ",") {
				e.FailedKinds = append(e.FailedKinds, worker.Kind(k))
			}
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}

	return entries, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
