package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"deliveryd/internal/event"
	logx "deliveryd/pkg/logx"
)

//go:embed migrations.sql
var sqliteMigrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(ctx, sqliteMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Info("storage opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SaveActiveEvents(ctx context.Context, events []event.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM active_events`); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for _, ev := range events {
		body, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO active_events(id, run_id, saved_at, body) VALUES(?,?,?,?)`,
			ev.ID, ev.RunID, now, string(body),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadActiveEvents(ctx context.Context) ([]event.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM active_events ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []event.Snapshot
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var ev event.Snapshot
		if err := json.Unmarshal([]byte(body), &ev); err != nil {
			s.log.Warn("skipping unreadable active event", logx.Err(err))
			continue
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutSchedule(ctx context.Context, rec ScheduleRecord) error {
	if rec.ID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules(id, start_ms, end_ms, timezone) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET start_ms=excluded.start_ms, end_ms=excluded.end_ms, timezone=excluded.timezone`,
		rec.ID, rec.Start.UnixMilli(), rec.End.UnixMilli(), rec.Timezone,
	)
	return err
}

func (s *sqliteStore) DeleteSchedule(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) LoadSchedules(ctx context.Context) ([]ScheduleRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, start_ms, end_ms, timezone FROM schedules ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ScheduleRecord
	for rows.Next() {
		var (
			r          ScheduleRecord
			start, end int64
		)
		if err := rows.Scan(&r.ID, &start, &end, &r.Timezone); err != nil {
			return nil, err
		}
		r.Start, r.End = time.UnixMilli(start), time.UnixMilli(end)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendResult(ctx context.Context, res event.Result) error {
	body, err := json.Marshal(res)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO results(run_id, id, ended_at, body) VALUES(?,?,?,?)
		 ON CONFLICT(run_id) DO NOTHING`,
		res.RunID, res.ID, res.EndedAt.UnixMilli(), string(body),
	)
	return err
}

func (s *sqliteStore) RecentResults(ctx context.Context, id string, limit int) ([]event.Result, error) {
	limit = normLimit(limit)
	var (
		rows *sql.Rows
		err  error
	)
	if id == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT body FROM results ORDER BY ended_at DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT body FROM results WHERE id = ? ORDER BY ended_at DESC LIMIT ?`, id, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []event.Result
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var r event.Result
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
