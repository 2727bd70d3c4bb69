package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"deliveryd/internal/event"
	logx "deliveryd/pkg/logx"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	var one int
	if err := pool.QueryRow(ctx, "select 1").Scan(&one); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresMigrations); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Info("storage opened", logx.String("host", pcfg.ConnConfig.Host))
	return &postgresStore{pool: pool, log: log}, nil
}

func (s *postgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *postgresStore) SaveActiveEvents(ctx context.Context, events []event.Snapshot) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM active_events`); err != nil {
			return err
		}
		now := time.Now()
		batch := &pgx.Batch{}
		for _, ev := range events {
			body, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			batch.Queue(`INSERT INTO active_events(id, run_id, saved_at, body) VALUES($1,$2,$3,$4::jsonb)`,
				ev.ID, ev.RunID, now, string(body))
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *postgresStore) LoadActiveEvents(ctx context.Context) ([]event.Snapshot, error) {
	rows, err := s.pool.Query(ctx, `SELECT body FROM active_events ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []event.Snapshot
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var ev event.Snapshot
		if err := json.Unmarshal(body, &ev); err != nil {
			s.log.Warn("skipping unreadable active event", logx.Err(err))
			continue
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *postgresStore) PutSchedule(ctx context.Context, rec ScheduleRecord) error {
	if rec.ID == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO schedules(id, start_at, end_at, timezone) VALUES($1,$2,$3,$4)
		 ON CONFLICT (id) DO UPDATE SET start_at=EXCLUDED.start_at, end_at=EXCLUDED.end_at, timezone=EXCLUDED.timezone`,
		rec.ID, rec.Start, rec.End, rec.Timezone,
	)
	return err
}

func (s *postgresStore) DeleteSchedule(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	return err
}

func (s *postgresStore) LoadSchedules(ctx context.Context) ([]ScheduleRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, start_at, end_at, timezone FROM schedules ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ScheduleRecord, error) {
		var r ScheduleRecord
		err := row.Scan(&r.ID, &r.Start, &r.End, &r.Timezone)
		return r, err
	})
}

func (s *postgresStore) AppendResult(ctx context.Context, res event.Result) error {
	body, err := json.Marshal(res)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO results(run_id, id, ended_at, body) VALUES($1,$2,$3,$4::jsonb) ON CONFLICT DO NOTHING`,
		res.RunID, res.ID, res.EndedAt, string(body),
	)
	return err
}

func (s *postgresStore) RecentResults(ctx context.Context, id string, limit int) ([]event.Result, error) {
	limit = normLimit(limit)
	rows, err := s.pool.Query(ctx,
		`SELECT body FROM results WHERE ($1 = '' OR id = $1) ORDER BY ended_at DESC LIMIT $2`,
		id, limit,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (event.Result, error) {
		var (
			body []byte
			r    event.Result
		)
		if err := row.Scan(&body); err != nil {
			return r, err
		}
		return r, json.Unmarshal(body, &r)
	})
}
