package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool подключается к PostgreSQL по dsn и проверяет соединение.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// schema — таблицы истории прогонов.
const schema = `
CREATE TABLE IF NOT EXISTS retasc_runs (
	id          uuid PRIMARY KEY,
	status      text NOT NULL,
	trigger     text NOT NULL,
	dry_run     boolean NOT NULL DEFAULT false,
	today       date NOT NULL,
	summary     jsonb,
	started_at  timestamptz,
	finished_at timestamptz,
	error       text,
	created_at  timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS retasc_runs_created_at_idx ON retasc_runs (created_at DESC);

CREATE TABLE IF NOT EXISTS retasc_task_results (
	run_id         uuid NOT NULL REFERENCES retasc_runs (id) ON DELETE CASCADE,
	position       integer NOT NULL,
	rule           text NOT NULL,
	release_key    text NOT NULL,
	state          text NOT NULL,
	issues_touched text[],
	errors         jsonb,
	steps          jsonb,
	PRIMARY KEY (run_id, position)
);
`

// Migrate создаёт таблицы, если их нет.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
