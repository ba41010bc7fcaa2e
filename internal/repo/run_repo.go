package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/release-engineering/retasc/internal/domain"
)

// RunRepo — история прогонов.
//
// Записи используются только для аудита и API: вычисление их не читает.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// RunFilter — фильтр списка прогонов.
type RunFilter struct {
	Status  domain.RunStatus
	Trigger string
	Limit   int
	Offset  int
}

// Create сохраняет новый прогон.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	query := `
		INSERT INTO retasc_runs (id, status, trigger, dry_run, today, started_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		run.Trigger,
		run.DryRun,
		run.Today,
		run.StartedAt,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Finish сохраняет итог прогона и результаты задач одной транзакцией.
func (r *RunRepo) Finish(ctx context.Context, run *domain.Run) error {
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE retasc_runs
			SET status = $2, summary = $3, finished_at = $4, error = $5
			WHERE id = $1
		`, run.ID, run.Status, summary, run.FinishedAt, nullString(run.Error))
		if err != nil {
			return fmt.Errorf("update run: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		batch := &pgx.Batch{}
		for i, res := range run.Results {
			errs, err := json.Marshal(res.Errors)
			if err != nil {
				return fmt.Errorf("marshal errors: %w", err)
			}
			steps, err := json.Marshal(res.Steps)
			if err != nil {
				return fmt.Errorf("marshal steps: %w", err)
			}
			batch.Queue(`
				INSERT INTO retasc_task_results (run_id, position, rule, release_key, state, issues_touched, errors, steps)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`, run.ID, i, res.Rule, string(res.ReleaseKey), string(res.State), res.IssuesTouched, errs, steps)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert task results: %w", err)
		}
		return nil
	})
}

const runColumns = `id, status, trigger, dry_run, today, summary, started_at, finished_at, error, created_at`

// GetByID возвращает прогон с результатами задач.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	run, err := scanRun(r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM retasc_runs WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT rule, release_key, state, issues_touched, errors, steps
		FROM retasc_task_results
		WHERE run_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list task results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			res         domain.TaskResult
			key, state  string
			errs, steps []byte
		)
		if err := rows.Scan(&res.Rule, &key, &state, &res.IssuesTouched, &errs, &steps); err != nil {
			return nil, fmt.Errorf("scan task result: %w", err)
		}
		res.ReleaseKey = domain.ReleaseKey(key)
		res.State = domain.TaskState(state)
		if err := unmarshalNullable(errs, &res.Errors); err != nil {
			return nil, err
		}
		if err := unmarshalNullable(steps, &res.Steps); err != nil {
			return nil, err
		}
		run.Results = append(run.Results, res)
	}
	return run, rows.Err()
}

// List возвращает прогоны, новые первыми.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM retasc_runs
		WHERE ($1::text IS NULL OR status = $1)
		  AND ($2::text IS NULL OR trigger = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, nullString(string(filter.Status)), nullString(filter.Trigger), filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanRun(row pgx.Row) (*domain.Run, error) {
	var (
		run     domain.Run
		summary []byte
		runErr  *string
	)
	err := row.Scan(
		&run.ID,
		&run.Status,
		&run.Trigger,
		&run.DryRun,
		&run.Today,
		&summary,
		&run.StartedAt,
		&run.FinishedAt,
		&runErr,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if err := unmarshalNullable(summary, &run.Summary); err != nil {
		return nil, err
	}
	if runErr != nil {
		run.Error = *runErr
	}
	return &run, nil
}

func unmarshalNullable(data []byte, out any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal %T: %w", out, err)
	}
	return nil
}

// nullString возвращает nil для пустой строки (NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
