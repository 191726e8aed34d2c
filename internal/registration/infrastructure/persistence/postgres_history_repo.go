package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/felixgeelhaar/bulkreg/internal/registration/domain"
	"github.com/felixgeelhaar/bulkreg/internal/shared/infrastructure/database"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresHistoryRepository implements domain.HistoryRepository using
// PostgreSQL, for teams sharing one history.
type PostgresHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresHistoryRepository creates a PostgreSQL history repository.
func NewPostgresHistoryRepository(pool *pgxpool.Pool) *PostgresHistoryRepository {
	return &PostgresHistoryRepository{pool: pool}
}

var _ domain.HistoryRepository = (*PostgresHistoryRepository)(nil)

const postgresRunColumns = `id, event_id, verb, state, total, completed, failed, started_at, finished_at`

// Save inserts or replaces a run together with its failures.
func (r *PostgresHistoryRepository) Save(ctx context.Context, run *domain.DispatchRun) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO dispatch_runs (`+postgresRunColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			total = EXCLUDED.total,
			completed = EXCLUDED.completed,
			failed = EXCLUDED.failed,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at
	`,
		run.ID(),
		run.EventID(),
		run.Verb().String(),
		string(run.State()),
		run.Total(),
		run.Completed(),
		run.Failed(),
		nullableTime(run.StartedAt()),
		nullableTime(run.FinishedAt()),
	)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM run_failures WHERE run_id = $1`, run.ID())
	for i, row := range flatten(run.Failures()) {
		batch.Queue(
			`INSERT INTO run_failures (run_id, position, session_id, ticket_id) VALUES ($1, $2, $3, $4)`,
			run.ID(), i, row.sessionID, row.ticketID,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save failures: %w", err)
	}

	return tx.Commit(ctx)
}

// FindByID loads one run with its failures.
func (r *PostgresHistoryRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.DispatchRun, error) {
	var s postgresRun
	err := r.pool.QueryRow(ctx,
		`SELECT `+postgresRunColumns+` FROM dispatch_runs WHERE id = $1`, id,
	).Scan(s.dest()...)
	if database.IsNoRows(err) {
		return nil, domain.ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.hydrate(ctx, s)
}

// List returns up to limit runs, newest first. A non-positive limit returns
// every run.
func (r *PostgresHistoryRepository) List(ctx context.Context, limit int) ([]*domain.DispatchRun, error) {
	query := `SELECT ` + postgresRunColumns + ` FROM dispatch_runs ORDER BY started_at DESC NULLS LAST`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	scanned, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (postgresRun, error) {
		var s postgresRun
		err := row.Scan(s.dest()...)
		return s, err
	})
	if err != nil {
		return nil, err
	}

	runs := make([]*domain.DispatchRun, 0, len(scanned))
	for _, s := range scanned {
		run, err := r.hydrate(ctx, s)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

type postgresRun struct {
	id                       uuid.UUID
	eventID, verb, state     string
	total, completed, failed int
	startedAt, finishedAt    *time.Time
}

func (s *postgresRun) dest() []any {
	return []any{&s.id, &s.eventID, &s.verb, &s.state, &s.total, &s.completed, &s.failed, &s.startedAt, &s.finishedAt}
}

func (r *PostgresHistoryRepository) hydrate(ctx context.Context, s postgresRun) (*domain.DispatchRun, error) {
	verb, err := domain.ParseVerb(s.verb)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT session_id, ticket_id FROM run_failures WHERE run_id = $1 ORDER BY position`, s.id)
	if err != nil {
		return nil, err
	}
	failureRows, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (failureRow, error) {
		var f failureRow
		err := row.Scan(&f.sessionID, &f.ticketID)
		return f, err
	})
	if err != nil {
		return nil, err
	}

	return domain.RehydrateDispatchRun(
		s.id, s.eventID, verb, domain.RunState(s.state),
		s.total, s.completed, s.failed,
		derefTime(s.startedAt), derefTime(s.finishedAt),
		regroup(failureRows),
	), nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
