package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/felixgeelhaar/bulkreg/internal/registration/domain"
	"github.com/felixgeelhaar/bulkreg/internal/shared/infrastructure/database"
	"github.com/google/uuid"
)

// SQLiteHistoryRepository implements domain.HistoryRepository using SQLite.
type SQLiteHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteHistoryRepository creates a SQLite history repository. The
// schema must already be migrated.
func NewSQLiteHistoryRepository(db *sql.DB) *SQLiteHistoryRepository {
	return &SQLiteHistoryRepository{db: db}
}

var _ domain.HistoryRepository = (*SQLiteHistoryRepository)(nil)

// timeLayout has a fixed-width fraction so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const sqliteRunColumns = `id, event_id, verb, state, total, completed, failed, started_at, finished_at`

// Save inserts or replaces a run together with its failures.
func (r *SQLiteHistoryRepository) Save(ctx context.Context, run *domain.DispatchRun) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO dispatch_runs (`+sqliteRunColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			state = excluded.state,
			total = excluded.total,
			completed = excluded.completed,
			failed = excluded.failed,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`,
		run.ID().String(),
		run.EventID(),
		run.Verb().String(),
		string(run.State()),
		run.Total(),
		run.Completed(),
		run.Failed(),
		formatTime(run.StartedAt()),
		formatTime(run.FinishedAt()),
	)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_failures WHERE run_id = ?`, run.ID().String()); err != nil {
		return fmt.Errorf("clear failures: %w", err)
	}
	for i, row := range flatten(run.Failures()) {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO run_failures (run_id, position, session_id, ticket_id) VALUES (?, ?, ?, ?)`,
			run.ID().String(), i, row.sessionID, row.ticketID,
		)
		if err != nil {
			return fmt.Errorf("save failure: %w", err)
		}
	}

	return tx.Commit()
}

// FindByID loads one run with its failures.
func (r *SQLiteHistoryRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.DispatchRun, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteRunColumns+` FROM dispatch_runs WHERE id = ?`, id.String())
	run, err := r.scanRun(ctx, row)
	if database.IsNoRows(err) {
		return nil, domain.ErrRunNotFound
	}
	return run, err
}

// List returns up to limit runs, newest first. A non-positive limit returns
// every run.
func (r *SQLiteHistoryRepository) List(ctx context.Context, limit int) ([]*domain.DispatchRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM dispatch_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}

	var scanned []sqliteRun
	for rows.Next() {
		var s sqliteRun
		if err := rows.Scan(s.dest()...); err != nil {
			_ = rows.Close()
			return nil, err
		}
		scanned = append(scanned, s)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	// Failures are loaded after the cursor closes; the pool holds one connection.
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

type sqliteRun struct {
	id, eventID, verb, state string
	total, completed, failed int
	startedAt, finishedAt    sql.NullString
}

func (s *sqliteRun) dest() []any {
	return []any{&s.id, &s.eventID, &s.verb, &s.state, &s.total, &s.completed, &s.failed, &s.startedAt, &s.finishedAt}
}

func (r *SQLiteHistoryRepository) scanRun(ctx context.Context, row *sql.Row) (*domain.DispatchRun, error) {
	var s sqliteRun
	if err := row.Scan(s.dest()...); err != nil {
		return nil, err
	}
	return r.hydrate(ctx, s)
}

func (r *SQLiteHistoryRepository) hydrate(ctx context.Context, s sqliteRun) (*domain.DispatchRun, error) {
	id, err := uuid.Parse(s.id)
	if err != nil {
		return nil, fmt.Errorf("stored run id %q: %w", s.id, err)
	}
	verb, err := domain.ParseVerb(s.verb)
	if err != nil {
		return nil, err
	}
	failures, err := r.failures(ctx, s.id)
	if err != nil {
		return nil, err
	}
	return domain.RehydrateDispatchRun(
		id, s.eventID, verb, domain.RunState(s.state),
		s.total, s.completed, s.failed,
		parseTime(s.startedAt), parseTime(s.finishedAt),
		failures,
	), nil
}

func (r *SQLiteHistoryRepository) failures(ctx context.Context, runID string) ([]domain.FailureGroup, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT session_id, ticket_id FROM run_failures WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []failureRow
	for rows.Next() {
		var f failureRow
		if err := rows.Scan(&f.sessionID, &f.ticketID); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return regroup(out), nil
}

func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
