package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/felixgeelhaar/bulkreg/internal/registration/domain"
	"github.com/felixgeelhaar/bulkreg/internal/shared/infrastructure/database"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), database.Config{
		SQLitePath: filepath.Join(t.TempDir(), "history.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func finishedRun(t *testing.T, eventID string, failures []domain.FailureGroup) *domain.DispatchRun {
	t.Helper()
	run, err := domain.NewDispatchRun(eventID, domain.VerbRegister)
	require.NoError(t, err)
	require.NoError(t, run.Start(3))
	run.RecordOutcome(domain.RequestOutcome{StatusCode: 204})
	run.RecordOutcome(domain.RequestOutcome{StatusCode: 404})
	run.RecordOutcome(domain.RequestOutcome{StatusCode: 0})
	require.NoError(t, run.Finish(failures))
	return run
}

func TestOpen_SQLiteByDefault(t *testing.T) {
	store := openTestStore(t)
	assert.Equal(t, database.DriverSQLite, store.Driver())
	assert.NoError(t, store.Ping(context.Background()))
}

func TestSQLiteHistoryRepository_SaveAndFind(t *testing.T) {
	ctx := context.Background()
	repo := openTestStore(t).Repository()

	failures := []domain.FailureGroup{
		{SessionID: 102, TicketIDs: []string{"7001", "ABC"}},
		{SessionID: 101, TicketIDs: []string{"5002"}},
	}
	run := finishedRun(t, "E1", failures)
	require.NoError(t, repo.Save(ctx, run))

	got, err := repo.FindByID(ctx, run.ID())
	require.NoError(t, err)

	assert.Equal(t, run.ID(), got.ID())
	assert.Equal(t, "E1", got.EventID())
	assert.Equal(t, domain.VerbRegister, got.Verb())
	assert.Equal(t, domain.RunStateCompleted, got.State())
	assert.Equal(t, 3, got.Total())
	assert.Equal(t, 3, got.Completed())
	assert.Equal(t, 2, got.Failed())
	assert.WithinDuration(t, run.StartedAt(), got.StartedAt(), time.Microsecond)
	assert.WithinDuration(t, run.FinishedAt(), got.FinishedAt(), time.Microsecond)
	assert.Equal(t, failures, got.Failures())
}

func TestSQLiteHistoryRepository_SaveReplacesFailures(t *testing.T) {
	ctx := context.Background()
	repo := openTestStore(t).Repository()

	run := finishedRun(t, "E1", []domain.FailureGroup{{SessionID: 1, TicketIDs: []string{"1", "2"}}})
	require.NoError(t, repo.Save(ctx, run))
	require.NoError(t, repo.Save(ctx, run))

	got, err := repo.FindByID(ctx, run.ID())
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, got.Failures()[0].TicketIDs)
}

func TestSQLiteHistoryRepository_NoFailures(t *testing.T) {
	ctx := context.Background()
	repo := openTestStore(t).Repository()

	run := finishedRun(t, "E1", nil)
	require.NoError(t, repo.Save(ctx, run))

	got, err := repo.FindByID(ctx, run.ID())
	require.NoError(t, err)
	assert.Nil(t, got.Failures())
}

func TestSQLiteHistoryRepository_FindByID_NotFound(t *testing.T) {
	repo := openTestStore(t).Repository()

	_, err := repo.FindByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestSQLiteHistoryRepository_List(t *testing.T) {
	ctx := context.Background()
	repo := openTestStore(t).Repository()

	var ids []uuid.UUID
	for _, event := range []string{"E1", "E2", "E3"} {
		run := finishedRun(t, event, nil)
		require.NoError(t, repo.Save(ctx, run))
		ids = append(ids, run.ID())
		time.Sleep(2 * time.Millisecond)
	}

	runs, err := repo.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID())
	assert.Equal(t, ids[1], runs[1].ID())

	all, err := repo.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
