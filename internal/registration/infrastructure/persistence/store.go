package persistence

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/bulkreg/internal/registration/domain"
	"github.com/felixgeelhaar/bulkreg/internal/registration/infrastructure/persistence/migrations"
	"github.com/felixgeelhaar/bulkreg/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/bulkreg/internal/shared/infrastructure/database/postgres"
	"github.com/felixgeelhaar/bulkreg/internal/shared/infrastructure/database/sqlite"
)

// Store is an open, migrated history database.
type Store struct {
	driver database.Driver
	repo   domain.HistoryRepository
	ping   func(ctx context.Context) error
	close  func() error
}

// Open connects to the backend selected by cfg, applies migrations and
// returns the matching repository.
func Open(ctx context.Context, cfg database.Config) (*Store, error) {
	switch driver := cfg.Driver(); driver {
	case database.DriverPostgres:
		pool, err := postgres.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := migrations.RunPostgres(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return &Store{
			driver: driver,
			repo:   NewPostgresHistoryRepository(pool),
			ping:   pool.Ping,
			close: func() error {
				pool.Close()
				return nil
			},
		}, nil

	case database.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.ResolvedSQLitePath())
		if err != nil {
			return nil, err
		}
		if err := migrations.RunSQLite(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		return &Store{
			driver: driver,
			repo:   NewSQLiteHistoryRepository(db),
			ping:   db.PingContext,
			close:  db.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// Driver reports the backend in use.
func (s *Store) Driver() database.Driver { return s.driver }

// Repository returns the history repository.
func (s *Store) Repository() domain.HistoryRepository { return s.repo }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error { return s.ping(ctx) }

// Close releases the connection.
func (s *Store) Close() error { return s.close() }
