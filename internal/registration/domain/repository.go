package domain

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when no run matches the requested id.
var ErrRunNotFound = errors.New("dispatch run not found")

// HistoryRepository stores finished dispatch runs and their failures.
type HistoryRepository interface {
	Save(ctx context.Context, run *DispatchRun) error
	FindByID(ctx context.Context, id uuid.UUID) (*DispatchRun, error)
	List(ctx context.Context, limit int) ([]*DispatchRun, error)
}
