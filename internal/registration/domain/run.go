package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunState is the lifecycle state of a dispatch run.
type RunState string

const (
	RunStateIdle      RunState = "idle"
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateCancelled RunState = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s RunState) IsTerminal() bool {
	return s == RunStateCompleted || s == RunStateCancelled
}

// DispatchRun is one full pass over a target list with a fixed verb. It is
// owned by the caller that drives the dispatcher; the presentation layer only
// observes it.
type DispatchRun struct {
	id         uuid.UUID
	eventID    string
	verb       Verb
	state      RunState
	total      int
	completed  int
	failed     int
	startedAt  time.Time
	finishedAt time.Time
	failures   []FailureGroup
}

// NewDispatchRun creates an idle run.
func NewDispatchRun(eventID string, verb Verb) (*DispatchRun, error) {
	if !verb.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVerb, verb)
	}
	return &DispatchRun{
		id:      uuid.New(),
		eventID: eventID,
		verb:    verb,
		state:   RunStateIdle,
	}, nil
}

// RehydrateDispatchRun rebuilds a run from stored state.
func RehydrateDispatchRun(
	id uuid.UUID,
	eventID string,
	verb Verb,
	state RunState,
	total, completed, failed int,
	startedAt, finishedAt time.Time,
	failures []FailureGroup,
) *DispatchRun {
	return &DispatchRun{
		id:         id,
		eventID:    eventID,
		verb:       verb,
		state:      state,
		total:      total,
		completed:  completed,
		failed:     failed,
		startedAt:  startedAt,
		finishedAt: finishedAt,
		failures:   failures,
	}
}

// Start moves an idle run to running.
func (r *DispatchRun) Start(total int) error {
	if r.state != RunStateIdle {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, r.state)
	}
	r.state = RunStateRunning
	r.total = total
	r.startedAt = time.Now().UTC()
	return nil
}

// RecordOutcome counts a resolved target.
func (r *DispatchRun) RecordOutcome(o RequestOutcome) {
	r.completed++
	if o.Failed() {
		r.failed++
	}
}

// Cancel marks a running run as cancelled. In-flight work still drains.
func (r *DispatchRun) Cancel() error {
	if r.state != RunStateRunning {
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, r.state)
	}
	r.state = RunStateCancelled
	return nil
}

// Finish closes the run. A cancelled run stays cancelled.
func (r *DispatchRun) Finish(failures []FailureGroup) error {
	switch r.state {
	case RunStateRunning:
		r.state = RunStateCompleted
	case RunStateCancelled:
	default:
		return fmt.Errorf("%w: finish from %s", ErrInvalidTransition, r.state)
	}
	r.failures = failures
	r.finishedAt = time.Now().UTC()
	return nil
}

func (r *DispatchRun) ID() uuid.UUID            { return r.id }
func (r *DispatchRun) EventID() string          { return r.eventID }
func (r *DispatchRun) Verb() Verb               { return r.verb }
func (r *DispatchRun) State() RunState          { return r.state }
func (r *DispatchRun) Total() int               { return r.total }
func (r *DispatchRun) Completed() int           { return r.completed }
func (r *DispatchRun) Failed() int              { return r.failed }
func (r *DispatchRun) Succeeded() int           { return r.completed - r.failed }
func (r *DispatchRun) StartedAt() time.Time     { return r.startedAt }
func (r *DispatchRun) FinishedAt() time.Time    { return r.finishedAt }
func (r *DispatchRun) Failures() []FailureGroup { return r.failures }
