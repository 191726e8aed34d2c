package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/bulkreg/internal/registration/domain"
	"github.com/felixgeelhaar/bulkreg/pkg/observability"
	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency is the in-flight request cap used when none is configured.
const DefaultConcurrency = 25

// ErrDispatcherUsed is returned when Run is called on a dispatcher that already ran.
var ErrDispatcherUsed = errors.New("dispatcher has already run")

// HTTPDoer executes HTTP requests. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Event is emitted by a Dispatcher while it runs.
type Event interface {
	isEvent()
}

// ProgressEvent reports how many targets have resolved so far.
type ProgressEvent struct {
	Count int
	Total int
}

// OutcomeEvent carries the result of one target.
type OutcomeEvent struct {
	Outcome domain.RequestOutcome
}

// CompletedEvent is the last event of a run.
type CompletedEvent struct {
	Total     int
	Resolved  int
	Cancelled bool
	Failures  []domain.FailureGroup
}

func (ProgressEvent) isEvent()  {}
func (OutcomeEvent) isEvent()   {}
func (CompletedEvent) isEvent() {}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics observability.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		if metrics != nil {
			d.metrics = metrics
		}
	}
}

// WithCancelToken shares a cancellation token with the caller.
func WithCancelToken(token *domain.CancelToken) DispatcherOption {
	return func(d *Dispatcher) {
		if token != nil {
			d.cancel = token
		}
	}
}

// Dispatcher issues one request per target under a concurrency cap and
// reports every outcome on its event channel. A Dispatcher runs once.
//
// Outcomes arrive in completion order. Every outcome is followed by a
// ProgressEvent whose count increases by one. A single CompletedEvent ends
// the stream, after which the channel is closed.
type Dispatcher struct {
	client  HTTPDoer
	events  chan<- Event
	cancel  *domain.CancelToken
	ledger  *domain.FailureLedger
	logger  *slog.Logger
	metrics observability.Metrics
	used    atomic.Bool
}

// NewDispatcher creates a dispatcher that publishes to events.
func NewDispatcher(client HTTPDoer, events chan<- Event, opts ...DispatcherOption) *Dispatcher {
	if client == nil {
		client = http.DefaultClient
	}
	d := &Dispatcher{
		client:  client,
		events:  events,
		cancel:  domain.NewCancelToken(),
		ledger:  domain.NewFailureLedger(),
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Cancel asks the run to stop starting new requests. Requests already in
// flight complete and are still reported.
func (d *Dispatcher) Cancel() {
	d.cancel.Cancel()
}

// Ledger returns the failures recorded so far. Read it only after the
// CompletedEvent has been received.
func (d *Dispatcher) Ledger() *domain.FailureLedger {
	return d.ledger
}

// Run dispatches targets with verb and blocks until every started request
// has resolved. Invalid arguments are reported before any request is sent
// and before any event is emitted. Cancelling ctx has the same effect as
// Cancel: it never aborts an open request.
func (d *Dispatcher) Run(ctx context.Context, targets []domain.RegistrationTarget, verb domain.Verb, bearerToken string, concurrencyLimit int) error {
	if !verb.IsValid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidVerb, verb)
	}
	if bearerToken == "" {
		return domain.ErrEmptyToken
	}
	if concurrencyLimit <= 0 {
		return fmt.Errorf("%w: %d", domain.ErrInvalidConcurrency, concurrencyLimit)
	}
	if !d.used.CompareAndSwap(false, true) {
		return ErrDispatcherUsed
	}
	defer close(d.events)

	stopWatch := context.AfterFunc(ctx, d.cancel.Cancel)
	defer stopWatch()

	// In-flight requests must not be torn down by cancellation.
	requestCtx := context.WithoutCancel(ctx)

	d.logger.InfoContext(ctx, "dispatch started",
		"verb", verb.String(),
		"targets", len(targets),
		"concurrency", concurrencyLimit,
	)
	timer := observability.StartTimer("dispatch").
		WithLogger(d.logger).
		WithMetrics(d.metrics).
		WithTags(observability.T("verb", verb.String()))

	results := make(chan domain.RequestOutcome, concurrencyLimit)
	go d.admit(requestCtx, targets, verb, bearerToken, concurrencyLimit, results)

	resolved := 0
	draining := false
	for outcome := range results {
		if outcome.Failed() {
			d.ledger.RecordFailure(outcome.Target.SessionID, outcome.Target.TicketID)
		}
		d.events <- OutcomeEvent{Outcome: outcome}

		resolved++
		if !draining && d.cancel.Cancelled() {
			draining = true
			d.logger.InfoContext(ctx, "dispatch cancelled, draining in-flight requests",
				"resolved", resolved,
				"total", len(targets),
			)
		}
		d.events <- ProgressEvent{Count: resolved, Total: len(targets)}
	}

	cancelled := d.cancel.Cancelled() && resolved < len(targets)
	d.events <- CompletedEvent{
		Total:     len(targets),
		Resolved:  resolved,
		Cancelled: cancelled,
		Failures:  d.ledger.Export(),
	}

	d.metrics.Counter(observability.MetricDispatchRuns, 1,
		observability.T("verb", verb.String()),
		observability.T("cancelled", fmt.Sprint(cancelled)),
	)
	timer.Stop()
	d.logger.InfoContext(ctx, "dispatch finished",
		"resolved", resolved,
		"failed", d.ledger.Len(),
		"cancelled", cancelled,
	)
	return nil
}

// admit starts one goroutine per target, holding a permit for the lifetime
// of each request. It stops admitting once the cancel token is set and
// closes results after every started request has reported.
func (d *Dispatcher) admit(ctx context.Context, targets []domain.RegistrationTarget, verb domain.Verb, token string, limit int, results chan<- domain.RequestOutcome) {
	permits := semaphore.NewWeighted(int64(limit))

	// A blocked Acquire must wake up when the run is cancelled.
	acquireCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-d.cancel.Done():
			stop()
		case <-acquireCtx.Done():
		}
	}()

	var (
		wg       sync.WaitGroup
		inFlight atomic.Int64
	)
	for _, target := range targets {
		if d.cancel.Cancelled() {
			break
		}
		if err := permits.Acquire(acquireCtx, 1); err != nil {
			break
		}
		// Acquire may win a race with Cancel; honor the token once more.
		if d.cancel.Cancelled() {
			permits.Release(1)
			break
		}

		wg.Add(1)
		go func(target domain.RegistrationTarget) {
			defer wg.Done()
			defer permits.Release(1)

			d.metrics.Gauge(observability.MetricDispatchInFlight, float64(inFlight.Add(1)))
			outcome := d.send(ctx, target, verb, token)
			d.metrics.Gauge(observability.MetricDispatchInFlight, float64(inFlight.Add(-1)))

			results <- outcome
		}(target)
	}

	wg.Wait()
	close(results)
}

// send performs a single attempt for target.
func (d *Dispatcher) send(ctx context.Context, target domain.RegistrationTarget, verb domain.Verb, token string) domain.RequestOutcome {
	start := time.Now()
	outcome := doRequest(ctx, d.client, verb, target.URL, token)
	outcome.Target = target

	result := "success"
	if outcome.TransportFailed() {
		result = "transport_error"
	} else if outcome.Failed() {
		result = "failure"
	}
	d.metrics.Counter(observability.MetricDispatchRequests, 1,
		observability.T("verb", verb.String()),
		observability.T("result", result),
	)
	d.metrics.Timing(observability.MetricDispatchRequestDuration, time.Since(start),
		observability.T("verb", verb.String()),
	)

	if outcome.Failed() {
		d.logger.DebugContext(ctx, "registration request failed",
			"url", target.URL,
			"status", outcome.StatusCode,
		)
	}
	return outcome
}

// doRequest issues one authenticated request with no body. A transport
// error yields status 0 with the error text as body.
func doRequest(ctx context.Context, client HTTPDoer, verb domain.Verb, url, token string) domain.RequestOutcome {
	req, err := http.NewRequestWithContext(ctx, verb.String(), url, nil)
	if err != nil {
		return domain.RequestOutcome{StatusCode: domain.StatusTransportFailure, ResponseBody: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return domain.RequestOutcome{StatusCode: domain.StatusTransportFailure, ResponseBody: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.RequestOutcome{StatusCode: domain.StatusTransportFailure, ResponseBody: err.Error()}
	}
	return domain.RequestOutcome{StatusCode: resp.StatusCode, ResponseBody: string(body)}
}
