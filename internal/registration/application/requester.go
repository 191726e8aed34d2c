package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixgeelhaar/bulkreg/internal/registration/domain"
	"github.com/felixgeelhaar/bulkreg/pkg/observability"
	"github.com/sony/gobreaker/v2"
)

// MaxSendAttempts bounds how often Requester.Send tries one URL.
const MaxSendAttempts = 3

// RequesterConfig configures the circuit breaker guarding the requester.
type RequesterConfig struct {
	// FailureThreshold is the number of consecutive failed sends that opens
	// the breaker. A send fails when all of its attempts fail.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// DefaultRequesterConfig returns the default breaker settings.
func DefaultRequesterConfig() RequesterConfig {
	return RequesterConfig{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("error response: %d", e.code)
}

// Requester registers one URL at a time with a blocking call. It is the
// low-volume counterpart of Dispatcher: each URL gets up to MaxSendAttempts
// immediate attempts and the caller only learns whether one succeeded.
//
// A Requester is long-lived. Its breaker spans every Send, so a registration
// API that keeps failing stops being called until the breaker half-opens.
type Requester struct {
	client  HTTPDoer
	breaker *gobreaker.CircuitBreaker[int]
	logger  *slog.Logger
	metrics observability.Metrics
}

// NewRequester creates a requester sharing one breaker across sends.
func NewRequester(client HTTPDoer, cfg RequesterConfig, logger *slog.Logger, metrics observability.Metrics) *Requester {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultRequesterConfig().FailureThreshold
	}

	r := &Requester{
		client:  client,
		logger:  logger,
		metrics: metrics,
	}
	r.breaker = gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:        "registration-api",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return r
}

// Send PUTs url with token and reports whether any attempt got a response
// below 301. Transport errors and error responses are retried the same way,
// with no delay. Failure details are not returned.
func (r *Requester) Send(ctx context.Context, token, url string) bool {
	if token == "" {
		r.logger.Error("single request skipped", "url", url, "error", domain.ErrEmptyToken)
		return false
	}

	_, err := r.breaker.Execute(func() (int, error) {
		return r.attempt(ctx, token, url)
	})
	if err == nil {
		return true
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		r.metrics.Counter(observability.MetricRequesterCircuitOpen, 1)
		r.logger.Warn("registration api circuit open, request not sent", "url", url)
	}
	return false
}

// attempt tries url up to MaxSendAttempts times and returns the last error
// when none succeeded.
func (r *Requester) attempt(ctx context.Context, token, url string) (int, error) {
	var err error
	for n := 1; n <= MaxSendAttempts; n++ {
		outcome := doRequest(ctx, r.client, domain.VerbRegister, url, token)
		r.metrics.Counter(observability.MetricRequesterAttempts, 1)
		if !outcome.TransportFailed() && outcome.StatusCode < 301 {
			return outcome.StatusCode, nil
		}

		err = &statusError{code: outcome.StatusCode}
		r.logger.Debug("single request attempt failed",
			"url", url,
			"attempt", n,
			"error", err,
		)
	}
	return 0, err
}

// BreakerState exposes the breaker state for diagnostics.
func (r *Requester) BreakerState() string {
	return r.breaker.State().String()
}
