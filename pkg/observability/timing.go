package observability

import (
	"log/slog"
	"time"
)

// Timer tracks the duration of an operation and records it on stop.
type Timer struct {
	operation string
	start     time.Time
	logger    *slog.Logger
	metrics   Metrics
	tags      []Tag
}

// StartTimer creates a new timer for the given operation.
func StartTimer(operation string) *Timer {
	return &Timer{
		operation: operation,
		start:     time.Now(),
	}
}

// WithLogger logs the outcome when the timer stops.
func (t *Timer) WithLogger(logger *slog.Logger) *Timer {
	t.logger = logger
	return t
}

// WithMetrics records duration and counts when the timer stops.
func (t *Timer) WithMetrics(metrics Metrics) *Timer {
	t.metrics = metrics
	return t
}

// WithTags adds tags for metrics labeling.
func (t *Timer) WithTags(tags ...Tag) *Timer {
	t.tags = append(t.tags, tags...)
	return t
}

// Stop records the operation duration.
func (t *Timer) Stop() time.Duration {
	return t.StopWithError(nil)
}

// StopWithError records the operation duration and, if err is set, an error count.
func (t *Timer) StopWithError(err error) time.Duration {
	duration := time.Since(t.start)

	if t.logger != nil {
		if err != nil {
			t.logger.Error("operation failed",
				OperationKey, t.operation,
				DurationKey, duration.Milliseconds(),
				ErrorKey, err.Error(),
			)
		} else {
			t.logger.Info("operation completed",
				OperationKey, t.operation,
				DurationKey, duration.Milliseconds(),
			)
		}
	}

	if t.metrics != nil {
		tags := append(append([]Tag(nil), t.tags...), T(OperationKey, t.operation))
		t.metrics.Timing(MetricOperationDuration, duration, tags...)
		t.metrics.Counter(MetricOperationTotal, 1, tags...)
		if err != nil {
			t.metrics.Counter(MetricOperationErrors, 1, tags...)
		}
	}

	return duration
}
