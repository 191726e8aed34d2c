package application

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/felixgeelhaar/bulkreg/pkg/observability"
	"github.com/stretchr/testify/assert"
)

const singleURL = "http://api.test/v1/events/E1/agenda/sessions/101/registrations/5001"

func countingDoer(calls *atomic.Int32, codes ...int) HTTPDoer {
	return doerFunc(func(req *http.Request) (*http.Response, error) {
		n := int(calls.Add(1)) - 1
		code := codes[len(codes)-1]
		if n < len(codes) {
			code = codes[n]
		}
		if code == 0 {
			return nil, errors.New("dial tcp: connection refused")
		}
		return response(code, ""), nil
	})
}

func TestRequester_Send(t *testing.T) {
	tests := []struct {
		name      string
		codes     []int
		wantOK    bool
		wantCalls int32
	}{
		{"first attempt succeeds", []int{200}, true, 1},
		{"redirect below threshold counts as success", []int{300}, true, 1},
		{"succeeds on second attempt", []int{500, 204}, true, 2},
		{"succeeds on third attempt", []int{0, 404, 200}, true, 3},
		{"gives up after three attempts", []int{500}, false, 3},
		{"301 is retried", []int{301}, false, 3},
		{"transport errors are retried", []int{0}, false, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			r := NewRequester(countingDoer(&calls, tt.codes...), DefaultRequesterConfig(), nil, nil)

			assert.Equal(t, tt.wantOK, r.Send(context.Background(), "token", singleURL))
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestRequester_Send_UsesPutWithBearer(t *testing.T) {
	var method, auth string
	client := doerFunc(func(req *http.Request) (*http.Response, error) {
		method = req.Method
		auth = req.Header.Get("Authorization")
		return response(http.StatusCreated, ""), nil
	})

	r := NewRequester(client, DefaultRequesterConfig(), nil, nil)
	assert.True(t, r.Send(context.Background(), "abc", singleURL))
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "Bearer abc", auth)
}

func TestRequester_Send_EmptyToken(t *testing.T) {
	var calls atomic.Int32
	r := NewRequester(countingDoer(&calls, 200), DefaultRequesterConfig(), nil, nil)

	assert.False(t, r.Send(context.Background(), "", singleURL))
	assert.Equal(t, int32(0), calls.Load())
}

func TestRequester_Send_CircuitOpensAfterConsecutiveFailedSends(t *testing.T) {
	var calls atomic.Int32
	metrics := observability.NewInMemoryMetrics()
	r := NewRequester(countingDoer(&calls, 503), RequesterConfig{FailureThreshold: 2, OpenTimeout: time.Minute}, nil, metrics)

	// A low threshold never cuts the attempts of one send short.
	assert.False(t, r.Send(context.Background(), "token", singleURL))
	assert.Equal(t, int32(MaxSendAttempts), calls.Load())
	assert.Equal(t, "closed", r.BreakerState())

	assert.False(t, r.Send(context.Background(), "token", singleURL))
	assert.Equal(t, int32(2*MaxSendAttempts), calls.Load())
	assert.Equal(t, "open", r.BreakerState())

	assert.False(t, r.Send(context.Background(), "token", singleURL))
	assert.Equal(t, int32(2*MaxSendAttempts), calls.Load())
	assert.Equal(t, int64(1), metrics.GetCounter(observability.MetricRequesterCircuitOpen))
	assert.Equal(t, int64(2*MaxSendAttempts), metrics.GetCounter(observability.MetricRequesterAttempts))
}

func TestRequester_Send_SuccessResetsFailureCount(t *testing.T) {
	var calls atomic.Int32
	// Send 1 fails three times, send 2 succeeds, send 3 fails three times.
	r := NewRequester(countingDoer(&calls, 500, 500, 500, 200, 500), RequesterConfig{FailureThreshold: 2, OpenTimeout: time.Minute}, nil, nil)

	assert.False(t, r.Send(context.Background(), "token", singleURL))
	assert.True(t, r.Send(context.Background(), "token", singleURL))
	assert.False(t, r.Send(context.Background(), "token", singleURL))
	assert.Equal(t, "closed", r.BreakerState())
	assert.Equal(t, int32(7), calls.Load())
}
