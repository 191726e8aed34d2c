package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/felixgeelhaar/bulkreg/internal/registration/domain"
	"github.com/felixgeelhaar/bulkreg/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// doerFunc adapts a function to HTTPDoer.
type doerFunc func(req *http.Request) (*http.Response, error)

func (f doerFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

func response(code int, body string) *http.Response {
	return &http.Response{
		StatusCode: code,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func makeTargets(t *testing.T, baseURL string, columns []domain.SessionColumn) []domain.RegistrationTarget {
	t.Helper()
	expander, err := domain.NewExpander(baseURL, "E1")
	require.NoError(t, err)
	targets, err := expander.Expand(columns)
	require.NoError(t, err)
	return targets
}

func sequentialTargets(t *testing.T, baseURL string, n int) []domain.RegistrationTarget {
	t.Helper()
	tickets := make([]string, n)
	for i := range tickets {
		tickets[i] = fmt.Sprint(i + 1)
	}
	return makeTargets(t, baseURL, []domain.SessionColumn{{Header: "100", TicketIDs: tickets}})
}

type collected struct {
	outcomes   []domain.RequestOutcome
	progress   []int
	completed  []CompletedEvent
	lastIsDone bool
}

// runAndCollect runs the dispatcher and drains its events. onEvent, if set,
// is called for every event on the collecting goroutine.
func runAndCollect(t *testing.T, client HTTPDoer, targets []domain.RegistrationTarget, verb domain.Verb, limit int, onEvent func(*Dispatcher, Event), opts ...DispatcherOption) (collected, *Dispatcher) {
	t.Helper()
	events := make(chan Event)
	d := NewDispatcher(client, events, opts...)

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Run(context.Background(), targets, verb, "secret-token", limit)
	}()

	var c collected
	var last Event
	for ev := range events {
		switch e := ev.(type) {
		case OutcomeEvent:
			c.outcomes = append(c.outcomes, e.Outcome)
		case ProgressEvent:
			c.progress = append(c.progress, e.Count)
		case CompletedEvent:
			c.completed = append(c.completed, e)
		}
		if onEvent != nil {
			onEvent(d, ev)
		}
		last = ev
	}
	require.NoError(t, <-errCh)
	_, c.lastIsDone = last.(CompletedEvent)
	return c, d
}

func expectedProgress(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func TestDispatcher_Run_EmitsEveryOutcomeThenCompletion(t *testing.T) {
	var (
		mu      sync.Mutex
		methods []string
		auths   []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		methods = append(methods, r.Method)
		auths = append(auths, r.Header.Get("Authorization"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	targets := sequentialTargets(t, server.URL, 10)
	c, d := runAndCollect(t, server.Client(), targets, domain.VerbRegister, 3, nil)

	assert.Len(t, c.outcomes, 10)
	assert.Equal(t, expectedProgress(10), c.progress)
	require.Len(t, c.completed, 1)
	assert.True(t, c.lastIsDone)
	assert.Equal(t, 10, c.completed[0].Total)
	assert.Equal(t, 10, c.completed[0].Resolved)
	assert.False(t, c.completed[0].Cancelled)
	assert.Nil(t, c.completed[0].Failures)
	assert.True(t, d.Ledger().IsEmpty())

	for i := range methods {
		assert.Equal(t, http.MethodPut, methods[i])
		assert.Equal(t, "Bearer secret-token", auths[i])
	}
}

func TestDispatcher_Run_DeleteVerb(t *testing.T) {
	var deletes atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			deletes.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	targets := sequentialTargets(t, server.URL, 4)
	c, _ := runAndCollect(t, server.Client(), targets, domain.VerbUnregister, 2, nil)

	assert.Len(t, c.outcomes, 4)
	assert.Equal(t, int32(4), deletes.Load())
}

func TestDispatcher_Run_RecordsOnlyFailedTargets(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/registrations/5002") {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"not found"}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	targets := makeTargets(t, server.URL, []domain.SessionColumn{
		{Header: "101", TicketIDs: []string{"5001", "5002"}},
		{Header: "102", TicketIDs: []string{"5003"}},
	})
	c, d := runAndCollect(t, server.Client(), targets, domain.VerbRegister, 2, nil)

	assert.Equal(t, []domain.FailureGroup{{SessionID: 101, TicketIDs: []string{"5002"}}}, d.Ledger().Export())
	assert.Equal(t, d.Ledger().Export(), c.completed[0].Failures)

	for _, o := range c.outcomes {
		if o.Target.TicketID == "5002" {
			assert.Equal(t, http.StatusNotFound, o.StatusCode)
			assert.Contains(t, o.ResponseBody, "not found")
		} else {
			assert.Equal(t, http.StatusNoContent, o.StatusCode)
		}
	}
}

func TestDispatcher_Run_StatusClassification(t *testing.T) {
	client := doerFunc(func(req *http.Request) (*http.Response, error) {
		if strings.HasSuffix(req.URL.Path, "/registrations/1") {
			return response(http.StatusInternalServerError, "boom"), nil
		}
		return response(http.StatusNoContent, ""), nil
	})

	targets := makeTargets(t, "http://api.test/v1", []domain.SessionColumn{
		{Header: "7", TicketIDs: []string{"1", "2"}},
	})
	_, d := runAndCollect(t, client, targets, domain.VerbRegister, 5, nil)

	groups := d.Ledger().Export()
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"1"}, groups[0].TicketIDs)
	assert.Equal(t, 1, d.Ledger().Len())
}

func TestDispatcher_Run_TransportFailureIsStatusZero(t *testing.T) {
	client := doerFunc(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	targets := sequentialTargets(t, "http://api.test/v1", 2)
	c, d := runAndCollect(t, client, targets, domain.VerbRegister, 1, nil)

	require.Len(t, c.outcomes, 2)
	for _, o := range c.outcomes {
		assert.Equal(t, domain.StatusTransportFailure, o.StatusCode)
		assert.Contains(t, o.ResponseBody, "connection refused")
	}
	assert.Equal(t, 2, d.Ledger().Len())
}

func TestDispatcher_Run_NonNumericTicketFailureIsRecorded(t *testing.T) {
	client := doerFunc(func(req *http.Request) (*http.Response, error) {
		return response(http.StatusBadRequest, ""), nil
	})

	targets := makeTargets(t, "http://api.test/v1", []domain.SessionColumn{
		{Header: "7", TicketIDs: []string{"ABC-1"}},
	})
	_, d := runAndCollect(t, client, targets, domain.VerbRegister, 1, nil)

	assert.Equal(t, []domain.FailureGroup{{SessionID: 7, TicketIDs: []string{"ABC-1"}}}, d.Ledger().Export())
}

func TestDispatcher_Run_RespectsConcurrencyLimit(t *testing.T) {
	const limit = 4
	var current, peak atomic.Int32
	client := doerFunc(func(req *http.Request) (*http.Response, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		current.Add(-1)
		return response(http.StatusOK, ""), nil
	})

	metrics := observability.NewInMemoryMetrics()
	targets := sequentialTargets(t, "http://api.test/v1", 40)
	c, _ := runAndCollect(t, client, targets, domain.VerbRegister, limit, nil, WithMetrics(metrics))

	assert.Len(t, c.outcomes, 40)
	assert.LessOrEqual(t, peak.Load(), int32(limit))
	assert.Greater(t, peak.Load(), int32(0))
	assert.LessOrEqual(t, metrics.GetGaugeHigh(observability.MetricDispatchInFlight), float64(limit))
	assert.Equal(t, int64(40), metrics.GetCounter(observability.MetricDispatchRequests,
		observability.T("verb", "PUT"), observability.T("result", "success")))
}

func TestDispatcher_Run_EmitsInCompletionOrder(t *testing.T) {
	slowDone := make(chan struct{})
	client := doerFunc(func(req *http.Request) (*http.Response, error) {
		if strings.HasSuffix(req.URL.Path, "/registrations/1") {
			<-slowDone
		}
		return response(http.StatusOK, ""), nil
	})

	targets := sequentialTargets(t, "http://api.test/v1", 2)
	c, _ := runAndCollect(t, client, targets, domain.VerbRegister, 2, func(d *Dispatcher, ev Event) {
		if p, ok := ev.(ProgressEvent); ok && p.Count == 1 {
			close(slowDone)
		}
	})

	require.Len(t, c.outcomes, 2)
	assert.Equal(t, "2", c.outcomes[0].Target.TicketID)
	assert.Equal(t, "1", c.outcomes[1].Target.TicketID)
	assert.Equal(t, []int{1, 2}, c.progress)
}

func TestDispatcher_Cancel_DrainsInFlightAndStopsAdmission(t *testing.T) {
	gate := make(chan struct{})
	var (
		mu      sync.Mutex
		started []string
	)
	client := doerFunc(func(req *http.Request) (*http.Response, error) {
		ticket := req.URL.Path[strings.LastIndex(req.URL.Path, "/")+1:]
		mu.Lock()
		started = append(started, ticket)
		mu.Unlock()
		if ticket != "1" && ticket != "2" {
			<-gate
		}
		return response(http.StatusOK, ""), nil
	})

	targets := sequentialTargets(t, "http://api.test/v1", 5)
	c, _ := runAndCollect(t, client, targets, domain.VerbRegister, 2, func(d *Dispatcher, ev Event) {
		if p, ok := ev.(ProgressEvent); ok && p.Count == 2 {
			d.Cancel()
			close(gate)
		}
	})

	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, started, "5")
	assert.Less(t, len(started), 5)
	assert.Len(t, c.outcomes, len(started))
	assert.Equal(t, expectedProgress(len(started)), c.progress)
	require.Len(t, c.completed, 1)
	assert.True(t, c.lastIsDone)
	assert.True(t, c.completed[0].Cancelled)
	assert.Equal(t, len(started), c.completed[0].Resolved)
}

func TestDispatcher_Run_PreflightErrors(t *testing.T) {
	var calls atomic.Int32
	client := doerFunc(func(req *http.Request) (*http.Response, error) {
		calls.Add(1)
		return response(http.StatusOK, ""), nil
	})
	targets := sequentialTargets(t, "http://api.test/v1", 3)

	tests := []struct {
		name  string
		verb  domain.Verb
		token string
		limit int
		want  error
	}{
		{"invalid verb", domain.Verb("POST"), "t", 1, domain.ErrInvalidVerb},
		{"lowercase verb", domain.Verb("put"), "t", 1, domain.ErrInvalidVerb},
		{"empty token", domain.VerbRegister, "", 1, domain.ErrEmptyToken},
		{"zero concurrency", domain.VerbRegister, "t", 0, domain.ErrInvalidConcurrency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := make(chan Event, 1)
			d := NewDispatcher(client, events)
			err := d.Run(context.Background(), targets, tt.verb, tt.token, tt.limit)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, events)
		})
	}
	assert.Equal(t, int32(0), calls.Load())
}

func TestDispatcher_Run_OnlyOnce(t *testing.T) {
	client := doerFunc(func(req *http.Request) (*http.Response, error) {
		return response(http.StatusOK, ""), nil
	})
	targets := sequentialTargets(t, "http://api.test/v1", 1)

	c, d := runAndCollect(t, client, targets, domain.VerbRegister, 1, nil)
	require.Len(t, c.completed, 1)

	err := d.Run(context.Background(), targets, domain.VerbRegister, "t", 1)
	assert.ErrorIs(t, err, ErrDispatcherUsed)
}

func TestDispatcher_Run_EmptyTargets(t *testing.T) {
	c, _ := runAndCollect(t, doerFunc(func(req *http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	}), nil, domain.VerbRegister, 3, nil)

	assert.Empty(t, c.outcomes)
	assert.Empty(t, c.progress)
	require.Len(t, c.completed, 1)
	assert.Equal(t, 0, c.completed[0].Total)
}
