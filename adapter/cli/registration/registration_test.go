package registration

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/felixgeelhaar/bulkreg/adapter/cli"
	"github.com/felixgeelhaar/bulkreg/internal/app"
	"github.com/felixgeelhaar/bulkreg/internal/registration/domain"
	"github.com/felixgeelhaar/bulkreg/internal/registration/infrastructure/spreadsheet"
	"github.com/felixgeelhaar/bulkreg/pkg/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	container *app.Container
	requests  *atomic.Int32
	dir       string
}

// setupTestApp wires a real container against fake token and registration
// endpoints. Ticket 5002 is rejected with 404.
func setupTestApp(t *testing.T) *testEnv {
	t.Helper()

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(tokenServer.Close)

	env := &testEnv{requests: &atomic.Int32{}, dir: t.TempDir()}
	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.requests.Add(1)
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if strings.HasSuffix(r.URL.Path, "/registrations/5002") {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("not found"))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(apiServer.Close)

	cfg := &config.Config{
		AppEnv:           "test",
		ClientID:         "cid",
		ClientSecret:     "secret",
		AccountID:        "42",
		TokenURL:         tokenServer.URL,
		Audience:         "aud",
		APIBaseURL:       apiServer.URL + "/v1",
		Concurrency:      4,
		BreakerThreshold: 5,
		BreakerTimeout:   time.Minute,
		SQLitePath:       filepath.Join(env.dir, "history.db"),
	}

	container, err := app.NewContainer(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(container.Close)
	env.container = container

	cli.SetApp(cli.NewApp(container.Service, cfg, container.Health))
	t.Cleanup(func() { cli.SetApp(nil) })
	return env
}

func (e *testEnv) inputFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(e.dir, "sessions.xlsx")
	require.NoError(t, spreadsheet.NewWriter().WriteFailures(path, []domain.FailureGroup{
		{SessionID: 101, TicketIDs: []string{"5001", "5002"}},
		{SessionID: 102, TicketIDs: []string{"5003"}},
	}))
	return path
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAddCommand(t *testing.T) {
	env := setupTestApp(t)
	failed := filepath.Join(env.dir, "failed.xlsx")

	out, err := execute(t, newDispatchCmd(domain.VerbRegister),
		"--file", env.inputFile(t), "--event", "E1", "--failed-output", failed)
	require.NoError(t, err)

	assert.Equal(t, int32(3), env.requests.Load())
	assert.Contains(t, out, "[3/3]")
	assert.Contains(t, out, "/v1/events/E1/agenda/sessions/101/registrations/5001 Success! (Code: 204)")
	assert.Contains(t, out, "/v1/events/E1/agenda/sessions/101/registrations/5002 Error: 404 - not found")
	assert.Contains(t, out, "Sending API requests is finished.")
	assert.Contains(t, out, "2 succeeded")
	assert.Contains(t, out, "Failed registrations written to "+failed)

	columns, err := spreadsheet.NewReader().ReadColumns(failed)
	require.NoError(t, err)
	assert.Equal(t, []domain.SessionColumn{{Header: "101", TicketIDs: []string{"5002"}}}, columns)

	runs, err := env.container.Service.Runs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.VerbRegister, runs[0].Verb())
}

func TestRemoveCommand_RequiresFile(t *testing.T) {
	setupTestApp(t)

	_, err := execute(t, newDispatchCmd(domain.VerbUnregister), "--event", "E1")
	assert.ErrorContains(t, err, "file")
}

func TestRemoveCommand_MissingEvent(t *testing.T) {
	env := setupTestApp(t)

	_, err := execute(t, newDispatchCmd(domain.VerbUnregister), "--file", env.inputFile(t))
	assert.ErrorIs(t, err, domain.ErrMissingField)
	assert.Equal(t, int32(0), env.requests.Load())
}

func TestRetryCommand(t *testing.T) {
	env := setupTestApp(t)

	_, err := execute(t, newDispatchCmd(domain.VerbRegister),
		"--file", env.inputFile(t), "--event", "E1", "--failed-output", "")
	require.NoError(t, err)
	runs, err := env.container.Service.Runs(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	out, err := execute(t, newRetryCmd(), runs[0].ID().String(), "--failed-output", "")
	require.NoError(t, err)

	assert.Equal(t, int32(4), env.requests.Load())
	assert.Contains(t, out, "[1/1]")
	assert.Contains(t, out, "registrations/5002 Error: 404 - not found")
}

func TestRetryCommand_InvalidArgs(t *testing.T) {
	setupTestApp(t)

	_, err := execute(t, newRetryCmd(), "not-a-uuid")
	assert.ErrorContains(t, err, "invalid run id")

	_, err = execute(t, newRetryCmd(), "3f0c9a8e-2d8b-4a51-9d61-1f3c1f2b7a10", "--verb", "patch")
	assert.ErrorIs(t, err, domain.ErrInvalidVerb)
}

func TestRequestCommand(t *testing.T) {
	env := setupTestApp(t)
	base := env.container.Config.APIBaseURL

	out, err := execute(t, newRequestCmd(), base+"/events/E1/agenda/sessions/101/registrations/5001")
	require.NoError(t, err)
	assert.Contains(t, out, "session 101, ticket 5001")
	assert.Contains(t, out, "Success!")

	out, err = execute(t, newRequestCmd(), base+"/events/E1/agenda/sessions/101/registrations/5002")
	assert.ErrorIs(t, err, domain.ErrRequestFailed)
	assert.Contains(t, out, "Error: request failed")
}

func TestRequestCommand_SeveralURLs(t *testing.T) {
	env := setupTestApp(t)
	base := env.container.Config.APIBaseURL
	ok := base + "/events/E1/agenda/sessions/101/registrations/5001"
	rejected := base + "/events/E1/agenda/sessions/101/registrations/5002"

	out, err := execute(t, newRequestCmd(), ok, rejected)
	require.ErrorIs(t, err, domain.ErrRequestFailed)
	assert.ErrorContains(t, err, "1 of 2")
	assert.Contains(t, out, ok+" Success!")
	assert.Contains(t, out, rejected+" Error: request failed")
	assert.Equal(t, int32(4), env.requests.Load())
}

func TestParseVerb(t *testing.T) {
	tests := []struct {
		in   string
		want domain.Verb
	}{
		{"", ""},
		{"add", domain.VerbRegister},
		{"PUT", domain.VerbRegister},
		{"remove", domain.VerbUnregister},
		{"Delete", domain.VerbUnregister},
	}
	for _, tt := range tests {
		got, err := parseVerb(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := parseVerb("patch")
	assert.ErrorIs(t, err, domain.ErrInvalidVerb)
}

func TestCommands(t *testing.T) {
	var names []string
	for _, cmd := range Commands() {
		names = append(names, cmd.Name())
	}
	assert.Equal(t, []string{"add", "remove", "request", "retry"}, names)
}
