package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/felixgeelhaar/bulkreg/internal/registration/domain"
	"github.com/felixgeelhaar/bulkreg/pkg/observability"
	"github.com/google/uuid"
)

// Routing keys for run notifications.
const (
	RoutingKeyRunCompleted = "registration.run.completed"
	RoutingKeyRunCancelled = "registration.run.cancelled"
)

// Credentials are the client-credentials grant inputs.
type Credentials struct {
	ClientID     string
	ClientSecret string
	AccountID    string
}

func (c Credentials) missing() []string {
	var fields []string
	if strings.TrimSpace(c.ClientID) == "" {
		fields = append(fields, "client id")
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		fields = append(fields, "client secret")
	}
	if strings.TrimSpace(c.AccountID) == "" {
		fields = append(fields, "account id")
	}
	return fields
}

// CredentialProvider exchanges client credentials for a bearer token.
type CredentialProvider interface {
	AccessToken(ctx context.Context, creds Credentials) (string, error)
}

// SheetReader reads session columns from a spreadsheet.
type SheetReader interface {
	ReadColumns(path string) ([]domain.SessionColumn, error)
}

// SheetWriter writes a failure export.
type SheetWriter interface {
	WriteFailures(path string, groups []domain.FailureGroup) error
}

// Publisher sends run notifications to a message broker.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
}

// EventSink receives dispatcher events on the caller's goroutine.
type EventSink func(Event)

// Request describes one bulk run started from a spreadsheet.
type Request struct {
	Credentials  Credentials
	EventID      string
	File         string
	Verb         domain.Verb
	Concurrency  int
	FailedOutput string
	Cancel       *domain.CancelToken
}

// RetryRequest re-dispatches the failures of an earlier run.
type RetryRequest struct {
	Credentials  Credentials
	RunID        uuid.UUID
	Verb         domain.Verb
	Concurrency  int
	FailedOutput string
	Cancel       *domain.CancelToken
}

// Report summarizes a finished run.
type Report struct {
	Run          *domain.DispatchRun
	Failures     []domain.FailureGroup
	FailuresFile string
}

// ServiceConfig holds the collaborators of a Service.
type ServiceConfig struct {
	APIBaseURL  string
	Client      HTTPDoer
	Credentials CredentialProvider
	Reader      SheetReader
	Writer      SheetWriter
	History     domain.HistoryRepository
	Publisher   Publisher
	Requester   RequesterConfig
	Logger      *slog.Logger
	Metrics     observability.Metrics
}

// Service runs bulk registration passes end to end: token, spreadsheet,
// dispatch, failure export, history and notification.
type Service struct {
	cfg       ServiceConfig
	requester *Requester
}

// NewService creates a registration service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}
	return &Service{
		cfg:       cfg,
		requester: NewRequester(cfg.Client, cfg.Requester, cfg.Logger, cfg.Metrics),
	}
}

// Execute validates the request, obtains a token, expands the spreadsheet and
// dispatches every target. Configuration and authentication problems are
// returned before any registration request is sent.
func (s *Service) Execute(ctx context.Context, req Request, sink EventSink) (*Report, error) {
	if err := s.validate(req.Credentials, req.Verb, req.Concurrency); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.EventID) == "" {
		return nil, fmt.Errorf("%w: event id", domain.ErrMissingField)
	}
	if strings.TrimSpace(req.File) == "" {
		return nil, fmt.Errorf("%w: spreadsheet file", domain.ErrMissingField)
	}

	token, err := s.token(ctx, req.Credentials)
	if err != nil {
		return nil, err
	}

	columns, err := s.cfg.Reader.ReadColumns(req.File)
	if err != nil {
		return nil, fmt.Errorf("read spreadsheet: %w", err)
	}
	expander, err := domain.NewExpander(s.cfg.APIBaseURL, req.EventID)
	if err != nil {
		return nil, err
	}
	targets, err := expander.Expand(columns)
	if err != nil {
		return nil, err
	}

	return s.dispatch(ctx, dispatchParams{
		eventID:      req.EventID,
		verb:         req.Verb,
		token:        token,
		targets:      targets,
		concurrency:  req.Concurrency,
		failedOutput: req.FailedOutput,
		cancel:       req.Cancel,
	}, sink)
}

// Retry dispatches the recorded failures of an earlier run. An empty verb
// reuses the earlier run's verb.
func (s *Service) Retry(ctx context.Context, req RetryRequest, sink EventSink) (*Report, error) {
	if s.cfg.History == nil {
		return nil, fmt.Errorf("%w: run history", domain.ErrMissingField)
	}
	previous, err := s.cfg.History.FindByID(ctx, req.RunID)
	if err != nil {
		return nil, err
	}

	verb := req.Verb
	if verb == "" {
		verb = previous.Verb()
	}
	if err := s.validate(req.Credentials, verb, req.Concurrency); err != nil {
		return nil, err
	}
	if len(previous.Failures()) == 0 {
		return &Report{Run: previous}, nil
	}

	token, err := s.token(ctx, req.Credentials)
	if err != nil {
		return nil, err
	}

	expander, err := domain.NewExpander(s.cfg.APIBaseURL, previous.EventID())
	if err != nil {
		return nil, err
	}
	targets, err := expander.Expand(domain.Columns(previous.Failures()))
	if err != nil {
		return nil, err
	}

	return s.dispatch(ctx, dispatchParams{
		eventID:      previous.EventID(),
		verb:         verb,
		token:        token,
		targets:      targets,
		concurrency:  req.Concurrency,
		failedOutput: req.FailedOutput,
		cancel:       req.Cancel,
	}, sink)
}

// SendOneResult is the outcome of a single-request registration.
type SendOneResult struct {
	URL       string
	OK        bool
	SessionID int64
	TicketID  string
	// Recognized is false when the URL does not identify a registration.
	Recognized bool
}

// SendOne registers a single URL through the retrying Requester.
func (s *Service) SendOne(ctx context.Context, creds Credentials, url string) (*SendOneResult, error) {
	results, err := s.SendURLs(ctx, creds, []string{url})
	if err != nil {
		return nil, err
	}
	return &results[0], nil
}

// SendURLs registers each URL in turn with one token. The Requester's breaker
// spans the calls, so once it opens the remaining URLs are not sent.
func (s *Service) SendURLs(ctx context.Context, creds Credentials, urls []string) ([]SendOneResult, error) {
	if missing := creds.missing(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrMissingField, strings.Join(missing, ", "))
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: url", domain.ErrMissingField)
	}
	for _, url := range urls {
		if strings.TrimSpace(url) == "" {
			return nil, fmt.Errorf("%w: url", domain.ErrMissingField)
		}
	}
	token, err := s.token(ctx, creds)
	if err != nil {
		return nil, err
	}

	results := make([]SendOneResult, 0, len(urls))
	for _, url := range urls {
		result := SendOneResult{URL: url, OK: s.requester.Send(ctx, token, url)}
		if sessionID, ticketID, err := domain.ParseTargetURL(url); err == nil {
			result.Recognized = true
			result.SessionID = sessionID
			result.TicketID = ticketID
		}
		results = append(results, result)
	}
	return results, nil
}

// BreakerState reports the state of the single-request circuit breaker.
func (s *Service) BreakerState() string {
	return s.requester.BreakerState()
}

// Runs lists recent runs, newest first.
func (s *Service) Runs(ctx context.Context, limit int) ([]*domain.DispatchRun, error) {
	if s.cfg.History == nil {
		return nil, nil
	}
	return s.cfg.History.List(ctx, limit)
}

// Run loads one recorded run.
func (s *Service) Run(ctx context.Context, id uuid.UUID) (*domain.DispatchRun, error) {
	if s.cfg.History == nil {
		return nil, domain.ErrRunNotFound
	}
	return s.cfg.History.FindByID(ctx, id)
}

func (s *Service) validate(creds Credentials, verb domain.Verb, concurrency int) error {
	if missing := creds.missing(); len(missing) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrMissingField, strings.Join(missing, ", "))
	}
	if !verb.IsValid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidVerb, verb)
	}
	if concurrency <= 0 {
		return fmt.Errorf("%w: %d", domain.ErrInvalidConcurrency, concurrency)
	}
	return nil
}

func (s *Service) token(ctx context.Context, creds Credentials) (string, error) {
	token, err := s.cfg.Credentials.AccessToken(ctx, creds)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrAuthentication, err)
	}
	if token == "" {
		return "", domain.ErrAuthentication
	}
	return token, nil
}

type dispatchParams struct {
	eventID      string
	verb         domain.Verb
	token        string
	targets      []domain.RegistrationTarget
	concurrency  int
	failedOutput string
	cancel       *domain.CancelToken
}

func (s *Service) dispatch(ctx context.Context, p dispatchParams, sink EventSink) (*Report, error) {
	run, err := domain.NewDispatchRun(p.eventID, p.verb)
	if err != nil {
		return nil, err
	}
	if err := run.Start(len(p.targets)); err != nil {
		return nil, err
	}
	ctx = observability.WithRunID(ctx, run.ID().String())

	events := make(chan Event, p.concurrency)
	dispatcher := NewDispatcher(s.cfg.Client, events,
		WithLogger(s.cfg.Logger),
		WithMetrics(s.cfg.Metrics),
		WithCancelToken(p.cancel),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- dispatcher.Run(ctx, p.targets, p.verb, p.token, p.concurrency)
	}()

	for events != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch e := ev.(type) {
			case OutcomeEvent:
				run.RecordOutcome(e.Outcome)
			case CompletedEvent:
				if e.Cancelled {
					_ = run.Cancel()
				}
			}
			if sink != nil {
				sink(ev)
			}
		case err := <-errCh:
			if err != nil {
				return nil, err
			}
			errCh = nil
		}
	}
	if errCh != nil {
		if err := <-errCh; err != nil {
			return nil, err
		}
	}

	failures := dispatcher.Ledger().Export()
	if err := run.Finish(failures); err != nil {
		return nil, err
	}

	report := &Report{Run: run, Failures: failures}
	if failures != nil && p.failedOutput != "" && s.cfg.Writer != nil {
		if err := s.cfg.Writer.WriteFailures(p.failedOutput, failures); err != nil {
			return report, fmt.Errorf("export failures: %w", err)
		}
		report.FailuresFile = p.failedOutput
	}

	// An interrupted run is still recorded.
	ctx = context.WithoutCancel(ctx)
	s.record(ctx, run)
	s.notify(ctx, run)
	return report, nil
}

func (s *Service) record(ctx context.Context, run *domain.DispatchRun) {
	if s.cfg.History == nil {
		return
	}
	if err := s.cfg.History.Save(ctx, run); err != nil {
		s.cfg.Logger.WarnContext(ctx, "failed to record run history", "error", err)
	}
}

// RunNotification is the payload published when a run finishes.
type RunNotification struct {
	RunID      string    `json:"run_id"`
	EventID    string    `json:"event_id"`
	Verb       string    `json:"verb"`
	State      string    `json:"state"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (s *Service) notify(ctx context.Context, run *domain.DispatchRun) {
	if s.cfg.Publisher == nil {
		return
	}
	payload, err := json.Marshal(RunNotification{
		RunID:      run.ID().String(),
		EventID:    run.EventID(),
		Verb:       run.Verb().String(),
		State:      string(run.State()),
		Total:      run.Total(),
		Succeeded:  run.Succeeded(),
		Failed:     run.Failed(),
		StartedAt:  run.StartedAt(),
		FinishedAt: run.FinishedAt(),
	})
	if err != nil {
		s.cfg.Logger.WarnContext(ctx, "failed to encode run notification", "error", err)
		return
	}

	key := RoutingKeyRunCompleted
	if run.State() == domain.RunStateCancelled {
		key = RoutingKeyRunCancelled
	}
	if err := s.cfg.Publisher.Publish(ctx, key, payload); err != nil {
		s.cfg.Logger.WarnContext(ctx, "failed to publish run notification", "error", err)
	}
}
