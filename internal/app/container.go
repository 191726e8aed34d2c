package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/felixgeelhaar/bulkreg/internal/registration/application"
	"github.com/felixgeelhaar/bulkreg/internal/registration/domain"
	"github.com/felixgeelhaar/bulkreg/internal/registration/infrastructure/oauth"
	"github.com/felixgeelhaar/bulkreg/internal/registration/infrastructure/persistence"
	"github.com/felixgeelhaar/bulkreg/internal/registration/infrastructure/spreadsheet"
	"github.com/felixgeelhaar/bulkreg/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/bulkreg/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/bulkreg/pkg/config"
	"github.com/felixgeelhaar/bulkreg/pkg/observability"
)

// Container holds the application dependencies.
type Container struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *observability.InMemoryMetrics

	HTTPClient *http.Client
	History    *persistence.Store
	Publisher  eventbus.Publisher

	Service *application.Service
	Health  *observability.HealthRegistry
}

// NewContainer wires the application. In development a history store or
// broker that cannot be reached is skipped with a warning; elsewhere it is
// an error.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Container{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewInMemoryMetrics(),
		// Zero timeout waits indefinitely.
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout},
		Health:     observability.NewHealthRegistry(),
	}

	store, err := persistence.Open(ctx, database.Config{
		URL:        cfg.DatabaseURL,
		SQLitePath: cfg.SQLitePath,
	})
	if err != nil {
		if !cfg.IsDevelopment() {
			return nil, fmt.Errorf("failed to open run history: %w", err)
		}
		logger.Warn("run history unavailable, runs will not be recorded", "error", err)
	} else {
		c.History = store
		c.Health.Register("history", observability.PingChecker("history", store.Ping))
		logger.Debug("run history opened", "driver", store.Driver().String())
	}

	if err := c.initPublisher(cfg); err != nil {
		c.Close()
		return nil, err
	}

	c.Health.Register("registration-api", observability.OptionalPingChecker("registration-api", c.pingAPI))

	var history domain.HistoryRepository
	if c.History != nil {
		history = c.History.Repository()
	}
	c.Service = application.NewService(application.ServiceConfig{
		APIBaseURL: cfg.APIBaseURL,
		Client:     c.HTTPClient,
		Credentials: oauth.NewTokenProvider(cfg.TokenURL, cfg.Audience,
			oauth.WithHTTPClient(c.HTTPClient),
			oauth.WithLogger(logger),
		),
		Reader:    spreadsheet.NewReader(),
		Writer:    spreadsheet.NewWriter(),
		History:   history,
		Publisher: c.Publisher,
		Requester: application.RequesterConfig{
			FailureThreshold: cfg.BreakerThreshold,
			OpenTimeout:      cfg.BreakerTimeout,
		},
		Logger:  logger,
		Metrics: c.Metrics,
	})

	return c, nil
}

func (c *Container) initPublisher(cfg *config.Config) error {
	if !cfg.NotificationsEnabled() {
		c.Publisher = eventbus.NewNoopPublisher(c.Logger)
		return nil
	}

	publisher, err := eventbus.NewRabbitMQPublisher(cfg.RabbitMQURL, c.Logger)
	if err != nil {
		if !cfg.IsDevelopment() {
			return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		c.Logger.Warn("RabbitMQ not available, using noop publisher", "error", err)
		c.Publisher = eventbus.NewNoopPublisher(c.Logger)
		return nil
	}
	c.Publisher = publisher
	c.Health.Register("broker", observability.OptionalPingChecker("broker", publisher.Ping))
	return nil
}

// pingAPI treats any HTTP response from the API host as reachable.
func (c *Container) pingAPI(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.Config.APIBaseURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// Close releases the broker connection and the history store.
func (c *Container) Close() {
	if c.Publisher != nil {
		if err := c.Publisher.Close(); err != nil {
			c.Logger.Warn("error closing event publisher", "error", err)
		}
	}
	if c.History != nil {
		if err := c.History.Close(); err != nil {
			c.Logger.Warn("error closing run history", "error", err)
		} else {
			c.Logger.Debug("run history closed")
		}
	}
}
