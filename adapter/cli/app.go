package cli

import (
	"github.com/felixgeelhaar/bulkreg/internal/registration/application"
	"github.com/felixgeelhaar/bulkreg/pkg/config"
	"github.com/felixgeelhaar/bulkreg/pkg/observability"
)

// App holds the CLI application dependencies.
type App struct {
	Service *application.Service
	Config  *config.Config
	Health  *observability.HealthRegistry
}

// NewApp creates a CLI application.
func NewApp(service *application.Service, cfg *config.Config, health *observability.HealthRegistry) *App {
	if cfg == nil {
		cfg = &config.Config{}
	}
	return &App{
		Service: service,
		Config:  cfg,
		Health:  health,
	}
}

// app is the global CLI application instance
var app *App

// SetApp sets the global CLI application instance.
func SetApp(a *App) {
	app = a
}

// GetApp returns the global CLI application instance.
func GetApp() *App {
	return app
}
