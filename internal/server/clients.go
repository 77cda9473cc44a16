package server

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/eighttrack/internal/api"
	"github.com/desertthunder/eighttrack/internal/auth"
	"github.com/desertthunder/eighttrack/internal/shared"
	"github.com/desertthunder/eighttrack/internal/storage"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Flow is the auth controller and API client of one browsing session.
type Flow struct {
	SessionID  string
	Controller *auth.Controller
	API        *api.Client
}

// FlowsOpts configures [Flows]. Backend and Config are required.
type FlowsOpts struct {
	Backend    storage.Backend
	Config     shared.SpotifyConfig
	HTTPClient *http.Client
	Limiter    *rate.Limiter
	Logger     *log.Logger
}

// Flows builds per-session [Flow] values over a shared backend, transport and refresh group.
type Flows struct {
	backend    storage.Backend
	config     shared.SpotifyConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	flight     *singleflight.Group
	logger     *log.Logger
}

// NewFlows creates a [Flows].
func NewFlows(opts FlowsOpts) *Flows {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	return &Flows{
		backend:    opts.Backend,
		config:     opts.Config,
		httpClient: opts.HTTPClient,
		limiter:    opts.Limiter,
		flight:     &singleflight.Group{},
		logger:     opts.Logger,
	}
}

// Config returns the Spotify settings the flows are built with.
func (f *Flows) Config() shared.SpotifyConfig {
	return f.config
}

// Backend returns the session storage backend.
func (f *Flows) Backend() storage.Backend {
	return f.backend
}

// For returns the flow of sessionID running in loc.
func (f *Flows) For(sessionID string, loc auth.Location) *Flow {
	logger := shared.WithLogger(f.logger, "session", shared.Redact(sessionID))

	controller := auth.NewController(auth.Options{
		Storage:    f.backend.Session(sessionID),
		Location:   loc,
		HTTPClient: f.httpClient,
		Endpoint: oauth2.Endpoint{
			AuthURL:  f.config.AuthURL,
			TokenURL: f.config.TokenURL,
		},
		Logger:     logger,
		Flight:     f.flight,
		ShowDialog: f.config.ShowDialog,
	})

	client := api.NewClient(api.Options{
		Tokens:     controller.Tokens(),
		Refresher:  controller,
		BaseURL:    f.config.APIBaseURL,
		HTTPClient: f.httpClient,
		Limiter:    f.limiter,
		Logger:     logger,
	})

	return &Flow{SessionID: sessionID, Controller: controller, API: client}
}
