package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/eighttrack/internal/api"
	"github.com/desertthunder/eighttrack/internal/server"
	"github.com/desertthunder/eighttrack/internal/shared"
	"github.com/desertthunder/eighttrack/internal/storage"
	"github.com/urfave/cli/v3"
)

// cliSession is the storage scope used by every CLI command.
const cliSession = "cli"

// placeholderClientID is the client id shipped in the example config.
const placeholderClientID = "your_spotify_client_id"

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	backend    storage.Backend
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
	open       shared.Opener
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	// Backend is opened from the storage config on first use when nil.
	Backend    storage.Backend
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
	// Opener launches the system browser; defaults to [shared.OpenBrowser].
	Opener shared.Opener
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Config.API.Timeout}
	}
	if opts.Opener == nil {
		opts.Opener = shared.OpenBrowser
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		backend:    opts.Backend,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		open:       opts.Opener,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, serveCommand, loginCommand, statusCommand, apiCommand, logoutCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// requireClient fails when no Spotify application is configured.
func (r *Runner) requireClient() error {
	id := r.config.Spotify.ClientID
	if id == "" || id == placeholderClientID {
		return fmt.Errorf("%w: set spotify.client_id in %s", shared.ErrMissingCredentials, r.configName())
	}
	return nil
}

// requirePersistentStorage fails when the configured driver would lose the CLI
// session on exit. An injected backend is used as given.
func (r *Runner) requirePersistentStorage() error {
	if r.backend != nil {
		return nil
	}
	switch r.config.Storage.Driver {
	case "", "memory":
		return fmt.Errorf("%w: the memory storage driver forgets the login when 8track exits; set storage.driver to sqlite or redis in %s",
			shared.ErrInvalidConfig, r.configName())
	}
	return nil
}

func (r *Runner) configName() string {
	if r.configPath == "" {
		return "config.toml"
	}
	return r.configPath
}

// storage opens the configured backend once and keeps it for the life of the runner.
func (r *Runner) storage(ctx context.Context) (storage.Backend, error) {
	if r.backend != nil {
		return r.backend, nil
	}

	backend, err := storage.Open(ctx, r.config.Storage, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open session storage: %w", err)
	}
	r.backend = backend
	return backend, nil
}

// flows builds the session flows over the configured backend.
func (r *Runner) flows(ctx context.Context) (*server.Flows, error) {
	backend, err := r.storage(ctx)
	if err != nil {
		return nil, err
	}

	return server.NewFlows(server.FlowsOpts{
		Backend:    backend,
		Config:     r.config.Spotify,
		HTTPClient: r.httpClient,
		Limiter:    api.NewLimiter(r.config.API.RateLimit, r.config.API.Burst),
		Logger:     r.logger,
	}), nil
}

// Close releases the storage backend, if one was opened.
func (r *Runner) Close() error {
	if r.backend == nil {
		return nil
	}
	return r.backend.Close()
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	output, err := shared.MarshalJSON(data, pretty)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writeLine(s string) error {
	return r.writePlain("%s\n", s)
}

// writeBody prints a JSON body indented when pretty, or the raw bytes otherwise.
func (r *Runner) writeBody(resp *api.Response, pretty bool) error {
	if resp.IsJSON && pretty {
		return r.writeJSON(resp.JSONData, true)
	}
	if len(resp.Body) == 0 {
		return nil
	}

	if _, err := r.output.Write(resp.Body); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	_, err := r.output.Write([]byte("\n"))
	return err
}
