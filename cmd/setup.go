package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/eighttrack/internal/shared"
	"github.com/desertthunder/eighttrack/internal/storage"
	"github.com/desertthunder/eighttrack/internal/ui"
	"github.com/urfave/cli/v3"
)

// Setup creates the config file when missing, records the client id, and opens
// the session storage once so SQLite migrations run and Redis is reachable.
// With --reset the SQLite session schema is rebuilt from scratch.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	if _, err := os.Stat(configPath); err != nil {
		r.logger.Info("config file not found, creating from template", "path", configPath)
		if err := shared.CreateConfigFile(configPath); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
		r.writeLine(ui.Styles.OK("Created %s", configPath))
	}

	config, err := shared.LoadConfig(configPath)
	if err != nil {
		return err
	}

	if clientID := cmd.String("client-id"); clientID != "" {
		config.Spotify.ClientID = clientID
		if err := shared.SaveConfig(configPath, config); err != nil {
			return err
		}
		r.writeLine(ui.Styles.OK("Saved client id to %s", configPath))
	}

	if err := config.Validate(); err != nil {
		return err
	}

	r.logger.Info("initializing session storage", "driver", config.Storage.Driver)
	backend, err := storage.Open(ctx, config.Storage, r.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize session storage: %w", err)
	}
	defer backend.Close()

	if cmd.Bool("reset") {
		sqlite, ok := backend.(*storage.SQLiteBackend)
		if !ok {
			return fmt.Errorf("%w: --reset needs the sqlite storage driver, got %q", shared.ErrInvalidArgument, config.Storage.Driver)
		}
		if err := sqlite.Reset(ctx); err != nil {
			return err
		}
		r.writeLine(ui.Styles.OK("Session tables recreated"))
	}

	r.writeLine(ui.Styles.OK("Session storage ready (%s)", config.Storage.Driver))
	if config.Spotify.ClientID == placeholderClientID {
		r.writeLine(ui.Styles.Warn("Set spotify.client_id in %s before logging in", configPath))
	}
	r.writeLine(ui.Styles.Help(fmt.Sprintf("Register %s as a redirect URI of your Spotify app.", config.Spotify.RedirectURI)))
	return nil
}
