package main

import (
	"context"
	"net/http"
	"time"

	"github.com/desertthunder/eighttrack/internal/metrics"
	"github.com/desertthunder/eighttrack/internal/server"
	"github.com/desertthunder/eighttrack/internal/storage"
	"github.com/desertthunder/eighttrack/internal/ui"
	"github.com/desertthunder/eighttrack/internal/web"
	"github.com/urfave/cli/v3"
)

const purgeInterval = 10 * time.Minute

// Serve runs the page, the login and logout routes, and /metrics until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	if err := r.requireClient(); err != nil {
		return err
	}

	flows, err := r.flows(ctx)
	if err != nil {
		return err
	}

	if sqlite, ok := flows.Backend().(*storage.SQLiteBackend); ok {
		go r.purgeSessions(ctx, sqlite)
	}

	router := r.webRouter(flows)
	r.writeLine(ui.Styles.Step("Open %s in your browser", r.config.Spotify.RedirectURI))
	return server.Serve(ctx, r.config.Server.Addr(), router, r.logger)
}

// purgeSessions drops expired SQLite sessions until ctx is done.
func (r *Runner) purgeSessions(ctx context.Context, backend *storage.SQLiteBackend) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := backend.PurgeExpired(ctx)
			if err != nil {
				r.logger.Warn("failed to purge expired sessions", "error", err)
				continue
			}
			if n > 0 {
				r.logger.Debug("purged expired sessions", "count", n)
			}
		}
	}
}

func (r *Runner) webRouter(flows *server.Flows) *server.BasicRouter {
	router := server.NewBasicRouter()
	router.Use(server.Logging(r.logger), server.Sessions(r.config.Server.SessionCookie))
	router.Handler(web.NewApp(flows, r.logger))
	router.Handle(http.MethodGet, "/metrics", metrics.Handler())
	return router
}
