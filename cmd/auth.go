package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/eighttrack/internal/auth"
	"github.com/desertthunder/eighttrack/internal/server"
	"github.com/desertthunder/eighttrack/internal/shared"
	"github.com/desertthunder/eighttrack/internal/ui"
	"github.com/urfave/cli/v3"
)

const loginTimeout = 2 * time.Minute

// Login runs the PKCE flow for the CLI session.
//
// A local server answers on the redirect URI, the system browser is sent to the
// authorize endpoint, and the redirect is completed by a [server.CallbackHandler].
func (r *Runner) Login(ctx context.Context, cmd *cli.Command) error {
	if err := r.requireClient(); err != nil {
		return err
	}
	if err := r.requirePersistentStorage(); err != nil {
		return err
	}

	flows, err := r.flows(ctx)
	if err != nil {
		return err
	}

	cfg := r.config.Spotify
	location := auth.NewBrowserLocation(func(url string) error {
		r.writeLine(ui.Styles.Step("Opening browser for Spotify authorization..."))
		if err := r.open(url); err != nil {
			r.logger.Warnf("failed to open browser automatically %v", err)
			r.writeLine(ui.Styles.Warn("Could not open browser automatically."))
			r.writePlain("Please open this URL in your browser:\n%s\n\n", url)
		}
		return nil
	})
	flow := flows.For(cliSession, location)

	callback := server.NewCallbackHandler(flow, location, cfg.ClientID, cfg.RedirectURI, cfg.CallbackPath())
	router := server.NewBasicRouter()
	router.Use(server.Logging(r.logger))
	router.Handler(callback)

	serveCtx, stop := context.WithCancel(ctx)
	serverErrors := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := server.Serve(serveCtx, r.config.Server.Addr(), router, r.logger); err != nil {
			serverErrors <- err
		}
	}()
	// shutdown waits for the callback page to be written
	defer func() {
		stop()
		<-done
	}()

	time.Sleep(100 * time.Millisecond)

	if err := flow.Controller.Initiate(ctx, cfg.ClientID, cfg.Scopes, cfg.RedirectURI); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAuthFailed, err)
	}

	timeout := cmd.Duration("timeout")
	if timeout <= 0 {
		timeout = loginTimeout
	}
	r.writeLine(ui.Styles.Step("Waiting for authorization (%s timeout)...", timeout))

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var result server.CallbackResult
	select {
	case result = <-callback.Result():
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-timer.C:
		return fmt.Errorf("%w: authorization timed out after %s", shared.ErrTimeout, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	if result.Err != nil {
		return fmt.Errorf("%w: %w", shared.ErrAuthFailed, result.Err)
	}
	if result.Bundle == nil {
		return fmt.Errorf("%w: no token received", shared.ErrAuthFailed)
	}

	r.writeLine(ui.Styles.OK("Authorization successful"))
	r.writePlain("%s", ui.Styles.Fields(bundleFields(result.Bundle.AccessToken, result.Bundle.RefreshToken, result.Bundle.ExpiresAt)...))
	r.writePlain("\nYou can now use: 8track api get /v1/me\n")
	return nil
}

// Status prints the CLI session's token state without touching the network.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	flows, err := r.flows(ctx)
	if err != nil {
		return err
	}

	store := flows.For(cliSession, auth.NewBrowserLocation(nil)).Controller.Tokens()
	bundle, err := store.Load(ctx)
	if err != nil {
		return err
	}

	r.writeLine(ui.Styles.Title("Spotify session"))
	if bundle == nil {
		r.writeLine(ui.Styles.Err("Not authenticated"))
		r.writeLine(ui.Styles.Help("Run '8track login' to connect a Spotify account."))
		return nil
	}

	if bundle.Live(store.Now()) {
		r.writeLine(ui.Styles.OK("Authenticated"))
	} else {
		r.writeLine(ui.Styles.Warn("Access token expired"))
	}
	r.writePlain("%s", ui.Styles.Fields(bundleFields(bundle.AccessToken, bundle.RefreshToken, bundle.ExpiresAt)...))
	return nil
}

// Logout ends the CLI session in storage.
func (r *Runner) Logout(ctx context.Context, cmd *cli.Command) error {
	backend, err := r.storage(ctx)
	if err != nil {
		return err
	}

	if err := backend.End(ctx, cliSession); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return r.writeLine(ui.Styles.OK("Logged out"))
}

func bundleFields(access, refresh string, expiresAt *time.Time) []string {
	expires := "unknown"
	if expiresAt != nil {
		expires = expiresAt.Local().Format(time.RFC1123)
	}
	refreshState := "none"
	if refresh != "" {
		refreshState = shared.Redact(refresh)
	}
	return []string{
		"Access token", shared.Redact(access),
		"Refresh token", refreshState,
		"Expires", expires,
	}
}
