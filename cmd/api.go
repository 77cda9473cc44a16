package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/desertthunder/eighttrack/internal/api"
	"github.com/desertthunder/eighttrack/internal/auth"
	"github.com/desertthunder/eighttrack/internal/shared"
	"github.com/urfave/cli/v3"
)

var errUnauthenticatedHint = errors.New("run '8track login' first")

// APIGet sends an authenticated GET for the CLI session.
func (r *Runner) APIGet(ctx context.Context, cmd *cli.Command) error {
	return r.apiRequest(ctx, cmd, http.MethodGet, nil)
}

// APIPost sends an authenticated POST with a JSON body.
func (r *Runner) APIPost(ctx context.Context, cmd *cli.Command) error {
	data := cmd.String("data")
	if data == "" {
		return fmt.Errorf("%w: --data flag is required", shared.ErrMissingArgument)
	}

	if !json.Valid([]byte(data)) {
		return fmt.Errorf("%w: data is not valid JSON", shared.ErrInvalidArgument)
	}

	return r.apiRequest(ctx, cmd, http.MethodPost, []byte(data))
}

func (r *Runner) apiRequest(ctx context.Context, cmd *cli.Command, method string, body []byte) error {
	path := cmd.StringArg("path")
	if path == "" {
		return fmt.Errorf("%w: path", shared.ErrMissingArgument)
	}

	flows, err := r.flows(ctx)
	if err != nil {
		return err
	}

	opts := api.RequestOptions{
		Method:   method,
		Body:     body,
		ClientID: r.config.Spotify.ClientID,
	}
	if body != nil {
		opts.Header = http.Header{"Content-Type": {"application/json"}}
	}

	r.logger.Info("api request", "method", method, "path", path)

	flow := flows.For(cliSession, auth.NewBrowserLocation(nil))
	resp, err := flow.API.Request(ctx, path, opts)
	if errors.Is(err, api.ErrUnauthenticated) {
		return fmt.Errorf("%w: %w", shared.ErrNotAuthenticated, errUnauthenticatedHint)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", shared.ErrAPIRequest, err)
	}

	out, err := api.ReadResponse(resp)
	if err != nil {
		return fmt.Errorf("%w: %w", shared.ErrAPIRequest, err)
	}

	if out.StatusCode < 200 || out.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d, body: %s", shared.ErrAPIRequest, out.StatusCode, string(out.Body))
	}

	return r.writeBody(out, cmd.Bool("pretty"))
}
