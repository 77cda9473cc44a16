package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/eighttrack/internal/metrics"
	"github.com/desertthunder/eighttrack/internal/pkce"
	"github.com/desertthunder/eighttrack/internal/shared"
	"github.com/desertthunder/eighttrack/internal/storage"
	"github.com/desertthunder/eighttrack/internal/tokens"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// VerifierKey is the session storage key of the pending code verifier.
const VerifierKey = "spotify_code_verifier"

const (
	opExchange = "exchange"
	opRefresh  = "refresh"
)

// redirectParams are stripped from the page URL once the code has been exchanged.
var redirectParams = []string{"code", "error", "error_description", "state"}

// SpotifyEndpoint is the Spotify accounts service.
var SpotifyEndpoint = oauth2.Endpoint{
	AuthURL:   "https://accounts.spotify.com/authorize",
	TokenURL:  "https://accounts.spotify.com/api/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// Options configures a [Controller]. Storage and Location are required.
type Options struct {
	Storage  storage.Store
	Location Location
	// Tokens defaults to a token store over Storage.
	Tokens     *tokens.Store
	HTTPClient *http.Client
	// Endpoint defaults to [SpotifyEndpoint]. The auth style is always forced to
	// [oauth2.AuthStyleInParams]: a public client sends client_id in the form body.
	Endpoint oauth2.Endpoint
	Logger   *log.Logger
	Clock    func() time.Time
	Random   io.Reader
	// Flight collapses concurrent refreshes of the same refresh token. Share one
	// group across controllers built per request.
	Flight *singleflight.Group
	// ShowDialog adds show_dialog=true so Spotify asks again even when already approved.
	ShowDialog bool
}

// Controller runs the PKCE flow for one session scope.
type Controller struct {
	storage    storage.Store
	tokens     *tokens.Store
	location   Location
	httpClient *http.Client
	endpoint   oauth2.Endpoint
	logger     *log.Logger
	random     io.Reader
	flight     *singleflight.Group
	showDialog bool
}

// NewController builds a controller from opts.
func NewController(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Tokens == nil {
		opts.Tokens = tokens.NewStore(opts.Storage, opts.Clock, opts.Logger)
	}
	if opts.Endpoint.TokenURL == "" {
		opts.Endpoint = SpotifyEndpoint
	}
	opts.Endpoint.AuthStyle = oauth2.AuthStyleInParams
	if opts.Flight == nil {
		opts.Flight = &singleflight.Group{}
	}

	return &Controller{
		storage:    opts.Storage,
		tokens:     opts.Tokens,
		location:   opts.Location,
		httpClient: opts.HTTPClient,
		endpoint:   opts.Endpoint,
		logger:     opts.Logger,
		random:     opts.Random,
		flight:     opts.Flight,
		showDialog: opts.ShowDialog,
	}
}

// Tokens returns the token store the controller writes to.
func (c *Controller) Tokens() *tokens.Store {
	return c.tokens
}

// NormalizeScopes trims, deduplicates and sorts scopes so the joined scope parameter is deterministic.
func NormalizeScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (c *Controller) config(clientID, redirectURI string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    clientID,
		Endpoint:    c.endpoint,
		RedirectURL: redirectURI,
		Scopes:      NormalizeScopes(scopes),
	}
}

// httpContext carries the injected transport to the oauth2 package.
func (c *Controller) httpContext(ctx context.Context) context.Context {
	if c.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// AuthorizeURL builds the authorize endpoint URL for a verifier.
func (c *Controller) AuthorizeURL(clientID string, scopes []string, redirectURI, verifier string) string {
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge_method", pkce.Method),
		oauth2.SetAuthURLParam("code_challenge", pkce.Challenge(verifier)),
	}
	if c.showDialog {
		opts = append(opts, oauth2.SetAuthURLParam("show_dialog", "true"))
	}
	return c.config(clientID, redirectURI, scopes).AuthCodeURL("", opts...)
}

// Initiate starts an authorization: it stores a new verifier, replacing any pending one,
// and navigates to the authorize endpoint. The flow resumes in [Controller.CompleteFromRedirect].
func (c *Controller) Initiate(ctx context.Context, clientID string, scopes []string, redirectURI string) error {
	verifier, err := pkce.NewVerifier(c.random)
	if err != nil {
		return fmt.Errorf("failed to generate code verifier: %w", err)
	}

	if err := c.storage.Set(ctx, VerifierKey, verifier); err != nil {
		return fmt.Errorf("failed to store code verifier: %w", err)
	}

	authURL := c.AuthorizeURL(clientID, scopes, redirectURI, verifier)
	metrics.AuthInitiated.Inc()
	c.logger.Info("starting authorization", "client_id", clientID, "redirect_uri", redirectURI)

	if err := c.location.Assign(authURL); err != nil {
		return fmt.Errorf("failed to navigate to authorize endpoint: %w", err)
	}
	return nil
}

// CompleteFromRedirect finishes an authorization if the current page is a redirect.
//
// It returns (nil, nil) when the page carries neither code nor error, so it can run on every load.
func (c *Controller) CompleteFromRedirect(ctx context.Context, clientID, redirectURI string) (*tokens.Bundle, error) {
	current := c.location.Current()
	if current == nil {
		return nil, nil
	}

	query := current.Query()
	if code := query.Get("error"); code != "" {
		metrics.TokenExchanges.WithLabelValues(metrics.ResultDenied).Inc()
		return nil, &ProviderDeniedError{Code: code, Description: query.Get("error_description")}
	}

	code := query.Get("code")
	if code == "" {
		return nil, nil
	}

	verifier, err := c.storage.Get(ctx, VerifierKey)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && verifier == "") {
		metrics.TokenExchanges.WithLabelValues(metrics.ResultMissing).Inc()
		return nil, ErrMissingVerifier
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read code verifier: %w", err)
	}

	// a verifier is good for one exchange, whatever its outcome
	if err := c.storage.Remove(ctx, VerifierKey); err != nil {
		return nil, fmt.Errorf("failed to discard code verifier: %w", err)
	}

	c.logger.Debug("exchanging authorization code", "code", shared.Redact(code), "redirect_uri", redirectURI)

	tok, err := c.config(clientID, redirectURI, nil).Exchange(c.httpContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		metrics.TokenExchanges.WithLabelValues(metrics.ResultFailure).Inc()
		return nil, c.tokenError(opExchange, err)
	}

	bundle, err := c.tokens.Save(ctx, ResponseFromToken(tok))
	if err != nil {
		return nil, err
	}
	metrics.TokenExchanges.WithLabelValues(metrics.ResultSuccess).Inc()
	c.logger.Info("authorization complete", "expires_at", bundle.ExpiresAt)

	if err := c.location.Replace(StripRedirectParams(current).String()); err != nil {
		c.logger.Warn("failed to clean redirect url", "error", err)
	}

	return bundle, nil
}

// Refresh exchanges a refresh token and merges the result into the session's bundle.
//
// Concurrent calls for the same client and refresh token share one request. The
// shared request outlives any single caller's ctx; a caller whose ctx ends stops
// waiting without failing the others.
func (c *Controller) Refresh(ctx context.Context, clientID, refreshToken string) (*tokens.Bundle, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token", ErrRefreshFailed)
	}

	ch := c.flight.DoChan(clientID+"\x00"+refreshToken, func() (any, error) {
		return c.requestRefresh(context.WithoutCancel(ctx), clientID, refreshToken)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Shared {
		c.logger.Debug("shared in-flight token refresh")
	}
	if res.Err != nil {
		return nil, res.Err
	}

	resp, _ := res.Val.(tokens.TokenResponse)
	bundle, err := c.tokens.Merge(ctx, resp)
	if err != nil {
		return nil, err
	}
	c.logger.Info("access token refreshed", "expires_at", bundle.ExpiresAt)
	return bundle, nil
}

// requestRefresh performs the refresh grant. Each caller merges the response
// into its own session.
func (c *Controller) requestRefresh(ctx context.Context, clientID, refreshToken string) (tokens.TokenResponse, error) {
	c.logger.Debug("refreshing access token", "client_id", clientID)

	src := c.config(clientID, "", nil).TokenSource(c.httpContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues(metrics.ResultFailure).Inc()
		return tokens.TokenResponse{}, c.tokenError(opRefresh, err)
	}
	metrics.TokenRefreshes.WithLabelValues(metrics.ResultSuccess).Inc()

	resp := ResponseFromToken(tok)
	if resp.RefreshToken == refreshToken {
		// oauth2 echoes the old refresh token when the provider did not rotate it
		resp.RefreshToken = ""
	}
	return resp, nil
}

func (c *Controller) tokenError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		c.logger.Warn("token endpoint rejected request", "op", op, "status", re.Response.StatusCode, "error", re.ErrorCode)
		return &TokenError{
			Op:         op,
			StatusCode: re.Response.StatusCode,
			ErrorCode:  re.ErrorCode,
			Body:       string(re.Body),
		}
	}
	return fmt.Errorf("token %s request failed: %w", op, err)
}

// ResponseFromToken recovers the wire fields of a token parsed by oauth2.
func ResponseFromToken(tok *oauth2.Token) tokens.TokenResponse {
	resp := tokens.TokenResponse{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    intExtra(tok.Extra("expires_in")),
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		resp.Scope = scope
	}
	return resp
}

func intExtra(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}

// StripRedirectParams returns a copy of u without the authorization response parameters.
func StripRedirectParams(u *url.URL) *url.URL {
	clean := *u
	query := clean.Query()
	for _, p := range redirectParams {
		query.Del(p)
	}
	clean.RawQuery = query.Encode()
	return &clean
}
