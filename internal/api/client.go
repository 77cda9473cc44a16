package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/eighttrack/internal/metrics"
	"github.com/desertthunder/eighttrack/internal/shared"
	"github.com/desertthunder/eighttrack/internal/tokens"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the Spotify Web API host.
const DefaultBaseURL = "https://api.spotify.com"

// maxAttempts bounds a request to the original send plus one retry after a refresh.
const maxAttempts = 2

var (
	ErrUnauthenticated           = errors.New("no valid access token")
	ErrRefreshCredentialsMissing = errors.New("refresh token present but client id missing")
)

// Refresher exchanges a refresh token for a new bundle. [auth.Controller] implements it.
type Refresher interface {
	Refresh(ctx context.Context, clientID, refreshToken string) (*tokens.Bundle, error)
}

// Options configures a [Client]. Tokens and Refresher are required.
type Options struct {
	Tokens    *tokens.Store
	Refresher Refresher
	// BaseURL defaults to [DefaultBaseURL].
	BaseURL    string
	HTTPClient *http.Client
	// Limiter, when set, is waited on before every attempt.
	Limiter *rate.Limiter
	Logger  *log.Logger
}

// Client is the authenticated fetch for one session.
type Client struct {
	tokens     *tokens.Store
	refresher  Refresher
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *log.Logger
}

// RequestOptions shape a single request.
type RequestOptions struct {
	// Method defaults to GET.
	Method string
	// Header is copied onto the request. Authorization is always overwritten
	// with the session's bearer token.
	Header http.Header
	Body   []byte
	// ClientID is needed to refresh after a 401.
	ClientID string
}

// NewClient creates a client from opts.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}

	return &Client{
		tokens:     opts.Tokens,
		refresher:  opts.Refresher,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: opts.HTTPClient,
		limiter:    opts.Limiter,
		logger:     opts.Logger,
	}
}

// NewLimiter builds a limiter allowing perSecond requests with the given burst.
// A non-positive rate disables limiting.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// ResolveURL joins relative paths onto the base URL; absolute http(s) URLs pass through.
func (c *Client) ResolveURL(pathOrURL string) string {
	lower := strings.ToLower(pathOrURL)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return pathOrURL
	}
	if !strings.HasPrefix(pathOrURL, "/") {
		pathOrURL = "/" + pathOrURL
	}
	return c.baseURL + pathOrURL
}

// Request sends an authenticated request.
//
// Without a live access token it fails with [ErrUnauthenticated] before touching
// the network. A 401 is retried once after a refresh when a refresh token is
// stored; with no refresh token the 401 response is returned to the caller.
// The caller closes the returned body.
func (c *Client) Request(ctx context.Context, pathOrURL string, opts RequestOptions) (*http.Response, error) {
	token, err := c.tokens.LiveAccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load access token: %w", err)
	}
	if token == "" {
		return nil, ErrUnauthenticated
	}

	target := c.ResolveURL(pathOrURL)

	for attempt := 1; ; attempt++ {
		resp, err := c.send(ctx, target, token, opts)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusUnauthorized || attempt == maxAttempts {
			return resp, nil
		}

		bundle, err := c.tokens.Load(ctx)
		if err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("failed to load tokens: %w", err)
		}
		if bundle == nil || bundle.RefreshToken == "" {
			c.logger.Debug("unauthorized with no refresh token", "url", target)
			return resp, nil
		}
		if opts.ClientID == "" {
			resp.Body.Close()
			return nil, ErrRefreshCredentialsMissing
		}

		drain(resp)

		refreshed, err := c.refresher.Refresh(ctx, opts.ClientID, bundle.RefreshToken)
		if err != nil {
			return nil, err
		}
		token = refreshed.AccessToken
		metrics.APIRetries.Inc()
		c.logger.Debug("retrying with refreshed token", "url", target)
	}
}

func (c *Client) send(ctx context.Context, target, token string, opts RequestOptions) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.APIDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	metrics.APIRequests.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	c.logger.Debug("api response", "method", method, "url", target, "status", resp.StatusCode)
	return resp, nil
}

// drain discards the rest of a response so its connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// Response is a fully read API response.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	IsJSON     bool
	JSONData   any
}

// ReadResponse reads and closes resp, decoding the body when it is JSON.
func ReadResponse(resp *http.Response) (*Response, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
	}

	var jsonData any
	if err := json.Unmarshal(body, &jsonData); err == nil {
		out.IsJSON = true
		out.JSONData = jsonData
	}
	return out, nil
}
