package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/eighttrack/internal/auth"
	"github.com/desertthunder/eighttrack/internal/shared"
	"github.com/desertthunder/eighttrack/internal/storage"
	tu "github.com/desertthunder/eighttrack/internal/testing"
	"github.com/desertthunder/eighttrack/internal/tokens"
)

const testClientID = "test_client_id"

// fixture holds a token store on an adjustable clock.
type fixture struct {
	mu    sync.Mutex
	now   time.Time
	mem   *storage.MemoryStore
	store *tokens.Store
}

func newFixture() *fixture {
	f := &fixture{
		now: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
		mem: storage.NewMemoryStore(),
	}
	f.store = tokens.NewStore(f.mem, f.clock, shared.NewLogger(&bytes.Buffer{}))
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fixture) seed(t *testing.T, access, refresh string) {
	t.Helper()
	if _, err := f.store.Save(context.Background(), tokens.TokenResponse{AccessToken: access, RefreshToken: refresh, ExpiresIn: 3600}); err != nil {
		t.Fatalf("failed to seed tokens: %v", err)
	}
}

// fakeRefresher merges a fixed access token into the store on refresh.
type fakeRefresher struct {
	mu    sync.Mutex
	store *tokens.Store
	next  string
	err   error
	calls int
}

func (r *fakeRefresher) Refresh(ctx context.Context, clientID, refreshToken string) (*tokens.Bundle, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}
	return r.store.Merge(ctx, tokens.TokenResponse{AccessToken: r.next, ExpiresIn: 3600})
}

func (r *fakeRefresher) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newTestClient(p *tu.FakeProvider, store *tokens.Store, r Refresher) *Client {
	return NewClient(Options{
		Tokens:     store,
		Refresher:  r,
		BaseURL:    p.URL(),
		HTTPClient: p.Server.Client(),
		Logger:     shared.NewLogger(&bytes.Buffer{}),
	})
}

// acceptOnly answers 200 to the given bearer token and 401 to anything else.
func acceptOnly(token string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer "+token {
			tu.WriteJSON(w, http.StatusOK, map[string]string{"id": "user"})
			return
		}
		tu.WriteJSON(w, http.StatusUnauthorized, map[string]any{
			"error": map[string]any{"status": 401, "message": "The access token expired"},
		})
	}
}

func TestRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("unauthenticated without tokens", func(t *testing.T) {
		p := tu.NewFakeProvider(t)
		f := newFixture()
		r := &fakeRefresher{store: f.store}
		c := newTestClient(p, f.store, r)

		_, err := c.Request(ctx, "/v1/me", RequestOptions{ClientID: testClientID})
		if !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("expected ErrUnauthenticated, got %v", err)
		}
		if len(p.APIRequests()) != 0 || r.Calls() != 0 {
			t.Error("expected no network call and no refresh")
		}
	})

	t.Run("expired token is not refreshed proactively", func(t *testing.T) {
		p := tu.NewFakeProvider(t)
		f := newFixture()
		f.seed(t, "T1", "R1")
		f.advance(time.Hour)
		r := &fakeRefresher{store: f.store, next: "T2"}
		c := newTestClient(p, f.store, r)

		if _, err := c.Request(ctx, "/v1/me", RequestOptions{ClientID: testClientID}); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("expected ErrUnauthenticated at the expiry instant, got %v", err)
		}
		if len(p.APIRequests()) != 0 || r.Calls() != 0 {
			t.Error("expected no network call and no refresh")
		}
	})

	t.Run("live token is sent as bearer", func(t *testing.T) {
		p := tu.NewFakeProvider(t)
		p.APIHandler = acceptOnly("T1")
		f := newFixture()
		f.seed(t, "T1", "R1")
		r := &fakeRefresher{store: f.store}
		c := newTestClient(p, f.store, r)

		resp, err := c.Request(ctx, "/v1/me", RequestOptions{
			Header: http.Header{"Authorization": {"Bearer spoofed"}, "X-Trace": {"abc"}},
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200, got %d", resp.StatusCode)
		}

		reqs := p.APIRequests()
		if len(reqs) != 1 {
			t.Fatalf("expected 1 request, got %d", len(reqs))
		}
		if reqs[0].Method != http.MethodGet || reqs[0].Path != "/v1/me" {
			t.Errorf("unexpected request %s %s", reqs[0].Method, reqs[0].Path)
		}
		if reqs[0].Authorization != "Bearer T1" {
			t.Errorf("expected our bearer token to win, got %q", reqs[0].Authorization)
		}
		if reqs[0].Header.Get("X-Trace") != "abc" {
			t.Error("expected caller headers to be forwarded")
		}
		if r.Calls() != 0 {
			t.Error("expected no refresh")
		}
	})

	t.Run("method and body are forwarded", func(t *testing.T) {
		p := tu.NewFakeProvider(t)
		p.APIHandler = func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusCreated) }
		f := newFixture()
		f.seed(t, "T1", "")
		c := newTestClient(p, f.store, &fakeRefresher{store: f.store})

		resp, err := c.Request(ctx, "v1/me/playlists", RequestOptions{
			Method: http.MethodPost,
			Header: http.Header{"Content-Type": {"application/json"}},
			Body:   []byte(`{"name":"mix"}`),
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		resp.Body.Close()

		req := p.APIRequests()[0]
		if req.Method != http.MethodPost || req.Path != "/v1/me/playlists" {
			t.Errorf("unexpected request %s %s", req.Method, req.Path)
		}
		if string(req.Body) != `{"name":"mix"}` {
			t.Errorf("unexpected body %q", req.Body)
		}
	})

	t.Run("401 refreshes once and retries once", func(t *testing.T) {
		p := tu.NewFakeProvider(t)
		p.APIHandler = acceptOnly("T2")
		f := newFixture()
		f.seed(t, "T1", "R1")
		r := &fakeRefresher{store: f.store, next: "T2"}
		c := newTestClient(p, f.store, r)

		resp, err := c.Request(ctx, "/v1/me", RequestOptions{ClientID: testClientID})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200 after retry, got %d", resp.StatusCode)
		}
		if r.Calls() != 1 {
			t.Errorf("expected 1 refresh, got %d", r.Calls())
		}

		reqs := p.APIRequests()
		if len(reqs) != 2 {
			t.Fatalf("expected 2 requests, got %d", len(reqs))
		}
		if reqs[0].Authorization != "Bearer T1" || reqs[1].Authorization != "Bearer T2" {
			t.Errorf("unexpected bearer tokens %q, %q", reqs[0].Authorization, reqs[1].Authorization)
		}
	})

	t.Run("second 401 is returned without another refresh", func(t *testing.T) {
		p := tu.NewFakeProvider(t)
		p.APIHandler = acceptOnly("never")
		f := newFixture()
		f.seed(t, "T1", "R1")
		r := &fakeRefresher{store: f.store, next: "T2"}
		c := newTestClient(p, f.store, r)

		resp, err := c.Request(ctx, "/v1/me", RequestOptions{ClientID: testClientID})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", resp.StatusCode)
		}
		if r.Calls() != 1 {
			t.Errorf("expected 1 refresh, got %d", r.Calls())
		}
		if n := len(p.APIRequests()); n != 2 {
			t.Errorf("expected 2 requests, got %d", n)
		}
	})

	t.Run("401 without refresh token is returned", func(t *testing.T) {
		p := tu.NewFakeProvider(t)
		p.APIHandler = acceptOnly("never")
		f := newFixture()
		f.seed(t, "T1", "")
		r := &fakeRefresher{store: f.store}
		c := newTestClient(p, f.store, r)

		resp, err := c.Request(ctx, "/v1/me", RequestOptions{ClientID: testClientID})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", resp.StatusCode)
		}
		body, _ := io.ReadAll(resp.Body)
		if !bytes.Contains(body, []byte("The access token expired")) {
			t.Errorf("expected the provider body to be readable, got %q", body)
		}
		if r.Calls() != 0 {
			t.Error("expected no refresh")
		}
	})

	t.Run("401 without client id", func(t *testing.T) {
		p := tu.NewFakeProvider(t)
		p.APIHandler = acceptOnly("never")
		f := newFixture()
		f.seed(t, "T1", "R1")
		r := &fakeRefresher{store: f.store}
		c := newTestClient(p, f.store, r)

		_, err := c.Request(ctx, "/v1/me", RequestOptions{})
		if !errors.Is(err, ErrRefreshCredentialsMissing) {
			t.Fatalf("expected ErrRefreshCredentialsMissing, got %v", err)
		}
		if r.Calls() != 0 {
			t.Error("expected no refresh")
		}
	})

	t.Run("refresh failure propagates", func(t *testing.T) {
		p := tu.NewFakeProvider(t)
		p.APIHandler = acceptOnly("never")
		f := newFixture()
		f.seed(t, "T1", "R1")
		r := &fakeRefresher{store: f.store, err: auth.ErrRefreshFailed}
		c := newTestClient(p, f.store, r)

		_, err := c.Request(ctx, "/v1/me", RequestOptions{ClientID: testClientID})
		if !errors.Is(err, auth.ErrRefreshFailed) {
			t.Fatalf("expected ErrRefreshFailed, got %v", err)
		}
		if n := len(p.APIRequests()); n != 1 {
			t.Errorf("expected no retry, got %d requests", n)
		}
	})

	t.Run("transport error is not retried", func(t *testing.T) {
		f := newFixture()
		f.seed(t, "T1", "R1")
		rt := tu.NewMockRoundTripper(nil, errors.New("connection refused"))
		r := &fakeRefresher{store: f.store}
		c := NewClient(Options{
			Tokens:     f.store,
			Refresher:  r,
			HTTPClient: &http.Client{Transport: rt},
			Logger:     shared.NewLogger(&bytes.Buffer{}),
		})

		if _, err := c.Request(ctx, "/v1/me", RequestOptions{ClientID: testClientID}); err == nil {
			t.Fatal("expected transport error")
		}
		if rt.Calls() != 1 || r.Calls() != 0 {
			t.Errorf("expected a single attempt, got %d round trips and %d refreshes", rt.Calls(), r.Calls())
		}
	})

	t.Run("cancelled limiter wait", func(t *testing.T) {
		p := tu.NewFakeProvider(t)
		f := newFixture()
		f.seed(t, "T1", "R1")
		c := NewClient(Options{
			Tokens:     f.store,
			Refresher:  &fakeRefresher{store: f.store},
			BaseURL:    p.URL(),
			HTTPClient: p.Server.Client(),
			Limiter:    NewLimiter(0.001, 1),
			Logger:     shared.NewLogger(&bytes.Buffer{}),
		})
		p.APIHandler = acceptOnly("T1")

		resp, err := c.Request(ctx, "/v1/me", RequestOptions{})
		if err != nil {
			t.Fatalf("first request should use the burst, got %v", err)
		}
		resp.Body.Close()

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := c.Request(cancelled, "/v1/me", RequestOptions{}); err == nil {
			t.Error("expected the limiter wait to fail")
		}
		if n := len(p.APIRequests()); n != 1 {
			t.Errorf("expected 1 request, got %d", n)
		}
	})
}

func TestRequestWithController(t *testing.T) {
	ctx := context.Background()
	p := tu.NewFakeProvider(t)
	p.APIHandler = acceptOnly("T2")
	p.TokenHandler = tu.TokenJSON(http.StatusOK, map[string]any{"access_token": "T2", "expires_in": 3600})

	f := newFixture()
	f.seed(t, "T1", "R1")
	controller := auth.NewController(auth.Options{
		Storage:    f.mem,
		Location:   auth.NewBrowserLocation(nil),
		Tokens:     f.store,
		HTTPClient: p.Server.Client(),
		Endpoint:   p.Endpoint(),
		Logger:     shared.NewLogger(&bytes.Buffer{}),
		Clock:      f.clock,
	})
	c := newTestClient(p, f.store, controller)

	resp, err := c.Request(ctx, "/v1/me", RequestOptions{ClientID: testClientID})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if p.TokenCalls() != 1 {
		t.Errorf("expected 1 refresh grant, got %d", p.TokenCalls())
	}

	bundle, _ := f.store.Load(ctx)
	if bundle.AccessToken != "T2" || bundle.RefreshToken != "R1" {
		t.Errorf("expected merged bundle, got %+v", bundle)
	}
}

func TestResolveURL(t *testing.T) {
	c := NewClient(Options{})

	tests := []struct {
		in, want string
	}{
		{"/v1/me", "https://api.spotify.com/v1/me"},
		{"v1/me", "https://api.spotify.com/v1/me"},
		{"https://api.spotify.com/v1/tracks?ids=1", "https://api.spotify.com/v1/tracks?ids=1"},
		{"http://localhost:8080/x", "http://localhost:8080/x"},
		{"HTTPS://example.com/y", "HTTPS://example.com/y"},
	}
	for _, tt := range tests {
		if got := c.ResolveURL(tt.in); got != tt.want {
			t.Errorf("ResolveURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestReadResponse(t *testing.T) {
	t.Run("json body", func(t *testing.T) {
		resp := &http.Response{StatusCode: 200, Header: http.Header{}, Body: io.NopCloser(bytes.NewBufferString(`{"id":"u"}`))}
		out, err := ReadResponse(resp)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !out.IsJSON {
			t.Error("expected JSON to be detected")
		}
	})

	t.Run("plain body", func(t *testing.T) {
		resp := &http.Response{StatusCode: 204, Header: http.Header{}, Body: io.NopCloser(bytes.NewBufferString("not json"))}
		out, _ := ReadResponse(resp)
		if out.IsJSON || string(out.Body) != "not json" {
			t.Errorf("unexpected response %+v", out)
		}
	})

	t.Run("read failure", func(t *testing.T) {
		resp := &http.Response{Body: &tu.FCloser{}}
		if _, err := ReadResponse(resp); err == nil {
			t.Error("expected read error")
		}
	})
}
