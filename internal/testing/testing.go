// package testing contains shared testing utilities
package testing

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync"
	"testing"

	"golang.org/x/oauth2"
)

// RecordedRequest is what [FakeProvider] saw of an API call.
type RecordedRequest struct {
	Method        string
	Path          string
	Query         string
	Authorization string
	Header        http.Header
	Body          []byte
}

// FakeProvider is an httptest stand-in for the Spotify accounts service and Web API.
//
// POST /api/token is answered by TokenHandler; every other path by APIHandler.
// Both default to 500 so a test only gets what it sets up.
type FakeProvider struct {
	Server *httptest.Server

	mu           sync.Mutex
	tokenForms   []url.Values
	apiRequests  []RecordedRequest
	TokenHandler func(w http.ResponseWriter, form url.Values)
	APIHandler   func(w http.ResponseWriter, r *http.Request)
}

// NewFakeProvider starts a provider that is closed with the test.
func NewFakeProvider(t *testing.T) *FakeProvider {
	t.Helper()

	p := &FakeProvider{}
	p.Server = httptest.NewServer(http.HandlerFunc(p.serve))
	t.Cleanup(p.Server.Close)
	return p
}

func (p *FakeProvider) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/token" && r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		p.mu.Lock()
		p.tokenForms = append(p.tokenForms, r.PostForm)
		handler := p.TokenHandler
		p.mu.Unlock()

		if handler == nil {
			http.Error(w, "no token handler", http.StatusInternalServerError)
			return
		}
		handler(w, r.PostForm)
		return
	}

	body, _ := io.ReadAll(r.Body)
	p.mu.Lock()
	p.apiRequests = append(p.apiRequests, RecordedRequest{
		Method:        r.Method,
		Path:          r.URL.Path,
		Query:         r.URL.RawQuery,
		Authorization: r.Header.Get("Authorization"),
		Header:        r.Header.Clone(),
		Body:          body,
	})
	handler := p.APIHandler
	p.mu.Unlock()

	if handler == nil {
		http.Error(w, "no api handler", http.StatusInternalServerError)
		return
	}
	handler(w, r)
}

// URL is the provider's base URL.
func (p *FakeProvider) URL() string {
	return p.Server.URL
}

// Endpoint returns the provider's authorize and token URLs.
func (p *FakeProvider) Endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:   p.Server.URL + "/authorize",
		TokenURL:  p.Server.URL + "/api/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

// SetTokenHandler swaps the token endpoint behaviour while requests may be in flight.
func (p *FakeProvider) SetTokenHandler(h func(w http.ResponseWriter, form url.Values)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TokenHandler = h
}

// SetAPIHandler swaps the API behaviour while requests may be in flight.
func (p *FakeProvider) SetAPIHandler(h func(w http.ResponseWriter, r *http.Request)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.APIHandler = h
}

// TokenForms returns the form bodies posted to the token endpoint, in order.
func (p *FakeProvider) TokenForms() []url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]url.Values(nil), p.tokenForms...)
}

// TokenCalls is the number of token endpoint requests.
func (p *FakeProvider) TokenCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tokenForms)
}

// APIRequests returns the API calls seen, in order.
func (p *FakeProvider) APIRequests() []RecordedRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]RecordedRequest(nil), p.apiRequests...)
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// TokenJSON answers every token request with status and body.
func TokenJSON(status int, body any) func(http.ResponseWriter, url.Values) {
	return func(w http.ResponseWriter, _ url.Values) {
		WriteJSON(w, status, body)
	}
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
	calls    int
	mu       sync.Mutex
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.response, m.err
}

// Calls is the number of round trips attempted.
func (m *MockRoundTripper) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
