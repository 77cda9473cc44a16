package server

import (
	"embed"
	"html/template"
	"net/http"
	"sync"

	"github.com/desertthunder/eighttrack/internal/auth"
	"github.com/desertthunder/eighttrack/internal/tokens"
)

//go:embed templates/callback.html
var callbackFiles embed.FS

var callbackTemplate = template.Must(template.ParseFS(callbackFiles, "templates/callback.html"))

// callbackPage is what the browser shows once the redirect is handled.
type callbackPage struct {
	Err     string
	Replace string
}

// CallbackResult is the outcome of a CLI authorization.
type CallbackResult struct {
	Bundle *tokens.Bundle
	Err    error
}

// CallbackHandler serves the redirect URI while the CLI waits for the browser.
//
// It lands the redirect on a [auth.BrowserLocation] and completes the flow once;
// the outcome is delivered on [CallbackHandler.Result].
type CallbackHandler struct {
	flow        *Flow
	location    *auth.BrowserLocation
	path        string
	clientID    string
	redirectURI string
	resultChan  chan CallbackResult
	once        sync.Once
	callbackHit bool
	mu          sync.Mutex
}

// NewCallbackHandler creates a handler completing flow, whose controller runs in location.
func NewCallbackHandler(flow *Flow, location *auth.BrowserLocation, clientID, redirectURI, path string) *CallbackHandler {
	return &CallbackHandler{
		flow:        flow,
		location:    location,
		path:        path,
		clientID:    clientID,
		redirectURI: redirectURI,
		resultChan:  make(chan CallbackResult, 1),
	}
}

// Routes returns the redirect URI path.
func (h *CallbackHandler) Routes() []string {
	return []string{Pattern(http.MethodGet, h.path)}
}

// ServeHTTP completes the authorization from the redirect request.
func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !q.Has("code") && !q.Has("error") {
		http.Error(w, "Waiting for an authorization response", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	if h.callbackHit {
		h.mu.Unlock()
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	}
	h.callbackHit = true
	h.mu.Unlock()

	h.location.Land(NewRequestLocation(r).Current())

	bundle, err := h.flow.Controller.CompleteFromRedirect(r.Context(), h.clientID, h.redirectURI)
	h.Send(CallbackResult{Bundle: bundle, Err: err})

	page, status := callbackPage{}, http.StatusOK
	if err != nil {
		page.Err, status = err.Error(), http.StatusBadRequest
	} else if u := h.location.Current(); u != nil {
		page.Replace = u.RequestURI()
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = callbackTemplate.Execute(w, page)
}

// Send delivers the result (only once).
func (h *CallbackHandler) Send(result CallbackResult) {
	h.once.Do(func() {
		h.resultChan <- result
		close(h.resultChan)
	})
}

// Result receives exactly one result and is then closed.
func (h *CallbackHandler) Result() <-chan CallbackResult {
	return h.resultChan
}
