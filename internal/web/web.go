// Package web serves the 8track page: the redirect URI that finishes authorization and shows the connected profile.
//
// # Routes
//
//	GET  <redirect path> → completes a pending authorization, then shows the profile or a Connect button
//	GET  /login          → starts authorization (302 to the provider)
//	POST /logout         → ends the browsing session
//
// The redirect path is taken from the configured redirect URI, so the page and
// the URI registered with Spotify always agree.
//
// # Rendering
//
// Templates are embedded and rendered with html/template. After a successful
// exchange the page calls history.replaceState so the code leaves the address bar.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/eighttrack/internal/api"
	"github.com/desertthunder/eighttrack/internal/server"
)

//go:embed templates/*.html
var templateFiles embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFiles, "templates/index.html"))

// ProfilePath is the API path of the current user's profile.
const ProfilePath = "/v1/me"

// Profile is the part of the user object the page shows.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Images      []struct {
		URL string `json:"url"`
	} `json:"images"`
}

// Name is the display name, falling back to the user id.
func (p *Profile) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.ID
}

// Avatar is the first profile image, if any.
func (p *Profile) Avatar() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0].URL
}

type page struct {
	Profile    *Profile
	Error      string
	ReplaceURL string
}

// App implements [server.Handler] for the page routes.
type App struct {
	flows  *server.Flows
	logger *log.Logger
	mux    *http.ServeMux
	home   string
}

// NewApp creates the page handler over flows.
func NewApp(flows *server.Flows, logger *log.Logger) *App {
	a := &App{
		flows:  flows,
		logger: logger,
		mux:    http.NewServeMux(),
		home:   flows.Config().CallbackPath(),
	}
	a.mux.HandleFunc(server.Pattern(http.MethodGet, a.home), a.Home)
	a.mux.HandleFunc(server.Pattern(http.MethodGet, "/login"), a.Login)
	a.mux.HandleFunc(server.Pattern(http.MethodPost, "/logout"), a.Logout)
	return a
}

func (a *App) Routes() []string {
	routes := []string{
		server.Pattern(http.MethodGet, a.home),
		server.Pattern(http.MethodGet, "/login"),
		server.Pattern(http.MethodPost, "/logout"),
	}
	return routes
}

func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

// Home finishes a pending authorization, then loads the profile when the session holds a live token.
func (a *App) Home(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg := a.flows.Config()
	loc := server.NewRequestLocation(r)
	flow := a.flows.For(server.SessionID(ctx), loc)

	var view page
	if _, err := flow.Controller.CompleteFromRedirect(ctx, cfg.ClientID, cfg.RedirectURI); err != nil {
		a.logger.Warn("authorization failed", "error", err)
		view.Error = err.Error()
	}
	view.ReplaceURL = loc.Replaced()

	profile, err := a.profile(ctx, flow, cfg.ClientID)
	switch {
	case errors.Is(err, api.ErrUnauthenticated):
	case err != nil:
		a.logger.Warn("failed to load profile", "error", err)
		if view.Error == "" {
			view.Error = err.Error()
		}
	default:
		view.Profile = profile
	}

	a.render(w, http.StatusOK, view)
}

func (a *App) profile(ctx context.Context, flow *server.Flow, clientID string) (*Profile, error) {
	resp, err := flow.API.Request(ctx, ProfilePath, api.RequestOptions{ClientID: clientID})
	if err != nil {
		return nil, err
	}

	out, err := api.ReadResponse(resp)
	if err != nil {
		return nil, err
	}
	if out.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: out.StatusCode, Body: string(out.Body)}
	}

	var p Profile
	if err := json.Unmarshal(out.Body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Login starts authorization and redirects the browser to the provider.
func (a *App) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg := a.flows.Config()
	loc := server.NewRequestLocation(r)
	flow := a.flows.For(server.SessionID(ctx), loc)

	if err := flow.Controller.Initiate(ctx, cfg.ClientID, cfg.Scopes, cfg.RedirectURI); err != nil {
		a.logger.Error("failed to start authorization", "error", err)
		a.render(w, http.StatusInternalServerError, page{Error: err.Error()})
		return
	}
	http.Redirect(w, r, loc.Assigned(), http.StatusFound)
}

// Logout forgets every key of the browsing session.
func (a *App) Logout(w http.ResponseWriter, r *http.Request) {
	if err := a.flows.Backend().End(r.Context(), server.SessionID(r.Context())); err != nil {
		a.logger.Error("failed to end session", "error", err)
		a.render(w, http.StatusInternalServerError, page{Error: err.Error()})
		return
	}
	http.Redirect(w, r, a.home, http.StatusSeeOther)
}

func (a *App) render(w http.ResponseWriter, status int, view page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTemplate.Execute(w, view); err != nil {
		a.logger.Error("failed to render page", "error", err)
	}
}

// StatusError is an unexpected API status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return "spotify api returned " + http.StatusText(e.StatusCode) + ": " + e.Body
}
