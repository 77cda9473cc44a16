package server

import (
	"fmt"
	"net/http"
	"net/url"
)

// RequestLocation is the [auth.Location] of one page load.
//
// Navigation cannot happen mid-request, so Assign and Replace are recorded and the
// handler turns them into a redirect or a history.replaceState call.
type RequestLocation struct {
	current  *url.URL
	assigned string
	replaced string
}

// NewRequestLocation reconstructs the absolute page URL of r.
func NewRequestLocation(r *http.Request) *RequestLocation {
	u := *r.URL
	u.Scheme = "http"
	if r.TLS != nil {
		u.Scheme = "https"
	}
	u.Host = r.Host
	return &RequestLocation{current: &u}
}

func (l *RequestLocation) Current() *url.URL {
	u := *l.current
	return &u
}

func (l *RequestLocation) Assign(rawURL string) error {
	l.assigned = rawURL
	return nil
}

func (l *RequestLocation) Replace(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid location %q: %w", rawURL, err)
	}
	l.current = u
	l.replaced = rawURL
	return nil
}

// Assigned is the URL the page asked to navigate to, if any.
func (l *RequestLocation) Assigned() string {
	return l.assigned
}

// Replaced is the path and query the page should show instead of the request URL, if any.
func (l *RequestLocation) Replaced() string {
	if l.replaced == "" {
		return ""
	}
	return l.current.RequestURI()
}
