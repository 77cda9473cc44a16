package auth

import (
	"fmt"
	"net/url"
	"sync"
)

// Location is the page the flow runs in.
type Location interface {
	// Current returns the page URL, including its query. Nil means no page is loaded.
	Current() *url.URL
	// Assign navigates away to rawURL.
	Assign(rawURL string) error
	// Replace swaps the visible URL without reloading the page.
	Replace(rawURL string) error
}

// BrowserLocation is a [Location] for processes that drive the system browser from outside,
// like the CLI. Assign hands the URL to an opener; the redirect is fed back with [BrowserLocation.Land].
type BrowserLocation struct {
	mu       sync.Mutex
	current  *url.URL
	assigned string
	open     func(string) error
}

// NewBrowserLocation creates a location that calls open on navigation. open may be nil.
func NewBrowserLocation(open func(string) error) *BrowserLocation {
	return &BrowserLocation{open: open}
}

func (l *BrowserLocation) Current() *url.URL {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current == nil {
		return nil
	}
	u := *l.current
	return &u
}

func (l *BrowserLocation) Assign(rawURL string) error {
	l.mu.Lock()
	l.assigned = rawURL
	open := l.open
	l.mu.Unlock()

	if open == nil {
		return nil
	}
	return open(rawURL)
}

func (l *BrowserLocation) Replace(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid location %q: %w", rawURL, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = u
	return nil
}

// Land records the URL the browser was redirected to.
func (l *BrowserLocation) Land(u *url.URL) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := *u
	l.current = &c
}

// Assigned returns the last URL passed to Assign.
func (l *BrowserLocation) Assigned() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.assigned
}
