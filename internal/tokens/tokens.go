// Package tokens persists the session's token bundle and decides whether its access token is still usable.
package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/eighttrack/internal/shared"
	"github.com/desertthunder/eighttrack/internal/storage"
)

// StorageKey is the session storage key holding the serialized [Bundle].
const StorageKey = "spotify_tokens"

// TokenResponse is the token endpoint's JSON payload.
//
// ExpiresIn is in seconds; zero means the provider did not say.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Bundle is the normalized token state of one session.
type Bundle struct {
	AccessToken  string
	RefreshToken string
	// ExpiresAt is nil when the expiry is unknown; such a bundle never expires by [Bundle.Live].
	ExpiresAt *time.Time
}

// Live reports whether the access token may be presented at now.
//
// The expiry instant itself counts as expired.
func (b *Bundle) Live(now time.Time) bool {
	if b == nil || b.AccessToken == "" {
		return false
	}
	return b.ExpiresAt == nil || now.Before(*b.ExpiresAt)
}

// record is the stored JSON shape; expires_at is unix milliseconds.
type record struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    *int64 `json:"expires_at"`
}

func (b *Bundle) record() record {
	r := record{AccessToken: b.AccessToken, RefreshToken: b.RefreshToken}
	if b.ExpiresAt != nil {
		ms := b.ExpiresAt.UnixMilli()
		r.ExpiresAt = &ms
	}
	return r
}

func (r record) bundle() *Bundle {
	b := &Bundle{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken}
	if r.ExpiresAt != nil {
		at := time.UnixMilli(*r.ExpiresAt)
		b.ExpiresAt = &at
	}
	return b
}

// Store reads and writes the [Bundle] in a session scope.
type Store struct {
	storage storage.Store
	now     func() time.Time
	logger  *log.Logger
}

// NewStore creates a token store over a session scope. A nil clock uses [time.Now].
func NewStore(s storage.Store, now func() time.Time, logger *log.Logger) *Store {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Store{storage: s, now: now, logger: logger}
}

func (s *Store) expiry(expiresIn int64) *time.Time {
	if expiresIn <= 0 {
		return nil
	}
	at := s.now().Add(time.Duration(expiresIn) * time.Second)
	return &at
}

func (s *Store) write(ctx context.Context, b *Bundle) error {
	data, err := json.Marshal(b.record())
	if err != nil {
		return fmt.Errorf("failed to marshal token bundle: %w", err)
	}
	if err := s.storage.Set(ctx, StorageKey, string(data)); err != nil {
		return fmt.Errorf("failed to store token bundle: %w", err)
	}
	return nil
}

// Save replaces the stored bundle with one built from a fresh token response.
func (s *Store) Save(ctx context.Context, resp TokenResponse) (*Bundle, error) {
	b := &Bundle{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    s.expiry(resp.ExpiresIn),
	}
	if err := s.write(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Load returns the stored bundle, or nil when nothing is stored or the stored value cannot be parsed.
//
// Only storage failures are returned as errors.
func (s *Store) Load(ctx context.Context) (*Bundle, error) {
	raw, err := s.storage.Get(ctx, StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token bundle: %w", err)
	}

	var r record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		s.logger.Warn("ignoring corrupt token bundle", "error", err)
		return nil, nil
	}
	return r.bundle(), nil
}

// LiveAccessToken returns the access token when the stored bundle is live, otherwise "".
func (s *Store) LiveAccessToken(ctx context.Context) (string, error) {
	b, err := s.Load(ctx)
	if err != nil {
		return "", err
	}
	if !b.Live(s.now()) {
		return "", nil
	}
	return b.AccessToken, nil
}

// Merge applies a refresh response to the stored bundle.
//
// The access token and expiry are replaced. The refresh token is replaced only when
// the response carries a new one. A response without expires_in leaves the expiry
// unknown rather than reusing the old, possibly past, instant.
func (s *Store) Merge(ctx context.Context, resp TokenResponse) (*Bundle, error) {
	existing, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}

	b := &Bundle{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    s.expiry(resp.ExpiresIn),
	}
	if b.RefreshToken == "" && existing != nil {
		b.RefreshToken = existing.RefreshToken
	}

	if err := s.write(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Clear removes the stored bundle.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.storage.Remove(ctx, StorageKey); err != nil {
		return fmt.Errorf("failed to clear token bundle: %w", err)
	}
	return nil
}

// Now returns the store's current time.
func (s *Store) Now() time.Time {
	return s.now()
}
