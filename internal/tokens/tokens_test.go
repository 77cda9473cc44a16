package tokens

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/desertthunder/eighttrack/internal/shared"
	"github.com/desertthunder/eighttrack/internal/storage"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestStore(t *testing.T) (*Store, *storage.MemoryStore, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
	mem := storage.NewMemoryStore()
	return NewStore(mem, c.now, shared.NewLogger(&bytes.Buffer{})), mem, c
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (string, error) { return "", errors.New("disk on fire") }
func (failingStore) Set(context.Context, string, string) error   { return errors.New("disk on fire") }
func (failingStore) Remove(context.Context, string) error        { return errors.New("disk on fire") }

func TestStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Save computes expiry and liveness boundary", func(t *testing.T) {
		store, _, c := newTestStore(t)
		start := c.t

		b, err := store.Save(ctx, TokenResponse{AccessToken: "T1", RefreshToken: "R1", ExpiresIn: 3600})
		if err != nil {
			t.Fatalf("failed to save: %v", err)
		}
		if b.ExpiresAt == nil || !b.ExpiresAt.Equal(start.Add(time.Hour)) {
			t.Fatalf("expected expiry at T+3600s, got %v", b.ExpiresAt)
		}

		tc := []struct {
			name   string
			offset time.Duration
			want   string
		}{
			{name: "T+3599s is live", offset: 3599 * time.Second, want: "T1"},
			{name: "T+3600s is dead", offset: 3600 * time.Second, want: ""},
			{name: "T+3601s is dead", offset: 3601 * time.Second, want: ""},
		}
		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				c.t = start.Add(tt.offset)
				got, err := store.LiveAccessToken(ctx)
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				if got != tt.want {
					t.Errorf("LiveAccessToken() = %q, want %q", got, tt.want)
				}
			})
		}
	})

	t.Run("Save without expires_in never expires", func(t *testing.T) {
		store, _, c := newTestStore(t)
		if _, err := store.Save(ctx, TokenResponse{AccessToken: "T1"}); err != nil {
			t.Fatalf("failed to save: %v", err)
		}

		c.t = c.t.Add(24 * 365 * time.Hour)
		got, _ := store.LiveAccessToken(ctx)
		if got != "T1" {
			t.Errorf("expected T1 to stay live, got %q", got)
		}

		b, _ := store.Load(ctx)
		if b.ExpiresAt != nil {
			t.Errorf("expected absent expiry, got %v", b.ExpiresAt)
		}
	})

	t.Run("Save overwrites previous bundle", func(t *testing.T) {
		store, _, _ := newTestStore(t)
		_, _ = store.Save(ctx, TokenResponse{AccessToken: "old", RefreshToken: "R-old"})
		_, _ = store.Save(ctx, TokenResponse{AccessToken: "new"})

		b, _ := store.Load(ctx)
		if b.AccessToken != "new" || b.RefreshToken != "" {
			t.Errorf("expected a fresh bundle, got %+v", b)
		}
	})

	t.Run("Load with nothing stored", func(t *testing.T) {
		store, _, _ := newTestStore(t)
		b, err := store.Load(ctx)
		if err != nil || b != nil {
			t.Errorf("expected (nil, nil), got (%v, %v)", b, err)
		}
		token, err := store.LiveAccessToken(ctx)
		if err != nil || token != "" {
			t.Errorf("expected empty token, got (%q, %v)", token, err)
		}
	})

	t.Run("Load treats corrupt storage as absent", func(t *testing.T) {
		store, mem, _ := newTestStore(t)
		_ = mem.Set(ctx, StorageKey, "{not json")

		b, err := store.Load(ctx)
		if err != nil {
			t.Fatalf("corruption should not be fatal, got %v", err)
		}
		if b != nil {
			t.Errorf("expected nil bundle, got %+v", b)
		}
	})

	t.Run("Load reads the original wire shape", func(t *testing.T) {
		store, mem, c := newTestStore(t)
		expires := c.t.Add(time.Minute).UnixMilli()
		_ = mem.Set(ctx, StorageKey, `{"access_token":"A","refresh_token":"R","expires_at":`+strconv.FormatInt(expires, 10)+`}`)

		b, err := store.Load(ctx)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if b.AccessToken != "A" || b.RefreshToken != "R" || b.ExpiresAt == nil {
			t.Fatalf("unexpected bundle %+v", b)
		}
		if b.ExpiresAt.UnixMilli() != expires {
			t.Errorf("expected expiry %d, got %d", expires, b.ExpiresAt.UnixMilli())
		}

		_ = mem.Set(ctx, StorageKey, `{"access_token":"A","expires_at":null}`)
		b, _ = store.Load(ctx)
		if b.ExpiresAt != nil {
			t.Errorf("expected null expiry to load as absent, got %v", b.ExpiresAt)
		}
	})

	t.Run("Bundle without access token is dead", func(t *testing.T) {
		var nilBundle *Bundle
		if nilBundle.Live(time.Now()) {
			t.Error("nil bundle should not be live")
		}
		if (&Bundle{RefreshToken: "R"}).Live(time.Now()) {
			t.Error("bundle without access token should not be live")
		}
	})

	t.Run("Merge keeps refresh token when omitted", func(t *testing.T) {
		store, _, c := newTestStore(t)
		_, _ = store.Save(ctx, TokenResponse{AccessToken: "T1", RefreshToken: "R1", ExpiresIn: 60})

		c.t = c.t.Add(2 * time.Minute)
		b, err := store.Merge(ctx, TokenResponse{AccessToken: "T2", ExpiresIn: 3600})
		if err != nil {
			t.Fatalf("failed to merge: %v", err)
		}
		if b.AccessToken != "T2" || b.RefreshToken != "R1" {
			t.Errorf("unexpected merged bundle %+v", b)
		}
		if !b.ExpiresAt.Equal(c.t.Add(time.Hour)) {
			t.Errorf("expected expiry recomputed from merge time, got %v", b.ExpiresAt)
		}

		live, _ := store.LiveAccessToken(ctx)
		if live != "T2" {
			t.Errorf("expected T2 to be live, got %q", live)
		}
	})

	t.Run("Merge replaces refresh token when rotated", func(t *testing.T) {
		store, _, _ := newTestStore(t)
		_, _ = store.Save(ctx, TokenResponse{AccessToken: "T1", RefreshToken: "R1"})

		b, _ := store.Merge(ctx, TokenResponse{AccessToken: "T2", RefreshToken: "R2"})
		if b.RefreshToken != "R2" {
			t.Errorf("expected rotated refresh token, got %s", b.RefreshToken)
		}
	})

	t.Run("Merge without expires_in makes expiry unknown", func(t *testing.T) {
		store, _, c := newTestStore(t)
		_, _ = store.Save(ctx, TokenResponse{AccessToken: "T1", RefreshToken: "R1", ExpiresIn: 60})
		c.t = c.t.Add(time.Hour)

		b, _ := store.Merge(ctx, TokenResponse{AccessToken: "T2"})
		if b.ExpiresAt != nil {
			t.Errorf("expected unknown expiry, got %v", b.ExpiresAt)
		}
		if live, _ := store.LiveAccessToken(ctx); live != "T2" {
			t.Errorf("expected refreshed token to be live, got %q", live)
		}
	})

	t.Run("Merge with nothing stored", func(t *testing.T) {
		store, _, _ := newTestStore(t)
		b, err := store.Merge(ctx, TokenResponse{AccessToken: "T2"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if b.AccessToken != "T2" || b.RefreshToken != "" {
			t.Errorf("unexpected bundle %+v", b)
		}
	})

	t.Run("Clear", func(t *testing.T) {
		store, mem, _ := newTestStore(t)
		_, _ = store.Save(ctx, TokenResponse{AccessToken: "T1"})
		if err := store.Clear(ctx); err != nil {
			t.Fatalf("failed to clear: %v", err)
		}
		if mem.Len() != 0 {
			t.Errorf("expected storage to be empty, got %d keys", mem.Len())
		}
	})

	t.Run("storage failures surface", func(t *testing.T) {
		store := NewStore(failingStore{}, nil, shared.NewLogger(&bytes.Buffer{}))
		if _, err := store.Save(ctx, TokenResponse{AccessToken: "T"}); err == nil {
			t.Error("expected Save to fail")
		}
		if _, err := store.Load(ctx); err == nil {
			t.Error("expected Load to fail")
		}
		if _, err := store.LiveAccessToken(ctx); err == nil {
			t.Error("expected LiveAccessToken to fail")
		}
		if _, err := store.Merge(ctx, TokenResponse{AccessToken: "T"}); err == nil {
			t.Error("expected Merge to fail")
		}
	})
}
