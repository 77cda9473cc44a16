package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/desertthunder/eighttrack/internal/shared"
	"github.com/google/uuid"
)

func TestSessions(t *testing.T) {
	var seen string
	h := Sessions("sid")(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = SessionID(r.Context())
	}))

	t.Run("assigns a new id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		cookies := rec.Result().Cookies()
		if len(cookies) != 1 || cookies[0].Name != "sid" {
			t.Fatalf("expected a sid cookie, got %v", cookies)
		}
		if cookies[0].Value != seen {
			t.Errorf("context id %q does not match cookie %q", seen, cookies[0].Value)
		}
		if !cookies[0].HttpOnly {
			t.Error("expected HttpOnly cookie")
		}
	})

	t.Run("reuses a valid cookie", func(t *testing.T) {
		id := uuid.New().String()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "sid", Value: id})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if seen != id {
			t.Errorf("expected %s, got %s", id, seen)
		}
		if len(rec.Result().Cookies()) != 0 {
			t.Error("expected no new cookie")
		}
	})

	t.Run("replaces a forged cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "sid", Value: "../../etc"})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if seen == "../../etc" {
			t.Error("forged id must not be used")
		}
		if _, err := uuid.Parse(seen); err != nil {
			t.Errorf("expected a uuid, got %q", seen)
		}
	})
}

func TestLogging(t *testing.T) {
	buf := &bytes.Buffer{}
	h := Logging(shared.NewLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/?code=SECRET", nil))

	out := buf.String()
	if !strings.Contains(out, "418") {
		t.Errorf("expected status in log, got %s", out)
	}
	if strings.Contains(out, "SECRET") {
		t.Error("query strings must not be logged")
	}
}
