package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AvinashSuthar/chat-backend/internal/api"
	"github.com/AvinashSuthar/chat-backend/internal/auth"
	"github.com/AvinashSuthar/chat-backend/internal/storage"
	"github.com/AvinashSuthar/chat-backend/internal/testsupport"
)

func newTestAPIHandler(t *testing.T) *api.Handler {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewStorage(filepath.Join(dir, "chat.json"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	sessions := auth.NewSessionManager(72*time.Hour, auth.WithStore(testsupport.NewSessionStoreStub()))
	handler := api.NewHandler(store, sessions)
	handler.MediaDir = filepath.Join(dir, "media")
	return handler
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	srv, err := New(newTestAPIHandler(t), cfg)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return srv
}

func signupTestUser(t *testing.T, handler http.Handler, email string) string {
	t.Helper()
	body, err := json.Marshal(map[string]string{"email": email, "password": "correct-horse"})
	if err != nil {
		t.Fatalf("marshal signup payload: %v", err)
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup status = %d, body %s", rec.Code, rec.Body.String())
	}
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == "chat_session" && cookie.Value != "" {
			return cookie.Value
		}
	}
	t.Fatal("signup response did not set a session cookie")
	return ""
}

func TestServerRejectsUnauthenticatedAPIRequests(t *testing.T) {
	srv := newTestServer(t, Config{})

	for _, path := range []string{"/api/contacts", "/api/channels", "/api/users/me"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %s without a token, got %d", path, rec.Code)
		}
	}
}

func TestServerExemptsPublicRoutesFromAuth(t *testing.T) {
	srv := newTestServer(t, Config{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected health check to bypass auth, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected metrics endpoint to bypass auth, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/session", nil))
	if rec.Code == http.StatusMethodNotAllowed {
		t.Fatalf("auth routes must reach the handler, got %d", rec.Code)
	}
}

func TestServerSessionFlowsThroughMiddleware(t *testing.T) {
	srv := newTestServer(t, Config{})
	handler := srv.Handler()

	token := signupTestUser(t, handler, "alice@example.com")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/contacts", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated contacts request failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.AddCookie(&http.Cookie{Name: "chat_session", Value: token})
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("session lookup via cookie failed: %d %s", rec.Code, rec.Body.String())
	}
}

func TestServerLoginRateLimitReturnsRetryAfter(t *testing.T) {
	srv := newTestServer(t, Config{
		RateLimit: RateLimitConfig{LoginLimit: 2, LoginWindow: time.Minute},
	})
	handler := srv.Handler()

	attempt := func() *httptest.ResponseRecorder {
		body, err := json.Marshal(map[string]string{"email": "nobody@example.com", "password": "wrong-password"})
		if err != nil {
			t.Fatalf("marshal login payload: %v", err)
		}
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
		req.RemoteAddr = "203.0.113.7:52100"
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := attempt(); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401 for bad credentials, got %d", i+1, rec.Code)
		}
	}

	rec := attempt()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after exhausting login attempts, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on throttled login")
	}
}

func TestServerGlobalRateLimit(t *testing.T) {
	srv := newTestServer(t, Config{
		RateLimit: RateLimitConfig{GlobalRPS: 1, GlobalBurst: 1},
	})
	handler := srv.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once the global bucket drains, got %d", rec.Code)
	}
}

func TestServerEchoesRequestID(t *testing.T) {
	srv := newTestServer(t, Config{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "trace-me")
	srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "trace-me" {
		t.Fatalf("expected request id to round-trip, got %q", got)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected a generated request id on the response")
	}
}

func TestServerAuditLogsMutations(t *testing.T) {
	var buf bytes.Buffer
	srv := newTestServer(t, Config{
		AuditLogger: slog.New(slog.NewJSONHandler(&buf, nil)),
	})
	handler := srv.Handler()

	signupTestUser(t, handler, "carol@example.com")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	entries := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(entries) != 1 || entries[0] == "" {
		t.Fatalf("expected exactly one audit entry, got %q", buf.String())
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(entries[0]), &payload); err != nil {
		t.Fatalf("unmarshal audit entry: %v", err)
	}
	if payload["path"] != "/api/auth/signup" {
		t.Fatalf("expected signup in the audit trail, got %v", payload["path"])
	}
	if payload["method"] != http.MethodPost {
		t.Fatalf("expected POST method recorded, got %v", payload["method"])
	}
}

func TestServerShutdownWithoutStart(t *testing.T) {
	srv := newTestServer(t, Config{})
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
}
