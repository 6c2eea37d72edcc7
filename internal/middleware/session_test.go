package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chirpbot/chirpboard/internal/auth"
	"github.com/chirpbot/chirpboard/internal/session"
)

const testSecret = "middleware-test-secret"

// mockRefresher はTokenRefresherのテスト用モック。
type mockRefresher struct {
	ensureFreshFunc func(ctx context.Context, rec *session.Record, requireToken bool) (*auth.Credential, *session.Error)
}

func (m *mockRefresher) EnsureFresh(ctx context.Context, rec *session.Record, requireToken bool) (*auth.Credential, *session.Error) {
	if m.ensureFreshFunc != nil {
		return m.ensureFreshFunc(ctx, rec, requireToken)
	}
	return &auth.Credential{Record: rec, AccessToken: rec.AccessToken, TokenType: rec.TokenType}, nil
}

func encodeTestSession(t *testing.T, rec *session.Record) string {
	t.Helper()
	value, err := session.Encode(rec, testSecret)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return value
}

func newSessionTestRecord(now int64) *session.Record {
	return &session.Record{
		Subject:        "42",
		TokenType:      "Bearer",
		AccessToken:    "at",
		TokenExpiresAt: now + 1800,
		ExpiresAt:      now + 86400,
	}
}

func testValidator(now int64) *session.Validator {
	return session.NewValidator(testSecret).WithClock(func() time.Time { return time.Unix(now, 0) })
}

func TestSessionMiddleware_NoCookie(t *testing.T) {
	const now = int64(1_700_000_000)
	mw := NewSessionMiddleware(testValidator(now), &mockRefresher{}, 86400, true)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard/guilds", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("body parse: %v", err)
	}
	if body["ok"] != false || body["error"] != "unauthenticated" {
		t.Errorf("body = %v", body)
	}
}

func TestSessionMiddleware_ValidCookie(t *testing.T) {
	const now = int64(1_700_000_000)
	mw := NewSessionMiddleware(testValidator(now), &mockRefresher{}, 86400, true)

	var gotSubject string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, err := SubjectFromContext(r.Context())
		if err != nil {
			t.Errorf("SubjectFromContext: %v", err)
		}
		gotSubject = subject
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard/guilds", nil)
	req.AddCookie(&http.Cookie{
		Name:  session.CookieName,
		Value: encodeTestSession(t, newSessionTestRecord(now)),
	})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if gotSubject != "42" {
		t.Errorf("subject = %q, want 42", gotSubject)
	}
}

func TestSessionMiddleware_HeaderFallback(t *testing.T) {
	const now = int64(1_700_000_000)
	mw := NewSessionMiddleware(testValidator(now), &mockRefresher{}, 86400, true)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard/guilds", nil)
	req.Header.Set("X-Chirp-Session", encodeTestSession(t, newSessionTestRecord(now)))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

func TestSessionMiddleware_RotatedCookieEmitted(t *testing.T) {
	const now = int64(1_700_000_000)
	rotated := encodeTestSession(t, &session.Record{Subject: "42", AccessToken: "at-new", ExpiresAt: now + 86400})

	refresher := &mockRefresher{
		ensureFreshFunc: func(ctx context.Context, rec *session.Record, requireToken bool) (*auth.Credential, *session.Error) {
			return &auth.Credential{Record: rec, AccessToken: "at-new", TokenType: "Bearer", SetCookie: rotated}, nil
		},
	}
	mw := NewSessionMiddleware(testValidator(now), refresher, 86400, true)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard/guilds", nil)
	req.AddCookie(&http.Cookie{
		Name:  session.CookieName,
		Value: encodeTestSession(t, newSessionTestRecord(now)),
	})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	var found *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == session.CookieName {
			found = c
		}
	}
	if found == nil {
		t.Fatal("rotated Set-Cookie not emitted")
	}
	if found.Value != rotated {
		t.Errorf("cookie value = %q, want rotated value", found.Value)
	}
	if found.MaxAge != 86400 {
		t.Errorf("MaxAge = %d, want 86400", found.MaxAge)
	}
}

func TestSessionMiddleware_RefreshErrorShortCircuits(t *testing.T) {
	const now = int64(1_700_000_000)
	refresher := &mockRefresher{
		ensureFreshFunc: func(ctx context.Context, rec *session.Record, requireToken bool) (*auth.Credential, *session.Error) {
			return nil, session.ErrTokenExpired
		},
	}
	mw := NewSessionMiddleware(testValidator(now), refresher, 86400, true)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard/guilds", nil)
	req.AddCookie(&http.Cookie{
		Name:  session.CookieName,
		Value: encodeTestSession(t, newSessionTestRecord(now)),
	})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
	var body map[string]any
	json.Unmarshal(rr.Body.Bytes(), &body)
	if body["error"] != "token expired" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestSessionMiddleware_ExpiredSession(t *testing.T) {
	const now = int64(1_700_000_000)
	mw := NewSessionMiddleware(testValidator(now), &mockRefresher{}, 86400, true)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run")
	}))

	rec := newSessionTestRecord(now)
	rec.ExpiresAt = now - 1
	req := httptest.NewRequest(http.MethodGet, "/api/dashboard/guilds", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: encodeTestSession(t, rec)})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
	var body map[string]any
	json.Unmarshal(rr.Body.Bytes(), &body)
	if body["error"] != "session expired" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestSessionMiddleware_NilValidator(t *testing.T) {
	mw := NewSessionMiddleware(nil, &mockRefresher{}, 86400, true)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard/guilds", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
	var body map[string]any
	json.Unmarshal(rr.Body.Bytes(), &body)
	if body["error"] != "server not configured" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestCredentialFromContext_Missing(t *testing.T) {
	if _, err := CredentialFromContext(context.Background()); err == nil {
		t.Error("expected error for missing credential")
	}
	if _, err := SubjectFromContext(context.Background()); err == nil {
		t.Error("expected error for missing subject")
	}
}
