package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wolfman30/medicarex-booking/internal/access"
)

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticateMissingHeader(t *testing.T) {
	called := false
	rec := httptest.NewRecorder()
	Authenticate(access.NewTokenService("secret", time.Hour))(okHandler(&called)).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/appointments", nil))

	if rec.Code != http.StatusUnauthorized || called {
		t.Fatalf("expected 401 without calling next, got %d", rec.Code)
	}
}

func TestAuthenticateInvalidToken(t *testing.T) {
	other := access.NewTokenService("other", time.Hour)
	token, _, err := other.Issue(access.Caller{Role: access.RolePatient, ID: "pat-1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/appointments", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	called := false

	Authenticate(access.NewTokenService("secret", time.Hour))(okHandler(&called)).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized || called {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthenticateStoresCaller(t *testing.T) {
	tokens := access.NewTokenService("secret", time.Hour)
	token, _, err := tokens.Issue(access.Caller{Role: access.RoleDoctor, ID: "doc-1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/appointments", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	var got access.Caller
	Authenticate(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = access.CallerFromContext(r.Context())
	})).ServeHTTP(rec, req)

	if got.Role != access.RoleDoctor || got.ID != "doc-1" {
		t.Fatalf("unexpected caller %+v", got)
	}
}

func TestRequireRole(t *testing.T) {
	mw := RequireRole(access.RoleAdmin)

	req := httptest.NewRequest(http.MethodGet, "/admin/anomalies", nil)
	req = req.WithContext(access.WithCaller(req.Context(), access.Caller{Role: access.RolePatient, ID: "pat-1"}))
	rec := httptest.NewRecorder()
	called := false
	mw(okHandler(&called)).ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden || called {
		t.Fatalf("patient: expected 403, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/anomalies", nil)
	req = req.WithContext(access.WithCaller(req.Context(), access.Caller{Role: access.RoleAdmin, ID: "ops@example.com"}))
	rec = httptest.NewRecorder()
	mw(okHandler(&called)).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !called {
		t.Fatalf("admin: expected 200, got %d", rec.Code)
	}
}
