package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func corsRequest(t *testing.T, origins []string, method, origin string, preflight bool) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	called := false
	handler := CORS(origins)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(method, "/booking/reserve", nil)
	req.Header.Set("Origin", origin)
	if preflight {
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, called
}

func TestCORSAllowsListedOrigin(t *testing.T) {
	rec, called := corsRequest(t, []string{" https://app.medicarex.example "}, http.MethodGet, "https://app.medicarex.example", false)
	require.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://app.medicarex.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSDeniesUnknownOrigin(t *testing.T) {
	rec, called := corsRequest(t, []string{"https://app.medicarex.example"}, http.MethodGet, "https://evil.example", false)
	require.True(t, called)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSAllowsAnyOrigin(t *testing.T) {
	rec, _ := corsRequest(t, []string{"*"}, http.MethodGet, "https://random.example", false)
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSHandlesPreflight(t *testing.T) {
	rec, called := corsRequest(t, []string{"https://app.medicarex.example"}, http.MethodOptions, "https://app.medicarex.example", true)
	assert.False(t, called, "preflight must not reach the handler")
	assert.Less(t, rec.Code, 300)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "https://app.medicarex.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
