package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthOK(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{"postgres": pingFunc(func(context.Context) error { return nil })})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
}

func TestHealthDegraded(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"postgres": pingFunc(func(context.Context) error { return nil }),
		"redis":    pingFunc(func(context.Context) error { return errors.New("dial tcp: refused") }),
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "dial tcp: refused", body["checks"].(map[string]any)["redis"])
}
