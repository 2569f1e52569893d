package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAuth(t *testing.T) {
	h := Auth("secret", "/api/health")(ok)

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"open path", "/api/health", nil, http.StatusOK},
		{"missing", "/api/widgets", nil, http.StatusUnauthorized},
		{"bearer", "/api/widgets", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
		{"api key", "/api/widgets", map[string]string{"X-API-Key": "secret"}, http.StatusOK},
		{"wrong", "/api/widgets", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"query token", "/ws?token=secret", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	Auth("")(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"})(ok)

	req := httptest.NewRequest(http.MethodOptions, "/api/widgets", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/widgets", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (s *stubLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allow, s.err
}


func TestRateLimit(t *testing.T) {
	lim := &stubLimiter{allow: false}
	h := RateLimit(lim, 10, time.Second, testLogger())(ok)

	req := httptest.NewRequest(http.MethodGet, "/api/widgets", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, []string{"http:10.0.0.1"}, lim.keys)

	lim.err = errors.New("redis down")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "192.0.2.1", clientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", clientIP(req))
}
