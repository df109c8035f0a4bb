package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pubadmin/internal/model"
)

type recordedRequest struct {
	method string
	route  string
	status int
}

type mockHTTPRecorder struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (m *mockHTTPRecorder) RecordHTTPRequest(method, route string, statusCode int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, recordedRequest{method, route, statusCode})
}

// TestMiddlewareChain_RecordsRoutePattern はchiのルートパターンでメトリクスが記録されることを検証する。
func TestMiddlewareChain_RecordsRoutePattern(t *testing.T) {
	rec := &mockHTTPRecorder{}
	user := &model.User{ID: 5, IsActive: true}

	r := chi.NewRouter()
	r.Use(NewRecoveryMiddleware())
	r.Use(NewSecurityHeadersMiddleware())
	r.Use(NewMetricsMiddleware(rec))
	r.Group(func(r chi.Router) {
		r.Use(NewAuthMiddleware(tokenAuthenticator("good", user)))
		r.Get("/api/v1/apps/{id}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		r.Get("/api/v1/boom", func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/apps/12", nil)
	req.Header.Set("Authorization", "Bearer good")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/apps/12", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/boom", nil)
	req.Header.Set("Authorization", "Bearer good")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("panic: status = %d, want %d", w.Code, http.StatusInternalServerError)
	}

	want := []recordedRequest{
		{http.MethodGet, "/api/v1/apps/{id}", http.StatusOK},
		{http.MethodGet, "/api/v1/apps/{id}", http.StatusUnauthorized},
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.requests) < len(want) {
		t.Fatalf("recorded %d requests, want at least %d", len(rec.requests), len(want))
	}
	for i, w := range want {
		if rec.requests[i] != w {
			t.Errorf("request %d = %+v, want %+v", i, rec.requests[i], w)
		}
	}
}
