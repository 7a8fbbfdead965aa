package trace

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sumarte/internal/log"
)

func TestMiddlewareAssignsRequestID(t *testing.T) {
	m := NewMiddleware(nil, log.Discard())
	var seen string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		if log.FromContext(r.Context()).Component() == "unknown" {
			t.Error("request logger not in context")
		}
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/projects", nil))

	if !strings.HasPrefix(seen, "req_") {
		t.Errorf("request ID = %q, want req_ prefix", seen)
	}
	if rec.Header().Get(HeaderRequestID) != seen {
		t.Errorf("response header = %q, want %q", rec.Header().Get(HeaderRequestID), seen)
	}
}

func TestMiddlewareKeepsForwardedID(t *testing.T) {
	m := NewMiddleware(nil, log.Discard())
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for _, tt := range []struct {
		in   string
		keep bool
	}{
		{"abc-123_X", true},
		{"bad id with spaces", false},
		{strings.Repeat("a", 65), false},
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderRequestID, tt.in)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if got := rec.Header().Get(HeaderRequestID) == tt.in; got != tt.keep {
			t.Errorf("forwarded %q kept = %v, want %v", tt.in, got, tt.keep)
		}
	}
}

func TestMetrics(t *testing.T) {
	m := NewMiddleware(nil, log.Discard())
	statuses := []int{http.StatusOK, http.StatusNotFound, http.StatusBadGateway, http.StatusOK}
	for _, code := range statuses {
		h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}

	got := m.GetMetrics()
	if got.TotalRequests != 4 || got.ClientErrors != 1 || got.ServerErrors != 1 || got.InFlight != 0 {
		t.Errorf("metrics = %+v", got)
	}
}
