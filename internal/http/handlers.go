package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sumarte/internal/api"
	"sumarte/internal/core"
	"sumarte/internal/session"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	health := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.appMetrics.uptime).String(),
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(health)
}

// handleReady checks the templates and the session store.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any)

	if len(s.pages) == 0 || s.partials == nil {
		checks["templates"] = "failed: templates not loaded"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["templates"] = "ok"
	}

	if s.health != nil {
		if err := s.health.Ping(ctx); err != nil {
			checks["session_store"] = fmt.Sprintf("failed: %v", err)
			status = "not_ready"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["session_store"] = "ok"
		}
	} else {
		checks["session_store"] = "not_configured"
	}

	if s.exports != nil {
		checks["ledger_export"] = "ok"
	} else {
		checks["ledger_export"] = "not_configured"
	}

	checks["cache"] = map[string]any{
		"role_entries":     s.roleCache.Size(),
		"supplier_entries": s.supplierCache.Size(),
	}

	response := map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	}
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(response)
}

// handleMetrics writes the counters in Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	traceMetrics := s.traceMiddleware.GetMetrics()
	securityMetrics := s.securityDetector.GetMetrics()
	rateLimitMetrics := s.rateLimiter.GetMetrics()
	roleHits, roleMisses := s.roleCache.Stats()
	supplierHits, supplierMisses := s.supplierCache.Stats()

	w.WriteHeader(http.StatusOK)

	metric := func(name, kind, help string, value any) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
		fmt.Fprintf(w, "%s %v\n\n", name, value)
	}

	metric("http_requests_total", "counter", "Total number of HTTP requests", traceMetrics.TotalRequests)
	metric("http_client_errors_total", "counter", "Responses with a 4xx status", traceMetrics.ClientErrors)
	metric("http_server_errors_total", "counter", "Responses with a 5xx status", traceMetrics.ServerErrors)
	metric("http_requests_in_flight", "gauge", "Requests being served", traceMetrics.InFlight)
	metric("http_response_time_average_microseconds", "gauge", "Average response time", traceMetrics.AverageResponseUs)

	metric("logins_total", "counter", "Successful sign-ins", s.appMetrics.logins.Load())
	metric("mutations_total", "counter", "Successful write requests", s.appMetrics.mutations.Load())
	metric("ledger_exports_requested_total", "counter", "Ledger exports queued", s.appMetrics.exports.Load())

	fmt.Fprintf(w, "# HELP cache_hits_total Reference cache hits\n")
	fmt.Fprintf(w, "# TYPE cache_hits_total counter\n")
	fmt.Fprintf(w, "cache_hits_total{type=\"roles\"} %d\n", roleHits)
	fmt.Fprintf(w, "cache_hits_total{type=\"suppliers\"} %d\n\n", supplierHits)
	fmt.Fprintf(w, "# HELP cache_misses_total Reference cache misses\n")
	fmt.Fprintf(w, "# TYPE cache_misses_total counter\n")
	fmt.Fprintf(w, "cache_misses_total{type=\"roles\"} %d\n", roleMisses)
	fmt.Fprintf(w, "cache_misses_total{type=\"suppliers\"} %d\n\n", supplierMisses)
	fmt.Fprintf(w, "# HELP cache_entries Current cache entries\n")
	fmt.Fprintf(w, "# TYPE cache_entries gauge\n")
	fmt.Fprintf(w, "cache_entries{type=\"roles\"} %d\n", s.roleCache.Size())
	fmt.Fprintf(w, "cache_entries{type=\"suppliers\"} %d\n\n", s.supplierCache.Size())

	metric("rate_limit_hits_total", "counter", "Total rate limit hits", rateLimitMetrics.TotalHits)
	metric("active_rate_limit_clients", "gauge", "Currently tracked rate limit clients", rateLimitMetrics.ClientCount)
	metric("suspicious_requests_total", "counter", "Total suspicious requests detected", securityMetrics.SuspiciousRequests)
	metric("blocked_requests_total", "counter", "Requests rejected by the detector", securityMetrics.BlockedRequests)
	metric("uptime_seconds", "gauge", "Application uptime in seconds", fmt.Sprintf("%.0f", time.Since(s.appMetrics.uptime).Seconds()))
}

// roles returns the role catalogue, cached per organization.
func (s *Server) roles(ctx context.Context, sess *session.Session) ([]core.Role, error) {
	key := strconv.FormatInt(sess.User.OrganizationID, 10)
	return s.roleCache.GetOrLoad(key, func() ([]core.Role, error) {
		return sess.Client.ListRoles(ctx)
	})
}

// suppliers returns the organization's suppliers, cached per organization.
func (s *Server) suppliers(ctx context.Context, sess *session.Session) ([]core.Supplier, error) {
	key := strconv.FormatInt(sess.User.OrganizationID, 10)
	return s.supplierCache.GetOrLoad(key, func() ([]core.Supplier, error) {
		return sess.Client.ListSuppliers(ctx)
	})
}

// respondInvalid re-renders a form with 422: the fragment for htmx
// requests, the whole page otherwise.
func (s *Server) respondInvalid(w http.ResponseWriter, r *http.Request, errs map[string]string, fragment, page string, view any) {
	if !isHTMX(r) {
		s.render(w, r, http.StatusUnprocessableEntity, page, view)
		return
	}
	body, err := s.fragment(fragment, view)
	if err != nil {
		s.templateFailure(w, r, fragment, err)
		return
	}
	s.invalid(w, r, errs, body)
}

// backendFieldErrors flattens a backend validation error for a form. It
// reports false for any other error.
func backendFieldErrors(err error) (map[string]string, bool) {
	var ve *api.ValidationError
	if !errors.As(err, &ve) {
		return nil, false
	}
	out := make(map[string]string, len(ve.Fields))
	for field, msgs := range ve.Fields {
		if len(msgs) == 0 {
			continue
		}
		if field == "non_field_errors" {
			field = ""
		}
		out[field] = msgs[0]
	}
	if len(out) == 0 {
		out[""] = ve.Error()
	}
	return out, true
}

// returnTo reads the "return" form value and accepts it only when it points
// inside the project; fallback is used otherwise.
func returnTo(r *http.Request, projectID int64, fallback string) string {
	v := r.PostFormValue("return")
	prefix := projectPath(projectID) + "/"
	if strings.HasPrefix(v, prefix) && !strings.Contains(v, "//") && !strings.ContainsAny(v, "\\\r\n") {
		return v
	}
	return fallback
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}

func projectPath(projectID int64, parts ...string) string {
	p := "/projects/" + idString(projectID)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

// guardWritable loads the project and rejects read-only ones.
func (s *Server) guardWritable(ctx context.Context, sess *session.Session, projectID int64) (core.Project, error) {
	p, err := sess.Client.GetProject(ctx, projectID)
	if err != nil {
		return core.Project{}, err
	}
	if core.IsReadOnly(p.Status) {
		return p, core.ErrProjectReadOnly
	}
	return p, nil
}

// forbidden is the error used when a control is not offered to the user.
func forbidden(msg string) error {
	return &api.BusinessError{Status: http.StatusForbidden, Message: msg}
}
