package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/text/language"

	"sumarte/internal/api"
	"sumarte/internal/cache"
	"sumarte/internal/core"
	"sumarte/internal/log"
	"sumarte/internal/middleware/ratelimit"
	"sumarte/internal/middleware/security"
	"sumarte/internal/middleware/trace"
	"sumarte/internal/session"
	"sumarte/internal/storage"
	appweb "sumarte/web"
)

// ExportRequester queues ledger exports and reports their state.
// *services.ExportService implements it.
type ExportRequester interface {
	RequestExport(ctx context.Context, projectID int64, requestedBy string) (storage.ExportJob, error)
	LatestExport(ctx context.Context, projectID int64) (*storage.ExportJob, error)
}

// HealthChecker is probed by /readyz.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Addr               string
	Locale             language.Tag
	ReferenceCacheTTL  time.Duration
	RateLimitPerMinute int
	// Now overrides the clock used for "today" checks.
	Now func() time.Time
}

// Deps are the collaborators of the server. Exports and Health may be nil.
type Deps struct {
	Backend  api.Backend
	Sessions *session.Manager
	Exports  ExportRequester
	Health   HealthChecker
	Logger   *log.Logger
}

type appMetrics struct {
	uptime    time.Time
	logins    atomic.Int64
	mutations atomic.Int64
	exports   atomic.Int64
}

type Server struct {
	http.Server
	pages    map[string]*template.Template
	partials *template.Template

	backend  api.Backend
	sessions *session.Manager
	exports  ExportRequester
	health   HealthChecker
	forms    *formValidator
	locale   language.Tag
	now      func() time.Time
	logger   *log.Logger
	audit    *log.StructuredLogger

	roleCache     *cache.LRUCache[[]core.Role]
	supplierCache *cache.LRUCache[[]core.Supplier]
	caches        *cache.Manager

	traceMiddleware  *trace.Middleware
	securityDetector *security.Detector
	rateLimiter      *ratelimit.Limiter
	appMetrics       appMetrics

	shutdownOnce sync.Once
}

// sessionHandler is a handler that runs with a loaded session.
type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *session.Session)

// projectHandler additionally receives the {id} path value.
type projectHandler func(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64)

// NewServer parses the templates, wires the middleware chain and
// registers every route.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Backend == nil || deps.Sessions == nil {
		return nil, errors.New("backend and session manager are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.Discard()
	}
	if cfg.Locale == language.Und {
		cfg.Locale = core.DefaultLocale
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Server{
		backend:          deps.Backend,
		sessions:         deps.Sessions,
		exports:          deps.Exports,
		health:           deps.Health,
		forms:            newFormValidator(),
		locale:           cfg.Locale,
		now:              cfg.Now,
		logger:           logger.WithComponent(log.ComponentHTTP),
		audit:            log.NewStructuredLogger(logger.WithComponent(log.ComponentBudget)),
		roleCache:        cache.NewLRUCache[[]core.Role](8, cfg.ReferenceCacheTTL),
		supplierCache:    cache.NewLRUCache[[]core.Supplier](256, cfg.ReferenceCacheTTL),
		caches:           cache.NewManager(logger),
		securityDetector: security.NewDetector(),
		rateLimiter:      ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute}),
	}
	s.appMetrics.uptime = time.Now()
	s.traceMiddleware = trace.NewMiddleware(s.securityDetector.ExtractClientIP, logger)

	if err := s.loadTemplates(); err != nil {
		s.rateLimiter.Stop()
		return nil, err
	}

	s.caches.Register(s.roleCache)
	s.caches.Register(s.supplierCache)
	if cfg.ReferenceCacheTTL > 0 {
		s.caches.StartCleanup(cfg.ReferenceCacheTTL)
	}

	mux := http.NewServeMux()
	s.routes(mux)

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	limit := s.rateLimiter.Middleware(s.securityDetector.ExtractClientIP, s.onRateLimit)

	var handler http.Handler = mux
	handler = limit(handler)
	handler = headers.Middleware(handler)
	handler = s.securityDetector.Middleware(handler)
	handler = s.traceMiddleware.Middleware(handler)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

func (s *Server) routes(mux *http.ServeMux) {
	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(static))
	} else {
		s.logger.Warn("Failed to mount embedded static FS", log.FieldError, err.Error())
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /login", s.handleLoginPage)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /logout", s.handleLogout)
	mux.HandleFunc("GET /register", s.handleRegisterPage)
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("GET /register/rut", s.handleCheckRUT)
	mux.HandleFunc("GET /invitations/accept", s.handleAcceptInvitationPage)
	mux.HandleFunc("POST /invitations/accept", s.handleAcceptInvitation)

	mux.HandleFunc("GET /projects", s.withSession(s.handleProjects))
	mux.HandleFunc("GET /projects/{id}", s.withProject(s.handleProject))

	mux.HandleFunc("GET /projects/{id}/budget", s.withProject(s.handleBudget))
	mux.HandleFunc("POST /projects/{id}/budget/validate", s.withProject(s.handleBudgetValidate))
	mux.HandleFunc("POST /projects/{id}/budget", s.withProject(s.handleBudgetSave))
	mux.HandleFunc("POST /projects/{id}/budget/items/{itemID}/delete", s.withProject(s.handleBudgetItemDelete))
	mux.HandleFunc("POST /projects/{id}/budget/subitems/{subID}/delete", s.withProject(s.handleBudgetSubitemDelete))

	mux.HandleFunc("GET /projects/{id}/transactions", s.withProject(s.handleTransactions))
	mux.HandleFunc("GET /projects/{id}/transactions/new", s.withProject(s.handleTransactionNew))
	mux.HandleFunc("POST /projects/{id}/transactions", s.withProject(s.handleTransactionCreate))
	mux.HandleFunc("GET /projects/{id}/transactions/{txID}", s.withProject(s.handleTransaction))
	mux.HandleFunc("GET /projects/{id}/transactions/{txID}/edit", s.withProject(s.handleTransactionEdit))
	mux.HandleFunc("POST /projects/{id}/transactions/{txID}", s.withProject(s.handleTransactionUpdate))
	mux.HandleFunc("POST /projects/{id}/transactions/{txID}/approve", s.withProject(s.handleTransactionApprove))
	mux.HandleFunc("POST /projects/{id}/transactions/{txID}/reject", s.withProject(s.handleTransactionReject))
	mux.HandleFunc("POST /projects/{id}/transactions/{txID}/delete", s.withProject(s.handleTransactionDelete))
	mux.HandleFunc("POST /projects/{id}/transactions/{txID}/evidence", s.withProject(s.handleEvidenceLink))
	mux.HandleFunc("POST /projects/{id}/transactions/{txID}/evidence/{linkID}/unlink", s.withProject(s.handleEvidenceUnlink))

	mux.HandleFunc("GET /projects/{id}/evidence", s.withProject(s.handleEvidence))
	mux.HandleFunc("POST /projects/{id}/evidence", s.withProject(s.handleEvidenceUpload))
	mux.HandleFunc("POST /projects/{id}/evidence/{evID}/delete", s.withProject(s.handleEvidenceDelete))
	mux.HandleFunc("POST /projects/{id}/evidence/{evID}/restore", s.withProject(s.handleEvidenceRestore))

	mux.HandleFunc("GET /projects/{id}/closing", s.withProject(s.handleClosing))
	mux.HandleFunc("GET /projects/{id}/closing/gate", s.withProject(s.handleClosingGate))
	mux.HandleFunc("POST /projects/{id}/close", s.withProject(s.handleClose))

	mux.HandleFunc("GET /projects/{id}/team", s.withProject(s.handleTeam))
	mux.HandleFunc("POST /projects/{id}/team", s.withProject(s.handleTeamAssign))
	mux.HandleFunc("POST /projects/{id}/team/{memberID}/role", s.withProject(s.handleTeamChangeRole))
	mux.HandleFunc("POST /projects/{id}/team/{memberID}/remove", s.withProject(s.handleTeamRemove))

	mux.HandleFunc("GET /projects/{id}/invitations", s.withProject(s.handleInvitations))
	mux.HandleFunc("POST /projects/{id}/invitations", s.withProject(s.handleInvitationCreate))
	mux.HandleFunc("POST /projects/{id}/invitations/{invID}/resend", s.withProject(s.handleInvitationResend))
	mux.HandleFunc("POST /projects/{id}/invitations/{invID}/cancel", s.withProject(s.handleInvitationCancel))

	mux.HandleFunc("GET /projects/{id}/audit", s.withProject(s.handleAudit))
	mux.HandleFunc("GET /projects/{id}/reports/{kind}", s.withProject(s.handleReport))
	mux.HandleFunc("GET /projects/{id}/export", s.withProject(s.handleExportStatus))
	mux.HandleFunc("POST /projects/{id}/export", s.withProject(s.handleExport))
}

// Shutdown stops the background goroutines and the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.caches.Stop()
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) withSession(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		sess, err := s.sessions.Load(r)
		if err != nil {
			if !errors.Is(err, session.ErrNoSession) {
				log.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to load session", log.FieldError, err.Error())
			}
			s.redirectToLogin(w, r)
			return
		}
		logger := log.FromContext(r.Context()).With(log.FieldUser, sess.User.Username)
		r = r.WithContext(context.WithValue(r.Context(), log.LoggerContextKey, logger))
		h(w, r, sess)
	}
}

func (s *Server) withProject(h projectHandler) http.HandlerFunc {
	return s.withSession(func(w http.ResponseWriter, r *http.Request, sess *session.Session) {
		id, err := pathID(r, "id")
		if err != nil {
			s.respondError(w, r, sess, log.OpRead, api.ErrNotFound)
			return
		}
		h(w, r, sess, id)
	})
}

func (s *Server) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	if isHTMX(r) {
		NewHTMXResponse().Redirect("/login").Write(w)
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(http.StatusTooManyRequests, "too many requests, please wait a moment").Write(w)
}

// respondError logs err and reports it to the user. An expired session is
// discarded and the browser sent to the login page.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, sess *session.Session, op string, err error) {
	ctx := r.Context()
	status := statusFor(err)
	fields := log.NewFields().WithOperation(op).WithError(err).WithErrorType(errorType(err))
	logger := log.FromContext(ctx)
	if status >= 500 {
		logger.ErrorContext(ctx, "Request failed", fields.ToSlice()...)
	} else {
		logger.WarnContext(ctx, "Request rejected", fields.ToSlice()...)
	}

	if errors.Is(err, api.ErrSessionExpired) || errors.Is(err, api.ErrUnauthorized) {
		s.sessions.Destroy(w, r)
		s.redirectToLogin(w, r)
		return
	}

	msg := api.UserMessage(err)
	if errors.Is(err, core.ErrProjectReadOnly) {
		msg = "this project is closed and can no longer be modified"
	}
	if isHTMX(r) {
		ErrorResponse(status, msg).Write(w)
		return
	}
	s.render(w, r, status, "error.html", errorView{
		Page:    s.page(sess, "Error", nil, ""),
		Status:  status,
		Message: msg,
	})
}

func statusFor(err error) int {
	var ve *api.ValidationError
	var ne *api.NetworkError
	var be *api.BusinessError
	switch {
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity
	case errors.Is(err, api.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, api.ErrSessionExpired), errors.Is(err, api.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrProjectReadOnly):
		return http.StatusConflict
	case errors.As(err, &ne):
		return http.StatusBadGateway
	case errors.As(err, &be):
		if be.Status >= 400 && be.Status < 500 {
			return be.Status
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func errorType(err error) string {
	var ve *api.ValidationError
	var ne *api.NetworkError
	var be *api.BusinessError
	switch {
	case errors.As(err, &ve):
		return log.ErrorTypeValidation
	case errors.Is(err, api.ErrNotFound):
		return log.ErrorTypeNotFound
	case errors.Is(err, api.ErrSessionExpired), errors.Is(err, api.ErrUnauthorized):
		return log.ErrorTypeAuth
	case errors.As(err, &ne):
		return log.ErrorTypeNetwork
	case errors.As(err, &be), errors.Is(err, core.ErrProjectReadOnly):
		return log.ErrorTypeBusiness
	}
	return log.ErrorTypeInternal
}

// succeed answers a mutation. htmx requests get body plus a success
// notification; plain form posts are redirected to location.
func (s *Server) succeed(w http.ResponseWriter, r *http.Request, location, message string, body []byte, projectID int64) {
	s.appMetrics.mutations.Add(1)
	if !isHTMX(r) {
		http.Redirect(w, r, location, http.StatusSeeOther)
		return
	}
	b := NewHTMXResponse().NotifySuccess(message).Fragment(body)
	if projectID > 0 {
		b.ProjectChanged(projectID)
	}
	b.Write(w)
}

// invalid re-renders a form with its field errors.
func (s *Server) invalid(w http.ResponseWriter, r *http.Request, errs map[string]string, body []byte) {
	NewHTMXResponse().Status(http.StatusUnprocessableEntity).NotifyError(firstMessage(errs)).Fragment(body).Write(w)
}

func (s *Server) loadTemplates() error {
	funcs := s.templateFuncs()

	partials, err := template.New("partials.html").Funcs(funcs).ParseFS(appweb.TemplatesFS, "templates/partials.html")
	if err != nil {
		return fmt.Errorf("parse partials: %w", err)
	}
	s.partials = partials

	files, err := fs.Glob(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		return fmt.Errorf("list templates: %w", err)
	}
	s.pages = make(map[string]*template.Template, len(files))
	for _, f := range files {
		name := strings.TrimPrefix(f, "templates/")
		if name == "layout.html" || name == "partials.html" {
			continue
		}
		t, err := template.New("layout.html").Funcs(funcs).ParseFS(appweb.TemplatesFS,
			"templates/layout.html", "templates/partials.html", f)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		s.pages[name] = t
	}
	return nil
}

func (s *Server) templateFuncs() template.FuncMap {
	return template.FuncMap{
		"money":           money(s.locale),
		"day":             formatDay,
		"pct":             func(p float64) string { return fmt.Sprintf("%.2f%%", p) },
		"bar":             core.BarWidth,
		"effective":       core.EffectiveAmount,
		"itemField":       core.ItemField,
		"subField":        core.SubitemField,
		"rut":             core.FormatRUT,
		"deref":           func(p *int64) int64 { return derefID(p) },
		"readOnly":        core.IsReadOnly,
		"reportKinds":     func() []api.ReportKind { return api.ReportKinds },
		"docTypes":        func() []string { return core.DocumentTypes },
		"auditActions":    func() []core.AuditAction { return core.AuditActions },
		"reversalWarning": func() string { return core.ReversalWarning },
	}
}

func derefID(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

// render executes a full page into a buffer first, so a template failure
// never leaves a half-written response.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, page string, data any) {
	t, ok := s.pages[page]
	if !ok {
		s.templateFailure(w, r, page, fmt.Errorf("unknown page %s", page))
		return
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		s.templateFailure(w, r, page, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// fragment executes one named partial.
func (s *Server) fragment(name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.partials.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// renderFragment writes a partial as a plain 200 response.
func (s *Server) renderFragment(w http.ResponseWriter, r *http.Request, name string, data any) {
	body, err := s.fragment(name, data)
	if err != nil {
		s.templateFailure(w, r, name, err)
		return
	}
	NewHTMXResponse().Fragment(body).Write(w)
}

func (s *Server) templateFailure(w http.ResponseWriter, r *http.Request, name string, err error) {
	log.FromContext(r.Context()).WithComponent(log.ComponentTemplate).ErrorContext(r.Context(), "Template execution failed",
		"template", name,
		log.FieldError, err.Error(),
		log.FieldErrorType, log.ErrorTypeInternal)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// Page carries what the layout needs on every page.
type Page struct {
	Title   string
	User    *core.User
	Project *core.Project
	Tab     string
	Notice  string
}

func (s *Server) page(sess *session.Session, title string, p *core.Project, tab string) Page {
	pg := Page{Title: title, Project: p, Tab: tab}
	if sess != nil {
		u := sess.User
		pg.User = &u
	}
	return pg
}

type errorView struct {
	Page
	Status  int
	Message string
}
