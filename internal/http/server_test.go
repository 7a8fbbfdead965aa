package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"sumarte/internal/api"
	"sumarte/internal/api/memory"
	"sumarte/internal/core"
	"sumarte/internal/session"
	"sumarte/internal/storage"
)

type fakeExports struct {
	mu        sync.Mutex
	requested []int64
	latest    *storage.ExportJob
}

func (f *fakeExports) RequestExport(_ context.Context, projectID int64, requestedBy string) (storage.ExportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, projectID)
	job := storage.ExportJob{ID: "job-1", ProjectID: projectID, RequestedBy: requestedBy, Status: storage.ExportPending}
	f.latest = &job
	return job, nil
}

func (f *fakeExports) LatestExport(_ context.Context, _ int64) (*storage.ExportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, nil
}

type testEnv struct {
	srv     *Server
	store   *memory.Store
	project int64
}

func newTestEnv(t *testing.T, exports ExportRequester) *testEnv {
	t.Helper()
	return newTestEnvWith(t, memory.NewDemo(), nil, exports)
}

// newTestEnvWith serves store through backend; a nil backend uses store.
func newTestEnvWith(t *testing.T, store *memory.Store, backend api.Backend, exports ExportRequester) *testEnv {
	t.Helper()
	if backend == nil {
		backend = store
	}
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	deps := Deps{
		Backend:  backend,
		Sessions: session.NewManager(repo, backend, session.Options{TTL: time.Hour}, nil),
		Health:   repo,
	}
	if exports != nil {
		deps.Exports = exports
	}
	srv, err := NewServer(Config{Addr: ":0", RateLimitPerMinute: 1000, ReferenceCacheTTL: time.Minute}, deps)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	projects, err := adminClient(t, store).ListProjects(context.Background())
	if err != nil || len(projects) == 0 {
		t.Fatalf("demo projects: %v", err)
	}
	return &testEnv{srv: srv, store: store, project: projects[0].ID}
}

func adminClient(t *testing.T, store *memory.Store) api.Client {
	t.Helper()
	tok, err := store.Login(context.Background(), memory.DemoAdminUser, memory.DemoAdminUser)
	if err != nil {
		t.Fatalf("backend login: %v", err)
	}
	return store.ClientFor(tok, nil)
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) login(t *testing.T) []*http.Cookie {
	t.Helper()
	rr := e.do(formRequest(http.MethodPost, "/login", url.Values{
		"username": {memory.DemoAdminUser},
		"password": {memory.DemoAdminUser},
	}, nil))
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("login status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); loc != "/projects" {
		t.Fatalf("login redirect = %q", loc)
	}
	cookies := rr.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("login set no cookie")
	}
	return cookies
}

func (e *testEnv) path(parts ...string) string {
	return projectPath(e.project, parts...)
}

func formRequest(method, target string, form url.Values, cookies []*http.Cookie) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func getRequest(target string, cookies []*http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func htmx(req *http.Request) *http.Request {
	req.Header.Set("HX-Request", "true")
	return req
}

func TestHealthReadyMetrics(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(getRequest("/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rr.Code)
	}

	rr = env.do(getRequest("/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"session_store":"ok"`) {
		t.Errorf("readyz should report the session store: %s", rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"ledger_export":"not_configured"`) {
		t.Errorf("readyz should report export as not configured: %s", rr.Body.String())
	}

	rr = env.do(getRequest("/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rr.Code)
	}
	for _, name := range []string{"http_requests_total", "logins_total", "cache_hits_total{type=\"roles\"}", "blocked_requests_total"} {
		if !strings.Contains(rr.Body.String(), name) {
			t.Errorf("metrics missing %s", name)
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(getRequest("/login", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("login page status = %d", rr.Code)
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing X-Content-Type-Options")
	}
	if !strings.Contains(rr.Header().Get("Content-Security-Policy"), "unpkg.com") {
		t.Errorf("CSP should allow the htmx CDN: %q", rr.Header().Get("Content-Security-Policy"))
	}
}

func TestUnauthenticatedRequestsGoToLogin(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(getRequest("/projects", nil))
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/login" {
		t.Fatalf("got %d to %q, want 303 to /login", rr.Code, rr.Header().Get("Location"))
	}

	rr = env.do(htmx(getRequest(env.path("transactions"), nil)))
	if rr.Header().Get("HX-Redirect") != "/login" {
		t.Errorf("htmx request should get HX-Redirect, headers = %v", rr.Header())
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(formRequest(http.MethodPost, "/login", url.Values{
		"username": {memory.DemoAdminUser},
		"password": {"wrong"},
	}, nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad credentials status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "invalid username or password") {
		t.Error("bad credentials should show a generic message")
	}

	rr = env.do(formRequest(http.MethodPost, "/login", url.Values{"username": {""}}, nil))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("empty form status = %d", rr.Code)
	}

	cookies := env.login(t)
	rr = env.do(getRequest("/projects", cookies))
	if rr.Code != http.StatusOK {
		t.Fatalf("projects status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Festival de Teatro Comunitario") {
		t.Error("project list should show the demo project")
	}
	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("authenticated pages must not be cached, got %q", rr.Header().Get("Cache-Control"))
	}

	rr = env.do(formRequest(http.MethodPost, "/logout", nil, cookies))
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("logout status = %d", rr.Code)
	}
	rr = env.do(getRequest("/projects", cookies))
	if rr.Code != http.StatusSeeOther {
		t.Errorf("session should be gone after logout, status = %d", rr.Code)
	}
}

func TestProjectPagesRender(t *testing.T) {
	env := newTestEnv(t, &fakeExports{})
	cookies := env.login(t)

	pages := []string{
		env.path(),
		env.path("budget"),
		env.path("transactions"),
		env.path("transactions") + "?estado=pending",
		env.path("transactions", "new"),
		env.path("evidence"),
		env.path("team"),
		env.path("invitations"),
		env.path("audit"),
		env.path("audit") + "?sort=user&desc=on",
		env.path("closing"),
	}
	for _, p := range pages {
		t.Run(p, func(t *testing.T) {
			rr := env.do(getRequest(p, cookies))
			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
			}
			if !strings.Contains(rr.Body.String(), "Festival de Teatro Comunitario") {
				t.Error("page should carry the project header")
			}
		})
	}
}

func TestUnknownProjectIsNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	cookies := env.login(t)

	for _, p := range []string{"/projects/999999", "/projects/abc"} {
		rr := env.do(getRequest(p, cookies))
		if rr.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", p, rr.Code)
		}
	}
}

func TestBudgetValidate(t *testing.T) {
	env := newTestEnv(t, nil)
	cookies := env.login(t)

	rr := env.do(htmx(formRequest(http.MethodPost, env.path("budget", "validate"), url.Values{
		"item[0].name":   {"Gran ítem"},
		"item[0].amount": {"20000000"},
	}, cookies)))
	if rr.Code != http.StatusOK {
		t.Fatalf("validate status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "exceeds the project budget") {
		t.Errorf("over-budget draft should report the global error: %s", rr.Body.String())
	}

	rr = env.do(htmx(formRequest(http.MethodPost, env.path("budget", "validate"), url.Values{
		"item[0].name":   {"Honorarios"},
		"item[0].amount": {"1000"},
		"cmd":            {"add-item"},
	}, cookies)))
	if rr.Code != http.StatusOK {
		t.Fatalf("add-item status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `name="item[1].name"`) {
		t.Error("add-item should render a second row")
	}
	if strings.Contains(rr.Body.String(), "name must have at least") {
		t.Error("a freshly added row must not be flagged")
	}
}

func TestItemAmountLockedBySubitems(t *testing.T) {
	env := newTestEnv(t, nil)
	cookies := env.login(t)

	form := url.Values{}
	form.Set(core.ItemField(0, "name"), "Producción")
	form.Set(core.ItemField(0, "amount"), "0")
	form.Set(core.SubitemField(0, 0, "name"), "Sonido")
	form.Set(core.SubitemField(0, 0, "amount"), "400000")
	form.Set(core.ItemField(1, "name"), "Difusión")
	form.Set(core.ItemField(1, "amount"), "100000")

	rr := env.do(htmx(formRequest(http.MethodPost, env.path("budget", "validate"), form, cookies)))
	if rr.Code != http.StatusOK {
		t.Fatalf("validate status = %d", rr.Code)
	}
	body := rr.Body.String()
	if tag := inputTag(body, core.ItemField(0, "amount")); !strings.Contains(tag, "readonly") {
		t.Errorf("amount of an item with subitems should be read-only: %s", tag)
	}
	if tag := inputTag(body, core.ItemField(1, "amount")); strings.Contains(tag, "readonly") || tag == "" {
		t.Errorf("amount of a plain item should be editable: %s", tag)
	}
}

// inputTag returns the <input> element whose name attribute is name.
func inputTag(body, name string) string {
	i := strings.Index(body, `name="`+name+`"`)
	if i < 0 {
		return ""
	}
	start := strings.LastIndex(body[:i], "<input")
	end := strings.Index(body[i:], ">")
	if start < 0 || end < 0 {
		return ""
	}
	return body[start : i+end+1]
}

func TestBudgetSaveRejectsInvalidDraft(t *testing.T) {
	env := newTestEnv(t, nil)
	cookies := env.login(t)

	rr := env.do(htmx(formRequest(http.MethodPost, env.path("budget"), url.Values{
		"item[0].name":   {"A"},
		"item[0].amount": {"1000"},
	}, cookies)))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("HX-Trigger"), "show-notification") {
		t.Error("invalid save should raise an error notification")
	}
}

func budgetForm(drafts []core.ItemDraft) url.Values {
	form := url.Values{}
	for i, d := range drafts {
		if d.ID != nil {
			form.Set(core.ItemField(i, "id"), idString(*d.ID))
		}
		form.Set(core.ItemField(i, "name"), d.Name)
		form.Set(core.ItemField(i, "amount"), d.Amount)
		for j, sub := range d.Subitems {
			if sub.ID != nil {
				form.Set(core.SubitemField(i, j, "id"), idString(*sub.ID))
			}
			form.Set(core.SubitemField(i, j, "name"), sub.Name)
			form.Set(core.SubitemField(i, j, "amount"), sub.Amount)
		}
	}
	return form
}

func TestBudgetSaveUpdatesAndAdds(t *testing.T) {
	env := newTestEnv(t, nil)
	cookies := env.login(t)
	client := adminClient(t, env.store)

	items, err := client.ListItems(context.Background(), env.project)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	drafts := core.DraftsFromItems(items)
	for i := range drafts {
		if drafts[i].Name == "Difusión" {
			drafts[i].Amount = "1000000"
		}
	}
	drafts = append(drafts, core.ItemDraft{Name: "Talleres", Amount: "500000"})

	rr := env.do(htmx(formRequest(http.MethodPost, env.path("budget"), budgetForm(drafts), cookies)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Header().Get("HX-Trigger"), "project:changed") {
		t.Error("saving the budget should announce the project change")
	}

	items, err = client.ListItems(context.Background(), env.project)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	byName := map[string]core.BudgetItem{}
	for _, it := range items {
		byName[it.Name] = it
	}
	if len(items) != len(drafts) {
		t.Fatalf("got %d items, want %d", len(items), len(drafts))
	}
	if got := byName["Difusión"].AssignedAmount; !got.Equal(core.NewAmount(1000000)) {
		t.Errorf("Difusión = %s, want 1000000", got)
	}
	if _, ok := byName["Talleres"]; !ok {
		t.Error("new item was not created")
	}
}

func pendingTransaction(t *testing.T, env *testEnv) core.Transaction {
	t.Helper()
	txs, err := adminClient(t, env.store).ListTransactions(context.Background(), api.TransactionQuery{ProjectID: env.project, Status: core.Pending})
	if err != nil || len(txs) == 0 {
		t.Fatalf("pending transactions: %v", err)
	}
	return txs[0]
}

func TestApproveTransaction(t *testing.T) {
	env := newTestEnv(t, nil)
	cookies := env.login(t)
	tx := pendingTransaction(t, env)

	rr := env.do(getRequest(env.path("transactions", idString(tx.ID)), cookies))
	if rr.Code != http.StatusOK {
		t.Fatalf("detail status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "/approve") {
		t.Error("a pending transaction should offer approval")
	}

	rr = env.do(htmx(formRequest(http.MethodPost, env.path("transactions", idString(tx.ID), "approve"),
		url.Values{"estado": {""}}, cookies)))
	if rr.Code != http.StatusOK {
		t.Fatalf("approve status = %d, body = %s", rr.Code, rr.Body.String())
	}
	trigger := rr.Header().Get("HX-Trigger")
	if !strings.Contains(trigger, "transaction approved") || !strings.Contains(trigger, "project:changed") {
		t.Errorf("HX-Trigger = %q", trigger)
	}
	if !strings.Contains(rr.Body.String(), `id="tx-table"`) {
		t.Error("approve should return the refreshed table")
	}

	got, err := adminClient(t, env.store).GetTransaction(context.Background(), tx.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != core.Approved {
		t.Errorf("status = %s, want approved", got.Status)
	}

	// A second approval is no longer offered.
	rr = env.do(htmx(formRequest(http.MethodPost, env.path("transactions", idString(tx.ID), "approve"), nil, cookies)))
	if rr.Code != http.StatusForbidden {
		t.Errorf("repeat approve status = %d, want 403", rr.Code)
	}
}

func TestRejectReasonIsOptional(t *testing.T) {
	env := newTestEnv(t, nil)
	cookies := env.login(t)
	tx := pendingTransaction(t, env)
	target := env.path("transactions", idString(tx.ID), "reject")

	req := htmx(formRequest(http.MethodPost, target, nil, cookies))
	req.Header.Set("HX-Prompt", "no")
	if rr := env.do(req); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("two-letter reason status = %d, want 422", rr.Code)
	}

	rr := env.do(htmx(formRequest(http.MethodPost, target, nil, cookies)))
	if rr.Code != http.StatusOK {
		t.Fatalf("reject without reason status = %d, body = %s", rr.Code, rr.Body.String())
	}
	got, err := adminClient(t, env.store).GetTransaction(context.Background(), tx.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != core.Rejected {
		t.Errorf("status = %s, want rejected", got.Status)
	}
}

func TestRejectWithPromptedReason(t *testing.T) {
	env := newTestEnv(t, nil)
	cookies := env.login(t)
	tx := pendingTransaction(t, env)

	req := htmx(formRequest(http.MethodPost, env.path("transactions", idString(tx.ID), "reject"), nil, cookies))
	req.Header.Set("HX-Prompt", "missing invoice")
	if rr := env.do(req); rr.Code != http.StatusOK {
		t.Fatalf("reject status = %d, body = %s", rr.Code, rr.Body.String())
	}
}

func TestCloseRequiresValidReport(t *testing.T) {
	env := newTestEnv(t, nil)
	cookies := env.login(t)

	rr := env.do(htmx(getRequest(env.path("closing", "gate")+"?confirmed=on", cookies)))
	if rr.Code != http.StatusOK {
		t.Fatalf("gate status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "pending transaction") {
		t.Error("gate should list the blocking problems")
	}

	rr = env.do(htmx(formRequest(http.MethodPost, env.path("close"), url.Values{"confirmed": {"on"}}, cookies)))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("close status = %d, want 422", rr.Code)
	}
	p, err := adminClient(t, env.store).GetProject(context.Background(), env.project)
	if err != nil {
		t.Fatal(err)
	}
	if core.IsReadOnly(p.Status) {
		t.Error("project must stay open")
	}
}

func TestReportDownload(t *testing.T) {
	env := newTestEnv(t, nil)
	cookies := env.login(t)

	rr := env.do(getRequest(env.path("reports", string(api.ReportStatusExcel)), cookies))
	if rr.Code != http.StatusOK {
		t.Fatalf("report status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if rr.Body.Len() == 0 {
		t.Error("empty report body")
	}

	rr = env.do(getRequest(env.path("reports", "bogus"), cookies))
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown report status = %d, want 404", rr.Code)
	}
}

func TestExport(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		env := newTestEnv(t, nil)
		cookies := env.login(t)
		rr := env.do(htmx(formRequest(http.MethodPost, env.path("export"), nil, cookies)))
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rr.Code)
		}
	})

	t.Run("queued", func(t *testing.T) {
		exports := &fakeExports{}
		env := newTestEnv(t, exports)
		cookies := env.login(t)

		rr := env.do(htmx(formRequest(http.MethodPost, env.path("export"), nil, cookies)))
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
		}
		if len(exports.requested) != 1 || exports.requested[0] != env.project {
			t.Errorf("requested = %v", exports.requested)
		}
		if !strings.Contains(rr.Body.String(), "every 3s") {
			t.Error("a pending job should keep polling")
		}

		rr = env.do(htmx(getRequest(env.path("export"), cookies)))
		if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `id="export-status"`) {
			t.Errorf("status fragment = %d %s", rr.Code, rr.Body.String())
		}
	})
}

func TestRegisterChecksRUT(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(getRequest("/register/rut?rut="+url.QueryEscape(memory.DemoOrgRUT), nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("rut check status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "RUT already registered") {
		t.Errorf("taken RUT should be reported: %s", rr.Body.String())
	}

	rr = env.do(formRequest(http.MethodPost, "/register", url.Values{
		"organization_name": {"Compañía Nueva"},
		"rut":               {"11.111.111-2"},
		"username":          {"nueva"},
		"email":             {"nueva@example.cl"},
		"password":          {"secret123"},
		"password_confirm":  {"secret123"},
	}, nil))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid RUT status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "invalid RUT") {
		t.Error("invalid check digit should be reported on the rut field")
	}
}
