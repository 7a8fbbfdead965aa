package http

import (
	"mime"
	"net/http"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"sumarte/internal/api"
	"sumarte/internal/core"
	"sumarte/internal/log"
	"sumarte/internal/session"
	"sumarte/internal/storage"
)

type projectsView struct {
	Page
	Projects []core.Project
}

type projectView struct {
	Page
	Metrics       core.ProjectMetrics
	Items         []core.BudgetItem
	Recent        []core.Transaction
	Summary       core.TransactionSummary
	EvidenceCount int
	ReadOnly      bool
	Export        exportView
}

type exportView struct {
	ProjectID int64
	Enabled   bool
	Job       *storage.ExportJob
}

// Pending reports whether the status partial should keep polling.
func (v exportView) Pending() bool {
	return v.Job != nil && v.Job.Status == storage.ExportPending
}

type auditView struct {
	Page
	Entries []core.AuditLogEntry
	Members []core.TeamMember
	Query   auditQuery
	Errors  map[string]string
}

// recentTransactions is how many transactions the dashboard lists.
const recentTransactions = 5

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	projects, err := sess.Client.ListProjects(r.Context())
	if err != nil {
		s.respondError(w, r, sess, log.OpList, err)
		return
	}
	s.render(w, r, http.StatusOK, "projects.html", projectsView{
		Page:     s.page(sess, "Projects", nil, ""),
		Projects: projects,
	})
}

// handleProject renders the dashboard. Every resource is fetched in
// parallel; one failure discards the lot.
func (s *Server) handleProject(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	var (
		project  core.Project
		items    []core.BudgetItem
		txs      []core.Transaction
		metrics  core.ProjectMetrics
		evidence []core.Evidence
		job      *storage.ExportJob
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) {
		project, err = sess.Client.GetProject(ctx, projectID)
		return err
	})
	g.Go(func() (err error) {
		items, err = sess.Client.ListItems(ctx, projectID)
		return err
	})
	g.Go(func() (err error) {
		txs, err = sess.Client.ListTransactions(ctx, api.TransactionQuery{ProjectID: projectID})
		return err
	})
	g.Go(func() (err error) {
		metrics, err = sess.Client.ProjectMetrics(ctx, projectID)
		return err
	})
	g.Go(func() (err error) {
		evidence, err = sess.Client.ListEvidence(ctx, projectID)
		return err
	})
	if s.exports != nil {
		g.Go(func() (err error) {
			job, err = s.exports.LatestExport(ctx, projectID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		s.respondError(w, r, sess, log.OpRead, err)
		return
	}

	if len(metrics.Items) == 0 && len(items) > 0 {
		metrics = core.ComputeMetrics(project, items)
	}

	recent := append([]core.Transaction(nil), txs...)
	sort.SliceStable(recent, func(i, j int) bool { return recent[i].Date.After(recent[j].Date) })
	if len(recent) > recentTransactions {
		recent = recent[:recentTransactions]
	}
	active := 0
	for _, ev := range evidence {
		if !ev.Deleted {
			active++
		}
	}

	s.render(w, r, http.StatusOK, "project.html", projectView{
		Page:          s.page(sess, project.Name, &project, "summary"),
		Metrics:       metrics,
		Items:         items,
		Recent:        recent,
		Summary:       core.SummarizeTransactions(txs),
		EvidenceCount: active,
		ReadOnly:      core.IsReadOnly(project.Status),
		Export:        exportView{ProjectID: projectID, Enabled: s.exports != nil, Job: job},
	})
}

// handleAudit lists the transaction log. The backend filters by user and
// action; the date range and the sort order are applied here.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	q := parseAuditQuery(r.URL.Query())
	errs := s.forms.Validate(q)
	if errs != nil {
		q = auditQuery{}
	}

	var (
		project core.Project
		entries []core.AuditLogEntry
		members []core.TeamMember
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) {
		project, err = sess.Client.GetProject(ctx, projectID)
		return err
	})
	g.Go(func() (err error) {
		entries, err = sess.Client.ListAuditLog(ctx, core.AuditFilter{
			ProjectID: projectID,
			UserID:    q.UserID,
			Action:    core.AuditAction(q.Action),
		})
		return err
	})
	g.Go(func() (err error) {
		members, err = sess.Client.ListTeam(ctx, projectID)
		return err
	})
	if err := g.Wait(); err != nil {
		s.respondError(w, r, sess, log.OpList, err)
		return
	}

	sortKey := q.Sort
	if sortKey == "" {
		sortKey = "date"
	}
	entries = core.SortAuditLog(core.FilterAuditLog(entries, q.Filter(projectID)), sortKey, q.Desc || q.Sort == "")

	view := auditView{
		Page:    s.page(sess, "Audit log", &project, "audit"),
		Entries: entries,
		Members: members,
		Query:   q,
		Errors:  errs,
	}
	if isHTMX(r) {
		if errs != nil {
			s.respondInvalid(w, r, errs, "audit-table", "audit.html", view)
			return
		}
		s.renderFragment(w, r, "audit-table", view)
		return
	}
	status := http.StatusOK
	if errs != nil {
		status = http.StatusUnprocessableEntity
	}
	s.render(w, r, status, "audit.html", view)
}

// handleReport streams one generated report as an attachment.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	kind := api.ReportKind(r.PathValue("kind"))
	if !kind.Valid() {
		s.respondError(w, r, sess, log.OpRead, api.ErrNotFound)
		return
	}
	report, err := sess.Client.DownloadReport(r.Context(), projectID, kind)
	if err != nil {
		s.respondError(w, r, sess, log.OpRead, err)
		return
	}

	filename := report.Filename
	if filename == "" {
		filename = api.DefaultReportFilename(projectID, kind)
	}
	contentType := report.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(report.Body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(report.Body)
}

func (s *Server) handleExportStatus(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	view := exportView{ProjectID: projectID, Enabled: s.exports != nil}
	if s.exports != nil {
		job, err := s.exports.LatestExport(r.Context(), projectID)
		if err != nil {
			s.respondError(w, r, sess, log.OpRead, err)
			return
		}
		view.Job = job
	}
	s.renderFragment(w, r, "export-status", view)
}

// handleExport queues a ledger export of the project to the spreadsheet.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	if s.exports == nil {
		ErrorResponse(http.StatusServiceUnavailable, "ledger export is not configured").Write(w)
		return
	}
	ctx := r.Context()
	if _, err := sess.Client.GetProject(ctx, projectID); err != nil {
		s.respondError(w, r, sess, log.OpExport, err)
		return
	}
	job, err := s.exports.RequestExport(ctx, projectID, sess.User.Username)
	if err != nil {
		s.respondError(w, r, sess, log.OpExport, err)
		return
	}
	s.appMetrics.exports.Add(1)
	s.audit.LogMutation(ctx, log.OpExport, projectID, sess.User.Username, log.LogFields{log.FieldJobID: job.ID})

	body, err := s.fragment("export-status", exportView{ProjectID: projectID, Enabled: true, Job: &job})
	if err != nil {
		s.templateFailure(w, r, "export-status", err)
		return
	}
	s.succeed(w, r, projectPath(projectID), "ledger export queued", body, 0)
}
