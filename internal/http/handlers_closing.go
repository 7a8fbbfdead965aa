package http

import (
	"context"
	"net/http"

	"golang.org/x/sync/errgroup"

	"sumarte/internal/api"
	"sumarte/internal/core"
	"sumarte/internal/log"
	"sumarte/internal/session"
)

type closingView struct {
	Page
	Gate     core.CloseGate
	ReadOnly bool
	Error    string
}

func (s *Server) loadClosing(ctx context.Context, sess *session.Session, projectID int64, confirmed bool) (closingView, error) {
	var (
		project core.Project
		report  core.ClosingReport
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		project, err = sess.Client.GetProject(gctx, projectID)
		return err
	})
	g.Go(func() (err error) {
		report, err = sess.Client.PreClosingReport(gctx, projectID)
		return err
	})
	if err := g.Wait(); err != nil {
		return closingView{}, err
	}
	return closingView{
		Page:     s.page(sess, "Closing", &project, "closing"),
		Gate:     core.CloseGate{Report: report, Confirmed: confirmed},
		ReadOnly: core.IsReadOnly(project.Status),
	}, nil
}

func (s *Server) handleClosing(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	view, err := s.loadClosing(r.Context(), sess, projectID, checked(r.URL.Query().Get("confirmed")))
	if err != nil {
		s.respondError(w, r, sess, log.OpRead, err)
		return
	}
	s.render(w, r, http.StatusOK, "closing.html", view)
}

// handleClosingGate re-evaluates the gate when the confirmation checkbox
// changes.
func (s *Server) handleClosingGate(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	view, err := s.loadClosing(r.Context(), sess, projectID, checked(r.URL.Query().Get("confirmed")))
	if err != nil {
		s.respondError(w, r, sess, log.OpRead, err)
		return
	}
	s.renderFragment(w, r, "closing-body", view)
}

// handleClose closes the project. The report is fetched again so a stale
// page cannot close a project that stopped being valid. On failure the user
// stays on the pre-closing page with the error.
func (s *Server) handleClose(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		BadRequestError("invalid form").Write(w)
		return
	}
	view, err := s.loadClosing(ctx, sess, projectID, checked(r.PostForm.Get("confirmed")))
	if err != nil {
		s.respondError(w, r, sess, log.OpClose, err)
		return
	}
	if view.ReadOnly {
		s.respondError(w, r, sess, log.OpClose, core.ErrProjectReadOnly)
		return
	}
	if !view.Gate.CanClose() {
		view.Error = "the project cannot be closed until the report is valid and the closing is confirmed"
		s.closingFailed(w, r, view, http.StatusUnprocessableEntity)
		return
	}

	if _, err := sess.Client.CloseProject(ctx, projectID); err != nil {
		log.FromContext(ctx).WarnContext(ctx, "Project close rejected",
			log.FieldProjectID, projectID,
			log.FieldOperation, log.OpClose,
			log.FieldError, err.Error(),
			log.FieldErrorType, errorType(err))
		if statusFor(err) == http.StatusUnauthorized {
			s.respondError(w, r, sess, log.OpClose, err)
			return
		}
		view.Error = api.UserMessage(err)
		s.closingFailed(w, r, view, statusFor(err))
		return
	}
	s.audit.LogMutation(ctx, log.OpClose, projectID, sess.User.Username, nil)

	closed, err := s.loadClosing(ctx, sess, projectID, false)
	if err != nil {
		s.respondError(w, r, sess, log.OpRead, err)
		return
	}
	body, err := s.fragment("closing-body", closed)
	if err != nil {
		s.templateFailure(w, r, "closing-body", err)
		return
	}
	s.succeed(w, r, projectPath(projectID, "closing"), "project closed", body, projectID)
}

func (s *Server) closingFailed(w http.ResponseWriter, r *http.Request, view closingView, status int) {
	if !isHTMX(r) {
		s.render(w, r, status, "closing.html", view)
		return
	}
	body, err := s.fragment("closing-body", view)
	if err != nil {
		s.templateFailure(w, r, "closing-body", err)
		return
	}
	// 422 so the client swaps the re-rendered page body in.
	NewHTMXResponse().Status(http.StatusUnprocessableEntity).NotifyError(view.Error).Fragment(body).Write(w)
}
