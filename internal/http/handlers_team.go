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

type teamView struct {
	Page
	Members []core.TeamMember
	Roles   []core.Role
	Errors  map[string]string
}

type invitationsView struct {
	Page
	Invitations []core.Invitation
	Roles       []core.Role
	Form        invitationForm
	Errors      map[string]string
}

func (s *Server) loadTeam(ctx context.Context, sess *session.Session, projectID int64) (teamView, error) {
	var (
		project core.Project
		members []core.TeamMember
		roles   []core.Role
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		project, err = sess.Client.GetProject(gctx, projectID)
		return err
	})
	g.Go(func() (err error) {
		members, err = sess.Client.ListTeam(gctx, projectID)
		return err
	})
	g.Go(func() (err error) {
		roles, err = s.roles(gctx, sess)
		return err
	})
	if err := g.Wait(); err != nil {
		return teamView{}, err
	}
	return teamView{
		Page:    s.page(sess, "Team", &project, "team"),
		Members: members,
		Roles:   roles,
	}, nil
}

func (s *Server) handleTeam(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	view, err := s.loadTeam(r.Context(), sess, projectID)
	if err != nil {
		s.respondError(w, r, sess, log.OpList, err)
		return
	}
	s.render(w, r, http.StatusOK, "team.html", view)
}

func (s *Server) teamChanged(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64, op, message string) {
	s.audit.LogMutation(r.Context(), op, projectID, sess.User.Username, nil)
	view, err := s.loadTeam(r.Context(), sess, projectID)
	if err != nil {
		s.respondError(w, r, sess, log.OpList, err)
		return
	}
	body, err := s.fragment("team-table", view)
	if err != nil {
		s.templateFailure(w, r, "team-table", err)
		return
	}
	s.succeed(w, r, projectPath(projectID, "team"), message, body, 0)
}

func (s *Server) handleTeamAssign(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	if err := r.ParseForm(); err != nil {
		BadRequestError("invalid form").Write(w)
		return
	}
	form := assignRoleForm{UserID: formInt(r.PostForm, "user_id"), RoleID: formInt(r.PostForm, "role_id")}
	if errs := s.forms.Validate(form); errs != nil {
		UnprocessableEntityError(firstMessage(errs)).Write(w)
		return
	}
	if _, err := sess.Client.AssignRole(r.Context(), projectID, form.UserID, form.RoleID); err != nil {
		s.respondError(w, r, sess, log.OpCreate, err)
		return
	}
	s.teamChanged(w, r, sess, projectID, log.OpCreate, "member added")
}

func (s *Server) handleTeamChangeRole(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	if err := r.ParseForm(); err != nil {
		BadRequestError("invalid form").Write(w)
		return
	}
	memberID, err := pathID(r, "memberID")
	if err != nil {
		s.respondError(w, r, sess, log.OpUpdate, api.ErrNotFound)
		return
	}
	form := changeRoleForm{RoleID: formInt(r.PostForm, "role_id")}
	if errs := s.forms.Validate(form); errs != nil {
		UnprocessableEntityError(firstMessage(errs)).Write(w)
		return
	}
	if _, err := sess.Client.ChangeRole(r.Context(), memberID, form.RoleID); err != nil {
		s.respondError(w, r, sess, log.OpUpdate, err)
		return
	}
	s.teamChanged(w, r, sess, projectID, log.OpUpdate, "role changed")
}

func (s *Server) handleTeamRemove(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	memberID, err := pathID(r, "memberID")
	if err != nil {
		s.respondError(w, r, sess, log.OpDelete, api.ErrNotFound)
		return
	}
	if err := sess.Client.RemoveMember(r.Context(), memberID); err != nil {
		s.respondError(w, r, sess, log.OpDelete, err)
		return
	}
	s.teamChanged(w, r, sess, projectID, log.OpDelete, "member removed")
}

func (s *Server) loadInvitations(ctx context.Context, sess *session.Session, projectID int64) (invitationsView, error) {
	var (
		project     core.Project
		invitations []core.Invitation
		roles       []core.Role
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		project, err = sess.Client.GetProject(gctx, projectID)
		return err
	})
	g.Go(func() (err error) {
		invitations, err = sess.Client.ListInvitations(gctx, projectID)
		return err
	})
	g.Go(func() (err error) {
		roles, err = s.roles(gctx, sess)
		return err
	})
	if err := g.Wait(); err != nil {
		return invitationsView{}, err
	}
	return invitationsView{
		Page:        s.page(sess, "Invitations", &project, "invitations"),
		Invitations: invitations,
		Roles:       roles,
	}, nil
}

func (s *Server) handleInvitations(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	view, err := s.loadInvitations(r.Context(), sess, projectID)
	if err != nil {
		s.respondError(w, r, sess, log.OpList, err)
		return
	}
	s.render(w, r, http.StatusOK, "invitations.html", view)
}

func (s *Server) invitationsChanged(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64, op, message string) {
	s.audit.LogMutation(r.Context(), op, projectID, sess.User.Username, nil)
	view, err := s.loadInvitations(r.Context(), sess, projectID)
	if err != nil {
		s.respondError(w, r, sess, log.OpList, err)
		return
	}
	body, err := s.fragment("invitation-panel", view)
	if err != nil {
		s.templateFailure(w, r, "invitation-panel", err)
		return
	}
	s.succeed(w, r, projectPath(projectID, "invitations"), message, body, 0)
}

func (s *Server) handleInvitationCreate(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		BadRequestError("invalid form").Write(w)
		return
	}
	form := invitationForm{
		Email:  sanitizeInput(r.PostForm.Get("email")),
		RoleID: formInt(r.PostForm, "role_id"),
	}

	errs := s.forms.Validate(form)
	var err error
	if errs == nil {
		_, err = sess.Client.CreateInvitation(ctx, core.Invitation{
			Email:     form.Email,
			ProjectID: projectID,
			RoleID:    form.RoleID,
		})
		if fields, ok := backendFieldErrors(err); ok {
			errs = fields
		} else if err != nil {
			s.respondError(w, r, sess, log.OpCreate, err)
			return
		}
	}
	if errs != nil {
		view, lerr := s.loadInvitations(ctx, sess, projectID)
		if lerr != nil {
			s.respondError(w, r, sess, log.OpList, lerr)
			return
		}
		view.Form, view.Errors = form, errs
		s.respondInvalid(w, r, errs, "invitation-panel", "invitations.html", view)
		return
	}
	s.invitationsChanged(w, r, sess, projectID, log.OpCreate, "invitation sent")
}

func (s *Server) handleInvitationResend(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	s.invitationAction(w, r, sess, projectID, sess.Client.ResendInvitation, "invitation resent")
}

func (s *Server) handleInvitationCancel(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	s.invitationAction(w, r, sess, projectID, sess.Client.CancelInvitation, "invitation cancelled")
}

func (s *Server) invitationAction(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64,
	do func(context.Context, int64) error, message string) {
	id, err := pathID(r, "invID")
	if err != nil {
		s.respondError(w, r, sess, log.OpUpdate, api.ErrNotFound)
		return
	}
	if err := do(r.Context(), id); err != nil {
		s.respondError(w, r, sess, log.OpUpdate, err)
		return
	}
	s.invitationsChanged(w, r, sess, projectID, log.OpUpdate, message)
}
