package http

import (
	"net/http"
	"strings"

	"sumarte/internal/api"
	"sumarte/internal/core"
	"sumarte/internal/log"
)

type loginView struct {
	Page
	Username string
	Errors   map[string]string
}

type registerView struct {
	Page
	Form   registerForm
	Errors map[string]string
}

type rutCheckView struct {
	RUT       string
	Checked   bool
	Available bool
	Message   string
}

type acceptInvitationView struct {
	Page
	Form   acceptInvitationForm
	Errors map[string]string
}

// backendRUTField is the backend's name for the organization RUT.
const backendRUTField = "rut_organizacion"

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/projects", http.StatusSeeOther)
}

func loginNotice(r *http.Request) string {
	switch {
	case r.URL.Query().Has("registered"):
		return "Organization registered. You can now sign in."
	case r.URL.Query().Has("joined"):
		return "Account created. You can now sign in."
	}
	return ""
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if _, err := s.sessions.Load(r); err == nil {
		http.Redirect(w, r, "/projects", http.StatusSeeOther)
		return
	}
	view := loginView{Page: Page{Title: "Sign in", Notice: loginNotice(r)}}
	s.render(w, r, http.StatusOK, "login.html", view)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		BadRequestError("invalid form").Write(w)
		return
	}
	form := parseLoginForm(r.PostForm)
	view := loginView{Page: Page{Title: "Sign in"}, Username: form.Username}

	if errs := s.forms.Validate(form); errs != nil {
		view.Errors = errs
		s.render(w, r, http.StatusUnprocessableEntity, "login.html", view)
		return
	}

	sess, err := s.sessions.Login(ctx, w, form.Username, form.Password)
	if err != nil {
		log.FromContext(ctx).WarnContext(ctx, "Sign-in failed",
			log.FieldUser, form.Username,
			log.FieldOperation, log.OpLogin,
			log.FieldError, err.Error(),
			log.FieldErrorType, errorType(err))
		status := statusFor(err)
		view.Errors = map[string]string{"": api.UserMessage(err)}
		if status == http.StatusUnauthorized {
			view.Errors[""] = "invalid username or password"
		}
		s.render(w, r, status, "login.html", view)
		return
	}

	s.appMetrics.logins.Add(1)
	s.audit.LogMutation(ctx, log.OpLogin, 0, sess.User.Username, nil)
	if isHTMX(r) {
		NewHTMXResponse().Redirect("/projects").Write(w)
		return
	}
	http.Redirect(w, r, "/projects", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Destroy(w, r)
	s.redirectToLogin(w, r)
}

func (s *Server) handleRegisterPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "register.html", registerView{Page: Page{Title: "Register organization"}})
}

// handleRegister creates an organization and its administrator. The RUT is
// checked locally, then for availability, before the signup is sent.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		BadRequestError("invalid form").Write(w)
		return
	}
	form := parseRegisterForm(r.PostForm)
	view := registerView{Page: Page{Title: "Register organization"}, Form: form}
	view.Form.Password, view.Form.PasswordConfirm = "", ""

	errs := s.forms.Validate(form)
	if errs == nil {
		errs = map[string]string{}
	}
	if _, bad := errs["rut"]; !bad {
		normalized, err := core.ValidateRUT(form.RUT)
		if err != nil {
			errs["rut"] = "invalid RUT"
		} else {
			form.RUT = normalized
		}
	}
	if len(errs) > 0 {
		view.Errors = errs
		s.render(w, r, http.StatusUnprocessableEntity, "register.html", view)
		return
	}

	available, err := s.backend.CheckRUT(ctx, form.RUT)
	if err != nil {
		s.registerFailed(w, r, view, err)
		return
	}
	if !available {
		view.Errors = map[string]string{"rut": "RUT already registered"}
		s.render(w, r, http.StatusUnprocessableEntity, "register.html", view)
		return
	}

	org, err := s.backend.RegisterOrganization(ctx, api.OrganizationSignup{
		Name:          form.OrganizationName,
		RUT:           form.RUT,
		AdminUsername: form.Username,
		AdminEmail:    form.Email,
		AdminPassword: form.Password,
		FirstName:     form.FirstName,
		LastName:      form.LastName,
	})
	if err != nil {
		s.registerFailed(w, r, view, err)
		return
	}

	s.audit.LogMutation(ctx, log.OpCreate, 0, form.Username, log.LogFields{"organization_id": org.ID})
	http.Redirect(w, r, "/login?registered=1", http.StatusSeeOther)
}

func (s *Server) registerFailed(w http.ResponseWriter, r *http.Request, view registerView, err error) {
	ctx := r.Context()
	log.FromContext(ctx).WarnContext(ctx, "Registration rejected",
		log.FieldOperation, log.OpCreate,
		log.FieldError, err.Error(),
		log.FieldErrorType, errorType(err))

	if fields, ok := backendFieldErrors(err); ok {
		if msg, ok := fields[backendRUTField]; ok {
			delete(fields, backendRUTField)
			fields["rut"] = msg
		}
		view.Errors = fields
		s.render(w, r, http.StatusUnprocessableEntity, "register.html", view)
		return
	}
	view.Errors = map[string]string{"": api.UserMessage(err)}
	s.render(w, r, statusFor(err), "register.html", view)
}

// handleCheckRUT answers the live RUT check of the registration form.
func (s *Server) handleCheckRUT(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("rut"))
	view := rutCheckView{RUT: raw}
	if raw == "" {
		s.renderFragment(w, r, "rut-check", view)
		return
	}
	normalized, err := core.ValidateRUT(raw)
	if err != nil {
		view.Checked, view.Message = true, "invalid RUT"
		s.renderFragment(w, r, "rut-check", view)
		return
	}
	view.RUT = core.FormatRUT(normalized)
	available, err := s.backend.CheckRUT(r.Context(), normalized)
	if err != nil {
		view.Message = api.UserMessage(err)
		s.renderFragment(w, r, "rut-check", view)
		return
	}
	view.Checked, view.Available = true, available
	if !available {
		view.Message = "RUT already registered"
	}
	s.renderFragment(w, r, "rut-check", view)
}

func (s *Server) handleAcceptInvitationPage(w http.ResponseWriter, r *http.Request) {
	token := sanitizeInput(r.URL.Query().Get("token"))
	if token == "" {
		s.render(w, r, http.StatusBadRequest, "error.html", errorView{
			Page:    Page{Title: "Invitation"},
			Status:  http.StatusBadRequest,
			Message: "the invitation link is incomplete",
		})
		return
	}
	s.render(w, r, http.StatusOK, "accept_invitation.html", acceptInvitationView{
		Page: Page{Title: "Accept invitation"},
		Form: acceptInvitationForm{Token: token},
	})
}

func (s *Server) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		BadRequestError("invalid form").Write(w)
		return
	}
	form := parseAcceptInvitationForm(r.PostForm)
	view := acceptInvitationView{Page: Page{Title: "Accept invitation"}, Form: form}
	view.Form.Password, view.Form.PasswordConfirm = "", ""

	if errs := s.forms.Validate(form); errs != nil {
		view.Errors = errs
		s.render(w, r, http.StatusUnprocessableEntity, "accept_invitation.html", view)
		return
	}

	err := s.backend.AcceptInvitation(ctx, api.InvitationAcceptance{
		Token:     form.Token,
		Username:  form.Username,
		Password:  form.Password,
		FirstName: form.FirstName,
		LastName:  form.LastName,
	})
	if err != nil {
		log.FromContext(ctx).WarnContext(ctx, "Invitation acceptance rejected",
			log.FieldError, err.Error(),
			log.FieldErrorType, errorType(err))
		if fields, ok := backendFieldErrors(err); ok {
			view.Errors = fields
			s.render(w, r, http.StatusUnprocessableEntity, "accept_invitation.html", view)
			return
		}
		view.Errors = map[string]string{"": api.UserMessage(err)}
		s.render(w, r, statusFor(err), "accept_invitation.html", view)
		return
	}

	s.audit.LogMutation(ctx, log.OpCreate, 0, form.Username, log.LogFields{"invitation": "accepted"})
	http.Redirect(w, r, "/login?joined=1", http.StatusSeeOther)
}
