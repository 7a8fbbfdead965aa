package http

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"sumarte/internal/core"
)

// Form structs are filled from url.Values by their parse functions and
// checked with validate. Error keys are the form field names.

type loginForm struct {
	Username string `form:"username" validate:"required,max=150"`
	Password string `form:"password" validate:"required"`
}

type registerForm struct {
	OrganizationName string `form:"organization_name" validate:"required,min=2,max=200"`
	RUT              string `form:"rut" validate:"required,max=12"`
	Username         string `form:"username" validate:"required,min=3,max=150"`
	Email            string `form:"email" validate:"required,email"`
	FirstName        string `form:"first_name" validate:"max=150"`
	LastName         string `form:"last_name" validate:"max=150"`
	Password         string `form:"password" validate:"required,min=8,max=128"`
	PasswordConfirm  string `form:"password_confirm" validate:"required,eqfield=Password"`
}

type acceptInvitationForm struct {
	Token           string `form:"token" validate:"required"`
	Username        string `form:"username" validate:"required,min=3,max=150"`
	FirstName       string `form:"first_name" validate:"max=150"`
	LastName        string `form:"last_name" validate:"max=150"`
	Password        string `form:"password" validate:"required,min=8,max=128"`
	PasswordConfirm string `form:"password_confirm" validate:"required,eqfield=Password"`
}

type rejectForm struct {
	Reason string `form:"reason" validate:"omitempty,min=3,max=500"`
}

type linkEvidenceForm struct {
	EvidenceID int64 `form:"evidence_id" validate:"gt=0"`
}

type assignRoleForm struct {
	UserID int64 `form:"user_id" validate:"gt=0"`
	RoleID int64 `form:"role_id" validate:"gt=0"`
}

type changeRoleForm struct {
	RoleID int64 `form:"role_id" validate:"gt=0"`
}

type invitationForm struct {
	Email  string `form:"email" validate:"required,email,max=254"`
	RoleID int64  `form:"role_id" validate:"gt=0"`
}

type evidenceForm struct {
	Name string `form:"name" validate:"required,min=2,max=255"`
}

type auditQuery struct {
	UserID int64  `form:"user" validate:"gte=0"`
	Action string `form:"action" validate:"omitempty,oneof=creation modification approval rejection deletion"`
	From   string `form:"from" validate:"omitempty,datetime=2006-01-02"`
	To     string `form:"to" validate:"omitempty,datetime=2006-01-02"`
	Sort   string `form:"sort" validate:"omitempty,oneof=date user action"`
	Desc   bool   `form:"desc"`
}

func parseLoginForm(f url.Values) loginForm {
	return loginForm{
		Username: sanitizeInput(f.Get("username")),
		Password: f.Get("password"),
	}
}

func parseRegisterForm(f url.Values) registerForm {
	return registerForm{
		OrganizationName: sanitizeInput(f.Get("organization_name")),
		RUT:              core.NormalizeRUT(f.Get("rut")),
		Username:         sanitizeInput(f.Get("username")),
		Email:            sanitizeInput(f.Get("email")),
		FirstName:        sanitizeInput(f.Get("first_name")),
		LastName:         sanitizeInput(f.Get("last_name")),
		Password:         f.Get("password"),
		PasswordConfirm:  f.Get("password_confirm"),
	}
}

func parseAcceptInvitationForm(f url.Values) acceptInvitationForm {
	return acceptInvitationForm{
		Token:           sanitizeInput(f.Get("token")),
		Username:        sanitizeInput(f.Get("username")),
		FirstName:       sanitizeInput(f.Get("first_name")),
		LastName:        sanitizeInput(f.Get("last_name")),
		Password:        f.Get("password"),
		PasswordConfirm: f.Get("password_confirm"),
	}
}

func parseAuditQuery(q url.Values) auditQuery {
	return auditQuery{
		UserID: formInt(q, "user"),
		Action: sanitizeInput(q.Get("action")),
		From:   sanitizeInput(q.Get("from")),
		To:     sanitizeInput(q.Get("to")),
		Sort:   sanitizeInput(q.Get("sort")),
		Desc:   checked(q.Get("desc")),
	}
}

// Filter converts a validated query into the core filter.
func (q auditQuery) Filter(projectID int64) core.AuditFilter {
	return core.AuditFilter{
		ProjectID: projectID,
		UserID:    q.UserID,
		Action:    core.AuditAction(q.Action),
		From:      parseDay(q.From),
		To:        parseDay(q.To),
	}
}

// formValidator reports field names from the form tag.
type formValidator struct {
	v *validator.Validate
}

func newFormValidator() *formValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &formValidator{v: v}
}

// Validate returns the problems of s keyed by form field name, or nil.
func (fv *formValidator) Validate(s any) map[string]string {
	err := fv.v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"": err.Error()}
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		if _, ok := out[fe.Field()]; !ok {
			out[fe.Field()] = fieldMessage(fe)
		}
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		if fe.Param() == "0" {
			return "please select a value"
		}
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "email":
		return "must be a valid email address"
	case "eqfield":
		return "passwords do not match"
	case "datetime":
		return "must be a date (YYYY-MM-DD)"
	}
	return "is invalid"
}

// firstMessage picks one message for a notification, preferring the
// global entry.
func firstMessage(errs map[string]string) string {
	if msg, ok := errs[""]; ok {
		return msg
	}
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	return keys[0] + ": " + errs[keys[0]]
}
