package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"sumarte/internal/api"
	"sumarte/internal/core"
)

// CheckRUT asks whether an organization RUT is still free. The RUT is
// validated locally first.
func (b *Backend) CheckRUT(ctx context.Context, rut string) (bool, error) {
	normalized, err := core.ValidateRUT(rut)
	if err != nil {
		return false, &api.ValidationError{Fields: map[string][]string{"rut_organizacion": {err.Error()}}}
	}
	var out struct {
		Available bool `json:"disponible"`
	}
	q := url.Values{"rut": {normalized}}
	if err := b.call(ctx, http.MethodGet, "/api/organizaciones/verificar-rut/", q, nil, nil, &out); err != nil {
		return false, err
	}
	return out.Available, nil
}

func (b *Backend) RegisterOrganization(ctx context.Context, s api.OrganizationSignup) (core.Organization, error) {
	normalized, err := core.ValidateRUT(s.RUT)
	if err != nil {
		return core.Organization{}, &api.ValidationError{Fields: map[string][]string{"rut_organizacion": {err.Error()}}}
	}

	type admin struct {
		Username  string `json:"username"`
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"first_name,omitempty"`
		LastName  string `json:"last_name,omitempty"`
	}
	body := struct {
		Name  string `json:"nombre_organizacion"`
		RUT   string `json:"rut_organizacion"`
		Admin admin  `json:"admin"`
	}{
		Name:  s.Name,
		RUT:   normalized,
		Admin: admin{s.AdminUsername, s.AdminEmail, s.AdminPassword, s.FirstName, s.LastName},
	}

	var w wireOrganization
	if err := b.call(ctx, http.MethodPost, "/api/organizaciones/", nil, body, nil, &w); err != nil {
		return core.Organization{}, fmt.Errorf("register organization: %w", err)
	}
	return w.domain(), nil
}

func (b *Backend) AcceptInvitation(ctx context.Context, a api.InvitationAcceptance) error {
	body := map[string]string{
		"token":      a.Token,
		"username":   a.Username,
		"password":   a.Password,
		"first_name": a.FirstName,
		"last_name":  a.LastName,
	}
	if err := b.call(ctx, http.MethodPost, "/api/invitaciones/aceptar/", nil, body, nil, nil); err != nil {
		return fmt.Errorf("accept invitation: %w", err)
	}
	return nil
}
