package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"sumarte/internal/core"
)

func (c *Client) ListTeam(ctx context.Context, projectID int64) ([]core.TeamMember, error) {
	q := url.Values{"proyecto": {strconv.FormatInt(projectID, 10)}}
	return getList(ctx, c, "/api/usuarios-roles/", q, wireMember.domain)
}

func (c *Client) AssignRole(ctx context.Context, projectID, userID, roleID int64) (core.TeamMember, error) {
	body := map[string]int64{"proyecto": projectID, "usuario": userID, "rol": roleID}
	return send(ctx, c, http.MethodPost, "/api/usuarios-roles/", body, wireMember.domain)
}

func (c *Client) ChangeRole(ctx context.Context, memberID, roleID int64) (core.TeamMember, error) {
	body := map[string]int64{"rol": roleID}
	return send(ctx, c, http.MethodPatch, fmt.Sprintf("/api/usuarios-roles/%d/", memberID), body, wireMember.domain)
}

func (c *Client) RemoveMember(ctx context.Context, memberID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/usuarios-roles/%d/", memberID), nil, nil, nil)
}

func (c *Client) ListRoles(ctx context.Context) ([]core.Role, error) {
	return getList(ctx, c, "/api/roles/", nil, func(w wireRole) core.Role {
		return core.Role{ID: w.ID, Name: w.Name}
	})
}

func (c *Client) ListInvitations(ctx context.Context, projectID int64) ([]core.Invitation, error) {
	q := url.Values{"proyecto": {strconv.FormatInt(projectID, 10)}}
	return getList(ctx, c, "/api/invitaciones/", q, wireInvitation.domain)
}

func (c *Client) CreateInvitation(ctx context.Context, inv core.Invitation) (core.Invitation, error) {
	body := struct {
		Email     string `json:"email"`
		ProjectID int64  `json:"proyecto"`
		RoleID    int64  `json:"rol"`
	}{inv.Email, inv.ProjectID, inv.RoleID}
	return send(ctx, c, http.MethodPost, "/api/invitaciones/", body, wireInvitation.domain)
}

func (c *Client) ResendInvitation(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/invitaciones/%d/reenviar/", id), nil, struct{}{}, nil)
}

func (c *Client) CancelInvitation(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/invitaciones/%d/cancelar/", id), nil, struct{}{}, nil)
}
