package rest

import (
	"context"
	"fmt"
	"net/http"

	"sumarte/internal/core"
)

func (c *Client) ListProjects(ctx context.Context) ([]core.Project, error) {
	return getList(ctx, c, "/api/proyectos/", nil, wireProject.domain)
}

func (c *Client) GetProject(ctx context.Context, id int64) (core.Project, error) {
	return send(ctx, c, http.MethodGet, fmt.Sprintf("/api/proyectos/%d/", id), nil, wireProject.domain)
}

func (c *Client) ProjectMetrics(ctx context.Context, id int64) (core.ProjectMetrics, error) {
	return send(ctx, c, http.MethodGet, fmt.Sprintf("/api/dashboard/proyecto/%d/metrics/", id), nil, wireMetrics.domain)
}

func (c *Client) PreClosingReport(ctx context.Context, projectID int64) (core.ClosingReport, error) {
	return send(ctx, c, http.MethodGet, fmt.Sprintf("/api/proyectos/%d/pre-rendicion/", projectID), nil, wireClosingReport.domain)
}

func (c *Client) CloseProject(ctx context.Context, projectID int64) (core.Project, error) {
	return send(ctx, c, http.MethodPost, fmt.Sprintf("/api/proyectos/%d/rendicion/cerrar/", projectID), struct{}{}, wireProject.domain)
}
