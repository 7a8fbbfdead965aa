package rest

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"path"

	"sumarte/internal/api"
)

// DownloadReport fetches a generated report. The filename comes from
// Content-Disposition and falls back to DefaultReportFilename.
func (c *Client) DownloadReport(ctx context.Context, projectID int64, kind api.ReportKind) (api.Report, error) {
	if !kind.Valid() {
		return api.Report{}, &api.ValidationError{Fields: map[string][]string{"kind": {"unknown report type"}}}
	}

	var raw rawResponse
	p := fmt.Sprintf("/api/proyectos/%d/reportes/%s/", projectID, kind)
	if err := c.do(ctx, http.MethodGet, p, nil, nil, &raw); err != nil {
		return api.Report{}, err
	}

	contentType := raw.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return api.Report{
		Filename:    filenameFrom(raw.Header.Get("Content-Disposition"), api.DefaultReportFilename(projectID, kind)),
		ContentType: contentType,
		Body:        raw.Body,
	}, nil
}

func filenameFrom(disposition, fallback string) string {
	if disposition == "" {
		return fallback
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return fallback
	}
	name := path.Base(params["filename"])
	if name == "" || name == "." || name == "/" {
		return fallback
	}
	return name
}
