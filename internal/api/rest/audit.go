package rest

import (
	"context"
	"net/url"
	"strconv"

	"sumarte/internal/core"
)

// ListAuditLog sends the project, user and action criteria to the backend
// and applies the date range locally.
func (c *Client) ListAuditLog(ctx context.Context, f core.AuditFilter) ([]core.AuditLogEntry, error) {
	q := url.Values{}
	if f.ProjectID != 0 {
		q.Set("proyecto", strconv.FormatInt(f.ProjectID, 10))
	}
	if f.UserID != 0 {
		q.Set("usuario", strconv.FormatInt(f.UserID, 10))
	}
	if a, ok := auditActionOut[f.Action]; ok {
		q.Set("accion", a)
	}

	entries, err := getList(ctx, c, "/api/logs-transacciones/", q, wireAuditEntry.domain)
	if err != nil {
		return nil, err
	}
	// Entries carry no project of their own; the query already scoped them.
	for i := range entries {
		if entries[i].ProjectID == 0 {
			entries[i].ProjectID = f.ProjectID
		}
	}
	return core.FilterAuditLog(entries, f), nil
}
