package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"sumarte/internal/core"
)

func (c *Client) ListItems(ctx context.Context, projectID int64) ([]core.BudgetItem, error) {
	q := url.Values{"proyecto": {strconv.FormatInt(projectID, 10)}}
	return getList(ctx, c, "/api/items-presupuestarios/", q, wireItem.domain)
}

// SaveItem posts new items and patches existing ones. Subitems are saved
// separately.
func (c *Client) SaveItem(ctx context.Context, item core.BudgetItem) (core.BudgetItem, error) {
	body := itemBody{
		ProjectID: item.ProjectID,
		Name:      item.Name,
		Assigned:  item.AssignedAmount.String(),
		Category:  item.Category,
	}
	if item.ID == nil {
		return send(ctx, c, http.MethodPost, "/api/items-presupuestarios/", body, wireItem.domain)
	}
	return send(ctx, c, http.MethodPatch, fmt.Sprintf("/api/items-presupuestarios/%d/", *item.ID), body, wireItem.domain)
}

func (c *Client) DeleteItem(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/items-presupuestarios/%d/", id), nil, nil, nil)
}

func (c *Client) SaveSubitem(ctx context.Context, sub core.Subitem) (core.Subitem, error) {
	body := subitemBody{
		ItemID:   sub.ItemID,
		Name:     sub.Name,
		Assigned: sub.AssignedAmount.String(),
	}
	if sub.ID == nil {
		return send(ctx, c, http.MethodPost, "/api/subitems-presupuestarios/", body, wireSubitem.domain)
	}
	return send(ctx, c, http.MethodPatch, fmt.Sprintf("/api/subitems-presupuestarios/%d/", *sub.ID), body, wireSubitem.domain)
}

func (c *Client) DeleteSubitem(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/subitems-presupuestarios/%d/", id), nil, nil, nil)
}
