package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"sumarte/internal/api"
	"sumarte/internal/core"
)

func (c *Client) ListTransactions(ctx context.Context, q api.TransactionQuery) ([]core.Transaction, error) {
	query := url.Values{}
	if q.ProjectID != 0 {
		query.Set("proyecto", strconv.FormatInt(q.ProjectID, 10))
	}
	if s, ok := txStatusOut[q.Status]; ok {
		query.Set("estado_transaccion", s)
	}
	return getList(ctx, c, "/api/transacciones/", query, wireTransaction.domain)
}

func (c *Client) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	return send(ctx, c, http.MethodGet, fmt.Sprintf("/api/transacciones/%d/", id), nil, wireTransaction.domain)
}

func (c *Client) CreateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	return send(ctx, c, http.MethodPost, "/api/transacciones/", newTransactionBody(tx), wireTransaction.domain)
}

func (c *Client) UpdateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	return send(ctx, c, http.MethodPatch, fmt.Sprintf("/api/transacciones/%d/", tx.ID), newTransactionBody(tx), wireTransaction.domain)
}

func (c *Client) DeleteTransaction(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/transacciones/%d/", id), nil, nil, nil)
}

func (c *Client) ApproveTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	return send(ctx, c, http.MethodPost, fmt.Sprintf("/api/transacciones/%d/approve/", id), struct{}{}, wireTransaction.domain)
}

func (c *Client) RejectTransaction(ctx context.Context, id int64, reason string) (core.Transaction, error) {
	body := map[string]string{"motivo": reason}
	return send(ctx, c, http.MethodPost, fmt.Sprintf("/api/transacciones/%d/reject/", id), body, wireTransaction.domain)
}

func (c *Client) ListSuppliers(ctx context.Context) ([]core.Supplier, error) {
	return getList(ctx, c, "/api/proveedores/", nil, wireSupplier.domain)
}
