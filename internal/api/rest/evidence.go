package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"sumarte/internal/api"
	"sumarte/internal/core"
)

// multipartBody is a fully buffered form so it can be replayed after a
// token refresh.
type multipartBody struct {
	data        []byte
	buf         *bytes.Reader
	contentType string
}

func (m *multipartBody) rewind() *multipartBody {
	return &multipartBody{data: m.data, buf: bytes.NewReader(m.data), contentType: m.contentType}
}

func newEvidenceForm(u api.EvidenceUpload) (*multipartBody, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("proyecto", strconv.FormatInt(u.ProjectID, 10)); err != nil {
		return nil, err
	}
	name := u.Name
	if name == "" {
		name = u.Filename
	}
	if err := w.WriteField("nombre_evidencia", name); err != nil {
		return nil, err
	}
	part, err := w.CreateFormFile("archivo_evidencia", u.Filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, io.LimitReader(u.Content, core.MaxEvidenceSize+1)); err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	mb := &multipartBody{data: buf.Bytes(), contentType: w.FormDataContentType()}
	return mb.rewind(), nil
}

// UploadEvidence checks the file locally before sending it.
func (c *Client) UploadEvidence(ctx context.Context, u api.EvidenceUpload) (core.Evidence, error) {
	if err := core.ValidateEvidenceUpload(u.Filename, u.Size); err != nil {
		return core.Evidence{}, &api.ValidationError{Fields: map[string][]string{"archivo_evidencia": {err.Error()}}}
	}
	form, err := newEvidenceForm(u)
	if err != nil {
		return core.Evidence{}, fmt.Errorf("build upload: %w", err)
	}
	return send(ctx, c, http.MethodPost, "/api/evidencias/", form, wireEvidence.domain)
}

func (c *Client) ListEvidence(ctx context.Context, projectID int64) ([]core.Evidence, error) {
	q := url.Values{"proyecto": {strconv.FormatInt(projectID, 10)}}
	return getList(ctx, c, "/api/evidencias/", q, wireEvidence.domain)
}

type wireLink struct {
	ID            int64        `json:"id"`
	TransactionID id           `json:"transaccion"`
	Evidence      wireEvidence `json:"evidencia"`
}

func (w wireLink) domain() core.EvidenceLink {
	ev := w.Evidence.domain()
	return core.EvidenceLink{
		ID:            w.ID,
		TransactionID: w.TransactionID.v,
		EvidenceID:    ev.ID,
		Evidence:      ev,
	}
}

func (c *Client) ListLinks(ctx context.Context, transactionID int64) ([]core.EvidenceLink, error) {
	q := url.Values{"transaccion": {strconv.FormatInt(transactionID, 10)}}
	return getList(ctx, c, "/api/transacciones-evidencias/", q, wireLink.domain)
}

func (c *Client) LinkEvidence(ctx context.Context, transactionID, evidenceID int64) (core.EvidenceLink, error) {
	body := map[string]int64{"transaccion": transactionID, "evidencia_id": evidenceID}
	return send(ctx, c, http.MethodPost, "/api/transacciones-evidencias/", body, wireLink.domain)
}

func (c *Client) UnlinkEvidence(ctx context.Context, linkID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/transacciones-evidencias/%d/", linkID), nil, nil, nil)
}

func (c *Client) DeleteEvidence(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/evidencias/%d/", id), nil, nil, nil)
}

func (c *Client) RestoreEvidence(ctx context.Context, id int64) (core.Evidence, error) {
	return send(ctx, c, http.MethodPost, fmt.Sprintf("/api/evidencias/%d/restaurar/", id), struct{}{}, wireEvidence.domain)
}
