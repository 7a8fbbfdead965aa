// Package worker builds project ledgers from the backend and writes them to
// the spreadsheet on behalf of the export processor.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"sumarte/internal/api"
	"sumarte/internal/core"
	"sumarte/internal/log"
	"sumarte/internal/services"
	"sumarte/internal/sheets"
)

// Credentials identify the service account the worker logs in as.
type Credentials struct {
	Username string
	Password string
}

// ExportWorker reads a project from the backend as a service account and
// writes its ledger. It keeps one token pair across exports.
type ExportWorker struct {
	backend api.Backend
	writer  sheets.LedgerWriter
	creds   Credentials
	logger  *log.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

var _ services.LedgerExporter = (*ExportWorker)(nil)

func NewExportWorker(backend api.Backend, writer sheets.LedgerWriter, creds Credentials, logger *log.Logger) *ExportWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &ExportWorker{
		backend: backend,
		writer:  writer,
		creds:   creds,
		logger:  logger.WithComponent(log.ComponentWorker),
	}
}

// ExportLedger loads the project, its items and its transactions in
// parallel, then writes the ledger. An expired session triggers one fresh
// login.
func (w *ExportWorker) ExportLedger(ctx context.Context, projectID int64) (string, error) {
	l, err := w.load(ctx, projectID)
	if errors.Is(err, api.ErrSessionExpired) {
		w.logger.InfoContext(ctx, "Worker session expired, logging in again")
		w.dropToken()
		l, err = w.load(ctx, projectID)
	}
	if err != nil {
		return "", err
	}

	ref, err := w.writer.WriteLedger(ctx, l)
	if err != nil {
		return "", fmt.Errorf("write ledger: %w", err)
	}
	return ref, nil
}

func (w *ExportWorker) load(ctx context.Context, projectID int64) (sheets.Ledger, error) {
	client, err := w.client(ctx)
	if err != nil {
		return sheets.Ledger{}, err
	}

	var (
		project core.Project
		items   []core.BudgetItem
		txs     []core.Transaction
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		project, err = client.GetProject(gctx, projectID)
		return err
	})
	g.Go(func() error {
		var err error
		items, err = client.ListItems(gctx, projectID)
		return err
	})
	g.Go(func() error {
		var err error
		txs, err = client.ListTransactions(gctx, api.TransactionQuery{ProjectID: projectID})
		return err
	})
	if err := g.Wait(); err != nil {
		return sheets.Ledger{}, fmt.Errorf("load project %d: %w", projectID, err)
	}

	w.logger.DebugContext(ctx, "Project loaded for export",
		log.FieldProjectID, projectID,
		log.FieldItemCount, len(items),
		"transactions", len(txs))
	return sheets.BuildLedger(project, items, txs), nil
}

func (w *ExportWorker) client(ctx context.Context) (api.Client, error) {
	w.mu.Lock()
	tok := w.token
	w.mu.Unlock()

	if tok == nil {
		fresh, err := w.backend.Login(ctx, w.creds.Username, w.creds.Password)
		if err != nil {
			return nil, fmt.Errorf("worker login: %w", err)
		}
		w.mu.Lock()
		w.token = fresh
		w.mu.Unlock()
		tok = fresh
		w.logger.InfoContext(ctx, "Worker logged in", log.FieldUser, w.creds.Username)
	}
	return w.backend.ClientFor(tok, w.storeToken), nil
}

func (w *ExportWorker) storeToken(tok *oauth2.Token) {
	w.mu.Lock()
	w.token = tok
	w.mu.Unlock()
}

func (w *ExportWorker) dropToken() {
	w.mu.Lock()
	w.token = nil
	w.mu.Unlock()
}
