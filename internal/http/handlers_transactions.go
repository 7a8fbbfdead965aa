package http

import (
	"context"
	"net/http"

	"golang.org/x/sync/errgroup"

	"sumarte/internal/api"
	"sumarte/internal/core"
	"sumarte/internal/log"
	"sumarte/internal/session"
)

// statusQueryParam filters the transaction list by status.
const statusQueryParam = "estado"

type txRow struct {
	Tx       core.Transaction
	Actions  core.TransactionActions
	ItemName string
}

type transactionsView struct {
	Page
	Rows     []txRow
	Status   core.TransactionStatus
	Statuses []core.TransactionStatus
	Summary  core.TransactionSummary
	ReadOnly bool
}

type txFormView struct {
	Page
	Draft         core.TransactionDraft
	Errors        map[string]string
	Items         []core.BudgetItem
	Suppliers     []core.Supplier
	TxID          int64
	LockFinancial bool
}

// Editing reports whether the form updates an existing transaction.
func (v txFormView) Editing() bool { return v.TxID != 0 }

type txDetailView struct {
	Page
	Tx              core.Transaction
	Actions         core.TransactionActions
	ItemName        string
	Links           []core.EvidenceLink
	Linkable        []core.Evidence
	ReversalWarning string
	ReadOnly        bool
}

var transactionStatuses = []core.TransactionStatus{core.Pending, core.Approved, core.Rejected}

func itemNames(items []core.BudgetItem) map[int64]string {
	names := make(map[int64]string, len(items))
	for _, it := range items {
		if it.ID != nil {
			names[*it.ID] = it.Name
		}
		for _, sub := range it.Subitems {
			if sub.ID != nil {
				names[-*sub.ID] = it.Name + " / " + sub.Name
			}
		}
	}
	return names
}

func itemLabel(names map[int64]string, tx core.Transaction) string {
	if tx.SubitemID != nil {
		if n, ok := names[-*tx.SubitemID]; ok {
			return n
		}
	}
	if tx.ItemID != nil {
		return names[*tx.ItemID]
	}
	return ""
}

func statusFilter(raw string) core.TransactionStatus {
	st := core.TransactionStatus(sanitizeInput(raw))
	if !st.Valid() {
		return ""
	}
	return st
}

func (s *Server) loadTransactions(ctx context.Context, sess *session.Session, projectID int64, status core.TransactionStatus) (transactionsView, error) {
	var (
		project core.Project
		txs     []core.Transaction
		items   []core.BudgetItem
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		project, err = sess.Client.GetProject(gctx, projectID)
		return err
	})
	g.Go(func() (err error) {
		txs, err = sess.Client.ListTransactions(gctx, api.TransactionQuery{ProjectID: projectID, Status: status})
		return err
	})
	g.Go(func() (err error) {
		items, err = sess.Client.ListItems(gctx, projectID)
		return err
	})
	if err := g.Wait(); err != nil {
		return transactionsView{}, err
	}

	names := itemNames(items)
	rows := make([]txRow, 0, len(txs))
	for _, tx := range txs {
		rows = append(rows, txRow{Tx: tx, Actions: core.ActionsFor(tx, project.Status), ItemName: itemLabel(names, tx)})
	}
	return transactionsView{
		Page:     s.page(sess, "Transactions", &project, "transactions"),
		Rows:     rows,
		Status:   status,
		Statuses: transactionStatuses,
		Summary:  core.SummarizeTransactions(txs),
		ReadOnly: core.IsReadOnly(project.Status),
	}, nil
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	view, err := s.loadTransactions(r.Context(), sess, projectID, statusFilter(r.URL.Query().Get(statusQueryParam)))
	if err != nil {
		s.respondError(w, r, sess, log.OpList, err)
		return
	}
	if isHTMX(r) && r.Header.Get("HX-Target") == "tx-table" {
		s.renderFragment(w, r, "tx-table", view)
		return
	}
	s.render(w, r, http.StatusOK, "transactions.html", view)
}

// loadFormData fetches what the transaction form needs besides the draft.
func (s *Server) loadFormData(ctx context.Context, sess *session.Session, projectID int64) (core.Project, []core.BudgetItem, []core.Supplier, error) {
	var (
		project   core.Project
		items     []core.BudgetItem
		suppliers []core.Supplier
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		project, err = sess.Client.GetProject(gctx, projectID)
		return err
	})
	g.Go(func() (err error) {
		items, err = sess.Client.ListItems(gctx, projectID)
		return err
	})
	g.Go(func() (err error) {
		suppliers, err = s.suppliers(gctx, sess)
		return err
	})
	if err := g.Wait(); err != nil {
		return core.Project{}, nil, nil, err
	}
	return project, items, suppliers, nil
}

func (s *Server) handleTransactionNew(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	project, items, suppliers, err := s.loadFormData(r.Context(), sess, projectID)
	if err != nil {
		s.respondError(w, r, sess, log.OpRead, err)
		return
	}
	if core.IsReadOnly(project.Status) {
		s.respondError(w, r, sess, log.OpCreate, core.ErrProjectReadOnly)
		return
	}
	s.render(w, r, http.StatusOK, "transaction_form.html", txFormView{
		Page:      s.page(sess, "New transaction", &project, "transactions"),
		Draft:     core.TransactionDraft{Type: string(core.Expense), Date: formatDay(s.now())},
		Items:     items,
		Suppliers: suppliers,
	})
}

func (s *Server) handleTransactionCreate(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		BadRequestError("invalid form").Write(w)
		return
	}
	project, items, suppliers, err := s.loadFormData(ctx, sess, projectID)
	if err != nil {
		s.respondError(w, r, sess, log.OpCreate, err)
		return
	}
	if core.IsReadOnly(project.Status) {
		s.respondError(w, r, sess, log.OpCreate, core.ErrProjectReadOnly)
		return
	}

	draft := ParseTransactionDraft(r.PostForm)
	view := txFormView{
		Page:      s.page(sess, "New transaction", &project, "transactions"),
		Draft:     draft,
		Items:     items,
		Suppliers: suppliers,
	}
	tx, ferrs := draft.Build(projectID, s.now())
	if len(ferrs) > 0 {
		view.Errors = core.ErrorsByField(ferrs)
		s.respondInvalid(w, r, view.Errors, "tx-form", "transaction_form.html", view)
		return
	}

	created, err := sess.Client.CreateTransaction(ctx, tx)
	if err != nil {
		if fields, ok := backendFieldErrors(err); ok {
			view.Errors = fields
			s.respondInvalid(w, r, fields, "tx-form", "transaction_form.html", view)
			return
		}
		s.respondError(w, r, sess, log.OpCreate, err)
		return
	}
	s.audit.LogMutation(ctx, log.OpCreate, projectID, sess.User.Username,
		log.NewFields().WithTransaction(created.ID))
	s.navigate(w, r, projectPath(projectID, "transactions", idString(created.ID)), "transaction created")
}

// navigate sends the browser to location after a successful form submit.
func (s *Server) navigate(w http.ResponseWriter, r *http.Request, location, message string) {
	s.appMetrics.mutations.Add(1)
	if isHTMX(r) {
		NewHTMXResponse().NotifySuccess(message).Redirect(location).Write(w)
		return
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

// loadTransaction fetches the project and one of its transactions.
func (s *Server) loadTransaction(ctx context.Context, sess *session.Session, projectID, txID int64) (core.Project, core.Transaction, error) {
	var (
		project core.Project
		tx      core.Transaction
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		project, err = sess.Client.GetProject(gctx, projectID)
		return err
	})
	g.Go(func() (err error) {
		tx, err = sess.Client.GetTransaction(gctx, txID)
		return err
	})
	if err := g.Wait(); err != nil {
		return core.Project{}, core.Transaction{}, err
	}
	if tx.ProjectID != projectID {
		return core.Project{}, core.Transaction{}, api.ErrNotFound
	}
	return project, tx, nil
}

func (s *Server) txDetail(ctx context.Context, sess *session.Session, projectID, txID int64) (txDetailView, error) {
	var (
		project  core.Project
		tx       core.Transaction
		links    []core.EvidenceLink
		evidence []core.Evidence
		items    []core.BudgetItem
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		project, tx, err = s.loadTransaction(gctx, sess, projectID, txID)
		return err
	})
	g.Go(func() (err error) {
		links, err = sess.Client.ListLinks(gctx, txID)
		return err
	})
	g.Go(func() (err error) {
		evidence, err = sess.Client.ListEvidence(gctx, projectID)
		return err
	})
	g.Go(func() (err error) {
		items, err = sess.Client.ListItems(gctx, projectID)
		return err
	})
	if err := g.Wait(); err != nil {
		return txDetailView{}, err
	}

	linked := make(map[int64]bool, len(links))
	for _, l := range links {
		linked[l.EvidenceID] = true
	}
	var linkable []core.Evidence
	for _, ev := range evidence {
		if !ev.Deleted && !linked[ev.ID] {
			linkable = append(linkable, ev)
		}
	}

	actions := core.ActionsFor(tx, project.Status)
	view := txDetailView{
		Page:     s.page(sess, "Transaction "+tx.DocumentNumber, &project, "transactions"),
		Tx:       tx,
		Actions:  actions,
		ItemName: itemLabel(itemNames(items), tx),
		Links:    links,
		Linkable: linkable,
		ReadOnly: core.IsReadOnly(project.Status),
	}
	if actions.DeleteWarnsReversal {
		view.ReversalWarning = core.ReversalWarning
	}
	return view, nil
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	txID, err := pathID(r, "txID")
	if err != nil {
		s.respondError(w, r, sess, log.OpRead, api.ErrNotFound)
		return
	}
	view, err := s.txDetail(r.Context(), sess, projectID, txID)
	if err != nil {
		s.respondError(w, r, sess, log.OpRead, err)
		return
	}
	s.render(w, r, http.StatusOK, "transaction.html", view)
}

func (s *Server) handleTransactionEdit(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	ctx := r.Context()
	txID, err := pathID(r, "txID")
	if err != nil {
		s.respondError(w, r, sess, log.OpRead, api.ErrNotFound)
		return
	}
	_, tx, err := s.loadTransaction(ctx, sess, projectID, txID)
	if err != nil {
		s.respondError(w, r, sess, log.OpRead, err)
		return
	}
	project, items, suppliers, err := s.loadFormData(ctx, sess, projectID)
	if err != nil {
		s.respondError(w, r, sess, log.OpRead, err)
		return
	}
	actions := core.ActionsFor(tx, project.Status)
	if !actions.Edit && !actions.EditFinancialFields {
		s.respondError(w, r, sess, log.OpUpdate, forbidden("you cannot edit this transaction"))
		return
	}
	s.render(w, r, http.StatusOK, "transaction_form.html", txFormView{
		Page:          s.page(sess, "Edit transaction", &project, "transactions"),
		Draft:         core.DraftFromTransaction(tx),
		Items:         items,
		Suppliers:     suppliers,
		TxID:          tx.ID,
		LockFinancial: !actions.EditFinancialFields,
	})
}

// handleTransactionUpdate saves the edit form. Amount, date and document
// fields are only taken from the form when the user may change them.
func (s *Server) handleTransactionUpdate(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		BadRequestError("invalid form").Write(w)
		return
	}
	txID, err := pathID(r, "txID")
	if err != nil {
		s.respondError(w, r, sess, log.OpUpdate, api.ErrNotFound)
		return
	}
	_, orig, err := s.loadTransaction(ctx, sess, projectID, txID)
	if err != nil {
		s.respondError(w, r, sess, log.OpUpdate, err)
		return
	}
	project, items, suppliers, err := s.loadFormData(ctx, sess, projectID)
	if err != nil {
		s.respondError(w, r, sess, log.OpUpdate, err)
		return
	}
	actions := core.ActionsFor(orig, project.Status)
	if !actions.Edit && !actions.EditFinancialFields {
		s.respondError(w, r, sess, log.OpUpdate, forbidden("you cannot edit this transaction"))
		return
	}

	draft := ParseTransactionDraft(r.PostForm)
	if !actions.EditFinancialFields {
		locked := core.DraftFromTransaction(orig)
		draft.Amount = locked.Amount
		draft.Date = locked.Date
		draft.DocumentNumber = locked.DocumentNumber
		draft.DocumentType = locked.DocumentType
	}
	view := txFormView{
		Page:          s.page(sess, "Edit transaction", &project, "transactions"),
		Draft:         draft,
		Items:         items,
		Suppliers:     suppliers,
		TxID:          orig.ID,
		LockFinancial: !actions.EditFinancialFields,
	}

	today := s.now()
	if !actions.EditFinancialFields && orig.Date.After(today) {
		today = orig.Date
	}
	tx, ferrs := draft.Build(projectID, today)
	if len(ferrs) > 0 {
		view.Errors = core.ErrorsByField(ferrs)
		s.respondInvalid(w, r, view.Errors, "tx-form", "transaction_form.html", view)
		return
	}
	tx.ID = orig.ID
	tx.Status = orig.Status
	tx.CreatedBy = orig.CreatedBy
	tx.CreatedAt = orig.CreatedAt

	if _, err := sess.Client.UpdateTransaction(ctx, tx); err != nil {
		if fields, ok := backendFieldErrors(err); ok {
			view.Errors = fields
			s.respondInvalid(w, r, fields, "tx-form", "transaction_form.html", view)
			return
		}
		s.respondError(w, r, sess, log.OpUpdate, err)
		return
	}
	s.audit.LogMutation(ctx, log.OpUpdate, projectID, sess.User.Username, log.NewFields().WithTransaction(tx.ID))
	s.navigate(w, r, projectPath(projectID, "transactions", idString(tx.ID)), "transaction updated")
}

// txAction loads the transaction, checks the control is offered, runs do
// and answers with the refreshed list.
func (s *Server) txAction(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64, op string,
	allowed func(core.TransactionActions) bool, do func(context.Context, core.Transaction) error, message string) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		BadRequestError("invalid form").Write(w)
		return
	}
	txID, err := pathID(r, "txID")
	if err != nil {
		s.respondError(w, r, sess, op, api.ErrNotFound)
		return
	}
	project, tx, err := s.loadTransaction(ctx, sess, projectID, txID)
	if err != nil {
		s.respondError(w, r, sess, op, err)
		return
	}
	if core.IsReadOnly(project.Status) {
		s.respondError(w, r, sess, op, core.ErrProjectReadOnly)
		return
	}
	if !allowed(core.ActionsFor(tx, project.Status)) {
		s.respondError(w, r, sess, op, forbidden("this action is not available for the transaction"))
		return
	}
	if err := do(ctx, tx); err != nil {
		s.respondError(w, r, sess, op, err)
		return
	}
	s.audit.LogMutation(ctx, op, projectID, sess.User.Username, log.NewFields().WithTransaction(tx.ID))

	fallback := projectPath(projectID, "transactions", idString(tx.ID))
	if op == log.OpDelete {
		fallback = projectPath(projectID, "transactions")
	}
	if !isHTMX(r) {
		s.succeed(w, r, returnTo(r, projectID, fallback), message, nil, projectID)
		return
	}
	view, err := s.loadTransactions(ctx, sess, projectID, statusFilter(r.PostForm.Get(statusQueryParam)))
	if err != nil {
		s.respondError(w, r, sess, log.OpList, err)
		return
	}
	body, err := s.fragment("tx-table", view)
	if err != nil {
		s.templateFailure(w, r, "tx-table", err)
		return
	}
	s.succeed(w, r, fallback, message, body, projectID)
}

func (s *Server) handleTransactionApprove(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	s.txAction(w, r, sess, projectID, log.OpApprove,
		func(a core.TransactionActions) bool { return a.Approve },
		func(ctx context.Context, tx core.Transaction) error {
			_, err := sess.Client.ApproveTransaction(ctx, tx.ID)
			return err
		}, "transaction approved")
}

// handleTransactionReject takes the reason from the form or, for htmx
// prompts, from the HX-Prompt header.
func (s *Server) handleTransactionReject(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	if err := r.ParseForm(); err != nil {
		BadRequestError("invalid form").Write(w)
		return
	}
	form := rejectForm{Reason: sanitizeInput(r.PostForm.Get("reason"))}
	if form.Reason == "" {
		form.Reason = sanitizeInput(r.Header.Get("HX-Prompt"))
	}
	if errs := s.forms.Validate(form); errs != nil {
		UnprocessableEntityError("reason: " + errs["reason"]).Write(w)
		return
	}
	s.txAction(w, r, sess, projectID, log.OpReject,
		func(a core.TransactionActions) bool { return a.Reject },
		func(ctx context.Context, tx core.Transaction) error {
			_, err := sess.Client.RejectTransaction(ctx, tx.ID, form.Reason)
			return err
		}, "transaction rejected")
}

// handleTransactionDelete removes a transaction. Deleting an approved one
// reverses its amount on the backend, so the list that follows is built
// from a fresh project read.
func (s *Server) handleTransactionDelete(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	s.txAction(w, r, sess, projectID, log.OpDelete,
		func(a core.TransactionActions) bool { return a.Delete },
		func(ctx context.Context, tx core.Transaction) error {
			return sess.Client.DeleteTransaction(ctx, tx.ID)
		}, "transaction deleted")
}

func (s *Server) evidencePanel(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID, txID int64, op, message string) {
	view, err := s.txDetail(r.Context(), sess, projectID, txID)
	if err != nil {
		s.respondError(w, r, sess, log.OpRead, err)
		return
	}
	s.audit.LogMutation(r.Context(), op, projectID, sess.User.Username, log.NewFields().WithTransaction(txID))
	body, err := s.fragment("tx-evidence", view)
	if err != nil {
		s.templateFailure(w, r, "tx-evidence", err)
		return
	}
	s.succeed(w, r, projectPath(projectID, "transactions", idString(txID)), message, body, projectID)
}

func (s *Server) handleEvidenceLink(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		BadRequestError("invalid form").Write(w)
		return
	}
	txID, err := pathID(r, "txID")
	if err != nil {
		s.respondError(w, r, sess, log.OpUpdate, api.ErrNotFound)
		return
	}
	form := linkEvidenceForm{EvidenceID: formInt(r.PostForm, "evidence_id")}
	if errs := s.forms.Validate(form); errs != nil {
		UnprocessableEntityError("evidence: " + errs["evidence_id"]).Write(w)
		return
	}
	if _, _, err := s.loadTransaction(ctx, sess, projectID, txID); err != nil {
		s.respondError(w, r, sess, log.OpUpdate, err)
		return
	}
	if _, err := s.guardWritable(ctx, sess, projectID); err != nil {
		s.respondError(w, r, sess, log.OpUpdate, err)
		return
	}
	if _, err := sess.Client.LinkEvidence(ctx, txID, form.EvidenceID); err != nil {
		s.respondError(w, r, sess, log.OpUpdate, err)
		return
	}
	s.evidencePanel(w, r, sess, projectID, txID, log.OpUpdate, "evidence linked")
}

func (s *Server) handleEvidenceUnlink(w http.ResponseWriter, r *http.Request, sess *session.Session, projectID int64) {
	ctx := r.Context()
	txID, err := pathID(r, "txID")
	if err != nil {
		s.respondError(w, r, sess, log.OpDelete, api.ErrNotFound)
		return
	}
	linkID, err := pathID(r, "linkID")
	if err != nil {
		s.respondError(w, r, sess, log.OpDelete, api.ErrNotFound)
		return
	}
	if _, err := s.guardWritable(ctx, sess, projectID); err != nil {
		s.respondError(w, r, sess, log.OpDelete, err)
		return
	}
	if err := sess.Client.UnlinkEvidence(ctx, linkID); err != nil {
		s.respondError(w, r, sess, log.OpDelete, err)
		return
	}
	s.evidencePanel(w, r, sess, projectID, txID, log.OpDelete, "evidence unlinked")
}
