package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"sumarte/internal/api"
	"sumarte/internal/core"
)

// Client acts as one user. Tokens are verified on every call the way the
// real backend does, so expiry and refresh behave the same.
type Client struct {
	store     *Store
	onRefresh func(*oauth2.Token)

	mu    sync.Mutex
	token *oauth2.Token
}

var _ api.Client = (*Client)(nil)

// begin authenticates the call and locks the store. The caller must call
// s.mu.Unlock.
func (c *Client) begin(ctx context.Context) (*userRecord, error) {
	s := c.store
	c.mu.Lock()
	tok := c.token
	c.mu.Unlock()
	if tok == nil {
		return nil, api.ErrSessionExpired
	}

	cl, err := s.verify(tok.AccessToken, "access")
	if err != nil {
		fresh, rerr := s.Refresh(ctx, tok.RefreshToken)
		if rerr != nil {
			return nil, api.ErrSessionExpired
		}
		c.mu.Lock()
		c.token = fresh
		c.mu.Unlock()
		if c.onRefresh != nil {
			c.onRefresh(fresh)
		}
		if cl, err = s.verify(fresh.AccessToken, "access"); err != nil {
			return nil, api.ErrSessionExpired
		}
	}

	s.mu.Lock()
	u, ok := s.users[cl.UserID]
	if !ok {
		s.mu.Unlock()
		return nil, api.ErrSessionExpired
	}
	return u, nil
}

// Token returns the current token pair.
func (c *Client) Token() *oauth2.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// role is the user's role on the project, "" when not a member.
func (s *Store) role(u *userRecord, projectID int64) string {
	if u.IsSuperuser {
		return core.RoleSuperadmin
	}
	p, ok := s.projects[projectID]
	if ok && u.orgAdmin && p.OrganizationID == u.OrganizationID {
		return core.RoleProjectAdmin
	}
	for _, m := range s.members {
		if m.UserID == u.ID && m.ProjectID == projectID {
			return m.Role
		}
	}
	return ""
}

func isAdmin(role string) bool {
	return role == core.RoleSuperadmin || role == core.RoleProjectAdmin
}

// project returns a project visible to u.
func (s *Store) project(u *userRecord, id int64) (*core.Project, error) {
	p, ok := s.projects[id]
	if !ok || (!u.IsSuperuser && p.OrganizationID != u.OrganizationID) {
		return nil, businessErr(404, "project not found")
	}
	return p, nil
}

// writable additionally rejects closed projects and non-members.
func (s *Store) writable(u *userRecord, id int64) (*core.Project, string, error) {
	p, err := s.project(u, id)
	if err != nil {
		return nil, "", err
	}
	if core.IsReadOnly(p.Status) {
		return nil, "", businessErr(400, "the project is closed and cannot be modified")
	}
	role := s.role(u, id)
	if role == "" || role == core.RoleAuditor || role == core.RoleDirector {
		return nil, "", businessErr(403, "you do not have permission to perform this action")
	}
	return p, role, nil
}

func (s *Store) projectsFor(u *userRecord) []core.Project {
	out := []core.Project{}
	for _, p := range s.projects {
		if u.IsSuperuser || p.OrganizationID == u.OrganizationID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Client) ListProjects(ctx context.Context) ([]core.Project, error) {
	u, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer c.store.mu.Unlock()
	return c.store.projectsFor(u), nil
}

func (c *Client) GetProject(ctx context.Context, id int64) (core.Project, error) {
	u, err := c.begin(ctx)
	if err != nil {
		return core.Project{}, err
	}
	defer c.store.mu.Unlock()
	p, err := c.store.project(u, id)
	if err != nil {
		return core.Project{}, err
	}
	return *p, nil
}

func (c *Client) ProjectMetrics(ctx context.Context, id int64) (core.ProjectMetrics, error) {
	u, err := c.begin(ctx)
	if err != nil {
		return core.ProjectMetrics{}, err
	}
	defer c.store.mu.Unlock()
	s := c.store
	p, err := s.project(u, id)
	if err != nil {
		return core.ProjectMetrics{}, err
	}
	m := core.ComputeMetrics(*p, s.itemsOf(id))
	m.Transactions = core.SummarizeTransactions(s.txsOf(id))
	return m, nil
}

func (s *Store) itemsOf(projectID int64) []core.BudgetItem {
	out := []core.BudgetItem{}
	for _, it := range s.items {
		if it.ProjectID != projectID {
			continue
		}
		item := *it
		item.Subitems = nil
		for _, sub := range s.subitems {
			if sub.ItemID == *it.ID {
				item.Subitems = append(item.Subitems, *sub)
			}
		}
		sort.Slice(item.Subitems, func(i, j int) bool { return *item.Subitems[i].ID < *item.Subitems[j].ID })
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return *out[i].ID < *out[j].ID })
	return out
}

func (s *Store) txsOf(projectID int64) []core.Transaction {
	out := []core.Transaction{}
	for _, tx := range s.txs {
		if tx.ProjectID == projectID {
			out = append(out, *tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Client) ListItems(ctx context.Context, projectID int64) ([]core.BudgetItem, error) {
	u, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer c.store.mu.Unlock()
	if _, err := c.store.project(u, projectID); err != nil {
		return nil, err
	}
	return c.store.itemsOf(projectID), nil
}

func (c *Client) SaveItem(ctx context.Context, item core.BudgetItem) (core.BudgetItem, error) {
	u, err := c.begin(ctx)
	if err != nil {
		return core.BudgetItem{}, err
	}
	defer c.store.mu.Unlock()
	s := c.store

	projectID := item.ProjectID
	var existing *core.BudgetItem
	if item.ID != nil {
		existing = s.items[*item.ID]
		if existing == nil {
			return core.BudgetItem{}, businessErr(404, "budget item not found")
		}
		projectID = existing.ProjectID
	}
	p, role, err := s.writable(u, projectID)
	if err != nil {
		return core.BudgetItem{}, err
	}
	if !isAdmin(role) {
		return core.BudgetItem{}, businessErr(403, "only project administrators can edit the budget")
	}
	if len(strings.TrimSpace(item.Name)) < 2 {
		return core.BudgetItem{}, fieldErr("nombre_item_presupuesto", "name must have at least 2 characters")
	}
	if item.AssignedAmount.IsNegative() {
		return core.BudgetItem{}, fieldErr("monto_asignado_item", "amount cannot be negative")
	}

	// Allocation is re-checked against the project's budget.
	total := item.AssignedAmount
	for _, other := range s.items {
		if other.ProjectID == p.ID && (existing == nil || *other.ID != *existing.ID) {
			total = total.Add(other.AssignedAmount)
		}
	}
	if total.GreaterThan(p.TotalBudget) {
		return core.BudgetItem{}, businessErr(400, "total allocated %s exceeds the project budget %s", total, p.TotalBudget)
	}

	if existing == nil {
		id := s.id()
		existing = &core.BudgetItem{ID: &id, ProjectID: p.ID}
		s.items[id] = existing
	}
	existing.Name = strings.TrimSpace(item.Name)
	existing.AssignedAmount = item.AssignedAmount
	existing.Category = item.Category
	out := *existing
	return out, nil
}

func (c *Client) DeleteItem(ctx context.Context, id int64) error {
	u, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer c.store.mu.Unlock()
	s := c.store
	it, ok := s.items[id]
	if !ok {
		return businessErr(404, "budget item not found")
	}
	if _, role, err := s.writable(u, it.ProjectID); err != nil {
		return err
	} else if !isAdmin(role) {
		return businessErr(403, "only project administrators can edit the budget")
	}
	for _, tx := range s.txs {
		if tx.ItemID != nil && *tx.ItemID == id {
			return businessErr(400, "the item has transactions and cannot be deleted")
		}
	}
	for sid, sub := range s.subitems {
		if sub.ItemID == id {
			delete(s.subitems, sid)
		}
	}
	delete(s.items, id)
	return nil
}

func (c *Client) SaveSubitem(ctx context.Context, sub core.Subitem) (core.Subitem, error) {
	u, err := c.begin(ctx)
	if err != nil {
		return core.Subitem{}, err
	}
	defer c.store.mu.Unlock()
	s := c.store

	itemID := sub.ItemID
	var existing *core.Subitem
	if sub.ID != nil {
		existing = s.subitems[*sub.ID]
		if existing == nil {
			return core.Subitem{}, businessErr(404, "subitem not found")
		}
		itemID = existing.ItemID
	}
	it, ok := s.items[itemID]
	if !ok {
		return core.Subitem{}, businessErr(404, "budget item not found")
	}
	if _, role, err := s.writable(u, it.ProjectID); err != nil {
		return core.Subitem{}, err
	} else if !isAdmin(role) {
		return core.Subitem{}, businessErr(403, "only project administrators can edit the budget")
	}
	if len(strings.TrimSpace(sub.Name)) < 2 {
		return core.Subitem{}, fieldErr("nombre_subitem_presupuesto", "name must have at least 2 characters")
	}
	if !sub.AssignedAmount.IsPositive() {
		return core.Subitem{}, fieldErr("monto_asignado_subitem", "amount must be greater than 0")
	}

	if existing == nil {
		id := s.id()
		existing = &core.Subitem{ID: &id, ItemID: itemID}
		s.subitems[id] = existing
	}
	existing.Name = strings.TrimSpace(sub.Name)
	existing.AssignedAmount = sub.AssignedAmount
	existing.Category = sub.Category
	return *existing, nil
}

func (c *Client) DeleteSubitem(ctx context.Context, id int64) error {
	u, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer c.store.mu.Unlock()
	s := c.store
	sub, ok := s.subitems[id]
	if !ok {
		return businessErr(404, "subitem not found")
	}
	it := s.items[sub.ItemID]
	if _, role, err := s.writable(u, it.ProjectID); err != nil {
		return err
	} else if !isAdmin(role) {
		return businessErr(403, "only project administrators can edit the budget")
	}
	for _, tx := range s.txs {
		if tx.SubitemID != nil && *tx.SubitemID == id {
			return businessErr(400, "the subitem has transactions and cannot be deleted")
		}
	}
	delete(s.subitems, id)
	return nil
}

// permissions mirrors the backend's per-transaction flags. Approvers may
// not approve their own transactions.
func (s *Store) permissions(u *userRecord, tx core.Transaction) core.Permissions {
	role := s.role(u, tx.ProjectID)
	if p, ok := s.projects[tx.ProjectID]; ok && core.IsReadOnly(p.Status) {
		return core.Permissions{}
	}
	admin := isAdmin(role)
	pending := tx.Status == core.Pending
	return core.Permissions{
		CanApprove:    admin && pending && tx.CreatedBy != u.ID,
		CanEditDelete: admin,
		CanEdit:       pending && (admin || (role == core.RoleExecutor && tx.CreatedBy == u.ID)),
	}
}

func (s *Store) view(u *userRecord, tx *core.Transaction) core.Transaction {
	out := *tx
	out.Permissions = s.permissions(u, out)
	out.EvidenceIDs = nil
	for _, l := range s.links {
		if l.TransactionID == tx.ID {
			if ev, ok := s.evidence[l.EvidenceID]; ok && !ev.Deleted {
				out.EvidenceIDs = append(out.EvidenceIDs, ev.ID)
			}
		}
	}
	sort.Slice(out.EvidenceIDs, func(i, j int) bool { return out.EvidenceIDs[i] < out.EvidenceIDs[j] })
	for _, sp := range s.suppliers {
		if sp.ID == tx.SupplierID {
			out.SupplierName = sp.Name
		}
	}
	if cu, ok := s.users[tx.CreatedBy]; ok {
		out.CreatedByName = cu.Username
	}
	return out
}

func (c *Client) ListTransactions(ctx context.Context, q api.TransactionQuery) ([]core.Transaction, error) {
	u, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer c.store.mu.Unlock()
	s := c.store

	out := []core.Transaction{}
	for _, tx := range s.txs {
		if q.ProjectID != 0 && tx.ProjectID != q.ProjectID {
			continue
		}
		if q.Status != "" && tx.Status != q.Status {
			continue
		}
		if _, err := s.project(u, tx.ProjectID); err != nil {
			continue
		}
		out = append(out, s.view(u, tx))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (c *Client) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	u, err := c.begin(ctx)
	if err != nil {
		return core.Transaction{}, err
	}
	defer c.store.mu.Unlock()
	tx, err := c.store.visibleTx(u, id)
	if err != nil {
		return core.Transaction{}, err
	}
	return c.store.view(u, tx), nil
}

func (s *Store) visibleTx(u *userRecord, id int64) (*core.Transaction, error) {
	tx, ok := s.txs[id]
	if !ok {
		return nil, businessErr(404, "transaction not found")
	}
	if _, err := s.project(u, tx.ProjectID); err != nil {
		return nil, businessErr(404, "transaction not found")
	}
	return tx, nil
}

// checkTx applies the backend's write rules to a candidate transaction.
func (s *Store) checkTx(tx core.Transaction, selfID int64) error {
	if !tx.Amount.IsPositive() {
		return fieldErr("monto_transaccion", "amount must be greater than 0")
	}
	if tx.Type == core.Expense && tx.ItemID == nil {
		return fieldErr("item_presupuestario", core.ErrMissingBudgetItem.Error())
	}
	if tx.Type == core.Income && (tx.BankAccount == "" || tx.BankOperation == "") {
		return fieldErr("numero_cuenta_bancaria", "bank account and operation number are required for income")
	}
	if tx.ItemID != nil {
		it, ok := s.items[*tx.ItemID]
		if !ok || it.ProjectID != tx.ProjectID {
			return fieldErr("item_presupuestario", "budget item does not belong to the project")
		}
		if tx.SubitemID != nil {
			sub, ok := s.subitems[*tx.SubitemID]
			if !ok || sub.ItemID != *it.ID {
				return fieldErr("subitem_presupuestario", "subitem does not belong to the item")
			}
		}
	}
	supplierOK := false
	for _, sp := range s.suppliers {
		if sp.ID == tx.SupplierID {
			supplierOK = true
		}
	}
	if !supplierOK {
		return fieldErr("proveedor", "unknown supplier")
	}
	for _, other := range s.txs {
		if other.ID != selfID && other.SupplierID == tx.SupplierID && other.DocumentNumber == tx.DocumentNumber {
			return &api.ValidationError{Fields: map[string][]string{
				"non_field_errors": {"a transaction with the same supplier and document number already exists"},
			}}
		}
	}
	return nil
}

func (c *Client) CreateTransaction(ctx context.Context, in core.Transaction) (core.Transaction, error) {
	u, err := c.begin(ctx)
	if err != nil {
		return core.Transaction{}, err
	}
	defer c.store.mu.Unlock()
	s := c.store
	if _, _, err := s.writable(u, in.ProjectID); err != nil {
		return core.Transaction{}, err
	}
	if err := s.checkTx(in, 0); err != nil {
		return core.Transaction{}, err
	}

	tx := in
	tx.ID = s.id()
	tx.Status = core.Pending
	tx.CreatedBy = u.ID
	tx.CreatedAt = s.now()
	tx.UpdatedAt = tx.CreatedAt
	tx.Permissions = core.Permissions{}
	tx.EvidenceIDs = nil
	s.txs[tx.ID] = &tx
	s.log(u, &tx, core.AuditCreation)
	return s.view(u, &tx), nil
}

func (c *Client) UpdateTransaction(ctx context.Context, in core.Transaction) (core.Transaction, error) {
	u, err := c.begin(ctx)
	if err != nil {
		return core.Transaction{}, err
	}
	defer c.store.mu.Unlock()
	s := c.store
	tx, err := s.visibleTx(u, in.ID)
	if err != nil {
		return core.Transaction{}, err
	}
	if _, _, err := s.writable(u, tx.ProjectID); err != nil {
		return core.Transaction{}, err
	}
	perms := s.permissions(u, *tx)
	if !perms.CanEdit {
		if tx.Status != core.Pending {
			return core.Transaction{}, businessErr(400, "approved or rejected transactions cannot be modified")
		}
		return core.Transaction{}, businessErr(403, "you do not have permission to perform this action")
	}

	in.ProjectID = tx.ProjectID
	if err := s.checkTx(in, tx.ID); err != nil {
		return core.Transaction{}, err
	}
	tx.Type = in.Type
	tx.Amount = in.Amount
	tx.Date = in.Date
	tx.DocumentNumber = in.DocumentNumber
	tx.DocumentType = in.DocumentType
	tx.ItemID = in.ItemID
	tx.SubitemID = in.SubitemID
	tx.SupplierID = in.SupplierID
	tx.ExpenseCategory = in.ExpenseCategory
	tx.BankAccount = in.BankAccount
	tx.BankOperation = in.BankOperation
	tx.UpdatedAt = s.now()
	s.log(u, tx, core.AuditModification)
	return s.view(u, tx), nil
}

// applyExecuted moves an approved expense into (sign 1) or out of (sign -1)
// the executed amounts of its project, item and subitem.
func (s *Store) applyExecuted(tx *core.Transaction, sign int64) {
	if tx.Type != core.Expense {
		return
	}
	delta := tx.Amount
	apply := func(a core.Amount) core.Amount {
		if sign < 0 {
			return a.Sub(delta)
		}
		return a.Add(delta)
	}
	if p, ok := s.projects[tx.ProjectID]; ok {
		p.ExecutedAmount = apply(p.ExecutedAmount)
	}
	if tx.ItemID != nil {
		if it, ok := s.items[*tx.ItemID]; ok {
			it.ExecutedAmount = apply(it.ExecutedAmount)
		}
	}
	if tx.SubitemID != nil {
		if sub, ok := s.subitems[*tx.SubitemID]; ok {
			sub.ExecutedAmount = apply(sub.ExecutedAmount)
		}
	}
}

func (c *Client) DeleteTransaction(ctx context.Context, id int64) error {
	u, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer c.store.mu.Unlock()
	s := c.store
	tx, err := s.visibleTx(u, id)
	if err != nil {
		return err
	}
	if _, _, err := s.writable(u, tx.ProjectID); err != nil {
		return err
	}
	if !s.permissions(u, *tx).CanEditDelete {
		return businessErr(403, "you do not have permission to perform this action")
	}
	if tx.Status == core.Approved {
		s.applyExecuted(tx, -1)
	}
	s.log(u, tx, core.AuditDeletion)
	for lid, l := range s.links {
		if l.TransactionID == id {
			delete(s.links, lid)
		}
	}
	delete(s.txs, id)
	return nil
}

func (c *Client) ApproveTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	u, err := c.begin(ctx)
	if err != nil {
		return core.Transaction{}, err
	}
	defer c.store.mu.Unlock()
	s := c.store
	tx, err := s.visibleTx(u, id)
	if err != nil {
		return core.Transaction{}, err
	}
	if _, _, err := s.writable(u, tx.ProjectID); err != nil {
		return core.Transaction{}, err
	}
	if tx.Status != core.Pending {
		return core.Transaction{}, businessErr(400, "only pending transactions can be approved")
	}
	if !s.permissions(u, *tx).CanApprove {
		return core.Transaction{}, businessErr(403, "you cannot approve this transaction")
	}
	if err := s.checkBalance(tx); err != nil {
		return core.Transaction{}, err
	}
	tx.Status = core.Approved
	tx.UpdatedAt = s.now()
	s.applyExecuted(tx, 1)
	s.log(u, tx, core.AuditApproval)
	return s.view(u, tx), nil
}

// checkBalance rejects expenses larger than the remaining balance of their
// subitem, or of their item when no subitem is set.
func (s *Store) checkBalance(tx *core.Transaction) error {
	if tx.Type != core.Expense {
		return nil
	}
	var saldo core.Amount
	switch {
	case tx.SubitemID != nil && s.subitems[*tx.SubitemID] != nil:
		saldo = s.subitems[*tx.SubitemID].Saldo()
	case tx.ItemID != nil && s.items[*tx.ItemID] != nil:
		saldo = s.items[*tx.ItemID].Saldo()
	default:
		return nil
	}
	if tx.Amount.GreaterThan(saldo) {
		return businessErr(400, "the budget item does not have enough balance for this transaction")
	}
	return nil
}

func (c *Client) RejectTransaction(ctx context.Context, id int64, reason string) (core.Transaction, error) {
	u, err := c.begin(ctx)
	if err != nil {
		return core.Transaction{}, err
	}
	defer c.store.mu.Unlock()
	s := c.store
	tx, err := s.visibleTx(u, id)
	if err != nil {
		return core.Transaction{}, err
	}
	if _, _, err := s.writable(u, tx.ProjectID); err != nil {
		return core.Transaction{}, err
	}
	if tx.Status != core.Pending {
		return core.Transaction{}, businessErr(400, "only pending transactions can be rejected")
	}
	if !s.permissions(u, *tx).CanApprove {
		return core.Transaction{}, businessErr(403, "you cannot reject this transaction")
	}
	tx.Status = core.Rejected
	tx.UpdatedAt = s.now()
	s.log(u, tx, core.AuditRejection)
	return s.view(u, tx), nil
}

func (c *Client) ListSuppliers(ctx context.Context) ([]core.Supplier, error) {
	if _, err := c.begin(ctx); err != nil {
		return nil, err
	}
	defer c.store.mu.Unlock()
	return append([]core.Supplier{}, c.store.suppliers...), nil
}

func (s *Store) log(u *userRecord, tx *core.Transaction, action core.AuditAction) {
	s.audit = append(s.audit, core.AuditLogEntry{
		ID:            s.id(),
		TransactionID: tx.ID,
		ProjectID:     tx.ProjectID,
		UserID:        u.ID,
		Username:      u.Username,
		Action:        action,
		At:            s.now(),
	})
}

func (c *Client) ListAuditLog(ctx context.Context, f core.AuditFilter) ([]core.AuditLogEntry, error) {
	u, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer c.store.mu.Unlock()
	s := c.store
	visible := make([]core.AuditLogEntry, 0, len(s.audit))
	for _, e := range s.audit {
		if _, err := s.project(u, e.ProjectID); err == nil {
			visible = append(visible, e)
		}
	}
	return core.FilterAuditLog(visible, f), nil
}

func (c *Client) UploadEvidence(ctx context.Context, up api.EvidenceUpload) (core.Evidence, error) {
	if err := core.ValidateEvidenceUpload(up.Filename, up.Size); err != nil {
		return core.Evidence{}, fieldErr("archivo_evidencia", err.Error())
	}
	if up.Content == nil {
		return core.Evidence{}, fieldErr("archivo_evidencia", "no file was submitted")
	}
	// Read before taking the store lock.
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(up.Content, core.MaxEvidenceSize+1)); err != nil {
		return core.Evidence{}, fmt.Errorf("read upload: %w", err)
	}
	if buf.Len() > core.MaxEvidenceSize {
		return core.Evidence{}, fieldErr("archivo_evidencia", core.ErrFileTooLarge.Error())
	}

	u, err := c.begin(ctx)
	if err != nil {
		return core.Evidence{}, err
	}
	defer c.store.mu.Unlock()
	s := c.store
	if _, _, err := s.writable(u, up.ProjectID); err != nil {
		return core.Evidence{}, err
	}

	name := strings.TrimSpace(up.Name)
	if name == "" {
		name = up.Filename
	}
	version := 1
	for _, ev := range s.evidence {
		if ev.ProjectID == up.ProjectID && ev.Name == name && ev.Version >= version {
			version = ev.Version + 1
		}
	}
	ev := &core.Evidence{
		ID:         s.id(),
		ProjectID:  up.ProjectID,
		Name:       name,
		FileType:   mime.TypeByExtension(strings.ToLower(filepath.Ext(up.Filename))),
		Version:    version,
		UploadedAt: s.now(),
		UploadedBy: u.Username,
	}
	ev.URL = fmt.Sprintf("/media/evidencias/%s%s", uuid.NewString(), strings.ToLower(filepath.Ext(up.Filename)))
	s.evidence[ev.ID] = ev
	return s.evidenceView(ev), nil
}

func (s *Store) evidenceView(ev *core.Evidence) core.Evidence {
	out := *ev
	out.LinkedTransactionIDs = nil
	for _, l := range s.links {
		if l.EvidenceID == ev.ID {
			out.LinkedTransactionIDs = append(out.LinkedTransactionIDs, l.TransactionID)
		}
	}
	sort.Slice(out.LinkedTransactionIDs, func(i, j int) bool { return out.LinkedTransactionIDs[i] < out.LinkedTransactionIDs[j] })
	return out
}

func (c *Client) ListEvidence(ctx context.Context, projectID int64) ([]core.Evidence, error) {
	u, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer c.store.mu.Unlock()
	s := c.store
	if _, err := s.project(u, projectID); err != nil {
		return nil, err
	}
	out := []core.Evidence{}
	for _, ev := range s.evidence {
		if ev.ProjectID == projectID {
			out = append(out, s.evidenceView(ev))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *Client) ListLinks(ctx context.Context, transactionID int64) ([]core.EvidenceLink, error) {
	u, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer c.store.mu.Unlock()
	s := c.store
	if _, err := s.visibleTx(u, transactionID); err != nil {
		return nil, err
	}
	out := []core.EvidenceLink{}
	for _, l := range s.links {
		if l.TransactionID != transactionID {
			continue
		}
		if ev, ok := s.evidence[l.EvidenceID]; ok && !ev.Deleted {
			l.Evidence = s.evidenceView(ev)
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *Client) LinkEvidence(ctx context.Context, transactionID, evidenceID int64) (core.EvidenceLink, error) {
	u, err := c.begin(ctx)
	if err != nil {
		return core.EvidenceLink{}, err
	}
	defer c.store.mu.Unlock()
	s := c.store
	tx, err := s.visibleTx(u, transactionID)
	if err != nil {
		return core.EvidenceLink{}, err
	}
	if _, _, err := s.writable(u, tx.ProjectID); err != nil {
		return core.EvidenceLink{}, err
	}
	ev, ok := s.evidence[evidenceID]
	if !ok || ev.Deleted || ev.ProjectID != tx.ProjectID {
		return core.EvidenceLink{}, fieldErr("evidencia_id", "evidence not found in this project")
	}
	for _, l := range s.links {
		if l.TransactionID == transactionID && l.EvidenceID == evidenceID {
			return core.EvidenceLink{}, businessErr(400, "the evidence is already linked to this transaction")
		}
	}
	l := core.EvidenceLink{ID: s.id(), TransactionID: transactionID, EvidenceID: evidenceID}
	s.links[l.ID] = l
	l.Evidence = s.evidenceView(ev)
	return l, nil
}

func (c *Client) UnlinkEvidence(ctx context.Context, linkID int64) error {
	u, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer c.store.mu.Unlock()
	s := c.store
	l, ok := s.links[linkID]
	if !ok {
		return businessErr(404, "link not found")
	}
	tx, err := s.visibleTx(u, l.TransactionID)
	if err != nil {
		return err
	}
	if _, _, err := s.writable(u, tx.ProjectID); err != nil {
		return err
	}
	delete(s.links, linkID)
	return nil
}

func (c *Client) setEvidenceDeleted(ctx context.Context, id int64, deleted bool) (core.Evidence, error) {
	u, err := c.begin(ctx)
	if err != nil {
		return core.Evidence{}, err
	}
	defer c.store.mu.Unlock()
	s := c.store
	ev, ok := s.evidence[id]
	if !ok {
		return core.Evidence{}, businessErr(404, "evidence not found")
	}
	if _, _, err := s.writable(u, ev.ProjectID); err != nil {
		return core.Evidence{}, err
	}
	if ev.Deleted == deleted {
		if deleted {
			return core.Evidence{}, businessErr(400, "the evidence is already deleted")
		}
		return core.Evidence{}, businessErr(400, "the evidence is not deleted")
	}
	ev.Deleted = deleted
	return s.evidenceView(ev), nil
}

func (c *Client) DeleteEvidence(ctx context.Context, id int64) error {
	_, err := c.setEvidenceDeleted(ctx, id, true)
	return err
}

func (c *Client) RestoreEvidence(ctx context.Context, id int64) (core.Evidence, error) {
	return c.setEvidenceDeleted(ctx, id, false)
}

func (c *Client) ListTeam(ctx context.Context, projectID int64) ([]core.TeamMember, error) {
	u, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer c.store.mu.Unlock()
	s := c.store
	if _, err := s.project(u, projectID); err != nil {
		return nil, err
	}
	out := []core.TeamMember{}
	for _, m := range s.members {
		if m.ProjectID == projectID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// manage checks that u administers the project.
func (s *Store) manage(u *userRecord, projectID int64) error {
	if _, err := s.project(u, projectID); err != nil {
		return err
	}
	if !isAdmin(s.role(u, projectID)) {
		return businessErr(403, "only project administrators can manage the team")
	}
	return nil
}

func (c *Client) AssignRole(ctx context.Context, projectID, userID, roleID int64) (core.TeamMember, error) {
	u, err := c.begin(ctx)
	if err != nil {
		return core.TeamMember{}, err
	}
	defer c.store.mu.Unlock()
	s := c.store
	if err := s.manage(u, projectID); err != nil {
		return core.TeamMember{}, err
	}
	target, ok := s.users[userID]
	if !ok || target.OrganizationID != s.projects[projectID].OrganizationID {
		return core.TeamMember{}, fieldErr("usuario", "user not found in this organization")
	}
	name := s.roleName(roleID)
	if name == "" {
		return core.TeamMember{}, fieldErr("rol", "unknown role")
	}
	for _, m := range s.members {
		if m.UserID == userID && m.ProjectID == projectID {
			return core.TeamMember{}, businessErr(400, "the user already has a role in this project")
		}
	}
	m := core.TeamMember{ID: s.id(), UserID: userID, Username: target.Username, ProjectID: projectID, RoleID: roleID, Role: name}
	s.members[m.ID] = m
	return m, nil
}

func (c *Client) ChangeRole(ctx context.Context, memberID, roleID int64) (core.TeamMember, error) {
	u, err := c.begin(ctx)
	if err != nil {
		return core.TeamMember{}, err
	}
	defer c.store.mu.Unlock()
	s := c.store
	m, ok := s.members[memberID]
	if !ok {
		return core.TeamMember{}, businessErr(404, "team member not found")
	}
	if err := s.manage(u, m.ProjectID); err != nil {
		return core.TeamMember{}, err
	}
	name := s.roleName(roleID)
	if name == "" {
		return core.TeamMember{}, fieldErr("rol", "unknown role")
	}
	m.RoleID, m.Role = roleID, name
	s.members[memberID] = m
	return m, nil
}

func (c *Client) RemoveMember(ctx context.Context, memberID int64) error {
	u, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer c.store.mu.Unlock()
	s := c.store
	m, ok := s.members[memberID]
	if !ok {
		return businessErr(404, "team member not found")
	}
	if err := s.manage(u, m.ProjectID); err != nil {
		return err
	}
	if m.UserID == u.ID {
		return businessErr(400, "you cannot remove yourself from the project")
	}
	delete(s.members, memberID)
	return nil
}

func (c *Client) ListRoles(ctx context.Context) ([]core.Role, error) {
	if _, err := c.begin(ctx); err != nil {
		return nil, err
	}
	defer c.store.mu.Unlock()
	return append([]core.Role{}, c.store.roles...), nil
}

func (c *Client) ListInvitations(ctx context.Context, projectID int64) ([]core.Invitation, error) {
	u, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer c.store.mu.Unlock()
	s := c.store
	if err := s.manage(u, projectID); err != nil {
		return nil, err
	}
	out := []core.Invitation{}
	for _, inv := range s.invitations {
		if inv.ProjectID != projectID {
			continue
		}
		if inv.Status == InvitationPending && s.now().After(inv.ExpiresAt) {
			inv.Status = InvitationExpired
		}
		out = append(out, inv.Invitation)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

const invitationTTL = 7 * 24 * time.Hour

func (c *Client) CreateInvitation(ctx context.Context, in core.Invitation) (core.Invitation, error) {
	u, err := c.begin(ctx)
	if err != nil {
		return core.Invitation{}, err
	}
	defer c.store.mu.Unlock()
	s := c.store
	if err := s.manage(u, in.ProjectID); err != nil {
		return core.Invitation{}, err
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if !strings.Contains(email, "@") {
		return core.Invitation{}, fieldErr("email", "enter a valid email address")
	}
	name := s.roleName(in.RoleID)
	if name == "" {
		return core.Invitation{}, fieldErr("rol", "unknown role")
	}
	for _, inv := range s.invitations {
		if inv.ProjectID == in.ProjectID && inv.Email == email && inv.Status == InvitationPending {
			return core.Invitation{}, businessErr(400, "there is already a pending invitation for %s", email)
		}
	}
	now := s.now()
	rec := &invitationRecord{
		Invitation: core.Invitation{
			ID:        s.id(),
			Email:     email,
			ProjectID: in.ProjectID,
			RoleID:    in.RoleID,
			Role:      name,
			Status:    InvitationPending,
			CreatedAt: now,
			ExpiresAt: now.Add(invitationTTL),
		},
		token: uuid.NewString(),
	}
	s.invitations[rec.ID] = rec
	return rec.Invitation, nil
}

func (c *Client) pendingInvitation(ctx context.Context, id int64, fn func(*invitationRecord)) error {
	u, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer c.store.mu.Unlock()
	s := c.store
	inv, ok := s.invitations[id]
	if !ok {
		return businessErr(404, "invitation not found")
	}
	if err := s.manage(u, inv.ProjectID); err != nil {
		return err
	}
	if inv.Status != InvitationPending && inv.Status != InvitationExpired {
		return businessErr(400, "the invitation is no longer pending")
	}
	fn(inv)
	return nil
}

// ResendInvitation renews the expiry and the token.
func (c *Client) ResendInvitation(ctx context.Context, id int64) error {
	return c.pendingInvitation(ctx, id, func(inv *invitationRecord) {
		inv.Status = InvitationPending
		inv.ExpiresAt = c.store.now().Add(invitationTTL)
		inv.token = uuid.NewString()
	})
}

func (c *Client) CancelInvitation(ctx context.Context, id int64) error {
	return c.pendingInvitation(ctx, id, func(inv *invitationRecord) {
		inv.Status = InvitationCancelled
	})
}

func (s *Store) linkedSet(projectID int64) map[int64]bool {
	var live []core.Evidence
	for _, ev := range s.evidence {
		if ev.ProjectID == projectID {
			live = append(live, s.evidenceView(ev))
		}
	}
	return core.LinkedSet(live)
}

func (c *Client) PreClosingReport(ctx context.Context, projectID int64) (core.ClosingReport, error) {
	u, err := c.begin(ctx)
	if err != nil {
		return core.ClosingReport{}, err
	}
	defer c.store.mu.Unlock()
	s := c.store
	p, err := s.project(u, projectID)
	if err != nil {
		return core.ClosingReport{}, err
	}
	return core.EvaluateClosing(s.txsOf(projectID), s.linkedSet(projectID), p.ExecutedAmount), nil
}

func (c *Client) CloseProject(ctx context.Context, projectID int64) (core.Project, error) {
	u, err := c.begin(ctx)
	if err != nil {
		return core.Project{}, err
	}
	defer c.store.mu.Unlock()
	s := c.store
	p, role, err := s.writable(u, projectID)
	if err != nil {
		return core.Project{}, err
	}
	if !isAdmin(role) {
		return core.Project{}, businessErr(403, "only project administrators can close the project")
	}
	report := core.EvaluateClosing(s.txsOf(projectID), s.linkedSet(projectID), p.ExecutedAmount)
	if !report.Valid {
		return core.Project{}, businessErr(400, "cannot close: %s", strings.Join(report.Errors, "; "))
	}
	p.Status = core.ProjectCompleted
	return *p, nil
}

func (c *Client) DownloadReport(ctx context.Context, projectID int64, kind api.ReportKind) (api.Report, error) {
	if !kind.Valid() {
		return api.Report{}, fieldErr("kind", "unknown report type")
	}
	u, err := c.begin(ctx)
	if err != nil {
		return api.Report{}, err
	}
	defer c.store.mu.Unlock()
	s := c.store
	p, err := s.project(u, projectID)
	if err != nil {
		return api.Report{}, err
	}
	if kind == api.ReportOfficial && !core.IsReadOnly(p.Status) {
		return api.Report{}, businessErr(400, "the official report is only available after closing")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s\n\n", p.Name, kind.Label())
	fmt.Fprintf(&b, "budget\t%s\nexecuted\t%s\navailable\t%s\n\n", p.TotalBudget, p.ExecutedAmount, p.Saldo())
	for _, it := range s.itemsOf(projectID) {
		fmt.Fprintf(&b, "%s\t%s\t%s\n", it.Name, it.AssignedAmount, it.ExecutedAmount)
	}
	return api.Report{
		Filename:    api.DefaultReportFilename(projectID, kind),
		ContentType: "text/plain; charset=utf-8",
		Body:        []byte(b.String()),
	}, nil
}
