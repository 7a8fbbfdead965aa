package rest

import (
	"sumarte/internal/core"
)

// Backend vocabulary is Spanish; it is translated here and nowhere else.
var (
	projectStatusIn = map[string]core.ProjectStatus{
		"inactivo":   core.ProjectInactive,
		"activo":     core.ProjectActive,
		"en_pausa":   core.ProjectPaused,
		"completado": core.ProjectCompleted,
		"cerrado":    core.ProjectClosed,
	}
	txTypeIn = map[string]core.TransactionType{
		"egreso":  core.Expense,
		"ingreso": core.Income,
	}
	txStatusIn = map[string]core.TransactionStatus{
		"pendiente": core.Pending,
		"aprobado":  core.Approved,
		"rechazado": core.Rejected,
	}
	auditActionIn = map[string]core.AuditAction{
		"creacion":     core.AuditCreation,
		"modificacion": core.AuditModification,
		"aprobacion":   core.AuditApproval,
		"rechazo":      core.AuditRejection,
		"eliminacion":  core.AuditDeletion,
	}
)

func invert[K comparable, V comparable](m map[K]V) map[V]K {
	out := make(map[V]K, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

var (
	txTypeOut        = invert(txTypeIn)
	txStatusOut      = invert(txStatusIn)
	auditActionOut   = invert(auditActionIn)
)

// Unknown values pass through untranslated so they still render.
func projectStatus(s string) core.ProjectStatus {
	if v, ok := projectStatusIn[s]; ok {
		return v
	}
	return core.ProjectStatus(s)
}

func txType(s string) core.TransactionType {
	if v, ok := txTypeIn[s]; ok {
		return v
	}
	return core.TransactionType(s)
}

func txStatus(s string) core.TransactionStatus {
	if v, ok := txStatusIn[s]; ok {
		return v
	}
	return core.TransactionStatus(s)
}

func auditAction(s string) core.AuditAction {
	if v, ok := auditActionIn[s]; ok {
		return v
	}
	return core.AuditAction(s)
}

type tokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

type wireProject struct {
	ID             int64     `json:"id"`
	Name           string    `json:"nombre_proyecto"`
	StartDate      timestamp `json:"fecha_inicio_proyecto"`
	EndDate        timestamp `json:"fecha_fin_proyecto"`
	TotalBudget    amount    `json:"presupuesto_total"`
	Executed       amount    `json:"monto_ejecutado_proyecto"`
	Status         string    `json:"estado_proyecto"`
	OrganizationID id        `json:"id_organizacion"`
}

func (w wireProject) domain() core.Project {
	return core.Project{
		ID:             w.ID,
		Name:           w.Name,
		StartDate:      w.StartDate.t,
		EndDate:        w.EndDate.t,
		TotalBudget:    w.TotalBudget.domain(),
		ExecutedAmount: w.Executed.domain(),
		Status:         projectStatus(w.Status),
		OrganizationID: w.OrganizationID.v,
	}
}

type wireSubitem struct {
	ID       id     `json:"id"`
	ItemID   id     `json:"item_presupuesto"`
	Name     string `json:"nombre_subitem_presupuesto"`
	Assigned amount `json:"monto_asignado_subitem"`
	Executed amount `json:"monto_ejecutado_subitem"`
	Category string `json:"categoria_subitem"`
}

func (w wireSubitem) domain() core.Subitem {
	return core.Subitem{
		ID:             w.ID.ptr(),
		ItemID:         w.ItemID.v,
		Name:           w.Name,
		AssignedAmount: w.Assigned.domain(),
		ExecutedAmount: w.Executed.domain(),
		Category:       w.Category,
	}
}

type wireItem struct {
	ID        id            `json:"id"`
	ProjectID id            `json:"proyecto"`
	Name      string        `json:"nombre_item_presupuesto"`
	Assigned  amount        `json:"monto_asignado_item"`
	Executed  amount        `json:"monto_ejecutado_item"`
	Category  string        `json:"categoria_item"`
	Subitems  []wireSubitem `json:"subitems"`
}

func (w wireItem) domain() core.BudgetItem {
	item := core.BudgetItem{
		ID:             w.ID.ptr(),
		ProjectID:      w.ProjectID.v,
		Name:           w.Name,
		AssignedAmount: w.Assigned.domain(),
		ExecutedAmount: w.Executed.domain(),
		Category:       w.Category,
	}
	for _, s := range w.Subitems {
		item.Subitems = append(item.Subitems, s.domain())
	}
	return item
}

type wireEvidence struct {
	ID         int64     `json:"id"`
	ProjectID  id        `json:"proyecto"`
	Name       string    `json:"nombre_evidencia"`
	FileType   string    `json:"tipo_archivo"`
	URL        string    `json:"archivo_url"`
	File       string    `json:"archivo_evidencia"`
	Version    int       `json:"version"`
	Deleted    bool      `json:"eliminado"`
	UploadedAt timestamp `json:"fecha_carga"`
	UploadedBy string    `json:"usuario_carga_nombre"`
	Linked     []id      `json:"transacciones"`
}

func (w wireEvidence) domain() core.Evidence {
	e := core.Evidence{
		ID:         w.ID,
		ProjectID:  w.ProjectID.v,
		Name:       w.Name,
		FileType:   w.FileType,
		URL:        w.URL,
		Version:    w.Version,
		Deleted:    w.Deleted,
		UploadedAt: w.UploadedAt.t,
		UploadedBy: w.UploadedBy,
	}
	if e.URL == "" {
		e.URL = w.File
	}
	for _, l := range w.Linked {
		if l.valid {
			e.LinkedTransactionIDs = append(e.LinkedTransactionIDs, l.v)
		}
	}
	return e
}

type wireTransaction struct {
	ID              int64          `json:"id"`
	ProjectID       id             `json:"proyecto"`
	ItemID          id             `json:"item_presupuestario"`
	SubitemID       id             `json:"subitem_presupuestario"`
	SupplierID      id             `json:"proveedor"`
	SupplierName    string         `json:"proveedor_nombre"`
	UserID          id             `json:"usuario"`
	UserName        string         `json:"usuario_nombre"`
	Amount          amount         `json:"monto_transaccion"`
	Date            timestamp      `json:"fecha_registro"`
	DocumentNumber  string         `json:"nro_documento"`
	DocumentType    string         `json:"tipo_doc_transaccion"`
	Type            string         `json:"tipo_transaccion"`
	Status          string         `json:"estado_transaccion"`
	ExpenseCategory string         `json:"categoria_gasto"`
	BankAccount     string         `json:"numero_cuenta_bancaria"`
	BankOperation   string         `json:"numero_operacion_bancaria"`
	CanApprove      *bool          `json:"can_approve"`
	CanEditDelete   *bool          `json:"can_edit_delete"`
	CanEdit         *bool          `json:"can_edit"`
	LegacyApprove   bool           `json:"puede_aprobar"`
	LegacyEdit      bool           `json:"puede_editar"`
	Evidence        []wireEvidence `json:"evidencias"`
	CreatedAt       timestamp      `json:"fecha_creacion"`
	UpdatedAt       timestamp      `json:"fecha_actualizacion"`
}

// flag prefers the explicit permission and falls back to the older name.
func flag(explicit *bool, fallback bool) bool {
	if explicit != nil {
		return *explicit
	}
	return fallback
}

func (w wireTransaction) domain() core.Transaction {
	tx := core.Transaction{
		ID:              w.ID,
		ProjectID:       w.ProjectID.v,
		ItemID:          w.ItemID.ptr(),
		SubitemID:       w.SubitemID.ptr(),
		SupplierID:      w.SupplierID.v,
		SupplierName:    w.SupplierName,
		CreatedBy:       w.UserID.v,
		CreatedByName:   w.UserName,
		Amount:          w.Amount.domain(),
		Date:            w.Date.t,
		DocumentNumber:  w.DocumentNumber,
		DocumentType:    w.DocumentType,
		Type:            txType(w.Type),
		Status:          txStatus(w.Status),
		ExpenseCategory: w.ExpenseCategory,
		BankAccount:     w.BankAccount,
		BankOperation:   w.BankOperation,
		Permissions: core.Permissions{
			CanApprove:    flag(w.CanApprove, w.LegacyApprove),
			CanEditDelete: flag(w.CanEditDelete, w.LegacyEdit),
			CanEdit:       flag(w.CanEdit, w.LegacyEdit),
		},
		CreatedAt: w.CreatedAt.t,
		UpdatedAt: w.UpdatedAt.t,
	}
	for _, e := range w.Evidence {
		if !e.Deleted {
			tx.EvidenceIDs = append(tx.EvidenceIDs, e.ID)
		}
	}
	return tx
}

// transactionBody is the write shape. Read-only fields are never sent.
type transactionBody struct {
	ProjectID       int64  `json:"proyecto"`
	ItemID          *int64 `json:"item_presupuestario"`
	SubitemID       *int64 `json:"subitem_presupuestario"`
	SupplierID      int64  `json:"proveedor"`
	Amount          string `json:"monto_transaccion"`
	Date            string `json:"fecha_registro"`
	DocumentNumber  string `json:"nro_documento"`
	DocumentType    string `json:"tipo_doc_transaccion"`
	Type            string `json:"tipo_transaccion"`
	ExpenseCategory string `json:"categoria_gasto,omitempty"`
	BankAccount     string `json:"numero_cuenta_bancaria,omitempty"`
	BankOperation   string `json:"numero_operacion_bancaria,omitempty"`
}

func newTransactionBody(tx core.Transaction) transactionBody {
	return transactionBody{
		ProjectID:       tx.ProjectID,
		ItemID:          tx.ItemID,
		SubitemID:       tx.SubitemID,
		SupplierID:      tx.SupplierID,
		Amount:          tx.Amount.String(),
		Date:            tx.Date.Format(core.DateLayout),
		DocumentNumber:  tx.DocumentNumber,
		DocumentType:    tx.DocumentType,
		Type:            txTypeOut[tx.Type],
		ExpenseCategory: tx.ExpenseCategory,
		BankAccount:     tx.BankAccount,
		BankOperation:   tx.BankOperation,
	}
}

type itemBody struct {
	ProjectID int64  `json:"proyecto"`
	Name      string `json:"nombre_item_presupuesto"`
	Assigned  string `json:"monto_asignado_item"`
	Category  string `json:"categoria_item,omitempty"`
}

type subitemBody struct {
	ItemID   int64  `json:"item_presupuesto"`
	Name     string `json:"nombre_subitem_presupuesto"`
	Assigned string `json:"monto_asignado_subitem"`
}

type wireSupplier struct {
	ID    int64  `json:"id"`
	Name  string `json:"nombre_proveedor"`
	TaxID string `json:"rut_proveedor"`
	Email string `json:"email_proveedor"`
}

func (w wireSupplier) domain() core.Supplier {
	return core.Supplier{ID: w.ID, Name: w.Name, TaxID: w.TaxID, Email: w.Email}
}

type wireRole struct {
	ID   int64  `json:"id"`
	Name string `json:"nombre_rol"`
}

type wireMember struct {
	ID        int64  `json:"id"`
	UserID    id     `json:"usuario"`
	Username  string `json:"usuario_nombre"`
	ProjectID id     `json:"proyecto"`
	RoleID    id     `json:"rol"`
	RoleName  string `json:"rol_nombre"`
}

func (w wireMember) domain() core.TeamMember {
	return core.TeamMember{
		ID:        w.ID,
		UserID:    w.UserID.v,
		Username:  w.Username,
		ProjectID: w.ProjectID.v,
		RoleID:    w.RoleID.v,
		Role:      w.RoleName,
	}
}

type wireInvitation struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	ProjectID id        `json:"proyecto"`
	RoleID    id        `json:"rol"`
	RoleName  string    `json:"rol_nombre"`
	Status    string    `json:"estado"`
	CreatedAt timestamp `json:"fecha_creacion"`
	ExpiresAt timestamp `json:"fecha_expiracion"`
}

func (w wireInvitation) domain() core.Invitation {
	return core.Invitation{
		ID:        w.ID,
		Email:     w.Email,
		ProjectID: w.ProjectID.v,
		RoleID:    w.RoleID.v,
		Role:      w.RoleName,
		Status:    w.Status,
		CreatedAt: w.CreatedAt.t,
		ExpiresAt: w.ExpiresAt.t,
	}
}

type wireOrganization struct {
	ID                 int64  `json:"id"`
	Name               string `json:"nombre_organizacion"`
	TaxID              string `json:"rut_organizacion"`
	Plan               string `json:"plan_suscripcion"`
	SubscriptionStatus string `json:"estado_suscripcion"`
}

func (w wireOrganization) domain() core.Organization {
	return core.Organization{
		ID:                 w.ID,
		Name:               w.Name,
		TaxID:              w.TaxID,
		Plan:               w.Plan,
		SubscriptionStatus: w.SubscriptionStatus,
	}
}

type wireAuditEntry struct {
	ID            int64     `json:"id"`
	TransactionID id        `json:"transaccion"`
	ProjectID     id        `json:"proyecto"`
	UserID        id        `json:"usuario"`
	Username      string    `json:"usuario_nombre"`
	Action        string    `json:"accion_realizada"`
	At            timestamp `json:"fecha_hora_accion"`
}

func (w wireAuditEntry) domain() core.AuditLogEntry {
	return core.AuditLogEntry{
		ID:            w.ID,
		TransactionID: w.TransactionID.v,
		ProjectID:     w.ProjectID.v,
		UserID:        w.UserID.v,
		Username:      w.Username,
		Action:        auditAction(w.Action),
		At:            w.At.t,
	}
}

type wireClosingReport struct {
	Valid    bool     `json:"valido"`
	Errors   []string `json:"errores"`
	Warnings []string `json:"advertencias"`
	Summary  *struct {
		Total    int `json:"total"`
		Pending  int `json:"pendientes"`
		Approved int `json:"aprobadas"`
		Rejected int `json:"rechazadas"`
	} `json:"resumen"`
}

func (w wireClosingReport) domain() core.ClosingReport {
	r := core.ClosingReport{
		Valid:    w.Valid && len(w.Errors) == 0,
		Errors:   append([]string{}, w.Errors...),
		Warnings: append([]string{}, w.Warnings...),
	}
	if w.Summary != nil {
		r.Summary = core.ClosingSummary{
			Total:    w.Summary.Total,
			Pending:  w.Summary.Pending,
			Approved: w.Summary.Approved,
			Rejected: w.Summary.Rejected,
		}
	}
	return r
}

type wireMetrics struct {
	Budget struct {
		Total            amount  `json:"presupuesto_total"`
		Executed         amount  `json:"monto_ejecutado"`
		Available        amount  `json:"monto_disponible"`
		ExecutionPct     float64 `json:"porcentaje_ejecutado"`
		ItemCount        int     `json:"total_items"`
		ItemsWithBalance int     `json:"items_con_saldo"`
	} `json:"metricas_presupuesto"`
	Items []struct {
		ItemID       int64   `json:"item_id"`
		Name         string  `json:"nombre"`
		Assigned     amount  `json:"monto_asignado"`
		Executed     amount  `json:"monto_ejecutado"`
		Saldo        amount  `json:"saldo_disponible"`
		ExecutionPct float64 `json:"porcentaje_ejecutado"`
	} `json:"gastos_por_item"`
	Transactions struct {
		Total    int `json:"total"`
		Pending  int `json:"pendientes"`
		Approved int `json:"aprobadas"`
		Rejected int `json:"rechazadas"`
		Income   int `json:"ingresos"`
		Expenses int `json:"egresos"`
	} `json:"resumen_transacciones"`
}

func (w wireMetrics) domain() core.ProjectMetrics {
	m := core.ProjectMetrics{
		TotalBudget:      w.Budget.Total.domain(),
		Executed:         w.Budget.Executed.domain(),
		Available:        w.Budget.Available.domain(),
		ExecutionPct:     w.Budget.ExecutionPct,
		ItemCount:        w.Budget.ItemCount,
		ItemsWithBalance: w.Budget.ItemsWithBalance,
		Transactions: core.TransactionSummary{
			Total:    w.Transactions.Total,
			Pending:  w.Transactions.Pending,
			Approved: w.Transactions.Approved,
			Rejected: w.Transactions.Rejected,
			Income:   w.Transactions.Income,
			Expenses: w.Transactions.Expenses,
		},
	}
	for _, it := range w.Items {
		m.Items = append(m.Items, core.ItemBreakdown{
			ItemID:       it.ItemID,
			Name:         it.Name,
			Assigned:     it.Assigned.domain(),
			Executed:     it.Executed.domain(),
			Saldo:        it.Saldo.domain(),
			ExecutionPct: it.ExecutionPct,
		})
	}
	return m
}
