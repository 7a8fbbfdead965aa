package core

import (
	"errors"
	"time"
)

const (
	ProjectInactive  ProjectStatus = "inactive"
	ProjectActive    ProjectStatus = "active"
	ProjectPaused    ProjectStatus = "paused"
	ProjectCompleted ProjectStatus = "completed"
	ProjectClosed    ProjectStatus = "closed"
)

const (
	Expense TransactionType = "expense"
	Income  TransactionType = "income"
)

const (
	Pending  TransactionStatus = "pending"
	Approved TransactionStatus = "approved"
	Rejected TransactionStatus = "rejected"
)

const (
	DocFacturaElectronica = "factura electrónica"
	DocFacturaExenta      = "factura exenta"
	DocBoletaCompra       = "boleta de compra"
	DocBoletaHonorarios   = "boleta de honorarios"
)

const (
	RoleSuperadmin   = "superadmin"
	RoleProjectAdmin = "admin proyecto"
	RoleExecutor     = "ejecutor"
	RoleAuditor      = "auditor"
	RoleDirector     = "directivo"
)

// DocumentTypes lists the accepted tax document types in display order.
var DocumentTypes = []string{DocFacturaElectronica, DocFacturaExenta, DocBoletaCompra, DocBoletaHonorarios}

// Roles lists the project roles in display order.
var Roles = []string{RoleProjectAdmin, RoleExecutor, RoleAuditor, RoleDirector}

type (
	ProjectStatus     string
	TransactionType   string
	TransactionStatus string

	Project struct {
		ID             int64
		Name           string
		StartDate      time.Time
		EndDate        time.Time
		TotalBudget    Amount
		ExecutedAmount Amount
		Status         ProjectStatus
		OrganizationID int64
	}

	BudgetItem struct {
		ID             *int64
		ProjectID      int64
		Name           string
		AssignedAmount Amount
		ExecutedAmount Amount
		Category       string
		Subitems       []Subitem
	}

	Subitem struct {
		ID             *int64
		ItemID         int64
		Name           string
		AssignedAmount Amount
		ExecutedAmount Amount
		Category       string
	}

	// Permissions are computed by the backend per transaction and per actor.
	Permissions struct {
		CanApprove    bool
		CanEditDelete bool
		CanEdit       bool
	}

	Transaction struct {
		ID              int64
		ProjectID       int64
		ItemID          *int64
		SubitemID       *int64
		SupplierID      int64
		SupplierName    string
		CreatedBy       int64
		CreatedByName   string
		Amount          Amount
		Date            time.Time
		DocumentNumber  string
		DocumentType    string
		Type            TransactionType
		Status          TransactionStatus
		ExpenseCategory string
		BankAccount     string
		BankOperation   string
		Permissions     Permissions
		EvidenceIDs     []int64
		CreatedAt       time.Time
		UpdatedAt       time.Time
	}

	Evidence struct {
		ID                   int64
		ProjectID            int64
		Name                 string
		FileType             string
		URL                  string
		Version              int
		Deleted              bool
		UploadedAt           time.Time
		UploadedBy           string
		LinkedTransactionIDs []int64
	}

	// EvidenceLink joins an evidence document to a transaction.
	EvidenceLink struct {
		ID            int64
		TransactionID int64
		EvidenceID    int64
		Evidence      Evidence
	}

	Supplier struct {
		ID    int64
		Name  string
		TaxID string
		Email string
	}

	Role struct {
		ID   int64
		Name string
	}

	Organization struct {
		ID                 int64
		Name               string
		TaxID              string
		Plan               string
		SubscriptionStatus string
	}

	Invitation struct {
		ID        int64
		Email     string
		ProjectID int64
		RoleID    int64
		Role      string
		Status    string
		CreatedAt time.Time
		ExpiresAt time.Time
	}

	TeamMember struct {
		ID        int64
		UserID    int64
		Username  string
		ProjectID int64
		RoleID    int64
		Role      string
	}

	// User is a display-only view of the authenticated user.
	User struct {
		ID             int64
		Username       string
		Email          string
		FirstName      string
		LastName       string
		OrganizationID int64
		IsSuperuser    bool
	}
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrInvalidRUT        = errors.New("invalid RUT")
	ErrUnsupportedFile   = errors.New("unsupported file type")
	ErrFileTooLarge      = errors.New("file exceeds maximum size")
	ErrProjectReadOnly   = errors.New("project is read-only")
	ErrEmptyName         = errors.New("empty name")
	ErrMissingBudgetItem = errors.New("expense requires a budget item")
)

// Valid reports whether s is one of the known project statuses.
func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectInactive, ProjectActive, ProjectPaused, ProjectCompleted, ProjectClosed:
		return true
	}
	return false
}

// Label returns the Spanish display label.
func (s ProjectStatus) Label() string {
	switch s {
	case ProjectInactive:
		return "Inactivo"
	case ProjectActive:
		return "Activo"
	case ProjectPaused:
		return "En pausa"
	case ProjectCompleted:
		return "Completado"
	case ProjectClosed:
		return "Cerrado"
	}
	return string(s)
}

func (t TransactionType) Valid() bool {
	return t == Expense || t == Income
}

func (t TransactionType) Label() string {
	if t == Income {
		return "Ingreso"
	}
	return "Egreso"
}

func (s TransactionStatus) Valid() bool {
	switch s {
	case Pending, Approved, Rejected:
		return true
	}
	return false
}

func (s TransactionStatus) Label() string {
	switch s {
	case Pending:
		return "Pendiente"
	case Approved:
		return "Aprobado"
	case Rejected:
		return "Rechazado"
	}
	return string(s)
}

// HasSubitems reports whether the item amount is derived from its subitems.
func (i BudgetItem) HasSubitems() bool {
	return len(i.Subitems) > 0
}

// Saldo returns the available balance of the item.
func (i BudgetItem) Saldo() Amount {
	return i.AssignedAmount.Sub(i.ExecutedAmount)
}

func (s Subitem) Saldo() Amount {
	return s.AssignedAmount.Sub(s.ExecutedAmount)
}

// Saldo returns the project's available balance.
func (p Project) Saldo() Amount {
	return p.TotalBudget.Sub(p.ExecutedAmount)
}

// DisplayName prefers the full name when the token carried one.
func (u User) DisplayName() string {
	if u.FirstName != "" || u.LastName != "" {
		if u.LastName == "" {
			return u.FirstName
		}
		if u.FirstName == "" {
			return u.LastName
		}
		return u.FirstName + " " + u.LastName
	}
	return u.Username
}
