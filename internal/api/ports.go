// Package api declares the ports through which the web layer talks to the
// Sum-Arte backend, together with the error taxonomy shared by every
// implementation.
package api

import (
	"context"

	"golang.org/x/oauth2"

	"sumarte/internal/core"
)

// Ports for the backend. A Client is bound to one authenticated session.
type (
	// Authenticator exchanges credentials for tokens. It needs no session.
	Authenticator interface {
		Login(ctx context.Context, username, password string) (*oauth2.Token, error)
		Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	}

	// Registrar serves the unauthenticated onboarding flows.
	Registrar interface {
		CheckRUT(ctx context.Context, rut string) (available bool, err error)
		RegisterOrganization(ctx context.Context, s OrganizationSignup) (core.Organization, error)
		AcceptInvitation(ctx context.Context, a InvitationAcceptance) error
	}

	ProjectReader interface {
		ListProjects(ctx context.Context) ([]core.Project, error)
		GetProject(ctx context.Context, id int64) (core.Project, error)
		// ProjectMetrics returns the dashboard figures for one project.
		ProjectMetrics(ctx context.Context, id int64) (core.ProjectMetrics, error)
	}

	BudgetEditor interface {
		ListItems(ctx context.Context, projectID int64) ([]core.BudgetItem, error)
		// SaveItem creates the item when its ID is nil and updates it otherwise.
		SaveItem(ctx context.Context, item core.BudgetItem) (core.BudgetItem, error)
		DeleteItem(ctx context.Context, id int64) error
		SaveSubitem(ctx context.Context, sub core.Subitem) (core.Subitem, error)
		DeleteSubitem(ctx context.Context, id int64) error
	}

	TransactionStore interface {
		ListTransactions(ctx context.Context, q TransactionQuery) ([]core.Transaction, error)
		GetTransaction(ctx context.Context, id int64) (core.Transaction, error)
		CreateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error)
		UpdateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error)
		DeleteTransaction(ctx context.Context, id int64) error
		ApproveTransaction(ctx context.Context, id int64) (core.Transaction, error)
		RejectTransaction(ctx context.Context, id int64, reason string) (core.Transaction, error)
		ListSuppliers(ctx context.Context) ([]core.Supplier, error)
	}

	EvidenceStore interface {
		UploadEvidence(ctx context.Context, u EvidenceUpload) (core.Evidence, error)
		ListEvidence(ctx context.Context, projectID int64) ([]core.Evidence, error)
		ListLinks(ctx context.Context, transactionID int64) ([]core.EvidenceLink, error)
		LinkEvidence(ctx context.Context, transactionID, evidenceID int64) (core.EvidenceLink, error)
		UnlinkEvidence(ctx context.Context, linkID int64) error
		// DeleteEvidence is a soft delete; RestoreEvidence undoes it.
		DeleteEvidence(ctx context.Context, id int64) error
		RestoreEvidence(ctx context.Context, id int64) (core.Evidence, error)
	}

	TeamManager interface {
		ListTeam(ctx context.Context, projectID int64) ([]core.TeamMember, error)
		AssignRole(ctx context.Context, projectID, userID, roleID int64) (core.TeamMember, error)
		ChangeRole(ctx context.Context, memberID, roleID int64) (core.TeamMember, error)
		RemoveMember(ctx context.Context, memberID int64) error
		ListRoles(ctx context.Context) ([]core.Role, error)
	}

	InvitationManager interface {
		ListInvitations(ctx context.Context, projectID int64) ([]core.Invitation, error)
		CreateInvitation(ctx context.Context, inv core.Invitation) (core.Invitation, error)
		ResendInvitation(ctx context.Context, id int64) error
		CancelInvitation(ctx context.Context, id int64) error
	}

	AuditReader interface {
		ListAuditLog(ctx context.Context, f core.AuditFilter) ([]core.AuditLogEntry, error)
	}

	Closer interface {
		// PreClosingReport returns the backend's validation of the project.
		PreClosingReport(ctx context.Context, projectID int64) (core.ClosingReport, error)
		// CloseProject locks the project. It fails when the report is invalid.
		CloseProject(ctx context.Context, projectID int64) (core.Project, error)
	}

	ReportFetcher interface {
		DownloadReport(ctx context.Context, projectID int64, kind ReportKind) (Report, error)
	}

	// Client is everything an authenticated session can do.
	Client interface {
		ProjectReader
		BudgetEditor
		TransactionStore
		EvidenceStore
		TeamManager
		InvitationManager
		AuditReader
		Closer
		ReportFetcher
	}

	// Backend opens sessions and serves the public endpoints.
	Backend interface {
		Authenticator
		Registrar
		// ClientFor returns a Client acting with tok. onRefresh, when set, is
		// called with the new token after a successful refresh.
		ClientFor(tok *oauth2.Token, onRefresh func(*oauth2.Token)) Client
	}
)
