package core

// ReversalWarning is shown before deleting an approved transaction.
const ReversalWarning = "This transaction is approved. Deleting it will reverse its amount from the executed budget."

// TransactionActions lists the controls offered for one transaction.
type TransactionActions struct {
	Approve             bool
	Reject              bool
	Edit                bool
	Delete              bool
	EditFinancialFields bool
	DeleteWarnsReversal bool
}

// Any reports whether at least one control is offered.
func (a TransactionActions) Any() bool {
	return a.Approve || a.Reject || a.Edit || a.Delete
}

// ActionsFor derives the visible actions from the backend-supplied
// permission flags. Nothing is offered on a read-only project.
func ActionsFor(tx Transaction, projectStatus ProjectStatus) TransactionActions {
	if IsReadOnly(projectStatus) {
		return TransactionActions{}
	}

	pending := tx.Status == Pending
	a := TransactionActions{
		Approve:             tx.Permissions.CanApprove && pending,
		Reject:              tx.Permissions.CanApprove && pending,
		Edit:                tx.Permissions.CanEditDelete,
		Delete:              tx.Permissions.CanEditDelete,
		EditFinancialFields: tx.Permissions.CanEdit && pending,
	}
	a.DeleteWarnsReversal = a.Delete && tx.Status == Approved
	return a
}
