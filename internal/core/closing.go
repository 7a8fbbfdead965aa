package core

import "fmt"

type (
	// ClosingSummary counts the project's transactions by status.
	ClosingSummary struct {
		Total    int
		Pending  int
		Approved int
		Rejected int
	}

	// ClosingReport is the pre-closing validation result. Errors block
	// closing; warnings are advisory.
	ClosingReport struct {
		Valid    bool
		Errors   []string
		Warnings []string
		Summary  ClosingSummary
	}

	// CloseGate decides whether the close action may be offered.
	CloseGate struct {
		Report    ClosingReport
		Confirmed bool
	}
)

// CanConfirm reports whether the confirmation checkbox is enabled.
func (g CloseGate) CanConfirm() bool {
	return g.Report.Valid
}

// CanClose reports whether the close button is enabled. A confirmation on
// an invalid report never enables it.
func (g CloseGate) CanClose() bool {
	return g.Report.Valid && g.Confirmed
}

// IsReadOnly reports whether a project in status s accepts no further
// mutations. Read-only projects only offer report downloads.
func IsReadOnly(s ProjectStatus) bool {
	return s == ProjectCompleted || s == ProjectClosed
}

// EvaluateClosing builds a pre-closing report from local data. linked holds
// the IDs of transactions with at least one evidence document.
func EvaluateClosing(txs []Transaction, linked map[int64]bool, executed Amount) ClosingReport {
	r := ClosingReport{Errors: []string{}, Warnings: []string{}}
	var approvedExpenses Amount
	var missingEvidence int

	for _, tx := range txs {
		r.Summary.Total++
		switch tx.Status {
		case Pending:
			r.Summary.Pending++
		case Approved:
			r.Summary.Approved++
			if tx.Type == Expense {
				approvedExpenses = approvedExpenses.Add(tx.Amount)
			}
			if !linked[tx.ID] {
				missingEvidence++
			}
		case Rejected:
			r.Summary.Rejected++
		}
	}

	if r.Summary.Pending > 0 {
		r.Errors = append(r.Errors, fmt.Sprintf("there are %d pending transaction(s) awaiting approval", r.Summary.Pending))
	}
	if missingEvidence > 0 {
		r.Errors = append(r.Errors, fmt.Sprintf("%d approved transaction(s) have no linked evidence", missingEvidence))
	}
	if r.Summary.Rejected > 0 {
		r.Warnings = append(r.Warnings, fmt.Sprintf("there are %d rejected transaction(s)", r.Summary.Rejected))
	}
	if !executed.Equal(approvedExpenses) {
		r.Warnings = append(r.Warnings, fmt.Sprintf("executed amount %s differs from the approved expense total %s", executed, approvedExpenses))
	}

	r.Valid = len(r.Errors) == 0
	return r
}
