// Package sheets exports project ledgers to a spreadsheet.
package sheets

import "context"

// Ports for outbound adapters.
type (
	// LedgerWriter replaces the tab named by the ledger title with its rows
	// and returns a reference to the written range.
	LedgerWriter interface {
		WriteLedger(ctx context.Context, l Ledger) (ref string, err error)
	}
)
