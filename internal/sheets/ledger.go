package sheets

import (
	"fmt"
	"sort"
	"strings"

	"sumarte/internal/core"
)

// Ledger is one project's transactions laid out as spreadsheet rows. The
// first row is the header and the trailing rows hold the totals.
type Ledger struct {
	Title string
	Rows  [][]string
}

// LedgerHeader is the first row of every ledger tab.
var LedgerHeader = []string{
	"Fecha", "Tipo", "Estado", "Tipo documento", "N° documento",
	"Proveedor", "Ítem", "Subítem", "Monto",
}

// Width is the number of columns of every row.
func (l Ledger) Width() int { return len(LedgerHeader) }

// maxTitle is the sheet title limit of the Sheets API.
const maxTitle = 100

// BuildLedger lays out the transactions oldest first. Totals only count
// approved transactions.
func BuildLedger(p core.Project, items []core.BudgetItem, txs []core.Transaction) Ledger {
	itemNames := map[int64]string{}
	subNames := map[int64]string{}
	for _, it := range items {
		if it.ID != nil {
			itemNames[*it.ID] = it.Name
		}
		for _, s := range it.Subitems {
			if s.ID != nil {
				subNames[*s.ID] = s.Name
			}
		}
	}

	sorted := append([]core.Transaction(nil), txs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Date.Equal(sorted[j].Date) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].Date.Before(sorted[j].Date)
	})

	rows := [][]string{append([]string(nil), LedgerHeader...)}
	var expenses, income core.Amount
	for _, tx := range sorted {
		item, sub := "", ""
		if tx.ItemID != nil {
			item = itemNames[*tx.ItemID]
		}
		if tx.SubitemID != nil {
			sub = subNames[*tx.SubitemID]
		}
		date := ""
		if !tx.Date.IsZero() {
			date = tx.Date.Format(core.DateLayout)
		}
		rows = append(rows, []string{
			date, tx.Type.Label(), tx.Status.Label(), tx.DocumentType, tx.DocumentNumber,
			tx.SupplierName, item, sub, tx.Amount.String(),
		})
		if tx.Status != core.Approved {
			continue
		}
		if tx.Type == core.Income {
			income = income.Add(tx.Amount)
		} else {
			expenses = expenses.Add(tx.Amount)
		}
	}

	rows = append(rows,
		make([]string, len(LedgerHeader)),
		totalRow("Total egresos aprobados", expenses),
		totalRow("Total ingresos aprobados", income),
		totalRow("Presupuesto", p.TotalBudget),
		totalRow("Ejecutado", p.ExecutedAmount),
		totalRow("Saldo", p.Saldo()),
	)
	return Ledger{Title: LedgerTitle(p), Rows: rows}
}

func totalRow(label string, a core.Amount) []string {
	row := make([]string, len(LedgerHeader))
	row[0] = label
	row[len(row)-1] = a.String()
	return row
}

// LedgerTitle names the tab after the project. Characters the Sheets API
// refuses in titles are replaced.
func LedgerTitle(p core.Project) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '[', ']', '*', '?', '/', '\\', ':', '\'':
			return ' '
		}
		return r
	}, strings.TrimSpace(p.Name))
	title := fmt.Sprintf("%d %s", p.ID, strings.Join(strings.Fields(name), " "))
	if r := []rune(title); len(r) > maxTitle {
		title = string(r[:maxTitle])
	}
	return strings.TrimSpace(title)
}
