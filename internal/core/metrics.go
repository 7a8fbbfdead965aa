package core

import "math"

type (
	// ProjectMetrics summarizes budget execution for one project.
	ProjectMetrics struct {
		TotalBudget      Amount
		Executed         Amount
		Available        Amount
		ExecutionPct     float64
		ItemCount        int
		ItemsWithBalance int
		Items            []ItemBreakdown
		Transactions     TransactionSummary
	}

	// ItemBreakdown is the per-item execution row of the dashboard.
	ItemBreakdown struct {
		ItemID       int64
		Name         string
		Assigned     Amount
		Executed     Amount
		Saldo        Amount
		ExecutionPct float64
	}

	TransactionSummary struct {
		Total    int
		Pending  int
		Approved int
		Rejected int
		Income   int
		Expenses int
	}
)

// ComputeMetrics derives the project metrics from the project and its
// items. Execution percentages are rounded to two decimals and are zero
// when nothing is budgeted.
func ComputeMetrics(p Project, items []BudgetItem) ProjectMetrics {
	m := ProjectMetrics{
		TotalBudget: p.TotalBudget,
		Executed:    p.ExecutedAmount,
		Available:   p.Saldo(),
		ItemCount:   len(items),
	}

	for _, item := range items {
		if item.ExecutedAmount.Cmp(item.AssignedAmount) < 0 {
			m.ItemsWithBalance++
		}
		var id int64
		if item.ID != nil {
			id = *item.ID
		}
		m.Items = append(m.Items, ItemBreakdown{
			ItemID:       id,
			Name:         item.Name,
			Assigned:     item.AssignedAmount,
			Executed:     item.ExecutedAmount,
			Saldo:        ItemSaldo(item),
			ExecutionPct: percent(item.ExecutedAmount, item.AssignedAmount),
		})
	}
	m.ExecutionPct = percent(p.ExecutedAmount, p.TotalBudget)
	return m
}

// ItemSaldo is the item's assigned amount minus what has been executed.
func ItemSaldo(item BudgetItem) Amount {
	return item.Saldo()
}

// SummarizeTransactions counts transactions by status and approved type.
func SummarizeTransactions(txs []Transaction) TransactionSummary {
	var s TransactionSummary
	for _, tx := range txs {
		s.Total++
		switch tx.Status {
		case Pending:
			s.Pending++
		case Approved:
			s.Approved++
			if tx.Type == Income {
				s.Income++
			} else {
				s.Expenses++
			}
		case Rejected:
			s.Rejected++
		}
	}
	return s
}

func percent(part, whole Amount) float64 {
	if !whole.IsPositive() {
		return 0
	}
	pct := part.Float64() / whole.Float64() * 100
	return math.Round(pct*100) / 100
}

// BarWidth clamps a percentage to a 0-100 progress bar width.
func BarWidth(pct float64) int {
	switch {
	case pct <= 0:
		return 0
	case pct >= 100:
		return 100
	case pct < 2:
		return 2
	}
	return int(math.Round(pct))
}
