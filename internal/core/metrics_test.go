package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeMetrics(t *testing.T) {
	id1, id2 := int64(1), int64(2)
	p := Project{TotalBudget: NewAmount(1000000), ExecutedAmount: NewAmount(450000)}
	items := []BudgetItem{
		{ID: &id1, Name: "Materials", AssignedAmount: NewAmount(600000), ExecutedAmount: NewAmount(400000)},
		{ID: &id2, Name: "Fees", AssignedAmount: NewAmount(300000), ExecutedAmount: NewAmount(300000)},
		{Name: "Unsaved", AssignedAmount: Amount{}, ExecutedAmount: Amount{}},
	}

	m := ComputeMetrics(p, items)
	assert.True(t, m.Available.Equal(NewAmount(550000)))
	assert.Equal(t, 3, m.ItemCount)
	assert.Equal(t, 1, m.ItemsWithBalance)
	assert.Equal(t, 45.0, m.ExecutionPct)
	assert.True(t, ItemSaldo(items[0]).Equal(NewAmount(200000)))

	require.Len(t, m.Items, 3)
	assert.Equal(t, 66.67, m.Items[0].ExecutionPct)
	assert.Equal(t, 100.0, m.Items[1].ExecutionPct)
	assert.Equal(t, 0.0, m.Items[2].ExecutionPct)
	assert.Equal(t, int64(0), m.Items[2].ItemID)
}

func TestSummarizeTransactions(t *testing.T) {
	s := SummarizeTransactions([]Transaction{
		{Status: Pending, Type: Expense},
		{Status: Approved, Type: Expense},
		{Status: Approved, Type: Income},
		{Status: Rejected, Type: Expense},
	})
	assert.Equal(t, TransactionSummary{Total: 4, Pending: 1, Approved: 2, Rejected: 1, Income: 1, Expenses: 1}, s)
}

func TestBarWidth(t *testing.T) {
	cases := map[float64]int{-3: 0, 0: 0, 0.4: 2, 49.6: 50, 100: 100, 130: 100}
	for in, want := range cases {
		assert.Equal(t, want, BarWidth(in), "pct %v", in)
	}
}
