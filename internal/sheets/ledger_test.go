package sheets

import (
	"strings"
	"testing"
	"time"

	"sumarte/internal/core"
)

func ptr(v int64) *int64 { return &v }

func TestBuildLedger(t *testing.T) {
	p := core.Project{
		ID:             1,
		Name:           "Festival: Teatro/Comunitario",
		TotalBudget:    core.NewAmount(1000000),
		ExecutedAmount: core.NewAmount(300000),
	}
	items := []core.BudgetItem{
		{ID: ptr(10), Name: "Producción", Subitems: []core.Subitem{{ID: ptr(11), Name: "Luces"}}},
		{ID: ptr(20), Name: "Difusión"},
	}
	day := func(d int) time.Time { return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC) }
	txs := []core.Transaction{
		{ID: 3, Date: day(5), Type: core.Expense, Status: core.Pending, Amount: core.NewAmount(50000), ItemID: ptr(20)},
		{ID: 1, Date: day(2), Type: core.Expense, Status: core.Approved, Amount: core.NewAmount(300000),
			ItemID: ptr(10), SubitemID: ptr(11), SupplierName: "Luces SpA", DocumentNumber: "F-1"},
		{ID: 2, Date: day(2), Type: core.Income, Status: core.Approved, Amount: core.NewAmount(200000)},
		{ID: 4, Date: day(3), Type: core.Expense, Status: core.Rejected, Amount: core.NewAmount(10000)},
	}

	l := BuildLedger(p, items, txs)

	if l.Title != "1 Festival Teatro Comunitario" {
		t.Errorf("Title = %q", l.Title)
	}
	if strings.Join(l.Rows[0], "|") != strings.Join(LedgerHeader, "|") {
		t.Errorf("header = %v", l.Rows[0])
	}
	// header + 4 transactions + blank + 5 totals
	if len(l.Rows) != 11 {
		t.Fatalf("rows = %d, want 11", len(l.Rows))
	}
	first := l.Rows[1]
	if first[0] != "2026-03-02" || first[6] != "Producción" || first[7] != "Luces" || first[8] != "300000" {
		t.Errorf("first row = %v", first)
	}
	if l.Rows[2][1] != "Ingreso" {
		t.Errorf("same-day rows must follow ID order, got %v", l.Rows[2])
	}
	if l.Rows[4][6] != "Difusión" {
		t.Errorf("last transaction row = %v", l.Rows[4])
	}

	want := map[string]string{
		"Total egresos aprobados":  "300000",
		"Total ingresos aprobados": "200000",
		"Presupuesto":              "1000000",
		"Ejecutado":                "300000",
		"Saldo":                    "700000",
	}
	for _, row := range l.Rows[6:] {
		if len(row) != l.Width() {
			t.Errorf("row width = %d, want %d", len(row), l.Width())
		}
		if w, ok := want[row[0]]; ok && row[8] != w {
			t.Errorf("%s = %s, want %s", row[0], row[8], w)
		}
	}
}

func TestBuildLedgerDoesNotReorderInput(t *testing.T) {
	txs := []core.Transaction{
		{ID: 2, Date: time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)},
		{ID: 1, Date: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	BuildLedger(core.Project{ID: 1, Name: "x"}, nil, txs)
	if txs[0].ID != 2 {
		t.Error("input slice was reordered")
	}
}

func TestLedgerTitleTruncates(t *testing.T) {
	title := LedgerTitle(core.Project{ID: 7, Name: strings.Repeat("ñ", 200)})
	if n := len([]rune(title)); n != maxTitle {
		t.Errorf("title length = %d, want %d", n, maxTitle)
	}
}
