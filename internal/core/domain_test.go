package core

import "testing"

func TestProjectStatusValid(t *testing.T) {
	cases := []struct {
		s  ProjectStatus
		ok bool
	}{
		{ProjectInactive, true},
		{ProjectActive, true},
		{ProjectPaused, true},
		{ProjectCompleted, true},
		{ProjectClosed, true},
		{"en_rendicion", false},
		{"", false},
	}
	for i, tc := range cases {
		if got := tc.s.Valid(); got != tc.ok {
			t.Fatalf("case %d (%q) expected %v, got %v", i, tc.s, tc.ok, got)
		}
	}
}

func TestTransactionEnums(t *testing.T) {
	if !Expense.Valid() || !Income.Valid() || TransactionType("transfer").Valid() {
		t.Fatalf("unexpected transaction type validity")
	}
	if !Pending.Valid() || !Approved.Valid() || !Rejected.Valid() || TransactionStatus("draft").Valid() {
		t.Fatalf("unexpected transaction status validity")
	}
	if Approved.Label() != "Aprobado" || Income.Label() != "Ingreso" {
		t.Fatalf("unexpected labels")
	}
}

func TestSaldo(t *testing.T) {
	p := Project{TotalBudget: NewAmount(1000000), ExecutedAmount: NewAmount(250000)}
	if !p.Saldo().Equal(NewAmount(750000)) {
		t.Fatalf("project saldo = %s", p.Saldo())
	}
	item := BudgetItem{AssignedAmount: NewAmount(900000), ExecutedAmount: NewAmount(900000)}
	if !item.Saldo().IsZero() {
		t.Fatalf("item saldo = %s", item.Saldo())
	}
}

func TestUserDisplayName(t *testing.T) {
	cases := []struct {
		u    User
		want string
	}{
		{User{Username: "mrojas"}, "mrojas"},
		{User{Username: "mrojas", FirstName: "María", LastName: "Rojas"}, "María Rojas"},
		{User{Username: "mrojas", FirstName: "María"}, "María"},
		{User{Username: "mrojas", LastName: "Rojas"}, "Rojas"},
	}
	for _, tc := range cases {
		if got := tc.u.DisplayName(); got != tc.want {
			t.Fatalf("DisplayName() = %q, want %q", got, tc.want)
		}
	}
}
