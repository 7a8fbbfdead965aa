package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var today = time.Date(2024, time.June, 15, 18, 30, 0, 0, time.UTC)

func validExpense() TransactionDraft {
	return TransactionDraft{
		Type:           "expense",
		Amount:         "125000",
		Date:           "2024-06-15",
		DocumentNumber: "F-1001",
		DocumentType:   DocFacturaElectronica,
		ItemID:         "7",
		SubitemID:      "",
		SupplierID:     "3",
	}
}

func TestTransactionDraftBuild(t *testing.T) {
	tx, errs := validExpense().Build(42, today)
	require.Empty(t, errs)
	assert.Equal(t, int64(42), tx.ProjectID)
	assert.Equal(t, Pending, tx.Status)
	assert.True(t, tx.Amount.Equal(NewAmount(125000)))
	require.NotNil(t, tx.ItemID)
	assert.Equal(t, int64(7), *tx.ItemID)
	assert.Nil(t, tx.SubitemID)
	assert.Equal(t, int64(3), tx.SupplierID)
}

func TestTransactionDraftBuildErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*TransactionDraft)
		field  string
	}{
		{"bad type", func(d *TransactionDraft) { d.Type = "transfer" }, "type"},
		{"zero amount", func(d *TransactionDraft) { d.Amount = "0" }, "amount"},
		{"negative amount", func(d *TransactionDraft) { d.Amount = "-10" }, "amount"},
		{"future date", func(d *TransactionDraft) { d.Date = "2024-06-16" }, "date"},
		{"bad date", func(d *TransactionDraft) { d.Date = "15/06/2024" }, "date"},
		{"no document number", func(d *TransactionDraft) { d.DocumentNumber = " " }, "document_number"},
		{"unknown document type", func(d *TransactionDraft) { d.DocumentType = "recibo" }, "document_type"},
		{"no supplier", func(d *TransactionDraft) { d.SupplierID = "" }, "supplier"},
		{"expense without item", func(d *TransactionDraft) { d.ItemID = "" }, "item"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := validExpense()
			tc.mutate(&d)
			_, errs := d.Build(1, today)
			require.Len(t, errs, 1)
			assert.Equal(t, tc.field, errs[0].Field)
		})
	}
}

func TestTransactionDraftIncomeNeedsBankData(t *testing.T) {
	d := validExpense()
	d.Type = "income"
	d.ItemID = ""
	_, errs := d.Build(1, today)
	fields := ErrorsByField(errs)
	assert.Len(t, fields, 2)
	assert.Contains(t, fields, "bank_account")
	assert.Contains(t, fields, "bank_operation")

	d.BankAccount = "12-345"
	d.BankOperation = "OP-9"
	_, errs = d.Build(1, today)
	assert.Empty(t, errs)
}

func TestDraftFromTransactionRoundTrip(t *testing.T) {
	tx, errs := validExpense().Build(1, today)
	require.Empty(t, errs)
	d := DraftFromTransaction(tx)
	assert.Equal(t, "125000", d.Amount)
	assert.Equal(t, "2024-06-15", d.Date)
	assert.Equal(t, "7", d.ItemID)
	assert.Equal(t, "", d.SubitemID)
}
