package core

import (
	"strconv"
	"strings"
	"time"
)

// DateLayout is the wire and form layout for calendar dates.
const DateLayout = "2006-01-02"

// TransactionDraft is a transaction as submitted from the form.
type TransactionDraft struct {
	Type            string
	Amount          string
	Date            string
	DocumentNumber  string
	DocumentType    string
	ItemID          string
	SubitemID       string
	SupplierID      string
	ExpenseCategory string
	BankAccount     string
	BankOperation   string
}

// Build parses and checks the draft. today bounds the transaction date;
// future dates are rejected. All problems are reported together.
func (d TransactionDraft) Build(projectID int64, today time.Time) (Transaction, []FieldError) {
	var errs []FieldError
	tx := Transaction{
		ProjectID:       projectID,
		Type:            TransactionType(strings.TrimSpace(d.Type)),
		DocumentNumber:  strings.TrimSpace(d.DocumentNumber),
		DocumentType:    strings.TrimSpace(d.DocumentType),
		ExpenseCategory: strings.TrimSpace(d.ExpenseCategory),
		BankAccount:     strings.TrimSpace(d.BankAccount),
		BankOperation:   strings.TrimSpace(d.BankOperation),
		Status:          Pending,
	}

	if !tx.Type.Valid() {
		errs = append(errs, FieldError{Field: "type", Message: "type must be expense or income"})
	}

	amount, err := ParseAmount(d.Amount)
	if err != nil || !amount.IsPositive() {
		errs = append(errs, FieldError{Field: "amount", Message: "amount must be greater than 0"})
	}
	tx.Amount = amount

	date, err := time.Parse(DateLayout, strings.TrimSpace(d.Date))
	switch {
	case err != nil:
		errs = append(errs, FieldError{Field: "date", Message: "date must be YYYY-MM-DD"})
	case date.After(truncateDay(today)):
		errs = append(errs, FieldError{Field: "date", Message: "date cannot be in the future"})
	}
	tx.Date = date

	if tx.DocumentNumber == "" {
		errs = append(errs, FieldError{Field: "document_number", Message: "document number is required"})
	}
	if !validDocumentType(tx.DocumentType) {
		errs = append(errs, FieldError{Field: "document_type", Message: "document type is required"})
	}

	if id, ok := parseID(d.SupplierID); ok {
		tx.SupplierID = id
	} else {
		errs = append(errs, FieldError{Field: "supplier", Message: "supplier is required"})
	}

	if id, ok := parseID(d.ItemID); ok {
		tx.ItemID = &id
	}
	if id, ok := parseID(d.SubitemID); ok {
		tx.SubitemID = &id
	}

	switch tx.Type {
	case Expense:
		if tx.ItemID == nil {
			errs = append(errs, FieldError{Field: "item", Message: ErrMissingBudgetItem.Error()})
		}
	case Income:
		if tx.BankAccount == "" {
			errs = append(errs, FieldError{Field: "bank_account", Message: "bank account is required for income"})
		}
		if tx.BankOperation == "" {
			errs = append(errs, FieldError{Field: "bank_operation", Message: "bank operation number is required for income"})
		}
	}

	return tx, errs
}

// Validate reports the problems Build would find without keeping the result.
func (d TransactionDraft) Validate(today time.Time) []FieldError {
	_, errs := d.Build(0, today)
	return errs
}

// DraftFromTransaction fills the edit form.
func DraftFromTransaction(tx Transaction) TransactionDraft {
	d := TransactionDraft{
		Type:            string(tx.Type),
		Amount:          tx.Amount.String(),
		DocumentNumber:  tx.DocumentNumber,
		DocumentType:    tx.DocumentType,
		ExpenseCategory: tx.ExpenseCategory,
		BankAccount:     tx.BankAccount,
		BankOperation:   tx.BankOperation,
	}
	if !tx.Date.IsZero() {
		d.Date = tx.Date.Format(DateLayout)
	}
	if tx.SupplierID != 0 {
		d.SupplierID = strconv.FormatInt(tx.SupplierID, 10)
	}
	if tx.ItemID != nil {
		d.ItemID = strconv.FormatInt(*tx.ItemID, 10)
	}
	if tx.SubitemID != nil {
		d.SubitemID = strconv.FormatInt(*tx.SubitemID, 10)
	}
	return d
}

func validDocumentType(t string) bool {
	for _, v := range DocumentTypes {
		if v == t {
			return true
		}
	}
	return false
}

func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
