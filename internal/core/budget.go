package core

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/language"
)

// MsgItemAmountMismatch is reported when an item with subitems states an
// amount other than zero or the subitem total.
const MsgItemAmountMismatch = "if it has subitems, the item amount must be 0 or equal to the subitem total"

const minNameLength = 2

type (
	// ItemDraft is a budget item as typed into the editor. Amounts stay raw
	// so that unparsable input can be reported field by field.
	ItemDraft struct {
		ID       *int64
		Name     string
		Amount   string
		Category string
		Subitems []SubitemDraft
	}

	SubitemDraft struct {
		ID       *int64
		Name     string
		Amount   string
		Category string
	}

	// FieldError ties a message to a form field. An empty Field marks a
	// global error.
	FieldError struct {
		Field   string
		Message string
	}
)

func (e FieldError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ItemField names the field of item i, e.g. "item[0].amount".
func ItemField(i int, field string) string {
	return fmt.Sprintf("item[%d].%s", i, field)
}

// SubitemField names the field of subitem j of item i.
func SubitemField(i, j int, field string) string {
	return fmt.Sprintf("item[%d].subitem[%d].%s", i, j, field)
}

// EffectiveAmount is the subitem sum when subitems exist and the item's own
// amount otherwise. Unparsable amounts count as zero.
func EffectiveAmount(item ItemDraft) Amount {
	if len(item.Subitems) == 0 {
		return ParseAmountOrZero(item.Amount)
	}
	return subitemTotal(item.Subitems)
}

func subitemTotal(subs []SubitemDraft) Amount {
	var total Amount
	for _, s := range subs {
		total = total.Add(ParseAmountOrZero(s.Amount))
	}
	return total
}

// TotalAllocated sums the effective amount of every item.
func TotalAllocated(items []ItemDraft) Amount {
	var total Amount
	for _, item := range items {
		total = total.Add(EffectiveAmount(item))
	}
	return total
}

// ValidateBudgetStructure checks a candidate item list against the project
// budget and returns every violation found. An empty result means the list
// can be submitted.
func ValidateBudgetStructure(projectBudget Amount, items []ItemDraft, locale language.Tag) []FieldError {
	var errs []FieldError

	for i, item := range items {
		if !validName(item.Name) {
			errs = append(errs, FieldError{
				Field:   ItemField(i, "name"),
				Message: fmt.Sprintf("name must have at least %d characters", minNameLength),
			})
		}

		if len(item.Subitems) > 0 {
			sum := subitemTotal(item.Subitems)
			stated, err := ParseAmount(item.Amount)
			if strings.TrimSpace(item.Amount) == "" {
				stated, err = Amount{}, nil
			}
			switch {
			case !sum.IsPositive():
				errs = append(errs, FieldError{Field: ItemField(i, "amount"), Message: "subitem total must be greater than 0"})
			case err != nil || !(stated.IsZero() || stated.Equal(sum)):
				errs = append(errs, FieldError{Field: ItemField(i, "amount"), Message: MsgItemAmountMismatch})
			}
		} else {
			amount, err := ParseAmount(item.Amount)
			if err != nil || !amount.IsPositive() {
				errs = append(errs, FieldError{Field: ItemField(i, "amount"), Message: "amount must be greater than 0"})
			}
		}

		for j, sub := range item.Subitems {
			if !validName(sub.Name) {
				errs = append(errs, FieldError{
					Field:   SubitemField(i, j, "name"),
					Message: fmt.Sprintf("name must have at least %d characters", minNameLength),
				})
			}
			amount, err := ParseAmount(sub.Amount)
			if err != nil || !amount.IsPositive() {
				errs = append(errs, FieldError{Field: SubitemField(i, j, "amount"), Message: "amount must be greater than 0"})
			}
		}
	}

	total := TotalAllocated(items)
	if total.GreaterThan(projectBudget) {
		errs = append(errs, FieldError{
			Message: fmt.Sprintf("total allocated %s exceeds the project budget %s",
				FormatAmount(&total, locale), FormatAmount(&projectBudget, locale)),
		})
	}

	return errs
}

func validName(name string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(name)) >= minNameLength
}

// DraftsFromItems converts persisted items into editor drafts.
func DraftsFromItems(items []BudgetItem) []ItemDraft {
	drafts := make([]ItemDraft, 0, len(items))
	for _, item := range items {
		d := ItemDraft{
			ID:       item.ID,
			Name:     item.Name,
			Amount:   item.AssignedAmount.String(),
			Category: item.Category,
		}
		for _, s := range item.Subitems {
			d.Subitems = append(d.Subitems, SubitemDraft{
				ID:       s.ID,
				Name:     s.Name,
				Amount:   s.AssignedAmount.String(),
				Category: s.Category,
			})
		}
		drafts = append(drafts, d)
	}
	return drafts
}

// ErrorsByField indexes field errors for template lookup. The global error,
// if any, is stored under the empty key.
func ErrorsByField(errs []FieldError) map[string]string {
	m := make(map[string]string, len(errs))
	for _, e := range errs {
		if _, ok := m[e.Field]; !ok {
			m[e.Field] = e.Message
		}
	}
	return m
}
