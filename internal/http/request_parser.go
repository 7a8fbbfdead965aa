// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing request data: path IDs, the
// budget editor form and the transaction form.

package http

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"sumarte/internal/core"
)

// pathID parses the named path wildcard as a positive integer.
func pathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return id, nil
}

// formInt returns the trimmed integer value of key, or 0.
func formInt(form url.Values, key string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(form.Get(key)), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

var (
	itemKey    = regexp.MustCompile(`^item\[(\d+)\]\.(id|name|amount|category)$`)
	subitemKey = regexp.MustCompile(`^item\[(\d+)\]\.subitem\[(\d+)\]\.(id|name|amount|category)$`)
)

// maxEditorRows bounds the indices accepted from the editor form.
const maxEditorRows = 500

type draftRow struct {
	item core.ItemDraft
	subs map[int]*core.SubitemDraft
}

// ParseBudgetForm rebuilds the editor drafts from fields named like
// ValidateBudgetStructure reports them: item[i].name,
// item[i].subitem[j].amount and so on. Rows keep the order of their
// indices; gaps left by removed rows are closed.
func ParseBudgetForm(form url.Values) []core.ItemDraft {
	rows := map[int]*draftRow{}
	row := func(i int) *draftRow {
		r, ok := rows[i]
		if !ok {
			r = &draftRow{subs: map[int]*core.SubitemDraft{}}
			rows[i] = r
		}
		return r
	}

	for key := range form {
		value := sanitizeInput(form.Get(key))
		if m := subitemKey.FindStringSubmatch(key); m != nil {
			i, _ := strconv.Atoi(m[1])
			j, _ := strconv.Atoi(m[2])
			if i >= maxEditorRows || j >= maxEditorRows {
				continue
			}
			r := row(i)
			sub, ok := r.subs[j]
			if !ok {
				sub = &core.SubitemDraft{}
				r.subs[j] = sub
			}
			switch m[3] {
			case "id":
				sub.ID = optionalID(value)
			case "name":
				sub.Name = value
			case "amount":
				sub.Amount = value
			case "category":
				sub.Category = value
			}
			continue
		}
		if m := itemKey.FindStringSubmatch(key); m != nil {
			i, _ := strconv.Atoi(m[1])
			if i >= maxEditorRows {
				continue
			}
			r := row(i)
			switch m[2] {
			case "id":
				r.item.ID = optionalID(value)
			case "name":
				r.item.Name = value
			case "amount":
				r.item.Amount = value
			case "category":
				r.item.Category = value
			}
		}
	}

	drafts := make([]core.ItemDraft, 0, len(rows))
	for _, i := range sortedKeys(rows) {
		r := rows[i]
		item := r.item
		for _, j := range sortedKeys(r.subs) {
			item.Subitems = append(item.Subitems, *r.subs[j])
		}
		drafts = append(drafts, item)
	}
	return drafts
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func optionalID(s string) *int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}

// Editor commands sent by the add and remove buttons.
var (
	removeItemCmd    = regexp.MustCompile(`^remove-item-(\d+)$`)
	addSubitemCmd    = regexp.MustCompile(`^add-subitem-(\d+)$`)
	removeSubitemCmd = regexp.MustCompile(`^remove-subitem-(\d+)-(\d+)$`)
)

// ApplyEditorCommand adds or removes an unsaved row. Unknown commands
// leave the drafts unchanged.
func ApplyEditorCommand(drafts []core.ItemDraft, cmd string) []core.ItemDraft {
	index := func(s string) int {
		n, _ := strconv.Atoi(s)
		return n
	}
	switch {
	case cmd == "add-item":
		return append(drafts, core.ItemDraft{})
	case removeItemCmd.MatchString(cmd):
		i := index(removeItemCmd.FindStringSubmatch(cmd)[1])
		if i < len(drafts) {
			return append(drafts[:i:i], drafts[i+1:]...)
		}
	case addSubitemCmd.MatchString(cmd):
		i := index(addSubitemCmd.FindStringSubmatch(cmd)[1])
		if i < len(drafts) {
			drafts[i].Subitems = append(drafts[i].Subitems, core.SubitemDraft{})
		}
	case removeSubitemCmd.MatchString(cmd):
		m := removeSubitemCmd.FindStringSubmatch(cmd)
		i, j := index(m[1]), index(m[2])
		if i < len(drafts) && j < len(drafts[i].Subitems) {
			subs := drafts[i].Subitems
			drafts[i].Subitems = append(subs[:j:j], subs[j+1:]...)
		}
	}
	return drafts
}

// ParseTransactionDraft reads the transaction form.
func ParseTransactionDraft(form url.Values) core.TransactionDraft {
	return core.TransactionDraft{
		Type:            sanitizeInput(form.Get("type")),
		Amount:          sanitizeInput(form.Get("amount")),
		Date:            sanitizeInput(form.Get("date")),
		DocumentNumber:  sanitizeInput(form.Get("document_number")),
		DocumentType:    sanitizeInput(form.Get("document_type")),
		ItemID:          sanitizeInput(form.Get("item_id")),
		SubitemID:       sanitizeInput(form.Get("subitem_id")),
		SupplierID:      sanitizeInput(form.Get("supplier_id")),
		ExpenseCategory: sanitizeInput(form.Get("expense_category")),
		BankAccount:     sanitizeInput(form.Get("bank_account")),
		BankOperation:   sanitizeInput(form.Get("bank_operation")),
	}
}
