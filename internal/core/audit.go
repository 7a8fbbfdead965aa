package core

import (
	"sort"
	"strings"
	"time"
)

const (
	AuditCreation     AuditAction = "creation"
	AuditModification AuditAction = "modification"
	AuditApproval     AuditAction = "approval"
	AuditRejection    AuditAction = "rejection"
	AuditDeletion     AuditAction = "deletion"
)

// AuditActions lists the actions in display order.
var AuditActions = []AuditAction{AuditCreation, AuditModification, AuditApproval, AuditRejection, AuditDeletion}

type (
	AuditAction string

	// AuditLogEntry records one action taken on a transaction.
	AuditLogEntry struct {
		ID            int64
		TransactionID int64
		ProjectID     int64
		UserID        int64
		Username      string
		Action        AuditAction
		At            time.Time
	}

	// AuditFilter selects log entries. Zero fields match everything.
	AuditFilter struct {
		ProjectID int64
		UserID    int64
		Action    AuditAction
		From      time.Time
		To        time.Time
	}
)

func (a AuditAction) Valid() bool {
	for _, v := range AuditActions {
		if v == a {
			return true
		}
	}
	return false
}

func (a AuditAction) Label() string {
	switch a {
	case AuditCreation:
		return "Creación"
	case AuditModification:
		return "Modificación"
	case AuditApproval:
		return "Aprobación"
	case AuditRejection:
		return "Rechazo"
	case AuditDeletion:
		return "Eliminación"
	}
	return string(a)
}

// Match reports whether e passes every set criterion. To is inclusive of
// the whole day.
func (f AuditFilter) Match(e AuditLogEntry) bool {
	if f.ProjectID != 0 && e.ProjectID != f.ProjectID {
		return false
	}
	if f.UserID != 0 && e.UserID != f.UserID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if !f.From.IsZero() && e.At.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.At.Before(f.To.AddDate(0, 0, 1)) {
		return false
	}
	return true
}

// FilterAuditLog returns the entries matching f in their original order.
func FilterAuditLog(entries []AuditLogEntry, f AuditFilter) []AuditLogEntry {
	out := make([]AuditLogEntry, 0, len(entries))
	for _, e := range entries {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// SortAuditLog returns a sorted copy. Unknown keys sort by date. Ties keep
// their original order.
func SortAuditLog(entries []AuditLogEntry, key string, desc bool) []AuditLogEntry {
	out := make([]AuditLogEntry, len(entries))
	copy(out, entries)

	var less func(a, b AuditLogEntry) bool
	switch key {
	case "user":
		less = func(a, b AuditLogEntry) bool { return strings.ToLower(a.Username) < strings.ToLower(b.Username) }
	case "action":
		less = func(a, b AuditLogEntry) bool { return a.Action < b.Action }
	default:
		less = func(a, b AuditLogEntry) bool { return a.At.Before(b.At) }
	}

	sort.SliceStable(out, func(i, j int) bool {
		if desc {
			return less(out[j], out[i])
		}
		return less(out[i], out[j])
	})
	return out
}
