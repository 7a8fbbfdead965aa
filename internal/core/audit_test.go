package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d, h int) time.Time {
	return time.Date(2024, time.March, d, h, 0, 0, 0, time.UTC)
}

func auditFixture() []AuditLogEntry {
	return []AuditLogEntry{
		{ID: 1, ProjectID: 1, UserID: 10, Username: "carla", Action: AuditCreation, At: day(1, 9)},
		{ID: 2, ProjectID: 1, UserID: 11, Username: "Bruno", Action: AuditApproval, At: day(2, 12)},
		{ID: 3, ProjectID: 2, UserID: 10, Username: "carla", Action: AuditDeletion, At: day(3, 23)},
		{ID: 4, ProjectID: 1, UserID: 12, Username: "ana", Action: AuditApproval, At: day(5, 8)},
	}
}

func ids(entries []AuditLogEntry) []int64 {
	out := make([]int64, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func TestFilterAuditLog(t *testing.T) {
	entries := auditFixture()

	cases := []struct {
		name   string
		filter AuditFilter
		want   []int64
	}{
		{"zero filter", AuditFilter{}, []int64{1, 2, 3, 4}},
		{"by project", AuditFilter{ProjectID: 1}, []int64{1, 2, 4}},
		{"by user", AuditFilter{UserID: 10}, []int64{1, 3}},
		{"by action", AuditFilter{Action: AuditApproval}, []int64{2, 4}},
		{"to covers the whole day", AuditFilter{To: day(3, 0)}, []int64{1, 2, 3}},
		{"range", AuditFilter{From: day(2, 0), To: day(3, 0)}, []int64{2, 3}},
		{"combined", AuditFilter{ProjectID: 1, Action: AuditApproval, From: day(4, 0)}, []int64{4}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ids(FilterAuditLog(entries, tc.filter)))
		})
	}
}

func TestSortAuditLog(t *testing.T) {
	entries := auditFixture()

	assert.Equal(t, []int64{4, 3, 2, 1}, ids(SortAuditLog(entries, "date", true)))
	assert.Equal(t, []int64{1, 2, 3, 4}, ids(SortAuditLog(entries, "bogus", false)))
	assert.Equal(t, []int64{4, 2, 1, 3}, ids(SortAuditLog(entries, "user", false)))
	// approval < creation < deletion; ties keep input order
	assert.Equal(t, []int64{2, 4, 1, 3}, ids(SortAuditLog(entries, "action", false)))

	require.Equal(t, []int64{1, 2, 3, 4}, ids(entries), "input must not be reordered")
}

func TestAuditActionLabels(t *testing.T) {
	for _, a := range AuditActions {
		assert.True(t, a.Valid())
		assert.NotEqual(t, string(a), a.Label())
	}
	assert.False(t, AuditAction("export").Valid())
}
