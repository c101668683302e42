package directory

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/tumblebus/internal/enrollment/domain"
	"github.com/smallbiznis/tumblebus/internal/status"
)

var now = time.Date(2026, 2, 15, 9, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func rec(id int64, first, st string, enrolled time.Time, paid *time.Time) domain.Enrollment {
	return domain.Enrollment{
		ID:              snowflake.ID(id),
		ParentFirstName: first,
		ParentLastName:  "Parent",
		Email:           first + "@example.com",
		Phone:           "555-01" + first[:1],
		Status:          st,
		EnrolledAt:      enrolled,
		LastPaymentAt:   paid,
	}
}

func ptr(t time.Time) *time.Time { return &t }

func ids(entries []Entry) []int64 {
	out := make([]int64, 0, len(entries))
	for _, e := range entries {
		out = append(out, int64(e.Enrollment.ID))
	}
	return out
}

func fixture() []domain.Enrollment {
	overdue := rec(1, "olga", "active", day(2025, 12, 1), ptr(day(2026, 1, 1)))
	current := rec(2, "carl", "active", day(2026, 1, 10), ptr(day(2026, 2, 10)))
	pending := rec(3, "pia", "pending", day(2026, 2, 1), nil)
	fresh := rec(4, "nina", "active", day(2026, 2, 14), nil)
	fresh.IsNew = true
	cancelled := rec(5, "cora", "cancelled", day(2025, 11, 1), ptr(day(2025, 11, 1)))
	cancelled.Children = []domain.Child{{FirstName: "Milo", LastName: "Parent"}}
	return []domain.Enrollment{overdue, current, pending, fresh, cancelled}
}

func TestRunDefaultOrder(t *testing.T) {
	res, err := Run(fixture(), Query{Now: now})
	require.NoError(t, err)
	// new first, then overdue-and-active, then the rest by enrolled desc
	assert.Equal(t, []int64{4, 1, 3, 2, 5}, ids(res.Entries))
	assert.Empty(t, res.Invalid)
}

func TestRunFiltersByEffectiveStatus(t *testing.T) {
	res, err := Run(fixture(), Query{Status: "active", Now: now})
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 2}, ids(res.Entries))

	res, err = Run(fixture(), Query{Status: "inactive", Now: now})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids(res.Entries))
	assert.Equal(t, status.EffectiveInactive, res.Entries[0].Evaluation.Effective)

	res, err = Run(fixture(), Query{Status: "ALL", Now: now})
	require.NoError(t, err)
	assert.Len(t, res.Entries, 5)

	_, err = Run(fixture(), Query{Status: "paid", Now: now})
	assert.ErrorIs(t, err, ErrInvalidStatusFilter)
}

func TestRunTextSearch(t *testing.T) {
	tests := []struct {
		text string
		want []int64
	}{
		{"OLGA", []int64{1}},
		{"nina@example", []int64{4}},
		{"milo", []int64{5}},
		{"555-01c", []int64{2, 5}},
		{"nobody", []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			res, err := Run(fixture(), Query{Text: tt.text, Now: now})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(res.Entries))
		})
	}
}

func TestRunStableForEqualKeys(t *testing.T) {
	enrolled := day(2026, 1, 5)
	records := []domain.Enrollment{
		rec(10, "amy", "pending", enrolled, nil),
		rec(11, "bob", "pending", enrolled, nil),
		rec(12, "cat", "pending", enrolled, nil),
	}
	res, err := Run(records, Query{Now: now})
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 11, 12}, ids(res.Entries))

	res, err = Run(records, Query{SortBy: "enrolled_at", SortOrder: "asc", Now: now})
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 11, 12}, ids(res.Entries))
}

func TestRunExplicitSort(t *testing.T) {
	res, err := Run(fixture(), Query{SortBy: "parent_name", SortOrder: "asc", Now: now})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 5, 4, 1, 3}, ids(res.Entries))

	res, err = Run(fixture(), Query{SortBy: "days_until_due", SortOrder: "asc", Now: now})
	require.NoError(t, err)
	// records without a due date go last in their original order
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, ids(res.Entries))

	_, err = Run(fixture(), Query{SortBy: "shoe_size", Now: now})
	assert.ErrorIs(t, err, ErrInvalidSort)
}

func TestRunInvalidRecords(t *testing.T) {
	records := fixture()
	broken := rec(6, "bea", "frozen", day(2026, 2, 2), nil)
	records = append([]domain.Enrollment{broken}, records...)

	res, err := Run(records, Query{Now: now})
	require.NoError(t, err)
	require.Len(t, res.Invalid, 1)
	assert.Equal(t, []int64{4, 1, 3, 2, 5, 6}, ids(res.Entries))
	last := res.Entries[len(res.Entries)-1]
	require.NotNil(t, last.Invalid)
	assert.Equal(t, "6", last.Invalid.RecordID)
	assert.ErrorIs(t, last.Invalid, status.ErrInvalidRecord)

	res, err = Run(records, Query{Status: "pending", Now: now})
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ids(res.Entries))
	assert.Len(t, res.Invalid, 1)
}
