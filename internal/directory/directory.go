// Package directory filters and orders enrollments for the staff view.
package directory

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/smallbiznis/tumblebus/internal/enrollment/domain"
	"github.com/smallbiznis/tumblebus/internal/status"
)

const StatusAll = "all"

type SortField string

const (
	SortDefault      SortField = ""
	SortEnrolledAt   SortField = "enrolled_at"
	SortParentName   SortField = "parent_name"
	SortAmount       SortField = "amount"
	SortLastPayment  SortField = "last_payment"
	SortDaysUntilDue SortField = "days_until_due"
)

var (
	ErrInvalidStatusFilter = errors.New("invalid_status_filter")
	ErrInvalidSort         = errors.New("invalid_sort")
)

type Query struct {
	Text      string
	Status    string
	SortBy    string
	SortOrder string
	Now       time.Time
}

type Entry struct {
	Enrollment domain.Enrollment
	Evaluation status.Evaluation
	// Invalid is set when the record's status could not be evaluated.
	Invalid *status.InvalidRecordError
}

type Result struct {
	Entries []Entry
	Invalid []Entry
}

// Run filters records by free text and effective status and sorts them.
// records must be in insertion order; ties keep that order.
func Run(records []domain.Enrollment, q Query) (Result, error) {
	filter, err := parseStatus(q.Status)
	if err != nil {
		return Result{}, err
	}
	sortBy, desc, err := parseSort(q.SortBy, q.SortOrder)
	if err != nil {
		return Result{}, err
	}
	now := q.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	needle := strings.ToLower(strings.TrimSpace(q.Text))

	var valid, invalid []Entry
	for _, rec := range records {
		if !matches(rec, needle) {
			continue
		}
		eval, err := rec.Evaluate(now)
		if err != nil {
			var ire *status.InvalidRecordError
			if !errors.As(err, &ire) {
				return Result{}, err
			}
			invalid = append(invalid, Entry{Enrollment: rec, Invalid: ire})
			continue
		}
		if filter != "" && eval.Effective != filter {
			continue
		}
		valid = append(valid, Entry{Enrollment: rec, Evaluation: eval})
	}

	if sortBy == SortDefault {
		slices.SortStableFunc(valid, compareDefault)
	} else {
		slices.SortStableFunc(valid, compareBy(sortBy, desc))
	}

	res := Result{Entries: valid, Invalid: invalid}
	if filter == "" {
		res.Entries = append(res.Entries, invalid...)
	}
	return res, nil
}

func parseStatus(raw string) (status.Effective, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, StatusAll) {
		return "", nil
	}
	eff, ok := status.ParseEffective(raw)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatusFilter, raw)
	}
	return eff, nil
}

func parseSort(by, order string) (SortField, bool, error) {
	field := SortField(strings.ToLower(strings.TrimSpace(by)))
	switch field {
	case SortDefault, SortEnrolledAt, SortParentName, SortAmount, SortLastPayment, SortDaysUntilDue:
	default:
		return "", false, fmt.Errorf("%w: %q", ErrInvalidSort, by)
	}
	switch strings.ToLower(strings.TrimSpace(order)) {
	case "", "desc":
		return field, true, nil
	case "asc":
		return field, false, nil
	default:
		return "", false, fmt.Errorf("%w: order %q", ErrInvalidSort, order)
	}
}

func matches(rec domain.Enrollment, needle string) bool {
	if needle == "" {
		return true
	}
	fields := []string{rec.ParentName(), rec.Email, rec.Phone}
	for _, c := range rec.Children {
		fields = append(fields, c.Name())
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}

func group(e Entry) int {
	switch {
	case e.Enrollment.IsNew:
		return 0
	case e.Evaluation.Overdue():
		return 1
	default:
		return 2
	}
}

func compareDefault(a, b Entry) int {
	if c := cmp.Compare(group(a), group(b)); c != 0 {
		return c
	}
	return b.Enrollment.EnrolledAt.Compare(a.Enrollment.EnrolledAt)
}

func compareBy(field SortField, desc bool) func(a, b Entry) int {
	return func(a, b Entry) int {
		var c int
		switch field {
		case SortEnrolledAt:
			c = a.Enrollment.EnrolledAt.Compare(b.Enrollment.EnrolledAt)
		case SortParentName:
			c = cmp.Compare(strings.ToLower(a.Enrollment.ParentName()), strings.ToLower(b.Enrollment.ParentName()))
		case SortAmount:
			c = cmp.Compare(a.Enrollment.AmountCents, b.Enrollment.AmountCents)
		case SortLastPayment:
			pa, pb := a.Enrollment.LastPaymentAt, b.Enrollment.LastPaymentAt
			if n, ok := nilsLast(pa == nil, pb == nil); ok {
				return n
			}
			c = pa.Compare(*pb)
		case SortDaysUntilDue:
			da, db := a.Evaluation.DaysUntilDue, b.Evaluation.DaysUntilDue
			if n, ok := nilsLast(da == nil, db == nil); ok {
				return n
			}
			c = cmp.Compare(*da, *db)
		}
		if desc {
			return -c
		}
		return c
	}
}

// nilsLast orders missing values after present ones in both directions.
func nilsLast(aNil, bNil bool) (int, bool) {
	switch {
	case aNil && bNil:
		return 0, true
	case aNil:
		return 1, true
	case bNil:
		return -1, true
	}
	return 0, false
}
