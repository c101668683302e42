// Package status derives the effective billing status of an enrollment from
// its stored status and payment history.
package status

import (
	"fmt"
	"strings"
	"time"
)

// Stored is the administrative status persisted with an enrollment.
type Stored string

const (
	StoredPending   Stored = "pending"
	StoredActive    Stored = "active"
	StoredInactive  Stored = "inactive"
	StoredCancelled Stored = "cancelled"
)

// Effective is the read-only projection shown to staff.
type Effective string

const (
	EffectivePending   Effective = "pending"
	EffectiveActive    Effective = "active"
	EffectiveInactive  Effective = "inactive"
	EffectiveCancelled Effective = "cancelled"
)

var storedAliases = map[string]Stored{
	"pending":    StoredPending,
	"waitlist":   StoredPending,
	"waitlisted": StoredPending,
	"active":     StoredActive,
	"approved":   StoredActive,
	"inactive":   StoredInactive,
	"cancelled":  StoredCancelled,
	"canceled":   StoredCancelled,
}

// ParseStored normalizes a persisted status value.
func ParseStored(raw string) (Stored, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if s, ok := storedAliases[key]; ok {
		return s, nil
	}
	return "", &InvalidRecordError{Field: "status", Value: raw, Reason: "unknown status"}
}

// ParseEffective accepts an effective status filter value.
func ParseEffective(raw string) (Effective, bool) {
	switch e := Effective(strings.ToLower(strings.TrimSpace(raw))); e {
	case EffectivePending, EffectiveActive, EffectiveInactive, EffectiveCancelled:
		return e, true
	default:
		return "", false
	}
}

// Evaluation is the result of evaluating one record at one instant.
type Evaluation struct {
	Stored    Stored     `json:"stored_status"`
	Effective Effective  `json:"effective_status"`
	NextDue   *time.Time `json:"next_due,omitempty"`
	// DaysUntilDue is nil when no due date applies. Negative means overdue.
	DaysUntilDue *int `json:"days_until_due,omitempty"`
}

// Overdue reports an active record whose next charge is past due.
func (e Evaluation) Overdue() bool {
	return e.Stored == StoredActive && e.Effective == EffectiveInactive
}

func (e Evaluation) OverdueDays() int {
	if !e.Overdue() || e.DaysUntilDue == nil {
		return 0
	}
	return abs(*e.DaysUntilDue)
}

// Message is a short human-readable billing note.
func (e Evaluation) Message() string {
	if e.DaysUntilDue == nil {
		return ""
	}
	days := *e.DaysUntilDue
	switch {
	case e.Overdue():
		return fmt.Sprintf("overdue by %s", plural(abs(days)))
	case days == 0:
		return "due today"
	default:
		return fmt.Sprintf("due in %s", plural(days))
	}
}

// Evaluate computes the effective status. A stored status other than active
// passes through unchanged. An active record with no payment yet stays
// active. Otherwise the record is inactive once now is past lastPayment plus
// one calendar month.
func Evaluate(stored string, lastPayment *time.Time, now time.Time) (Evaluation, error) {
	s, err := ParseStored(stored)
	if err != nil {
		return Evaluation{}, err
	}
	if now.IsZero() {
		return Evaluation{}, &InvalidRecordError{Field: "now", Reason: "zero evaluation time"}
	}

	eval := Evaluation{Stored: s}
	if s != StoredActive {
		eval.Effective = Effective(s)
		return eval, nil
	}
	if lastPayment == nil {
		eval.Effective = EffectiveActive
		return eval, nil
	}
	if lastPayment.IsZero() {
		return Evaluation{}, &InvalidRecordError{Field: "last_payment", Reason: "zero timestamp"}
	}

	nextDue := AddMonths(*lastPayment, 1)
	days := DaysUntil(nextDue, now)
	eval.NextDue = &nextDue
	eval.DaysUntilDue = &days
	if now.After(nextDue) {
		eval.Effective = EffectiveInactive
	} else {
		eval.Effective = EffectiveActive
	}
	return eval, nil
}

// DaysUntil returns ceil((due - now) / 24h).
func DaysUntil(due, now time.Time) int {
	const day = 24 * time.Hour
	d := due.Sub(now)
	n := d / day
	if d%day > 0 {
		n++
	}
	return int(n)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func plural(days int) string {
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}
