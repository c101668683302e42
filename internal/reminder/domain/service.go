package domain

import (
	"context"
	"errors"
	"time"
)

// Summary counts one sweep over active enrollments.
type Summary struct {
	Scanned  int `json:"scanned"`
	Sent     int `json:"sent"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	Invalid  int `json:"invalid"`
	Deferred int `json:"deferred"`
}

type SendResult struct {
	Reminder Reminder `json:"reminder"`
	// Delivered is false when the reminder for this due date had already
	// been sent.
	Delivered bool `json:"delivered"`
}

type Service interface {
	// SendDue notifies every active enrollment that is overdue or due within
	// the lead window, at most once per due date.
	SendDue(ctx context.Context, now time.Time) (Summary, error)
	// Send notifies one enrollment for its current due date.
	Send(ctx context.Context, enrollmentID string) (SendResult, error)
	List(ctx context.Context, enrollmentID string) ([]Reminder, error)
}

var (
	ErrNothingDue = errors.New("nothing_due")
	ErrNoEmail    = errors.New("no_recipient_email")
)
