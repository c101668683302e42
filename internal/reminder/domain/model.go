package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	KindUpcoming = "upcoming"
	KindOverdue  = "overdue"

	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"

	ChannelEmail = "email"
)

// Reminder is one payment notice for one due date of one enrollment.
type Reminder struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	EnrollmentID snowflake.ID `gorm:"not null;uniqueIndex:ux_payment_reminders_enrollment_due,priority:1" json:"enrollment_id"`
	DueDate      time.Time    `gorm:"not null;uniqueIndex:ux_payment_reminders_enrollment_due,priority:2" json:"due_date"`
	Kind         string       `gorm:"not null" json:"kind"`
	Channel      string       `gorm:"not null;default:'email'" json:"channel"`
	Recipient    string       `gorm:"not null" json:"recipient"`
	Status       string       `gorm:"not null;index" json:"status"`
	Attempts     int          `gorm:"not null;default:0" json:"attempts"`
	LastError    string       `json:"last_error,omitempty"`
	SentAt       *time.Time   `json:"sent_at,omitempty"`
	CreatedAt    time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null" json:"updated_at"`
}

func (Reminder) TableName() string { return "payment_reminders" }

// DueDay normalizes a due instant to the UTC calendar day used as the
// idempotency key.
func DueDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
