package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Reserve inserts r unless a reminder for the same enrollment and due
	// date exists. It reports whether r was inserted.
	Reserve(ctx context.Context, db *gorm.DB, r *Reminder) (bool, error)
	FindByKey(ctx context.Context, db *gorm.DB, enrollmentID snowflake.ID, dueDate time.Time) (*Reminder, error)
	MarkSent(ctx context.Context, db *gorm.DB, id snowflake.ID, sentAt time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) error
	ListByEnrollment(ctx context.Context, db *gorm.DB, enrollmentID snowflake.ID) ([]Reminder, error)
}
