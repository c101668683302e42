package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	Statuses    []string
	WithPayment bool
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, e *Enrollment) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Enrollment, error)
	FindByEmail(ctx context.Context, db *gorm.DB, email string) (*Enrollment, error)
	FindByCheckoutReference(ctx context.Context, db *gorm.DB, provider, reference string) (*Enrollment, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Enrollment, error)
	Update(ctx context.Context, db *gorm.DB, e *Enrollment, replaceChildren bool) error
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string, now time.Time) error
	UpdatePayment(ctx context.Context, db *gorm.DB, id snowflake.ID, paidAt time.Time, status string, now time.Time) error
	MarkReviewed(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	ExpireNewFlags(ctx context.Context, db *gorm.DB, enrolledBefore, now time.Time) (int64, error)
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
}
