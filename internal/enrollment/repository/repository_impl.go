package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/smallbiznis/tumblebus/internal/enrollment/domain"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func withChildren(db *gorm.DB) *gorm.DB {
	return db.Preload("Children", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("position asc")
	})
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, e *domain.Enrollment) error {
	return db.WithContext(ctx).Create(e).Error
}

func (r *repo) first(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Enrollment, error) {
	var items []domain.Enrollment
	err := withChildren(db.WithContext(ctx)).
		Where(query, args...).
		Limit(1).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Enrollment, error) {
	return r.first(ctx, db, "id = ?", id)
}

func (r *repo) FindByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.Enrollment, error) {
	return r.first(ctx, db, "email = ?", email)
}

func (r *repo) FindByCheckoutReference(ctx context.Context, db *gorm.DB, provider, reference string) (*domain.Enrollment, error) {
	return r.first(ctx, db, "checkout_provider = ? AND checkout_reference = ?", provider, reference)
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Enrollment, error) {
	var items []domain.Enrollment
	stmt := withChildren(db.WithContext(ctx)).Model(&domain.Enrollment{})
	if len(filter.Statuses) > 0 {
		stmt = stmt.Where("status IN ?", filter.Statuses)
	}
	if filter.WithPayment {
		stmt = stmt.Where("last_payment_at IS NOT NULL")
	}
	// Snowflake ids preserve insertion order, which directory sorting
	// relies on for ties.
	if err := stmt.Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, e *domain.Enrollment, replaceChildren bool) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Save(e).Error; err != nil {
			return err
		}
		if !replaceChildren {
			return nil
		}
		if err := tx.Where("enrollment_id = ?", e.ID).Delete(&domain.Child{}).Error; err != nil {
			return err
		}
		if len(e.Children) == 0 {
			return nil
		}
		return tx.Create(&e.Children).Error
	})
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE enrollments SET status = ?, updated_at = ? WHERE id = ?`,
		status, now, id,
	).Error
}

func (r *repo) UpdatePayment(ctx context.Context, db *gorm.DB, id snowflake.ID, paidAt time.Time, status string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE enrollments SET last_payment_at = ?, status = ?, updated_at = ? WHERE id = ?`,
		paidAt, status, now, id,
	).Error
}

func (r *repo) MarkReviewed(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE enrollments SET is_new = ?, reviewed_at = ?, updated_at = ? WHERE id = ?`,
		false, now, now, id,
	).Error
}

func (r *repo) ExpireNewFlags(ctx context.Context, db *gorm.DB, enrolledBefore, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE enrollments SET is_new = ?, updated_at = ? WHERE is_new = ? AND enrolled_at < ?`,
		false, now, true, enrolledBefore,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	var deleted bool
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`DELETE FROM enrollment_children WHERE enrollment_id = ?`, id).Error; err != nil {
			return err
		}
		res := tx.Exec(`DELETE FROM enrollments WHERE id = ?`, id)
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	return deleted, err
}
