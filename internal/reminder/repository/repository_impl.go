package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/smallbiznis/tumblebus/internal/reminder/domain"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Reserve(ctx context.Context, db *gorm.DB, item *domain.Reminder) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "enrollment_id"}, {Name: "due_date"}},
			DoNothing: true,
		}).
		Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByKey(ctx context.Context, db *gorm.DB, enrollmentID snowflake.ID, dueDate time.Time) (*domain.Reminder, error) {
	var item domain.Reminder
	err := db.WithContext(ctx).
		Where("enrollment_id = ? AND due_date = ?", enrollmentID, dueDate).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) MarkSent(ctx context.Context, db *gorm.DB, id snowflake.ID, sentAt time.Time) error {
	return db.WithContext(ctx).Model(&domain.Reminder{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     domain.StatusSent,
			"sent_at":    sentAt,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": "",
			"updated_at": sentAt,
		}).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) error {
	return db.WithContext(ctx).Model(&domain.Reminder{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     domain.StatusFailed,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": reason,
			"updated_at": now,
		}).Error
}

func (r *repo) ListByEnrollment(ctx context.Context, db *gorm.DB, enrollmentID snowflake.ID) ([]domain.Reminder, error) {
	var items []domain.Reminder
	err := db.WithContext(ctx).
		Where("enrollment_id = ?", enrollmentID).
		Order("due_date DESC").
		Find(&items).Error
	return items, err
}
