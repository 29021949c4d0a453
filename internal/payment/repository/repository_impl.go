package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider string, eventID string) (*domain.WebhookEvent, error) {
	var item domain.WebhookEvent
	err := db.WithContext(ctx).
		Where("provider = ? AND event_id = ?", provider, eventID).
		Take(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) FindEventByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.WebhookEvent, error) {
	var item domain.WebhookEvent
	err := db.WithContext(ctx).Where("id = ?", id).Take(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

// MarkProcessing records a verified attempt and replaces the stored payload
// with the verified bytes.
func (r *repo) MarkProcessing(ctx context.Context, db *gorm.DB, id snowflake.ID, eventType string, payload []byte, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET status = ?, event_type = ?, payload = ?, signature_verified = ?,
		     attempts = attempts + 1, error_message = NULL, updated_at = ?
		 WHERE id = ?`,
		domain.WebhookStatusProcessing,
		eventType,
		string(payload),
		true,
		now,
		id,
	).Error
}

func (r *repo) MarkSucceeded(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET status = ?, error_message = NULL, processed_at = ?, updated_at = ?
		 WHERE id = ?`,
		domain.WebhookStatusSuccess,
		now,
		now,
		id,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET status = ?, error_message = ?, updated_at = ?
		 WHERE id = ?`,
		domain.WebhookStatusFailed,
		reason,
		now,
		id,
	).Error
}

func (r *repo) ListEvents(ctx context.Context, db *gorm.DB, filter domain.EventFilter) ([]domain.WebhookEvent, error) {
	q := db.WithContext(ctx).Model(&domain.WebhookEvent{})
	if filter.Provider != "" {
		q = q.Where("provider = ?", filter.Provider)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.AfterID != 0 {
		q = q.Where("id < ?", filter.AfterID)
	}
	if filter.PageSize > 0 {
		q = q.Limit(filter.PageSize)
	}

	var items []domain.WebhookEvent
	if err := q.Order("id DESC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListRecoverable(ctx context.Context, db *gorm.DB, filter domain.RecoveryFilter) ([]domain.WebhookEvent, error) {
	q := db.WithContext(ctx).
		Model(&domain.WebhookEvent{}).
		Where("status = ? AND signature_verified = ? AND updated_at <= ?", domain.WebhookStatusFailed, true, filter.UpdatedBefore)
	if filter.MaxAttempts > 0 {
		q = q.Where("attempts < ?", filter.MaxAttempts)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var items []domain.WebhookEvent
	if err := q.Order("updated_at ASC, id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
