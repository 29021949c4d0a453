package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertEvent reports false when (provider, event_id) already exists.
	InsertEvent(ctx context.Context, db *gorm.DB, event *WebhookEvent) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, eventID string) (*WebhookEvent, error)
	FindEventByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*WebhookEvent, error)
	MarkProcessing(ctx context.Context, db *gorm.DB, id snowflake.ID, eventType string, payload []byte, now time.Time) error
	MarkSucceeded(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) error
	ListEvents(ctx context.Context, db *gorm.DB, filter EventFilter) ([]WebhookEvent, error)
	// ListRecoverable returns FAILED events with a verified signature, oldest first.
	ListRecoverable(ctx context.Context, db *gorm.DB, filter RecoveryFilter) ([]WebhookEvent, error)
}
