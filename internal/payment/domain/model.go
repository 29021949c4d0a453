package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type WebhookStatus string

const (
	WebhookStatusReceived   WebhookStatus = "RECEIVED"
	WebhookStatusProcessing WebhookStatus = "PROCESSING"
	WebhookStatusSuccess    WebhookStatus = "SUCCESS"
	WebhookStatusFailed     WebhookStatus = "FAILED"
)

// WebhookEvent is the audit and dedup record of one gateway delivery.
// (provider, event_id) is unique when event_id is present.
type WebhookEvent struct {
	ID                snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider          string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_webhook_events_provider_event,priority:1"`
	EventType         string         `json:"event_type" gorm:"type:text;not null;default:''"`
	EventID           *string        `json:"event_id" gorm:"type:text;uniqueIndex:ux_webhook_events_provider_event,priority:2"`
	Payload           datatypes.JSON `json:"payload" gorm:"type:text;not null"`
	SignatureVerified bool           `json:"signature_verified" gorm:"not null;default:false"`
	Status            WebhookStatus  `json:"status" gorm:"type:text;not null"`
	ErrorMessage      *string        `json:"error_message" gorm:"type:text"`
	Attempts          int            `json:"attempts" gorm:"not null;default:0"`
	ReceivedAt        time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt       *time.Time     `json:"processed_at"`
	UpdatedAt         time.Time      `json:"updated_at" gorm:"not null"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

const (
	EventTypePaymentCaptured       = "payment.captured"
	EventTypePaymentAuthorized     = "payment.authorized"
	EventTypePaymentFailed         = "payment.failed"
	EventTypeOrderPaid             = "order.paid"
	EventTypeRefundCreated         = "refund.created"
	EventTypeRefundProcessed       = "refund.processed"
	EventTypeSubscriptionActivated = "subscription.activated"
	EventTypeSubscriptionCancelled = "subscription.cancelled"
	EventTypeSubscriptionCharged   = "subscription.charged"
)

// PaymentEvent is the canonical event parsed by adapters.
type PaymentEvent struct {
	Provider        string
	ProviderEventID string
	Type            string
	PaymentID       string
	GatewayOrderID  string
	RefundID        string
	SubscriptionID  string
	Amount          int64
	Currency        string
	Status          string
	OccurredAt      time.Time
	RawPayload      []byte
}

// EventFilter selects webhook logs for the admin listing.
type EventFilter struct {
	Provider string
	Status   WebhookStatus
	AfterID  snowflake.ID
	PageSize int
}

// RecoveryFilter selects failed deliveries due for another attempt.
type RecoveryFilter struct {
	UpdatedBefore time.Time
	MaxAttempts   int
	Limit         int
}
