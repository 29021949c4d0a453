package domain

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
)

// IngestResult describes how a delivery was handled once its signature verified.
type IngestResult struct {
	EventID   snowflake.ID  `json:"event_id"`
	Status    WebhookStatus `json:"status"`
	Duplicate bool          `json:"duplicate"`
}

type ListEventsResponse struct {
	Events        []WebhookEvent `json:"events"`
	NextPageToken string         `json:"next_page_token,omitempty"`
	HasMore       bool           `json:"has_more"`
}

type ListEventsRequest struct {
	Provider  string `form:"provider"`
	Status    string `form:"status" validate:"omitempty,oneof=RECEIVED PROCESSING SUCCESS FAILED"`
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size,default=20" validate:"gte=1,lte=100"`
}

type WebhookService interface {
	Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) (*IngestResult, error)
	Retry(ctx context.Context, eventID string) (*IngestResult, error)
	List(ctx context.Context, req ListEventsRequest) (*ListEventsResponse, error)
}
