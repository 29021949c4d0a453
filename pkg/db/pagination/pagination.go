package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
)

var ErrInvalidPageToken = errors.New("invalid_page_token")

type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size,default=20" validate:"gte=1,lte=100"`
}

type Cursor struct {
	ID string `json:"id,omitempty"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token,omitempty"`
	HasMore       bool   `json:"has_more"`
}

func EncodeCursor(id snowflake.ID) string {
	b, err := json.Marshal(Cursor{ID: id.String()})
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeCursor returns 0 for an empty token.
func DecodeCursor(token string) (snowflake.ID, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, ErrInvalidPageToken
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return 0, ErrInvalidPageToken
	}
	id, err := snowflake.ParseString(cursor.ID)
	if err != nil || id <= 0 {
		return 0, ErrInvalidPageToken
	}
	return id, nil
}

// Page trims a result fetched with limit+1 rows and builds the next token
// from the last row kept.
func Page[T any](data []T, limit int, extractID func(T) snowflake.ID) ([]T, PageInfo) {
	if len(data) == 0 || limit <= 0 {
		return data, PageInfo{}
	}

	hasMore := false
	if len(data) > limit {
		hasMore = true
		data = data[:limit]
	}

	info := PageInfo{HasMore: hasMore}
	if hasMore {
		info.NextPageToken = EncodeCursor(extractID(data[len(data)-1]))
	}
	return data, info
}
