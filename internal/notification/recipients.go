package notification

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrRecipientNotFound = errors.New("recipient_not_found")

// RecipientResolver maps a buyer to the address confirmations go to.
type RecipientResolver interface {
	EmailFor(ctx context.Context, userID snowflake.ID) (string, error)
}

type userRecipients struct {
	db *gorm.DB
}

// NewUserRecipients reads addresses from the users table owned by the
// account service.
func NewUserRecipients(db *gorm.DB) RecipientResolver {
	return &userRecipients{db: db}
}

func (r *userRecipients) EmailFor(ctx context.Context, userID snowflake.ID) (string, error) {
	var email string
	err := r.db.WithContext(ctx).Raw(
		`SELECT email FROM users WHERE id = ? LIMIT 1`,
		userID,
	).Scan(&email).Error
	if err != nil {
		return "", err
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrRecipientNotFound
	}
	return email, nil
}
