package domain

import "github.com/bwmarrin/snowflake"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Principal is the authenticated caller behind a bearer token.
type Principal struct {
	UserID snowflake.ID
	Role   string
}

// Subject is the casbin subject for the principal.
func (p Principal) Subject() string {
	return "user:" + p.UserID.String()
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}
