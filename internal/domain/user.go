package domain

import (
	"time"
)

// User represents a chat user and their durable agreement state.
type User struct {
	UserID     string     `json:"user_id"`
	Username   string     `json:"username"`
	AgreedAt   *time.Time `json:"agreed_at,omitempty"`
	LastSeenAt time.Time  `json:"last_seen_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// HasAgreed returns true if the user has recorded consent to the terms.
// Consent is consulted before an agent session may be created.
func (u *User) HasAgreed() bool {
	return u.AgreedAt != nil
}
