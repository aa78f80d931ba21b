package models

import "time"

type ConversationStatus string

const (
	StatusActive   ConversationStatus = "active"
	StatusArchived ConversationStatus = "archived"
	StatusClosed   ConversationStatus = "closed"
)

// ValidStatus reports whether s is one of the operator-settable statuses.
func ValidStatus(s ConversationStatus) bool {
	switch s {
	case StatusActive, StatusArchived, StatusClosed:
		return true
	}
	return false
}

// Conversation is the mutable aggregate for one (account, contact) pair.
// UnreadCount and the last-message fields are denormalized for list rendering
// and kept consistent with the message table inside the append transaction.
type Conversation struct {
	ID                 string             `json:"id"`
	AccountID          string             `json:"account_id"`
	ContactID          string             `json:"contact_id"`
	Status             ConversationStatus `json:"status"`
	UnreadCount        int                `json:"unread_count"`
	LastMessageAt      *time.Time         `json:"last_message_at"`
	LastMessagePreview string             `json:"last_message_preview,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`

	Contact *Contact `json:"contact,omitempty"`
}
