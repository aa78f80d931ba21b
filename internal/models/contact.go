package models

import "time"

// Contact is the external end-user on the channel side. Profile fields are
// read-mostly and refreshed opportunistically during ingestion.
type Contact struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"account_id"`
	ExternalUserID string    `json:"external_user_id"`
	Username       string    `json:"username,omitempty"`
	DisplayName    string    `json:"display_name,omitempty"`
	AvatarURL      string    `json:"avatar_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
