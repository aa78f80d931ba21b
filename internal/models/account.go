package models

import "time"

// Account is a business account connected to one channel page. Accounts are
// provisioned out of band; the engine only resolves them, never creates them.
type Account struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	ExternalPageID string    `json:"external_page_id"`
	APIKey         string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}
