package models

import "time"

// Direction tells whether a message came from the customer or went out to them.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Message is one immutable unit of content inside a conversation. Rows are
// append-only; ordering for display is by ChannelTimestamp falling back to
// CreatedAt, with (CreatedAt, ID) as the tie-break.
type Message struct {
	ID                string     `json:"id"`
	ConversationID    string     `json:"conversation_id"`
	ExternalMessageID string     `json:"external_message_id,omitempty"`
	Direction         Direction  `json:"direction"`
	Content           string     `json:"content"`
	Intent            string     `json:"intent,omitempty"`
	Confidence        *float64   `json:"confidence,omitempty"`
	IsAIGenerated     bool       `json:"is_ai_generated"`
	ChannelTimestamp  *time.Time `json:"channel_timestamp,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// OrderingTime is the display-ordering instant: the channel's own timestamp
// when present, the server receipt time otherwise.
func (m *Message) OrderingTime() time.Time {
	if m.ChannelTimestamp != nil {
		return *m.ChannelTimestamp
	}
	return m.CreatedAt
}
