package webhook

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is the channel's webhook delivery envelope. One delivery can batch
// several messaging events across several pages.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID        string      `json:"id"` // channel page id
	Time      int64       `json:"time"`
	Messaging []Messaging `json:"messaging"`
}

type Messaging struct {
	Sender    Participant   `json:"sender"`
	Recipient Participant   `json:"recipient"`
	Timestamp int64         `json:"timestamp"` // milliseconds since epoch
	Message   *EventMessage `json:"message"`
}

type Participant struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
}

type EventMessage struct {
	MID  string `json:"mid"`
	Text string `json:"text"`
}

// Event is one normalized inbound message extracted from a delivery.
type Event struct {
	PageID            string
	SenderID          string
	SenderUsername    string
	ExternalMessageID string
	Text              string
	ChannelTimestamp  *time.Time
}

// Parse decodes a raw delivery body.
func Parse(body []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Payload{}, fmt.Errorf("decode webhook payload: %w", err)
	}
	return p, nil
}

// Events flattens a payload into normalized inbound events, skipping entries
// without a text message (delivery receipts, reactions, and the like).
func Events(p Payload) []Event {
	var events []Event
	for _, entry := range p.Entry {
		for _, m := range entry.Messaging {
			if m.Message == nil || m.Message.Text == "" {
				continue
			}
			ev := Event{
				PageID:            m.Recipient.ID,
				SenderID:          m.Sender.ID,
				SenderUsername:    m.Sender.Username,
				ExternalMessageID: m.Message.MID,
				Text:              m.Message.Text,
			}
			if ev.PageID == "" {
				ev.PageID = entry.ID
			}
			if m.Timestamp > 0 {
				ts := time.UnixMilli(m.Timestamp).UTC()
				ev.ChannelTimestamp = &ts
			}
			events = append(events, ev)
		}
	}
	return events
}
