package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"
)

func TestVerifyChallenge(t *testing.T) {
	challenge, err := VerifyChallenge("subscribe", "token-123", "challenge-abc", "token-123")
	if err != nil {
		t.Fatalf("verify challenge: %v", err)
	}
	if challenge != "challenge-abc" {
		t.Fatalf("expected challenge echoed back, got %q", challenge)
	}

	if _, err := VerifyChallenge("unsubscribe", "token-123", "c", "token-123"); !errors.Is(err, ErrVerification) {
		t.Fatalf("expected ErrVerification for bad mode, got %v", err)
	}
	if _, err := VerifyChallenge("subscribe", "wrong", "c", "token-123"); !errors.Is(err, ErrVerification) {
		t.Fatalf("expected ErrVerification for bad token, got %v", err)
	}
	if _, err := VerifyChallenge("subscribe", "", "c", ""); !errors.Is(err, ErrVerification) {
		t.Fatalf("expected ErrVerification for empty tokens, got %v", err)
	}
}

func signBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"object":"instagram"}`)
	secret := "app-secret"

	if err := VerifySignature(body, signBody(body, secret), secret); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	if err := VerifySignature(body, "", secret); !errors.Is(err, ErrSignature) {
		t.Fatalf("expected ErrSignature for missing header, got %v", err)
	}
	if err := VerifySignature(body, "md5=abc", secret); !errors.Is(err, ErrSignature) {
		t.Fatalf("expected ErrSignature for wrong prefix, got %v", err)
	}
	if err := VerifySignature(body, signBody(body, "other-secret"), secret); !errors.Is(err, ErrSignature) {
		t.Fatalf("expected ErrSignature for mismatched secret, got %v", err)
	}
	tampered := append([]byte{}, body...)
	tampered[0] = '['
	if err := VerifySignature(tampered, signBody(body, secret), secret); !errors.Is(err, ErrSignature) {
		t.Fatalf("expected ErrSignature for tampered body, got %v", err)
	}
}

func TestEventsFlattening(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	payload := Payload{
		Object: "instagram",
		Entry: []Entry{
			{
				ID: "page-1",
				Messaging: []Messaging{
					{
						Sender:    Participant{ID: "user-1", Username: "alice"},
						Recipient: Participant{ID: "page-1"},
						Timestamp: ts.UnixMilli(),
						Message:   &EventMessage{MID: "mid-1", Text: "hello"},
					},
					{
						// Delivery receipt, no message body.
						Sender:    Participant{ID: "user-1"},
						Recipient: Participant{ID: "page-1"},
					},
					{
						// Attachment-only message, no text.
						Sender:    Participant{ID: "user-2"},
						Recipient: Participant{ID: "page-1"},
						Message:   &EventMessage{MID: "mid-2"},
					},
				},
			},
			{
				ID: "page-2",
				Messaging: []Messaging{
					{
						Sender:  Participant{ID: "user-3"},
						Message: &EventMessage{MID: "mid-3", Text: "hi"},
					},
				},
			},
		},
	}

	events := Events(payload)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	first := events[0]
	if first.PageID != "page-1" || first.SenderID != "user-1" || first.SenderUsername != "alice" {
		t.Fatalf("unexpected first event %+v", first)
	}
	if first.ExternalMessageID != "mid-1" || first.Text != "hello" {
		t.Fatalf("unexpected first event body %+v", first)
	}
	if first.ChannelTimestamp == nil || !first.ChannelTimestamp.Equal(ts) {
		t.Fatalf("unexpected channel timestamp %v", first.ChannelTimestamp)
	}

	// Missing recipient falls back to the entry's page id; no timestamp means
	// the engine orders by receipt time.
	second := events[1]
	if second.PageID != "page-2" {
		t.Fatalf("expected entry id fallback, got %q", second.PageID)
	}
	if second.ChannelTimestamp != nil {
		t.Fatalf("expected nil channel timestamp, got %v", second.ChannelTimestamp)
	}
}

func TestParse(t *testing.T) {
	payload, err := Parse([]byte(`{"object":"instagram","entry":[{"id":"page-1"}]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if payload.Object != "instagram" || len(payload.Entry) != 1 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if _, err := Parse([]byte("not json")); err == nil {
		t.Fatalf("expected error for malformed body")
	}
}
