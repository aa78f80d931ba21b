package responder

import (
	"testing"
)

func TestParseReply(t *testing.T) {
	reply, err := parseReply(`{"reply":"In stock!","intent":"product_inquiry","confidence":0.91}`)
	if err != nil {
		t.Fatalf("parse reply: %v", err)
	}
	if reply.Content != "In stock!" || reply.Intent != "product_inquiry" || reply.Confidence != 0.91 {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestParseReplyCodeFences(t *testing.T) {
	raw := "```json\n{\"reply\":\"Hi!\",\"intent\":\"greeting\",\"confidence\":0.8}\n```"
	reply, err := parseReply(raw)
	if err != nil {
		t.Fatalf("parse fenced reply: %v", err)
	}
	if reply.Content != "Hi!" || reply.Intent != "greeting" {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestParseReplyDefaultsAndClamping(t *testing.T) {
	reply, err := parseReply(`{"reply":"sure","confidence":1.7}`)
	if err != nil {
		t.Fatalf("parse reply: %v", err)
	}
	if reply.Intent != "unknown" {
		t.Fatalf("expected unknown intent default, got %q", reply.Intent)
	}
	if reply.Confidence != 1 {
		t.Fatalf("expected confidence clamped to 1, got %f", reply.Confidence)
	}

	reply, err = parseReply(`{"reply":"sure","intent":"greeting","confidence":-0.3}`)
	if err != nil {
		t.Fatalf("parse reply: %v", err)
	}
	if reply.Confidence != 0 {
		t.Fatalf("expected confidence clamped to 0, got %f", reply.Confidence)
	}
}

func TestParseReplyRejectsGarbage(t *testing.T) {
	if _, err := parseReply("I think the answer is yes"); err == nil {
		t.Fatalf("expected error for non-JSON reply")
	}
	if _, err := parseReply(`{"intent":"greeting","confidence":0.9}`); err == nil {
		t.Fatalf("expected error for missing reply content")
	}
}
