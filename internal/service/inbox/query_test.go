package inbox

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestListConversationsOrderingAndMeta(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, "sqlite3")
	accountID := insertTestAccount(t, db)
	ctx := context.Background()

	// Three conversations with controlled last activity via channel timestamps.
	base := time.Now().UTC().Add(-time.Hour)
	var convIDs []string
	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		ev := inboundFixture(accountID, fmt.Sprintf("user-%d", i), uuid.NewString(), fmt.Sprintf("msg %d", i))
		ev.ChannelTimestamp = &ts
		_, conv, err := svc.ApplyInbound(ctx, ev)
		if err != nil {
			t.Fatalf("apply inbound %d: %v", i, err)
		}
		convIDs = append(convIDs, conv.ID)
	}

	page1, meta, err := svc.ListConversations(ctx, accountID, 1, 2)
	if err != nil {
		t.Fatalf("list page 1: %v", err)
	}
	if meta.Total != 3 || meta.Page != 1 || meta.PageSize != 2 {
		t.Fatalf("unexpected meta %+v", meta)
	}
	if !meta.HasNext || meta.HasPrevious {
		t.Fatalf("unexpected meta flags %+v", meta)
	}
	if len(page1) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(page1))
	}
	// Most recent activity first.
	if page1[0].ID != convIDs[2] || page1[1].ID != convIDs[1] {
		t.Fatalf("unexpected ordering: %s, %s", page1[0].ID, page1[1].ID)
	}

	page2, meta, err := svc.ListConversations(ctx, accountID, 2, 2)
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(page2) != 1 || page2[0].ID != convIDs[0] {
		t.Fatalf("unexpected page 2 contents")
	}
	if meta.HasNext || !meta.HasPrevious {
		t.Fatalf("unexpected meta flags on last page %+v", meta)
	}
}

func TestListConversationsScopedToAccount(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, "sqlite3")
	accountA := insertTestAccount(t, db)
	accountB := insertTestAccount(t, db)
	ctx := context.Background()

	if _, _, err := svc.ApplyInbound(ctx, inboundFixture(accountA, "user-1", uuid.NewString(), "hi")); err != nil {
		t.Fatalf("apply inbound: %v", err)
	}

	conversations, meta, err := svc.ListConversations(ctx, accountB, 1, DefaultConversationPageSize)
	if err != nil {
		t.Fatalf("list for other account: %v", err)
	}
	if len(conversations) != 0 || meta.Total != 0 {
		t.Fatalf("account isolation broken: %d conversations", len(conversations))
	}
}

func TestListMessagesPagination(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, "sqlite3")
	accountID := insertTestAccount(t, db)
	ctx := context.Background()

	var convID string
	for i := 0; i < 5; i++ {
		_, conv, err := svc.ApplyInbound(ctx, inboundFixture(accountID, "user-1", uuid.NewString(), fmt.Sprintf("msg %d", i)))
		if err != nil {
			t.Fatalf("apply inbound %d: %v", i, err)
		}
		convID = conv.ID
	}

	messages, meta, err := svc.ListMessages(ctx, accountID, convID, 3, 2)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if meta.Total != 5 || meta.HasNext || !meta.HasPrevious {
		t.Fatalf("unexpected meta %+v", meta)
	}
	if len(messages) != 1 || messages[0].Content != "msg 4" {
		t.Fatalf("unexpected last page: %+v", messages)
	}

	// A page past the end is empty, not an error.
	messages, _, err = svc.ListMessages(ctx, accountID, convID, 9, 2)
	if err != nil {
		t.Fatalf("list past end: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("expected empty page, got %d messages", len(messages))
	}
}

func TestListMessagesChannelTimestampOrdering(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, "sqlite3")
	accountID := insertTestAccount(t, db)
	ctx := context.Background()

	newer := time.Now().UTC().Add(-time.Minute)
	older := newer.Add(-time.Hour)

	evNew := inboundFixture(accountID, "user-1", uuid.NewString(), "second")
	evNew.ChannelTimestamp = &newer
	_, conv, err := svc.ApplyInbound(ctx, evNew)
	if err != nil {
		t.Fatalf("apply newer: %v", err)
	}
	evOld := inboundFixture(accountID, "user-1", uuid.NewString(), "first")
	evOld.ChannelTimestamp = &older
	if _, _, err := svc.ApplyInbound(ctx, evOld); err != nil {
		t.Fatalf("apply older: %v", err)
	}

	messages, _, err := svc.ListMessages(ctx, accountID, conv.ID, 1, DefaultMessagePageSize)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	// Channel order wins over arrival order.
	if messages[0].Content != "first" || messages[1].Content != "second" {
		t.Fatalf("unexpected order: %q then %q", messages[0].Content, messages[1].Content)
	}
}

func TestListMessagesForeignConversation(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, "sqlite3")
	owner := insertTestAccount(t, db)
	intruder := insertTestAccount(t, db)
	ctx := context.Background()

	_, conv, err := svc.ApplyInbound(ctx, inboundFixture(owner, "user-1", uuid.NewString(), "hi"))
	if err != nil {
		t.Fatalf("apply inbound: %v", err)
	}

	if _, _, err := svc.ListMessages(ctx, intruder, conv.ID, 1, DefaultMessagePageSize); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPageValidation(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, "sqlite3")
	accountID := insertTestAccount(t, db)
	ctx := context.Background()

	if _, _, err := svc.ListConversations(ctx, accountID, 0, 20); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for page 0, got %v", err)
	}
	if _, _, err := svc.ListConversations(ctx, accountID, 1, 0); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for page_size 0, got %v", err)
	}
	if _, _, err := svc.ListConversations(ctx, accountID, 1, MaxPageSize+1); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for oversized page_size, got %v", err)
	}
}

func TestRecentMessagesChronological(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, "sqlite3")
	accountID := insertTestAccount(t, db)
	ctx := context.Background()

	var convID string
	for i := 0; i < 4; i++ {
		_, conv, err := svc.ApplyInbound(ctx, inboundFixture(accountID, "user-1", uuid.NewString(), fmt.Sprintf("msg %d", i)))
		if err != nil {
			t.Fatalf("apply inbound %d: %v", i, err)
		}
		convID = conv.ID
	}

	messages, err := svc.RecentMessages(ctx, convID, 2)
	if err != nil {
		t.Fatalf("recent messages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Content != "msg 2" || messages[1].Content != "msg 3" {
		t.Fatalf("unexpected window: %q, %q", messages[0].Content, messages[1].Content)
	}
}
