package inbox

import (
	"context"
	"errors"
	"testing"

	"dminbox/internal/models"

	"github.com/google/uuid"
)

func TestNewServiceDriverRowLock(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	// mysql runs mark-read under a locking read so the unread recompute
	// counts appends committed after the transaction's snapshot would have
	// been taken. sqlite serializes writers and rejects FOR UPDATE.
	if got := NewService(db, "mysql").rowLock; got != " FOR UPDATE" {
		t.Fatalf("mysql row lock clause = %q", got)
	}
	if got := NewService(db, "MySQL").rowLock; got != " FOR UPDATE" {
		t.Fatalf("driver name should be case-insensitive, got %q", got)
	}
	if got := NewService(db, "sqlite3").rowLock; got != "" {
		t.Fatalf("sqlite3 should not use a row lock clause, got %q", got)
	}
}

func TestMarkReadWithoutCursorClearsUnread(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, "sqlite3")
	accountID := insertTestAccount(t, db)
	ctx := context.Background()

	var convID string
	for i := 0; i < 3; i++ {
		_, conv, err := svc.ApplyInbound(ctx, inboundFixture(accountID, "user-1", uuid.NewString(), "msg"))
		if err != nil {
			t.Fatalf("apply inbound: %v", err)
		}
		convID = conv.ID
	}

	conv, err := svc.MarkRead(ctx, accountID, convID, "")
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if conv.UnreadCount != 0 {
		t.Fatalf("expected unread_count 0, got %d", conv.UnreadCount)
	}
}

func TestMarkReadWithCursorKeepsNewerUnread(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, "sqlite3")
	accountID := insertTestAccount(t, db)
	ctx := context.Background()

	var ids []string
	var convID string
	for i := 0; i < 3; i++ {
		msg, conv, err := svc.ApplyInbound(ctx, inboundFixture(accountID, "user-1", uuid.NewString(), "msg"))
		if err != nil {
			t.Fatalf("apply inbound: %v", err)
		}
		ids = append(ids, msg.ID)
		convID = conv.ID
	}

	// The client saw the first two messages only.
	conv, err := svc.MarkRead(ctx, accountID, convID, ids[1])
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if conv.UnreadCount != 1 {
		t.Fatalf("expected unread_count 1, got %d", conv.UnreadCount)
	}
}

func TestMarkReadRaceWithNewInbound(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, "sqlite3")
	accountID := insertTestAccount(t, db)
	ctx := context.Background()

	msg, conv, err := svc.ApplyInbound(ctx, inboundFixture(accountID, "user-1", uuid.NewString(), "first"))
	if err != nil {
		t.Fatalf("apply inbound: %v", err)
	}
	// The client snapshots the inbox here, then a new message lands before
	// its mark-read request arrives.
	if _, _, err := svc.ApplyInbound(ctx, inboundFixture(accountID, "user-1", uuid.NewString(), "late arrival")); err != nil {
		t.Fatalf("apply late inbound: %v", err)
	}

	got, err := svc.MarkRead(ctx, accountID, conv.ID, msg.ID)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if got.UnreadCount != 1 {
		t.Fatalf("late arrival swallowed, unread_count = %d", got.UnreadCount)
	}
}

func TestMarkReadUnknownCursor(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, "sqlite3")
	accountID := insertTestAccount(t, db)
	ctx := context.Background()

	_, conv, err := svc.ApplyInbound(ctx, inboundFixture(accountID, "user-1", uuid.NewString(), "msg"))
	if err != nil {
		t.Fatalf("apply inbound: %v", err)
	}

	if _, err := svc.MarkRead(ctx, accountID, conv.ID, uuid.NewString()); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown cursor, got %v", err)
	}
}

func TestMarkReadMissingConversation(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, "sqlite3")
	accountID := insertTestAccount(t, db)

	if _, err := svc.MarkRead(context.Background(), accountID, uuid.NewString(), ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateStatusTransitions(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, "sqlite3")
	accountID := insertTestAccount(t, db)
	ctx := context.Background()

	_, conv, err := svc.ApplyInbound(ctx, inboundFixture(accountID, "user-1", uuid.NewString(), "msg"))
	if err != nil {
		t.Fatalf("apply inbound: %v", err)
	}

	for _, status := range []models.ConversationStatus{
		models.StatusArchived,
		models.StatusClosed,
		models.StatusActive,
	} {
		got, err := svc.UpdateStatus(ctx, accountID, conv.ID, status)
		if err != nil {
			t.Fatalf("set status %s: %v", status, err)
		}
		if got.Status != status {
			t.Fatalf("expected status %s, got %s", status, got.Status)
		}
	}

	// Status changes never touch unread_count.
	got, err := svc.GetConversation(ctx, accountID, conv.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if got.UnreadCount != 1 {
		t.Fatalf("status change altered unread_count: %d", got.UnreadCount)
	}
}

func TestUpdateStatusValidation(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, "sqlite3")
	accountID := insertTestAccount(t, db)
	ctx := context.Background()

	if _, err := svc.UpdateStatus(ctx, accountID, uuid.NewString(), "snoozed"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for bad status, got %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, accountID, uuid.NewString(), models.StatusArchived); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing conversation, got %v", err)
	}
}
