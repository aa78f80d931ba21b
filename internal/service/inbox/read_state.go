package inbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dminbox/internal/models"
)

// messageCursor is the ordering key of one message, used as the mark-read
// boundary: everything strictly after it stays unread.
type messageCursor struct {
	orderingAt time.Time
	createdAt  time.Time
	id         string
}

// MarkRead recomputes the conversation's unread_count as the number of inbound
// messages strictly newer than the supplied cursor. The cursor is the id of
// the newest message the client had fetched when it decided to mark read; an
// inbound message that arrived after that snapshot stays counted. With no
// cursor the newest message known at transaction start is used.
func (s *Service) MarkRead(ctx context.Context, accountID, conversationID, asOfMessageID string) (*models.Conversation, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("%w: conversation id is required", ErrValidation)
	}

	var conv *models.Conversation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		// Lock before any other read: the recompute below must count
		// appends committed up to this instant, not up to an earlier
		// snapshot, or a concurrent inbound's increment gets overwritten.
		if err := s.lockConversation(ctx, tx, accountID, conversationID); err != nil {
			return err
		}
		if _, err := s.getConversationTx(ctx, tx, accountID, conversationID); err != nil {
			return err
		}

		cursor, err := s.resolveCursor(ctx, tx, conversationID, asOfMessageID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if cursor == nil {
			// No messages at all: nothing can be unread.
			if _, err := tx.ExecContext(ctx,
				`UPDATE conversations SET unread_count = 0, updated_at = ? WHERE id = ?`,
				now, conversationID,
			); err != nil {
				return fmt.Errorf("reset unread: %w", err)
			}
		} else {
			// Single-statement recompute: atomic relative to the unread
			// increment of a concurrent append, so a message slipping in
			// mid-request is never silently swallowed.
			if _, err := tx.ExecContext(ctx,
				`UPDATE conversations SET unread_count = (
					SELECT COUNT(*) FROM messages
					WHERE conversation_id = ?
					  AND direction = ?
					  AND (`+orderKeyExpr+` > ?
						OR (`+orderKeyExpr+` = ? AND created_at > ?)
						OR (`+orderKeyExpr+` = ? AND created_at = ? AND id > ?))
				), updated_at = ? WHERE id = ?`,
				conversationID, models.DirectionInbound,
				cursor.orderingAt,
				cursor.orderingAt, cursor.createdAt,
				cursor.orderingAt, cursor.createdAt, cursor.id,
				now, conversationID,
			); err != nil {
				return fmt.Errorf("recompute unread: %w", err)
			}
		}

		conv, err = s.getConversationTx(ctx, tx, accountID, conversationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *Service) resolveCursor(ctx context.Context, tx *sql.Tx, conversationID, asOfMessageID string) (*messageCursor, error) {
	var (
		cur       messageCursor
		channelTS sql.NullTime
		err       error
	)
	if asOfMessageID != "" {
		err = tx.QueryRowContext(ctx,
			`SELECT channel_timestamp, created_at, id FROM messages WHERE id = ? AND conversation_id = ?`,
			asOfMessageID, conversationID,
		).Scan(&channelTS, &cur.createdAt, &cur.id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: unknown cursor message", ErrValidation)
		}
	} else {
		err = tx.QueryRowContext(ctx,
			`SELECT channel_timestamp, created_at, id FROM messages WHERE conversation_id = ?
			 ORDER BY `+orderKeyExpr+` DESC, created_at DESC, id DESC LIMIT 1`,
			conversationID,
		).Scan(&channelTS, &cur.createdAt, &cur.id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("resolve cursor: %w", err)
	}
	cur.orderingAt = cur.createdAt
	if channelTS.Valid {
		cur.orderingAt = channelTS.Time
	}
	return &cur, nil
}

// UpdateStatus overwrites the conversation status. Reopening a closed or
// archived conversation is allowed and has no effect on unread_count.
func (s *Service) UpdateStatus(ctx context.Context, accountID, conversationID string, status models.ConversationStatus) (*models.Conversation, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("%w: conversation id is required", ErrValidation)
	}
	if !models.ValidStatus(status) {
		return nil, fmt.Errorf("%w: invalid status %q", ErrValidation, status)
	}

	var conv *models.Conversation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE conversations SET status = ?, updated_at = ? WHERE id = ? AND account_id = ?`,
			status, time.Now().UTC(), conversationID, accountID,
		)
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("status rows affected: %w", err)
		}
		if affected == 0 {
			return ErrNotFound
		}
		conv, err = s.getConversationTx(ctx, tx, accountID, conversationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}
