package inbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"dminbox/internal/models"

	"github.com/google/uuid"
)

// InboundEvent is the normalized "customer message arrived" event produced by
// a channel webhook receiver.
type InboundEvent struct {
	AccountID         string
	ExternalUserID    string
	Username          string
	DisplayName       string
	AvatarURL         string
	ExternalMessageID string
	Content           string
	ChannelTimestamp  *time.Time
}

// OutboundEvent is a reply produced by the AI responder or a human operator.
type OutboundEvent struct {
	ConversationID    string
	AccountID         string
	Content           string
	IsAIGenerated     bool
	Intent            string
	Confidence        *float64
	ExternalMessageID string
	ChannelTimestamp  *time.Time
}

// errUniqueRace signals that a concurrent writer won an insert race; the
// whole transaction is re-run so the pre-checks can pick up the winner's row.
var errUniqueRace = errors.New("unique constraint race")

// ApplyInbound appends an inbound message and updates the owning conversation
// aggregate in one transaction: the conversation (and contact) are created on
// first contact, unread_count is incremented, and the last-message fields are
// advanced monotonically. Webhook redeliveries carrying a known
// ExternalMessageID are idempotent no-ops returning the existing message.
func (s *Service) ApplyInbound(ctx context.Context, ev InboundEvent) (*models.Message, *models.Conversation, error) {
	if ev.AccountID == "" {
		return nil, nil, fmt.Errorf("%w: account id is required", ErrValidation)
	}
	if ev.ExternalUserID == "" {
		return nil, nil, fmt.Errorf("%w: external user id is required", ErrValidation)
	}
	if strings.TrimSpace(ev.Content) == "" {
		return nil, nil, fmt.Errorf("%w: content is required", ErrValidation)
	}

	var (
		msg  *models.Message
		conv *models.Conversation
	)
	run := func(tx *sql.Tx) error {
		var err error
		msg, conv, err = s.applyInboundTx(ctx, tx, ev)
		return err
	}
	err := s.withTx(ctx, run)
	if errors.Is(err, errUniqueRace) {
		// Re-run once; the pre-checks now see the concurrently inserted rows.
		err = s.withTx(ctx, run)
		if errors.Is(err, errUniqueRace) {
			err = fmt.Errorf("%w: inbound message %s", ErrConflict, ev.ExternalMessageID)
		}
	}
	if err != nil {
		return nil, nil, err
	}
	return msg, conv, nil
}

func (s *Service) applyInboundTx(ctx context.Context, tx *sql.Tx, ev InboundEvent) (*models.Message, *models.Conversation, error) {
	now := time.Now().UTC()

	contactID, err := s.ensureContact(ctx, tx, ev, now)
	if err != nil {
		return nil, nil, err
	}
	conversationID, err := s.ensureConversation(ctx, tx, ev.AccountID, contactID, now)
	if err != nil {
		return nil, nil, err
	}

	// Idempotent ingestion: a redelivered external id returns the existing row.
	if ev.ExternalMessageID != "" {
		row := tx.QueryRowContext(ctx,
			`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? AND external_message_id = ?`,
			conversationID, ev.ExternalMessageID,
		)
		existing, err := scanMessage(row)
		if err == nil {
			conv, err := s.getConversationTx(ctx, tx, ev.AccountID, conversationID)
			if err != nil {
				return nil, nil, err
			}
			return existing, conv, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("dedup check: %w", err)
		}
	}

	msg := &models.Message{
		ID:                uuid.NewString(),
		ConversationID:    conversationID,
		ExternalMessageID: ev.ExternalMessageID,
		Direction:         models.DirectionInbound,
		Content:           ev.Content,
		ChannelTimestamp:  normalizeTS(ev.ChannelTimestamp),
		CreatedAt:         now,
	}
	if err := insertMessage(ctx, tx, msg); err != nil {
		return nil, nil, err
	}
	if err := advanceLastMessage(ctx, tx, conversationID, msg, now); err != nil {
		return nil, nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET unread_count = unread_count + 1, updated_at = ? WHERE id = ?`,
		now, conversationID,
	); err != nil {
		return nil, nil, fmt.Errorf("increment unread: %w", err)
	}

	conv, err := s.getConversationTx(ctx, tx, ev.AccountID, conversationID)
	if err != nil {
		return nil, nil, err
	}
	return msg, conv, nil
}

// ApplyOutbound appends an outbound message (AI or human authored) to an
// existing conversation. The last-message fields advance monotonically;
// unread_count is untouched.
func (s *Service) ApplyOutbound(ctx context.Context, ev OutboundEvent) (*models.Message, *models.Conversation, error) {
	if ev.AccountID == "" {
		return nil, nil, fmt.Errorf("%w: account id is required", ErrValidation)
	}
	if ev.ConversationID == "" {
		return nil, nil, fmt.Errorf("%w: conversation id is required", ErrValidation)
	}
	if strings.TrimSpace(ev.Content) == "" {
		return nil, nil, fmt.Errorf("%w: content is required", ErrValidation)
	}
	if ev.Confidence != nil && (*ev.Confidence < 0 || *ev.Confidence > 1) {
		return nil, nil, fmt.Errorf("%w: confidence must be within [0,1]", ErrValidation)
	}

	var (
		msg  *models.Message
		conv *models.Conversation
	)
	run := func(tx *sql.Tx) error {
		var err error
		msg, conv, err = s.applyOutboundTx(ctx, tx, ev)
		return err
	}
	err := s.withTx(ctx, run)
	if errors.Is(err, errUniqueRace) {
		err = s.withTx(ctx, run)
		if errors.Is(err, errUniqueRace) {
			err = fmt.Errorf("%w: outbound message %s", ErrConflict, ev.ExternalMessageID)
		}
	}
	if err != nil {
		return nil, nil, err
	}
	return msg, conv, nil
}

func (s *Service) applyOutboundTx(ctx context.Context, tx *sql.Tx, ev OutboundEvent) (*models.Message, *models.Conversation, error) {
	now := time.Now().UTC()

	if _, err := s.getConversationTx(ctx, tx, ev.AccountID, ev.ConversationID); err != nil {
		return nil, nil, err
	}

	if ev.ExternalMessageID != "" {
		row := tx.QueryRowContext(ctx,
			`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? AND external_message_id = ?`,
			ev.ConversationID, ev.ExternalMessageID,
		)
		existing, err := scanMessage(row)
		if err == nil {
			conv, err := s.getConversationTx(ctx, tx, ev.AccountID, ev.ConversationID)
			if err != nil {
				return nil, nil, err
			}
			return existing, conv, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("dedup check: %w", err)
		}
	}

	msg := &models.Message{
		ID:                uuid.NewString(),
		ConversationID:    ev.ConversationID,
		ExternalMessageID: ev.ExternalMessageID,
		Direction:         models.DirectionOutbound,
		Content:           ev.Content,
		Intent:            ev.Intent,
		Confidence:        ev.Confidence,
		IsAIGenerated:     ev.IsAIGenerated,
		ChannelTimestamp:  normalizeTS(ev.ChannelTimestamp),
		CreatedAt:         now,
	}
	if err := insertMessage(ctx, tx, msg); err != nil {
		return nil, nil, err
	}
	if err := advanceLastMessage(ctx, tx, ev.ConversationID, msg, now); err != nil {
		return nil, nil, err
	}

	conv, err := s.getConversationTx(ctx, tx, ev.AccountID, ev.ConversationID)
	if err != nil {
		return nil, nil, err
	}
	return msg, conv, nil
}

func (s *Service) ensureContact(ctx context.Context, tx *sql.Tx, ev InboundEvent, now time.Time) (string, error) {
	var (
		contactID   string
		username    sql.NullString
		displayName sql.NullString
		avatarURL   sql.NullString
	)
	err := tx.QueryRowContext(ctx,
		`SELECT id, username, display_name, avatar_url FROM contacts WHERE account_id = ? AND external_user_id = ?`,
		ev.AccountID, ev.ExternalUserID,
	).Scan(&contactID, &username, &displayName, &avatarURL)
	if errors.Is(err, sql.ErrNoRows) {
		contactID = uuid.NewString()
		_, err = tx.ExecContext(ctx,
			`INSERT INTO contacts (id, account_id, external_user_id, username, display_name, avatar_url, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			contactID, ev.AccountID, ev.ExternalUserID,
			nullString(ev.Username), nullString(ev.DisplayName), nullString(ev.AvatarURL), now, now,
		)
		if err != nil {
			if isDuplicate(err) {
				return "", errUniqueRace
			}
			return "", fmt.Errorf("insert contact: %w", err)
		}
		return contactID, nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup contact: %w", err)
	}

	// Opportunistic profile refresh: only touch the row when something changed.
	if (ev.Username != "" && ev.Username != username.String) ||
		(ev.DisplayName != "" && ev.DisplayName != displayName.String) ||
		(ev.AvatarURL != "" && ev.AvatarURL != avatarURL.String) {
		if _, err := tx.ExecContext(ctx,
			`UPDATE contacts SET
				username = COALESCE(?, username),
				display_name = COALESCE(?, display_name),
				avatar_url = COALESCE(?, avatar_url),
				updated_at = ?
			 WHERE id = ?`,
			nullString(ev.Username), nullString(ev.DisplayName), nullString(ev.AvatarURL), now, contactID,
		); err != nil {
			return "", fmt.Errorf("refresh contact: %w", err)
		}
	}
	return contactID, nil
}

func (s *Service) ensureConversation(ctx context.Context, tx *sql.Tx, accountID, contactID string, now time.Time) (string, error) {
	var conversationID string
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE account_id = ? AND contact_id = ?`,
		accountID, contactID,
	).Scan(&conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		conversationID = uuid.NewString()
		_, err = tx.ExecContext(ctx,
			`INSERT INTO conversations (id, account_id, contact_id, status, unread_count, created_at, updated_at)
			 VALUES (?, ?, ?, ?, 0, ?, ?)`,
			conversationID, accountID, contactID, models.StatusActive, now, now,
		)
		if err != nil {
			if isDuplicate(err) {
				return "", errUniqueRace
			}
			return "", fmt.Errorf("insert conversation: %w", err)
		}
		return conversationID, nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup conversation: %w", err)
	}
	return conversationID, nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, m *models.Message) error {
	var channelTS interface{}
	if m.ChannelTimestamp != nil {
		channelTS = *m.ChannelTimestamp
	}
	var confidence interface{}
	if m.Confidence != nil {
		confidence = *m.Confidence
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, external_message_id, direction, content,
			intent, confidence, is_ai_generated, channel_timestamp, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, nullString(m.ExternalMessageID), m.Direction, m.Content,
		nullString(m.Intent), confidence, m.IsAIGenerated, channelTS, m.CreatedAt,
	)
	if err != nil {
		if isDuplicate(err) {
			return errUniqueRace
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// advanceLastMessage moves the denormalized last-message fields forward, never
// backward: an out-of-order delivery with an older channel timestamp leaves
// the stored value untouched.
func advanceLastMessage(ctx context.Context, tx *sql.Tx, conversationID string, m *models.Message, now time.Time) error {
	orderingAt := m.OrderingTime()
	_, err := tx.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = ?, last_message_preview = ?, updated_at = ?
		 WHERE id = ? AND (last_message_at IS NULL OR last_message_at <= ?)`,
		orderingAt, previewOf(m.Content), now, conversationID, orderingAt,
	)
	if err != nil {
		return fmt.Errorf("advance last message: %w", err)
	}
	return nil
}

func normalizeTS(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry")
}
