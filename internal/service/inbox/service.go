package inbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"dminbox/internal/models"
)

var (
	// ErrNotFound covers conversations that do not exist or belong to another
	// account; callers cannot tell those cases apart.
	ErrNotFound = errors.New("conversation not found")
	// ErrValidation marks caller input rejected before any transaction.
	ErrValidation = errors.New("validation failed")
	// ErrTransient is returned once the bounded retry budget for storage
	// timeouts and deadlocks is exhausted; the caller may retry the call.
	ErrTransient = errors.New("transient storage error")
	// ErrConflict marks a concurrent duplicate write that still collides
	// after the transaction was re-run against the winner's rows.
	ErrConflict = errors.New("conflicting concurrent write")
)

const (
	maxTxAttempts  = 3
	retryBaseDelay = 25 * time.Millisecond

	previewRuneLimit = 100

	// Display-ordering instant: channel timestamp when present, receipt
	// time otherwise. Ties break on (created_at, id).
	orderKeyExpr = "COALESCE(channel_timestamp, created_at)"
)

// Service is the conversation & message synchronization engine. Every mutation
// runs as a single transaction scoped to the affected conversation row.
type Service struct {
	db *sql.DB
	// rowLock is the locking-read clause for the configured driver. mysql
	// needs it so a mark-read recompute reads past its REPEATABLE READ
	// snapshot; sqlite serializes writers on its single pooled connection.
	rowLock string
}

func NewService(db *sql.DB, driver string) *Service {
	s := &Service{db: db}
	if strings.ToLower(driver) == "mysql" {
		s.rowLock = " FOR UPDATE"
	}
	return s
}

// withTx runs fn inside a transaction, retrying transient storage failures a
// bounded number of times with backoff. fn must be safe to re-run from scratch.
func (s *Service) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBaseDelay << (attempt - 1)):
			}
		}
		err = s.runTx(ctx, fn)
		if err == nil || !isTransient(err) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

func (s *Service) runTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, needle := range []string{
		"database is locked",
		"database table is locked",
		"Deadlock found",
		"Lock wait timeout",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// previewOf truncates message content for the conversation list.
func previewOf(content string) string {
	runes := []rune(content)
	if len(runes) <= previewRuneLimit {
		return content
	}
	return string(runes[:previewRuneLimit]) + "..."
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		m          models.Message
		externalID sql.NullString
		intent     sql.NullString
		confidence sql.NullFloat64
		channelTS  sql.NullTime
	)
	err := row.Scan(
		&m.ID, &m.ConversationID, &externalID, &m.Direction, &m.Content,
		&intent, &confidence, &m.IsAIGenerated, &channelTS, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.ExternalMessageID = externalID.String
	m.Intent = intent.String
	if confidence.Valid {
		v := confidence.Float64
		m.Confidence = &v
	}
	if channelTS.Valid {
		t := channelTS.Time
		m.ChannelTimestamp = &t
	}
	return &m, nil
}

const messageColumns = `id, conversation_id, external_message_id, direction, content,
	intent, confidence, is_ai_generated, channel_timestamp, created_at`

const conversationColumns = `c.id, c.account_id, c.contact_id, c.status, c.unread_count,
	c.last_message_at, c.last_message_preview, c.created_at, c.updated_at,
	ct.id, ct.account_id, ct.external_user_id, ct.username, ct.display_name, ct.avatar_url,
	ct.created_at, ct.updated_at`

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var (
		c           models.Conversation
		ct          models.Contact
		lastAt      sql.NullTime
		preview     sql.NullString
		username    sql.NullString
		displayName sql.NullString
		avatarURL   sql.NullString
	)
	err := row.Scan(
		&c.ID, &c.AccountID, &c.ContactID, &c.Status, &c.UnreadCount,
		&lastAt, &preview, &c.CreatedAt, &c.UpdatedAt,
		&ct.ID, &ct.AccountID, &ct.ExternalUserID, &username, &displayName, &avatarURL,
		&ct.CreatedAt, &ct.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastAt.Valid {
		t := lastAt.Time
		c.LastMessageAt = &t
	}
	c.LastMessagePreview = preview.String
	ct.Username = username.String
	ct.DisplayName = displayName.String
	ct.AvatarURL = avatarURL.String
	c.Contact = &ct
	return &c, nil
}

// lockConversation takes the conversation's row lock as the transaction's
// first read. On mysql this both serializes against concurrent appends and
// keeps the consistent-read snapshot from being established before the lock,
// so later reads in the transaction see every append committed before it.
func (s *Service) lockConversation(ctx context.Context, tx *sql.Tx, accountID, conversationID string) error {
	if s.rowLock == "" {
		return nil
	}
	var id string
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE id = ? AND account_id = ?`+s.rowLock,
		conversationID, accountID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock conversation: %w", err)
	}
	return nil
}

func (s *Service) getConversationTx(ctx context.Context, tx *sql.Tx, accountID, conversationID string) (*models.Conversation, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+conversationColumns+`
		 FROM conversations c JOIN contacts ct ON ct.id = c.contact_id
		 WHERE c.id = ? AND c.account_id = ?`,
		conversationID, accountID,
	)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}
