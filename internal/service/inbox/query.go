package inbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"dminbox/internal/models"
)

const (
	DefaultConversationPageSize = 20
	DefaultMessagePageSize      = 50
	MaxPageSize                 = 100
)

// Meta carries pagination metadata alongside a page of items.
type Meta struct {
	Total       int  `json:"total"`
	Page        int  `json:"page"`
	PageSize    int  `json:"page_size"`
	HasNext     bool `json:"has_next"`
	HasPrevious bool `json:"has_previous"`
}

func newMeta(total, page, pageSize int) Meta {
	totalPages := 1
	if total > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}
	return Meta{
		Total:       total,
		Page:        page,
		PageSize:    pageSize,
		HasNext:     page < totalPages,
		HasPrevious: page > 1,
	}
}

func validatePage(page, pageSize int) error {
	if page < 1 {
		return fmt.Errorf("%w: page must be >= 1", ErrValidation)
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return fmt.Errorf("%w: page_size must be within [1,%d]", ErrValidation, MaxPageSize)
	}
	return nil
}

// ListConversations returns one page of the account's conversations ordered
// by last activity, conversations without messages last. Reads run outside
// any conversation lock: a page fetched mid-mutation may carry a slightly
// stale unread_count but never a negative one, and never drops a row.
func (s *Service) ListConversations(ctx context.Context, accountID string, page, pageSize int) ([]*models.Conversation, Meta, error) {
	if err := validatePage(page, pageSize); err != nil {
		return nil, Meta{}, err
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE account_id = ?`, accountID,
	).Scan(&total); err != nil {
		return nil, Meta{}, fmt.Errorf("count conversations: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+`
		 FROM conversations c JOIN contacts ct ON ct.id = c.contact_id
		 WHERE c.account_id = ?
		 ORDER BY (c.last_message_at IS NULL), c.last_message_at DESC, c.id
		 LIMIT ? OFFSET ?`,
		accountID, pageSize, (page-1)*pageSize,
	)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]*models.Conversation, 0, pageSize)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, Meta{}, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, Meta{}, err
	}
	return conversations, newMeta(total, page, pageSize), nil
}

// GetConversation returns one conversation scoped to the account. A foreign
// conversation id yields ErrNotFound, indistinguishable from a missing one.
func (s *Service) GetConversation(ctx context.Context, accountID, conversationID string) (*models.Conversation, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("%w: conversation id is required", ErrValidation)
	}
	row := s.db.QueryRowContext(ctx,
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

// ListMessages returns one page of a conversation's messages oldest-first.
// Offset pages are stable for already-fetched ranges since messages never
// move once assigned their ordering key.
func (s *Service) ListMessages(ctx context.Context, accountID, conversationID string, page, pageSize int) ([]*models.Message, Meta, error) {
	if err := validatePage(page, pageSize); err != nil {
		return nil, Meta{}, err
	}

	var owned string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE id = ? AND account_id = ?`,
		conversationID, accountID,
	).Scan(&owned)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, Meta{}, ErrNotFound
		}
		return nil, Meta{}, fmt.Errorf("check conversation: %w", err)
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID,
	).Scan(&total); err != nil {
		return nil, Meta{}, fmt.Errorf("count messages: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ?
		 ORDER BY `+orderKeyExpr+` ASC, created_at ASC, id ASC
		 LIMIT ? OFFSET ?`,
		conversationID, pageSize, (page-1)*pageSize,
	)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0, pageSize)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, Meta{}, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, Meta{}, err
	}
	return messages, newMeta(total, page, pageSize), nil
}

// RecentMessages returns the newest limit messages of a conversation in
// chronological order, for building the responder's prompt context.
func (s *Service) RecentMessages(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = DefaultMessagePageSize
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ?
		 ORDER BY `+orderKeyExpr+` DESC, created_at DESC, id DESC
		 LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
