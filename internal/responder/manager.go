package responder

import (
	"context"
	"errors"
	"log"
	"time"

	"dminbox/internal/config"
	"dminbox/internal/models"
	"dminbox/internal/redis"
	"dminbox/internal/service/inbox"
)

const (
	defaultHistoryLimit = 20
	replyTimeout        = 30 * time.Second
)

// Manager runs the auto-reply pipeline: it pulls recent history, asks the
// generator for a reply candidate, and persists the reply when the intent
// classification is confident enough.
type Manager struct {
	inbox      *inbox.Service
	gen        Generator
	cache      *historyCache
	dispatcher *Dispatcher

	minConfidence float64
	historyLimit  int
}

// NewManager wires the responder together. gen may be nil (or a typed-nil
// *OpenAIGenerator), in which case jobs are accepted but produce no replies.
func NewManager(inboxSvc *inbox.Service, gen Generator, cacheClient CacheClient, cfg config.ResponderConfig, dispatcherCfg DispatcherConfig) *Manager {
	if og, ok := gen.(*OpenAIGenerator); ok && og == nil {
		gen = nil
	}
	if rc, ok := cacheClient.(*redis.Client); ok && rc == nil {
		cacheClient = nil
	}
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	m := &Manager{
		inbox:         inboxSvc,
		gen:           gen,
		cache:         newHistoryCache(cacheClient, time.Duration(cfg.HistoryCacheTTL)*time.Minute),
		minConfidence: cfg.MinConfidence,
		historyLimit:  limit,
	}
	m.dispatcher = newDispatcher(dispatcherCfg, m)
	return m
}

// Enabled reports whether a generator is configured.
func (m *Manager) Enabled() bool {
	return m.gen != nil
}

// Enqueue schedules an auto-reply attempt for the conversation. Returns
// ErrDispatcherBusy when the intake queue is full.
func (m *Manager) Enqueue(accountID, conversationID string) error {
	if !m.Enabled() {
		return nil
	}
	return m.dispatcher.Submit(Job{
		Type:           replyJob,
		AccountID:      accountID,
		ConversationID: conversationID,
	})
}

// InvalidateHistory drops the cached history for a conversation. Called after
// writes that bypass the responder, like human replies.
func (m *Manager) InvalidateHistory(ctx context.Context, conversationID string) {
	m.cache.invalidate(ctx, conversationID)
}

func (m *Manager) handleReply(job Job) {
	if !m.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()

	history, err := m.loadHistory(ctx, job.ConversationID)
	if err != nil {
		log.Printf("responder: load history for %s: %v", job.ConversationID, err)
		return
	}
	if len(history) == 0 {
		return
	}
	// A newer job for this conversation already answered, or the operator did.
	if history[len(history)-1].Direction == models.DirectionOutbound {
		return
	}

	reply, err := m.gen.GenerateReply(ctx, history)
	if err != nil {
		log.Printf("responder: generate reply for %s: %v", job.ConversationID, err)
		return
	}
	if reply.Confidence < m.minConfidence {
		debugLog("[responder] skip reply for %s: confidence %.2f below %.2f (intent %s)",
			job.ConversationID, reply.Confidence, m.minConfidence, reply.Intent)
		return
	}

	confidence := reply.Confidence
	_, _, err = m.inbox.ApplyOutbound(ctx, inbox.OutboundEvent{
		ConversationID: job.ConversationID,
		AccountID:      job.AccountID,
		Content:        reply.Content,
		IsAIGenerated:  true,
		Intent:         reply.Intent,
		Confidence:     &confidence,
	})
	if err != nil {
		if errors.Is(err, inbox.ErrNotFound) {
			return
		}
		log.Printf("responder: persist reply for %s: %v", job.ConversationID, err)
		return
	}

	// The cached history predates the reply, and a new inbound may have
	// landed while the generation ran. Drop the entry so the next job
	// reloads from the store instead of skipping on a stale snapshot.
	m.cache.invalidate(ctx, job.ConversationID)
}

func (m *Manager) loadHistory(ctx context.Context, conversationID string) ([]*models.Message, error) {
	if cached, ok := m.cache.get(ctx, conversationID); ok {
		return cached, nil
	}
	history, err := m.inbox.RecentMessages(ctx, conversationID, m.historyLimit)
	if err != nil {
		return nil, err
	}
	m.cache.put(ctx, conversationID, history)
	return history, nil
}
