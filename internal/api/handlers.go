package api

import (
	"database/sql"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dminbox/internal/auth"
	"dminbox/internal/config"
	"dminbox/internal/models"
	"dminbox/internal/responder"
	"dminbox/internal/service/inbox"
	"dminbox/internal/webhook"
)

// Handler wires HTTP routes to the inbox service, the webhook receiver, and
// the auto-reply pipeline.
type Handler struct {
	inbox     *inbox.Service
	auth      *auth.Service
	responder *responder.Manager
	webhook   config.WebhookConfig
}

// NewHandler constructs a Handler instance.
func NewHandler(inboxSvc *inbox.Service, authSvc *auth.Service, mgr *responder.Manager, webhookCfg config.WebhookConfig) *Handler {
	return &Handler{
		inbox:     inboxSvc,
		auth:      authSvc,
		responder: mgr,
		webhook:   webhookCfg,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/webhooks/instagram", h.verifyWebhook)
	router.POST("/webhooks/instagram", h.receiveWebhook)

	api := router.Group("/api")
	api.Use(h.auth.Middleware())
	api.GET("/conversations", h.listConversations)
	api.GET("/conversations/:id", h.getConversation)
	api.GET("/conversations/:id/messages", h.listMessages)
	api.PATCH("/conversations/:id/status", h.updateStatus)
	api.POST("/conversations/:id/read", h.markRead)
	api.POST("/conversations/:id/reply", h.sendReply)
}

func (h *Handler) authorizedAccountID(c *gin.Context) (string, bool) {
	accountID, ok := auth.AccountIDFromContext(c)
	if !ok || accountID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return "", false
	}
	return accountID, true
}

// respondError maps service errors to HTTP statuses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, inbox.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	case errors.Is(err, inbox.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, inbox.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflicting concurrent write, please retry"})
	case errors.Is(err, inbox.ErrTransient):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage temporarily unavailable, please retry"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func pageParams(c *gin.Context, defaultSize int) (int, int) {
	page := 1
	if raw := c.Query("page"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			page = v
		} else {
			page = 0 // fails validation downstream
		}
	}
	pageSize := defaultSize
	if raw := c.Query("page_size"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			pageSize = v
		} else {
			pageSize = 0
		}
	}
	return page, pageSize
}

// Webhook interface

func (h *Handler) verifyWebhook(c *gin.Context) {
	challenge, err := webhook.VerifyChallenge(
		c.Query("hub.mode"),
		c.Query("hub.verify_token"),
		c.Query("hub.challenge"),
		h.webhook.VerifyToken,
	)
	if err != nil {
		c.String(http.StatusForbidden, "verification failed")
		return
	}
	c.String(http.StatusOK, challenge)
}

// receiveWebhook ingests a signed delivery. Once the signature checks out the
// response is always 200: the channel retries non-2xx deliveries, and our
// ingestion is idempotent, so acknowledging beats a redelivery storm.
func (h *Handler) receiveWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body failed"})
		return
	}
	if err := webhook.VerifySignature(body, c.GetHeader("X-Hub-Signature-256"), h.webhook.AppSecret); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
		return
	}

	payload, err := webhook.Parse(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	for _, ev := range webhook.Events(payload) {
		accountID, err := h.auth.AccountByPageID(c.Request.Context(), ev.PageID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				log.Printf("webhook: no account for page %s, dropping event", ev.PageID)
				continue
			}
			log.Printf("webhook: resolve page %s: %v", ev.PageID, err)
			continue
		}

		msg, conv, err := h.inbox.ApplyInbound(c.Request.Context(), inbox.InboundEvent{
			AccountID:         accountID,
			ExternalUserID:    ev.SenderID,
			Username:          ev.SenderUsername,
			ExternalMessageID: ev.ExternalMessageID,
			Content:           ev.Text,
			ChannelTimestamp:  ev.ChannelTimestamp,
		})
		if err != nil {
			log.Printf("webhook: ingest message %s: %v", ev.ExternalMessageID, err)
			continue
		}

		if h.responder != nil && msg != nil {
			h.responder.InvalidateHistory(c.Request.Context(), conv.ID)
			if err := h.responder.Enqueue(accountID, conv.ID); err != nil {
				log.Printf("webhook: enqueue reply for %s: %v", conv.ID, err)
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Inbox interface

func (h *Handler) listConversations(c *gin.Context) {
	accountID, ok := h.authorizedAccountID(c)
	if !ok {
		return
	}
	page, pageSize := pageParams(c, inbox.DefaultConversationPageSize)
	conversations, meta, err := h.inbox.ListConversations(c.Request.Context(), accountID, page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversations": conversations,
		"meta":          meta,
	})
}

func (h *Handler) getConversation(c *gin.Context) {
	accountID, ok := h.authorizedAccountID(c)
	if !ok {
		return
	}
	conv, err := h.inbox.GetConversation(c.Request.Context(), accountID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func (h *Handler) listMessages(c *gin.Context) {
	accountID, ok := h.authorizedAccountID(c)
	if !ok {
		return
	}
	page, pageSize := pageParams(c, inbox.DefaultMessagePageSize)
	messages, meta, err := h.inbox.ListMessages(c.Request.Context(), accountID, c.Param("id"), page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"meta":     meta,
	})
}

func (h *Handler) updateStatus(c *gin.Context) {
	accountID, ok := h.authorizedAccountID(c)
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	conv, err := h.inbox.UpdateStatus(c.Request.Context(), accountID, c.Param("id"), models.ConversationStatus(req.Status))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func (h *Handler) markRead(c *gin.Context) {
	accountID, ok := h.authorizedAccountID(c)
	if !ok {
		return
	}
	var req struct {
		AsOfMessageID string `json:"as_of_message_id"`
	}
	// An empty body means "read everything currently visible".
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	conv, err := h.inbox.MarkRead(c.Request.Context(), accountID, c.Param("id"), req.AsOfMessageID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func (h *Handler) sendReply(c *gin.Context) {
	accountID, ok := h.authorizedAccountID(c)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	conversationID := c.Param("id")
	msg, conv, err := h.inbox.ApplyOutbound(c.Request.Context(), inbox.OutboundEvent{
		ConversationID: conversationID,
		AccountID:      accountID,
		Content:        req.Content,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if h.responder != nil {
		h.responder.InvalidateHistory(c.Request.Context(), conversationID)
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":      msg,
		"conversation": conv,
	})
}
