package responder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"dminbox/internal/config"
	"dminbox/internal/models"

	openai "github.com/sashabaranov/go-openai"
)

// Reply is an auto-reply candidate with its classified intent and the model's
// confidence in that classification.
type Reply struct {
	Content    string  `json:"reply"`
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// Generator produces a reply candidate from recent conversation history,
// newest message last. Implementations must not touch the store; persisting
// the reply is the caller's job.
type Generator interface {
	GenerateReply(ctx context.Context, history []*models.Message) (*Reply, error)
}

const systemPrompt = `You are a customer support assistant answering direct messages for an online store.
Reply to the customer's latest message using the conversation so far.
Answer with a single JSON object and nothing else:
{"reply": "<your reply>", "intent": "<one of: product_inquiry, order_status, general_question, greeting, unknown>", "confidence": <0.0-1.0>}`

// OpenAIGenerator implements Generator over the chat completions API.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIGenerator builds a generator from responder config. Returns nil
// when no API key is configured, which disables auto-reply.
func NewOpenAIGenerator(cfg config.ResponderConfig) *OpenAIGenerator {
	if cfg.APIKey == "" {
		return nil
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}
}

func (g *OpenAIGenerator) GenerateReply(ctx context.Context, history []*models.Message) (*Reply, error) {
	if len(history) == 0 {
		return nil, errors.New("empty history")
	}

	chat := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	chat = append(chat, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, m := range history {
		role := openai.ChatMessageRoleAssistant
		if m.Direction == models.DirectionInbound {
			role = openai.ChatMessageRoleUser
		}
		chat = append(chat, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: chat,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("empty completion")
	}
	return parseReply(resp.Choices[0].Message.Content)
}

// parseReply decodes the model's JSON answer, tolerating code fences.
func parseReply(raw string) (*Reply, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var reply Reply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	if strings.TrimSpace(reply.Content) == "" {
		return nil, errors.New("reply content missing")
	}
	if reply.Intent == "" {
		reply.Intent = "unknown"
	}
	if reply.Confidence < 0 {
		reply.Confidence = 0
	}
	if reply.Confidence > 1 {
		reply.Confidence = 1
	}
	return &reply, nil
}
