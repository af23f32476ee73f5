package nlp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

const systemPrompt = `You are the shopping assistant of Construkt, a construction materials marketplace.
Answer briefly and only about building materials, products, categories, prices and quantities.
Reply with a single JSON object: {"message": string, "intent": string, "confidence": number between 0 and 1}.
Use one of these intents: greeting, product_search, price_inquiry, category_browse, calculation, help, unknown.`

var codeFence = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")

// OpenAIConfig configures an OpenAI-compatible chat completion backend.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	// MaxHistory bounds how many prior turns are sent with each message.
	MaxHistory int
}

// OpenAIClient answers chat messages with an OpenAI-compatible model.
// It keeps no per-owner state; context comes from Request.History.
type OpenAIClient struct {
	client     *openai.Client
	model      string
	timeout    time.Duration
	maxHistory int

	mu       sync.RWMutex
	products map[string]string
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient creates a client from cfg.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxHistory := cfg.MaxHistory
	if maxHistory <= 0 {
		maxHistory = 10
	}
	return &OpenAIClient{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      model,
		timeout:    timeout,
		maxHistory: maxHistory,
		products:   make(map[string]string),
	}
}

// SendMessage asks the model for a JSON answer and normalizes it.
func (c *OpenAIClient) SendMessage(ctx context.Context, req Request) (*Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0.2,
		Messages:    c.buildMessages(req),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		slog.Error("chat completion failed", "error", err,
			"latency_ms", time.Since(start).Milliseconds())
		return nil, errors.Wrap(err, "chat completion failed")
	}
	if len(resp.Choices) == 0 {
		return nil, errors.Wrap(ErrRejected, "empty completion")
	}

	raw, err := parseCompletion(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	slog.Debug("chat completion completed",
		"owner_id", req.OwnerID,
		"latency_ms", time.Since(start).Milliseconds(),
		"tokens", resp.Usage.TotalTokens)
	return Normalize(raw, req.OwnerID)
}

// ClearContext always succeeds; the client holds no conversation state.
func (c *OpenAIClient) ClearContext(context.Context, string) (bool, error) {
	return true, nil
}

// Health reports the configured model.
func (c *OpenAIClient) Health(context.Context) (map[string]any, error) {
	c.mu.RLock()
	known := len(c.products)
	c.mu.RUnlock()
	return map[string]any{
		"status":         "ok",
		"provider":       "openai",
		"model":          c.model,
		"known_products": known,
	}, nil
}

// UpdateProductIntents keeps the product names mentioned in the system
// prompt in step with the catalog.
func (c *OpenAIClient) UpdateProductIntents(_ context.Context, product map[string]any, action string) (bool, error) {
	id := stringOf(product["id"])
	name := stringOf(product["name"])
	if id == "" && name == "" {
		return false, errors.New("product has neither id nor name")
	}
	if id == "" {
		id = name
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch strings.ToLower(action) {
	case "delete", "deleted", "remove":
		delete(c.products, id)
	default:
		c.products[id] = name
	}
	return true, nil
}

func (c *OpenAIClient) buildMessages(req Request) []openai.ChatCompletionMessage {
	messages := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: c.systemPrompt(),
	}}

	history := req.History
	if len(history) > c.maxHistory {
		history = history[len(history)-c.maxHistory:]
	}
	for _, turn := range history {
		role := openai.ChatMessageRoleAssistant
		if turn.IsUser {
			role = openai.ChatMessageRoleUser
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Text})
	}
	return append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Text,
	})
}

func (c *OpenAIClient) systemPrompt() string {
	c.mu.RLock()
	names := make([]string, 0, len(c.products))
	for _, name := range c.products {
		if name != "" {
			names = append(names, name)
		}
	}
	c.mu.RUnlock()

	if len(names) == 0 {
		return systemPrompt
	}
	slices.Sort(names)
	return fmt.Sprintf("%s\nProducts currently in the catalog: %s.", systemPrompt, strings.Join(names, ", "))
}

// parseCompletion extracts the JSON object of a completion, tolerating a
// surrounding markdown code fence. Plain prose becomes the message itself.
func parseCompletion(content string) (map[string]any, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.Wrap(ErrRejected, "empty completion")
	}
	if m := codeFence.FindStringSubmatch(content); len(m) > 1 {
		content = m[1]
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return map[string]any{"message": content}, nil
	}
	return raw, nil
}
