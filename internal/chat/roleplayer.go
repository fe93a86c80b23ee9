package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/voicechat-service/internal/character"
	"github.com/sashabaranov/go-openai"
)

const (
	// KindChat labels text chat calls for observers.
	KindChat = "chat"
	// KindListen labels audio understanding calls for observers.
	KindListen = "listen"

	defaultRequestTimeout = 60 * time.Second
)

var (
	// ErrPromptEmpty is returned when a chat request carries no user text.
	ErrPromptEmpty = errors.New("prompt cannot be empty")
	// ErrNoChoices is returned when the endpoint answers without any choice.
	ErrNoChoices = errors.New("completion returned no choices")
	// ErrModelEmpty is returned when no model is configured.
	ErrModelEmpty = errors.New("model cannot be empty")
)

// Observer receives the outcome and latency of each upstream call.
type Observer interface {
	RecordChat(kind string, err error, duration time.Duration)
}

type nopObserver struct{}

func (nopObserver) RecordChat(string, error, time.Duration) {}

// ClientConfig describes an OpenAI-compatible endpoint.
type ClientConfig struct {
	Observer  Observer
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

func (c ClientConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return defaultRequestTimeout
	}

	return c.Timeout
}

func (c ClientConfig) observer() Observer {
	if c.Observer == nil {
		return nopObserver{}
	}

	return c.Observer
}

// Reply is the in-character answer and the raw upstream response.
type Reply struct {
	Raw     openai.ChatCompletionResponse `json:"raw"`
	Content string                        `json:"content"`
}

// Roleplayer answers text prompts in character.
type Roleplayer struct {
	client    *openai.Client
	observer  Observer
	model     string
	maxTokens int
}

// NewRoleplayer creates a Roleplayer for the given endpoint.
func NewRoleplayer(cfg ClientConfig) (*Roleplayer, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, ErrModelEmpty
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	clientConfig.HTTPClient = &http.Client{Timeout: cfg.timeout()}

	return &Roleplayer{
		client:    openai.NewClientWithConfig(clientConfig),
		observer:  cfg.observer(),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

// Reply sends prompt with the character's system prompt. maxTokens overrides the
// configured limit when positive.
func (r *Roleplayer) Reply(
	ctx context.Context,
	profile character.Character,
	prompt string,
	maxTokens int,
) (Reply, error) {
	if strings.TrimSpace(prompt) == "" {
		return Reply{}, ErrPromptEmpty
	}

	if maxTokens <= 0 {
		maxTokens = r.maxTokens
	}

	req := openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: RoleplayPrompt(profile)},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens: maxTokens,
	}

	start := time.Now()
	resp, err := r.client.CreateChatCompletion(ctx, req)
	r.observer.RecordChat(KindChat, err, time.Since(start))

	if err != nil {
		return Reply{}, fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return Reply{Raw: resp}, ErrNoChoices
	}

	return Reply{
		Raw:     resp,
		Content: StripReasoning(resp.Choices[0].Message.Content),
	}, nil
}
