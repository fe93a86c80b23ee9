package chat

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/voicechat-service/internal/character"
	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

const (
	// InaudibleCaption is the caption used when no choice follows the protocol.
	InaudibleCaption = "[inaudible]"
	// InaudibleReply is the apology paired with InaudibleCaption.
	InaudibleReply = "Sorry, I couldn't catch that. Could you repeat more clearly?"

	audioFormatWAV    = "wav"
	exchangeSeparator = "</user><response>"
	userOpenTag       = "<user>"
	responseCloseTag  = "</response>"
)

// ErrAudioEmpty is returned when no audio bytes were supplied.
var ErrAudioEmpty = errors.New("audio cannot be empty")

// Exchange is one understood user utterance and the character's answer.
type Exchange struct {
	User     string
	Bot      string
	Fallback bool
}

// Listener captions recorded speech and answers it in character in a single call.
type Listener struct {
	observer  Observer
	model     string
	client    oai.Client
	maxTokens int
}

// NewListener creates a Listener for the given endpoint.
func NewListener(cfg ClientConfig) (*Listener, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, ErrModelEmpty
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.timeout()}),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Listener{
		observer:  cfg.observer(),
		model:     cfg.Model,
		client:    oai.NewClient(reqOpts...),
		maxTokens: cfg.MaxTokens,
	}, nil
}

// Listen sends the WAV recording and returns the first choice that follows the
// caption/response protocol, or the inaudible fallback when none does.
func (l *Listener) Listen(ctx context.Context, profile character.Character, wav []byte) (Exchange, error) {
	if len(wav) == 0 {
		return Exchange{}, ErrAudioEmpty
	}

	audioPart := oai.InputAudioContentPart(oai.ChatCompletionContentPartInputAudioInputAudioParam{
		Data:   base64.StdEncoding.EncodeToString(wav),
		Format: audioFormatWAV,
	})

	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(l.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(ListenPrompt(profile)),
			oai.UserMessage([]oai.ChatCompletionContentPartUnionParam{audioPart}),
		},
		Temperature: param.NewOpt(0.0),
	}

	if l.maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(l.maxTokens))
	}

	start := time.Now()
	resp, err := l.client.Chat.Completions.New(ctx, params)
	l.observer.RecordChat(KindListen, err, time.Since(start))

	if err != nil {
		return Exchange{}, fmt.Errorf("audio understanding failed: %w", err)
	}

	for _, choice := range resp.Choices {
		exchange, ok := ParseExchange(choice.Message.Content)
		if ok {
			return exchange, nil
		}
	}

	return Exchange{User: InaudibleCaption, Bot: InaudibleReply, Fallback: true}, nil
}

// ParseExchange splits `<user>caption</user><response>reply</response>`.
func ParseExchange(content string) (Exchange, bool) {
	caption, reply, found := strings.Cut(content, exchangeSeparator)
	if !found {
		return Exchange{}, false
	}

	caption = strings.TrimSpace(strings.Replace(strings.TrimSpace(caption), userOpenTag, "", 1))
	reply = strings.TrimSpace(strings.Replace(strings.TrimSpace(reply), responseCloseTag, "", 1))

	return Exchange{User: caption, Bot: reply}, true
}
