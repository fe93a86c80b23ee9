package chat_test

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/voicechat-service/internal/character"
	"github.com/book-expert/voicechat-service/internal/chat"
	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Messages []struct {
		Content any    `json:"content"`
		Role    string `json:"role"`
	} `json:"messages"`
	Model string `json:"model"`
}

type fakeEndpoint struct {
	server   *httptest.Server
	captured []capturedRequest
	mu       sync.Mutex
}

func newFakeEndpoint(t *testing.T, status int, contents ...string) *fakeEndpoint {
	t.Helper()

	endpoint := &fakeEndpoint{}
	endpoint.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)

			return
		}

		body, _ := io.ReadAll(r.Body)

		var request capturedRequest
		_ = sonic.Unmarshal(body, &request)

		endpoint.mu.Lock()
		endpoint.captured = append(endpoint.captured, request)
		endpoint.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")

		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"bad request","type":"invalid_request_error"}}`))

			return
		}

		choices := make([]map[string]any, 0, len(contents))
		for index, content := range contents {
			choices = append(choices, map[string]any{
				"index":         index,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			})
		}

		payload, _ := sonic.Marshal(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   request.Model,
			"choices": choices,
		})
		_, _ = w.Write(payload)
	}))

	t.Cleanup(endpoint.server.Close)

	return endpoint
}

func (e *fakeEndpoint) requests() []capturedRequest {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]capturedRequest(nil), e.captured...)
}

type fakeObserver struct {
	kinds []string
	mu    sync.Mutex
}

func (o *fakeObserver) RecordChat(kind string, _ error, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.kinds = append(o.kinds, kind)
}

func testCharacter() character.Character {
	return character.Character{
		Name:        "Luna",
		Personality: "Helpful and empathetic",
		Description: "A caring companion.",
		Voice:       "female-calm",
		Traits:      []string{"Helpful", "Patient"},
		Backstory:   "Built to help.",
	}
}

func TestRoleplayPrompt(t *testing.T) {
	t.Parallel()

	prompt := chat.RoleplayPrompt(testCharacter())

	assert.Contains(t, prompt, "Character Name: Luna ")
	assert.Contains(t, prompt, "Core Traits: Helpful, Patient ")
	assert.Contains(t, prompt, "Speak with a female-calm tone.")
	assert.Contains(t, prompt, "1. Always respond as Luna.")
	assert.NotContains(t, prompt, "<user>")
	assert.Contains(t, chat.ListenPrompt(testCharacter()), "<user>caption</user><response></response>")
}

func TestStripReasoning(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		input string
		want  string
	}{
		{name: "no reasoning", input: "Hello there.", want: "Hello there."},
		{name: "reasoning", input: "<think>plan</think>\n  Hello there. ", want: "Hello there."},
		{name: "multiple tags", input: "a</think>b</think> c", want: "c"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.want, chat.StripReasoning(testCase.input))
		})
	}
}

func TestParseExchange(t *testing.T) {
	t.Parallel()

	exchange, ok := chat.ParseExchange("<user>Hi, how was your day?</user><response>Great, and you?</response>")
	require.True(t, ok)
	assert.Equal(t, "Hi, how was your day?", exchange.User)
	assert.Equal(t, "Great, and you?", exchange.Bot)

	_, ok = chat.ParseExchange("Just some free text")
	assert.False(t, ok)
}

func TestRoleplayer_Reply(t *testing.T) {
	t.Parallel()

	endpoint := newFakeEndpoint(t, http.StatusOK, "<think>consider</think>Hello, friend!")
	observer := &fakeObserver{}

	roleplayer, err := chat.NewRoleplayer(chat.ClientConfig{
		BaseURL:  endpoint.server.URL + "/v1",
		Model:    "qwen3",
		Observer: observer,
	})
	require.NoError(t, err)

	reply, err := roleplayer.Reply(context.Background(), testCharacter(), "Hi Luna", 0)
	require.NoError(t, err)

	assert.Equal(t, "Hello, friend!", reply.Content)
	assert.Equal(t, "chatcmpl-1", reply.Raw.ID)
	assert.Equal(t, []string{chat.KindChat}, observer.kinds)

	requests := endpoint.requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "qwen3", requests[0].Model)
	require.Len(t, requests[0].Messages, 2)
	assert.Equal(t, "system", requests[0].Messages[0].Role)
	assert.Contains(t, requests[0].Messages[0].Content, "Character Name: Luna")
	assert.Equal(t, "Hi Luna", requests[0].Messages[1].Content)
}

func TestRoleplayer_Errors(t *testing.T) {
	t.Parallel()

	_, err := chat.NewRoleplayer(chat.ClientConfig{})
	require.ErrorIs(t, err, chat.ErrModelEmpty)

	endpoint := newFakeEndpoint(t, http.StatusBadRequest)

	roleplayer, err := chat.NewRoleplayer(chat.ClientConfig{BaseURL: endpoint.server.URL + "/v1", Model: "m"})
	require.NoError(t, err)

	_, err = roleplayer.Reply(context.Background(), testCharacter(), "  ", 0)
	require.ErrorIs(t, err, chat.ErrPromptEmpty)

	_, err = roleplayer.Reply(context.Background(), testCharacter(), "Hi", 0)
	require.Error(t, err)

	empty := newFakeEndpoint(t, http.StatusOK)

	roleplayer, err = chat.NewRoleplayer(chat.ClientConfig{BaseURL: empty.server.URL + "/v1", Model: "m"})
	require.NoError(t, err)

	_, err = roleplayer.Reply(context.Background(), testCharacter(), "Hi", 0)
	require.ErrorIs(t, err, chat.ErrNoChoices)
}

func TestListener_Listen(t *testing.T) {
	t.Parallel()

	endpoint := newFakeEndpoint(t, http.StatusOK,
		"malformed answer",
		"<user>Good morning</user><response>Morning! Sleep well?</response>",
	)
	observer := &fakeObserver{}

	listener, err := chat.NewListener(chat.ClientConfig{
		BaseURL:   endpoint.server.URL + "/v1/",
		APIKey:    "test-key",
		Model:     "audio-understanding",
		MaxTokens: 256,
		Observer:  observer,
	})
	require.NoError(t, err)

	wav := []byte("RIFF....WAVEfmt ")

	exchange, err := listener.Listen(context.Background(), testCharacter(), wav)
	require.NoError(t, err)

	assert.Equal(t, "Good morning", exchange.User)
	assert.Equal(t, "Morning! Sleep well?", exchange.Bot)
	assert.False(t, exchange.Fallback)
	assert.Equal(t, []string{chat.KindListen}, observer.kinds)

	requests := endpoint.requests()
	require.Len(t, requests, 1)
	require.Len(t, requests[0].Messages, 2)
	assert.Contains(t, requests[0].Messages[0].Content, "<user>caption</user>")

	parts, ok := requests[0].Messages[1].Content.([]any)
	require.True(t, ok)
	require.Len(t, parts, 1)

	part, ok := parts[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "input_audio", part["type"])

	inputAudio, ok := part["input_audio"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "wav", inputAudio["format"])
	assert.Equal(t, base64.StdEncoding.EncodeToString(wav), inputAudio["data"])
}

func TestListener_FallbackWhenNoChoiceMatches(t *testing.T) {
	t.Parallel()

	endpoint := newFakeEndpoint(t, http.StatusOK, "I heard nothing useful")

	listener, err := chat.NewListener(chat.ClientConfig{BaseURL: endpoint.server.URL + "/v1/", Model: "m"})
	require.NoError(t, err)

	exchange, err := listener.Listen(context.Background(), testCharacter(), []byte("audio"))
	require.NoError(t, err)

	assert.True(t, exchange.Fallback)
	assert.Equal(t, chat.InaudibleCaption, exchange.User)
	assert.Equal(t, chat.InaudibleReply, exchange.Bot)
}

func TestListener_Errors(t *testing.T) {
	t.Parallel()

	_, err := chat.NewListener(chat.ClientConfig{})
	require.ErrorIs(t, err, chat.ErrModelEmpty)

	endpoint := newFakeEndpoint(t, http.StatusBadRequest)

	listener, err := chat.NewListener(chat.ClientConfig{BaseURL: endpoint.server.URL + "/v1/", Model: "m"})
	require.NoError(t, err)

	_, err = listener.Listen(context.Background(), testCharacter(), nil)
	require.ErrorIs(t, err, chat.ErrAudioEmpty)

	_, err = listener.Listen(context.Background(), testCharacter(), []byte("audio"))
	require.Error(t, err)
}
