package tts_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/voicechat-service/internal/core"
	"github.com/book-expert/voicechat-service/internal/tts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPGenerator_Generate_WritesAudio(t *testing.T) {
	t.Parallel()

	var received map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte(testAudioData))
	}))
	defer server.Close()

	generator := tts.NewHTTPGenerator(server.URL, 5*time.Second, createTestLogger(t))
	outPath := filepath.Join(t.TempDir(), "turn.wav")

	err := generator.Generate(context.Background(), core.GenerateRequest{
		Text:                  "[SPEAKER1] Hi [laugh]",
		ScenePrompt:           "A quiet room.",
		NativeSpeakerChunking: true,
		Temperature:           0.3,
		OutPath:               outPath,
	})
	require.NoError(t, err)

	data, readErr := os.ReadFile(outPath)
	require.NoError(t, readErr)
	assert.Equal(t, testAudioData, string(data))

	assert.Equal(t, "[SPEAKER1] Hi <SE>[Laughter]</SE>", received["text"])
	assert.Equal(t, "speaker", received["chunk_method"])
	assert.Equal(t, "A quiet room.", received["scene_prompt"])
}

func TestHTTPGenerator_Generate_ServiceFailureCarriesBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Traceback: out of memory"))
	}))
	defer server.Close()

	generator := tts.NewHTTPGenerator(server.URL, 5*time.Second, createTestLogger(t))
	outPath := filepath.Join(t.TempDir(), "turn.wav")

	err := generator.Generate(context.Background(), core.GenerateRequest{Text: "Hello", OutPath: outPath})

	var outputErr *core.GeneratorOutputError
	require.ErrorAs(t, err, &outputErr)
	assert.Equal(t, "Traceback: out of memory", outputErr.Stderr)
	assert.NoFileExists(t, outPath)
}

func TestHTTPGenerator_Generate_RequiresOutPath(t *testing.T) {
	t.Parallel()

	generator := tts.NewHTTPGenerator("http://127.0.0.1:1", time.Second, createTestLogger(t))

	err := generator.Generate(context.Background(), core.GenerateRequest{Text: "Hello"})
	require.ErrorIs(t, err, tts.ErrOutputPathEmpty)
}

func TestHTTPGenerator_HealthCheck_ServiceUnavailable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	generator := tts.NewHTTPGenerator(server.URL, time.Second, createTestLogger(t))

	err := generator.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check failed")
}
