package tts_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/book-expert/voicechat-service/internal/tts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAudioData = "RIFF....WAVEfake"

func TestHTTPClient_GenerateSpeech_Success(t *testing.T) {
	t.Parallel()

	seed := 7

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/generate/speech", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "audio/wav", r.Header.Get("Accept"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Hello, world!", body["text"])
		assert.InDelta(t, 0.0, body["temperature"], 0.0001)
		assert.InDelta(t, 7.0, body["seed"], 0.0001)
		assert.Equal(t, []any{"/refs/luna"}, body["speaker_ref_paths"])

		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte(testAudioData))
	}))
	defer server.Close()

	client := tts.NewHTTPClient(server.URL+"/", 10*time.Second)

	audioData, err := client.GenerateSpeech(context.Background(), tts.SpeechRequest{
		Seed:            &seed,
		Text:            "Hello, world!",
		SpeakerRefPaths: []string{"/refs/luna"},
		Temperature:     0,
	})
	require.NoError(t, err)
	assert.Equal(t, testAudioData, string(audioData))
}

func TestHTTPClient_GenerateSpeech_EmptyText(t *testing.T) {
	t.Parallel()

	client := tts.NewHTTPClient("http://127.0.0.1:1", time.Second)

	_, err := client.GenerateSpeech(context.Background(), tts.SpeechRequest{Text: "  "})
	require.ErrorIs(t, err, tts.ErrTextEmpty)
}

func TestHTTPClient_GenerateSpeech_ServiceError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"Invalid speaker reference path","error_code":"INVALID_SPEAKER_PATH"}`))
	}))
	defer server.Close()

	client := tts.NewHTTPClient(server.URL, 10*time.Second)

	_, err := client.GenerateSpeech(context.Background(), tts.SpeechRequest{Text: "Hello"})
	require.Error(t, err)

	var serviceErr *tts.ServiceError
	require.ErrorAs(t, err, &serviceErr)
	assert.Equal(t, "Invalid speaker reference path", serviceErr.Detail)
	assert.Equal(t, "INVALID_SPEAKER_PATH", serviceErr.Code)
	assert.Contains(t, err.Error(), "INVALID_SPEAKER_PATH")
}

func TestHTTPClient_GenerateSpeech_PlainTextError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("model crashed"))
	}))
	defer server.Close()

	client := tts.NewHTTPClient(server.URL, 10*time.Second)

	_, err := client.GenerateSpeech(context.Background(), tts.SpeechRequest{Text: "Hello"})

	var serviceErr *tts.ServiceError
	require.ErrorAs(t, err, &serviceErr)
	assert.Equal(t, "model crashed", serviceErr.Body)
	assert.Contains(t, err.Error(), "non-OK status")
}

func TestHTTPClient_GenerateSpeech_WrongContentType(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("not audio"))
	}))
	defer server.Close()

	client := tts.NewHTTPClient(server.URL, 10*time.Second)

	_, err := client.GenerateSpeech(context.Background(), tts.SpeechRequest{Text: "Hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected content type")
}

func TestHTTPClient_GenerateSpeech_EmptyAudioData(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := tts.NewHTTPClient(server.URL, 10*time.Second)

	_, err := client.GenerateSpeech(context.Background(), tts.SpeechRequest{Text: "Hello"})
	require.ErrorIs(t, err, tts.ErrReceivedEmptyAudio)
}

func TestHTTPClient_GenerateSpeech_Timeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte(testAudioData))
	}))
	defer server.Close()

	client := tts.NewHTTPClient(server.URL, 50*time.Millisecond)

	_, err := client.GenerateSpeech(context.Background(), tts.SpeechRequest{Text: "Hello"})
	require.Error(t, err)
}

func TestHTTPClient_HealthCheck(t *testing.T) {
	t.Parallel()

	t.Run("healthy", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/health", r.URL.Path)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		require.NoError(t, tts.NewHTTPClient(server.URL, time.Second).HealthCheck(context.Background()))
	})

	t.Run("service down", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		err := tts.NewHTTPClient(server.URL, time.Second).HealthCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "503")
	})
}
