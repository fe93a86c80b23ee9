package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voicechat-service/internal/core"
	"github.com/book-expert/voicechat-service/internal/tts/text"
)

// HealthCheckTimeout bounds a health probe against the TTS service.
const HealthCheckTimeout = 10 * time.Second

const (
	errFmtHealthCheckFailed = "TTS service health check failed: %w"
	logFmtGeneratedAudio    = "Generated audio: %s (%d bytes)"
)

// ErrOutputPathEmpty indicates a request without a destination.
var ErrOutputPathEmpty = errors.New("output path cannot be empty")

// HTTPGenerator implements core.AudioGenerator against a standalone TTS HTTP service.
type HTTPGenerator struct {
	client       *HTTPClient
	preprocessor *text.Preprocessor
	log          *logger.Logger
}

// NewHTTPGenerator creates a generator for the service at serviceURL.
func NewHTTPGenerator(serviceURL string, timeout time.Duration, log *logger.Logger) *HTTPGenerator {
	return NewHTTPGeneratorWithClient(NewHTTPClient(serviceURL, timeout), log)
}

// NewHTTPGeneratorWithClient creates a generator around an existing client.
func NewHTTPGeneratorWithClient(client *HTTPClient, log *logger.Logger) *HTTPGenerator {
	return &HTTPGenerator{
		client:       client,
		preprocessor: text.NewPreprocessor(),
		log:          log,
	}
}

// Generate requests speech for req and writes it to req.OutPath. Service failures are
// returned as *core.GeneratorOutputError with the service's response as stderr.
func (g *HTTPGenerator) Generate(ctx context.Context, req core.GenerateRequest) error {
	if req.OutPath == "" {
		return ErrOutputPathEmpty
	}

	speechReq := SpeechRequest{
		Seed:                    req.Seed,
		Text:                    g.preprocessor.PreprocessText(req.Text),
		ScenePrompt:             req.ScenePrompt,
		SpeakerRefPaths:         req.VoiceRefs,
		Temperature:             req.Temperature,
		RefAudioInSystemMessage: req.RefAudioInSystemMessage,
	}

	if req.NativeSpeakerChunking {
		speechReq.ChunkMethod = string(ChunkSpeaker)
	}

	audioData, speechErr := g.client.GenerateSpeech(ctx, speechReq)
	if speechErr != nil {
		outputErr := &core.GeneratorOutputError{Err: fmt.Errorf("failed to generate speech: %w", speechErr)}

		var serviceErr *ServiceError
		if errors.As(speechErr, &serviceErr) {
			outputErr.Stderr = serviceErr.Body
		}

		return outputErr
	}

	writeErr := os.WriteFile(req.OutPath, audioData, outputPermissions)
	if writeErr != nil {
		return fmt.Errorf("failed to write audio file: %w", writeErr)
	}

	g.log.Info(logFmtGeneratedAudio, req.OutPath, len(audioData))

	return nil
}

// HealthCheck probes the TTS service.
func (g *HTTPGenerator) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	healthErr := g.client.HealthCheck(ctx)
	if healthErr != nil {
		return fmt.Errorf(errFmtHealthCheckFailed, healthErr)
	}

	return nil
}
