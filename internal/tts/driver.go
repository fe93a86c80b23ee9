package tts

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voicechat-service/internal/core"
)

// Outcome labels reported to a Recorder.
const (
	OutcomeSuccess          = "success"
	OutcomeGenerationFailed = "generation_failed"
	OutcomeAssemblyFailed   = "assembly_failed"
	OutcomeMissingOutput    = "missing_output"
	OutcomeCancelled        = "cancelled"
	OutcomeInvalid          = "invalid"
)

// Recorder receives timing and outcome observations from the turn pipeline.
type Recorder interface {
	ObserveChunk(outcome string, elapsed time.Duration)
	ObserveTurn(outcome string, chunks int, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveChunk(string, time.Duration)     {}
func (nopRecorder) ObserveTurn(string, int, time.Duration) {}

// ChunkJob is one invocation of the generation primitive.
type ChunkJob struct {
	Seed                    *int
	ScenePrompt             string
	OutPath                 string
	VoiceRefs               []string
	Chunk                   Chunk
	Total                   int
	Temperature             float64
	RefAudioInSystemMessage bool
	NativeSpeakerChunking   bool
}

// Driver invokes the generator exactly once per chunk and turns its failures into
// GenerationErrors.
type Driver struct {
	generator core.AudioGenerator
	recorder  Recorder
	log       *logger.Logger
}

// NewDriver creates a driver around generator. A nil recorder is allowed.
func NewDriver(generator core.AudioGenerator, recorder Recorder, log *logger.Logger) *Driver {
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &Driver{generator: generator, recorder: recorder, log: log}
}

// Generate produces job.OutPath and returns it. On failure any partial output is
// removed and a *GenerationError is returned.
func (d *Driver) Generate(ctx context.Context, job ChunkJob) (string, error) {
	started := time.Now()

	request := core.GenerateRequest{
		Text:                    job.Chunk.Text,
		VoiceRefs:               job.VoiceRefs,
		RefAudioInSystemMessage: job.RefAudioInSystemMessage,
		NativeSpeakerChunking:   job.NativeSpeakerChunking,
		Temperature:             job.Temperature,
		Seed:                    job.Seed,
		ScenePrompt:             job.ScenePrompt,
		OutPath:                 job.OutPath,
	}

	generateErr := d.generator.Generate(ctx, request)
	if generateErr == nil {
		d.recorder.ObserveChunk(OutcomeSuccess, time.Since(started))

		return job.OutPath, nil
	}

	d.recorder.ObserveChunk(OutcomeGenerationFailed, time.Since(started))

	removeErr := os.Remove(job.OutPath)
	if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		d.log.Warn("Failed to remove partial output '%s': %v", job.OutPath, removeErr)
	}

	failure := &GenerationError{Err: generateErr}
	if job.Total > 0 {
		failure.Chunk = job.Chunk.Index + 1
		failure.Total = job.Total
	}

	var outputErr *core.GeneratorOutputError
	if errors.As(generateErr, &outputErr) {
		failure.Stdout = tail(outputErr.Stdout, diagnosticTailCharacters)
		failure.Stderr = tail(outputErr.Stderr, diagnosticTailCharacters)
	}

	d.log.Error("%s: %v", failure.Message(), generateErr)

	return "", failure
}
