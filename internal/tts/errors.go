package tts

import (
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/voicechat-service/internal/tts/audio"
)

// Sentinel errors for the turn pipeline.
var (
	ErrInvalidTurn       = errors.New("invalid turn request")
	ErrTurnCancelled     = errors.New("turn cancelled")
	ErrNoArtifacts       = errors.New("no chunk artifacts to assemble")
	ErrUnknownChunking   = errors.New("unknown chunk method")
	ErrTranscriptEmpty   = errors.New("transcript cannot be empty")
	ErrTemperatureRange  = errors.New("temperature must be between 0.0 and 2.0")
	ErrVoiceRefEmpty     = errors.New("voice reference cannot be empty")
	ErrUnknownReturnMode = errors.New("return_audio must be base64 or url")
)

// Failure messages surfaced to callers.
const (
	msgGenerationFailed      = "Generation failed"
	msgFmtChunkFailed        = "Generation failed on chunk %d/%d"
	msgFmtAssemblyFailed     = "Failed to concatenate audio chunks: %v"
	msgMissingOutput         = "Expected output file was not created."
	msgFmtFormatMismatch     = "chunk %d (%s) has incompatible format: %s differ (want %s, got %s)"
	msgFmtValidationFailed   = "invalid %s: %v"
	diagnosticTailCharacters = 2000
)

// ValidationError reports a request that was rejected before any generation work began.
type ValidationError struct {
	Err   error
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf(msgFmtValidationFailed, e.Field, e.Err)
}

func (e *ValidationError) Unwrap() []error {
	return []error{ErrInvalidTurn, e.Err}
}

// GenerationError reports that the generation primitive failed for one chunk. Chunk is
// 1-based; Total is zero when the transcript was generated in a single unchunked call.
type GenerationError struct {
	Err    error
	Stdout string
	Stderr string
	Chunk  int
	Total  int
}

// Message is the caller-facing summary, e.g. "Generation failed on chunk 2/3".
func (e *GenerationError) Message() string {
	if e.Total == 0 {
		return msgGenerationFailed
	}

	return fmt.Sprintf(msgFmtChunkFailed, e.Chunk, e.Total)
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Message(), e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// FormatMismatchError reports a chunk artifact whose format differs from the first
// chunk's format. Chunk is the 0-based chunk index.
type FormatMismatchError struct {
	Path   string
	Fields []string
	Want   audio.Format
	Got    audio.Format
	Chunk  int
}

func (e *FormatMismatchError) Error() string {
	return fmt.Sprintf(
		msgFmtFormatMismatch,
		e.Chunk, e.Path, strings.Join(e.Fields, ", "), e.Want, e.Got,
	)
}

// AssemblyError wraps every failure of the waveform assembler so it can be told apart
// from a generation failure.
type AssemblyError struct {
	Err error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf(msgFmtAssemblyFailed, e.Err)
}

func (e *AssemblyError) Unwrap() error {
	return e.Err
}

// MissingOutputError reports that the final artifact is absent after a turn that
// otherwise succeeded.
type MissingOutputError struct {
	Path string
}

func (e *MissingOutputError) Error() string {
	return msgMissingOutput
}

// tail returns the last n characters of s.
func tail(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}

	return string(runes[len(runes)-n:])
}
