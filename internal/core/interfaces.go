// Package core defines the core business logic and interfaces for the voicechat service.
package core

import (
	"context"
	"fmt"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// GenerateRequest holds everything one call of the speech generation primitive needs.
// Optional fields use their zero value (or nil) when absent.
type GenerateRequest struct {
	Text                    string
	VoiceRefs               []string
	RefAudioInSystemMessage bool
	NativeSpeakerChunking   bool
	Temperature             float64
	Seed                    *int
	ScenePrompt             string
	OutPath                 string
}

// AudioGenerator is the speech generation primitive. Implementations write a WAV file to
// req.OutPath on success. Generate must respect ctx for cancellation and must not retry.
type AudioGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) error
}

// GeneratorOutputError is returned by an AudioGenerator when the primitive failed and
// produced diagnostic output on its standard streams.
type GeneratorOutputError struct {
	Err    error
	Stdout string
	Stderr string
}

func (e *GeneratorOutputError) Error() string {
	return fmt.Sprintf("generator failed: %v", e.Err)
}

func (e *GeneratorOutputError) Unwrap() error {
	return e.Err
}

// Persona is the read-only view of a character record consumed by the turn pipeline.
type Persona struct {
	Name        string
	Personality string
	Traits      []string
	Backstory   string
	Voice       string
}

// CharacterReader resolves a character id to its persona.
type CharacterReader interface {
	Persona(id string) (Persona, bool)
}
