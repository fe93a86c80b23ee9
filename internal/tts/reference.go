package tts

import (
	"fmt"
	"os"
	"strings"
)

const (
	noteFirstChunkReference = "Using first chunk as voice reference for consistency."
	captionExtension        = ".txt"
	wavExtension            = ".wav"
	captionPermissions      = 0o600
)

// ReferenceController decides which voice references each chunk of a turn receives.
// Caller-supplied references are fixed for the whole turn. Without them the first
// chunk's artifact becomes the reference for every later chunk.
type ReferenceController struct {
	current     []string
	sideFiles   []string
	supplied    bool
	established bool
}

// NewReferenceController starts a controller for one turn.
func NewReferenceController(voiceRefs []string) *ReferenceController {
	controller := &ReferenceController{}

	if len(voiceRefs) > 0 {
		controller.current = append([]string(nil), voiceRefs...)
		controller.supplied = true
	}

	return controller
}

// RefsFor returns the references to pass with the given chunk.
func (c *ReferenceController) RefsFor(_ Chunk) []string {
	if len(c.current) == 0 {
		return nil
	}

	return append([]string(nil), c.current...)
}

// Observe records a successfully generated chunk. For the first chunk of a turn
// without supplied references it writes the caption side-file, captures the
// reference and returns the note to report. Every other call returns "".
func (c *ReferenceController) Observe(chunk Chunk, artifactPath string) (string, error) {
	if c.supplied || c.established || !chunk.IsFirst {
		return "", nil
	}

	reference := strings.TrimSuffix(artifactPath, wavExtension)
	captionPath := reference + captionExtension

	writeErr := os.WriteFile(captionPath, []byte(chunk.Text), captionPermissions)
	if writeErr != nil {
		return "", fmt.Errorf("failed to write reference caption %s: %w", captionPath, writeErr)
	}

	c.sideFiles = append(c.sideFiles, captionPath)
	c.current = []string{reference}
	c.established = true

	return noteFirstChunkReference, nil
}

// Established reports whether a reference was captured from the first chunk.
func (c *ReferenceController) Established() bool {
	return c.established
}

// SideFiles lists the files the controller created.
func (c *ReferenceController) SideFiles() []string {
	return append([]string(nil), c.sideFiles...)
}
