package tts

import (
	"errors"
	"fmt"
	"os"

	"github.com/book-expert/voicechat-service/internal/tts/audio"
)

const outputPermissions = 0o600

// Assemble joins the chunk artifacts at paths, in order, into one waveform at dest.
// A single artifact is copied byte for byte. Every chunk must share the first chunk's
// format; on any failure dest is left absent and the error is an *AssemblyError.
func Assemble(paths []string, dest string) error {
	switch len(paths) {
	case 0:
		return &AssemblyError{Err: ErrNoArtifacts}
	case 1:
		return copyArtifact(paths[0], dest)
	}

	first, readErr := audio.ReadFile(paths[0])
	if readErr != nil {
		return &AssemblyError{Err: readErr}
	}

	frames := append([]byte(nil), first.Frames...)

	for index, path := range paths[1:] {
		clip, chunkErr := audio.ReadFile(path)
		if chunkErr != nil {
			return &AssemblyError{Err: chunkErr}
		}

		fields := first.Format.Diff(clip.Format)
		if len(fields) > 0 {
			return &AssemblyError{Err: &FormatMismatchError{
				Path:   path,
				Fields: fields,
				Want:   first.Format,
				Got:    clip.Format,
				Chunk:  index + 1,
			}}
		}

		frames = append(frames, clip.Frames...)
	}

	writeErr := audio.WriteFile(dest, &audio.Clip{Frames: frames, Format: first.Format})
	if writeErr != nil {
		return &AssemblyError{Err: writeErr}
	}

	return nil
}

func copyArtifact(source, dest string) error {
	data, readErr := os.ReadFile(source)
	if readErr != nil {
		return &AssemblyError{Err: fmt.Errorf("failed to read chunk artifact: %w", readErr)}
	}

	writeErr := os.WriteFile(dest, data, outputPermissions)
	if writeErr != nil {
		removeErr := os.Remove(dest)
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			writeErr = errors.Join(writeErr, removeErr)
		}

		return &AssemblyError{Err: fmt.Errorf("failed to write %s: %w", dest, writeErr)}
	}

	return nil
}
