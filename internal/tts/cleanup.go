package tts

import (
	"errors"
	"os"

	"github.com/book-expert/logger"
)

// artifactSet tracks the intermediate files one turn created so that every exit path
// can reclaim them.
type artifactSet struct {
	log   *logger.Logger
	paths []string
}

func newArtifactSet(log *logger.Logger) *artifactSet {
	return &artifactSet{log: log}
}

// Track registers a file for removal. Paths may not exist yet.
func (a *artifactSet) Track(paths ...string) {
	a.paths = append(a.paths, paths...)
}

// Paths returns the tracked files in registration order.
func (a *artifactSet) Paths() []string {
	return append([]string(nil), a.paths...)
}

// RemoveAll deletes every tracked file, ignoring files that are already gone, and
// returns how many were removed.
func (a *artifactSet) RemoveAll() int {
	removed := 0

	for _, path := range a.paths {
		removeErr := os.Remove(path)
		if removeErr == nil {
			removed++

			continue
		}

		if !errors.Is(removeErr, os.ErrNotExist) {
			a.log.Warn("Failed to remove turn artifact '%s': %v", path, removeErr)
		}
	}

	a.paths = nil

	return removed
}
