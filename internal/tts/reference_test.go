package tts_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/voicechat-service/internal/tts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferenceController_SuppliedRefsAreFixed(t *testing.T) {
	t.Parallel()

	supplied := []string{"/voices/luna", "/voices/alex"}
	controller := tts.NewReferenceController(supplied)
	dir := t.TempDir()

	first := tts.Chunk{Text: "Hello.", Index: 0, IsFirst: true}
	assert.Equal(t, supplied, controller.RefsFor(first))

	note, err := controller.Observe(first, filepath.Join(dir, "turn_chunk_0.wav"))
	require.NoError(t, err)
	assert.Empty(t, note)
	assert.False(t, controller.Established())
	assert.Empty(t, controller.SideFiles())
	assert.Equal(t, supplied, controller.RefsFor(tts.Chunk{Index: 1}))
	assert.Empty(t, listDir(t, dir))
}

func TestReferenceController_FirstChunkBecomesReference(t *testing.T) {
	t.Parallel()

	controller := tts.NewReferenceController(nil)
	dir := t.TempDir()
	artifact := filepath.Join(dir, "turn_chunk_0.wav")

	first := tts.Chunk{Text: "The first paragraph.", Index: 0, IsFirst: true}
	assert.Empty(t, controller.RefsFor(first))

	note, err := controller.Observe(first, artifact)
	require.NoError(t, err)
	assert.Equal(t, "Using first chunk as voice reference for consistency.", note)
	assert.True(t, controller.Established())

	reference := filepath.Join(dir, "turn_chunk_0")
	assert.Equal(t, []string{reference}, controller.RefsFor(tts.Chunk{Index: 1}))

	caption, readErr := os.ReadFile(reference + ".txt")
	require.NoError(t, readErr)
	assert.Equal(t, "The first paragraph.", string(caption))
	assert.Equal(t, []string{reference + ".txt"}, controller.SideFiles())

	note, err = controller.Observe(tts.Chunk{Text: "Second.", Index: 1}, filepath.Join(dir, "turn_chunk_1.wav"))
	require.NoError(t, err)
	assert.Empty(t, note, "the reference is captured only once")
	assert.Equal(t, []string{reference}, controller.RefsFor(tts.Chunk{Index: 2}))
}

func TestReferenceController_CaptionWriteFailure(t *testing.T) {
	t.Parallel()

	controller := tts.NewReferenceController(nil)
	missingDir := filepath.Join(t.TempDir(), "missing")

	_, err := controller.Observe(
		tts.Chunk{Text: "Hi.", IsFirst: true},
		filepath.Join(missingDir, "turn_chunk_0.wav"),
	)
	require.Error(t, err)
	assert.False(t, controller.Established())
	assert.Empty(t, controller.RefsFor(tts.Chunk{Index: 1}))
}
