package tts_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/voicechat-service/internal/tts"
	"github.com/book-expert/voicechat-service/internal/tts/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssemble_SingleChunkIsByteIdentical(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	source := filepath.Join(dir, "chunk_0.wav")
	dest := filepath.Join(dir, "final.wav")

	writeTestWAV(t, source, audio.NewPCMFormat(2, 3, 48000), 7, 0x5a)

	require.NoError(t, tts.Assemble([]string{source}, dest))

	want, err := os.ReadFile(source)
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestAssemble_ConcatenatesInOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	format := audio.NewPCMFormat(1, 2, 24000)
	paths := []string{
		filepath.Join(dir, "chunk_0.wav"),
		filepath.Join(dir, "chunk_1.wav"),
		filepath.Join(dir, "chunk_2.wav"),
	}

	writeTestWAV(t, paths[0], format, 3, 0x01)
	writeTestWAV(t, paths[1], format, 5, 0x02)
	writeTestWAV(t, paths[2], format, 2, 0x03)

	dest := filepath.Join(dir, "final.wav")
	require.NoError(t, tts.Assemble(paths, dest))

	clip, err := audio.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, format, clip.Format)
	assert.Equal(t, 10, clip.FrameCount())

	expected := append(append(
		make([]byte, 0, 20),
		[]byte{1, 1, 1, 1, 1, 1}...),
		[]byte{2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 3, 3, 3, 3}...,
	)
	assert.Equal(t, expected, clip.Frames)
}

func TestAssemble_FormatMismatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	paths := []string{
		filepath.Join(dir, "chunk_0.wav"),
		filepath.Join(dir, "chunk_1.wav"),
	}

	writeTestWAV(t, paths[0], audio.NewPCMFormat(1, 2, 24000), 4, 0x01)
	writeTestWAV(t, paths[1], audio.NewPCMFormat(2, 2, 24000), 4, 0x02)

	dest := filepath.Join(dir, "final.wav")
	err := tts.Assemble(paths, dest)

	var assemblyErr *tts.AssemblyError
	require.ErrorAs(t, err, &assemblyErr)
	assert.Contains(t, err.Error(), "Failed to concatenate audio chunks")

	var mismatch *tts.FormatMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 1, mismatch.Chunk)
	assert.Equal(t, []string{audio.FIELD_CHANNELS}, mismatch.Fields)
	assert.Equal(t, 1, mismatch.Want.Channels)
	assert.Equal(t, 2, mismatch.Got.Channels)

	assert.NoFileExists(t, dest)
}

func TestAssemble_Failures(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	t.Run("no paths", func(t *testing.T) {
		t.Parallel()

		err := tts.Assemble(nil, filepath.Join(dir, "none.wav"))
		require.ErrorIs(t, err, tts.ErrNoArtifacts)
	})

	t.Run("corrupt chunk", func(t *testing.T) {
		t.Parallel()

		good := filepath.Join(dir, "good.wav")
		bad := filepath.Join(dir, "bad.wav")
		dest := filepath.Join(dir, "corrupt-final.wav")

		writeTestWAV(t, good, audio.NewPCMFormat(1, 2, 24000), 2, 0x01)
		require.NoError(t, os.WriteFile(bad, []byte("not a wav file"), 0o600))

		err := tts.Assemble([]string{good, bad}, dest)

		var assemblyErr *tts.AssemblyError
		require.ErrorAs(t, err, &assemblyErr)
		assert.NoFileExists(t, dest)
	})

	t.Run("missing single chunk", func(t *testing.T) {
		t.Parallel()

		dest := filepath.Join(dir, "missing-final.wav")

		err := tts.Assemble([]string{filepath.Join(dir, "absent.wav")}, dest)

		var assemblyErr *tts.AssemblyError
		require.ErrorAs(t, err, &assemblyErr)
		assert.NoFileExists(t, dest)
	})
}
