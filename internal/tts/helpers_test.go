package tts_test

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/voicechat-service/internal/core"
	"github.com/book-expert/voicechat-service/internal/tts/audio"
	"github.com/stretchr/testify/require"
)

// createTestLogger creates a logger writing into the test's temp directory.
func createTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

// writeTestWAV writes a clip with frameCount frames of the given format.
func writeTestWAV(t *testing.T, path string, format audio.Format, frameCount int, fill byte) {
	t.Helper()

	frames := make([]byte, frameCount*format.FrameSize())
	for index := range frames {
		frames[index] = fill
	}

	require.NoError(t, audio.WriteFile(path, &audio.Clip{Frames: frames, Format: format}))
}

// fakeGenerator records every request and writes a small WAV for each one. failOn
// selects a 1-based call that fails instead; formats overrides the format per call.
type fakeGenerator struct {
	formats  map[int]audio.Format
	beforeFn func(call int)
	requests []core.GenerateRequest
	mu       sync.Mutex
	failOn   int
	noOutput bool
}

var defaultTestFormat = audio.NewPCMFormat(1, 2, 24000)

func (g *fakeGenerator) Generate(_ context.Context, req core.GenerateRequest) error {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	call := len(g.requests)
	g.mu.Unlock()

	if g.beforeFn != nil {
		g.beforeFn(call)
	}

	if call == g.failOn {
		// Leave a partial file behind like a crashed generator would.
		_ = os.WriteFile(req.OutPath, []byte("partial"), 0o600)

		return &core.GeneratorOutputError{
			Err:    os.ErrInvalid,
			Stdout: "loading model",
			Stderr: "CUDA out of memory",
		}
	}

	if g.noOutput {
		return nil
	}

	format := defaultTestFormat
	if override, ok := g.formats[call]; ok {
		format = override
	}

	frames := make([]byte, 10*format.FrameSize())
	for index := range frames {
		frames[index] = byte(call)
	}

	return audio.WriteFile(req.OutPath, &audio.Clip{Frames: frames, Format: format})
}

func (g *fakeGenerator) calls() []core.GenerateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()

	return append([]core.GenerateRequest(nil), g.requests...)
}

// listDir returns the names of the files in dir.
func listDir(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}

	return names
}
