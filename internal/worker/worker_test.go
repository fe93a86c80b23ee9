package worker_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/voicechat-service/internal/tts"
	"github.com/book-expert/voicechat-service/internal/worker"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSubject = "voicechat.test"

var (
	errMockDownload = errors.New("mock download error")
	errMockRun      = errors.New("mock run error")
	renderedAudio   = []byte("RIFF rendered audio")
)

type memoryStore struct {
	objects      map[string][]byte
	deleted      []string
	downloadFail bool
	mu           sync.Mutex
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (m *memoryStore) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.downloadFail {
		return nil, errMockDownload
	}

	data, ok := m.objects[key]
	if !ok {
		return nil, errMockDownload
	}

	return data, nil
}

func (m *memoryStore) Upload(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = data

	return nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, key)
	m.deleted = append(m.deleted, key)

	return nil
}

func (m *memoryStore) get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.objects[key]

	return data, ok
}

func (m *memoryStore) failDownloads() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.downloadFail = true
}

func (m *memoryStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.objects)
}

func (m *memoryStore) deletedKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.deleted...)
}

type fakeRunner struct {
	err      error
	dir      string
	requests []tts.TurnRequest
	paths    []string
	mu       sync.Mutex
}

func (f *fakeRunner) Run(_ context.Context, req tts.TurnRequest) (*tts.TurnResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)

	if f.err != nil {
		return nil, f.err
	}

	id := req.Filename + "-" + uuid.NewString()
	path := filepath.Join(f.dir, id+".wav")

	writeErr := os.WriteFile(path, renderedAudio, 0o600)
	if writeErr != nil {
		return nil, writeErr
	}

	f.paths = append(f.paths, path)

	return &tts.TurnResult{ID: id, OutputPath: path, Temperature: req.Temperature}, nil
}

func (f *fakeRunner) snapshot() ([]tts.TurnRequest, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]tts.TurnRequest(nil), f.requests...), append([]string(nil), f.paths...)
}

type countingRecorder struct {
	results []string
	mu      sync.Mutex
}

func (r *countingRecorder) RecordWorkerEvent(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.results = append(r.results, result)
}

func (r *countingRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.results...)
}

type workerHarness struct {
	conn     *nats.Conn
	texts    *memoryStore
	audio    *memoryStore
	runner   *fakeRunner
	recorder *countingRecorder
}

func startWorker(t *testing.T, runErr error) *workerHarness {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	natsServer := test.RunServer(&opts)
	t.Cleanup(natsServer.Shutdown)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)
	t.Cleanup(natsConnection.Close)

	log, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	harness := &workerHarness{
		conn:     natsConnection,
		texts:    newMemoryStore(),
		audio:    newMemoryStore(),
		runner:   &fakeRunner{dir: t.TempDir(), err: runErr},
		recorder: &countingRecorder{},
	}

	instance := worker.NewNatsWorker(
		natsConnection,
		worker.Config{Subject: testSubject, QueueGroup: "voicechat", Timeout: 5 * time.Second},
		harness.texts,
		harness.audio,
		harness.runner,
		harness.recorder,
		log,
	)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() {
		errChan <- instance.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-errChan, "worker.Run should not error on graceful shutdown")
	})

	require.Eventually(t, func() bool {
		return natsConnection.NumSubscriptions() > 0
	}, 2*time.Second, 10*time.Millisecond)

	return harness
}

func newEvent(textKey string) *events.TextProcessedEvent {
	return &events.TextProcessedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
		},
		TextKey:     textKey,
		PageNumber:  3,
		TotalPages:  10,
		Voice:       "luna",
		Seed:        42,
		Temperature: 0.5,
	}
}

func marshalEvent(t *testing.T, event *events.TextProcessedEvent) []byte {
	t.Helper()

	data, err := sonic.Marshal(event)
	require.NoError(t, err)

	return data
}

func TestWorker_RendersAndReplies(t *testing.T) {
	t.Parallel()

	harness := startWorker(t, nil)
	require.NoError(t, harness.texts.Upload(context.Background(), "page-3.txt", []byte("Hello from page three.")))

	event := newEvent("page-3.txt")

	replyMsg, err := harness.conn.Request(testSubject, marshalEvent(t, event), 5*time.Second)
	require.NoError(t, err, "Request should succeed and receive a reply")

	var replyEvent events.AudioChunkCreatedEvent
	require.NoError(t, sonic.Unmarshal(replyMsg.Data, &replyEvent))

	assert.Equal(t, event.Header.WorkflowID, replyEvent.Header.WorkflowID)
	assert.Equal(t, 3, replyEvent.PageNumber)
	assert.Equal(t, 10, replyEvent.TotalPages)

	uploaded, ok := harness.audio.get(replyEvent.AudioKey)
	require.True(t, ok, "audio should be uploaded under the reply key")
	assert.Equal(t, renderedAudio, uploaded)

	requests, paths := harness.runner.snapshot()
	require.Len(t, requests, 1)
	assert.Equal(t, "Hello from page three.", requests[0].Transcript)
	assert.Equal(t, string(tts.ChunkAuto), requests[0].ChunkMethod)
	assert.Equal(t, "luna", requests[0].CharacterID)
	assert.Equal(t, "page-3", requests[0].Filename)
	assert.InDelta(t, 0.5, requests[0].Temperature, 1e-9)
	require.NotNil(t, requests[0].Seed)
	assert.Equal(t, 42, *requests[0].Seed)

	require.Len(t, paths, 1)
	assert.NoFileExists(t, paths[0], "local artifact removed after upload")

	require.Eventually(t, func() bool {
		results := harness.recorder.snapshot()

		return len(results) == 1 && results[0] == worker.ResultProcessed
	}, time.Second, 10*time.Millisecond)
}

func TestWorker_ZeroSeedIsUnseeded(t *testing.T) {
	t.Parallel()

	harness := startWorker(t, nil)
	require.NoError(t, harness.texts.Upload(context.Background(), "k", []byte("Text.")))

	event := newEvent("k")
	event.Seed = 0

	_, err := harness.conn.Request(testSubject, marshalEvent(t, event), 5*time.Second)
	require.NoError(t, err)

	requests, _ := harness.runner.snapshot()
	require.Len(t, requests, 1)
	assert.Nil(t, requests[0].Seed)
}

func TestWorker_FailuresSendNoReply(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		runErr     error
		prepare    func(h *workerHarness)
		payload    func(t *testing.T) []byte
		name       string
		wantResult string
		wantRuns   int
	}{
		{
			name:       "malformed event",
			payload:    func(*testing.T) []byte { return []byte("{not json") },
			wantResult: worker.ResultInvalid,
		},
		{
			name: "missing text key",
			payload: func(t *testing.T) []byte {
				t.Helper()

				return marshalEvent(t, newEvent(""))
			},
			wantResult: worker.ResultInvalid,
		},
		{
			name: "temperature out of range",
			payload: func(t *testing.T) []byte {
				t.Helper()

				event := newEvent("k")
				event.Temperature = 3

				return marshalEvent(t, event)
			},
			wantResult: worker.ResultInvalid,
		},
		{
			name:    "download failure",
			prepare: func(h *workerHarness) { h.texts.failDownloads() },
			payload: func(t *testing.T) []byte {
				t.Helper()

				return marshalEvent(t, newEvent("k"))
			},
			wantResult: worker.ResultFailed,
		},
		{
			name:   "turn failure",
			runErr: errMockRun,
			prepare: func(h *workerHarness) {
				_ = h.texts.Upload(context.Background(), "k", []byte("Text."))
			},
			payload: func(t *testing.T) []byte {
				t.Helper()

				return marshalEvent(t, newEvent("k"))
			},
			wantResult: worker.ResultFailed,
			wantRuns:   1,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			harness := startWorker(t, testCase.runErr)
			if testCase.prepare != nil {
				testCase.prepare(harness)
			}

			_, err := harness.conn.Request(testSubject, testCase.payload(t), 500*time.Millisecond)
			require.ErrorIs(t, err, nats.ErrTimeout)

			requests, _ := harness.runner.snapshot()
			assert.Len(t, requests, testCase.wantRuns)
			assert.Zero(t, harness.audio.count())
			assert.Equal(t, []string{testCase.wantResult}, harness.recorder.snapshot())
		})
	}
}

func TestWorker_DeletesAudioWhenReplyFails(t *testing.T) {
	t.Parallel()

	harness := startWorker(t, nil)
	require.NoError(t, harness.texts.Upload(context.Background(), "k", []byte("Text.")))

	require.NoError(t, harness.conn.Publish(testSubject, marshalEvent(t, newEvent("k"))))
	require.NoError(t, harness.conn.Flush())

	require.Eventually(t, func() bool {
		return len(harness.audio.deletedKeys()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, ok := harness.audio.get(harness.audio.deletedKeys()[0])
	assert.False(t, ok)
	assert.Equal(t, []string{worker.ResultUnsent}, harness.recorder.snapshot())
}
