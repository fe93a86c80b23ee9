// Package worker turns stored transcripts into audio for NATS request/reply callers.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/voicechat-service/internal/core"
	"github.com/book-expert/voicechat-service/internal/tts"
	"github.com/bytedance/sonic"
	"github.com/nats-io/nats.go"
)

const (
	defaultHandleTimeout = 10 * time.Minute
	audioKeyFmt          = "%s.wav"
	pageFilenameFmt      = "page-%d"

	// Results reported to the EventRecorder.
	ResultProcessed = "processed"
	ResultInvalid   = "invalid"
	ResultFailed    = "failed"
	ResultUnsent    = "reply_failed"

	logFmtSubscribed   = "Worker subscribed to %s (queue=%q)"
	logFmtInvalidEvent = "Failed to parse and validate event: %v"
	logFmtJobFailed    = "Failed to process job for workflow %s: %v"
	logFmtReplyFailed  = "Failed to publish reply event for workflow %s: %v"
	logFmtRollback     = "Failed to delete orphaned audio %s: %v"
	logFmtLocalCleanup = "Failed to remove local artifact %s: %v"
	logFmtProcessed    = "Workflow %s page %d/%d rendered to %s"
)

var (
	// ErrTextKeyEmpty indicates that the event carries no transcript key.
	ErrTextKeyEmpty = errors.New("text key cannot be empty")
	// ErrTemperatureRange indicates that the event temperature is outside [0, 2].
	ErrTemperatureRange = errors.New("temperature must be between 0.0 and 2.0")
	// ErrTranscriptEmpty indicates that the stored transcript is blank.
	ErrTranscriptEmpty = errors.New("stored transcript is empty")
)

// TurnRunner runs one spoken turn.
type TurnRunner interface {
	Run(ctx context.Context, req tts.TurnRequest) (*tts.TurnResult, error)
}

// EventRecorder counts handled events by result.
type EventRecorder interface {
	RecordWorkerEvent(result string)
}

type nopEventRecorder struct{}

func (nopEventRecorder) RecordWorkerEvent(string) {}

// Config holds the subscription settings.
type Config struct {
	Subject    string
	QueueGroup string
	Timeout    time.Duration
}

// NatsWorker listens for TextProcessedEvent requests and replies with AudioChunkCreatedEvent.
type NatsWorker struct {
	natsConnection *nats.Conn
	texts          core.ObjectStore
	audio          core.ObjectStore
	turns          TurnRunner
	recorder       EventRecorder
	log            *logger.Logger
	cfg            Config
}

// NewNatsWorker creates a worker. texts holds the transcripts and audio receives the
// rendered waveforms; both may be the same store.
func NewNatsWorker(
	natsConnection *nats.Conn,
	cfg Config,
	texts core.ObjectStore,
	audio core.ObjectStore,
	turns TurnRunner,
	recorder EventRecorder,
	log *logger.Logger,
) *NatsWorker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHandleTimeout
	}

	if recorder == nil {
		recorder = nopEventRecorder{}
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		texts:          texts,
		audio:          audio,
		turns:          turns,
		recorder:       recorder,
		log:            log,
		cfg:            cfg,
	}
}

// Run subscribes and blocks until ctx is cancelled, then drains the subscription.
func (w *NatsWorker) Run(ctx context.Context) error {
	var (
		sub *nats.Subscription
		err error
	)

	if w.cfg.QueueGroup != "" {
		sub, err = w.natsConnection.QueueSubscribe(w.cfg.Subject, w.cfg.QueueGroup, w.handleMessage)
	} else {
		sub, err = w.natsConnection.Subscribe(w.cfg.Subject, w.handleMessage)
	}

	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.cfg.Subject, err)
	}

	w.log.Info(logFmtSubscribed, w.cfg.Subject, w.cfg.QueueGroup)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout)
	defer cancel()

	event, err := parseAndValidateEvent(msg.Data)
	if err != nil {
		w.log.Error(logFmtInvalidEvent, err)
		w.recorder.RecordWorkerEvent(ResultInvalid)

		return
	}

	audioKey, processErr := w.processJob(ctx, event)
	if processErr != nil {
		w.log.Error(logFmtJobFailed, event.Header.WorkflowID, processErr)
		w.recorder.RecordWorkerEvent(ResultFailed)

		return
	}

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	replyErr := publishReplyEvent(msg, replyEvent)
	if replyErr != nil {
		w.log.Error(logFmtReplyFailed, event.Header.WorkflowID, replyErr)
		w.recorder.RecordWorkerEvent(ResultUnsent)

		deleteErr := w.audio.Delete(ctx, audioKey)
		if deleteErr != nil {
			w.log.Warn(logFmtRollback, audioKey, deleteErr)
		}

		return
	}

	w.log.Info(logFmtProcessed, event.Header.WorkflowID, event.PageNumber, event.TotalPages, audioKey)
	w.recorder.RecordWorkerEvent(ResultProcessed)
}

// processJob downloads the transcript, runs a turn and uploads the waveform.
func (w *NatsWorker) processJob(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	textData, err := w.texts.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	if len(textData) == 0 {
		return "", ErrTranscriptEmpty
	}

	result, runErr := w.turns.Run(ctx, turnRequestFor(event, string(textData)))
	if runErr != nil {
		return "", fmt.Errorf("failed to render turn: %w", runErr)
	}

	defer w.removeLocal(result.OutputPath)

	audioData, readErr := os.ReadFile(result.OutputPath)
	if readErr != nil {
		return "", fmt.Errorf("failed to read rendered audio: %w", readErr)
	}

	audioKey := fmt.Sprintf(audioKeyFmt, result.ID)

	err = w.audio.Upload(ctx, audioKey, audioData)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	return audioKey, nil
}

func (w *NatsWorker) removeLocal(path string) {
	removeErr := os.Remove(path)
	if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		w.log.Warn(logFmtLocalCleanup, path, removeErr)
	}
}

// turnRequestFor maps an event onto a turn. A zero seed means unseeded; the voice names
// a catalog character whose persona shapes the scene.
func turnRequestFor(event *events.TextProcessedEvent, transcript string) tts.TurnRequest {
	req := tts.TurnRequest{
		Transcript:  transcript,
		ChunkMethod: string(tts.ChunkAuto),
		CharacterID: event.Voice,
		Filename:    fmt.Sprintf(pageFilenameFmt, event.PageNumber),
		ReturnMode:  tts.ReturnBase64,
		Temperature: event.Temperature,
	}

	if event.Seed != 0 {
		seed := event.Seed
		req.Seed = &seed
	}

	return req
}

// publishReplyEvent marshals and responds with the AudioChunkCreatedEvent.
func publishReplyEvent(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	replyData, err := sonic.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func parseAndValidateEvent(data []byte) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := sonic.Unmarshal(data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if event.TextKey == "" {
		return nil, ErrTextKeyEmpty
	}

	if event.Temperature < tts.MinTemperature || event.Temperature > tts.MaxTemperature {
		return nil, fmt.Errorf("%w: got %f", ErrTemperatureRange, event.Temperature)
	}

	return &event, nil
}
