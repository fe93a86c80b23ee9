// Package tts runs a voice turn: it scans the transcript for speakers, splits it into
// chunks, generates each chunk with a consistent voice and assembles one waveform.
package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voicechat-service/internal/core"
	"github.com/book-expert/voicechat-service/internal/tts/ttsutils"
	"github.com/google/uuid"
)

// Temperature bounds accepted by the generator.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
)

// Return modes for the generated waveform.
const (
	ReturnBase64 = "base64"
	ReturnURL    = "url"
)

const (
	noteFmtAutoSpeaker  = "Auto-detected multi-speaker mode with %d speakers"
	noteFmtSplitChunks  = "Split into %d chunks using %s method"
	chunkFileFmt        = "%s_chunk_%d.wav"
	turnIDSeparator     = "-"
	logFmtTurnStarted   = "Turn %s started (method=%q, transcript=%d bytes)"
	logFmtTurnState     = "Turn %s: %s -> %s"
	logFmtTurnCompleted = "Turn %s completed in %s: %s (%s)"
	logFmtTurnAborted   = "Turn %s aborted after %s: %v"
	logFmtNoPersona     = "Turn %s: character %q not found, continuing without persona"
)

// TurnState is a stage of the turn state machine.
type TurnState string

// Turn states, in the order a successful turn visits them.
const (
	StateIdle        TurnState = "idle"
	StateScanning    TurnState = "scanning"
	StateChunking    TurnState = "chunking"
	StateReferencing TurnState = "referencing"
	StateGenerating  TurnState = "generating"
	StateAssembling  TurnState = "assembling"
	StateDone        TurnState = "done"
	StateAborted     TurnState = "aborted"
)

// TurnRequest is a validated-on-entry request for one spoken turn.
type TurnRequest struct {
	Seed                    *int
	Style                   *StyleSpec
	Transcript              string
	ChunkMethod             string
	Persona                 string
	CharacterID             string
	Filename                string
	ReturnMode              string
	VoiceRefs               []string
	Temperature             float64
	RefAudioInSystemMessage bool
}

// TurnResult describes the final artifact of a successful turn.
type TurnResult struct {
	ID          string
	OutputPath  string
	Notes       []string
	Temperature float64
}

// Orchestrator sequences the turn pipeline.
type Orchestrator struct {
	driver     *Driver
	characters core.CharacterReader
	recorder   Recorder
	log        *logger.Logger
	newID      func() string
	outputDir  string
	baseScene  string
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithCharacters lets turns resolve a persona by character id.
func WithCharacters(reader core.CharacterReader) Option {
	return func(o *Orchestrator) { o.characters = reader }
}

// WithBaseScene sets the scene text that precedes every scene prompt.
func WithBaseScene(scene string) Option {
	return func(o *Orchestrator) { o.baseScene = scene }
}

// WithRecorder reports turn and chunk observations to recorder.
func WithRecorder(recorder Recorder) Option {
	return func(o *Orchestrator) {
		if recorder != nil {
			o.recorder = recorder
		}
	}
}

// WithIDGenerator replaces the uuid turn id source.
func WithIDGenerator(newID func() string) Option {
	return func(o *Orchestrator) { o.newID = newID }
}

// NewOrchestrator creates an orchestrator writing artifacts to outputDir.
func NewOrchestrator(
	generator core.AudioGenerator,
	outputDir string,
	log *logger.Logger,
	opts ...Option,
) *Orchestrator {
	orchestrator := &Orchestrator{
		recorder:  nopRecorder{},
		log:       log,
		newID:     uuid.NewString,
		outputDir: outputDir,
	}

	for _, opt := range opts {
		opt(orchestrator)
	}

	orchestrator.driver = NewDriver(generator, orchestrator.recorder, log)

	return orchestrator
}

// OutputDir returns the directory that holds turn artifacts.
func (o *Orchestrator) OutputDir() string {
	return o.outputDir
}

// turn is the mutable state of one Run call.
type turn struct {
	log       *logger.Logger
	artifacts *artifactSet
	started   time.Time
	id        string
	outPath   string
	state     TurnState
	notes     []string
	chunks    int
}

func (t *turn) transition(next TurnState) {
	t.log.Info(logFmtTurnState, t.id, t.state, next)
	t.state = next
}

func (t *turn) note(message string) {
	t.notes = append(t.notes, message)
}

// Run executes one turn. It returns a *ValidationError before doing any work, a
// *GenerationError or *AssemblyError when a stage fails, a *MissingOutputError when
// the final artifact is absent and ErrTurnCancelled when ctx ends first. Every failure
// leaves no artifacts of the turn behind.
func (o *Orchestrator) Run(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	method, validateErr := validateTurn(req)
	if validateErr != nil {
		o.recorder.ObserveTurn(OutcomeInvalid, 0, 0)

		return nil, validateErr
	}

	dirErr := ttsutils.EnsureDir(o.outputDir)
	if dirErr != nil {
		return nil, fmt.Errorf("failed to prepare output directory: %w", dirErr)
	}

	id := o.turnID(req.Filename)
	current := &turn{
		log:       o.log,
		artifacts: newArtifactSet(o.log),
		started:   time.Now(),
		id:        id,
		outPath:   filepath.Join(o.outputDir, id+wavExtension),
		state:     StateIdle,
		notes:     []string{},
	}

	current.transition(StateScanning)

	transcript := ApplyStyleDirectives(req.Transcript, req.Style)
	persona := o.resolvePersona(current, req)
	scenePrompt, _ := BuildScenePrompt(persona, req.Style, o.baseScene)

	tags := ScanSpeakerTags(transcript)
	if method == ChunkUnset && len(tags) > 1 {
		method = ChunkSpeaker
		current.note(fmt.Sprintf(noteFmtAutoSpeaker, len(tags)))
	}

	o.log.Info(logFmtTurnStarted, id, string(method), len(transcript))

	current.transition(StateChunking)

	var runErr error
	if method.SplitsLocally() {
		runErr = o.runChunked(ctx, current, req, transcript, method, scenePrompt)
	} else {
		runErr = o.runDirect(ctx, current, req, transcript, method, scenePrompt)
	}

	if runErr != nil {
		return nil, o.abort(ctx, current, runErr)
	}

	info, statErr := os.Stat(current.outPath)
	if statErr != nil {
		return nil, o.abort(ctx, current, &MissingOutputError{Path: current.outPath})
	}

	current.transition(StateDone)

	elapsed := time.Since(current.started)
	o.recorder.ObserveTurn(OutcomeSuccess, current.chunks, elapsed)
	o.log.Info(
		logFmtTurnCompleted, id,
		ttsutils.FormatDuration(elapsed), current.outPath, ttsutils.FormatFileSize(info.Size()),
	)

	return &TurnResult{
		ID:          id,
		OutputPath:  current.outPath,
		Notes:       current.notes,
		Temperature: req.Temperature,
	}, nil
}

func (o *Orchestrator) runDirect(
	ctx context.Context,
	current *turn,
	req TurnRequest,
	transcript string,
	method ChunkMethod,
	scenePrompt string,
) error {
	chunks, chunkErr := ChunkText(transcript, method)
	if chunkErr != nil {
		return chunkErr
	}

	current.chunks = len(chunks)
	current.transition(StateGenerating)

	_, generateErr := o.driver.Generate(ctx, ChunkJob{
		Seed:                    req.Seed,
		ScenePrompt:             scenePrompt,
		OutPath:                 current.outPath,
		VoiceRefs:               req.VoiceRefs,
		Chunk:                   chunks[0],
		Temperature:             req.Temperature,
		RefAudioInSystemMessage: req.RefAudioInSystemMessage,
		NativeSpeakerChunking:   method == ChunkSpeaker,
	})

	return generateErr
}

func (o *Orchestrator) runChunked(
	ctx context.Context,
	current *turn,
	req TurnRequest,
	transcript string,
	method ChunkMethod,
	scenePrompt string,
) error {
	chunks, chunkErr := ChunkText(transcript, method)
	if chunkErr != nil {
		return chunkErr
	}

	current.chunks = len(chunks)
	if len(chunks) > 1 {
		current.note(fmt.Sprintf(noteFmtSplitChunks, len(chunks), method))
	}

	references := NewReferenceController(req.VoiceRefs)
	artifacts := make([]string, 0, len(chunks))

	for _, chunk := range chunks {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		current.transition(StateReferencing)

		chunkPath := filepath.Join(o.outputDir, fmt.Sprintf(chunkFileFmt, current.id, chunk.Index))
		current.artifacts.Track(chunkPath)

		current.transition(StateGenerating)

		_, generateErr := o.driver.Generate(ctx, ChunkJob{
			Seed:                    req.Seed,
			ScenePrompt:             scenePrompt,
			OutPath:                 chunkPath,
			VoiceRefs:               references.RefsFor(chunk),
			Chunk:                   chunk,
			Total:                   len(chunks),
			Temperature:             req.Temperature,
			RefAudioInSystemMessage: req.RefAudioInSystemMessage,
		})
		if generateErr != nil {
			return generateErr
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		artifacts = append(artifacts, chunkPath)

		note, observeErr := references.Observe(chunk, chunkPath)
		if observeErr != nil {
			return observeErr
		}

		if note != "" {
			current.artifacts.Track(references.SideFiles()...)
			current.note(note)
		}
	}

	current.transition(StateAssembling)

	assembleErr := Assemble(artifacts, current.outPath)
	if assembleErr != nil {
		return assembleErr
	}

	current.artifacts.RemoveAll()

	return nil
}

// abort removes every artifact of the turn, including a partial destination, and
// normalizes the error that ended it.
func (o *Orchestrator) abort(ctx context.Context, current *turn, cause error) error {
	current.transition(StateAborted)

	current.artifacts.Track(current.outPath)
	current.artifacts.RemoveAll()

	if ctx.Err() != nil {
		cause = fmt.Errorf("%w: %w", ErrTurnCancelled, ctx.Err())
	}

	elapsed := time.Since(current.started)
	o.recorder.ObserveTurn(outcomeOf(cause), current.chunks, elapsed)
	o.log.Error(logFmtTurnAborted, current.id, ttsutils.FormatDuration(elapsed), cause)

	return cause
}

func outcomeOf(err error) string {
	var (
		generationErr *GenerationError
		assemblyErr   *AssemblyError
		missingErr    *MissingOutputError
	)

	switch {
	case errors.Is(err, ErrTurnCancelled):
		return OutcomeCancelled
	case errors.As(err, &generationErr):
		return OutcomeGenerationFailed
	case errors.As(err, &assemblyErr):
		return OutcomeAssemblyFailed
	case errors.As(err, &missingErr):
		return OutcomeMissingOutput
	default:
		return OutcomeGenerationFailed
	}
}

func (o *Orchestrator) resolvePersona(current *turn, req TurnRequest) string {
	if strings.TrimSpace(req.Persona) != "" || req.CharacterID == "" || o.characters == nil {
		return req.Persona
	}

	persona, found := o.characters.Persona(req.CharacterID)
	if !found {
		o.log.Warn(logFmtNoPersona, current.id, req.CharacterID)

		return ""
	}

	return PersonaFromCharacter(persona)
}

func (o *Orchestrator) turnID(filename string) string {
	id := o.newID()

	stem := ttsutils.FileStem(filename)
	if stem == "" {
		return id
	}

	return stem + turnIDSeparator + id
}

func validateTurn(req TurnRequest) (ChunkMethod, error) {
	if strings.TrimSpace(req.Transcript) == "" {
		return ChunkUnset, &ValidationError{Field: "transcript", Err: ErrTranscriptEmpty}
	}

	if req.Temperature < MinTemperature || req.Temperature > MaxTemperature {
		return ChunkUnset, &ValidationError{
			Field: "temperature",
			Err:   fmt.Errorf("%w: got %g", ErrTemperatureRange, req.Temperature),
		}
	}

	method, methodErr := ParseChunkMethod(req.ChunkMethod)
	if methodErr != nil {
		return ChunkUnset, &ValidationError{Field: "chunk_method", Err: methodErr}
	}

	switch req.ReturnMode {
	case "", ReturnBase64, ReturnURL:
	default:
		return ChunkUnset, &ValidationError{
			Field: "return_audio",
			Err:   fmt.Errorf("%w: %q", ErrUnknownReturnMode, req.ReturnMode),
		}
	}

	for _, ref := range req.VoiceRefs {
		if strings.TrimSpace(ref) == "" {
			return ChunkUnset, &ValidationError{Field: "voice_refs", Err: ErrVoiceRefEmpty}
		}
	}

	return method, nil
}
