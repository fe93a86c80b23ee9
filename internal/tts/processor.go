package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voicechat-service/internal/core"
	"github.com/book-expert/voicechat-service/internal/tts/text"
)

const (
	defaultInterpreter     = "python"
	scriptWaitDelay        = 5 * time.Second
	transcriptFilePattern  = "transcript-*.txt"
	scenePromptFilePattern = "scene-*.txt"
	refSeparator           = ","
	logFmtScriptStart      = "Running generation script for %s"
	logFmtTempRemoveFailed = "Failed to remove temp file '%s': %v"
)

// Generation script flags.
const (
	flagTranscript              = "--transcript"
	flagTemperature             = "--temperature"
	flagOutPath                 = "--out_path"
	flagRefAudio                = "--ref_audio"
	flagRefAudioInSystemMessage = "--ref_audio_in_system_message"
	flagChunkMethod             = "--chunk_method"
	flagSeed                    = "--seed"
	flagScenePrompt             = "--scene_prompt"
)

// ErrScriptPathEmpty indicates that no generation script was configured.
var ErrScriptPathEmpty = errors.New("generation script path cannot be empty")

// ScriptConfig configures the subprocess generator.
type ScriptConfig struct {
	Interpreter string
	ScriptPath  string
	WorkDir     string
	Timeout     time.Duration
}

// ScriptGenerator implements core.AudioGenerator by running the generation script once
// per request.
type ScriptGenerator struct {
	preprocessor *text.Preprocessor
	log          *logger.Logger
	config       ScriptConfig
}

// NewScriptGenerator creates a ScriptGenerator.
func NewScriptGenerator(cfg ScriptConfig, log *logger.Logger) (*ScriptGenerator, error) {
	if strings.TrimSpace(cfg.ScriptPath) == "" {
		return nil, ErrScriptPathEmpty
	}

	if cfg.Interpreter == "" {
		cfg.Interpreter = defaultInterpreter
	}

	return &ScriptGenerator{
		preprocessor: text.NewPreprocessor(),
		log:          log,
		config:       cfg,
	}, nil
}

// Generate normalizes the text, runs the script and waits for it. A failed run returns a
// *core.GeneratorOutputError carrying the script's stdout and stderr.
func (g *ScriptGenerator) Generate(ctx context.Context, req core.GenerateRequest) error {
	transcriptPath, transcriptErr := writeTempFile(transcriptFilePattern, g.preprocessor.PreprocessText(req.Text))
	if transcriptErr != nil {
		return transcriptErr
	}
	defer g.removeTemp(transcriptPath)

	var scenePath string

	if req.ScenePrompt != "" {
		path, sceneErr := writeTempFile(scenePromptFilePattern, req.ScenePrompt)
		if sceneErr != nil {
			return sceneErr
		}
		defer g.removeTemp(path)

		scenePath = path
	}

	if g.config.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()
	}

	args := append([]string{g.config.ScriptPath}, buildScriptArgs(req, transcriptPath, scenePath)...)

	// #nosec G204 -- the interpreter and script come from configuration
	cmd := exec.CommandContext(ctx, g.config.Interpreter, args...)
	cmd.Dir = g.config.WorkDir
	cmd.WaitDelay = scriptWaitDelay

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	g.log.Info(logFmtScriptStart, req.OutPath)

	runErr := cmd.Run()
	if runErr != nil {
		if ctx.Err() != nil {
			runErr = fmt.Errorf("%w: %w", runErr, ctx.Err())
		}

		return &core.GeneratorOutputError{
			Err:    fmt.Errorf("generation script failed: %w", runErr),
			Stdout: stdout.String(),
			Stderr: stderr.String(),
		}
	}

	return nil
}

// buildScriptArgs maps a request onto the generation script's flags.
func buildScriptArgs(req core.GenerateRequest, transcriptPath, scenePath string) []string {
	args := []string{
		flagTranscript, transcriptPath,
		flagTemperature, strconv.FormatFloat(req.Temperature, 'f', -1, 64),
		flagOutPath, req.OutPath,
	}

	if len(req.VoiceRefs) > 0 {
		args = append(args, flagRefAudio, strings.Join(req.VoiceRefs, refSeparator))
	}

	if req.RefAudioInSystemMessage {
		args = append(args, flagRefAudioInSystemMessage)
	}

	if req.NativeSpeakerChunking {
		args = append(args, flagChunkMethod, string(ChunkSpeaker))
	}

	if req.Seed != nil {
		args = append(args, flagSeed, strconv.Itoa(*req.Seed))
	}

	if scenePath != "" {
		args = append(args, flagScenePrompt, scenePath)
	}

	return args
}

func writeTempFile(pattern, content string) (string, error) {
	file, createErr := os.CreateTemp("", pattern)
	if createErr != nil {
		return "", fmt.Errorf("failed to create temp file: %w", createErr)
	}

	_, writeErr := file.WriteString(content)
	closeErr := file.Close()

	if writeErr != nil || closeErr != nil {
		_ = os.Remove(file.Name())

		return "", fmt.Errorf("failed to write temp file %s: %w", file.Name(), errors.Join(writeErr, closeErr))
	}

	return file.Name(), nil
}

func (g *ScriptGenerator) removeTemp(path string) {
	removeErr := os.Remove(path)
	if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		g.log.Warn(logFmtTempRemoveFailed, path, removeErr)
	}
}
