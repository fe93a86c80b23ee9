// Command voicechat-service serves voice turns over HTTP and, when NATS is configured,
// renders TextProcessedEvent requests from the queue.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/book-expert/voicechat-service/internal/character"
	"github.com/book-expert/voicechat-service/internal/chat"
	"github.com/book-expert/voicechat-service/internal/config"
	"github.com/book-expert/voicechat-service/internal/core"
	"github.com/book-expert/voicechat-service/internal/httpserver"
	"github.com/book-expert/voicechat-service/internal/metrics"
	"github.com/book-expert/voicechat-service/internal/objectstore"
	"github.com/book-expert/voicechat-service/internal/tts"
	"github.com/book-expert/voicechat-service/internal/tts/ttsutils"
	"github.com/book-expert/voicechat-service/internal/worker"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

const (
	bootstrapLogFile = "voicechat-service-bootstrap.log"
	serviceLogFile   = "voicechat-service.log"
	natsClientName   = "voicechat-service"
)

var errNothingToRun = errors.New("both the HTTP server and the NATS worker are disabled")

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger in %s: %w", logPath, err)
	}

	return log, nil
}

func run() error {
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}
	defer bootstrapLog.Close()

	envErr := godotenv.Load()
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		bootstrapLog.Warn("Failed to load .env file: %v", envErr)
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return err
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	if cfg.Server.Disabled && cfg.NATS.URL == "" {
		return errNothingToRun
	}

	provider, err := metrics.New()
	if err != nil {
		return fmt.Errorf("failed to create metrics provider: %w", err)
	}

	characters, err := character.Open(cfg.Characters.DataFile, cfg.Characters.SeedFile, log)
	if err != nil {
		return fmt.Errorf("failed to open character catalog: %w", err)
	}

	provider.SetCharacterCount(characters.Count())

	generator, err := newGenerator(cfg, log)
	if err != nil {
		return err
	}

	ensureErr := ttsutils.EnsureDir(cfg.Generation.OutputDir)
	if ensureErr != nil {
		return fmt.Errorf("failed to create output directory: %w", ensureErr)
	}

	orchestrator := tts.NewOrchestrator(
		generator,
		cfg.Generation.OutputDir,
		log,
		tts.WithCharacters(characters),
		tts.WithBaseScene(cfg.Generation.BaseScene),
		tts.WithRecorder(provider),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	if !cfg.Server.Disabled {
		server, serverErr := newServer(groupCtx, cfg, orchestrator, characters, provider, log)
		if serverErr != nil {
			return serverErr
		}

		group.Go(func() error { return server.Listen(groupCtx) })
	}

	if cfg.NATS.URL != "" {
		natsConnection, natsWorker, workerErr := newWorker(cfg, orchestrator, provider, log)
		if workerErr != nil {
			return workerErr
		}
		defer natsConnection.Close()

		group.Go(func() error { return natsWorker.Run(groupCtx) })
	}

	log.System("voicechat-service started (backend=%s, output=%s)", cfg.Generation.Backend, cfg.Generation.OutputDir)

	waitErr := group.Wait()
	if waitErr != nil {
		log.Error("Service stopped with error: %v", waitErr)

		return waitErr
	}

	log.System("voicechat-service stopped")

	return nil
}

// newGenerator selects the speech generation primitive named by the configuration.
func newGenerator(cfg *config.Config, log *logger.Logger) (core.AudioGenerator, error) {
	if cfg.Generation.Backend == config.BackendHTTP {
		log.Info("Using HTTP generation backend at %s", cfg.Generation.TTSServiceURL)

		return tts.NewHTTPGenerator(cfg.Generation.TTSServiceURL, cfg.GenerationTimeout(), log), nil
	}

	scriptPath, err := ttsutils.ResolveScriptPath(cfg.Generation.ScriptPath)
	if err != nil {
		return nil, fmt.Errorf("failed to locate generation script: %w", err)
	}

	log.Info("Using generation script %s", scriptPath)

	generator, err := tts.NewScriptGenerator(tts.ScriptConfig{
		Interpreter: cfg.Generation.Interpreter,
		ScriptPath:  scriptPath,
		WorkDir:     cfg.Generation.WorkDir,
		Timeout:     cfg.GenerationTimeout(),
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create script generator: %w", err)
	}

	return generator, nil
}

func newServer(
	ctx context.Context,
	cfg *config.Config,
	orchestrator *tts.Orchestrator,
	characters *character.Store,
	provider *metrics.Provider,
	log *logger.Logger,
) (*httpserver.Server, error) {
	deps := httpserver.Dependencies{
		Turns:      orchestrator,
		Characters: characters,
		Metrics:    provider,
		Log:        log,
	}

	roleplayer, err := chat.NewRoleplayer(chat.ClientConfig{
		Observer:  provider,
		BaseURL:   cfg.Chat.BaseURL,
		APIKey:    cfg.ChatAPIKey(),
		Model:     cfg.Chat.Model,
		MaxTokens: cfg.Chat.MaxTokens,
	})
	if err != nil {
		log.Warn("Text chat disabled: %v", err)
	} else {
		deps.Roleplayer = roleplayer
	}

	listener, err := chat.NewListener(chat.ClientConfig{
		Observer:  provider,
		BaseURL:   cfg.Understanding.BaseURL,
		APIKey:    cfg.UnderstandingAPIKey(),
		Model:     cfg.Understanding.Model,
		MaxTokens: cfg.Understanding.MaxTokens,
	})
	if err != nil {
		log.Warn("Voice turns disabled: %v", err)
	} else {
		deps.Listener = listener
	}

	server, err := httpserver.New(httpserver.Config{
		BaseContext:        ctx,
		ListenAddr:         cfg.Server.ListenAddr,
		BodyLimit:          cfg.BodyLimitBytes(),
		ShutdownTimeout:    cfg.ShutdownTimeout(),
		DefaultTemperature: cfg.Generation.DefaultTemperature,
	}, deps)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP server: %w", err)
	}

	return server, nil
}

func newWorker(
	cfg *config.Config,
	orchestrator *tts.Orchestrator,
	provider *metrics.Provider,
	log *logger.Logger,
) (*nats.Conn, *worker.NatsWorker, error) {
	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name(natsClientName))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	jetStream, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	texts, err := objectstore.New(jetStream, cfg.NATS.TextObjectStoreBucket)
	if err != nil {
		natsConnection.Close()

		return nil, nil, fmt.Errorf("failed to open text object store: %w", err)
	}

	audio := texts
	if cfg.NATS.AudioObjectStoreBucket != cfg.NATS.TextObjectStoreBucket {
		audio, err = objectstore.New(jetStream, cfg.NATS.AudioObjectStoreBucket)
		if err != nil {
			natsConnection.Close()

			return nil, nil, fmt.Errorf("failed to open audio object store: %w", err)
		}
	}

	log.Info("Connected to NATS at %s (text bucket=%s, audio bucket=%s)", cfg.NATS.URL, texts.Bucket(), audio.Bucket())

	natsWorker := worker.NewNatsWorker(
		natsConnection,
		worker.Config{
			Subject:    cfg.NATS.Subject,
			QueueGroup: cfg.NATS.QueueGroup,
			Timeout:    cfg.GenerationTimeout(),
		},
		texts,
		audio,
		orchestrator,
		provider,
		log,
	)

	return natsConnection, natsWorker, nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
