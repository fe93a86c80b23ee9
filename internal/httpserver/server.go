// Package httpserver exposes the turn pipeline, the character catalog and the chat
// proxies over HTTP.
package httpserver

import (
	"context"
	"errors"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voicechat-service/internal/character"
	"github.com/book-expert/voicechat-service/internal/chat"
	"github.com/book-expert/voicechat-service/internal/metrics"
	"github.com/book-expert/voicechat-service/internal/tts"
	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

const (
	serverHeader           = "voicechat-service"
	defaultShutdownTimeout = 5 * time.Second
	defaultBodyLimit       = 50 * 1024 * 1024
	audioRoutePrefix       = "/audio"

	logFmtListening = "HTTP server listening on %s"
	logFmtShutdown  = "HTTP server shutting down"
)

// ErrMissingDependency is returned when a required collaborator is nil.
var ErrMissingDependency = errors.New("missing server dependency")

// TurnRunner runs one spoken turn.
type TurnRunner interface {
	Run(ctx context.Context, req tts.TurnRequest) (*tts.TurnResult, error)
	OutputDir() string
}

// Catalog is the character store used by the character routes.
type Catalog interface {
	All() []character.Character
	Count() int
	Get(id string) (character.Character, error)
	Create(input character.Character) (character.Character, error)
	Update(id string, patch character.Patch) (character.Character, error)
	Delete(id string) error
	Search(query string) []character.Character
	Stats() character.Stats
}

// Roleplayer answers text prompts in character.
type Roleplayer interface {
	Reply(ctx context.Context, profile character.Character, prompt string, maxTokens int) (chat.Reply, error)
}

// Listener captions and answers recorded audio in character.
type Listener interface {
	Listen(ctx context.Context, profile character.Character, wav []byte) (chat.Exchange, error)
}

// Config holds the HTTP surface settings.
type Config struct {
	// BaseContext parents every request context. Cancelling it aborts in-flight turns
	// and upstream calls. Defaults to context.Background.
	BaseContext        context.Context
	ListenAddr         string
	BodyLimit          int
	ShutdownTimeout    time.Duration
	DefaultTemperature float64
}

// Dependencies are the collaborators wired into the routes. Roleplayer and Listener are
// optional; their routes answer 503 when absent.
type Dependencies struct {
	Turns      TurnRunner
	Characters Catalog
	Roleplayer Roleplayer
	Listener   Listener
	Metrics    *metrics.Provider
	GPUProbe   func(ctx context.Context) string
	Log        *logger.Logger
}

// Server wraps the Fiber app and configuration.
type Server struct {
	baseCtx        context.Context
	cancelRequests context.CancelFunc
	app            *fiber.App
	deps           Dependencies
	cfg            Config
}

// New constructs a server with baseline middleware and all routes registered.
func New(cfg Config, deps Dependencies) (*Server, error) {
	if deps.Turns == nil || deps.Characters == nil || deps.Log == nil {
		return nil, ErrMissingDependency
	}

	if deps.GPUProbe == nil {
		deps.GPUProbe = ProbeGPU
	}

	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = defaultBodyLimit
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ServerHeader:          serverHeader,
		BodyLimit:             cfg.BodyLimit,
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
	})

	app.Use(requestid.New())
	app.Use(fiberlogger.New())
	app.Use(recover.New())

	if deps.Metrics != nil {
		app.Use(func(c *fiber.Ctx) error {
			start := time.Now()
			err := c.Next()

			route := c.Path()
			if r := c.Route(); r != nil && r.Path != "" {
				route = r.Path
			}

			deps.Metrics.RecordHTTPRequest(c.Method(), route, c.Response().StatusCode(), time.Since(start))

			return err
		})

		app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics.Handler()))
	}

	parent := cfg.BaseContext
	if parent == nil {
		parent = context.Background()
	}

	baseCtx, cancelRequests := context.WithCancel(parent)

	server := &Server{baseCtx: baseCtx, cancelRequests: cancelRequests, app: app, deps: deps, cfg: cfg}
	server.registerRoutes()

	return server, nil
}

func (s *Server) registerRoutes() {
	s.app.Get("/health", s.handleHealth)
	s.app.Post("/generate", s.handleGenerate)
	s.app.Static(audioRoutePrefix, s.deps.Turns.OutputDir(), fiber.Static{Browse: false})

	api := s.app.Group("/api")
	api.Post("/chat", s.handleChat)
	api.Post("/turn", s.handleTurn)
	api.Get("/stats", s.handleStats)

	characters := api.Group("/characters")
	characters.Get("/", s.handleListCharacters)
	characters.Post("/", s.handleCreateCharacter)
	characters.Get("/search", s.handleSearchCharacters)
	characters.Get("/:id", s.handleGetCharacter)
	characters.Put("/:id", s.handleUpdateCharacter)
	characters.Delete("/:id", s.handleDeleteCharacter)
}

// App exposes the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// requestContext derives a handler context that ends with the request's user context
// or with the server's base context, whichever comes first. fasthttp does not cancel
// on client disconnect, so shutdown is what stops a long turn.
func (s *Server) requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(c.UserContext())
	stop := context.AfterFunc(s.baseCtx, cancel)

	return ctx, func() {
		stop()
		cancel()
	}
}

// Listen blocks until context cancellation or a fatal listen error occurs.
func (s *Server) Listen(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.deps.Log.Info(logFmtListening, s.cfg.ListenAddr)
		errCh <- s.app.Listen(s.cfg.ListenAddr)
	}()

	select {
	case <-ctx.Done():
		s.deps.Log.Info(logFmtShutdown)
		s.cancelRequests()

		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		err := s.app.ShutdownWithContext(shutdownCtx)
		if err == nil {
			err = <-errCh
		}

		return err
	case err := <-errCh:
		return err
	}
}
