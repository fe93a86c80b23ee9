// Package config provides the configuration structure for the voicechat-service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

// Backend names accepted in the generation section.
const (
	BackendScript = "script"
	BackendHTTP   = "http"
)

const (
	defaultNATSSubject        = "tts.generate"
	defaultObjectStoreBucket  = "AUDIO_FILES"
	defaultInterpreter        = "python"
	defaultOutputDir          = "output"
	defaultTimeoutSeconds     = 600
	defaultTemperature        = 0.35
	defaultListenAddr         = ":8000"
	defaultBodyLimitMB        = 50
	defaultShutdownSeconds    = 10
	defaultChatModel          = "gpt-4o-mini"
	defaultUnderstandingModel = "gpt-4o-audio-preview"
	defaultAPIKeyEnv          = "OPENAI_API_KEY"
	defaultMaxTokens          = 512
	defaultDataFile           = "characters.json"
	bytesPerMegabyte          = 1 << 20
)

var (
	// ErrUnknownBackend is returned when the generation backend is neither script nor http.
	ErrUnknownBackend = errors.New("unknown generation backend")
	// ErrServiceURLMissing is returned when the http backend has no service URL.
	ErrServiceURLMissing = errors.New("tts_service_url is required for the http backend")
	// ErrTemperatureOutOfRange is returned when the default temperature is outside [0, 2].
	ErrTemperatureOutOfRange = errors.New("default_temperature must be within [0, 2]")
)

// NATSConfig holds the configuration for the asynchronous worker. An empty URL disables it.
type NATSConfig struct {
	URL                    string `toml:"url"`
	Subject                string `toml:"subject"`
	QueueGroup             string `toml:"queue_group"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
	TextObjectStoreBucket  string `toml:"text_object_store_bucket"`
}

// GenerationConfig selects and tunes the audio generator.
type GenerationConfig struct {
	Backend            string  `toml:"backend"`
	Interpreter        string  `toml:"interpreter"`
	ScriptPath         string  `toml:"script_path"`
	WorkDir            string  `toml:"work_dir"`
	OutputDir          string  `toml:"output_dir"`
	TimeoutSeconds     int     `toml:"timeout_seconds"`
	DefaultTemperature float64 `toml:"default_temperature"`
	TTSServiceURL      string  `toml:"tts_service_url"`
	BaseScene          string  `toml:"base_scene"`
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	ListenAddr             string `toml:"listen_addr"`
	BodyLimitMB            int    `toml:"body_limit_mb"`
	ShutdownTimeoutSeconds int    `toml:"shutdown_timeout_seconds"`
	Disabled               bool   `toml:"disabled"`
}

// ChatConfig configures the in-character text chat endpoint.
type ChatConfig struct {
	BaseURL   string `toml:"base_url"`
	Model     string `toml:"model"`
	APIKeyEnv string `toml:"api_key_env"`
	MaxTokens int    `toml:"max_tokens"`
}

// UnderstandingConfig configures the audio understanding endpoint.
type UnderstandingConfig struct {
	BaseURL   string `toml:"base_url"`
	Model     string `toml:"model"`
	APIKeyEnv string `toml:"api_key_env"`
	MaxTokens int    `toml:"max_tokens"`
}

// CharactersConfig locates the character catalog files.
type CharactersConfig struct {
	DataFile string `toml:"data_file"`
	SeedFile string `toml:"seed_file"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS          NATSConfig          `toml:"nats"`
	Generation    GenerationConfig    `toml:"generation"`
	Server        ServerConfig        `toml:"server"`
	Chat          ChatConfig          `toml:"chat"`
	Understanding UnderstandingConfig `toml:"understanding"`
	Characters    CharactersConfig    `toml:"characters"`
	Paths         PathsConfig         `toml:"paths"`
}

// Load loads the project configuration through the configurator and applies defaults.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finalize(&cfg)
}

// LoadFile reads a TOML file from disk. It is used by tools and tests that bypass the configurator.
func LoadFile(path string) (*Config, error) {
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, readErr)
	}

	return Parse(data)
}

// Parse decodes TOML bytes into a Config and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	unmarshalErr := toml.Unmarshal(data, &cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", unmarshalErr)
	}

	return finalize(&cfg)
}

func finalize(cfg *Config) (*Config, error) {
	cfg.applyDefaults()

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.NATS.Subject == "" {
		c.NATS.Subject = defaultNATSSubject
	}

	if c.NATS.AudioObjectStoreBucket == "" {
		c.NATS.AudioObjectStoreBucket = defaultObjectStoreBucket
	}

	if c.NATS.TextObjectStoreBucket == "" {
		c.NATS.TextObjectStoreBucket = c.NATS.AudioObjectStoreBucket
	}

	c.Generation.Backend = strings.ToLower(strings.TrimSpace(c.Generation.Backend))
	if c.Generation.Backend == "" {
		c.Generation.Backend = BackendScript
	}

	if c.Generation.Interpreter == "" {
		c.Generation.Interpreter = defaultInterpreter
	}

	if c.Generation.OutputDir == "" {
		c.Generation.OutputDir = defaultOutputDir
	}

	if c.Generation.TimeoutSeconds <= 0 {
		c.Generation.TimeoutSeconds = defaultTimeoutSeconds
	}

	if c.Generation.DefaultTemperature == 0 {
		c.Generation.DefaultTemperature = defaultTemperature
	}

	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = defaultListenAddr
	}

	if c.Server.BodyLimitMB <= 0 {
		c.Server.BodyLimitMB = defaultBodyLimitMB
	}

	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = defaultShutdownSeconds
	}

	if c.Chat.Model == "" {
		c.Chat.Model = defaultChatModel
	}

	if c.Chat.APIKeyEnv == "" {
		c.Chat.APIKeyEnv = defaultAPIKeyEnv
	}

	if c.Chat.MaxTokens <= 0 {
		c.Chat.MaxTokens = defaultMaxTokens
	}

	if c.Understanding.Model == "" {
		c.Understanding.Model = defaultUnderstandingModel
	}

	if c.Understanding.APIKeyEnv == "" {
		c.Understanding.APIKeyEnv = c.Chat.APIKeyEnv
	}

	if c.Understanding.BaseURL == "" {
		c.Understanding.BaseURL = c.Chat.BaseURL
	}

	if c.Understanding.MaxTokens <= 0 {
		c.Understanding.MaxTokens = defaultMaxTokens
	}

	if c.Characters.DataFile == "" {
		c.Characters.DataFile = defaultDataFile
	}

	if c.Paths.BaseLogsDir == "" {
		c.Paths.BaseLogsDir = os.TempDir()
	}
}

// Validate reports configuration values that cannot be served.
func (c *Config) Validate() error {
	switch c.Generation.Backend {
	case BackendScript:
	case BackendHTTP:
		if c.Generation.TTSServiceURL == "" {
			return ErrServiceURLMissing
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Generation.Backend)
	}

	if c.Generation.DefaultTemperature < 0 || c.Generation.DefaultTemperature > 2 {
		return ErrTemperatureOutOfRange
	}

	return nil
}

// GenerationTimeout is the per-invocation generator timeout.
func (c *Config) GenerationTimeout() time.Duration {
	return time.Duration(c.Generation.TimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful HTTP shutdown.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// BodyLimitBytes is the maximum accepted request body.
func (c *Config) BodyLimitBytes() int {
	return c.Server.BodyLimitMB * bytesPerMegabyte
}

// ChatAPIKey resolves the chat API key from the environment.
func (c *Config) ChatAPIKey() string {
	return os.Getenv(c.Chat.APIKeyEnv)
}

// UnderstandingAPIKey resolves the understanding API key from the environment.
func (c *Config) UnderstandingAPIKey() string {
	return os.Getenv(c.Understanding.APIKeyEnv)
}
