package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. Levels are separated by a
// double underscore: BENCH_SERVER__PORT=9000.
const EnvPrefix = "BENCH_"

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Flow       FlowConfig       `koanf:"flow"`
	Session    SessionConfig    `koanf:"session"`
	Storage    StorageConfig    `koanf:"storage"`
	Completion CompletionConfig `koanf:"completion"`
	Log        LogConfig        `koanf:"log"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

type FlowConfig struct {
	ThinkingDelay  time.Duration `koanf:"thinking_delay"`
	SuggestedPeers []PeerConfig  `koanf:"suggested_peers"` // Optional: replaces the built-in catalog
}

type PeerConfig struct {
	ID        string `koanf:"id"`
	Name      string `koanf:"name"`
	Reference string `koanf:"reference"`
}

type SessionConfig struct {
	TTL             time.Duration `koanf:"ttl"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // memory, sqlite, none
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type CompletionConfig struct {
	Provider      string        `koanf:"provider"` // perplexity, openai, anthropic
	APIKey        string        `koanf:"api_key"`
	BaseURL       string        `koanf:"base_url"`
	Model         string        `koanf:"model"`
	MaxTokens     int           `koanf:"max_tokens"`
	Temperature   float64       `koanf:"temperature"`
	Stream        bool          `koanf:"stream"`
	Timeout       time.Duration `koanf:"timeout"`
	HistoryTokens int           `koanf:"history_tokens"` // prompt budget for transcript history
}

type LogConfig struct {
	Level string `koanf:"level"`
	File  string `koanf:"file"` // Optional: also write rotated logs here
}

type TelemetryConfig struct {
	Enabled bool `koanf:"enabled"`
}

var defaults = map[string]any{
	"server.port":               8080,
	"server.request_timeout":    "60s",
	"flow.thinking_delay":       "2s",
	"session.ttl":               "30m",
	"session.cleanup_interval":  "5m",
	"storage.type":              "memory",
	"storage.sqlite.path":       "bench.db",
	"completion.provider":       "perplexity",
	"completion.max_tokens":     1000,
	"completion.temperature":    0.7,
	"completion.timeout":        "30s",
	"completion.history_tokens": 4000,
	"log.level":                 "info",
	"telemetry.enabled":         false,
}

// defaultModels is used when completion.model is unset.
var defaultModels = map[string]string{
	"perplexity": "llama-3.1-sonar-small-128k-online",
	"openai":     "gpt-4o-mini",
	"anthropic":  "claude-3-5-haiku-latest",
}

// apiKeyEnv names the conventional variable read when completion.api_key is
// unset.
var apiKeyEnv = map[string]string{
	"perplexity": "PERPLEXITY_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads config.yaml (or the file named by BENCH_CONFIG) and then
// environment overrides.
func Load() (*Config, error) {
	path := os.Getenv(EnvPrefix + "CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	return LoadFile(path)
}

// LoadFile is Load with an explicit config file path. A missing file is not
// an error.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Completion.Provider = strings.ToLower(cfg.Completion.Provider)
	cfg.Completion.APIKey = substituteEnvVars(cfg.Completion.APIKey)
	if cfg.Completion.APIKey == "" {
		if name, ok := apiKeyEnv[cfg.Completion.Provider]; ok {
			cfg.Completion.APIKey = os.Getenv(name)
		}
	}
	if cfg.Completion.Model == "" {
		cfg.Completion.Model = defaultModels[cfg.Completion.Provider]
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated values and ranges.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Type {
	case "memory", "sqlite", "none":
	default:
		errs = append(errs, fmt.Errorf("storage.type %q: want memory, sqlite or none", c.Storage.Type))
	}
	if c.Storage.Type == "sqlite" && c.Storage.SQLite.Path == "" {
		errs = append(errs, errors.New("storage.sqlite.path is required for sqlite storage"))
	}
	if _, ok := defaultModels[c.Completion.Provider]; !ok {
		errs = append(errs, fmt.Errorf("completion.provider %q: want perplexity, openai or anthropic", c.Completion.Provider))
	}
	if c.Flow.ThinkingDelay < 0 {
		errs = append(errs, errors.New("flow.thinking_delay must not be negative"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	for i, p := range c.Flow.SuggestedPeers {
		if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Name) == "" {
			errs = append(errs, fmt.Errorf("flow.suggested_peers[%d]: id and name are required", i))
		}
	}
	return errors.Join(errs...)
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
