// Package config loads woochi configuration from defaults, the user config
// file, a project config file and WOOCHI_* environment variables, in that
// order of increasing precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	woerrors "github.com/Aman-CERP/woochi/internal/errors"
)

// Config represents the complete woochi configuration.
type Config struct {
	Version    int              `yaml:"version" toml:"version" json:"version"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" toml:"retrieval" json:"retrieval"`
	Lexical    LexicalConfig    `yaml:"lexical" toml:"lexical" json:"lexical"`
	Vector     VectorConfig     `yaml:"vector" toml:"vector" json:"vector"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" toml:"embeddings" json:"embeddings"`
	Storage    StorageConfig    `yaml:"storage" toml:"storage" json:"storage"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging" json:"logging"`
}

// RetrievalConfig configures hybrid retrieval and fusion.
// Weights are configurable via:
//  1. User config (~/.config/woochi/config.yaml) - personal defaults
//  2. Project config (.woochi.yaml / .woochi.toml) - per-corpus tuning
//  3. Env vars (WOOCHI_LEXICAL_WEIGHT, WOOCHI_VECTOR_WEIGHT) - highest priority
type RetrievalConfig struct {
	// DefaultK is the result count used when a caller passes k <= 0.
	DefaultK int `yaml:"default_k" toml:"default_k" json:"default_k"`

	// LexicalWeight is the weight of the normalized BM25 score (0.0-1.0).
	// Must sum to 1.0 with VectorWeight.
	LexicalWeight float64 `yaml:"lexical_weight" toml:"lexical_weight" json:"lexical_weight"`

	// VectorWeight is the weight of the normalized cosine score (0.0-1.0).
	VectorWeight float64 `yaml:"vector_weight" toml:"vector_weight" json:"vector_weight"`

	// OverfetchFactor multiplies k for each per-signal search before fusion.
	OverfetchFactor int `yaml:"overfetch_factor" toml:"overfetch_factor" json:"overfetch_factor"`

	// EmbedTimeout bounds the query embedding call (e.g. "10s").
	EmbedTimeout string `yaml:"embed_timeout" toml:"embed_timeout" json:"embed_timeout"`

	// AllowDegraded answers lexical-only when the vector path fails.
	AllowDegraded bool `yaml:"allow_degraded" toml:"allow_degraded" json:"allow_degraded"`
}

// LexicalConfig configures the BM25 index.
type LexicalConfig struct {
	// Backend is "memory" (exact BM25, default) or "bleve".
	Backend        string   `yaml:"backend" toml:"backend" json:"backend"`
	K1             float64  `yaml:"k1" toml:"k1" json:"k1"`
	B              float64  `yaml:"b" toml:"b" json:"b"`
	StopWords      []string `yaml:"stop_words" toml:"stop_words" json:"stop_words"`
	MinTokenLength int      `yaml:"min_token_length" toml:"min_token_length" json:"min_token_length"`
}

// VectorConfig configures the vector index.
type VectorConfig struct {
	// Backend is "flat" (exact, default) or "hnsw" (approximate).
	Backend  string `yaml:"backend" toml:"backend" json:"backend"`
	M        int    `yaml:"m" toml:"m" json:"m"`
	EfSearch int    `yaml:"ef_search" toml:"ef_search" json:"ef_search"`
}

// EmbeddingsConfig configures the embedding provider and its decorators.
type EmbeddingsConfig struct {
	// Provider is "static" (offline default), "ollama" or "openai".
	Provider string `yaml:"provider" toml:"provider" json:"provider"`

	Model      string `yaml:"model" toml:"model" json:"model"`
	QueryModel string `yaml:"query_model" toml:"query_model" json:"query_model"`

	// Host is the Ollama endpoint (empty uses http://localhost:11434).
	Host string `yaml:"host" toml:"host" json:"host"`

	// BaseURL is the OpenAI-compatible endpoint (e.g. https://api.upstage.ai/v1).
	BaseURL string `yaml:"base_url" toml:"base_url" json:"base_url"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env" toml:"api_key_env" json:"api_key_env"`

	Dimensions int    `yaml:"dimensions" toml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" toml:"batch_size" json:"batch_size"`
	Workers    int    `yaml:"workers" toml:"workers" json:"workers"`
	Timeout    string `yaml:"timeout" toml:"timeout" json:"timeout"`

	MaxRetries     int    `yaml:"max_retries" toml:"max_retries" json:"max_retries"`
	InitialBackoff string `yaml:"initial_backoff" toml:"initial_backoff" json:"initial_backoff"`

	// CacheSize is the number of query embeddings kept in the LRU (0 = off).
	CacheSize int `yaml:"cache_size" toml:"cache_size" json:"cache_size"`

	// RateLimit is provider requests per second (0 = unlimited).
	RateLimit float64 `yaml:"rate_limit" toml:"rate_limit" json:"rate_limit"`

	CircuitThreshold int    `yaml:"circuit_threshold" toml:"circuit_threshold" json:"circuit_threshold"`
	CircuitTimeout   string `yaml:"circuit_timeout" toml:"circuit_timeout" json:"circuit_timeout"`
}

// StorageConfig configures the durable catalog.
type StorageConfig struct {
	// Backend is "memory" (nothing persisted), "sqlite" (default) or "badger".
	Backend string `yaml:"backend" toml:"backend" json:"backend"`

	// Path is the data directory. Empty uses ~/.woochi/data.
	Path string `yaml:"path" toml:"path" json:"path"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level" toml:"level" json:"level"`
	File      string `yaml:"file" toml:"file" json:"file"`
	Stderr    bool   `yaml:"stderr" toml:"stderr" json:"stderr"`
	MaxSizeMB int    `yaml:"max_size_mb" toml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" toml:"max_files" json:"max_files"`
}

// Project config file names, in lookup order.
var projectConfigFiles = []string{".woochi.yaml", ".woochi.yml", ".woochi.toml"}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Retrieval: RetrievalConfig{
			DefaultK:        5,
			LexicalWeight:   0.5,
			VectorWeight:    0.5,
			OverfetchFactor: 2,
			EmbedTimeout:    "10s",
			AllowDegraded:   true,
		},
		Lexical: LexicalConfig{
			Backend:        "memory",
			K1:             1.5,
			B:              0.75,
			MinTokenLength: 1,
		},
		Vector: VectorConfig{
			Backend:  "flat",
			M:        16,
			EfSearch: 50,
		},
		Embeddings: EmbeddingsConfig{
			Provider:         "static",
			APIKeyEnv:        "OPENAI_API_KEY",
			BatchSize:        32,
			Workers:          4,
			Timeout:          "60s",
			MaxRetries:       3,
			InitialBackoff:   "200ms",
			CacheSize:        1000,
			CircuitThreshold: 5,
			CircuitTimeout:   "30s",
		},
		Storage: StorageConfig{
			Backend: "sqlite",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// GetUserConfigPath returns the user config file path.
// Uses $XDG_CONFIG_HOME/woochi/config.yaml if set, else ~/.config/woochi/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "woochi", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "woochi", "config.yaml")
	}
	return filepath.Join(home, ".config", "woochi", "config.yaml")
}

// DefaultDataDir returns ~/.woochi/data.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".woochi", "data")
	}
	return filepath.Join(home, ".woochi", "data")
}

// Load loads configuration with layered precedence:
//  1. Hardcoded defaults (NewConfig)
//  2. User config (~/.config/woochi/config.yaml or config.toml)
//  3. Project config (dir/.woochi.yaml, .woochi.yml or .woochi.toml)
//  4. Environment variables (WOOCHI_*)
//
// Each file only overrides the keys it sets. The result is validated.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadUserConfig(); err != nil {
		return nil, woerrors.New(woerrors.ErrCodeConfigParse, "failed to load user config", err)
	}

	if dir != "" {
		if err := cfg.loadFromDir(dir); err != nil {
			return nil, woerrors.New(woerrors.ErrCodeConfigParse, "failed to load project config", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadUserConfig() error {
	yamlPath := GetUserConfigPath()
	if fileExists(yamlPath) {
		return c.overlayFile(yamlPath)
	}
	tomlPath := strings.TrimSuffix(yamlPath, ".yaml") + ".toml"
	if fileExists(tomlPath) {
		return c.overlayFile(tomlPath)
	}
	return nil
}

// loadFromDir overlays the first project config file found in dir.
func (c *Config) loadFromDir(dir string) error {
	for _, name := range projectConfigFiles {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.overlayFile(path)
		}
	}
	return nil
}

// overlayFile decodes path onto c. Keys absent from the file keep their
// current values; unknown keys are rejected.
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
		if err := dec.Decode(c); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		return nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyWeightEnv applies WOOCHI_LEXICAL_WEIGHT and WOOCHI_VECTOR_WEIGHT.
// When only one of them parses, the other becomes its complement so the
// pair still sums to 1.
func (c *Config) applyWeightEnv() {
	lex, lexOK := envFloat("WOOCHI_LEXICAL_WEIGHT")
	vec, vecOK := envFloat("WOOCHI_VECTOR_WEIGHT")
	switch {
	case lexOK && vecOK:
		c.Retrieval.LexicalWeight, c.Retrieval.VectorWeight = lex, vec
	case lexOK:
		c.Retrieval.LexicalWeight, c.Retrieval.VectorWeight = lex, 1-lex
	case vecOK:
		c.Retrieval.LexicalWeight, c.Retrieval.VectorWeight = 1-vec, vec
	}
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := parseFloat64(v)
	return f, err == nil
}

// applyEnvOverrides applies WOOCHI_* environment variables. Unparseable
// values are ignored.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("WOOCHI_DEFAULT_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Retrieval.DefaultK = k
		}
	}
	c.applyWeightEnv()
	if v := os.Getenv("WOOCHI_ALLOW_DEGRADED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Retrieval.AllowDegraded = b
		}
	}
	if v := os.Getenv("WOOCHI_EMBED_TIMEOUT"); v != "" {
		c.Retrieval.EmbedTimeout = v
	}

	if v := os.Getenv("WOOCHI_LEXICAL_BACKEND"); v != "" {
		c.Lexical.Backend = v
	}
	if v := os.Getenv("WOOCHI_VECTOR_BACKEND"); v != "" {
		c.Vector.Backend = v
	}

	if v := os.Getenv("WOOCHI_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("WOOCHI_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("WOOCHI_EMBEDDINGS_QUERY_MODEL"); v != "" {
		c.Embeddings.QueryModel = v
	}
	if v := os.Getenv("WOOCHI_OLLAMA_HOST"); v != "" {
		c.Embeddings.Host = v
	}
	if v := os.Getenv("WOOCHI_OPENAI_BASE_URL"); v != "" {
		c.Embeddings.BaseURL = v
	}

	if v := os.Getenv("WOOCHI_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("WOOCHI_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("WOOCHI_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func parseFloat64(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// Validate validates the configuration and returns an ERR_102 error naming
// the first invalid field.
func (c *Config) Validate() error {
	r := c.Retrieval
	if r.DefaultK <= 0 {
		return invalid("retrieval.default_k", "must be positive, got %d", r.DefaultK)
	}
	if r.LexicalWeight < 0 || r.LexicalWeight > 1 {
		return invalid("retrieval.lexical_weight", "must be between 0 and 1, got %g", r.LexicalWeight)
	}
	if r.VectorWeight < 0 || r.VectorWeight > 1 {
		return invalid("retrieval.vector_weight", "must be between 0 and 1, got %g", r.VectorWeight)
	}
	if sum := r.LexicalWeight + r.VectorWeight; math.Abs(sum-1.0) > 1e-9 {
		return invalid("retrieval.lexical_weight", "lexical_weight + vector_weight must equal 1.0, got %g", sum)
	}
	if r.OverfetchFactor < 1 {
		return invalid("retrieval.overfetch_factor", "must be at least 1, got %d", r.OverfetchFactor)
	}
	if err := checkDuration("retrieval.embed_timeout", r.EmbedTimeout); err != nil {
		return err
	}

	switch strings.ToLower(c.Lexical.Backend) {
	case "memory", "bleve":
	default:
		return invalid("lexical.backend", "must be 'memory' or 'bleve', got %q", c.Lexical.Backend)
	}
	if c.Lexical.K1 < 0 {
		return invalid("lexical.k1", "must be non-negative, got %g", c.Lexical.K1)
	}
	if c.Lexical.B < 0 || c.Lexical.B > 1 {
		return invalid("lexical.b", "must be between 0 and 1, got %g", c.Lexical.B)
	}

	switch strings.ToLower(c.Vector.Backend) {
	case "flat", "hnsw":
	default:
		return invalid("vector.backend", "must be 'flat' or 'hnsw', got %q", c.Vector.Backend)
	}

	e := c.Embeddings
	switch strings.ToLower(e.Provider) {
	case "static", "ollama", "openai":
	default:
		return invalid("embeddings.provider", "must be 'static', 'ollama' or 'openai', got %q", e.Provider)
	}
	if e.Dimensions < 0 {
		return invalid("embeddings.dimensions", "must be non-negative, got %d", e.Dimensions)
	}
	if e.BatchSize < 1 || e.BatchSize > 256 {
		return invalid("embeddings.batch_size", "must be between 1 and 256, got %d", e.BatchSize)
	}
	if e.Workers < 1 {
		return invalid("embeddings.workers", "must be at least 1, got %d", e.Workers)
	}
	if e.MaxRetries < 0 {
		return invalid("embeddings.max_retries", "must be non-negative, got %d", e.MaxRetries)
	}
	if e.RateLimit < 0 {
		return invalid("embeddings.rate_limit", "must be non-negative, got %g", e.RateLimit)
	}
	for _, d := range []struct{ field, value string }{
		{"embeddings.timeout", e.Timeout},
		{"embeddings.initial_backoff", e.InitialBackoff},
		{"embeddings.circuit_timeout", e.CircuitTimeout},
	} {
		if err := checkDuration(d.field, d.value); err != nil {
			return err
		}
	}

	switch strings.ToLower(c.Storage.Backend) {
	case "memory", "sqlite", "badger":
	default:
		return invalid("storage.backend", "must be 'memory', 'sqlite' or 'badger', got %q", c.Storage.Backend)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("logging.level", "must be 'debug', 'info', 'warn', or 'error', got %q", c.Logging.Level)
	}
	return nil
}

func invalid(field, format string, args ...any) error {
	return woerrors.ConfigError(field+": "+fmt.Sprintf(format, args...), nil).
		WithDetail("field", field)
}

// checkDuration accepts empty (use the built-in default) or a positive duration.
func checkDuration(field, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return woerrors.ConfigError(field+": invalid duration "+strconv.Quote(v), err).
			WithDetail("field", field)
	}
	if d <= 0 {
		return invalid(field, "must be positive, got %s", v)
	}
	return nil
}

// duration parses v, falling back to def when v is empty or invalid.
func duration(v string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	return def
}

// EmbedTimeoutDuration returns retrieval.embed_timeout.
func (r RetrievalConfig) EmbedTimeoutDuration() time.Duration {
	return duration(r.EmbedTimeout, 10*time.Second)
}

// TimeoutDuration returns embeddings.timeout.
func (e EmbeddingsConfig) TimeoutDuration() time.Duration {
	return duration(e.Timeout, 60*time.Second)
}

// InitialBackoffDuration returns embeddings.initial_backoff.
func (e EmbeddingsConfig) InitialBackoffDuration() time.Duration {
	return duration(e.InitialBackoff, 200*time.Millisecond)
}

// CircuitTimeoutDuration returns embeddings.circuit_timeout.
func (e EmbeddingsConfig) CircuitTimeoutDuration() time.Duration {
	return duration(e.CircuitTimeout, 30*time.Second)
}

// DataDir returns storage.path, or DefaultDataDir when unset.
func (s StorageConfig) DataDir() string {
	if s.Path != "" {
		return s.Path
	}
	return DefaultDataDir()
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Encode writes the configuration to w as "yaml" or "toml".
func (c *Config) Encode(w io.Writer, format string) error {
	switch strings.ToLower(format) {
	case "", "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(c); err != nil {
			return err
		}
		return enc.Close()
	case "toml":
		return toml.NewEncoder(w).Encode(c)
	default:
		return fmt.Errorf("unknown config format %q", format)
	}
}
