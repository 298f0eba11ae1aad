package embed

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	woerrors "github.com/Aman-CERP/woochi/internal/errors"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderStatic uses hash-based embeddings (offline default)
	ProviderStatic ProviderType = "static"

	// ProviderOllama uses the Ollama HTTP API
	ProviderOllama ProviderType = "ollama"

	// ProviderOpenAI uses an OpenAI-compatible API (OpenAI, Upstage Solar,
	// local servers)
	ProviderOpenAI ProviderType = "openai"
)

// ParseProviderType returns the provider type for name, case-insensitively.
func ParseProviderType(name string) (ProviderType, error) {
	switch p := ProviderType(strings.ToLower(strings.TrimSpace(name))); p {
	case ProviderStatic, ProviderOllama, ProviderOpenAI:
		return p, nil
	case "":
		return ProviderStatic, nil
	default:
		return "", woerrors.ConfigError(fmt.Sprintf("unknown embedding provider %q", name), nil).
			WithSuggestion("use one of: static, ollama, openai")
	}
}

// Config selects and tunes a provider and its decorators.
type Config struct {
	Provider   ProviderType
	Model      string
	QueryModel string
	Host       string // ollama
	BaseURL    string // openai
	APIKey     string // openai
	Dimensions int
	BatchSize  int
	Timeout    time.Duration

	MaxRetries     int
	InitialBackoff time.Duration

	// CacheSize <= 0 disables the query cache.
	CacheSize int

	// RateLimit is requests per second; <= 0 disables throttling.
	RateLimit float64

	// CircuitThreshold is consecutive failures before the circuit opens;
	// <= 0 disables the breaker.
	CircuitThreshold int
	CircuitTimeout   time.Duration

	// OnCircuitChange is called on every breaker transition.
	OnCircuitChange func(name string, from, to woerrors.State)
}

// DefaultConfig returns the offline static configuration with all
// decorators enabled.
func DefaultConfig() Config {
	return Config{
		Provider:         ProviderStatic,
		BatchSize:        DefaultBatchSize,
		Timeout:          DefaultTimeout,
		MaxRetries:       DefaultMaxRetries,
		InitialBackoff:   200 * time.Millisecond,
		CacheSize:        DefaultEmbeddingCacheSize,
		CircuitThreshold: 5,
		CircuitTimeout:   30 * time.Second,
	}
}

// APIKeyFromEnv reads an API key from the named environment variable.
func APIKeyFromEnv(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

// NewProvider builds the configured provider and wraps it, innermost first,
// in rate limiting, retry, circuit breaker and query cache. Remote providers
// make no request until first use.
func NewProvider(cfg Config) (Provider, error) {
	base, err := newBaseProvider(cfg)
	if err != nil {
		return nil, err
	}

	var p Provider = base
	// Static embeddings cannot fail transiently.
	if cfg.Provider != ProviderStatic && cfg.Provider != "" {
		if cfg.RateLimit > 0 {
			p = NewRateLimitedProvider(p, cfg.RateLimit, 1)
		}
		if cfg.MaxRetries > 0 {
			retry := woerrors.DefaultRetryConfig()
			retry.MaxRetries = cfg.MaxRetries
			if cfg.InitialBackoff > 0 {
				retry.InitialDelay = cfg.InitialBackoff
			}
			p = NewRetryingProvider(p, retry)
		}
		if cfg.CircuitThreshold > 0 {
			opts := []woerrors.CircuitBreakerOption{
				woerrors.WithMaxFailures(cfg.CircuitThreshold),
				woerrors.WithResetTimeout(cfg.CircuitTimeout),
			}
			if cfg.OnCircuitChange != nil {
				opts = append(opts, woerrors.WithStateChange(cfg.OnCircuitChange))
			}
			p = NewBreakerProvider(p, woerrors.NewCircuitBreaker(string(cfg.Provider), opts...))
		}
	}
	if cfg.CacheSize > 0 {
		p = NewCachedProvider(p, cfg.CacheSize)
	}

	slog.Debug("embedding_provider_ready",
		"provider", string(cfg.Provider),
		"model", p.ModelName(),
		"cache_size", cfg.CacheSize,
		"rate_limit", cfg.RateLimit,
		"max_retries", cfg.MaxRetries)
	return p, nil
}

func newBaseProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case ProviderStatic, "":
		return NewStaticProvider(cfg.Dimensions), nil

	case ProviderOllama:
		oc := DefaultOllamaConfig()
		if cfg.Host != "" {
			oc.Host = cfg.Host
		}
		if cfg.Model != "" {
			oc.Model = cfg.Model
		}
		if cfg.BatchSize > 0 {
			oc.BatchSize = cfg.BatchSize
		}
		if cfg.Timeout > 0 {
			oc.Timeout = cfg.Timeout
		}
		oc.Dimensions = cfg.Dimensions
		return NewOllamaProvider(oc), nil

	case ProviderOpenAI:
		p, err := NewOpenAIProvider(OpenAIConfig{
			BaseURL:    cfg.BaseURL,
			Token:      cfg.APIKey,
			Model:      cfg.Model,
			QueryModel: cfg.QueryModel,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
		})
		if err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, woerrors.ConfigError(fmt.Sprintf("unknown embedding provider %q", cfg.Provider), nil)
	}
}
