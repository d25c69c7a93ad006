package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gastos/internal/core"
)

const (
	TransportTelegram = "telegram"
	TransportAMQP     = "amqp"
)

type Config struct {
	// Transport selection
	Transport string

	// Telegram
	TelegramBotToken    string
	TelegramBaseURL     string
	TelegramPollTimeout int

	// Ollama
	OllamaBaseURL      string
	OllamaExtractModel string
	OllamaEmbedModel   string
	OllamaTimeout      time.Duration

	// Application
	Timezone string
	Currency string
	LogLevel string

	// Storage
	ExpensesDBPath string
	VectorDBPath   string
	OffsetDBPath   string

	// AMQP
	AMQPURL          string
	AMQPExchange     string
	AMQPUpdatesQueue string
	AMQPEventsQueue  string

	// Worker and cache
	IndexQueueSize     int
	EmbeddingCacheSize int
	EmbeddingCacheTTL  time.Duration

	Tuning Tuning
}

// Tuning holds the retrieval, prompt and neighbor-vote knobs. It is built once
// and handed to the components that need it.
type Tuning struct {
	SimilarExamplesLimit       int
	SimilarExampleTextMaxChars int
	ExtractNumPredict          int

	NeighborTopK          int
	MinConsideredUnclear  int
	RatioUnclear          float64
	MinConsideredOverride int
	RatioOverride         float64
}

func DefaultTuning() Tuning {
	return Tuning{
		SimilarExamplesLimit:       3,
		SimilarExampleTextMaxChars: 80,
		ExtractNumPredict:          64,
		NeighborTopK:               3,
		MinConsideredUnclear:       2,
		RatioUnclear:               0.60,
		MinConsideredOverride:      3,
		RatioOverride:              0.80,
	}
}

func Load() *Config {
	cfg := &Config{
		Transport: strings.ToLower(getEnv("TRANSPORT", TransportTelegram)),

		TelegramBotToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramBaseURL:     getEnv("TELEGRAM_BASE_URL", "https://api.telegram.org"),
		TelegramPollTimeout: getEnvInt("TELEGRAM_POLL_TIMEOUT", 30, 0),

		OllamaBaseURL:      getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaExtractModel: getEnv("OLLAMA_EXTRACT_MODEL", "llama3.2:1b"),
		OllamaEmbedModel:   getEnv("OLLAMA_EMBED_MODEL", "nomic-embed-text"),
		OllamaTimeout:      getEnvDuration("OLLAMA_TIMEOUT", 60*time.Second),

		Timezone: getEnv("APP_TIMEZONE", "UTC"),
		Currency: getEnv("APP_CURRENCY", "ARS"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		ExpensesDBPath: getEnv("EXPENSES_DB_PATH", "./data/expenses.db"),
		VectorDBPath:   getEnv("VECTOR_DB_PATH", "./data/vectors.db"),
		OffsetDBPath:   getEnv("OFFSET_DB_PATH", "./data/offset.db"),

		AMQPURL:          getEnv("AMQP_URL", ""),
		AMQPExchange:     getEnv("AMQP_EXCHANGE", "gastos"),
		AMQPUpdatesQueue: getEnv("AMQP_UPDATES_QUEUE", "updates"),
		AMQPEventsQueue:  getEnv("AMQP_EVENTS_QUEUE", "expense_events"),

		IndexQueueSize:     getEnvInt("INDEX_QUEUE_SIZE", 256, 1),
		EmbeddingCacheSize: getEnvInt("EMBEDDING_CACHE_SIZE", 512, 0),
		EmbeddingCacheTTL:  getEnvDuration("EMBEDDING_CACHE_TTL", 30*time.Minute),
	}

	limit := getEnvInt("SIMILAR_EXAMPLES_LIMIT", 3, 1)
	cfg.Tuning = Tuning{
		SimilarExamplesLimit:       limit,
		SimilarExampleTextMaxChars: getEnvInt("SIMILAR_EXAMPLE_TEXT_MAX_CHARS", 80, 16),
		ExtractNumPredict:          getEnvInt("OLLAMA_EXTRACT_NUM_PREDICT", 64, 8),
		NeighborTopK:               getEnvInt("NEIGHBOR_PRIOR_TOP_K", limit, 1),
		MinConsideredUnclear:       getEnvInt("NEIGHBOR_PRIOR_MIN_CONSIDERED_UNCLEAR", 2, 1),
		RatioUnclear:               getEnvRatio("NEIGHBOR_PRIOR_RATIO_UNCLEAR", 0.60),
		MinConsideredOverride:      getEnvInt("NEIGHBOR_PRIOR_MIN_CONSIDERED_OVERRIDE", 3, 1),
		RatioOverride:              getEnvRatio("NEIGHBOR_PRIOR_RATIO_OVERRIDE", 0.80),
	}

	return cfg
}

// Location resolves Timezone, falling back to UTC. The second result is false
// when the configured name was not recognised.
func (c *Config) Location() (*time.Location, bool) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC, false
	}
	return loc, true
}

// Validate validates the configuration and returns an error wrapping
// core.ErrConfiguration if invalid
func (c *Config) Validate() error {
	var errors []string

	switch c.Transport {
	case TransportTelegram:
		if c.TelegramBotToken == "" {
			errors = append(errors, "TELEGRAM_BOT_TOKEN is required when using telegram transport")
		}
		if c.TelegramPollTimeout > 50 {
			errors = append(errors, fmt.Sprintf("invalid telegram poll timeout %d: must be at most 50 seconds", c.TelegramPollTimeout))
		}
	case TransportAMQP:
		if c.AMQPURL == "" {
			errors = append(errors, "AMQP_URL is required when using amqp transport")
		}
		if c.AMQPUpdatesQueue == "" {
			errors = append(errors, "AMQP updates queue name cannot be empty when using amqp transport")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid transport '%s': must be one of [%s %s]", c.Transport, TransportTelegram, TransportAMQP))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	if parsedURL, err := url.Parse(c.OllamaBaseURL); err != nil || parsedURL.Host == "" {
		errors = append(errors, fmt.Sprintf("invalid Ollama base URL '%s'", c.OllamaBaseURL))
	}
	if c.OllamaExtractModel == "" {
		errors = append(errors, "Ollama extract model cannot be empty")
	}
	if c.OllamaEmbedModel == "" {
		errors = append(errors, "Ollama embed model cannot be empty")
	}
	if c.OllamaTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid Ollama timeout %v: must be at least 1 second", c.OllamaTimeout))
	}

	if strings.TrimSpace(c.Currency) == "" {
		errors = append(errors, "currency cannot be empty")
	}

	for name, path := range map[string]string{
		"expenses": c.ExpensesDBPath,
		"vector":   c.VectorDBPath,
		"offset":   c.OffsetDBPath,
	} {
		if path == "" {
			errors = append(errors, fmt.Sprintf("%s database path cannot be empty", name))
			continue
		}
		dir := filepath.Dir(path)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create %s database directory '%s': %v", name, dir, err))
				}
			}
		}
	}

	if c.Tuning.RatioOverride <= c.Tuning.RatioUnclear {
		errors = append(errors, fmt.Sprintf("invalid neighbor prior ratios: override %.2f must be greater than unclear %.2f",
			c.Tuning.RatioOverride, c.Tuning.RatioUnclear))
	}

	if len(errors) > 0 {
		return fmt.Errorf("%w: configuration validation failed:\n- %s", core.ErrConfiguration, strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt reads an integer, raising it to minimum. Unparsable values use the default.
func getEnvInt(key string, defaultValue, minimum int) int {
	value := defaultValue
	if raw := os.Getenv(key); raw != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			value = i
		}
	}
	return max(minimum, value)
}

// getEnvRatio reads a float clamped to [0, 1].
func getEnvRatio(key string, defaultValue float64) float64 {
	value := defaultValue
	if raw := os.Getenv(key); raw != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
			value = f
		}
	}
	return min(1, max(0, value))
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
