package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ErrInvalid wraps all configuration validation failures so callers can treat
// them as fatal at startup.
var ErrInvalid = fmt.Errorf("invalid configuration")

type Config struct {
	Port            int
	NatsURL         string
	NatsToken       string
	DatabaseURL     string
	LogLevel        string
	AnthropicAPIKey string
	AnthropicModel  string
	EmbedEndpoint   string
	EmbedModel      string
	QuestionsPath   string
	SnapshotPath    string

	// Classification.
	ConfidenceThreshold int
	ContextWindow       int

	// Retrieval.
	CandidateCeiling int
	ExpansionCap     int
	MinLocalScore    float64

	// Batch ranking.
	BatchSize     int
	MaxRetries    int
	BatchDelay    time.Duration
	FailureDelay  time.Duration
	OracleTimeout time.Duration
}

func Load() Config {
	return Config{
		Port:            envInt("QUILL_PORT", 8760),
		NatsURL:         envStr("NATS_URL", "nats://hermes:4222"),
		NatsToken:       envStr("NATS_TOKEN", ""),
		DatabaseURL:     envStr("DATABASE_URL", ""),
		LogLevel:        envStr("LOG_LEVEL", "info"),
		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  envStr("QUILL_MODEL", "claude-sonnet-4-20250514"),
		EmbedEndpoint:   envStr("EMBED_ENDPOINT", "http://localhost:11434"),
		EmbedModel:      envStr("EMBED_MODEL", "mxbai-embed-large"),
		QuestionsPath:   envStr("QUILL_QUESTIONS", "questions.yaml"),
		SnapshotPath:    envStr("QUILL_INDEX_SNAPSHOT", "quill_index.gob"),

		ConfidenceThreshold: envInt("QUILL_CONFIDENCE_THRESHOLD", 2),
		ContextWindow:       envInt("QUILL_CONTEXT_WINDOW", 3),

		CandidateCeiling: envInt("QUILL_CANDIDATE_CEILING", 200),
		ExpansionCap:     envInt("QUILL_EXPANSION_CAP", 6),
		MinLocalScore:    envFloat("QUILL_MIN_LOCAL_SCORE", 0.5),

		BatchSize:     envInt("QUILL_BATCH_SIZE", 20),
		MaxRetries:    envInt("QUILL_MAX_RETRIES", 3),
		BatchDelay:    envDur("QUILL_BATCH_DELAY", 1500*time.Millisecond),
		FailureDelay:  envDur("QUILL_FAILURE_DELAY", 3*time.Second),
		OracleTimeout: envDur("QUILL_ORACLE_TIMEOUT", 60*time.Second),
	}
}

// Validate enforces the configuration ranges. Violations are fatal at startup:
// a misconfigured batch size or retry count would silently degrade every run.
func (c Config) Validate() error {
	if c.BatchSize < 5 || c.BatchSize > 50 {
		return fmt.Errorf("%w: batch size %d out of range [5, 50]", ErrInvalid, c.BatchSize)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("%w: max retries %d must be at least 1", ErrInvalid, c.MaxRetries)
	}
	if c.BatchDelay <= 0 || c.FailureDelay <= 0 {
		return fmt.Errorf("%w: batch delay %s and failure delay %s must be positive", ErrInvalid, c.BatchDelay, c.FailureDelay)
	}
	if c.FailureDelay < c.BatchDelay {
		return fmt.Errorf("%w: failure delay %s must not be shorter than batch delay %s", ErrInvalid, c.FailureDelay, c.BatchDelay)
	}
	if c.ContextWindow < 1 {
		return fmt.Errorf("%w: context window %d must be at least 1", ErrInvalid, c.ContextWindow)
	}
	if c.CandidateCeiling < 1 {
		return fmt.Errorf("%w: candidate ceiling %d must be at least 1", ErrInvalid, c.CandidateCeiling)
	}
	if c.ExpansionCap < 1 || c.ExpansionCap > 6 {
		return fmt.Errorf("%w: expansion cap %d out of range [1, 6]", ErrInvalid, c.ExpansionCap)
	}
	if c.OracleTimeout <= 0 {
		return fmt.Errorf("%w: oracle timeout %s must be positive", ErrInvalid, c.OracleTimeout)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
