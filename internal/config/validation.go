package config

import (
	"fmt"
	"net/http"
	"os"
	"slices"
	"time"
)

// validSSLModes are the SSL modes accepted by the pgx driver.
var validSSLModes = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. Token service
	if c.SigningKey == "" {
		return fmt.Errorf("%w: set ASKGATE_SIGNING_KEY", ErrMissingSigningKey)
	}
	if len(c.SigningKey) < 32 {
		return fmt.Errorf("%w: must be at least 32 bytes, got %d", ErrInvalidSigningKey, len(c.SigningKey))
	}
	if c.TokenTTL < time.Minute || c.TokenTTL > 24*time.Hour {
		return fmt.Errorf("%w: must be between 1m and 24h, got %s", ErrInvalidTokenTTL, c.TokenTTL)
	}

	// 2. Rate limiting
	if c.RateWindow < time.Second || c.RateWindow > time.Hour {
		return fmt.Errorf("%w: must be between 1s and 1h, got %s", ErrInvalidRateWindow, c.RateWindow)
	}
	if c.RateLimit < 1 || c.RateLimit > 100000 {
		return fmt.Errorf("%w: must be between 1 and 100000, got %d", ErrInvalidRateLimit, c.RateLimit)
	}

	// 3. Guard
	if c.MaxBodyBytes < 256 || c.MaxBodyBytes > 10*1024*1024 {
		return fmt.Errorf("%w: must be between 256 B and 10 MiB, got %d", ErrInvalidMaxBodyBytes, c.MaxBodyBytes)
	}
	for _, m := range c.AllowedMethods {
		switch m {
		case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			return fmt.Errorf("unsupported allowed method %q", m)
		}
	}

	// 4. Retrieval
	if c.RetrievalTopK < 1 || c.RetrievalTopK > 20 {
		return fmt.Errorf("%w: must be between 1 and 20, got %d", ErrInvalidTopK, c.RetrievalTopK)
	}
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		return fmt.Errorf("%w: must be between 0.0 and 1.0, got %.2f", ErrInvalidMinSimilarity, c.MinSimilarity)
	}
	if c.RetrievalTimeout < time.Second || c.RetrievalTimeout > time.Minute {
		return fmt.Errorf("%w: retrieval_timeout must be between 1s and 1m, got %s", ErrInvalidTimeout, c.RetrievalTimeout)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	// 5. Generator
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}
	if c.GeneratorTimeout < time.Second || c.GeneratorTimeout > 5*time.Minute {
		return fmt.Errorf("%w: generator_timeout must be between 1s and 5m, got %s", ErrInvalidTimeout, c.GeneratorTimeout)
	}
	if c.CitationFallback != CitationFallbackNone && c.CitationFallback != CitationFallbackAll {
		return fmt.Errorf("%w: must be %q or %q, got %q",
			ErrInvalidCitationPolicy, CitationFallbackNone, CitationFallbackAll, c.CitationFallback)
	}

	// 6. API key (required for embedding and generation)
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required", ErrMissingAPIKey)
	}

	// 7. PostgreSQL
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: must be one of %v, got %q", ErrInvalidPostgresSSLMode, validSSLModes, c.PostgresSSLMode)
	}

	return nil
}
