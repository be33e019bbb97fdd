// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.askgate/config.yaml or ./config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - Auth: token TTL and signing key for the bearer-token service
//   - Admission: rate-limit window/threshold and guard rule settings
//   - Retrieval: embedder model, top-K, similarity threshold, timeouts
//   - Generator: answer model and call timeout
//   - Storage: PostgreSQL connection (see storage.go)
//   - Documents: S3 bucket for cited source documents
//
// Security: sensitive values (signing key, database password) are masked in
// MarshalJSON and never logged in clear.
//
// Error Handling: sentinel errors checked with errors.Is(), wrapped with
// fmt.Errorf("%w: details", ErrXxx).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingSigningKey indicates the token signing key is not set.
	ErrMissingSigningKey = errors.New("missing signing key")

	// ErrInvalidSigningKey indicates the token signing key is too short.
	ErrInvalidSigningKey = errors.New("invalid signing key")

	// ErrInvalidTokenTTL indicates the token time-to-live is out of range.
	ErrInvalidTokenTTL = errors.New("invalid token TTL")

	// ErrInvalidRateWindow indicates the rate-limit window is out of range.
	ErrInvalidRateWindow = errors.New("invalid rate-limit window")

	// ErrInvalidRateLimit indicates the rate-limit threshold is out of range.
	ErrInvalidRateLimit = errors.New("invalid rate-limit threshold")

	// ErrInvalidMaxBodyBytes indicates the payload ceiling is out of range.
	ErrInvalidMaxBodyBytes = errors.New("invalid max body bytes")

	// ErrInvalidTopK indicates the retrieval top-K is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top-k")

	// ErrInvalidMinSimilarity indicates the similarity threshold is out of range.
	ErrInvalidMinSimilarity = errors.New("invalid minimum similarity")

	// ErrInvalidTimeout indicates a backend timeout is out of range.
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrInvalidModelName indicates the generator model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidCitationPolicy indicates an unknown citation fallback policy.
	ErrInvalidCitationPolicy = errors.New("invalid citation fallback policy")
)

// Citation fallback policies applied when the generator cannot report which
// chunks it used. See answer.Assembler.
const (
	CitationFallbackNone = "none" // answer is treated as ungrounded (default)
	CitationFallbackAll  = "all"  // every retrieved chunk is cited
)

// DefaultEmbedderModel is the default Gemini embedder model.
const DefaultEmbedderModel = "gemini-embedding-001"

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, keys, tokens), update MarshalJSON.
type Config struct {
	// HTTP server
	ListenAddr  string   `mapstructure:"listen_addr" json:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // Trust X-Real-IP/X-Forwarded-For (set true behind reverse proxy)

	// Token service
	SigningKey string        `mapstructure:"signing_key" json:"signing_key"` // SENSITIVE: masked in MarshalJSON
	TokenTTL   time.Duration `mapstructure:"token_ttl" json:"token_ttl"`

	// Rate limiting
	RateWindow  time.Duration `mapstructure:"rate_window" json:"rate_window"`
	RateLimit   int           `mapstructure:"rate_limit" json:"rate_limit"`
	IPRateBurst int           `mapstructure:"ip_rate_burst" json:"ip_rate_burst"`

	// Pattern guard
	MaxBodyBytes    int64    `mapstructure:"max_body_bytes" json:"max_body_bytes"`
	AllowedMethods  []string `mapstructure:"allowed_methods" json:"allowed_methods"`
	ExtraSignatures []string `mapstructure:"extra_signatures" json:"extra_signatures"`
	RequiredHeaders []string `mapstructure:"required_headers" json:"required_headers"`

	// Retrieval
	EmbedderModel    string        `mapstructure:"embedder_model" json:"embedder_model"`
	RetrievalTopK    int           `mapstructure:"retrieval_top_k" json:"retrieval_top_k"`
	MinSimilarity    float64       `mapstructure:"min_similarity" json:"min_similarity"`
	RetrievalTimeout time.Duration `mapstructure:"retrieval_timeout" json:"retrieval_timeout"`

	// Answer generation
	ModelName        string        `mapstructure:"model_name" json:"model_name"`
	GeneratorTimeout time.Duration `mapstructure:"generator_timeout" json:"generator_timeout"`
	CitationFallback string        `mapstructure:"citation_fallback" json:"citation_fallback"`

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Source-document access (presigned URLs for cited documents)
	DocumentBucket string        `mapstructure:"document_bucket" json:"document_bucket"`
	DocumentURLTTL time.Duration `mapstructure:"document_url_ttl" json:"document_url_ttl"`
	AWSRegion      string        `mapstructure:"aws_region" json:"aws_region"`

	// Optional overrides for S3-compatible stores (MinIO). When unset the
	// AWS SDK default endpoints and credential chain apply.
	S3Endpoint  string `mapstructure:"s3_endpoint" json:"s3_endpoint"`
	S3AccessKey string `mapstructure:"s3_access_key" json:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key" json:"s3_secret_key"` // SENSITIVE: masked in MarshalJSON
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".askgate")

	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL (if set) overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// Fail-fast: corrupted configuration terminates startup, never a request.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// HTTP defaults
	viper.SetDefault("listen_addr", "127.0.0.1:8080")
	viper.SetDefault("cors_origins", []string{"http://localhost:8501"})
	viper.SetDefault("trust_proxy", false)

	// Token defaults
	viper.SetDefault("token_ttl", time.Hour)

	// Rate-limit defaults: 60 requests per minute per key
	viper.SetDefault("rate_window", time.Minute)
	viper.SetDefault("rate_limit", 60)
	viper.SetDefault("ip_rate_burst", 60)

	// Guard defaults
	viper.SetDefault("max_body_bytes", 16*1024)
	viper.SetDefault("allowed_methods", []string{"POST"})
	viper.SetDefault("required_headers", []string{"Content-Type"})

	// Retrieval defaults
	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("retrieval_top_k", 4)
	viper.SetDefault("min_similarity", 0.35)
	viper.SetDefault("retrieval_timeout", 10*time.Second)

	// Generator defaults
	viper.SetDefault("model_name", "googleai/gemini-2.5-flash")
	viper.SetDefault("generator_timeout", 60*time.Second)
	viper.SetDefault("citation_fallback", CitationFallbackNone)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "askgate")
	viper.SetDefault("postgres_password", "askgate_dev_password")
	viper.SetDefault("postgres_db_name", "askgate")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Document access defaults
	viper.SetDefault("document_url_ttl", 5*time.Minute)
	viper.SetDefault("aws_region", "ap-northeast-1")
}

// bindEnvVariables binds sensitive environment variables explicitly.
// Secrets come from the environment, never from the config file in production:
//  1. ASKGATE_SIGNING_KEY - bearer-token signing key
//  2. DATABASE_URL - parsed separately in parseDatabaseURL
//  3. GEMINI_API_KEY - read directly by Genkit, validated in cfg.Validate()
//  4. AWS credentials - resolved by the AWS SDK default chain
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("signing_key", "ASKGATE_SIGNING_KEY")
	mustBind("listen_addr", "ASKGATE_LISTEN_ADDR")
	mustBind("cors_origins", "ASKGATE_CORS_ORIGINS")
	mustBind("trust_proxy", "ASKGATE_TRUST_PROXY")
	mustBind("model_name", "ASKGATE_MODEL_NAME")
	mustBind("document_bucket", "ASKGATE_DOCUMENT_BUCKET")
	mustBind("aws_region", "AWS_REGION")
	mustBind("s3_endpoint", "ASKGATE_S3_ENDPOINT")
	mustBind("s3_access_key", "ASKGATE_S3_ACCESS_KEY")
	mustBind("s3_secret_key", "ASKGATE_S3_SECRET_KEY")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks avoid accidental substring matches against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 characters or fewer are fully masked; longer secrets keep the
// first and last 2 characters for debug utility.
//
// THREAT MODEL: this defends against accidental logging of real secrets.
// If logs are compromised, rotate secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - SigningKey
//   - PostgresPassword
//   - S3SecretKey
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.SigningKey = maskSecret(a.SigningKey)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.S3SecretKey = maskSecret(a.S3SecretKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
