// Package config provides configuration loading and management for the agent identity service.
// It handles environment variable parsing and provides default values for all settings.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// init loads environment variables from .env files during package initialization.
// In development, it loads .env and .env.local files if they exist.
// In production, it relies solely on system environment variables.
// The loading order ensures that system environment variables take precedence over .env files.
func init() {
	// godotenv.Load() does not override already-set environment variables,
	// preserving OS env > .env precedence

	// Load .env file if it exists (for shared development config)
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}

	// Load .env.local if it exists (for local overrides, gitignored)
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env.local file: %v\n", err)
		}
	}
}

// Ledger backends accepted by ID_LEDGER_BACKEND.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
	BackendMongo    = "mongo"
)

// Config captures environment-driven settings for the agent identity service.
type Config struct {
	Env            string // Deployment environment (dev, staging, prod)
	Address        string // HTTP server address (e.g., ":8080")
	MetricsAddress string // Metrics server address (e.g., ":9090"); empty disables it

	LedgerBackend string        // memory, postgres, badger or mongo
	DatabaseDSN   string        // PostgreSQL connection string
	BadgerPath    string        // Badger data directory; empty keeps it in memory
	MongoURI      string        // MongoDB connection string
	MongoDatabase string        // MongoDB database name
	LedgerTimeout time.Duration // Upper bound on one ledger round trip

	TokenSecret  []byte        // HMAC key for session tokens
	TokenIssuer  string        // iss claim of session tokens
	SessionTTL   time.Duration // Lifetime of session tokens
	ChallengeTTL time.Duration // Lifetime of tracked challenges

	FeatureSingleUseChallenge bool // Track challenges and accept each only once

	RateLimitRPS   float64 // Per-client requests per second on the handshake endpoints
	RateLimitBurst int     // Burst allowance for the limiter

	Scopes map[string]string // Scope name to resource descriptor
}

// Default configuration values used when environment variables are not set
const (
	defaultAddress        = ":8080"
	defaultMetricsAddress = ":9090"
	defaultIssuer         = "registryaccord-agentid"
	defaultMongoDatabase  = "agentid"
	defaultLedgerTimeout  = 5 * time.Second
	defaultSessionTTL     = 5 * time.Minute
	defaultChallengeTTL   = 5 * time.Minute
	defaultRateLimitRPS   = 10
	defaultRateLimitBurst = 20
)

// IsProd reports whether the service runs in production mode.
func (c Config) IsProd() bool {
	return c.Env == "prod" || c.Env == "production"
}

// Load reads environment variables and produces a Config suitable for wiring the service.
// Returns an error if required parameters are missing or invalid.
func Load() (Config, error) {
	cfg := Config{
		Env:            getEnv("ID_ENV", "dev"),
		Address:        defaultAddress,
		MetricsAddress: defaultMetricsAddress,
		TokenIssuer:    getEnv("ID_TOKEN_ISSUER", defaultIssuer),
		MongoURI:       os.Getenv("ID_MONGO_URI"),
		MongoDatabase:  getEnv("ID_MONGO_DB", defaultMongoDatabase),
		BadgerPath:     os.Getenv("ID_BADGER_PATH"),
		DatabaseDSN:    os.Getenv("ID_DB_DSN"),
	}

	// Addresses may be set to empty on purpose
	if address, exists := os.LookupEnv("ID_HTTP_ADDR"); exists {
		cfg.Address = address
	}
	if metricsAddr, exists := os.LookupEnv("ID_METRICS_ADDR"); exists {
		cfg.MetricsAddress = metricsAddr
	}

	cfg.LedgerBackend = strings.ToLower(getEnv("ID_LEDGER_BACKEND", BackendMemory))
	switch cfg.LedgerBackend {
	case BackendMemory, BackendBadger:
	case BackendPostgres:
		if cfg.DatabaseDSN == "" {
			return Config{}, errors.New("ID_DB_DSN is required for the postgres ledger")
		}
	case BackendMongo:
		if cfg.MongoURI == "" {
			return Config{}, errors.New("ID_MONGO_URI is required for the mongo ledger")
		}
	default:
		return Config{}, fmt.Errorf("unknown ID_LEDGER_BACKEND %q", cfg.LedgerBackend)
	}

	var err error
	if cfg.LedgerTimeout, err = durationEnv("ID_LEDGER_TIMEOUT_SECONDS", defaultLedgerTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SessionTTL, err = durationEnv("ID_SESSION_TTL_SECONDS", defaultSessionTTL); err != nil {
		return Config{}, err
	}
	if cfg.ChallengeTTL, err = durationEnv("ID_CHALLENGE_TTL_SECONDS", defaultChallengeTTL); err != nil {
		return Config{}, err
	}

	if v, exists := os.LookupEnv("ID_FEATURE_SINGLE_USE_CHALLENGE"); exists {
		cfg.FeatureSingleUseChallenge = parseBool(v)
	}

	cfg.RateLimitRPS = defaultRateLimitRPS
	if v, exists := os.LookupEnv("ID_RATE_LIMIT_RPS"); exists {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil || rps < 0 {
			return Config{}, fmt.Errorf("invalid ID_RATE_LIMIT_RPS: %q", v)
		}
		cfg.RateLimitRPS = rps
	}
	cfg.RateLimitBurst = defaultRateLimitBurst
	if v, exists := os.LookupEnv("ID_RATE_LIMIT_BURST"); exists {
		burst, err := strconv.Atoi(v)
		if err != nil || burst <= 0 {
			return Config{}, fmt.Errorf("invalid ID_RATE_LIMIT_BURST: %q", v)
		}
		cfg.RateLimitBurst = burst
	}

	// Handle the token secret: required in prod, ephemeral otherwise
	if secret, exists := os.LookupEnv("ID_TOKEN_SECRET"); exists && secret != "" {
		keyBytes, err := base64.StdEncoding.DecodeString(secret)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ID_TOKEN_SECRET base64: %w", err)
		}
		if len(keyBytes) < 32 {
			return Config{}, fmt.Errorf("ID_TOKEN_SECRET must decode to at least 32 bytes, got %d", len(keyBytes))
		}
		cfg.TokenSecret = keyBytes
	} else if cfg.IsProd() {
		return Config{}, errors.New("ID_TOKEN_SECRET is required in prod")
	} else {
		cfg.TokenSecret = make([]byte, 32)
		if _, err := rand.Read(cfg.TokenSecret); err != nil {
			return Config{}, fmt.Errorf("generate token secret: %w", err)
		}
	}

	scopes, err := loadScopes()
	if err != nil {
		return Config{}, err
	}
	cfg.Scopes = scopes

	return cfg, nil
}

// scopeFile is the YAML layout of ID_SCOPES_FILE.
type scopeFile struct {
	Scopes map[string]string `yaml:"scopes"`
}

// loadScopes merges the scope file with inline ID_SCOPES entries; inline
// entries win.
func loadScopes() (map[string]string, error) {
	scopes := make(map[string]string)
	if path := os.Getenv("ID_SCOPES_FILE"); path != "" {
		fromFile, err := LoadScopesFile(path)
		if err != nil {
			return nil, err
		}
		for k, v := range fromFile {
			scopes[k] = v
		}
	}
	inline, err := ParseInlineScopes(os.Getenv("ID_SCOPES"))
	if err != nil {
		return nil, err
	}
	for k, v := range inline {
		scopes[k] = v
	}
	return scopes, nil
}

// LoadScopesFile reads a YAML document of the form:
//
//	scopes:
//	  premium: dataset://premium
func LoadScopesFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scopes file: %w", err)
	}
	var f scopeFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse scopes file %s: %w", path, err)
	}
	for k := range f.Scopes {
		if strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("scopes file %s: empty scope name", path)
		}
	}
	return f.Scopes, nil
}

// ParseInlineScopes parses "name=resource;name=resource".
func ParseInlineScopes(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, resource, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid ID_SCOPES entry %q", pair)
		}
		out[name] = strings.TrimSpace(resource)
	}
	return out, nil
}

// getEnv retrieves an environment variable value, returning a fallback if not set or empty
func getEnv(key, fallback string) string {
	if v, exists := os.LookupEnv(key); exists && v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return fallback, nil
	}
	d, err := parseSeconds(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// parseBool converts a string to a boolean value, returning false if parsing fails
func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

// parseSeconds converts a string representation of seconds to a time.Duration
// Returns an error if the value is not a valid positive integer
func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if seconds <= 0 {
		return 0, errors.New("value must be > 0")
	}
	return time.Duration(seconds) * time.Second, nil
}
