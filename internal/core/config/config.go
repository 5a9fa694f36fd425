// Package config provides configuration management for the collector and
// the embedded pipeline.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/DevEngageLab/mtpush-sdk/internal/buffer"
	"github.com/DevEngageLab/mtpush-sdk/internal/pipeline"
	"github.com/DevEngageLab/mtpush-sdk/internal/session"
	"github.com/DevEngageLab/mtpush-sdk/internal/types"
)

// EnvPrefix prefixes every environment variable the config layer reads.
const EnvPrefix = "MTMA"

// Config is the full configuration document.
type Config struct {
	Collector *CollectorConfig
	Pipeline  *PipelineConfig
}

// CollectorConfig holds configuration for the gRPC collector service.
type CollectorConfig struct {
	Host           string
	Port           int
	MaxConnections int
	RequestTimeout time.Duration
	MaxBatchSize   int
	DataDir        string
}

// DefaultCollectorConfig returns configuration with default values.
func DefaultCollectorConfig() *CollectorConfig {
	return &CollectorConfig{
		Host:           "0.0.0.0",
		Port:           50051,
		MaxConnections: 1000,
		RequestTimeout: 30 * time.Second,
		MaxBatchSize:   1000,
		DataDir:        "./data",
	}
}

// PipelineConfig holds the client-side pipeline limits and the collector
// it reports to.
type PipelineConfig struct {
	FlushInterval      time.Duration
	MaxEventCacheCount int
	SessionTimeout     time.Duration
	UploadTimeout      time.Duration

	CollectorAddress string
	Insecure         bool
	Compress         bool
	// CacheURL locates the local identity cache; empty keeps it in memory.
	CacheURL string
}

// DefaultPipelineConfig returns configuration with default values.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		FlushInterval:      types.DefaultFlushInterval,
		MaxEventCacheCount: types.DefaultMaxEventCacheCount,
		SessionTimeout:     types.DefaultSessionTimeout,
		UploadTimeout:      pipeline.DefaultUploadTimeout,
		CollectorAddress:   "localhost:50051",
		Compress:           true,
	}
}

// Clamp brings out-of-range limits back into range. Bad limits are never
// fatal.
func (c *PipelineConfig) Clamp() {
	c.FlushInterval = pipeline.ClampFlushInterval(c.FlushInterval)
	c.MaxEventCacheCount = buffer.ClampCapacity(c.MaxEventCacheCount)
	c.SessionTimeout = session.ClampTimeout(c.SessionTimeout)
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = pipeline.DefaultUploadTimeout
	}
}

const (
	hmacSecretEnv = EnvPrefix + "_HMAC_SECRET"
	apiKeyEnv     = EnvPrefix + "_API_KEY"
)

// APIKey returns the pipeline's collector API key. Environment-only.
func APIKey() string {
	return strings.TrimSpace(os.Getenv(apiKeyEnv))
}

// HMACSecrets extracts HMAC secrets from environment variables.
// Supports MTMA_HMAC_SECRET (single) and MTMA_HMAC_SECRET_N (rotation).
// Returns map of secret_id -> decoded secret bytes.
// Secret IDs are UUIDv7 (32 hex chars without hyphens) matching API key format.
func HMACSecrets() (map[string][]byte, error) {
	secrets := make(map[string][]byte)

	add := func(key, val string) error {
		secretID, decoded, err := ParseHMACSecretWithID(val)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if _, exists := secrets[secretID]; exists {
			return fmt.Errorf("duplicate secret_id '%s' found in environment variables (check %s and %s_* for conflicts)", secretID, hmacSecretEnv, hmacSecretEnv)
		}
		secrets[secretID] = decoded
		return nil
	}

	// Format: <secret_id>:<base64_secret>
	if val := os.Getenv(hmacSecretEnv); val != "" {
		if err := add(hmacSecretEnv, val); err != nil {
			return nil, err
		}
	}

	// Numbered secrets keep old and new keys valid during rotation
	for i := 1; ; i++ {
		key := fmt.Sprintf("%s_%d", hmacSecretEnv, i)
		val := os.Getenv(key)
		if val == "" {
			break
		}
		if err := add(key, val); err != nil {
			return nil, err
		}
	}

	return secrets, nil
}

// ParseHMACSecret decodes a base64-encoded HMAC secret of at least 32 bytes.
func ParseHMACSecret(envValue string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(envValue))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	if len(decoded) < 32 {
		return nil, fmt.Errorf("secret must be at least 32 bytes, got %d", len(decoded))
	}
	return decoded, nil
}

// ParseHMACSecretWithID parses secret_id:base64_secret format.
// Secret ID must be 32 hex chars (UUIDv7 without hyphens).
func ParseHMACSecretWithID(envValue string) (secretID string, secret []byte, err error) {
	parts := strings.SplitN(strings.TrimSpace(envValue), ":", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("format must be <secret_id>:<base64_secret>")
	}

	secretID = parts[0]
	if len(secretID) != 32 {
		return "", nil, fmt.Errorf("secret_id must be 32 hex chars (UUIDv7 without hyphens)")
	}

	for _, c := range secretID {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return "", nil, fmt.Errorf("secret_id must be hex chars only")
		}
	}

	secret, err = ParseHMACSecret(parts[1])
	if err != nil {
		return "", nil, err
	}

	return secretID, secret, nil
}
