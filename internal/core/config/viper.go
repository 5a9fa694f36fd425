package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// MTMA_COLLECTOR_PORT, MTMA_PIPELINE_FLUSH_INTERVAL, ...
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets are environment-only
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &Config{
		Collector: &CollectorConfig{
			Host:           v.GetString("collector.host"),
			Port:           v.GetInt("collector.port"),
			MaxConnections: v.GetInt("collector.max_connections"),
			RequestTimeout: v.GetDuration("collector.request_timeout"),
			MaxBatchSize:   v.GetInt("collector.max_batch_size"),
			DataDir:        v.GetString("collector.data_dir"),
		},
		Pipeline: &PipelineConfig{
			FlushInterval:      v.GetDuration("pipeline.flush_interval"),
			MaxEventCacheCount: v.GetInt("pipeline.max_event_cache_count"),
			SessionTimeout:     v.GetDuration("pipeline.session_timeout"),
			UploadTimeout:      v.GetDuration("pipeline.upload_timeout"),
			CollectorAddress:   v.GetString("pipeline.collector_address"),
			Insecure:           v.GetBool("pipeline.insecure"),
			Compress:           v.GetBool("pipeline.compress"),
			CacheURL:           v.GetString("pipeline.cache_url"),
		},
	}

	if err := validateCollector(cfg.Collector); err != nil {
		return nil, err
	}
	cfg.Pipeline.Clamp()

	return cfg, nil
}

// setDefaults mirrors DefaultCollectorConfig and DefaultPipelineConfig.
// Every key needs a default for AutomaticEnv to see it.
func setDefaults(v *viper.Viper) {
	c := DefaultCollectorConfig()
	v.SetDefault("collector.host", c.Host)
	v.SetDefault("collector.port", c.Port)
	v.SetDefault("collector.max_connections", c.MaxConnections)
	v.SetDefault("collector.request_timeout", c.RequestTimeout)
	v.SetDefault("collector.max_batch_size", c.MaxBatchSize)
	v.SetDefault("collector.data_dir", c.DataDir)

	p := DefaultPipelineConfig()
	v.SetDefault("pipeline.flush_interval", p.FlushInterval)
	v.SetDefault("pipeline.max_event_cache_count", p.MaxEventCacheCount)
	v.SetDefault("pipeline.session_timeout", p.SessionTimeout)
	v.SetDefault("pipeline.upload_timeout", p.UploadTimeout)
	v.SetDefault("pipeline.collector_address", p.CollectorAddress)
	v.SetDefault("pipeline.insecure", p.Insecure)
	v.SetDefault("pipeline.compress", p.Compress)
	v.SetDefault("pipeline.cache_url", p.CacheURL)
}

// validateCollector checks port range, positive values for connections, timeout, batch size.
func validateCollector(cfg *CollectorConfig) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", cfg.Port)
	}
	if cfg.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive, got %d", cfg.MaxConnections)
	}
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", cfg.RequestTimeout)
	}
	if cfg.MaxBatchSize <= 0 {
		return fmt.Errorf("max_batch_size must be positive, got %d", cfg.MaxBatchSize)
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets (12-factor principle).
func validateNoSecretsInConfig(v *viper.Viper) error {
	for _, key := range []string{"hmac_secret", "collector.hmac_secret", "pipeline.api_key"} {
		if v.InConfig(key) {
			return fmt.Errorf("secrets not allowed in config files (use %s_HMAC_SECRET and %s_API_KEY environment variables)", EnvPrefix, EnvPrefix)
		}
	}
	return nil
}
