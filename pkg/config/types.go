package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Config represents the persistent finsight configuration stored as
// config.toml in the .finsight/ directory. The TOML layout uses sections for
// logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	Storage     StorageConfig     `toml:"storage"`
	VectorStore VectorStoreConfig `toml:"vector_store"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
	Search      SearchConfig      `toml:"search"`
	Generation  GenerationConfig  `toml:"generation"`
	API         APIConfig         `toml:"api"`
	Client      ClientConfig      `toml:"client"`
	Ingest      IngestConfig      `toml:"ingest"`
	Events      EventsConfig      `toml:"events"`
	Telemetry   TelemetryConfig   `toml:"telemetry"`
}

// StorageConfig selects the document store backend.
type StorageConfig struct {
	Backend     string `toml:"backend,omitempty"`
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
}

// VectorStoreConfig holds vector index settings.
type VectorStoreConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Collection string `toml:"collection,omitempty"`
	APIKeyEnv  string `toml:"api_key_env,omitempty"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider          string  `toml:"provider,omitempty"`
	Target            string  `toml:"target,omitempty"`
	Model             string  `toml:"model,omitempty"`
	Dimensions        uint    `toml:"dimensions,omitempty"`
	Task              string  `toml:"task,omitempty"`
	APIKeyEnv         string  `toml:"api_key_env,omitempty"`
	BatchSize         uint    `toml:"batch_size,omitempty"`
	TimeoutSeconds    uint    `toml:"timeout_seconds,omitempty"`
	MaxRetries        uint    `toml:"max_retries,omitempty"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// SearchConfig holds the ranking parameters. Weights and threshold are
// reloaded while the server runs.
type SearchConfig struct {
	SemanticWeight float64 `toml:"semantic_weight"`
	TextWeight     float64 `toml:"text_weight"`
	Threshold      float64 `toml:"threshold"`
	DefaultK       uint    `toml:"default_k,omitempty"`
	MaxContext     uint    `toml:"max_context,omitempty"`
	TimeoutSeconds uint    `toml:"timeout_seconds,omitempty"`
}

// GenerationConfig holds answer synthesis settings. Provider "none" disables
// generation.
type GenerationConfig struct {
	Provider       string  `toml:"provider,omitempty"`
	Target         string  `toml:"target,omitempty"`
	Model          string  `toml:"model,omitempty"`
	APIKeyEnv      string  `toml:"api_key_env,omitempty"`
	MaxTokens      uint    `toml:"max_tokens,omitempty"`
	Temperature    float64 `toml:"temperature"`
	TimeoutSeconds uint    `toml:"timeout_seconds,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen  string `toml:"listen,omitempty"`
	LogFile string `toml:"log_file,omitempty"`
}

// ClientConfig holds settings for CLI commands that talk to a running
// server. Values are full URLs (scheme + host + port).
type ClientConfig struct {
	APITarget string `toml:"api_target,omitempty"`
}

// IngestConfig sizes the async ingest pool. TimeoutSeconds bounds each
// vector index write.
type IngestConfig struct {
	Workers        uint `toml:"workers,omitempty"`
	QueueSize      uint `toml:"queue_size,omitempty"`
	TimeoutSeconds uint `toml:"timeout_seconds,omitempty"`
}

// EventsConfig controls document lifecycle events. Brokers is a
// comma-separated host:port list.
type EventsConfig struct {
	Enabled bool   `toml:"enabled"`
	Brokers string `toml:"brokers,omitempty"`
	Topic   string `toml:"topic,omitempty"`
}

// BrokerList splits Brokers.
func (e EventsConfig) BrokerList() []string {
	var out []string
	for _, b := range strings.Split(e.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	Tracing bool `toml:"tracing"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func stringKey(field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

func uintKey(name string, field func(c *Config) *uint) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(*field(c)), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = uint(n)
			return nil
		},
	}
}

func floatKey(name string, field func(c *Config) *float64) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.FormatFloat(*field(c), 'g', -1, 64) },
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = f
			return nil
		},
	}
}

func boolKey(name string, field func(c *Config) *bool) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.FormatBool(*field(c)) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = b
			return nil
		},
	}
}

// orderedKeys lists every supported key in TOML section order.
var orderedKeys = []string{
	"storage.backend",
	"storage.sqlite_path",
	"storage.postgres_dsn",
	"vector_store.provider",
	"vector_store.target",
	"vector_store.collection",
	"vector_store.api_key_env",
	"embedding.provider",
	"embedding.target",
	"embedding.model",
	"embedding.dimensions",
	"embedding.task",
	"embedding.api_key_env",
	"embedding.batch_size",
	"embedding.timeout_seconds",
	"embedding.max_retries",
	"embedding.requests_per_second",
	"search.semantic_weight",
	"search.text_weight",
	"search.threshold",
	"search.default_k",
	"search.max_context",
	"search.timeout_seconds",
	"generation.provider",
	"generation.target",
	"generation.model",
	"generation.api_key_env",
	"generation.max_tokens",
	"generation.temperature",
	"generation.timeout_seconds",
	"api.listen",
	"api.log_file",
	"client.api_target",
	"ingest.workers",
	"ingest.queue_size",
	"ingest.timeout_seconds",
	"events.enabled",
	"events.brokers",
	"events.topic",
	"telemetry.tracing",
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.backend":      stringKey(func(c *Config) *string { return &c.Storage.Backend }),
	"storage.sqlite_path":  stringKey(func(c *Config) *string { return &c.Storage.SQLitePath }),
	"storage.postgres_dsn": stringKey(func(c *Config) *string { return &c.Storage.PostgresDSN }),

	"vector_store.provider":    stringKey(func(c *Config) *string { return &c.VectorStore.Provider }),
	"vector_store.target":      stringKey(func(c *Config) *string { return &c.VectorStore.Target }),
	"vector_store.collection":  stringKey(func(c *Config) *string { return &c.VectorStore.Collection }),
	"vector_store.api_key_env": stringKey(func(c *Config) *string { return &c.VectorStore.APIKeyEnv }),

	"embedding.provider":    stringKey(func(c *Config) *string { return &c.Embedding.Provider }),
	"embedding.target":      stringKey(func(c *Config) *string { return &c.Embedding.Target }),
	"embedding.model":       stringKey(func(c *Config) *string { return &c.Embedding.Model }),
	"embedding.dimensions":  uintKey("embedding.dimensions", func(c *Config) *uint { return &c.Embedding.Dimensions }),
	"embedding.task":        stringKey(func(c *Config) *string { return &c.Embedding.Task }),
	"embedding.api_key_env": stringKey(func(c *Config) *string { return &c.Embedding.APIKeyEnv }),
	"embedding.batch_size":  uintKey("embedding.batch_size", func(c *Config) *uint { return &c.Embedding.BatchSize }),
	"embedding.timeout_seconds": uintKey("embedding.timeout_seconds",
		func(c *Config) *uint { return &c.Embedding.TimeoutSeconds }),
	"embedding.max_retries": uintKey("embedding.max_retries", func(c *Config) *uint { return &c.Embedding.MaxRetries }),
	"embedding.requests_per_second": floatKey("embedding.requests_per_second",
		func(c *Config) *float64 { return &c.Embedding.RequestsPerSecond }),

	"search.semantic_weight": floatKey("search.semantic_weight", func(c *Config) *float64 { return &c.Search.SemanticWeight }),
	"search.text_weight":     floatKey("search.text_weight", func(c *Config) *float64 { return &c.Search.TextWeight }),
	"search.threshold":       floatKey("search.threshold", func(c *Config) *float64 { return &c.Search.Threshold }),
	"search.default_k":       uintKey("search.default_k", func(c *Config) *uint { return &c.Search.DefaultK }),
	"search.max_context":     uintKey("search.max_context", func(c *Config) *uint { return &c.Search.MaxContext }),
	"search.timeout_seconds": uintKey("search.timeout_seconds", func(c *Config) *uint { return &c.Search.TimeoutSeconds }),

	"generation.provider":    stringKey(func(c *Config) *string { return &c.Generation.Provider }),
	"generation.target":      stringKey(func(c *Config) *string { return &c.Generation.Target }),
	"generation.model":       stringKey(func(c *Config) *string { return &c.Generation.Model }),
	"generation.api_key_env": stringKey(func(c *Config) *string { return &c.Generation.APIKeyEnv }),
	"generation.max_tokens":  uintKey("generation.max_tokens", func(c *Config) *uint { return &c.Generation.MaxTokens }),
	"generation.temperature": floatKey("generation.temperature", func(c *Config) *float64 { return &c.Generation.Temperature }),
	"generation.timeout_seconds": uintKey("generation.timeout_seconds",
		func(c *Config) *uint { return &c.Generation.TimeoutSeconds }),

	"api.listen":        stringKey(func(c *Config) *string { return &c.API.Listen }),
	"api.log_file":      stringKey(func(c *Config) *string { return &c.API.LogFile }),
	"client.api_target": stringKey(func(c *Config) *string { return &c.Client.APITarget }),

	"ingest.workers":    uintKey("ingest.workers", func(c *Config) *uint { return &c.Ingest.Workers }),
	"ingest.queue_size": uintKey("ingest.queue_size", func(c *Config) *uint { return &c.Ingest.QueueSize }),
	"ingest.timeout_seconds": uintKey("ingest.timeout_seconds",
		func(c *Config) *uint { return &c.Ingest.TimeoutSeconds }),

	"events.enabled": boolKey("events.enabled", func(c *Config) *bool { return &c.Events.Enabled }),
	"events.brokers": stringKey(func(c *Config) *string { return &c.Events.Brokers }),
	"events.topic":   stringKey(func(c *Config) *string { return &c.Events.Topic }),

	"telemetry.tracing": boolKey("telemetry.tracing", func(c *Config) *bool { return &c.Telemetry.Tracing }),
}
