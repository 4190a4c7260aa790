// Package config provides the configuration schema and loader for the
// verbatim media-processing daemon.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the daemon.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for verbatim.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader];
// a handful of tuning knobs can additionally be overridden through
// VERBATIM_* environment variables (see [ApplyEnv]).
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Storage   StorageConfig   `yaml:"storage"`
	Queues    QueuesConfig    `yaml:"queues"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
	Speaker   SpeakerConfig   `yaml:"speaker"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds network and logging settings for the daemon's
// operational HTTP surface (health probes, metrics, notification sockets).
type ServerConfig struct {
	// ListenAddr is the TCP address the operational server listens on
	// (e.g., ":8090").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	// DSN is the PostgreSQL connection string. The pgvector extension must be
	// available in the target database.
	DSN string `yaml:"dsn"`

	// EmbeddingDimensions must match the voice embedding model's output
	// dimension (512 for pyannote). Changing this after the first migration
	// requires a manual schema change.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`
}

// RedisConfig holds connection settings for the queue broker, the
// notification bus, and distributed locks.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string `yaml:"addr"`

	// Password is the Redis password, if any.
	Password string `yaml:"password"`

	// DB is the Redis database number.
	DB int `yaml:"db"`
}

// StorageConfig holds object-store (MinIO/S3) settings.
type StorageConfig struct {
	// Endpoint is the S3-compatible endpoint (host:port).
	Endpoint string `yaml:"endpoint"`

	// AccessKey and SecretKey are the S3 credentials.
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`

	// Bucket is the bucket holding uploads and derived artifacts.
	Bucket string `yaml:"bucket"`

	// UseSSL enables TLS to the endpoint.
	UseSSL bool `yaml:"use_ssl"`

	// ExternalHost, when set, replaces the internal endpoint host in
	// presigned URLs handed to browsers (e.g., "media.example.com").
	ExternalHost string `yaml:"external_host"`
}

// QueuesConfig sets per-queue worker concurrency. Zero values fall back to
// the defaults: gpu=1, download=3, cpu=NumCPU, nlp=4, utility=2.
type QueuesConfig struct {
	GPU      int `yaml:"gpu"`
	Download int `yaml:"download"`
	CPU      int `yaml:"cpu"`
	NLP      int `yaml:"nlp"`
	Utility  int `yaml:"utility"`
}

// RecoveryConfig tunes the recovery subsystem. Durations accept Go syntax
// ("2h", "45m").
type RecoveryConfig struct {
	// MaxAttempts is how many stuck-file recoveries are attempted before a
	// file is orphaned. Default 3.
	MaxAttempts int `yaml:"max_attempts"`

	// StuckThreshold is how long a task may go without an update before it
	// counts as stuck. Default 2h.
	StuckThreshold time.Duration `yaml:"stuck_threshold"`

	// AbandonedThreshold is how long a PROCESSING file without active tasks
	// may sit since upload before being reset. Default 1h.
	AbandonedThreshold time.Duration `yaml:"abandoned_threshold"`

	// OrphanThreshold is how long an ORPHANED file waits before becoming
	// eligible for force deletion. Default 12h.
	OrphanThreshold time.Duration `yaml:"orphan_threshold"`
}

// UnmarshalYAML decodes the recovery block, parsing durations from Go syntax
// ("2h", "45m"); yaml.v3 has no native time.Duration support.
func (r *RecoveryConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxAttempts        int    `yaml:"max_attempts"`
		StuckThreshold     string `yaml:"stuck_threshold"`
		AbandonedThreshold string `yaml:"abandoned_threshold"`
		OrphanThreshold    string `yaml:"orphan_threshold"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	r.MaxAttempts = raw.MaxAttempts

	for _, d := range []struct {
		key string
		val string
		dst *time.Duration
	}{
		{"stuck_threshold", raw.StuckThreshold, &r.StuckThreshold},
		{"abandoned_threshold", raw.AbandonedThreshold, &r.AbandonedThreshold},
		{"orphan_threshold", raw.OrphanThreshold, &r.OrphanThreshold},
	} {
		if d.val == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.val)
		if err != nil {
			return fmt.Errorf("recovery.%s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

// SpeakerConfig tunes the speaker identity engine.
type SpeakerConfig struct {
	// HighConfidence is the auto-apply threshold for cosine similarity.
	// Default 0.75.
	HighConfidence float64 `yaml:"high_confidence"`

	// MediumConfidence is the suggestion threshold. Matches below it are
	// discarded. Default 0.50.
	MediumConfidence float64 `yaml:"medium_confidence"`
}

// ProvidersConfig declares which backend to use for each model seam.
type ProvidersConfig struct {
	Transcription ProviderEntry `yaml:"transcription"`
	LLM           ProviderEntry `yaml:"llm"`
	VoiceEmbed    ProviderEntry `yaml:"voice_embedding"`
}

// ProviderEntry is the common configuration block shared by all provider
// kinds.
type ProviderEntry struct {
	// Name selects the implementation (e.g., "openai", "anyllm", "http").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API, if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint. For the
	// voice_embedding "http" provider this is the sidecar base URL and is
	// required.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini",
	// "whisper-1").
	Model string `yaml:"model"`

	// Backend further selects an any-llm backend ("ollama", "anthropic", …)
	// when Name is "anyllm".
	Backend string `yaml:"backend"`
}

// Defaults used when the corresponding config values are zero.
const (
	DefaultMaxRecoveryAttempts = 3
	DefaultStuckThreshold      = 2 * time.Hour
	DefaultAbandonedThreshold  = time.Hour
	DefaultOrphanThreshold     = 12 * time.Hour
	DefaultHighConfidence      = 0.75
	DefaultMediumConfidence    = 0.50
	DefaultEmbeddingDimensions = 512
)
