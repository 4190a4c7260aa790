package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, applies VERBATIM_*
// environment overrides, and returns a validated [Config]. It is a
// convenience wrapper around [LoadFromReader], [ApplyEnv], and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides,
// fills defaults, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides tuning knobs from VERBATIM_* environment variables.
// Unset variables leave the config untouched; malformed values are an error
// so a typo in a deployment manifest fails fast instead of silently running
// with YAML values.
func ApplyEnv(cfg *Config) error {
	var errs []error

	envInt := func(key string, dst *int) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %s=%q is not an integer", key, v))
			return
		}
		*dst = n
	}
	envHours := func(key string, dst *time.Duration) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		h, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %s=%q is not a number of hours", key, v))
			return
		}
		*dst = time.Duration(h * float64(time.Hour))
	}
	envFloat := func(key string, dst *float64) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %s=%q is not a number", key, v))
			return
		}
		*dst = f
	}

	envInt("VERBATIM_MAX_RECOVERY_ATTEMPTS", &cfg.Recovery.MaxAttempts)
	envHours("VERBATIM_STUCK_THRESHOLD_HOURS", &cfg.Recovery.StuckThreshold)
	envHours("VERBATIM_ABANDONED_THRESHOLD_HOURS", &cfg.Recovery.AbandonedThreshold)
	envHours("VERBATIM_ORPHAN_THRESHOLD_HOURS", &cfg.Recovery.OrphanThreshold)
	envFloat("VERBATIM_HIGH_CONFIDENCE", &cfg.Speaker.HighConfidence)
	envFloat("VERBATIM_MEDIUM_CONFIDENCE", &cfg.Speaker.MediumConfidence)
	envInt("VERBATIM_EMBEDDING_DIM", &cfg.Database.EmbeddingDimensions)

	return errors.Join(errs...)
}

// applyDefaults fills zero values with the documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8090"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Database.EmbeddingDimensions == 0 {
		cfg.Database.EmbeddingDimensions = DefaultEmbeddingDimensions
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}

	if cfg.Queues.GPU == 0 {
		cfg.Queues.GPU = 1
	}
	if cfg.Queues.Download == 0 {
		cfg.Queues.Download = 3
	}
	if cfg.Queues.CPU == 0 {
		cfg.Queues.CPU = runtime.NumCPU()
	}
	if cfg.Queues.NLP == 0 {
		cfg.Queues.NLP = 4
	}
	if cfg.Queues.Utility == 0 {
		cfg.Queues.Utility = 2
	}

	if cfg.Recovery.MaxAttempts == 0 {
		cfg.Recovery.MaxAttempts = DefaultMaxRecoveryAttempts
	}
	if cfg.Recovery.StuckThreshold == 0 {
		cfg.Recovery.StuckThreshold = DefaultStuckThreshold
	}
	if cfg.Recovery.AbandonedThreshold == 0 {
		cfg.Recovery.AbandonedThreshold = DefaultAbandonedThreshold
	}
	if cfg.Recovery.OrphanThreshold == 0 {
		cfg.Recovery.OrphanThreshold = DefaultOrphanThreshold
	}

	if cfg.Speaker.HighConfidence == 0 {
		cfg.Speaker.HighConfidence = DefaultHighConfidence
	}
	if cfg.Speaker.MediumConfidence == 0 {
		cfg.Speaker.MediumConfidence = DefaultMediumConfidence
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level: unknown level %q", cfg.Server.LogLevel))
	}
	if cfg.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if cfg.Database.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("database.embedding_dimensions must be positive, got %d", cfg.Database.EmbeddingDimensions))
	}
	if cfg.Storage.Endpoint == "" {
		errs = append(errs, errors.New("storage.endpoint is required"))
	}
	if cfg.Storage.Bucket == "" {
		errs = append(errs, errors.New("storage.bucket is required"))
	}

	// The GPU queue is a global single slot: transcription jobs saturate the
	// device, and the recovery invariants assume at most one in flight.
	if cfg.Queues.GPU > 1 {
		errs = append(errs, fmt.Errorf("queues.gpu must be 1, got %d", cfg.Queues.GPU))
	}
	for _, q := range []struct {
		name string
		n    int
	}{
		{"gpu", cfg.Queues.GPU},
		{"download", cfg.Queues.Download},
		{"cpu", cfg.Queues.CPU},
		{"nlp", cfg.Queues.NLP},
		{"utility", cfg.Queues.Utility},
	} {
		if q.n < 1 {
			errs = append(errs, fmt.Errorf("queues.%s must be at least 1, got %d", q.name, q.n))
		}
	}

	if cfg.Recovery.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("recovery.max_attempts must not be negative, got %d", cfg.Recovery.MaxAttempts))
	}

	if cfg.Speaker.HighConfidence <= 0 || cfg.Speaker.HighConfidence > 1 {
		errs = append(errs, fmt.Errorf("speaker.high_confidence must be in (0,1], got %g", cfg.Speaker.HighConfidence))
	}
	if cfg.Speaker.MediumConfidence <= 0 || cfg.Speaker.MediumConfidence > 1 {
		errs = append(errs, fmt.Errorf("speaker.medium_confidence must be in (0,1], got %g", cfg.Speaker.MediumConfidence))
	}
	if cfg.Speaker.MediumConfidence > cfg.Speaker.HighConfidence {
		errs = append(errs, fmt.Errorf("speaker.medium_confidence (%g) must not exceed speaker.high_confidence (%g)",
			cfg.Speaker.MediumConfidence, cfg.Speaker.HighConfidence))
	}

	return errors.Join(errs...)
}
