package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Well-known settings keys. Retry policy is stored per task type under
// "<type>.max_retries" and "<type>.retry_limit_enabled", with
// "retry_limit.default" as the shared fallback limit, so operators can tune
// flaky stages at runtime without a restart.
const (
	SettingRetryLimitDefault = "retry_limit.default"

	// SettingAutoSpeakerLabeling toggles automatic application of
	// high-confidence speaker matches.
	SettingAutoSpeakerLabeling = "speaker.auto_labeling"

	// Transcript garbage cleanup toggles, consumed by the transcription
	// handler.
	SettingGarbageCleanupEnabled = "transcription.garbage_cleanup_enabled"
	SettingMaxWordLength         = "transcription.max_word_length"
)

// SettingMaxRetries returns the per-type retry limit key, e.g.
// "transcription.max_retries". A stored value of 0 means unlimited.
func SettingMaxRetries(taskType string) string {
	return taskType + ".max_retries"
}

// SettingRetryLimitEnabled returns the per-type retry toggle key. When the
// stored value is false the limit is bypassed entirely.
func SettingRetryLimitEnabled(taskType string) string {
	return taskType + ".retry_limit_enabled"
}

// DefaultRetryLimit applies when neither a per-type nor the default retry
// limit setting exists.
const DefaultRetryLimit = 3

// SettingsStore persists runtime-tunable key/value settings. Obtain one via
// [Store.Settings]. Values are stored as strings; typed accessors parse on
// read and fall back to the provided default on missing keys.
type SettingsStore struct {
	pool *pgxpool.Pool
}

// Get returns the raw value for key, or [ErrNotFound].
func (s *SettingsStore) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM system_settings WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("settings: get %q: %w", key, err)
	}
	return v, nil
}

// Set upserts a setting.
func (s *SettingsStore) Set(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO system_settings (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value)
	if err != nil {
		return fmt.Errorf("settings: set %q: %w", key, err)
	}
	return nil
}

// GetInt returns the integer value for key, or def when the key is missing
// or unparsable. A stored garbage value must not take the pipeline down.
func (s *SettingsStore) GetInt(ctx context.Context, key string, def int) (int, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return def, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, nil
	}
	return n, nil
}

// GetBool returns the boolean value for key, or def when missing or
// unparsable.
func (s *SettingsStore) GetBool(ctx context.Context, key string, def bool) (bool, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return def, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, nil
	}
	return b, nil
}

// RetryLimit returns the configured maximum attempts for the task type,
// consulting "<type>.max_retries", then "retry_limit.default", then
// [DefaultRetryLimit]. 0 means unlimited.
func (s *SettingsStore) RetryLimit(ctx context.Context, taskType string) (int, error) {
	def, err := s.GetInt(ctx, SettingRetryLimitDefault, DefaultRetryLimit)
	if err != nil {
		return DefaultRetryLimit, err
	}
	return s.GetInt(ctx, SettingMaxRetries(taskType), def)
}

// ShouldRetry reports whether a task of the given type that just finished
// its attempt-th execution is within its retry budget:
//
//	!limit_enabled || max_retries == 0 || attempt < max_retries
//
// Whether the failure kind is retriable at all is the caller's decision.
func (s *SettingsStore) ShouldRetry(ctx context.Context, taskType string, attempt int) (bool, error) {
	enabled, err := s.GetBool(ctx, SettingRetryLimitEnabled(taskType), true)
	if err != nil {
		return false, err
	}
	if !enabled {
		return true, nil
	}
	limit, err := s.RetryLimit(ctx, taskType)
	if err != nil {
		return false, err
	}
	return limit == 0 || attempt < limit, nil
}
