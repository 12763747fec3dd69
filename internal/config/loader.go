package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the known speech-to-text provider names.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"deepgram", "whisper", "whisper-native"}

// LoadEnvFiles loads KEY=value pairs from the given dotenv files into the
// process environment without overriding variables that are already set.
// Missing files are skipped so a .env file stays optional.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		err := godotenv.Load(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("config: load env file %q: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. ${VAR} references are expanded from the environment before
// decoding, so secrets such as API keys and DSNs can stay out of the file.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	// Providers
	if cfg.Providers.STT.Name == "" {
		if len(cfg.Providers.STTFallbacks) > 0 {
			errs = append(errs, errors.New("providers.stt_fallbacks requires providers.stt to be configured"))
		} else {
			slog.Warn("no STT provider configured; only pre-transcribed words will be accepted")
		}
	} else {
		validateProviderName(cfg.Providers.STT.Name)
	}
	seen := map[string]string{cfg.Providers.STT.Name: "providers.stt"}
	for i, fb := range cfg.Providers.STTFallbacks {
		prefix := fmt.Sprintf("providers.stt_fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName(fb.Name)
		if prev, ok := seen[fb.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of %s", prefix, fb.Name, prev))
		}
		seen[fb.Name] = prefix
	}

	// Scoring
	if err := cfg.Scoring.Thresholds().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scoring: %w", err))
	}
	if cfg.Scoring.MinScoreToSave < 0 || cfg.Scoring.MinScoreToSave > 100 {
		errs = append(errs, fmt.Errorf("scoring.min_score_to_save %.2f is out of range [0, 100]", cfg.Scoring.MinScoreToSave))
	}
	if cfg.Scoring.Comparator != "" && !cfg.Scoring.Comparator.IsValid() {
		errs = append(errs, fmt.Errorf("scoring.comparator %q is invalid; valid values: strict, phonetic", cfg.Scoring.Comparator))
	}
	if cfg.Scoring.PhoneticThreshold < 0 || cfg.Scoring.PhoneticThreshold > 1 {
		errs = append(errs, fmt.Errorf("scoring.phonetic_threshold %.2f is out of range [0, 1]", cfg.Scoring.PhoneticThreshold))
	}

	// Cache
	if cfg.Cache.RedisDB < 0 {
		errs = append(errs, fmt.Errorf("cache.redis_db %d must not be negative", cfg.Cache.RedisDB))
	}
	if cfg.Cache.IdempotencyTTL < 0 {
		errs = append(errs, fmt.Errorf("cache.idempotency_ttl %s must not be negative", cfg.Cache.IdempotencyTTL))
	}

	// Telemetry
	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %.2f is out of range (0, 1]", r))
	}

	// Storage
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; user pronunciations will not be saved")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is not found in
// [ValidProviderNames].
func validateProviderName(name string) {
	if slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown STT provider name; may be a typo or third-party provider",
		"name", name,
		"known", ValidProviderNames,
	)
}
