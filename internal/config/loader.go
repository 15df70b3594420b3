package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"ai":  {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
	"stt": {"deepgram", "whisper"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// ${VAR} references are expanded from the environment before decoding, so
// secrets can stay out of the file. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(raw))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
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
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Providers
	if cfg.Providers.AI.Primary.Name == "" {
		errs = append(errs, errors.New("providers.ai.primary.name is required"))
	}
	if cfg.Providers.STT.Primary.Name == "" {
		errs = append(errs, errors.New("providers.stt.primary.name is required"))
	}
	for _, entry := range cfg.Providers.AI.All() {
		validateProviderName("ai", entry.Name)
	}
	for _, entry := range cfg.Providers.STT.All() {
		validateProviderName("stt", entry.Name)
	}

	// Pipeline timing
	if cfg.Pipeline.StaleAfter < 0 {
		errs = append(errs, fmt.Errorf("pipeline.stale_after %s must not be negative", cfg.Pipeline.StaleAfter))
	}
	if cfg.Pipeline.ReapInterval < 0 {
		errs = append(errs, fmt.Errorf("pipeline.reap_interval %s must not be negative", cfg.Pipeline.ReapInterval))
	}
	if cfg.Pipeline.CallTimeout < 0 {
		errs = append(errs, fmt.Errorf("pipeline.call_timeout %s must not be negative", cfg.Pipeline.CallTimeout))
	}
	if cfg.Pipeline.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("pipeline.history_limit %d must not be negative", cfg.Pipeline.HistoryLimit))
	}
	if cfg.Pipeline.StaleAfter > 0 && cfg.Pipeline.StaleAfter.Std() < time.Minute {
		slog.Warn("pipeline.stale_after is shorter than a typical analysis run; slow sessions may be reaped mid-flight",
			"stale_after", cfg.Pipeline.StaleAfter)
	}

	// Storage
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; sessions will not survive a restart")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
