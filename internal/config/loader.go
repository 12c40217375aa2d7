package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// KnownTransportNames lists the provider names that ship with voicewire.
// Used by [Validate] to warn about unrecognised provider names.
var KnownTransportNames = []string{ProviderGeminiLive, ProviderLoopback}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
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
// Decoding starts from [Default], so fields absent from the document keep
// their default values; unknown fields are rejected. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	err := dec.Decode(cfg)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	// io.EOF means an empty document; the defaults stand.
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
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider
	if cfg.Provider.Name == "" {
		errs = append(errs, errors.New("provider.name is required"))
	} else {
		validateTransportName(cfg.Provider.Name)
	}
	if cfg.Provider.Model == "" {
		errs = append(errs, errors.New("provider.model is required"))
	}

	// Audio
	if cfg.Audio.CaptureRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.capture_rate must be positive, got %d", cfg.Audio.CaptureRate))
	}
	if cfg.Audio.PlaybackRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.playback_rate must be positive, got %d", cfg.Audio.PlaybackRate))
	}
	if cfg.Audio.ChunkSamples <= 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_samples must be positive, got %d", cfg.Audio.ChunkSamples))
	} else if cfg.Audio.CaptureRate > 0 {
		d := time.Duration(cfg.Audio.ChunkSamples) * time.Second / time.Duration(cfg.Audio.CaptureRate)
		if d > time.Second {
			slog.Warn("audio.chunk_samples makes capture chunks longer than one second; expect noticeable latency",
				"chunk_samples", cfg.Audio.ChunkSamples,
				"chunk_duration", d,
			)
		}
	}

	// Outbound queue
	if cfg.Outbound.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("outbound.queue_size must be positive, got %d", cfg.Outbound.QueueSize))
	}
	if cfg.Outbound.Overflow != "" && !cfg.Outbound.Overflow.IsValid() {
		errs = append(errs, fmt.Errorf("outbound.overflow %q is invalid; valid values: drop_oldest, block", cfg.Outbound.Overflow))
	}

	// Reconnect
	if cfg.Reconnect.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("reconnect.max_attempts must not be negative, got %d", cfg.Reconnect.MaxAttempts))
	}
	if cfg.Reconnect.Enabled {
		if cfg.Reconnect.InitialBackoffMS <= 0 {
			errs = append(errs, fmt.Errorf("reconnect.initial_backoff_ms must be positive, got %d", cfg.Reconnect.InitialBackoffMS))
		}
		if cfg.Reconnect.MaxBackoffMS < cfg.Reconnect.InitialBackoffMS {
			errs = append(errs, fmt.Errorf("reconnect.max_backoff_ms (%d) must not be below initial_backoff_ms (%d)",
				cfg.Reconnect.MaxBackoffMS, cfg.Reconnect.InitialBackoffMS))
		}
	}

	// Credential availability warning. Loopback needs no credential; other
	// providers fail at session start when none can be resolved.
	if cfg.Provider.Name == ProviderGeminiLive && cfg.Provider.ResolveAPIKey() == "" {
		slog.Warn("provider.api_key is empty and GEMINI_API_KEY is not set; session starts will fail",
			"provider", cfg.Provider.Name,
		)
	}

	return errors.Join(errs...)
}

// validateTransportName logs a warning if name is not found in
// [KnownTransportNames].
func validateTransportName(name string) {
	if slices.Contains(KnownTransportNames, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a third-party registration",
		"name", name,
		"known", KnownTransportNames,
	)
}
