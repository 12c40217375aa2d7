// Package config provides the configuration schema, loader, and transport
// registry for the voicewire daemon.
package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/voicewirehq/voicewire/internal/pipeline"
)

// LogLevel controls log verbosity for the voicewire daemon.
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

// Slog maps l to its log/slog equivalent. Unrecognised values map to
// slog.LevelInfo.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// OverflowPolicy selects what the outbound queue does when it is full.
type OverflowPolicy string

const (
	// OverflowDropOldest evicts the oldest queued chunk to make room.
	OverflowDropOldest OverflowPolicy = "drop_oldest"

	// OverflowBlock makes the producer wait until the queue has room.
	OverflowBlock OverflowPolicy = "block"
)

// IsValid reports whether p is a recognised overflow policy.
func (p OverflowPolicy) IsValid() bool {
	return p == OverflowDropOldest || p == OverflowBlock
}

// Pipeline maps p to its pipeline equivalent. Unrecognised values map to
// drop-oldest.
func (p OverflowPolicy) Pipeline() pipeline.OverflowPolicy {
	if p == OverflowBlock {
		return pipeline.Block
	}
	return pipeline.DropOldest
}

// Built-in transport provider names. Third-party providers may register
// additional names on a [Registry].
const (
	ProviderGeminiLive = "gemini-live"
	ProviderLoopback   = "loopback"
)

// Config is the root configuration structure for voicewire.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader];
// fields absent from the file keep their [Default] values.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Provider  ProviderConfig  `yaml:"provider"`
	Session   SessionConfig   `yaml:"session"`
	Audio     AudioConfig     `yaml:"audio"`
	Outbound  OutboundConfig  `yaml:"outbound"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ServerConfig holds network and logging settings for the admin endpoint.
type ServerConfig struct {
	// ListenAddr is the TCP address the admin listener binds to for the
	// health and metrics endpoints (e.g., ":9880").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the admin listener. When nil, it runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProviderConfig selects and configures the transport provider carrying the
// voice session. The Name field is used to look up the constructor in the
// [Registry].
type ProviderConfig struct {
	// Name selects the registered provider implementation
	// (e.g., "gemini-live", "loopback").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API. When empty,
	// the GEMINI_API_KEY environment variable is used instead.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider
	// (e.g., "gemini-2.0-flash-live-001").
	Model string `yaml:"model"`
}

// ResolveAPIKey returns the configured credential, falling back to the
// GEMINI_API_KEY environment variable when the config field is empty.
func (p ProviderConfig) ResolveAPIKey() string {
	if p.APIKey != "" {
		return p.APIKey
	}
	return os.Getenv("GEMINI_API_KEY")
}

// SessionConfig holds the conversational parameters sent at session setup.
type SessionConfig struct {
	// Voice is the prebuilt voice used for synthesized replies (e.g., "Puck").
	Voice string `yaml:"voice"`

	// SystemInstruction is a free-text system prompt applied to the session.
	SystemInstruction string `yaml:"system_instruction"`
}

// AudioConfig fixes the capture and playback formats. Both directions are
// mono 16-bit PCM.
type AudioConfig struct {
	// CaptureRate is the microphone sample rate in Hz.
	CaptureRate int `yaml:"capture_rate"`

	// PlaybackRate is the speaker sample rate in Hz. It must match the rate
	// the provider synthesizes at.
	PlaybackRate int `yaml:"playback_rate"`

	// ChunkSamples is the number of samples read from the microphone per
	// outbound chunk.
	ChunkSamples int `yaml:"chunk_samples"`
}

// OutboundConfig bounds the queue between capture and the transport.
type OutboundConfig struct {
	// QueueSize is the queue capacity in chunks.
	QueueSize int `yaml:"queue_size"`

	// Overflow selects the behaviour when the queue is full.
	Overflow OverflowPolicy `yaml:"overflow"`
}

// ReconnectConfig controls automatic session restarts after transport
// failures. Deliberate stops are never retried.
type ReconnectConfig struct {
	// Enabled turns automatic reconnection on.
	Enabled bool `yaml:"enabled"`

	// MaxAttempts caps consecutive failed attempts. Zero means retry forever.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoffMS is the delay in milliseconds before the first retry.
	// The delay doubles after each failed attempt.
	InitialBackoffMS int `yaml:"initial_backoff_ms"`

	// MaxBackoffMS caps the backoff delay in milliseconds.
	MaxBackoffMS int `yaml:"max_backoff_ms"`
}

// InitialBackoff returns the initial retry delay as a duration.
func (r ReconnectConfig) InitialBackoff() time.Duration {
	return time.Duration(r.InitialBackoffMS) * time.Millisecond
}

// MaxBackoff returns the backoff cap as a duration.
func (r ReconnectConfig) MaxBackoff() time.Duration {
	return time.Duration(r.MaxBackoffMS) * time.Millisecond
}

// Default returns the built-in configuration: Gemini Live with 16 kHz
// capture, 24 kHz playback and a 16-chunk drop-oldest outbound queue.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":9880",
			LogLevel:   LogInfo,
		},
		Provider: ProviderConfig{
			Name:  ProviderGeminiLive,
			Model: "gemini-2.0-flash-live-001",
		},
		Session: SessionConfig{
			Voice: "Puck",
		},
		Audio: AudioConfig{
			CaptureRate:  16000,
			PlaybackRate: 24000,
			ChunkSamples: 4096,
		},
		Outbound: OutboundConfig{
			QueueSize: 16,
			Overflow:  OverflowDropOldest,
		},
		Reconnect: ReconnectConfig{
			InitialBackoffMS: 500,
			MaxBackoffMS:     15000,
		},
	}
}
