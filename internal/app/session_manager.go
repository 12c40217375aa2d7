package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voicewirehq/voicewire/internal/bridge"
	"github.com/voicewirehq/voicewire/internal/config"
	"github.com/voicewirehq/voicewire/internal/observe"
	"github.com/voicewirehq/voicewire/pkg/device"
	"github.com/voicewirehq/voicewire/pkg/transport"
)

// ErrNoSession is returned by [SessionManager.Stop] when no session is
// running.
var ErrNoSession = errors.New("session: no active session")

// SessionInfo holds metadata about the current session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string

	// Provider is the transport provider name the session runs on.
	Provider string

	// Model is the model the session was started with.
	Model string

	// StartedAt is when the session was started.
	StartedAt time.Time
}

// Status is a point-in-time snapshot of the daemon's session, served on the
// admin status endpoint. After a session ends it keeps reporting the final
// state and counters until the next session starts.
type Status struct {
	State            string    `json:"state"`
	SessionID        string    `json:"session_id,omitempty"`
	Provider         string    `json:"provider,omitempty"`
	Model            string    `json:"model,omitempty"`
	StartedAt        time.Time `json:"started_at,omitzero"`
	CapturedChunks   uint64    `json:"captured_chunks"`
	SentChunks       uint64    `json:"sent_chunks"`
	DroppedChunks    uint64    `json:"dropped_chunks"`
	ScheduledBuffers uint64    `json:"scheduled_buffers"`
	Error            string    `json:"error,omitempty"`
}

// SessionManager manages the lifecycle of voice sessions.
// Only one session can be active at a time (enforced by mutex).
// All exported methods are safe for concurrent use.
type SessionManager struct {
	mu     sync.Mutex
	bridge *bridge.Bridge
	info   SessionInfo
	cfg    *config.Config

	// Dependencies injected at construction.
	registry *config.Registry
	dev      device.Device
	metrics  *observe.Metrics
	log      *slog.Logger
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Config   *config.Config
	Registry *config.Registry
	Device   device.Device
	Metrics  *observe.Metrics
	Logger   *slog.Logger
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &SessionManager{
		cfg:      cfg.Config,
		registry: cfg.Registry,
		dev:      cfg.Device,
		metrics:  cfg.Metrics,
		log:      log,
	}
}

// Start begins a new voice session. It creates the configured transport
// provider, builds a fresh bridge, and drives it to its active state. The
// supplied ctx governs the whole session, not just setup: cancelling it
// later stops the session.
//
// Returns an error if a session is already active or setup fails. On a setup
// failure the bridge has already released any partially acquired resources.
func (sm *SessionManager) Start(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.bridge != nil && !sm.bridge.State().Terminal() {
		return fmt.Errorf("session: a session is already active (id=%s)", sm.info.SessionID)
	}

	cfg := sm.cfg

	provider, err := sm.registry.CreateTransport(cfg.Provider)
	if err != nil {
		return fmt.Errorf("session: create transport: %w", err)
	}

	now := time.Now().UTC()
	sessionID := fmt.Sprintf("session-%s-%s",
		sanitizeName(cfg.Provider.Name),
		now.Format("20060102T150405Z"),
	)
	log := sm.log.With("session_id", sessionID)

	b := bridge.New(provider, sm.dev, bridgeConfig(cfg),
		bridge.WithLogger(log),
		bridge.WithMetrics(sm.metrics),
		bridge.WithNotify(func(s bridge.State) {
			log.Info("session state", "state", s)
		}),
	)

	// Recorded before Start so a failed session stays visible in Status.
	sm.bridge = b
	sm.info = SessionInfo{
		SessionID: sessionID,
		Provider:  cfg.Provider.Name,
		Model:     cfg.Provider.Model,
		StartedAt: now,
	}

	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("session: start: %w", err)
	}

	sm.log.Info("session started",
		"session_id", sessionID,
		"provider", cfg.Provider.Name,
		"model", cfg.Provider.Model,
	)

	return nil
}

// Stop gracefully ends the active session and waits for playback to drain
// and the devices to be released, or for ctx to expire.
//
// Returns [ErrNoSession] if no session is active.
func (sm *SessionManager) Stop(ctx context.Context) error {
	sm.mu.Lock()
	b := sm.bridge
	sessionID := sm.info.SessionID
	sm.mu.Unlock()

	if b == nil || b.State().Terminal() {
		return ErrNoSession
	}

	b.Stop()
	select {
	case <-b.Done():
	case <-ctx.Done():
		return fmt.Errorf("session: stop %s: %w", sessionID, ctx.Err())
	}

	if err := b.Err(); err != nil {
		return fmt.Errorf("session: %s: %w", sessionID, err)
	}

	sm.log.Info("session stopped", "session_id", sessionID)
	return nil
}

// IsActive reports whether a session is currently running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.bridge != nil && !sm.bridge.State().Terminal()
}

// Info returns metadata about the current session. After a session ends the
// metadata remains available until the next Start. Returns the zero value if
// no session was ever started.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.info
}

// Bridge returns the current session's bridge. The bridge outlives its
// session in a terminal state so callers can still read its final counters.
// Returns nil if no session was ever started.
func (sm *SessionManager) Bridge() *bridge.Bridge {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.bridge
}

// Config returns the configuration the next session will start with.
func (sm *SessionManager) Config() *config.Config {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.cfg
}

// SetConfig swaps the configuration used by the next Start. The active
// session, if any, keeps the configuration it was started with.
func (sm *SessionManager) SetConfig(cfg *config.Config) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.cfg = cfg
}

// Status returns the admin snapshot of the current session.
func (sm *SessionManager) Status() Status {
	sm.mu.Lock()
	b := sm.bridge
	info := sm.info
	sm.mu.Unlock()

	if b == nil {
		return Status{State: bridge.StateIdle.String()}
	}

	stats := b.Stats()
	st := Status{
		State:            stats.State.String(),
		SessionID:        info.SessionID,
		Provider:         info.Provider,
		Model:            info.Model,
		StartedAt:        info.StartedAt,
		CapturedChunks:   stats.Captured,
		SentChunks:       stats.Sent,
		DroppedChunks:    stats.Dropped,
		ScheduledBuffers: stats.Scheduled,
	}
	if err := b.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}

// bridgeConfig converts the daemon configuration into per-session bridge
// parameters. The credential is resolved at session start so a key exported
// after the daemon came up is still picked up.
func bridgeConfig(cfg *config.Config) bridge.Config {
	return bridge.Config{
		Session: transport.Config{
			Model:             cfg.Provider.Model,
			Voice:             cfg.Session.Voice,
			SystemInstruction: cfg.Session.SystemInstruction,
			InputSampleRate:   cfg.Audio.CaptureRate,
			OutputSampleRate:  cfg.Audio.PlaybackRate,
			APIKey:            cfg.Provider.ResolveAPIKey(),
		},
		ChunkSamples:      cfg.Audio.ChunkSamples,
		QueueCapacity:     cfg.Outbound.QueueSize,
		Overflow:          cfg.Outbound.Overflow.Pipeline(),
		RequireCredential: cfg.Provider.Name == config.ProviderGeminiLive,
	}
}

// sanitizeName replaces spaces with hyphens and lowercases a name for use in
// session IDs.
func sanitizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, " ", "-")
	return name
}
