package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/voicewirehq/voicewire/internal/bridge"
)

// Default supervision parameters.
const (
	defaultBackoff    = 500 * time.Millisecond
	defaultMaxBackoff = 15 * time.Second
)

// Supervisor restarts failed voice sessions with exponential backoff.
//
// The session core never reconnects on its own: a transport failure leaves
// the bridge in its terminal failed state. When reconnection is enabled the
// Supervisor watches the active session and, after a failure, starts a
// replacement through the [SessionManager], doubling the delay between
// attempts up to MaxBackoff. Sessions that end cleanly (a deliberate stop or
// a remote close) are never restarted, and neither are failures that need
// operator action: a missing credential or denied device access.
type Supervisor struct {
	sessions    *SessionManager
	maxAttempts int
	backoff     time.Duration
	maxBackoff  time.Duration
	log         *slog.Logger
}

// SupervisorConfig configures a [Supervisor].
type SupervisorConfig struct {
	// Sessions is the manager whose sessions are supervised.
	Sessions *SessionManager

	// MaxAttempts caps consecutive failed restart attempts before giving up.
	// Zero means no cap. The counter resets once a session is running again.
	MaxAttempts int

	// Backoff is the delay before the first restart attempt. Doubles each
	// attempt up to MaxBackoff. Defaults to 500ms if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on the restart delay. Defaults to 15s if
	// zero.
	MaxBackoff time.Duration

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// NewSupervisor creates a new [Supervisor] with the given configuration.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		sessions:    cfg.Sessions,
		maxAttempts: cfg.MaxAttempts,
		backoff:     backoff,
		maxBackoff:  maxBackoff,
		log:         log,
	}
}

// Run starts the first session and supervises it until ctx is cancelled, a
// session ends cleanly, or the retry budget runs out. It returns nil after a
// clean session end, ctx.Err() after cancellation, and otherwise the error
// that exhausted the retries.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.sessions.Start(ctx); err != nil {
		if !retryable(err) {
			return err
		}
		if err := s.restart(ctx, err); err != nil {
			return err
		}
	}

	for {
		b := s.sessions.Bridge()
		select {
		case <-ctx.Done():
			// The bridge watches the same context and stops itself; wait
			// for the drain to finish before reporting the cancellation.
			<-b.Done()
			return ctx.Err()
		case <-b.Done():
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := b.Err()
		if err == nil {
			// Deliberate stop or clean remote close. The session is over.
			return nil
		}
		if !retryable(err) {
			return err
		}
		if err := s.restart(ctx, err); err != nil {
			return err
		}
	}
}

// restart attempts to start a replacement session, doubling the delay
// between attempts. It returns nil once a session is running again, ctx's
// error on cancellation, and the last start error when the attempt budget is
// exhausted.
func (s *Supervisor) restart(ctx context.Context, cause error) error {
	delay := s.backoff

	for attempt := 1; s.maxAttempts == 0 || attempt <= s.maxAttempts; attempt++ {
		s.log.Info("restarting session",
			"attempt", attempt,
			"max_attempts", s.maxAttempts,
			"delay", delay,
			"cause", cause,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		err := s.sessions.Start(ctx)
		if err == nil {
			s.log.Info("session restarted", "attempt", attempt)
			return nil
		}
		if !retryable(err) {
			return err
		}
		cause = err

		s.log.Warn("session restart attempt failed",
			"attempt", attempt,
			"error", err,
		)

		delay *= 2
		if delay > s.maxBackoff {
			delay = s.maxBackoff
		}
	}

	s.log.Error("session restart failed after max attempts",
		"max_attempts", s.maxAttempts,
	)
	return cause
}

// retryable reports whether a session failure can be repaired by trying
// again. Missing credentials and denied device access need operator action
// first.
func retryable(err error) bool {
	return !errors.Is(err, bridge.ErrMissingCredential) &&
		!errors.Is(err, bridge.ErrDeviceAccessDenied)
}
