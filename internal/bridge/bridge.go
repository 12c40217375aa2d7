// Package bridge implements the lifecycle of one voice session: a state
// machine driving the transport connection, the local audio devices, and the
// capture and playback pipelines between them.
//
// A Bridge is one-shot. Start moves it from Idle through Connecting to
// Active, spawning the pipeline goroutines; Stop or a remote close moves it
// through Stopping to Closed; any fatal condition moves it to Failed.
// Terminal states are final: a new session means a new Bridge. Done is closed
// once the terminal state is reached and every resource has been released,
// and Err reports why the session ended.
//
// This package is internal because the session lifecycle is application
// wiring and is not intended for import by external code.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voicewirehq/voicewire/internal/observe"
	"github.com/voicewirehq/voicewire/internal/pipeline"
	"github.com/voicewirehq/voicewire/pkg/device"
	"github.com/voicewirehq/voicewire/pkg/transport"
)

// ErrMissingCredential reports that Start ran with credential checking
// enabled and no API key available. The session fails before any network or
// device access is attempted.
var ErrMissingCredential = errors.New("bridge: missing credential")

// ErrDeviceAccessDenied reports that the platform refused access to a local
// audio device for this session. It wraps [device.ErrAccessDenied].
var ErrDeviceAccessDenied = fmt.Errorf("bridge: %w", device.ErrAccessDenied)

// TransportError reports a failure of the underlying transport session.
type TransportError struct {
	// Op names the failing operation: "connect" or "receive".
	Op string

	// Err is the underlying cause.
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("bridge: transport %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error { return e.Err }

const (
	defaultInputRate    = 16000
	defaultOutputRate   = 24000
	defaultChunkSamples = 4096
)

// Config carries the per-session parameters of a Bridge.
type Config struct {
	// Session is the transport session configuration, including the resolved
	// credential.
	Session transport.Config

	// ChunkSamples is the capture chunk size in samples. Defaults to 4096.
	ChunkSamples int

	// QueueCapacity is the outbound queue capacity in chunks. Zero means the
	// sender default.
	QueueCapacity int

	// Overflow selects the outbound queue overflow policy.
	Overflow pipeline.OverflowPolicy

	// RequireCredential makes Start fail with ErrMissingCredential when
	// Session.APIKey is empty. Providers that need no credential leave it
	// false.
	RequireCredential bool
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.log = l }
}

// WithMetrics sets the metrics instance. The default is
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithNotify sets a callback invoked synchronously on every state change with
// the new state. It is the session's single user-visible status indicator.
// The callback runs outside the bridge lock and may query the Bridge.
func WithNotify(fn func(State)) Option {
	return func(b *Bridge) { b.notify = fn }
}

// Bridge owns one voice session end to end: the transport handle, the
// capture stream and output sink, and the goroutines moving audio between
// them. All methods are safe for concurrent use.
type Bridge struct {
	provider transport.Provider
	dev      device.Device
	cfg      Config

	log     *slog.Logger
	metrics *observe.Metrics
	notify  func(State)

	mu            sync.Mutex
	state         State
	err           error
	stopRequested bool
	cancel        context.CancelFunc
	handle        transport.Handle
	mic           device.CaptureStream
	sink          device.OutputSink
	capture       *pipeline.Capture
	sender        *pipeline.Sender
	sched         *pipeline.Scheduler

	wg           sync.WaitGroup
	shutdownOnce sync.Once
	done         chan struct{}
}

// New creates an idle Bridge. Zero sample rates and chunk size in cfg fall
// back to the 16 kHz capture, 24 kHz playback, 4096-sample defaults.
func New(provider transport.Provider, dev device.Device, cfg Config, opts ...Option) *Bridge {
	if cfg.Session.InputSampleRate <= 0 {
		cfg.Session.InputSampleRate = defaultInputRate
	}
	if cfg.Session.OutputSampleRate <= 0 {
		cfg.Session.OutputSampleRate = defaultOutputRate
	}
	if cfg.ChunkSamples <= 0 {
		cfg.ChunkSamples = defaultChunkSamples
	}
	b := &Bridge{
		provider: provider,
		dev:      dev,
		cfg:      cfg,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = slog.Default()
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	return b
}

// Start drives the session from Idle to Active: connect the transport,
// acquire the microphone and the output sink, and start the pipeline
// goroutines. It blocks until the session is active or setup has failed; on
// failure the bridge is already in its terminal Failed state with all
// partially acquired resources released.
//
// ctx governs the whole session, not just setup: cancelling it later stops
// the session as if Stop had been called.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.state != StateIdle {
		state := b.state
		b.mu.Unlock()
		return fmt.Errorf("bridge: start in state %s", state)
	}
	if b.stopRequested {
		b.mu.Unlock()
		return errors.New("bridge: stopped before start")
	}
	if b.cfg.RequireCredential && b.cfg.Session.APIKey == "" {
		b.mu.Unlock()
		b.failState(ErrMissingCredential)
		b.shutdown()
		return ErrMissingCredential
	}
	sctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.state = StateConnecting
	b.mu.Unlock()
	b.afterTransition(StateIdle, StateConnecting, EventStart)

	dialStart := time.Now()
	handle, err := b.provider.Connect(sctx, b.cfg.Session)
	if err != nil {
		terr := &TransportError{Op: "connect", Err: err}
		b.failState(terr)
		b.shutdown()
		return terr
	}
	b.metrics.ConnectDuration.Record(sctx, time.Since(dialStart).Seconds())
	b.mu.Lock()
	b.handle = handle
	b.mu.Unlock()

	mic, err := b.dev.RequestCapture(sctx, b.cfg.Session.InputSampleRate, 1)
	if err != nil {
		err = mapDeviceErr("capture", err)
		b.failState(err)
		b.shutdown()
		return err
	}
	b.mu.Lock()
	b.mic = mic
	b.mu.Unlock()

	sink, err := b.dev.OpenOutput(sctx, b.cfg.Session.OutputSampleRate, 1)
	if err != nil {
		err = mapDeviceErr("output", err)
		b.failState(err)
		b.shutdown()
		return err
	}

	// The scheduler picks up the sink clock at construction, so playback
	// starts at the device's current position.
	sched := pipeline.NewScheduler(sink, b.cfg.Session.OutputSampleRate,
		pipeline.WithSchedulerLogger(b.log), pipeline.WithSchedulerMetrics(b.metrics))
	senderOpts := []pipeline.SenderOption{
		pipeline.WithOverflowPolicy(b.cfg.Overflow),
		pipeline.WithSenderLogger(b.log),
		pipeline.WithSenderMetrics(b.metrics),
	}
	if b.cfg.QueueCapacity > 0 {
		senderOpts = append(senderOpts, pipeline.WithQueueCapacity(b.cfg.QueueCapacity))
	}
	sender := pipeline.NewSender(handle, senderOpts...)
	capture := pipeline.NewCapture(mic, sender, b.cfg.Session.InputSampleRate, b.cfg.ChunkSamples,
		pipeline.WithCaptureLogger(b.log), pipeline.WithCaptureMetrics(b.metrics))

	b.mu.Lock()
	b.sink = sink
	b.sched = sched
	b.sender = sender
	b.capture = capture
	b.mu.Unlock()

	sender.Start()
	b.wg.Go(func() {
		if err := capture.Run(sctx); err != nil {
			b.fail(err)
		}
	})
	b.wg.Go(func() { b.playbackLoop(handle, sched) })
	b.wg.Go(func() { b.turnLoop(handle, sched) })
	b.wg.Go(func() { b.transcriptLoop(handle) })
	b.wg.Go(func() {
		// A cancelled session context is a stop request.
		<-sctx.Done()
		b.Stop()
	})

	if !b.activate() {
		terr := &TransportError{Op: "connect", Err: context.Canceled}
		b.failState(terr)
		b.shutdown()
		return terr
	}
	return nil
}

// Stop requests teardown. It is idempotent and safe from any state; stopping
// a bridge that never started is a no-op. Stop returns without waiting for
// teardown; use Done to observe completion.
func (b *Bridge) Stop() {
	b.mu.Lock()
	b.stopRequested = true
	state := b.state
	cancel := b.cancel
	b.mu.Unlock()

	switch state {
	case StateConnecting:
		// Abort the in-flight dial; Start resolves the session to Failed.
		if cancel != nil {
			cancel()
		}
	case StateActive:
		if b.apply(EventStop) {
			go b.shutdown()
		}
	}
}

// Done returns a channel closed once the bridge has reached a terminal state
// and released its resources.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// Err returns the terminal reason, or nil while the session is running and
// after a clean close.
func (b *Bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats is a point-in-time snapshot of a session's pipeline counters.
type Stats struct {
	// State is the lifecycle state at snapshot time.
	State State

	// Captured counts chunks read from the microphone.
	Captured uint64

	// Sent counts chunks delivered to the transport.
	Sent uint64

	// Dropped counts chunks evicted from the outbound queue.
	Dropped uint64

	// Scheduled counts playback buffers handed to the output device.
	Scheduled uint64
}

// Stats returns a snapshot of the session counters. Before the session is
// active all counters are zero.
func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := Stats{State: b.state}
	if b.capture != nil {
		st.Captured = b.capture.Sent()
	}
	if b.sender != nil {
		st.Sent = b.sender.Sent()
		st.Dropped = b.sender.Dropped()
	}
	if b.sched != nil {
		st.Scheduled = b.sched.Scheduled()
	}
	return st
}

// playbackLoop drains inbound audio into the scheduler. When the audio
// channel closes it decides how the session ends: a transport error fails the
// session, a clean remote close stops it.
func (b *Bridge) playbackLoop(h transport.Handle, sched *pipeline.Scheduler) {
	for chunk := range h.Audio() {
		if err := sched.Schedule(chunk); err != nil {
			b.fail(err)
			return
		}
	}
	if err := h.Err(); err != nil {
		b.fail(&TransportError{Op: "receive", Err: err})
		return
	}
	b.remoteClosed()
}

// turnLoop forwards turn-complete signals to the scheduler. The signals are
// informational and never reset the playback clock.
func (b *Bridge) turnLoop(h transport.Handle, sched *pipeline.Scheduler) {
	for range h.Turns() {
		sched.TurnComplete()
	}
}

// transcriptLoop surfaces transcript text through the session log.
func (b *Bridge) transcriptLoop(h transport.Handle) {
	for text := range h.Transcripts() {
		b.log.Info("transcript", "text", text)
	}
}

// activate flips Connecting to Active unless a stop arrived during setup.
func (b *Bridge) activate() bool {
	b.mu.Lock()
	if b.stopRequested || b.state != StateConnecting {
		b.mu.Unlock()
		return false
	}
	b.state = StateActive
	b.mu.Unlock()
	b.afterTransition(StateConnecting, StateActive, EventOpened)
	return true
}

// apply advances the state machine with e, publishing the change when the
// event is listed for the current state.
func (b *Bridge) apply(e Event) bool {
	b.mu.Lock()
	from := b.state
	to, ok := transition(from, e)
	if !ok {
		b.mu.Unlock()
		return false
	}
	b.state = to
	b.mu.Unlock()
	b.afterTransition(from, to, e)
	return true
}

// fail is the asynchronous failure path used by the pipeline goroutines.
func (b *Bridge) fail(err error) {
	if b.failState(err) {
		go b.shutdown()
	}
}

// failState applies EventFail with err as the terminal reason. Failures
// arriving after teardown has begun are logged and otherwise ignored.
func (b *Bridge) failState(err error) bool {
	b.mu.Lock()
	from := b.state
	to, ok := transition(from, EventFail)
	if !ok {
		b.mu.Unlock()
		b.log.Debug("late failure ignored", "state", from, "error", err)
		return false
	}
	if b.err == nil {
		b.err = err
	}
	b.state = to
	b.mu.Unlock()
	b.log.Error("session failed", "error", err)
	b.metrics.RecordFailure(context.Background(), failureReason(err))
	b.afterTransition(from, to, EventFail)
	return true
}

// remoteClosed handles the transport ending cleanly from the remote side.
func (b *Bridge) remoteClosed() {
	if b.apply(EventClosed) {
		b.log.Info("remote closed the session")
		go b.shutdown()
	}
}

// shutdown tears the session down exactly once: stop capture, flush the
// outbound queue, close the transport, wait for the loops, then release the
// devices in reverse acquisition order. Buffers already handed to the output
// device finish rendering because the sink drains on Close.
func (b *Bridge) shutdown() {
	b.shutdownOnce.Do(func() {
		b.mu.Lock()
		cancel := b.cancel
		sender := b.sender
		handle := b.handle
		sink := b.sink
		mic := b.mic
		b.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if sender != nil {
			sender.Close()
		}
		if handle != nil {
			if err := handle.Close(); err != nil {
				b.log.Warn("transport close", "error", err)
			}
		}
		b.wg.Wait()
		if handle != nil {
			// A playback failure exits the loop early and leaves undelivered
			// chunks buffered on the now-closed handle.
			transport.Drain(handle.Audio())
		}
		if sink != nil {
			if err := sink.Close(); err != nil {
				b.log.Warn("output close", "error", err)
			}
		}
		if mic != nil {
			if err := mic.Close(); err != nil {
				b.log.Warn("capture close", "error", err)
			}
		}
		b.apply(EventReleased)
		close(b.done)
	})
}

// afterTransition publishes a state change: log, metrics, and the status
// callback. Runs outside the bridge lock so the callback can query the
// Bridge.
func (b *Bridge) afterTransition(from, to State, e Event) {
	b.log.Info("session state", "from", from, "to", to, "event", e)
	ctx := context.Background()
	b.metrics.RecordTransition(ctx, from.String(), to.String())
	if to == StateActive {
		b.metrics.SessionStarted(ctx)
	}
	if from == StateActive {
		b.metrics.SessionEnded(ctx)
	}
	if b.notify != nil {
		b.notify(to)
	}
}

// mapDeviceErr normalizes device acquisition failures.
func mapDeviceErr(op string, err error) error {
	if errors.Is(err, device.ErrAccessDenied) {
		return ErrDeviceAccessDenied
	}
	return fmt.Errorf("bridge: open %s: %w", op, err)
}

// failureReason maps a terminal error onto its metric label.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingCredential):
		return "missing_credential"
	case errors.Is(err, ErrDeviceAccessDenied):
		return "device_access_denied"
	case errors.Is(err, pipeline.ErrFormatMismatch):
		return "format_mismatch"
	}
	var terr *TransportError
	if errors.As(err, &terr) {
		return "transport"
	}
	return "internal"
}
