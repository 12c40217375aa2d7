package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voicewirehq/voicewire/internal/observe"
	"github.com/voicewirehq/voicewire/pkg/device"
	"github.com/voicewirehq/voicewire/pkg/pcm"
	"github.com/voicewirehq/voicewire/pkg/transport"
)

// ErrFormatMismatch reports an inbound chunk whose audio format violates the
// session contract. The stream cannot recover from it: interpreting the
// remaining bytes at the wrong rate would produce garbled audio, so the
// session must fail.
var ErrFormatMismatch = errors.New("pipeline: audio format mismatch")

// SchedulerOption is a functional option for configuring a [Scheduler].
type SchedulerOption func(*Scheduler)

// WithSchedulerLogger sets the logger used by the scheduler. The default is
// [slog.Default].
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.log = l }
}

// WithSchedulerMetrics sets the metrics instance used by the scheduler. The
// default is [observe.DefaultMetrics].
func WithSchedulerMetrics(m *observe.Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler places inbound audio chunks on the device output timeline.
//
// It keeps a single piece of state, the next start time: each chunk begins at
// the later of that time and the device clock's current position, and the
// next start time then advances by the chunk's duration. Chunks that arrive
// while the previous ones are still playing queue up seamlessly; a chunk that
// arrives after the timeline has drained starts from the live clock instead
// of a stale position in the past.
//
// Scheduler is safe for concurrent use, though a session feeds it from a
// single goroutine in practice.
type Scheduler struct {
	sink device.OutputSink
	rate int

	log     *slog.Logger
	metrics *observe.Metrics

	mu        sync.Mutex
	nextStart time.Duration
	scheduled uint64
}

// NewScheduler creates a playback scheduler for sink expecting mono chunks at
// sampleRate. The timeline starts at the sink's current clock position.
func NewScheduler(sink device.OutputSink, sampleRate int, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		sink: sink,
		rate: sampleRate,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.nextStart = sink.Now()
	return s
}

// Schedule decodes chunk and appends it to the playback timeline.
//
// A chunk whose mime type cannot be parsed, declares a different sample rate
// than the session's, or carries a malformed payload returns an error wrapping
// [ErrFormatMismatch]; the caller must treat it as fatal. An empty chunk is a
// no-op and leaves the timeline untouched.
func (s *Scheduler) Schedule(chunk transport.AudioChunk) error {
	rate, err := pcm.ParseMimeType(chunk.MimeType)
	if err != nil {
		return fmt.Errorf("%w: unparsable chunk mime type %q", ErrFormatMismatch, chunk.MimeType)
	}
	if rate != s.rate {
		return fmt.Errorf("%w: chunk rate %d, session rate %d", ErrFormatMismatch, rate, s.rate)
	}

	channels, err := pcm.Decode(chunk.Data, 1)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFormatMismatch, err)
	}
	samples := channels[0]
	if len(samples) == 0 {
		return nil
	}
	d := pcm.Duration(len(samples), s.rate)

	s.mu.Lock()
	start := s.nextStart
	if now := s.sink.Now(); now > start {
		// The timeline drained while no audio was arriving. Restart from the
		// live clock rather than a position already in the past.
		start = now
		s.metrics.RecordGapBridged(context.Background())
	}
	if err := s.sink.ScheduleAt(samples, start); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("pipeline: schedule playback: %w", err)
	}
	s.nextStart = start + d
	s.scheduled++
	s.mu.Unlock()

	s.metrics.RecordPlayback(context.Background(), d.Seconds())
	return nil
}

// TurnComplete notes a turn boundary signalled by the peer. It is purely
// informational: audio already scheduled keeps playing and the timeline is
// not altered.
func (s *Scheduler) TurnComplete() {
	s.metrics.RecordTurn(context.Background())
	s.log.Debug("turn complete", "scheduled_chunks", s.Scheduled())
}

// NextStart reports where the next chunk would begin on the device timeline.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// Scheduled reports how many chunks have been placed on the timeline.
func (s *Scheduler) Scheduled() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduled
}
