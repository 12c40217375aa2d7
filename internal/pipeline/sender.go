package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voicewirehq/voicewire/internal/observe"
	"github.com/voicewirehq/voicewire/pkg/transport"
)

// OverflowPolicy selects what Submit does when the outbound queue is full.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest queued chunk to make room for the new one.
	// Newest audio wins, which keeps the conversation as close to real time
	// as possible.
	DropOldest OverflowPolicy = iota

	// Block makes Submit wait for queue space, pausing the capture loop and
	// trading latency for completeness.
	Block
)

// String returns the config-file spelling of the policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case Block:
		return "block"
	default:
		return "unknown"
	}
}

// defaultQueueCapacity bounds the outbound queue when no option overrides it.
// At 4096 samples per chunk and 16kHz this is about four seconds of audio.
const defaultQueueCapacity = 16

// ChunkSender delivers one encoded chunk to the remote peer. It is the
// write half of a [transport.Handle].
type ChunkSender interface {
	Send(chunk transport.AudioChunk) error
}

// SenderOption is a functional option for configuring a [Sender].
type SenderOption func(*Sender)

// WithQueueCapacity sets the outbound queue depth. The default is 16 chunks.
func WithQueueCapacity(n int) SenderOption {
	return func(s *Sender) { s.capacity = n }
}

// WithOverflowPolicy sets the full-queue behavior. The default is [DropOldest].
func WithOverflowPolicy(p OverflowPolicy) SenderOption {
	return func(s *Sender) { s.policy = p }
}

// WithSenderLogger sets the logger used by the delivery loop. The default is
// [slog.Default].
func WithSenderLogger(l *slog.Logger) SenderOption {
	return func(s *Sender) { s.log = l }
}

// WithSenderMetrics sets the metrics instance used by the delivery loop. The
// default is [observe.DefaultMetrics].
func WithSenderMetrics(m *observe.Metrics) SenderOption {
	return func(s *Sender) { s.metrics = m }
}

// Sender owns the bounded outbound queue between the capture loop and the
// transport. A single delivery goroutine drains the queue, so chunks reach
// the peer in submission order and the capture loop never blocks on network
// I/O (unless the [Block] policy asks it to).
type Sender struct {
	sink     ChunkSender
	capacity int
	policy   OverflowPolicy

	log     *slog.Logger
	metrics *observe.Metrics

	queue chan transport.AudioChunk
	done  chan struct{}
	ended chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
	startOnce sync.Once

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewSender creates a Sender delivering to sink. Call [Sender.Start] before
// submitting.
func NewSender(sink ChunkSender, opts ...SenderOption) *Sender {
	s := &Sender{
		sink:     sink,
		capacity: defaultQueueCapacity,
		policy:   DropOldest,
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
	s.queue = make(chan transport.AudioChunk, s.capacity)
	s.done = make(chan struct{})
	s.ended = make(chan struct{})
	return s
}

// Start launches the delivery goroutine. Subsequent calls are no-ops.
func (s *Sender) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

// Submit queues a chunk for delivery. When the queue is full the configured
// [OverflowPolicy] decides whether the oldest chunk is evicted or the caller
// waits. Submissions after Close are dropped silently.
func (s *Sender) Submit(chunk transport.AudioChunk) {
	if s.closed.Load() {
		return
	}

	if s.policy == Block {
		select {
		case s.queue <- chunk:
		case <-s.done:
		}
		return
	}

	for {
		select {
		case s.queue <- chunk:
			return
		default:
		}
		// Queue full: evict the oldest entry and retry. The delivery loop may
		// beat us to it, in which case the retry simply succeeds.
		select {
		case <-s.queue:
			s.dropped.Add(1)
			s.metrics.RecordOutboundDropped(context.Background())
			s.log.Debug("outbound queue full, dropped oldest chunk")
		default:
		}
	}
}

// run delivers queued chunks in order until Close is called, then drains
// whatever is still queued so every accepted chunk reaches the peer.
func (s *Sender) run() {
	defer close(s.ended)

	for {
		select {
		case chunk := <-s.queue:
			s.deliver(chunk)
		case <-s.done:
			for {
				select {
				case chunk := <-s.queue:
					s.deliver(chunk)
				default:
					return
				}
			}
		}
	}
}

// deliver pushes one chunk to the transport. Send errors are logged but not
// propagated: a dying transport surfaces through the session's receive side,
// and submission is fire-and-forget by contract.
func (s *Sender) deliver(chunk transport.AudioChunk) {
	start := time.Now()
	if err := s.sink.Send(chunk); err != nil {
		s.log.Warn("outbound send failed", "err", err)
		return
	}
	s.sent.Add(1)
	s.metrics.RecordOutboundSent(context.Background())
	s.metrics.SendDuration.Record(context.Background(), time.Since(start).Seconds())
}

// Close stops accepting new chunks, waits for the delivery loop to flush the
// queue, and returns. Idempotent.
func (s *Sender) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
	s.Start() // a never-started sender still needs the drain to run once
	<-s.ended
	return nil
}

// Sent reports how many chunks have been delivered to the transport.
func (s *Sender) Sent() uint64 { return s.sent.Load() }

// Dropped reports how many chunks were evicted from a full queue.
func (s *Sender) Dropped() uint64 { return s.dropped.Load() }

// Queued reports how many chunks are currently waiting for delivery.
func (s *Sender) Queued() int { return len(s.queue) }
