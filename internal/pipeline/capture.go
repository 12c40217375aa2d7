// Package pipeline implements the two audio pipelines of a voice session:
// capture (microphone to transport) and playback (transport to speaker).
//
// The capture side reads fixed-size sample chunks from a device stream,
// encodes them as PCM wire chunks, and hands them to a [Sender] that owns a
// bounded outbound queue. The playback side is a [Scheduler] that places
// decoded chunks on the device output timeline back to back, so consecutive
// chunks play gaplessly even when they arrive in bursts.
//
// This package is internal because it encapsulates application-private voice
// pipeline logic and is not intended for import by external code.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/voicewirehq/voicewire/internal/observe"
	"github.com/voicewirehq/voicewire/pkg/device"
	"github.com/voicewirehq/voicewire/pkg/pcm"
	"github.com/voicewirehq/voicewire/pkg/transport"
)

// Submitter accepts encoded chunks for asynchronous delivery. Submission is
// fire-and-forget: the capture loop never learns whether a chunk reached the
// peer.
type Submitter interface {
	Submit(chunk transport.AudioChunk)
}

// CaptureOption is a functional option for configuring a [Capture].
type CaptureOption func(*Capture)

// WithCaptureLogger sets the logger used by the capture loop. The default is
// [slog.Default].
func WithCaptureLogger(l *slog.Logger) CaptureOption {
	return func(c *Capture) { c.log = l }
}

// WithCaptureMetrics sets the metrics instance used by the capture loop. The
// default is [observe.DefaultMetrics].
func WithCaptureMetrics(m *observe.Metrics) CaptureOption {
	return func(c *Capture) { c.metrics = m }
}

// Capture pulls fixed-size chunks from a device capture stream, encodes them,
// and submits them for delivery. One Capture drives one session's microphone.
type Capture struct {
	stream       device.CaptureStream
	out          Submitter
	chunkSamples int
	mime         string

	log     *slog.Logger
	metrics *observe.Metrics

	sent atomic.Uint64
}

// NewCapture creates a capture pipeline reading chunkSamples-sized chunks
// from stream at sampleRate and submitting the encoded result to out.
func NewCapture(stream device.CaptureStream, out Submitter, sampleRate, chunkSamples int, opts ...CaptureOption) *Capture {
	c := &Capture{
		stream:       stream,
		out:          out,
		chunkSamples: chunkSamples,
		mime:         pcm.MimeType(sampleRate),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Run pulls chunks from the device until ctx is cancelled or the stream
// fails. Cancellation is the normal way to stop capturing and returns nil;
// any other stream error is returned to the caller.
//
// Chunks are submitted in capture order, so the outbound sequence preserves
// the order in which audio was spoken.
func (c *Capture) Run(ctx context.Context) error {
	buf := make([]float32, c.chunkSamples)
	for {
		if err := c.stream.Read(ctx, buf); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.log.Debug("capture stopped", "chunks", c.sent.Load())
				return nil
			}
			return fmt.Errorf("pipeline: capture read: %w", err)
		}

		// Encode copies the samples, so buf can be reused for the next read.
		c.out.Submit(transport.AudioChunk{
			MimeType: c.mime,
			Data:     pcm.Encode(buf),
		})
		c.sent.Add(1)
		c.metrics.RecordCaptureChunk(ctx)
	}
}

// Sent reports how many chunks the capture loop has submitted so far.
func (c *Capture) Sent() uint64 {
	return c.sent.Load()
}
