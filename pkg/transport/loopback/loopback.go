// Package loopback implements an in-process transport.Provider that echoes
// captured audio back as playback audio.
//
// It needs no credential and no network, which makes it useful for local
// development and for exercising the full capture/playback pipeline in tests.
// Outbound chunks are decoded, resampled from the session's input rate to its
// output rate, re-encoded, and delivered on the Audio channel. After a quiet
// gap with no outbound audio the handle signals a turn boundary and emits a
// one-line transcript summarizing the echoed turn.
package loopback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/voicewirehq/voicewire/pkg/pcm"
	"github.com/voicewirehq/voicewire/pkg/transport"
)

var _ transport.Provider = (*Provider)(nil)
var _ transport.Handle = (*handle)(nil)

const defaultTurnGap = 300 * time.Millisecond

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithTurnGap sets the quiet period after which the handle signals a turn
// boundary. The default is 300ms.
func WithTurnGap(d time.Duration) Option {
	return func(p *Provider) { p.turnGap = d }
}

// Provider implements transport.Provider with a local echo session.
type Provider struct {
	turnGap time.Duration
}

// New creates a loopback Provider.
func New(opts ...Option) *Provider {
	p := &Provider{turnGap: defaultTurnGap}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect opens an echo session. No credential is required and no network
// traffic occurs; the returned handle is immediately live.
func (p *Provider) Connect(ctx context.Context, cfg transport.Config) (transport.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("loopback: connect: %w", err)
	}

	h := &handle{
		outRate:     cfg.OutputSampleRate,
		turnGap:     p.turnGap,
		audioCh:     make(chan transport.AudioChunk, 64),
		transcripts: make(chan string, 16),
		turns:       make(chan struct{}, 4),
		activity:    make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	go h.turnLoop()
	return h, nil
}

type handle struct {
	outRate int
	turnGap time.Duration

	audioCh     chan transport.AudioChunk
	transcripts chan string
	turns       chan struct{}
	activity    chan struct{}
	done        chan struct{}

	mu        sync.Mutex
	closed    bool
	chunks    int
	echoed    time.Duration
	closeOnce sync.Once
}

// Send echoes an outbound chunk back on the Audio channel, resampled to the
// session's output rate. If the echo buffer is full the chunk is dropped; a
// loopback peer has no flow control to honor.
func (h *handle) Send(chunk transport.AudioChunk) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return fmt.Errorf("loopback: session closed")
	}
	h.mu.Unlock()

	srcRate, err := pcm.ParseMimeType(chunk.MimeType)
	if err != nil {
		return fmt.Errorf("loopback: send: %w", err)
	}
	channels, err := pcm.Decode(chunk.Data, 1)
	if err != nil {
		return fmt.Errorf("loopback: send: %w", err)
	}

	out := pcm.ResampleMono(channels[0], srcRate, h.outRate)
	echo := transport.AudioChunk{
		MimeType: pcm.MimeType(h.outRate),
		Data:     pcm.Encode(out),
	}

	select {
	case h.audioCh <- echo:
		h.mu.Lock()
		h.chunks++
		h.echoed += pcm.Duration(len(out), h.outRate)
		h.mu.Unlock()
	default:
	}

	// Nudge the turn timer; a full activity buffer already means a nudge is
	// pending.
	select {
	case h.activity <- struct{}{}:
	default:
	}
	return nil
}

// turnLoop watches for quiet gaps in outbound audio and signals a turn
// boundary after each one. It owns the outbound channels and closes them when
// the handle closes.
func (h *handle) turnLoop() {
	defer func() {
		close(h.audioCh)
		close(h.transcripts)
		close(h.turns)
	}()

	var timer *time.Timer
	for {
		if timer == nil {
			select {
			case <-h.activity:
				timer = time.NewTimer(h.turnGap)
			case <-h.done:
				return
			}
			continue
		}

		select {
		case <-h.activity:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(h.turnGap)
		case <-timer.C:
			h.finishTurn()
			timer = nil
		case <-h.done:
			timer.Stop()
			return
		}
	}
}

// finishTurn emits the turn signal and a transcript line for the turn that
// just ended, then resets the per-turn counters.
func (h *handle) finishTurn() {
	h.mu.Lock()
	chunks, echoed := h.chunks, h.echoed
	h.chunks, h.echoed = 0, 0
	h.mu.Unlock()

	text := fmt.Sprintf("echoed %d chunks (%s)", chunks, echoed)
	select {
	case h.transcripts <- text:
	default:
	}
	select {
	case h.turns <- struct{}{}:
	default:
	}
}

func (h *handle) Audio() <-chan transport.AudioChunk { return h.audioCh }
func (h *handle) Transcripts() <-chan string         { return h.transcripts }
func (h *handle) Turns() <-chan struct{}             { return h.turns }

// Err always reports nil; a loopback session has no transport to fail.
func (h *handle) Err() error { return nil }

// Close ends the session and closes the outbound channels. Idempotent.
func (h *handle) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.closeOnce.Do(func() { close(h.done) })
	return nil
}
