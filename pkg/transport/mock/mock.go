// Package mock provides test doubles for the transport package interfaces.
//
// Use Provider to verify Connect calls and feed controlled session handles.
// Use Handle to drive the bidirectional audio/transcript streams and inspect
// which methods were invoked by the session bridge.
//
// Example:
//
//	h := mock.NewHandle()
//	p := &mock.Provider{Handle: h}
//	handle, _ := p.Connect(ctx, cfg)
//	h.AudioCh <- transport.AudioChunk{MimeType: "audio/pcm;rate=24000", Data: data}
//	h.End(nil) // remote ends the session cleanly
package mock

import (
	"context"
	"sync"

	"github.com/voicewirehq/voicewire/pkg/transport"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the Config passed to Connect.
	Cfg transport.Config
}

// Provider is a mock implementation of transport.Provider.
type Provider struct {
	mu sync.Mutex

	// Handle is returned by Connect. If nil, Connect returns a new default
	// Handle with buffered channels.
	Handle transport.Handle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Handle, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg transport.Config) (transport.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Handle != nil {
		return p.Handle, nil
	}
	return NewHandle(), nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = nil
}

// Ensure Provider implements transport.Provider at compile time.
var _ transport.Provider = (*Provider)(nil)

// SendCall records a single invocation of Handle.Send.
type SendCall struct {
	// Chunk holds a copy of the chunk that was passed to Send.
	Chunk transport.AudioChunk
}

// Handle is a mock implementation of transport.Handle.
// Callers own AudioCh, TranscriptsCh and TurnsCh; use End to simulate the
// remote side terminating the session.
type Handle struct {
	mu sync.Mutex

	// AudioCh is the channel returned by Audio(). Callers own this channel.
	AudioCh chan transport.AudioChunk

	// TranscriptsCh is the channel returned by Transcripts(). Callers own this
	// channel.
	TranscriptsCh chan string

	// TurnsCh is the channel returned by Turns(). Callers own this channel.
	TurnsCh chan struct{}

	// --- Configurable errors ---

	// SendErr, if non-nil, is returned by every Send call.
	SendErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// ErrVal is returned by Err. Set it directly before the session starts or
	// via End to simulate a transport failure.
	ErrVal error

	// --- Call records ---

	// SendCalls records every call to Send in order.
	SendCalls []SendCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	endOnce sync.Once
}

// NewHandle returns a Handle with buffered channels, ready for use.
func NewHandle() *Handle {
	return &Handle{
		AudioCh:       make(chan transport.AudioChunk, 64),
		TranscriptsCh: make(chan string, 16),
		TurnsCh:       make(chan struct{}, 4),
	}
}

// Send records the call and returns SendErr.
func (h *Handle) Send(chunk transport.AudioChunk) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := transport.AudioChunk{MimeType: chunk.MimeType, Data: make([]byte, len(chunk.Data))}
	copy(cp.Data, chunk.Data)
	h.SendCalls = append(h.SendCalls, SendCall{Chunk: cp})
	return h.SendErr
}

// Audio returns AudioCh.
func (h *Handle) Audio() <-chan transport.AudioChunk {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.AudioCh
}

// Transcripts returns TranscriptsCh.
func (h *Handle) Transcripts() <-chan string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.TranscriptsCh
}

// Turns returns TurnsCh.
func (h *Handle) Turns() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.TurnsCh
}

// Err returns ErrVal. Thread-safe.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ErrVal
}

// SetErr sets ErrVal. Thread-safe.
func (h *Handle) SetErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ErrVal = err
}

// Close records the call, closes the outbound channels as a real handle
// would, and returns CloseErr.
func (h *Handle) Close() error {
	h.mu.Lock()
	h.CloseCallCount++
	err := h.CloseErr
	h.mu.Unlock()
	h.End(nil)
	return err
}

// End simulates the remote side terminating the session: it records err as
// the session error (nil means a clean close) and closes the outbound
// channels. Idempotent.
func (h *Handle) End(err error) {
	h.endOnce.Do(func() {
		if err != nil {
			h.SetErr(err)
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		close(h.AudioCh)
		close(h.TranscriptsCh)
		close(h.TurnsCh)
	})
}

// SentChunks returns a copy of the chunks recorded by Send, in order.
// Thread-safe.
func (h *Handle) SentChunks() []transport.AudioChunk {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]transport.AudioChunk, len(h.SendCalls))
	for i, c := range h.SendCalls {
		out[i] = c.Chunk
	}
	return out
}

// ResetCalls clears all recorded calls. Thread-safe.
func (h *Handle) ResetCalls() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.SendCalls = nil
	h.CloseCallCount = 0
}

// Ensure Handle implements transport.Handle at compile time.
var _ transport.Handle = (*Handle)(nil)
