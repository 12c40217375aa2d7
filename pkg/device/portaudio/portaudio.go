//go:build portaudio
// +build portaudio

package portaudio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/voicewirehq/voicewire/pkg/device"
)

// Compile-time assertion that Device satisfies the device interface.
var _ device.Device = (*Device)(nil)

// framesPerBuffer is the hardware buffer size used for both directions.
// At the default rates this is 64 ms of capture latency and ~43 ms of
// playback granularity.
const framesPerBuffer = 1024

// Device implements [device.Device] backed by the default PortAudio host
// devices. PortAudio is initialized lazily on first use; call [Device.Close]
// at process shutdown to terminate the library.
type Device struct {
	initOnce sync.Once
	initErr  error
	initDone bool
}

// New returns a PortAudio-backed Device. The library is not touched until the
// first capture or output request.
func New() *Device {
	return &Device{}
}

func (d *Device) ensureInit() error {
	d.initOnce.Do(func() {
		if err := portaudio.Initialize(); err != nil {
			d.initErr = fmt.Errorf("%w: initialize: %v", device.ErrUnavailable, err)
			return
		}
		d.initDone = true
	})
	return d.initErr
}

// Close terminates PortAudio if it was initialized. Streams must be closed
// before calling Close.
func (d *Device) Close() error {
	if !d.initDone {
		return nil
	}
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

// RequestCapture implements [device.Device]. Only mono capture is supported.
//
// PortAudio does not distinguish an OS-level permission denial from a missing
// input device, so any failure to open the default input stream is reported
// as [device.ErrAccessDenied].
func (d *Device) RequestCapture(ctx context.Context, sampleRate, channels int) (device.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if channels != 1 {
		return nil, fmt.Errorf("portaudio: capture supports mono only, got %d channels", channels)
	}
	if err := d.ensureInit(); err != nil {
		return nil, err
	}

	buf := make([]float32, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), framesPerBuffer, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: open input stream: %v", device.ErrAccessDenied, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("%w: start input stream: %v", device.ErrAccessDenied, err)
	}
	return &captureStream{stream: stream, buf: buf}, nil
}

// OpenOutput implements [device.Device]. Only mono output is supported.
func (d *Device) OpenOutput(ctx context.Context, sampleRate, channels int) (device.OutputSink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if channels != 1 {
		return nil, fmt.Errorf("portaudio: output supports mono only, got %d channels", channels)
	}
	if err := d.ensureInit(); err != nil {
		return nil, err
	}

	sink := &outputSink{rate: sampleRate}
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), framesPerBuffer, sink.render)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open output stream: %w", err)
	}
	sink.stream = stream
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("portaudio: start output stream: %w", err)
	}
	return sink, nil
}

// ─── captureStream ────────────────────────────────────────────────────────────

// captureStream reads from the registered hardware buffer and re-slices it
// into whatever chunk size the caller asks for. Read is intended for a single
// consuming goroutine; Close may be called concurrently.
type captureStream struct {
	stream *portaudio.Stream
	buf    []float32

	mu      sync.Mutex
	pending []float32 // unread tail of buf from the previous hardware read
	closed  bool

	closeOnce sync.Once
	closeErr  error
}

// Read fills dst with the next len(dst) captured samples. Cancellation is
// observed between hardware buffers, so the worst-case latency after ctx is
// cancelled is framesPerBuffer at the stream's sample rate.
func (c *captureStream) Read(ctx context.Context, dst []float32) error {
	n := 0
	for n < len(dst) {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return device.ErrClosed
		}
		if len(c.pending) > 0 {
			m := copy(dst[n:], c.pending)
			c.pending = c.pending[m:]
			n += m
			c.mu.Unlock()
			continue
		}
		c.mu.Unlock()

		// Blocking hardware read outside the lock.
		if err := c.stream.Read(); err != nil {
			return fmt.Errorf("portaudio: read: %w", err)
		}

		c.mu.Lock()
		c.pending = c.buf[:]
		c.mu.Unlock()
	}
	return nil
}

// Close stops and releases the input stream. Safe to call more than once.
func (c *captureStream) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		if err := c.stream.Stop(); err != nil {
			c.closeErr = fmt.Errorf("portaudio: stop input stream: %w", err)
		}
		if err := c.stream.Close(); err != nil && c.closeErr == nil {
			c.closeErr = fmt.Errorf("portaudio: close input stream: %w", err)
		}
	})
	return c.closeErr
}

// ─── outputSink ───────────────────────────────────────────────────────────────

type scheduledBuf struct {
	startFrame int64
	samples    []float32
	offset     int
}

// outputSink renders scheduled buffers from the PortAudio callback. Its clock
// is the count of frames handed to the hardware divided by the sample rate,
// which keeps Now in the same time domain the callback consumes buffers in.
type outputSink struct {
	stream *portaudio.Stream
	rate   int

	mu       sync.Mutex
	queue    []scheduledBuf // strictly FIFO; starts are non-decreasing
	framePos int64
	closed   bool

	closeOnce sync.Once
	closeErr  error
}

// render is the PortAudio output callback. It zero-fills the hardware buffer
// and overlays queued samples at their scheduled frame positions, leaving
// silence for gaps. The lock is held only for the memcpy work below.
func (s *outputSink) render(out []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range out {
		out[i] = 0
	}

	pos := s.framePos
	end := pos + int64(len(out))
	for len(s.queue) > 0 {
		head := &s.queue[0]
		if head.offset == 0 && head.startFrame > pos {
			if head.startFrame >= end {
				break // starts after this hardware buffer
			}
			pos = head.startFrame
		}
		n := copy(out[pos-s.framePos:], head.samples[head.offset:])
		head.offset += n
		pos += int64(n)
		if head.offset < len(head.samples) {
			break // hardware buffer full
		}
		s.queue = s.queue[1:]
	}
	s.framePos = end
}

// Now implements [device.OutputSink].
func (s *outputSink) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return framesToDuration(s.framePos, s.rate)
}

// ScheduleAt implements [device.OutputSink]. The sink takes ownership of
// samples; the caller must not modify the slice afterwards.
func (s *outputSink) ScheduleAt(samples []float32, start time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return device.ErrClosed
	}
	if len(samples) == 0 {
		return nil
	}
	s.queue = append(s.queue, scheduledBuf{
		startFrame: durationToFrames(start, s.rate),
		samples:    samples,
	})
	return nil
}

// Close waits for the scheduled queue to drain, then stops and releases the
// output stream. Safe to call more than once.
func (s *outputSink) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		var lastEnd int64
		for _, b := range s.queue {
			if end := b.startFrame + int64(len(b.samples)); end > lastEnd {
				lastEnd = end
			}
		}
		remaining := framesToDuration(lastEnd-s.framePos, s.rate)
		s.mu.Unlock()

		// Let buffers already handed over finish rendering.
		deadline := time.Now().Add(remaining + 250*time.Millisecond)
		for time.Now().Before(deadline) {
			s.mu.Lock()
			drained := len(s.queue) == 0
			s.mu.Unlock()
			if drained {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}

		if err := s.stream.Stop(); err != nil {
			s.closeErr = fmt.Errorf("portaudio: stop output stream: %w", err)
		}
		if err := s.stream.Close(); err != nil && s.closeErr == nil {
			s.closeErr = fmt.Errorf("portaudio: close output stream: %w", err)
		}
	})
	return s.closeErr
}

func durationToFrames(d time.Duration, rate int) int64 {
	return int64(d) * int64(rate) / int64(time.Second)
}

func framesToDuration(frames int64, rate int) time.Duration {
	if frames < 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(rate)
}
