// Package mock provides in-memory mock implementations of the [device.Device],
// [device.CaptureStream], and [device.OutputSink] interfaces for use in unit
// tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported
// fields that the test can set to control return values. The capture stream is
// fed by the test via [CaptureStream.Push]; the sink clock is driven by the
// test via [Sink.SetNow] and [Sink.Advance].
//
// Typical usage:
//
//	mic := mock.NewCaptureStream()
//	sink := &mock.Sink{}
//	dev := &mock.Device{CaptureResult: mic, OutputResult: sink}
//	mic.Push(make([]float32, 4096))
//	sink.Advance(100 * time.Millisecond)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/voicewirehq/voicewire/pkg/device"
)

// ─── CaptureStream ────────────────────────────────────────────────────────────

// CaptureStream is a mock implementation of [device.CaptureStream]. Samples
// queued with [CaptureStream.Push] are handed out by Read in FIFO order; Read
// blocks until enough samples are queued, the context ends, or the stream is
// closed.
type CaptureStream struct {
	mu      sync.Mutex
	buf     []float32
	arrived chan struct{}
	closed  bool

	// ReadError, when set, is returned by every subsequent Read call.
	ReadError error

	// CallCountRead records how many times Read was called.
	CallCountRead int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewCaptureStream returns an empty CaptureStream ready for Push.
func NewCaptureStream() *CaptureStream {
	return &CaptureStream{arrived: make(chan struct{}, 1)}
}

// Push appends samples to the stream's queue and wakes a blocked Read.
func (s *CaptureStream) Push(samples []float32) {
	s.mu.Lock()
	s.buf = append(s.buf, samples...)
	s.mu.Unlock()
	select {
	case s.arrived <- struct{}{}:
	default:
	}
}

// Read implements [device.CaptureStream]. It fills dst from the queued
// samples, blocking until len(dst) samples are available.
func (s *CaptureStream) Read(ctx context.Context, dst []float32) error {
	s.mu.Lock()
	s.CallCountRead++
	for {
		if s.ReadError != nil {
			err := s.ReadError
			s.mu.Unlock()
			return err
		}
		if s.closed {
			s.mu.Unlock()
			return device.ErrClosed
		}
		if len(s.buf) >= len(dst) {
			copy(dst, s.buf[:len(dst)])
			s.buf = s.buf[len(dst):]
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.arrived:
		}
		s.mu.Lock()
	}
}

// Close implements [device.CaptureStream]. It wakes a blocked Read, which
// then returns [device.ErrClosed].
func (s *CaptureStream) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	s.closed = true
	s.mu.Unlock()
	select {
	case s.arrived <- struct{}{}:
	default:
	}
	return nil
}

// Buffered returns the number of samples queued but not yet read.
func (s *CaptureStream) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// ScheduleAtCall records the arguments of a single [Sink.ScheduleAt] invocation.
type ScheduleAtCall struct {
	// Samples is the buffer passed to ScheduleAt.
	Samples []float32
	// Start is the requested start position on the sink clock.
	Start time.Duration
}

// Sink is a mock implementation of [device.OutputSink]. Its clock does not
// advance on its own; tests drive it with [Sink.SetNow] or [Sink.Advance].
type Sink struct {
	mu  sync.Mutex
	now time.Duration

	// ScheduleError, when set, is returned by every ScheduleAt call.
	ScheduleError error

	// CloseError is returned by [Sink.Close].
	CloseError error

	// ScheduleCalls records all ScheduleAt invocations in order.
	ScheduleCalls []ScheduleAtCall

	// CallCountNow records how many times Now was called.
	CallCountNow int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Now implements [device.OutputSink]. Returns the test-controlled clock value.
func (s *Sink) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountNow++
	return s.now
}

// SetNow sets the sink clock to d.
func (s *Sink) SetNow(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = d
}

// Advance moves the sink clock forward by d.
func (s *Sink) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now += d
}

// ScheduleAt implements [device.OutputSink]. Records the call and returns
// ScheduleError.
func (s *Sink) ScheduleAt(samples []float32, start time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ScheduleError != nil {
		return s.ScheduleError
	}
	s.ScheduleCalls = append(s.ScheduleCalls, ScheduleAtCall{Samples: samples, Start: start})
	return nil
}

// Close implements [device.OutputSink]. Returns CloseError.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseError
}

// Starts returns the start positions of all recorded ScheduleAt calls in order.
func (s *Sink) Starts() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	starts := make([]time.Duration, len(s.ScheduleCalls))
	for i, c := range s.ScheduleCalls {
		starts[i] = c.Start
	}
	return starts
}

// ─── Device ───────────────────────────────────────────────────────────────────

// CaptureCall records the arguments of a single [Device.RequestCapture] invocation.
type CaptureCall struct {
	// SampleRate is the sample rate argument passed to RequestCapture.
	SampleRate int
	// Channels is the channel count argument passed to RequestCapture.
	Channels int
}

// OutputCall records the arguments of a single [Device.OpenOutput] invocation.
type OutputCall struct {
	// SampleRate is the sample rate argument passed to OpenOutput.
	SampleRate int
	// Channels is the channel count argument passed to OpenOutput.
	Channels int
}

// Device is a mock implementation of [device.Device].
// Set the exported Result fields before use; inspect the *Calls fields after.
type Device struct {
	mu sync.Mutex

	// CaptureResult is returned by RequestCapture. Defaults to a fresh
	// [CaptureStream] on first use if left nil.
	CaptureResult *CaptureStream

	// CaptureError is the error returned by RequestCapture.
	CaptureError error

	// OutputResult is returned by OpenOutput. Defaults to a fresh [Sink] on
	// first use if left nil.
	OutputResult *Sink

	// OutputError is the error returned by OpenOutput.
	OutputError error

	// CaptureCalls records all RequestCapture invocations.
	CaptureCalls []CaptureCall

	// OutputCalls records all OpenOutput invocations.
	OutputCalls []OutputCall
}

// RequestCapture implements [device.Device]. Records the call and returns
// CaptureResult / CaptureError.
func (d *Device) RequestCapture(_ context.Context, sampleRate, channels int) (device.CaptureStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CaptureCalls = append(d.CaptureCalls, CaptureCall{SampleRate: sampleRate, Channels: channels})
	if d.CaptureError != nil {
		return nil, d.CaptureError
	}
	if d.CaptureResult == nil {
		d.CaptureResult = NewCaptureStream()
	}
	return d.CaptureResult, nil
}

// OpenOutput implements [device.Device]. Records the call and returns
// OutputResult / OutputError.
func (d *Device) OpenOutput(_ context.Context, sampleRate, channels int) (device.OutputSink, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OutputCalls = append(d.OutputCalls, OutputCall{SampleRate: sampleRate, Channels: channels})
	if d.OutputError != nil {
		return nil, d.OutputError
	}
	if d.OutputResult == nil {
		d.OutputResult = &Sink{}
	}
	return d.OutputResult, nil
}
