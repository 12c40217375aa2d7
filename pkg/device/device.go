// Package device defines the local audio device abstraction for voicewire.
//
// The two primary abstractions are:
//
//   - [Device]: opens capture and output endpoints on the local audio hardware.
//   - [CaptureStream] / [OutputSink]: an active microphone stream and an active
//     speaker sink, each released independently with Close.
//
// Implementations are provided by backend-specific adapter packages
// (device/portaudio for real hardware, device/mock for tests). The interfaces
// are intentionally narrow so the pipeline stays decoupled from backend
// details.
//
// This package lives under pkg/ because external code (alternative device
// backends) is expected to implement [Device].
package device

import (
	"context"
	"errors"
	"time"
)

// ErrAccessDenied reports that the platform refused access to the requested
// device, typically a microphone permission denial. The session that asked
// for the device fails; the user must retry manually.
var ErrAccessDenied = errors.New("device: access denied")

// ErrUnavailable reports that no device backend is compiled in or the backend
// failed to initialize.
var ErrUnavailable = errors.New("device: backend unavailable")

// ErrClosed reports use of a stream or sink after Close.
var ErrClosed = errors.New("device: closed")

// Device is the entry point for a local audio backend.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// RequestCapture acquires the default input device at the given sample
	// rate and channel count and returns a live [CaptureStream]. The supplied
	// ctx governs the acquisition attempt only; the stream remains open until
	// [CaptureStream.Close].
	//
	// Returns [ErrAccessDenied] if the platform refuses microphone access.
	RequestCapture(ctx context.Context, sampleRate, channels int) (CaptureStream, error)

	// OpenOutput acquires the default output device at the given sample rate
	// and channel count and returns an [OutputSink] with its clock running.
	OpenOutput(ctx context.Context, sampleRate, channels int) (OutputSink, error)
}

// CaptureStream is an open microphone stream delivering normalized samples
// in [-1, 1].
type CaptureStream interface {
	// Read fills dst completely with the next len(dst) captured samples,
	// blocking at the hardware cadence until enough audio has arrived. It
	// returns early with ctx.Err() if ctx is cancelled mid-read, and
	// [ErrClosed] if the stream was closed.
	Read(ctx context.Context, dst []float32) error

	// Close releases the input device. Safe to call more than once.
	Close() error
}

// OutputSink is an open speaker sink that renders buffers at scheduled
// positions on its own monotonic clock.
//
// Implementations must be safe for concurrent use; Now and ScheduleAt are
// called from the playback hot path and must not block.
type OutputSink interface {
	// Now returns the sink's current playback position. The clock starts at
	// zero when the sink opens and advances monotonically with rendered
	// frames, independent of the wall clock.
	Now() time.Duration

	// ScheduleAt enqueues samples to begin rendering at start on the sink
	// clock, returning without waiting for playback. Silence is rendered for
	// any gap before start. Scheduling in the past is not an error; rendering
	// begins as soon as possible. Returns [ErrClosed] after Close.
	ScheduleAt(samples []float32, start time.Duration) error

	// Close drains scheduled audio, letting buffers already handed over
	// finish rendering, then releases the output device. Safe to call more
	// than once.
	Close() error
}
