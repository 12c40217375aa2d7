//go:build !portaudio
// +build !portaudio

package portaudio

import (
	"context"
	"fmt"

	"github.com/voicewirehq/voicewire/pkg/device"
)

// Compile-time assertion that Device satisfies the device interface.
var _ device.Device = (*Device)(nil)

// Device is the stub compiled when the portaudio build tag is absent. Every
// acquisition fails with [device.ErrUnavailable].
type Device struct{}

// New returns the stub Device.
func New() *Device {
	return &Device{}
}

// Close is a no-op on the stub.
func (d *Device) Close() error { return nil }

// RequestCapture always fails; rebuild with -tags portaudio for real hardware.
func (d *Device) RequestCapture(_ context.Context, _, _ int) (device.CaptureStream, error) {
	return nil, fmt.Errorf("%w: built without portaudio support (rebuild with -tags portaudio)", device.ErrUnavailable)
}

// OpenOutput always fails; rebuild with -tags portaudio for real hardware.
func (d *Device) OpenOutput(_ context.Context, _, _ int) (device.OutputSink, error) {
	return nil, fmt.Errorf("%w: built without portaudio support (rebuild with -tags portaudio)", device.ErrUnavailable)
}
