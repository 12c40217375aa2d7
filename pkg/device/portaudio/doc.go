// Package portaudio implements the [device.Device] interface on top of the
// PortAudio library via github.com/gordonklaus/portaudio.
//
// PortAudio requires CGO and the native library at build time, so the real
// implementation is guarded by the "portaudio" build tag:
//
//	go build -tags portaudio ./...
//
// Without the tag a stub is compiled instead whose methods return
// [device.ErrUnavailable], keeping the module buildable on systems without
// the native dependency.
package portaudio
