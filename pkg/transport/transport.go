// Package transport defines the Provider interface for remote streaming voice
// sessions.
//
// A transport wraps a real-time voice service that accepts encoded audio
// chunks and asynchronously emits encoded audio chunks back over a single,
// stateful, bidirectional channel. The reference implementation speaks the
// Gemini Live BidiGenerateContent protocol (transport/gemini); a loopback
// echo (transport/loopback) and a scripted mock (transport/mock) exist for
// development and tests.
//
// The central abstraction is [Handle]: an open duplex session carrying audio
// chunks, transcript text, and turn boundaries concurrently. The lifecycle
// events of the remote session map onto the Handle as follows: "open" is
// [Provider.Connect] returning; "message" is a receive on [Handle.Audio],
// [Handle.Transcripts], or [Handle.Turns]; "close" and "error" are the Audio
// channel closing, distinguished by [Handle.Err].
//
// All implementations must be safe for concurrent use.
package transport

import "context"

// Config is the initial configuration for a new session.
type Config struct {
	// Model is the target model identifier, without any provider-specific
	// path prefix.
	Model string

	// Voice selects the prebuilt voice used for synthesized output. Empty
	// means the provider default.
	Voice string

	// SystemInstruction is the system-level prompt establishing the session's
	// behaviour. Empty means none.
	SystemInstruction string

	// InputSampleRate is the sample rate in Hz of outbound PCM chunks.
	InputSampleRate int

	// OutputSampleRate is the sample rate in Hz the provider is expected to
	// emit inbound PCM at.
	OutputSampleRate int

	// APIKey is the credential for the remote endpoint. The caller resolves
	// it before connecting; providers that need no credential ignore it.
	APIKey string
}

// AudioChunk is one discrete unit of encoded audio crossing the transport
// boundary: raw 16-bit little-endian PCM bytes tagged with an audio/pcm MIME
// descriptor carrying the sample rate. Base64 text framing is applied and
// removed at the wire edge, so both directions of the core pipeline only ever
// see raw bytes.
type AudioChunk struct {
	// MimeType is the descriptor of Data, e.g. "audio/pcm;rate=16000".
	MimeType string

	// Data is raw 16-bit little-endian PCM.
	Data []byte
}

// Handle represents an open session. It is an interface so that test code can
// supply scripted implementations without a live connection.
//
// The handle is the hot path of the voicewire pipeline; every method must
// return quickly. Inbound traffic is channel-based to avoid blocking the
// provider's receive loop. All methods must be safe for concurrent use.
//
// Callers must call Close when the session is no longer needed.
type Handle interface {
	// Send delivers an outbound audio chunk to the provider. Delivery is
	// fire-and-forget from the pipeline's perspective; ordering across Send
	// calls from a single goroutine is preserved. Returns an error if the
	// session is closed or the write fails.
	Send(chunk AudioChunk) error

	// Audio returns a read-only channel emitting inbound audio chunks in the
	// order the remote session produced them. The channel is closed when the
	// session ends; call [Handle.Err] afterwards to check whether it ended
	// cleanly. Consumers must drain this channel promptly to prevent
	// backpressure from stalling the provider's receive loop.
	Audio() <-chan AudioChunk

	// Transcripts returns a read-only channel emitting informational
	// transcript text for either direction of the conversation. Providers
	// without transcription never send on it. Closed when the session ends.
	Transcripts() <-chan string

	// Turns returns a read-only channel that receives one value per
	// turn-complete signal from the remote session. The signal is
	// informational; playback continues draining previously received audio.
	// Closed when the session ends.
	Turns() <-chan struct{}

	// Err returns the error that caused the session to end, or nil if it
	// ended cleanly (remote close or local Close). Only meaningful after the
	// Audio channel has closed.
	Err() error

	// Close terminates the session and closes the Audio, Transcripts, and
	// Turns channels. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any streaming voice backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Connect establishes a new session with the given configuration and
	// blocks until the remote endpoint has acknowledged it. A successful
	// return is the session's "open" event, and the returned Handle accepts
	// audio immediately.
	//
	// Returns an error if the session cannot be established (authentication
	// failure, unreachable endpoint, or ctx already cancelled). The caller
	// owns the Handle and is responsible for calling Close.
	Connect(ctx context.Context, cfg Config) (Handle, error)
}
