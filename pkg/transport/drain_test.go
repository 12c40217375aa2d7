package transport_test

import (
	"testing"
	"time"

	"github.com/voicewirehq/voicewire/pkg/transport"
)

func TestDrain_ReturnsWhenChannelCloses(t *testing.T) {
	t.Parallel()

	ch := make(chan transport.AudioChunk, 4)
	ch <- transport.AudioChunk{Data: []byte{1}}
	ch <- transport.AudioChunk{Data: []byte{2}}
	close(ch)

	done := make(chan struct{})
	go func() {
		transport.Drain(ch)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Drain did not return after the channel closed")
	}
	if len(ch) != 0 {
		t.Errorf("channel still holds %d values after Drain", len(ch))
	}
}
