package transport

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when you don't need the data from one
// of a [Handle]'s streaming channels (e.g. Transcripts on a session whose
// text is not displayed).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
