// Package playback plays an ordered list of synthesized audio buffers one
// segment at a time.
package playback

// MIMEType maps a synthesis audio format to the MIME type handed to a sink.
func MIMEType(format string) string {
	if format == "mp3" {
		return "audio/mpeg"
	}
	return "audio/" + format
}

// Resource is a single segment's audio made playable by a sink. The
// controller owns it from Open until Release and releases it exactly once.
type Resource interface {
	// Start begins playback.
	Start() error
	// Done signals asynchronous completion. A nil value means the segment
	// played to its natural end.
	Done() <-chan error
	// Release frees the underlying resource. Called exactly once by the
	// controller, whether playback completed or was cancelled.
	Release() error
}

// Sink turns an audio buffer tagged with a MIME type into a playable
// resource.
type Sink interface {
	Open(audio []byte, mimeType string) (Resource, error)
}
