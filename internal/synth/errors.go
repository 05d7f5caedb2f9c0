package synth

import "fmt"

// PreconditionError reports missing or invalid settings. It is raised before
// any network traffic happens.
type PreconditionError struct {
	Field string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("synthesis settings incomplete: %s is empty", e.Field)
}

// RemoteError wraps a non-success HTTP status from the synthesis endpoint.
type RemoteError struct {
	StatusCode int
	Status     string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("synthesis request failed: %s", e.Status)
}

// DecodeError reports a response body that yielded no usable audio.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode synthesis response: %s", e.Reason)
}
