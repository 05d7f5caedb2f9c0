package protocol

import "time"

// ReadRequest asks the reader service to speak a piece of text.
type ReadRequest struct {
	RequestID string `json:"request_id"`
	Text      string `json:"text"`
	Speaker   string `json:"speaker,omitempty"` // overrides the stored speaker when set
}

// ReadProgress reports one synthesized segment of an active request.
type ReadProgress struct {
	RequestID string `json:"request_id"`
	Index     int    `json:"index"`
	Total     int    `json:"total"`
}

// ReadStatus is the terminal (or rejection) message for a request.
type ReadStatus struct {
	RequestID string    `json:"request_id"`
	State     string    `json:"state"` // speaking, done, cancelled, busy, error
	Segments  int       `json:"segments,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CancelRequest stops playback of the active request.
type CancelRequest struct {
	RequestID string `json:"request_id,omitempty"`
}

const (
	SubjectReadRequest  = "speech.read.request"
	SubjectReadProgress = "speech.read.progress"
	SubjectReadStatus   = "speech.read.status"
	SubjectReadCancel   = "speech.read.cancel"
)

const (
	StateSpeaking  = "speaking"
	StateDone      = "done"
	StateCancelled = "cancelled"
	StateBusy      = "busy"
	StateError     = "error"
)
