package synth

import "github.com/narralabs/narra-core/internal/segment"

// Audio formats accepted by the synthesis endpoint.
const (
	FormatMP3 = "mp3"
	FormatPCM = "pcm"
	FormatAAC = "aac"
)

// Settings carries the per-run synthesis parameters. It is read wholesale
// from the settings store before a run and never mutated while one is active.
type Settings struct {
	APIKey     string
	ResourceID string
	Speaker    string
	Additions  string // opaque JSON passthrough, sent only when non-empty
	Format     string
	SampleRate int
	MaxLength  int
}

// DefaultSettings mirrors the declared defaults of the settings store.
func DefaultSettings() Settings {
	return Settings{
		Format:     FormatMP3,
		SampleRate: 24000,
		MaxLength:  segment.DefaultMaxLength,
	}
}

// Validate checks the completeness invariant: credentials and speaker must be
// present before any synthesis call is attempted.
func (s Settings) Validate() error {
	switch {
	case s.APIKey == "":
		return &PreconditionError{Field: "api_key"}
	case s.ResourceID == "":
		return &PreconditionError{Field: "resource_id"}
	case s.Speaker == "":
		return &PreconditionError{Field: "speaker"}
	}
	return nil
}

// EffectiveMaxLength returns the configured segment bound, falling back to the
// default when the stored value is absent or invalid.
func (s Settings) EffectiveMaxLength() int {
	if s.MaxLength <= 0 {
		return segment.DefaultMaxLength
	}
	return s.MaxLength
}
