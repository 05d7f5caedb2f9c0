package synth

import (
	"encoding/base64"
	"regexp"
	"strings"
)

// The endpoint's "streaming" response arrives as a single body of
// newline-delimited JSON objects, sometimes concatenated without separators.
// A strict JSON parse can fail at the framing boundaries, so audio chunks are
// pulled out by matching the data field textually.
var dataFieldPattern = regexp.MustCompile(`"data":"([^"]*)"`)

// Decode extracts a single contiguous audio buffer from a synthesis response
// body. JSON or text bodies are scanned for base64 audio chunks; anything
// else is treated as raw audio and returned unchanged.
func Decode(contentType string, body []byte) ([]byte, error) {
	ct := strings.ToLower(contentType)
	if !strings.Contains(ct, "application/json") && !strings.Contains(ct, "text") {
		return body, nil
	}

	var audio []byte
	decoded := 0
	for _, match := range dataFieldPattern.FindAllSubmatch(body, -1) {
		value := string(match[1])
		if value == "" || value == "null" {
			continue
		}
		chunk, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			// A malformed chunk is dropped; the rest of the body may
			// still carry playable audio.
			continue
		}
		audio = append(audio, chunk...)
		decoded++
	}
	if decoded == 0 {
		return nil, &DecodeError{Reason: "no audio data"}
	}
	return audio, nil
}
