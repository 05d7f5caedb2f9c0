// Package segment splits source text into bounded-length pieces for
// per-request synthesis.
package segment

import "fmt"

// DefaultMaxLength is used by callers when the configured segment length is
// absent or invalid.
const DefaultMaxLength = 5000

// Split cuts text into segments of at most maxLength runes each. Splitting
// happens at fixed offsets; word and sentence boundaries are deliberately
// ignored. Concatenating the returned segments in order reproduces text
// exactly.
func Split(text string, maxLength int) ([]string, error) {
	if maxLength <= 0 {
		return nil, fmt.Errorf("max length must be positive, got %d", maxLength)
	}
	if text == "" {
		return nil, nil
	}

	runes := []rune(text)
	segments := make([]string, 0, (len(runes)+maxLength-1)/maxLength)
	for start := 0; start < len(runes); start += maxLength {
		end := start + maxLength
		if end > len(runes) {
			end = len(runes)
		}
		segments = append(segments, string(runes[start:end]))
	}
	return segments, nil
}
