package synth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
)

type fakeSynth struct {
	calls  int
	failAt int // 1-based call number that fails, 0 for never
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string, settings Settings) ([]byte, error) {
	f.calls++
	if f.failAt > 0 && f.calls == f.failAt {
		return nil, &RemoteError{StatusCode: 500, Status: "500 Internal Server Error"}
	}
	return []byte("audio:" + text), nil
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func shortSettings(maxLength int) Settings {
	s := testSettings()
	s.MaxLength = maxLength
	return s
}

func TestSynthesizeAllOrdered(t *testing.T) {
	fake := &fakeSynth{}
	o := NewOrchestrator(fake, newLogger())

	var progress []string
	buffers, err := o.SynthesizeAll(context.Background(), "abcdef", shortSettings(2),
		func(index, total int) {
			progress = append(progress, fmt.Sprintf("%d/%d", index, total))
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(buffers) != 3 {
		t.Fatalf("expected 3 buffers, got %d", len(buffers))
	}
	for i, want := range []string{"audio:ab", "audio:cd", "audio:ef"} {
		if !bytes.Equal(buffers[i], []byte(want)) {
			t.Fatalf("buffer %d: got %q want %q", i, buffers[i], want)
		}
	}
	if got := strings.Join(progress, ","); got != "0/3,1/3,2/3" {
		t.Fatalf("unexpected progress sequence: %s", got)
	}
}

func TestSynthesizeAllPreconditionSkipsTransport(t *testing.T) {
	fake := &fakeSynth{}
	o := NewOrchestrator(fake, newLogger())

	settings := shortSettings(2)
	settings.Speaker = ""

	_, err := o.SynthesizeAll(context.Background(), "abcdef", settings, nil)
	var precondErr *PreconditionError
	if !errors.As(err, &precondErr) {
		t.Fatalf("expected PreconditionError, got %v", err)
	}
	if fake.calls != 0 {
		t.Fatalf("expected no synthesis calls, got %d", fake.calls)
	}
}

func TestSynthesizeAllAbortsOnFirstFailure(t *testing.T) {
	fake := &fakeSynth{failAt: 2}
	o := NewOrchestrator(fake, newLogger())

	buffers, err := o.SynthesizeAll(context.Background(), "abcdef", shortSettings(2), nil)
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if buffers != nil {
		t.Fatalf("expected no partial result, got %d buffers", len(buffers))
	}
	if fake.calls != 2 {
		t.Fatalf("expected exactly 2 calls, got %d", fake.calls)
	}
}

func TestSynthesizeAllEmptyText(t *testing.T) {
	fake := &fakeSynth{}
	o := NewOrchestrator(fake, newLogger())

	buffers, err := o.SynthesizeAll(context.Background(), "", shortSettings(2), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(buffers) != 0 {
		t.Fatalf("expected no buffers, got %d", len(buffers))
	}
	if fake.calls != 0 {
		t.Fatalf("expected no calls for empty text, got %d", fake.calls)
	}
}

func TestSynthesizeAllDefaultsMaxLength(t *testing.T) {
	fake := &fakeSynth{}
	o := NewOrchestrator(fake, newLogger())

	// Invalid stored value falls back to the 5000-rune default, so a short
	// text is a single segment.
	if _, err := o.SynthesizeAll(context.Background(), "short text", shortSettings(0), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.calls != 1 {
		t.Fatalf("expected 1 call, got %d", fake.calls)
	}
}
