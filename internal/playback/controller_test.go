package playback

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// scriptSink records event order and lets tests finish each segment by hand.
type scriptSink struct {
	mu        sync.Mutex
	events    []string
	resources []*scriptResource
}

func (s *scriptSink) record(event string) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *scriptSink) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func (s *scriptSink) Open(audio []byte, mimeType string) (Resource, error) {
	s.mu.Lock()
	index := len(s.resources)
	res := &scriptResource{sink: s, index: index, done: make(chan error, 1), started: make(chan struct{})}
	s.resources = append(s.resources, res)
	s.mu.Unlock()
	s.record(fmt.Sprintf("open:%d", index))
	return res, nil
}

func (s *scriptSink) resource(i int) *scriptResource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resources[i]
}

type scriptResource struct {
	sink     *scriptSink
	index    int
	done     chan error
	started  chan struct{}
	releases int
}

func (r *scriptResource) Start() error {
	r.sink.record(fmt.Sprintf("start:%d", r.index))
	close(r.started)
	return nil
}

func (r *scriptResource) Done() <-chan error {
	return r.done
}

func (r *scriptResource) Release() error {
	r.sink.mu.Lock()
	r.releases++
	r.sink.mu.Unlock()
	r.sink.record(fmt.Sprintf("release:%d", r.index))
	return nil
}

func (r *scriptResource) finish() {
	r.done <- nil
}

func (r *scriptResource) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-r.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("segment %d never started", r.index)
	}
}

func waitDone(t *testing.T, c *Controller) error {
	t.Helper()
	select {
	case err := <-c.Done():
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("playback did not finish in time")
		return nil
	}
}

func buffers(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte{byte(i)}
	}
	return out
}

func TestPlaysInOrderAndReleasesEach(t *testing.T) {
	sink := &scriptSink{}
	c := NewController(sink, newLogger())

	if err := c.Start(buffers(3), "audio/mpeg"); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 3; i++ {
		res := sink.resource(i)
		res.waitStarted(t)
		res.finish()
	}
	if err := waitDone(t, c); err != nil {
		t.Fatalf("unexpected playback error: %v", err)
	}

	if got := c.State(); got != StateFinished {
		t.Fatalf("expected finished state, got %s", got)
	}
	want := []string{
		"open:0", "open:1", "open:2",
		"start:0", "release:0",
		"start:1", "release:1",
		"start:2", "release:2",
	}
	got := sink.Events()
	if len(got) != len(want) {
		t.Fatalf("event mismatch:\n got %v\nwant %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: got %s want %s (all: %v)", i, got[i], want[i], got)
		}
	}
}

func TestCancelReleasesCurrentAndRemaining(t *testing.T) {
	sink := &scriptSink{}
	c := NewController(sink, newLogger())

	if err := c.Start(buffers(3), "audio/mpeg"); err != nil {
		t.Fatalf("start: %v", err)
	}
	first := sink.resource(0)
	first.waitStarted(t)
	first.finish()

	second := sink.resource(1)
	second.waitStarted(t)
	c.Cancel()

	if err := waitDone(t, c); err != nil {
		t.Fatalf("unexpected playback error: %v", err)
	}
	if got := c.State(); got != StateCancelled {
		t.Fatalf("expected cancelled state, got %s", got)
	}

	for i := 0; i < 3; i++ {
		if n := sink.resource(i).releases; n != 1 {
			t.Fatalf("resource %d released %d times, want exactly 1", i, n)
		}
	}
	// The third segment must never have been started.
	for _, ev := range sink.Events() {
		if ev == "start:2" {
			t.Fatal("segment 2 was started after cancel")
		}
	}
}

func TestEmptyQueueFinishesImmediately(t *testing.T) {
	sink := &scriptSink{}
	c := NewController(sink, newLogger())

	if err := c.Start(nil, "audio/mpeg"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := waitDone(t, c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.State(); got != StateFinished {
		t.Fatalf("expected finished state, got %s", got)
	}
	if len(sink.Events()) != 0 {
		t.Fatalf("expected no resources, got events %v", sink.Events())
	}
}

func TestStartWhilePlayingFails(t *testing.T) {
	sink := &scriptSink{}
	c := NewController(sink, newLogger())

	if err := c.Start(buffers(1), "audio/mpeg"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Start(buffers(1), "audio/mpeg"); err == nil {
		t.Fatal("expected error starting during active run")
	}
	sink.resource(0).waitStarted(t)
	sink.resource(0).finish()
	_ = waitDone(t, c)
}

func TestRestartAfterTerminalState(t *testing.T) {
	c := NewController(NewMockSink(time.Millisecond), newLogger())

	if err := c.Start(buffers(2), "audio/mpeg"); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := waitDone(t, c); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := c.Start(buffers(1), "audio/mpeg"); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if err := waitDone(t, c); err != nil {
		t.Fatalf("second run: %v", err)
	}
}

func TestMockSinkBalancesOpenAndRelease(t *testing.T) {
	sink := NewMockSink(time.Millisecond)
	c := NewController(sink, newLogger())

	if err := c.Start(buffers(4), "audio/pcm"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := waitDone(t, c); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sink.Opened() != 4 || sink.Released() != 4 {
		t.Fatalf("expected 4 opened and released, got %d/%d", sink.Opened(), sink.Released())
	}
}

func TestMIMEType(t *testing.T) {
	cases := map[string]string{
		"mp3": "audio/mpeg",
		"pcm": "audio/pcm",
		"aac": "audio/aac",
	}
	for format, want := range cases {
		if got := MIMEType(format); got != want {
			t.Fatalf("MIMEType(%q) = %q, want %q", format, got, want)
		}
	}
}
