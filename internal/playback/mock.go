package playback

import (
	"sync"
	"time"
)

// MockSink simulates playback with a fixed delay per segment. Used by tests
// and by playback.mode=mock deployments that have no audio output.
type MockSink struct {
	delay time.Duration

	mu       sync.Mutex
	opened   int
	released int
}

func NewMockSink(delay time.Duration) *MockSink {
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	return &MockSink{delay: delay}
}

func (s *MockSink) Open(audio []byte, mimeType string) (Resource, error) {
	s.mu.Lock()
	s.opened++
	s.mu.Unlock()
	return &mockResource{sink: s, done: make(chan error, 1)}, nil
}

// Opened reports how many resources this sink has created.
func (s *MockSink) Opened() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// Released reports how many resources have been released.
func (s *MockSink) Released() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

type mockResource struct {
	sink *MockSink
	done chan error
	stop chan struct{}
	once sync.Once
}

func (r *mockResource) Start() error {
	r.stop = make(chan struct{})
	go func() {
		select {
		case <-time.After(r.sink.delay):
			r.done <- nil
		case <-r.stop:
		}
	}()
	return nil
}

func (r *mockResource) Done() <-chan error {
	return r.done
}

func (r *mockResource) Release() error {
	r.once.Do(func() {
		r.sink.mu.Lock()
		r.sink.released++
		r.sink.mu.Unlock()
		if r.stop != nil {
			close(r.stop)
		}
	})
	return nil
}
