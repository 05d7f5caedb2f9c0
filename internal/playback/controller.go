package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// State of the playback queue.
type State int

const (
	StateIdle State = iota
	StatePlaying
	StateFinished
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StateFinished:
		return "finished"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Controller drives ordered playback of a buffer queue. Resources are created
// 1:1 from the buffers at Start, played strictly in order, and each one is
// released exactly once, when its segment finishes or when the run is
// cancelled.
type Controller struct {
	sink   Sink
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	queue    []Resource
	released []bool
	index    int
	cancelCh chan struct{}
	doneCh   chan error
}

func NewController(sink Sink, logger *slog.Logger) *Controller {
	return &Controller{
		sink:   sink,
		logger: logger.With(slog.String("component", "playback")),
		state:  StateIdle,
		doneCh: closedDone(),
	}
}

func closedDone() chan error {
	ch := make(chan error, 1)
	close(ch)
	return ch
}

// Start opens a resource for every buffer and begins playing the first one.
// It returns immediately; Done signals the end of the run. Starting while a
// run is active is an error.
func (c *Controller) Start(buffers [][]byte, mimeType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StatePlaying {
		return errors.New("playback already in progress")
	}
	if len(buffers) == 0 {
		c.state = StateFinished
		c.doneCh = closedDone()
		return nil
	}

	queue := make([]Resource, 0, len(buffers))
	for i, buf := range buffers {
		res, err := c.sink.Open(buf, mimeType)
		if err != nil {
			for j, opened := range queue {
				if relErr := opened.Release(); relErr != nil {
					c.logger.Warn("failed to release resource",
						slog.Int("segment", j), slog.String("error", relErr.Error()))
				}
			}
			return fmt.Errorf("open playback resource %d: %w", i, err)
		}
		queue = append(queue, res)
	}

	c.queue = queue
	c.released = make([]bool, len(queue))
	c.index = 0
	c.state = StatePlaying
	c.cancelCh = make(chan struct{})
	c.doneCh = make(chan error, 1)

	go c.run(queue, c.cancelCh, c.doneCh)
	return nil
}

// Cancel halts playback and releases the current and all remaining
// resources. It is a no-op outside an active run.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePlaying {
		return
	}
	select {
	case <-c.cancelCh:
	default:
		close(c.cancelCh)
	}
}

// State reports the current queue state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done signals the end of the current run. A nil value means the queue played
// to completion or was cancelled; a non-nil value is a playback failure.
func (c *Controller) Done() <-chan error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doneCh
}

func (c *Controller) run(queue []Resource, cancelCh chan struct{}, doneCh chan error) {
	for i := range queue {
		select {
		case <-cancelCh:
			c.releaseFrom(i)
			c.finish(StateCancelled, doneCh, nil)
			return
		default:
		}

		c.setIndex(i)
		if err := queue[i].Start(); err != nil {
			c.releaseFrom(i)
			c.finish(StateCancelled, doneCh, fmt.Errorf("start playback of segment %d: %w", i, err))
			return
		}

		select {
		case err := <-queue[i].Done():
			c.release(i)
			if err != nil {
				c.releaseFrom(i + 1)
				c.finish(StateCancelled, doneCh, fmt.Errorf("playback of segment %d: %w", i, err))
				return
			}
		case <-cancelCh:
			c.releaseFrom(i)
			c.finish(StateCancelled, doneCh, nil)
			return
		}
	}
	c.finish(StateFinished, doneCh, nil)
}

// release frees resource i if it has not been freed yet. Release failures are
// logged, never propagated.
func (c *Controller) release(i int) {
	c.mu.Lock()
	if c.released[i] {
		c.mu.Unlock()
		return
	}
	c.released[i] = true
	res := c.queue[i]
	c.mu.Unlock()

	if err := res.Release(); err != nil {
		c.logger.Warn("failed to release resource",
			slog.Int("segment", i), slog.String("error", err.Error()))
	}
}

func (c *Controller) releaseFrom(start int) {
	c.mu.Lock()
	n := len(c.queue)
	c.mu.Unlock()
	for i := start; i < n; i++ {
		c.release(i)
	}
}

func (c *Controller) setIndex(i int) {
	c.mu.Lock()
	c.index = i
	c.mu.Unlock()
}

func (c *Controller) finish(state State, doneCh chan error, err error) {
	c.mu.Lock()
	c.state = state
	c.queue = nil
	c.released = nil
	c.index = 0
	c.mu.Unlock()
	doneCh <- err
	close(doneCh)
}
