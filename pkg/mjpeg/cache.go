package mjpeg

import (
	"context"
	"io"
	"sync"
	"time"
)

// Frame is one multipart unit: the boundary line followed by the part
// headers and body, split on '\n'. Published frames are never mutated.
type Frame struct {
	Seq   uint64
	Time  time.Time
	Lines [][]byte
}

func (f *Frame) Len() int {
	n := 0
	for _, l := range f.Lines {
		n += len(l)
	}
	return n
}

func (f *Frame) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, l := range f.Lines {
		n, err := w.Write(l)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// FrameCache holds the latest published frame. Publish swaps the frame and
// wakes every waiter by closing the current change channel.
type FrameCache struct {
	mu      sync.Mutex
	frame   *Frame
	seq     uint64
	changed chan struct{}
}

func NewFrameCache() *FrameCache {
	return &FrameCache{changed: make(chan struct{})}
}

func (c *FrameCache) Publish(lines [][]byte) *Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	f := &Frame{Seq: c.seq, Time: time.Now(), Lines: lines}
	c.frame = f
	c.notify()
	return f
}

func (c *FrameCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame = nil
	c.notify()
}

func (c *FrameCache) notify() {
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *FrameCache) Current() *Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

// Get returns the current frame, waiting up to budget for one to be
// published. It fails with ErrFrameNotAvailable once the budget is spent.
func (c *FrameCache) Get(ctx context.Context, budget time.Duration) (*Frame, error) {
	timer := time.NewTimer(budget)
	defer timer.Stop()

	for {
		c.mu.Lock()
		f, changed := c.frame, c.changed
		c.mu.Unlock()

		if f != nil && len(f.Lines) > 0 {
			return f, nil
		}

		select {
		case <-changed:
		case <-timer.C:
			return nil, ErrFrameNotAvailable
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
