// Package framebuf provides the bounded frame channel shared by a capture
// unit and a processing unit.
//
// The channel never blocks the writer. When it is full, the oldest unread
// frame is evicted and Write reports the overwrite. Frames are deep-copied on
// the way in and on the way out, so neither side shares pixel memory with the
// channel.
package framebuf

import (
	"errors"
	"sync"

	"github.com/t77yq/camera-agents/internal/model"
)

// ErrZeroCapacity is returned when a channel is constructed with capacity < 1
var ErrZeroCapacity = errors.New("framebuf: capacity must be greater than zero")

// Channel is a fixed-capacity ring of frames with drop-oldest overflow.
//
// Intended for one producer and one consumer. The cursors are mutex-guarded,
// so additional writers or readers do not corrupt the ring, but ordering
// across them is undefined.
type Channel struct {
	mu    sync.Mutex
	slots []*model.Frame
	// head and tail are monotonic write/read cursors; slot index is cursor % cap
	head uint64
	tail uint64

	written     uint64
	read        uint64
	overwritten uint64

	ready chan struct{}
}

// New creates a channel holding at most capacity unread frames
func New(capacity int) (*Channel, error) {
	if capacity < 1 {
		return nil, ErrZeroCapacity
	}
	return &Channel{
		slots: make([]*model.Frame, capacity),
		ready: make(chan struct{}, 1),
	}, nil
}

// Write stores a copy of frame. It returns true when the channel was full and
// the oldest unread frame was discarded to make room. Nil frames are ignored.
func (c *Channel) Write(frame *model.Frame) (overwrote bool) {
	if frame == nil {
		return false
	}
	copied := frame.Clone()

	c.mu.Lock()
	if c.head-c.tail == uint64(len(c.slots)) {
		c.slots[c.tail%uint64(len(c.slots))] = nil
		c.tail++
		c.overwritten++
		overwrote = true
	}
	c.slots[c.head%uint64(len(c.slots))] = copied
	c.head++
	c.written++
	c.mu.Unlock()

	select {
	case c.ready <- struct{}{}:
	default:
	}
	return overwrote
}

// Read returns a copy of the oldest unread frame, or false when empty
func (c *Channel) Read() (*model.Frame, bool) {
	c.mu.Lock()
	if c.head == c.tail {
		c.mu.Unlock()
		return nil, false
	}
	idx := c.tail % uint64(len(c.slots))
	frame := c.slots[idx]
	// The slot keeps its copy until overwritten; the reader gets its own.
	c.tail++
	c.read++
	c.mu.Unlock()

	return frame.Clone(), true
}

// Ready returns a channel that receives a value after at least one Write
// since the last receive. Consumers use it to wait instead of spinning.
func (c *Channel) Ready() <-chan struct{} {
	return c.ready
}

// Size returns the number of unread frames
func (c *Channel) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(c.head - c.tail)
}

// Capacity returns the maximum number of unread frames
func (c *Channel) Capacity() int {
	return len(c.slots)
}

// IsEmpty reports whether there are no unread frames
func (c *Channel) IsEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head == c.tail
}

// IsFull reports whether the next Write will evict a frame
func (c *Channel) IsFull() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head-c.tail == uint64(len(c.slots))
}

// Stats returns the channel counters
func (c *Channel) Stats() model.ChannelStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.ChannelStats{
		Capacity:    len(c.slots),
		Size:        int(c.head - c.tail),
		Written:     c.written,
		Read:        c.read,
		Overwritten: c.overwritten,
	}
}
