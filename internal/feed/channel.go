package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"ammscope/internal/model"
)

// ErrChannelClosed is returned by Send once the consumer has gone or the
// producer side has been closed.
var ErrChannelClosed = errors.New("output channel closed")

// DefaultChannelCapacity is the buffer size of the output channel.
const DefaultChannelCapacity = 64

// Item is one update travelling from a source to the consumer.
type Item struct {
	Update     model.PriceUpdate
	Program    model.PoolProgram
	Source     SourceKind
	Seq        uint64
	ReceivedAt time.Time
}

// Channel is the bounded delivery channel between sources and the consumer.
// Send blocks while the buffer is full; items are never dropped.
type Channel struct {
	items chan Item
	done  chan struct{}

	signalOnce sync.Once
	mu         sync.RWMutex
	closed     bool
}

func NewChannel(capacity int) *Channel {
	if capacity <= 0 {
		capacity = DefaultChannelCapacity
	}
	return &Channel{
		items: make(chan Item, capacity),
		done:  make(chan struct{}),
	}
}

// Send enqueues item, blocking while the channel is full.
func (c *Channel) Send(ctx context.Context, item Item) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrChannelClosed
	}
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}

	select {
	case c.items <- item:
		return nil
	case <-c.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Items is the receive side. It is closed after every producer has exited.
func (c *Channel) Items() <-chan Item {
	return c.items
}

// CloseConsumer tells producers that nobody is receiving anymore.
func (c *Channel) CloseConsumer() {
	c.signal()
}

// Closed reports whether sends are rejected.
func (c *Channel) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Channel) Len() int {
	return len(c.items)
}

func (c *Channel) Cap() int {
	return cap(c.items)
}

// close shuts the producer side. Blocked senders are released first so the
// write lock can be taken.
func (c *Channel) close() {
	c.signal()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.items)
	}
}

func (c *Channel) signal() {
	c.signalOnce.Do(func() {
		close(c.done)
	})
}
