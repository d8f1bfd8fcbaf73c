package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the number of commands the channel buffers before
// producers block.
const DefaultCapacity = 1000

// Channel errors.
var (
	// ErrChannelClosed is returned when submitting to a closed channel or
	// through a closed producer.
	ErrChannelClosed = errors.New("command channel closed")

	// ErrWriterStopped is returned once the writer has failed and nothing
	// drains the channel any more.
	ErrWriterStopped = errors.New("command writer stopped")
)

// Normalize returns cmd terminated by exactly one newline. A command that
// already ends in a newline is returned unchanged.
func Normalize(cmd string) string {
	if strings.HasSuffix(cmd, "\n") {
		return cmd
	}
	return cmd + "\n"
}

// Channel is a bounded FIFO queue of commands bound for the server.
// It is safe for concurrent use.
type Channel struct {
	queue chan string

	// sendMu is held for reading by in-flight submissions and for writing
	// by close, so the queue is never closed under a sender.
	sendMu sync.RWMutex
	closed bool

	mu        sync.Mutex
	producers int
	opened    bool

	stopped  chan struct{}
	stopOnce sync.Once
}

// NewChannel creates a channel holding up to capacity commands.
// A capacity <= 0 uses DefaultCapacity.
func NewChannel(capacity int) *Channel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Channel{
		queue:   make(chan string, capacity),
		stopped: make(chan struct{}),
	}
}

// Cap returns the channel capacity.
func (c *Channel) Cap() int {
	return cap(c.queue)
}

// Len returns the number of queued commands.
func (c *Channel) Len() int {
	return len(c.queue)
}

// Producer registers a new producer. The channel closes when the last
// producer is closed. Producers created after the channel closed can only
// return ErrChannelClosed.
func (c *Channel) Producer(source string) *Producer {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := &Producer{ch: c, source: source}
	if c.opened && c.producers == 0 {
		p.closed.Store(true)
		return p
	}
	c.opened = true
	c.producers++
	return p
}

// Receive returns the queue for the single consumer.
func (c *Channel) Receive() <-chan string {
	return c.queue
}

// Stop marks the consumer as gone. Blocked and future submissions return
// ErrWriterStopped.
func (c *Channel) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopped)
	})
}

// Stopped returns a channel closed once Stop was called.
func (c *Channel) Stopped() <-chan struct{} {
	return c.stopped
}

// IsClosed returns true once every producer has been closed.
func (c *Channel) IsClosed() bool {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	return c.closed
}

func (c *Channel) release() {
	c.mu.Lock()
	c.producers--
	last := c.producers == 0
	c.mu.Unlock()

	if !last {
		return
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
}

// Producer submits commands into a Channel. Commands submitted through one
// producer are delivered in submission order.
type Producer struct {
	ch     *Channel
	source string
	closed atomic.Bool
}

// Source returns the label the producer was created with.
func (p *Producer) Source() string {
	return p.source
}

// Submit queues cmd. It blocks while the channel is full and returns
// ErrChannelClosed, ErrWriterStopped or the context error if the command
// could not be queued.
func (p *Producer) Submit(ctx context.Context, cmd string) error {
	if p.closed.Load() {
		return ErrChannelClosed
	}

	c := p.ch
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()

	if c.closed {
		return ErrChannelClosed
	}

	select {
	case <-c.stopped:
		return ErrWriterStopped
	default:
	}

	return p.send(ctx, cmd)
}

// send blocks until cmd is queued or the writer stops. Callers hold
// c.sendMu for reading.
func (p *Producer) send(ctx context.Context, cmd string) error {
	c := p.ch
	select {
	case c.queue <- cmd:
		// Both cases may be ready when Stop races the send; a command
		// queued behind a stopped writer is never delivered.
		select {
		case <-c.stopped:
			return ErrWriterStopped
		default:
			return nil
		}
	case <-c.stopped:
		return ErrWriterStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drops the producer. Closing twice is a no-op.
func (p *Producer) Close() {
	if p.closed.Swap(true) {
		return
	}
	p.ch.release()
}
