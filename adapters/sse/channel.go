package sse

import (
	"sync"
)

// Channel fans messages for one topic out to its subscribers. Once closed it
// hands out closed subscriptions and drops broadcasts.
type Channel[T any] struct {
	mu     sync.RWMutex
	subs   map[<-chan T]chan T
	size   int
	closed bool
}

func NewChannel[T any](bufferSize int) IChannel[T] {
	return &Channel[T]{
		subs: make(map[<-chan T]chan T),
		size: max(bufferSize, 0),
	}
}

func (c *Channel[T]) Subscribe() <-chan T {
	ch := make(chan T, c.size)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch
	}
	c.subs[ch] = ch
	return ch
}

// Unsubscribe removes and closes ch. Unknown channels are ignored.
func (c *Channel[T]) Unsubscribe(ch <-chan T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.subs[ch]; ok {
		delete(c.subs, ch)
		close(w)
	}
}

func (c *Channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for r, w := range c.subs {
		close(w)
		delete(c.subs, r)
	}
}

// Broadcast never blocks; a subscriber that fell behind misses the message.
func (c *Channel[T]) Broadcast(message T) (skipped int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, w := range c.subs {
		select {
		case w <- message:
		default:
			skipped++
		}
	}
	return skipped
}

func (c *Channel[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}
