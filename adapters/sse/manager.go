package sse

import (
	"context"
	"log/slog"
	"sync"
)

type managerOptions[T any] struct {
	logger     *slog.Logger
	subscriber Subscriber[T]
	bufferSize int
}

type Option[T any] func(*managerOptions[T])

func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(o *managerOptions[T]) {
		o.logger = logger
	}
}

// WithSubscriber relays every request from s to local subscribers. Without it the
// manager only sees what is published on this instance.
func WithSubscriber[T any](s Subscriber[T]) Option[T] {
	return func(o *managerOptions[T]) {
		o.subscriber = s
	}
}

// WithBufferSize sets how many messages a slow subscriber may lag behind.
func WithBufferSize[T any](size int) Option[T] {
	return func(o *managerOptions[T]) {
		o.bufferSize = size
	}
}

// connectionManager owns the named channels of one process.
type connectionManager[T any] struct {
	logger *slog.Logger

	mu     sync.RWMutex
	wg     sync.WaitGroup
	active bool
	done   chan struct{}

	subscriber Subscriber[T]
	bufferSize int
	channels   map[string]IChannel[T]
}

func NewConnectionManager[T any](opts ...Option[T]) IConnectionManager[T] {
	options := managerOptions[T]{
		logger:     slog.Default(),
		bufferSize: 16,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &connectionManager[T]{
		logger:     options.logger.With(slog.String("caller", "ConnectionManager")),
		subscriber: options.subscriber,
		bufferSize: options.bufferSize,
		channels:   make(map[string]IChannel[T]),
		done:       make(chan struct{}),
		active:     true,
	}
}

func (cm *connectionManager[T]) Start() {
	if cm.subscriber == nil {
		return
	}
	upstream := cm.subscriber.Subscribe()

	cm.wg.Add(1)
	go func() {
		defer cm.wg.Done()
		for {
			select {
			case <-cm.done:
				return
			case req, ok := <-upstream:
				if !ok {
					return
				}
				cm.broadcast(req.Channel, req.Message)
			}
		}
	}()
}

func (cm *connectionManager[T]) Done() {
	cm.mu.Lock()
	if !cm.active {
		cm.mu.Unlock()
		return
	}
	cm.active = false
	close(cm.done)
	cm.mu.Unlock()

	cm.wg.Wait()

	cm.mu.Lock()
	defer cm.mu.Unlock()
	for _, channel := range cm.channels {
		channel.Close()
	}
	clear(cm.channels)
}

func (cm *connectionManager[T]) Subscribe(channelName string) (<-chan T, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.active {
		return nil, context.Canceled
	}

	c, ok := cm.channels[channelName]
	if !ok {
		c = NewChannel[T](cm.bufferSize)
		cm.channels[channelName] = c
	}
	return c.Subscribe(), nil
}

// Publish broadcasts data to the local subscribers of channelName.
func (cm *connectionManager[T]) Publish(channelName string, data T) error {
	cm.mu.RLock()
	active := cm.active
	cm.mu.RUnlock()
	if !active {
		return context.Canceled
	}
	cm.broadcast(channelName, data)
	return nil
}

func (cm *connectionManager[T]) broadcast(channelName string, data T) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	channel, ok := cm.channels[channelName]
	if !ok {
		return
	}
	if skipped := channel.Broadcast(data); skipped > 0 {
		cm.logger.Warn("slow subscribers skipped",
			slog.String("channel", channelName),
			slog.Int("skipped", skipped))
	}
}

func (cm *connectionManager[T]) Unsubscribe(channelName string, ch <-chan T) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	c, ok := cm.channels[channelName]
	if !ok {
		return
	}

	c.Unsubscribe(ch)
	if c.Len() == 0 {
		delete(cm.channels, channelName)
	}
}
