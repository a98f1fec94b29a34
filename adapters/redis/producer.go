package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallnest/chanx"
)

var ErrProducerClosed = errors.New("producer is closed")

type producerOptions[T any] struct {
	logger       *slog.Logger
	bufferSize   int
	maxLen       int64
	writeTimeout time.Duration
	parseFunc    func(T) (map[string]any, error)
}

type ProducerOption[T any] func(*producerOptions[T])

func WithProducerLogger[T any](logger *slog.Logger) ProducerOption[T] {
	return func(o *producerOptions[T]) {
		o.logger = logger
	}
}

// WithProducerBufferSize sets the initial capacity of the unbounded publish queue.
func WithProducerBufferSize[T any](size int) ProducerOption[T] {
	return func(o *producerOptions[T]) {
		o.bufferSize = size
	}
}

// WithProducerMaxLen caps the stream approximately at n entries. Zero means no cap.
func WithProducerMaxLen[T any](n int64) ProducerOption[T] {
	return func(o *producerOptions[T]) {
		o.maxLen = n
	}
}

func WithProducerWriteTimeout[T any](d time.Duration) ProducerOption[T] {
	return func(o *producerOptions[T]) {
		o.writeTimeout = d
	}
}

func WithProducerParseFunc[T any](fn func(T) (map[string]any, error)) ProducerOption[T] {
	return func(o *producerOptions[T]) {
		o.parseFunc = fn
	}
}

// Producer appends values to a Redis stream from a background goroutine.
// Publish never blocks on Redis; Close flushes whatever is still queued.
type Producer[T any] struct {
	client   redis.UniversalClient
	stream   string
	upstream *chanx.UnboundedChan[map[string]any]
	mu       sync.RWMutex
	wg       sync.WaitGroup
	closed   bool
	logger   *slog.Logger
	options  producerOptions[T]
}

func NewProducer[T any](client redis.UniversalClient, stream string, opts ...ProducerOption[T]) (*Producer[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}

	options := producerOptions[T]{
		logger:       slog.Default(),
		bufferSize:   100,
		writeTimeout: 5 * time.Second,
		parseFunc:    EncodeMessage[T],
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Producer[T]{
		client:  client,
		stream:  stream,
		closed:  true,
		logger:  options.logger.With(slog.String("caller", "Producer"), slog.String("stream", stream)),
		options: options,
	}, nil
}

func (p *Producer[T]) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		return
	}
	// the queue outlives Close until In is drained
	p.upstream = chanx.NewUnboundedChan[map[string]any](context.Background(), p.options.bufferSize)
	p.closed = false
	p.logger.Info("starting stream producer")

	out := p.upstream.Out
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.logger.Info("producer goroutine stopped")

		for message := range out {
			p.add(message)
		}
	}()
}

func (p *Producer[T]) add(message map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), p.options.writeTimeout)
	defer cancel()

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: message,
	}
	if p.options.maxLen > 0 {
		args.MaxLen = p.options.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		p.logger.Error("publish message error", slog.Any("error", err))
		return
	}
	p.logger.Debug("message published", slog.String("messageId", id))
}

func (p *Producer[T]) Publish(data T) error {
	message, err := p.options.parseFunc(data)
	if err != nil {
		return fmt.Errorf("parse message error: %w", err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	p.upstream.In <- message
	return nil
}

// Close stops accepting messages and waits until the queue is written out.
func (p *Producer[T]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.logger.Info("closing stream producer")
	p.closed = true
	close(p.upstream.In)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("stream producer closed")
}
