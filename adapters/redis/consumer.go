package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type consumerOptions[T any] struct {
	logger       *slog.Logger
	bufferSize   int
	blockTimeout time.Duration
	startID      string
	parseFunc    func(map[string]any) (T, error)
}

type ConsumerOption[T any] func(*consumerOptions[T])

func WithConsumerLogger[T any](logger *slog.Logger) ConsumerOption[T] {
	return func(o *consumerOptions[T]) {
		o.logger = logger
	}
}

func WithConsumerBufferSize[T any](size int) ConsumerOption[T] {
	return func(o *consumerOptions[T]) {
		o.bufferSize = size
	}
}

func WithConsumerBlockTimeout[T any](d time.Duration) ConsumerOption[T] {
	return func(o *consumerOptions[T]) {
		o.blockTimeout = d
	}
}

// WithConsumerStartID sets the stream id reading starts after. Defaults to "$",
// only entries added after Start.
func WithConsumerStartID[T any](id string) ConsumerOption[T] {
	return func(o *consumerOptions[T]) {
		o.startID = id
	}
}

func WithConsumerParseFunc[T any](fn func(map[string]any) (T, error)) ConsumerOption[T] {
	return func(o *consumerOptions[T]) {
		o.parseFunc = fn
	}
}

// Consumer tails a stream without a consumer group; every instance sees every entry.
type Consumer[T any] struct {
	client     redis.UniversalClient
	stream     string
	lastID     string
	downStream chan T
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	logger     *slog.Logger
	options    consumerOptions[T]
}

func NewConsumer[T any](client redis.UniversalClient, stream string, opts ...ConsumerOption[T]) (IConsumer[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}

	options := consumerOptions[T]{
		logger:       slog.Default(),
		bufferSize:   100,
		blockTimeout: time.Second,
		startID:      "$",
		parseFunc:    DecodeMessage[T],
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Consumer[T]{
		client:  client,
		stream:  stream,
		lastID:  options.startID,
		closed:  true,
		logger:  options.logger.With(slog.String("caller", "Consumer"), slog.String("stream", stream)),
		options: options,
	}, nil
}

func (s *Consumer[T]) Start() {
	if !s.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.downStream = make(chan T, s.options.bufferSize)
	s.closed = false
	if s.lastID == "$" {
		s.lastID = s.tailID(ctx)
	}
	s.cancelFunc = cancel
	s.logger.Info("starting stream consumer")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.logger.Info("consumer goroutine stopped")
		defer close(s.downStream)

		for ctx.Err() == nil {
			messages, err := s.fetch(ctx)
			if err != nil {
				if errors.Is(err, redis.Nil) || ctx.Err() != nil {
					continue
				}
				s.logger.Error("fetch message error", slog.Any("error", err))
				s.backoff(ctx)
				continue
			}

			for _, message := range messages {
				data, err := s.options.parseFunc(message.Values)
				if err != nil {
					s.logger.Error("failed to parse message",
						slog.String("messageId", message.ID),
						slog.Any("error", err))
					continue
				}

				select {
				case <-ctx.Done():
					return
				case s.downStream <- data:
				}
			}
		}
	}()
}

func (s *Consumer[T]) fetch(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := s.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{s.stream, s.lastID},
		Count:   16,
		Block:   s.options.blockTimeout,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, redis.Nil
	}

	messages := streams[0].Messages
	s.lastID = messages[len(messages)-1].ID
	return messages, nil
}

// tailID pins "$" to a concrete id so entries added between two reads are not skipped.
func (s *Consumer[T]) tailID(ctx context.Context) string {
	entries, err := s.client.XRevRangeN(ctx, s.stream, "+", "-", 1).Result()
	if err != nil {
		s.logger.Warn("failed to read stream tail", slog.Any("error", err))
		return "$"
	}
	if len(entries) == 0 {
		return "0"
	}
	return entries[0].ID
}

func (s *Consumer[T]) backoff(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(s.options.blockTimeout):
	}
}

func (s *Consumer[T]) Subscribe() <-chan T {
	return s.downStream
}

func (s *Consumer[T]) Close() {
	if s.closed {
		return
	}
	s.logger.Info("closing stream consumer")
	s.closed = true
	s.cancelFunc()
	s.wg.Wait()
	s.logger.Info("stream consumer closed")
}
