package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrConsumerClosed = errors.New("consumer is closed")

const deadLetterSuffix = ":dead-letter"

// Message carries a decoded stream entry and what is needed to acknowledge it.
type Message[T any] struct {
	Data T

	client    redis.UniversalClient
	done      bool
	messageID string
	stream    string
	group     string

	raw map[string]any
}

func (m *Message[T]) ID() string {
	return m.messageID
}

// Done acknowledges the message.
func (m *Message[T]) Done(ctx context.Context) error {
	const op = "Message.Done"
	if m.done {
		return nil
	}
	if err := m.client.XAck(ctx, m.stream, m.group, m.messageID).Err(); err != nil {
		return fmt.Errorf("[%s] failed to ack message: %w", op, err)
	}
	m.done = true
	return nil
}

// Fail moves the message to the dead letter stream with the failure attached, then
// acknowledges it.
func (m *Message[T]) Fail(ctx context.Context, failErr error) error {
	const op = "Message.Fail"
	if m.done {
		return nil
	}

	values := make(map[string]any, len(m.raw)+1)
	for k, v := range m.raw {
		values[k] = v
	}
	values["error"] = failErr.Error()
	if err := m.client.XAdd(ctx, &redis.XAddArgs{
		Stream: m.stream + deadLetterSuffix,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("[%s] failed to move message to dead letter queue: %w", op, err)
	}

	if err := m.client.XAck(ctx, m.stream, m.group, m.messageID).Err(); err != nil {
		return fmt.Errorf("[%s] failed to ack failed message: %w", op, err)
	}
	m.done = true
	return nil
}

// GroupConsumer reads a stream through a consumer group, so each entry is handled by
// one instance. Entries this consumer left pending are redelivered before new ones.
type GroupConsumer[T any] struct {
	client     redis.UniversalClient
	stream     string
	group      string
	consumer   string
	downStream chan *Message[T]
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	logger     *slog.Logger
	options    groupConsumerOptions[T]
}

type groupConsumerOptions[T any] struct {
	logger       *slog.Logger
	parseFunc    func(map[string]any) (T, error)
	bufferSize   int
	blockTimeout time.Duration
}

type GroupConsumerOption[T any] func(*groupConsumerOptions[T])

func WithGroupConsumerLogger[T any](logger *slog.Logger) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.logger = logger
	}
}

func WithGroupConsumerParseFunc[T any](fn func(map[string]any) (T, error)) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.parseFunc = fn
	}
}

func WithGroupConsumerBufferSize[T any](size int) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.bufferSize = size
	}
}

func WithGroupConsumerBlockTimeout[T any](d time.Duration) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.blockTimeout = d
	}
}

func NewGroupConsumer[T any](
	client redis.UniversalClient,
	stream, group, consumer string,
	opts ...GroupConsumerOption[T],
) (IGroupConsumer[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" || group == "" || consumer == "" {
		return nil, errors.New("stream, group and consumer cannot be empty")
	}

	options := groupConsumerOptions[T]{
		logger:       slog.Default(),
		parseFunc:    DecodeMessage[T],
		bufferSize:   1,
		blockTimeout: time.Second,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &GroupConsumer[T]{
		logger: options.logger.With(
			slog.String("caller", "GroupConsumer"),
			slog.String("stream", stream),
			slog.String("group", group),
			slog.String("consumer", consumer),
		),
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		closed:   true,
		options:  options,
	}, nil
}

// Start creates the group if needed and begins delivering messages.
func (s *GroupConsumer[T]) Start() error {
	if !s.closed {
		return nil
	}
	if err := s.ensureGroup(context.Background()); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.downStream = make(chan *Message[T], s.options.bufferSize)
	s.cancelFunc = cancel
	s.closed = false
	s.logger.Info("starting group consumer")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.logger.Info("group consumer goroutine stopped")
		defer close(s.downStream)

		for {
			err := s.messagesWorkflow(ctx)
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("error processing messages, restarting", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.options.blockTimeout):
			}
		}
	}()

	return nil
}

func (s *GroupConsumer[T]) ensureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func (s *GroupConsumer[T]) Subscribe() <-chan *Message[T] {
	return s.downStream
}

func (s *GroupConsumer[T]) Close() error {
	if s.closed {
		return nil
	}
	s.logger.Info("closing group consumer")
	s.closed = true
	s.cancelFunc()

	s.wg.Wait()
	s.logger.Info("group consumer closed gracefully")
	return nil
}

// messagesWorkflow replays this consumer's pending entries, then reads new ones.
// It only returns on error; a restart replays whatever was not acknowledged.
func (s *GroupConsumer[T]) messagesWorkflow(ctx context.Context) error {
	cursor := "0"
	for {
		message, err := s.fetchNextMessage(ctx, cursor)
		if errors.Is(err, redis.Nil) {
			if cursor != ">" {
				s.logger.Debug("pending entries replayed")
				cursor = ">"
			}
			continue
		}
		if err != nil {
			return err
		}
		if cursor != ">" {
			cursor = message.ID
			// trimmed from the stream while pending
			if len(message.Values) == 0 {
				if err := s.client.XAck(ctx, s.stream, s.group, message.ID).Err(); err != nil {
					return err
				}
				continue
			}
		}

		data, err := s.options.parseFunc(message.Values)
		if err != nil {
			// a retry cannot fix a bad payload
			s.logger.Error("failed to parse message",
				slog.String("messageId", message.ID),
				slog.Any("error", err),
			)
			if err := s.moveToDeadLetter(ctx, message); err != nil {
				return err
			}
			continue
		}

		msg := &Message[T]{
			Data:      data,
			messageID: message.ID,
			stream:    s.stream,
			group:     s.group,
			client:    s.client,
			raw:       message.Values,
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s.downStream <- msg:
		}
	}
}

func (s *GroupConsumer[T]) fetchNextMessage(ctx context.Context, cursor string) (redis.XMessage, error) {
	args := &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, cursor},
		Count:    1,
		Block:    -1,
	}
	if cursor == ">" {
		args.Block = s.options.blockTimeout
	}
	streams, err := s.client.XReadGroup(ctx, args).Result()
	if err != nil {
		return redis.XMessage{}, err
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return redis.XMessage{}, redis.Nil
	}
	return streams[0].Messages[0], nil
}

func (s *GroupConsumer[T]) moveToDeadLetter(ctx context.Context, message redis.XMessage) error {
	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream + deadLetterSuffix,
		Values: message.Values,
	}).Err(); err != nil {
		return fmt.Errorf("failed to move message to dead letter queue: %w", err)
	}
	return s.client.XAck(ctx, s.stream, s.group, message.ID).Err()
}
