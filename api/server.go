package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	redisAdapter "chitfund/adapters/redis"
	"chitfund/adapters/sse"
	"chitfund/chit"
	"chitfund/models"
)

type ServerImpl struct {
	engine        *chit.Engine
	sseManager    sse.IConnectionManager[chit.Event]
	htmlChecker   *bluemonday.Policy
	textChecker   *bluemonday.Policy
	redisClient   redis.UniversalClient
	consumer      redisAdapter.IConsumer[sse.PublishRequest[chit.Event]]
	producer      redisAdapter.IProducer[chit.AuditEntry]
	groupConsumer redisAdapter.IGroupConsumer[chit.AuditEntry]
	registry      *prometheus.Registry
	wg            sync.WaitGroup
	cancelFunc    context.CancelFunc
	db            *gorm.DB
	logger        *slog.Logger
	keepAlive     time.Duration
	maxBodySize   int64

	config ServerConfig
}

type serverOptions struct {
	logger        *slog.Logger
	engineOptions []chit.Option
	keepAlive     time.Duration
	maxBodySize   int64
}

type Option func(*serverOptions)

func WithLogger(logger *slog.Logger) Option {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

// WithEngineOptions appends options applied after the ones derived from the config.
func WithEngineOptions(opts ...chit.Option) Option {
	return func(o *serverOptions) {
		o.engineOptions = append(o.engineOptions, opts...)
	}
}

func WithMaxBodySize(n int64) Option {
	return func(o *serverOptions) {
		o.maxBodySize = n
	}
}

// WithKeepAlive sets how often an idle event stream sends a comment line.
func WithKeepAlive(d time.Duration) Option {
	return func(o *serverOptions) {
		o.keepAlive = d
	}
}

func NewServer(config ServerConfig, opts ...Option) (*ServerImpl, error) {
	const op = "NewServer"

	options := serverOptions{
		logger:      slog.Default(),
		keepAlive:   30 * time.Second,
		maxBodySize: DefaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(&options)
	}
	logger := options.logger

	db, err := openDB(config.DB)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	impl := &ServerImpl{
		htmlChecker: bluemonday.UGCPolicy(),
		textChecker: bluemonday.StrictPolicy(),
		registry:    registry,
		db:          db,
		logger:      logger.With(slog.String("caller", "Server")),
		keepAlive:   options.keepAlive,
		maxBodySize: options.maxBodySize,
		config:      config,
	}

	var (
		locker   chit.Locker = chit.NewLocalLocker()
		notifier chit.Notifier
		auditor  chit.Auditor
	)
	if config.Redis.Enabled() {
		impl.redisClient = redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})

		// every instance tails the events stream and fans it out to its own SSE clients
		consumer, err := redisAdapter.NewConsumer(
			impl.redisClient,
			config.Redis.StreamKeys.Events,
			redisAdapter.WithConsumerLogger[sse.PublishRequest[chit.Event]](logger),
			redisAdapter.WithConsumerParseFunc(decodeEventRequest),
		)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create consumer, err=%w", op, err)
		}
		impl.consumer = consumer
		impl.sseManager = sse.NewConnectionManager(
			sse.WithLogger[chit.Event](logger),
			sse.WithSubscriber[chit.Event](consumer),
		)
		notifier = &streamNotifier{
			client:    impl.redisClient,
			stream:    config.Redis.StreamKeys.Events,
			keyPrefix: config.Redis.KeyPrefix,
			ttl:       config.Redis.EventTTL,
		}

		producer, err := redisAdapter.NewProducer(
			impl.redisClient,
			config.Redis.StreamKeys.Audit,
			redisAdapter.WithProducerLogger[chit.AuditEntry](logger),
		)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create producer, err=%w", op, err)
		}
		impl.producer = producer
		auditor = streamAuditor{producer: producer}

		groupConsumer, err := redisAdapter.NewGroupConsumer[chit.AuditEntry](
			impl.redisClient,
			config.Redis.StreamKeys.Audit,
			config.Redis.ConsumerGroup,
			config.ID,
			redisAdapter.WithGroupConsumerLogger[chit.AuditEntry](logger),
		)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create group consumer, err=%w", op, err)
		}
		impl.groupConsumer = groupConsumer

		if config.Engine.LockBackend == LockBackendRedis {
			redisLocker, err := redisAdapter.NewLocker(
				impl.redisClient,
				redisAdapter.WithLockerPrefix(config.Redis.KeyPrefix+"lock:"),
				redisAdapter.WithLockerLogger(logger),
				redisAdapter.WithLockerMutexOptions(redisAdapter.WithAutoRenewMutexExpiry(config.Engine.LockExpiry)),
			)
			if err != nil {
				return nil, fmt.Errorf("[%s] Fail to create redis locker, err=%w", op, err)
			}
			locker = redisLocker
		}
	} else {
		if config.Engine.LockBackend == LockBackendRedis {
			return nil, fmt.Errorf("[%s] Redis lock backend needs a redis address", op)
		}
		impl.sseManager = sse.NewConnectionManager(sse.WithLogger[chit.Event](logger))
		notifier = localNotifier{manager: impl.sseManager}
		auditor = dbAuditor{db: db}
	}

	engineOpts := []chit.Option{
		chit.WithLocker(locker),
		chit.WithNotifier(notifier),
		chit.WithAuditor(auditor),
		chit.WithLogger(logger),
		chit.WithCommissionRate(config.Engine.CommissionRate),
		chit.WithPrometheusRegisterer(registry),
	}
	if config.Engine.MinMembers > 0 {
		engineOpts = append(engineOpts, chit.WithMinMembers(config.Engine.MinMembers))
	}
	engine, err := chit.New(db, append(engineOpts, options.engineOptions...)...)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create engine, err=%w", op, err)
	}
	if err := engine.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("[%s] Fail to migrate database, err=%w", op, err)
	}
	impl.engine = engine

	return impl, nil
}

func openDB(config DBConfig) (*gorm.DB, error) {
	switch config.Driver {
	case DriverSQLite:
		db, err := gorm.Open(sqlite.Open(config.Path), &gorm.Config{TranslateError: true})
		if err != nil {
			return nil, err
		}
		// SQLite allows one writer; an in-memory database also lives on one connection
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	case DriverPostgres, "":
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", config.User, config.Password, config.Host, config.Port, config.Database)
		gormConfig := &gorm.Config{TranslateError: true}
		if config.Schema != "" {
			dsn += "&search_path=" + config.Schema
			gormConfig.NamingStrategy = schema.NamingStrategy{TablePrefix: config.Schema + "."}
		}
		return gorm.Open(postgres.Open(dsn), gormConfig)
	default:
		return nil, fmt.Errorf("unknown database driver %q", config.Driver)
	}
}

func (impl *ServerImpl) Engine() *chit.Engine {
	return impl.engine
}

func (impl *ServerImpl) Start() error {
	const op = "Start"

	if !impl.config.Redis.Enabled() {
		impl.sseManager.Start()
		return nil
	}
	// the manager relays the consumer's channel, which exists only once started
	impl.consumer.Start()
	impl.sseManager.Start()
	impl.producer.Start()
	if err := impl.groupConsumer.Start(); err != nil {
		return fmt.Errorf("[%s] Fail to start group consumer, err=%w", op, err)
	}

	// persist audit entries from the stream; one instance of the group handles each entry
	ctx, cancel := context.WithCancel(context.Background())
	impl.cancelFunc = cancel
	impl.logger.Info("Start audit persistence worker")
	impl.wg.Add(1)
	go func() {
		logger := impl.logger.With(slog.String("caller", "AuditPersist"))
		defer impl.wg.Done()
		defer logger.Info("Audit persistence worker stopped")
		ch := impl.groupConsumer.Subscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				impl.handleAuditMessage(ctx, logger, msg)
			}
		}
	}()
	return nil
}

func (impl *ServerImpl) handleAuditMessage(ctx context.Context, logger *slog.Logger, msg *redisAdapter.Message[chit.AuditEntry]) {
	record := toAuditRecord(msg.Data)
	record.ID = auditRecordID(impl.config.Redis.StreamKeys.Audit, msg.ID())

	if err := persistAudit(ctx, impl.db, record); err != nil {
		logger.Error("Fail to persist audit entry", slog.String("messageId", msg.ID()), slog.Any("error", err))
		if err := msg.Fail(ctx, err); err != nil {
			logger.Error("Fail to fail message", slog.Any("error", err))
		}
		return
	}
	if err := msg.Done(ctx); err != nil {
		// left pending; replayed on restart and absorbed by the record id
		logger.Error("Persist success but fail to done message", slog.Any("error", err))
		return
	}
	logger.Debug("Audit entry persisted", slog.String("operation", record.Operation))
}

func (impl *ServerImpl) Close() {
	if impl.config.Redis.Enabled() {
		// flush queued audit entries before the worker stops
		impl.producer.Close()
		if err := impl.groupConsumer.Close(); err != nil {
			impl.logger.Warn("Fail to close group consumer", slog.Any("error", err))
		}
		if impl.cancelFunc != nil {
			impl.cancelFunc()
		}
		impl.wg.Wait()
		impl.consumer.Close()
	}
	impl.sseManager.Done()
	if impl.redisClient != nil {
		if err := impl.redisClient.Close(); err != nil {
			impl.logger.Warn("Fail to close redis client", slog.Any("error", err))
		}
	}
	if sqlDB, err := impl.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// AuditRecords lists persisted audit records of a group, oldest first.
func (impl *ServerImpl) AuditRecords(ctx context.Context, groupID uuid.UUID) ([]models.AuditRecord, error) {
	var records []models.AuditRecord
	err := impl.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("occurred_at").Order("id").
		Find(&records).Error
	return records, err
}
