// Package chit implements the chit-group engine: membership, the contribution ledger,
// the per-cycle reverse auction and its payout split, and the group lifecycle.
//
// Every mutating operation holds the group's single-writer lock and runs in one
// database transaction. Events and audit entries are released only after commit.
package chit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"chitfund/models"
)

// DefaultCommissionRate is the operator's cut of every pot unless configured otherwise.
var DefaultCommissionRate = decimal.RequireFromString("0.05")

// DefaultMinMembers is the activation minimum for groups that do not set one. Fewer
// than two members leave nobody to share the dividend.
const DefaultMinMembers = 2

type engineOptions struct {
	locker         Locker
	notifier       Notifier
	auditor        Auditor
	logger         *slog.Logger
	clock          func() time.Time
	commissionRate decimal.Decimal
	minMembers     int
	registry       prometheus.Registerer
}

type Option func(*engineOptions)

// WithLocker sets the group lock; the default is an in-process LocalLocker.
func WithLocker(locker Locker) Option {
	return func(o *engineOptions) {
		o.locker = locker
	}
}

// WithNotifier sets where committed events go; the default drops them.
func WithNotifier(notifier Notifier) Option {
	return func(o *engineOptions) {
		o.notifier = notifier
	}
}

// WithAuditor sets where audit entries go; the default logs them.
func WithAuditor(auditor Auditor) Option {
	return func(o *engineOptions) {
		o.auditor = auditor
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// WithClock replaces time.Now; the open/close window checks and all timestamps use it.
func WithClock(clock func() time.Time) Option {
	return func(o *engineOptions) {
		o.clock = clock
	}
}

// WithCommissionRate sets the fraction of the chit value retained every cycle.
func WithCommissionRate(rate decimal.Decimal) Option {
	return func(o *engineOptions) {
		o.commissionRate = rate
	}
}

// WithMinMembers sets the default activation minimum for groups that do not set one.
func WithMinMembers(n int) Option {
	return func(o *engineOptions) {
		o.minMembers = n
	}
}

// WithPrometheusRegisterer registers the engine metrics with registry.
func WithPrometheusRegisterer(registry prometheus.Registerer) Option {
	return func(o *engineOptions) {
		o.registry = registry
	}
}

// Engine runs every chit group operation. Each mutation holds the group lock and one
// database transaction; events and audit entries go out after commit.
type Engine struct {
	db         *gorm.DB
	locker     Locker
	notifier   Notifier
	auditor    Auditor
	calculator PayoutCalculator
	metrics    *engineMetrics
	logger     *slog.Logger
	now        func() time.Time
	options    engineOptions
}

// New builds an Engine over db. It does not migrate; call Migrate for that.
func New(db *gorm.DB, opts ...Option) (*Engine, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}

	options := engineOptions{
		logger:         slog.Default(),
		clock:          time.Now,
		commissionRate: DefaultCommissionRate,
		minMembers:     DefaultMinMembers,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.locker == nil {
		options.locker = NewLocalLocker()
	}
	if options.notifier == nil {
		options.notifier = NopNotifier{}
	}
	if options.auditor == nil {
		options.auditor = LogAuditor{Logger: options.logger.With(slog.String("caller", "Audit"))}
	}
	if options.minMembers < 2 {
		return nil, fmt.Errorf("min members must be at least 2, got %d: %w", options.minMembers, ErrInvalidArgument)
	}
	calculator, err := NewPayoutCalculator(options.commissionRate)
	if err != nil {
		return nil, err
	}

	return &Engine{
		db:         db,
		locker:     options.locker,
		notifier:   options.notifier,
		auditor:    options.auditor,
		calculator: calculator,
		metrics:    newEngineMetrics(options.registry),
		logger:     options.logger.With(slog.String("caller", "Engine")),
		now:        options.clock,
		options:    options,
	}, nil
}

// Migrate creates or updates the engine tables.
func (e *Engine) Migrate(ctx context.Context) error {
	if err := e.db.WithContext(ctx).AutoMigrate(models.MigrateModels...); err != nil {
		return fmt.Errorf("Migrate: %w", err)
	}
	return nil
}

// Calculator returns the payout calculator configured for this engine.
func (e *Engine) Calculator() PayoutCalculator {
	return e.calculator
}

// txn carries one transaction plus the effects released once it commits.
type txn struct {
	tx     *gorm.DB
	now    time.Time
	actor  string
	events []Event
	audits []AuditEntry
}

func (t *txn) emit(ev Event) {
	ev.OccurredAt = t.now
	t.events = append(t.events, ev)
}

func (t *txn) audit(operation string, groupID uuid.UUID, entityType string, entityID uuid.UUID, before, after string) {
	t.audits = append(t.audits, AuditEntry{
		Operation:  operation,
		Actor:      t.actor,
		GroupID:    groupID,
		EntityType: entityType,
		EntityID:   entityID,
		Before:     before,
		After:      after,
		OccurredAt: t.now,
	})
}

// transition runs fn under the group lock inside one transaction. Nothing fn wrote is
// visible unless it returns nil.
func (e *Engine) transition(ctx context.Context, operation string, groupID uuid.UUID, fn func(t *txn) error) error {
	unlock, err := e.locker.Lock(ctx, groupLockKey(groupID))
	if err != nil {
		e.metrics.observe(operation, err)
		return fmt.Errorf("acquire group lock: %w", err)
	}
	defer unlock()

	t := &txn{
		now:   e.timestamp(),
		actor: ActorFromContext(ctx),
	}
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t.tx = tx
		return fn(t)
	})
	e.metrics.observe(operation, err)
	if err != nil {
		return err
	}
	e.release(ctx, t)
	return nil
}

// release hands committed effects to the collaborators. Their failures are logged: the
// transition has already happened and is not undone.
func (e *Engine) release(ctx context.Context, t *txn) {
	ctx = context.WithoutCancel(ctx)
	for _, entry := range t.audits {
		if err := e.auditor.Record(ctx, entry); err != nil {
			e.logger.Error("Fail to record audit entry", slog.String("operation", entry.Operation), slog.Any("error", err))
		}
	}
	for _, ev := range t.events {
		e.notify(ctx, ev)
	}
}

func (e *Engine) notify(ctx context.Context, ev Event) {
	if err := e.notifier.Notify(ctx, ev); err != nil {
		e.logger.Error("Fail to notify event", slog.String("type", string(ev.Type)), slog.String("groupID", ev.GroupID.String()), slog.Any("error", err))
	}
}

// timestamp truncates to microseconds so values survive a round trip through Postgres.
func (e *Engine) timestamp() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}

func translate(err error, notFound string) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", notFound, ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrConcurrentModification, err)
	default:
		return err
	}
}

func loadGroup(tx *gorm.DB, id uuid.UUID) (*models.Group, error) {
	var group models.Group
	if err := tx.First(&group, "id = ?", id).Error; err != nil {
		return nil, translate(err, "group "+id.String())
	}
	return &group, nil
}

func loadMember(tx *gorm.DB, id uuid.UUID) (*models.Member, error) {
	var member models.Member
	if err := tx.First(&member, "id = ?", id).Error; err != nil {
		return nil, translate(err, "member "+id.String())
	}
	return &member, nil
}

func loadAuction(tx *gorm.DB, id uuid.UUID) (*models.Auction, error) {
	var auction models.Auction
	if err := tx.First(&auction, "id = ?", id).Error; err != nil {
		return nil, translate(err, "auction "+id.String())
	}
	return &auction, nil
}

func loadContribution(tx *gorm.DB, id uuid.UUID) (*models.Contribution, error) {
	var contribution models.Contribution
	if err := tx.First(&contribution, "id = ?", id).Error; err != nil {
		return nil, translate(err, "contribution "+id.String())
	}
	return &contribution, nil
}

// saveGroup writes every column, guarded by the version read earlier in the transaction.
func saveGroup(tx *gorm.DB, group *models.Group) error {
	previous := group.Version
	group.Version++
	result := tx.Model(group).Where("version = ?", previous).Select("*").Omit(clause.Associations).Updates(group)
	if result.Error != nil {
		group.Version = previous
		return translate(result.Error, "group "+group.ID.String())
	}
	if result.RowsAffected == 0 {
		group.Version = previous
		return fmt.Errorf("group %s: %w", group.ID, ErrConcurrentModification)
	}
	return nil
}

func saveAuction(tx *gorm.DB, auction *models.Auction) error {
	previous := auction.Version
	auction.Version++
	result := tx.Model(auction).Where("version = ?", previous).Select("*").Omit(clause.Associations).Updates(auction)
	if result.Error != nil {
		auction.Version = previous
		return translate(result.Error, "auction "+auction.ID.String())
	}
	if result.RowsAffected == 0 {
		auction.Version = previous
		return fmt.Errorf("auction %s: %w", auction.ID, ErrConcurrentModification)
	}
	return nil
}
