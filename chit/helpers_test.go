package chit

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"chitfund/models"
)

var testStart = time.Date(2026, time.January, 1, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Notify(_ context.Context, ev Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) types() []EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	types := make([]EventType, 0, len(n.events))
	for _, ev := range n.events {
		types = append(types, ev.Type)
	}
	return types
}

type recordingAuditor struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (a *recordingAuditor) Record(_ context.Context, entry AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *recordingAuditor) operations() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ops := make([]string, 0, len(a.entries))
	for _, entry := range a.entries {
		ops = append(ops, entry.Operation)
	}
	return ops
}

type testEnv struct {
	engine   *Engine
	db       *gorm.DB
	clock    *testClock
	notifier *recordingNotifier
	auditor  *recordingAuditor
}

func openTestDB(t *testing.T) (*gorm.DB, func()) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Discard,
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// Every connection to :memory: is its own database.
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models.MigrateModels...))

	return db, func() {
		sqlDB.Close()
	}
}

func setupEngine(t *testing.T, opts ...Option) (*testEnv, func()) {
	t.Helper()

	db, cleanup := openTestDB(t)
	env := &testEnv{
		db:       db,
		clock:    &testClock{now: testStart},
		notifier: &recordingNotifier{},
		auditor:  &recordingAuditor{},
	}
	opts = append([]Option{
		WithClock(env.clock.Now),
		WithNotifier(env.notifier),
		WithAuditor(env.auditor),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)

	engine, err := New(db, opts...)
	require.NoError(t, err)
	env.engine = engine
	return env, cleanup
}

// pendingGroup creates a group with members enrolled but not activated.
func (env *testEnv) pendingGroup(t *testing.T, chitValue int64, maxMembers, enrolled int) (*models.Group, []*models.Member) {
	t.Helper()
	ctx := context.Background()

	group, err := env.engine.CreateGroup(ctx, GroupParams{
		Name:       "Group",
		ChitValue:  chitValue,
		MaxMembers: maxMembers,
	})
	require.NoError(t, err)

	members := make([]*models.Member, 0, enrolled)
	for range_i := 0; range_i < enrolled; range_i++ {
		member, err := env.engine.Enroll(ctx, group.ID, uuid.New())
		require.NoError(t, err)
		members = append(members, member)
	}
	return group, members
}

// activeGroup returns an active group in cycle 1 with every seat filled.
func (env *testEnv) activeGroup(t *testing.T, chitValue int64, maxMembers int) (*models.Group, []*models.Member) {
	t.Helper()

	group, members := env.pendingGroup(t, chitValue, maxMembers, maxMembers)
	group, err := env.engine.ActivateGroup(context.Background(), group.ID)
	require.NoError(t, err)
	return group, members
}

func (env *testEnv) fund(t *testing.T, group *models.Group, members []*models.Member) {
	t.Helper()

	for _, member := range members {
		_, err := env.engine.RecordContribution(context.Background(), member.ID, group.CurrentCycle, group.Installment)
		require.NoError(t, err)
	}
}

// openAuction schedules and opens the auction of the group's current cycle. The clock
// is left inside the bidding window.
func (env *testEnv) openAuction(t *testing.T, group *models.Group) *models.Auction {
	t.Helper()
	ctx := context.Background()

	now := env.clock.Now()
	auction, err := env.engine.ScheduleAuction(ctx, group.ID, group.CurrentCycle, now.Add(time.Hour), now.Add(2*time.Hour))
	require.NoError(t, err)
	env.clock.Advance(time.Hour)
	auction, err = env.engine.OpenAuction(ctx, auction.ID)
	require.NoError(t, err)
	return auction
}

// pastClose moves the clock beyond the auction's close time.
func (env *testEnv) pastClose(auction *models.Auction) {
	env.clock.Advance(auction.CloseAt.Sub(env.clock.Now()) + time.Minute)
}

// runCycle plays one full cycle: fund, auction, winning bid by winner, close, finalize.
func (env *testEnv) runCycle(t *testing.T, group *models.Group, members []*models.Member, winner *models.Member, bid int64) *models.PayoutRecord {
	t.Helper()
	ctx := context.Background()

	env.fund(t, group, members)
	auction := env.openAuction(t, group)
	_, err := env.engine.SubmitBid(ctx, auction.ID, winner.ID, bid)
	require.NoError(t, err)
	env.pastClose(auction)
	_, err = env.engine.CloseAuction(ctx, auction.ID)
	require.NoError(t, err)
	record, err := env.engine.FinalizeAuction(ctx, auction.ID)
	require.NoError(t, err)
	return record
}
