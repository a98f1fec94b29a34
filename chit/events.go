package chit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventGroupActivated   EventType = "group.activated"
	EventAuctionOpened    EventType = "auction.opened"
	EventBidSubmitted     EventType = "bid.submitted"
	EventAuctionClosed    EventType = "auction.closed"
	EventAuctionNoBids    EventType = "auction.no_bids"
	EventAuctionCancelled EventType = "auction.cancelled"
	EventPayoutFinalized  EventType = "payout.finalized"
	EventCycleAdvanced    EventType = "cycle.advanced"
	EventGroupCompleted   EventType = "group.completed"
	EventGroupClosed      EventType = "group.closed"
	EventGroupCancelled   EventType = "group.cancelled"
)

// Event is published after a transition commits. Fields that do not apply to the
// event type are left zero.
type Event struct {
	Type       EventType `json:"type" msgpack:"type"`
	GroupID    uuid.UUID `json:"groupId" msgpack:"group_id"`
	Cycle      int       `json:"cycle" msgpack:"cycle"`
	AuctionID  uuid.UUID `json:"auctionId" msgpack:"auction_id"`
	MemberID   uuid.UUID `json:"memberId" msgpack:"member_id"`
	Amount     int64     `json:"amount" msgpack:"amount"`
	Commission int64     `json:"commission" msgpack:"commission"`
	Dividend   int64     `json:"dividend" msgpack:"dividend"`
	Seq        int64     `json:"seq" msgpack:"seq"`
	OccurredAt time.Time `json:"occurredAt" msgpack:"occurred_at"`
}

// Key identifies the event for de-duplication; a retried transition yields the same key.
// auction.no_bids changes no state, so every rejected close attempt is keyed by its time.
func (ev Event) Key() string {
	key := fmt.Sprintf("%s:%s:%d:%s:%s:%d", ev.Type, ev.GroupID, ev.Cycle, ev.AuctionID, ev.MemberID, ev.Seq)
	if ev.Type == EventAuctionNoBids {
		key += ":" + strconv.FormatInt(ev.OccurredAt.UnixNano(), 10)
	}
	return key
}

// Notifier receives engine events for downstream display and notification.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// AuditEntry is the immutable trace of one successful state transition.
type AuditEntry struct {
	Operation  string    `json:"operation" msgpack:"operation"`
	Actor      string    `json:"actor" msgpack:"actor"`
	GroupID    uuid.UUID `json:"groupId" msgpack:"group_id"`
	EntityType string    `json:"entityType" msgpack:"entity_type"`
	EntityID   uuid.UUID `json:"entityId" msgpack:"entity_id"`
	Before     string    `json:"before" msgpack:"before"`
	After      string    `json:"after" msgpack:"after"`
	OccurredAt time.Time `json:"occurredAt" msgpack:"occurred_at"`
}

// Auditor receives an AuditEntry for every committed transition.
type Auditor interface {
	Record(ctx context.Context, entry AuditEntry) error
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) error { return nil }

// LogAuditor writes audit entries to a structured logger.
type LogAuditor struct {
	Logger *slog.Logger
}

func (a LogAuditor) Record(ctx context.Context, entry AuditEntry) error {
	a.Logger.LogAttrs(ctx, slog.LevelInfo, "audit",
		slog.String("operation", entry.Operation),
		slog.String("actor", entry.Actor),
		slog.String("groupID", entry.GroupID.String()),
		slog.String("entity", entry.EntityType),
		slog.String("entityID", entry.EntityID.String()),
		slog.String("before", entry.Before),
		slog.String("after", entry.After),
	)
	return nil
}

type ctxKey string

const actorKey ctxKey = "chit_actor"

// SystemActor is recorded when the caller did not name an actor.
const SystemActor = "system"

// WithActor attaches the acting user or service to ctx for audit entries.
func WithActor(ctx context.Context, actor string) context.Context {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey, actor)
}

func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return SystemActor
	}
	if v, ok := ctx.Value(actorKey).(string); ok {
		return v
	}
	return SystemActor
}
