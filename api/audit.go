package api

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	redisAdapter "chitfund/adapters/redis"
	"chitfund/chit"
	"chitfund/models"
)

// streamAuditor queues entries on the audit stream; the persist worker stores them.
type streamAuditor struct {
	producer redisAdapter.IProducer[chit.AuditEntry]
}

func (a streamAuditor) Record(_ context.Context, entry chit.AuditEntry) error {
	return a.producer.Publish(entry)
}

// dbAuditor stores entries synchronously, for deployments without Redis.
type dbAuditor struct {
	db *gorm.DB
}

func (a dbAuditor) Record(ctx context.Context, entry chit.AuditEntry) error {
	return persistAudit(ctx, a.db, toAuditRecord(entry))
}

func toAuditRecord(entry chit.AuditEntry) models.AuditRecord {
	return models.AuditRecord{
		Operation:  entry.Operation,
		Actor:      entry.Actor,
		GroupID:    entry.GroupID,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Before:     entry.Before,
		After:      entry.After,
		OccurredAt: entry.OccurredAt,
	}
}

// auditRecordID derives the record id from the stream entry, so a redelivered
// entry maps onto the row already written.
func auditRecordID(stream, messageID string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(stream+"/"+messageID))
}

func persistAudit(ctx context.Context, db *gorm.DB, record models.AuditRecord) error {
	const op = "persistAudit"
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&record)
	if result.Error != nil {
		return fmt.Errorf("[%s] Fail to store audit record, err=%w", op, result.Error)
	}
	return nil
}
