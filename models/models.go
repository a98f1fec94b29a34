package models

import (
	"github.com/google/uuid"
)

// MigrateModels lists every table owned by the engine, in dependency order.
var MigrateModels = []any{
	&Group{},
	&Member{},
	&Contribution{},
	&Auction{},
	&Bid{},
	&PayoutRecord{},
	&DividendCredit{},
	&AuditRecord{},
}

// NewID returns a time ordered identifier; ids created by one process sort in creation order.
func NewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
