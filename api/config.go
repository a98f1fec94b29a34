package api

import (
	"time"

	"github.com/shopspring/decimal"
)

type ServerConfig struct {
	// ID names this instance inside the Redis consumer group.
	ID     string
	DB     DBConfig
	Redis  RedisConfig
	Engine EngineConfig
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type DBConfig struct {
	Driver   string
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string
	// Path is the SQLite file, or ":memory:".
	Path string
}

// RedisConfig is optional; with an empty Addr the server runs single-node, with
// in-process locks, local event fan-out and direct audit writes.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	KeyPrefix     string
	ConsumerGroup string
	// EventTTL is how long an event key is remembered for de-duplication.
	EventTTL time.Duration

	StreamKeys RedisStreamKeys
}

type RedisStreamKeys struct {
	Events string
	Audit  string
}

const (
	LockBackendLocal = "local"
	LockBackendRedis = "redis"
)

type EngineConfig struct {
	CommissionRate decimal.Decimal
	MinMembers     int
	LockBackend    string
	LockExpiry     time.Duration
}

func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}
