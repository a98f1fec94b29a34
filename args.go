package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"chitfund/api"
	"chitfund/chit"
)

func ParseArgs() (Args, error) {
	// server config
	pflag.String("server-url", "0.0.0.0:8080", "")
	pflag.String("instance-id", "", "name of this instance in the audit consumer group, defaults to the hostname")
	pflag.String("log-level", "info", "debug, info, warn or error")
	pflag.String("log-format", "text", "text or json")

	// db config
	pflag.String("db-driver", api.DriverPostgres, "postgres or sqlite")
	pflag.String("db-user", "", "")
	pflag.String("db-password", "", "")
	pflag.String("db-host", "", "")
	pflag.Int("db-port", 5432, "")
	pflag.String("db-database", "", "")
	pflag.String("db-schema", "", "")
	pflag.String("db-path", "chitfund.db", "sqlite file")

	// redis config, optional
	pflag.String("redis-addr", "", "")
	pflag.String("redis-password", "", "")
	pflag.Int("redis-db", 15, "")
	pflag.String("redis-key-prefix", "chit:", "")
	pflag.String("redis-consumer-group", "chit-audit", "")
	pflag.Duration("redis-event-ttl", 24*time.Hour, "how long a published event key is remembered")

	// redis stream keys
	pflag.String("redis-stream-key-for-events", "chit-shared-event-stream", "")
	pflag.String("redis-stream-key-for-audit", "chit-audit-stream", "")

	// engine config
	pflag.String("commission-rate", chit.DefaultCommissionRate.String(), "operator commission as a fraction of the chit value")
	pflag.Int("min-members", chit.DefaultMinMembers, "default minimum members to activate a group")
	pflag.String("lock-backend", api.LockBackendLocal, "local or redis")
	pflag.Duration("lock-expiry", 8*time.Second, "redis lock expiry, renewed while held")

	// bind pflag to viper
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("CHIT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	rate, err := decimal.NewFromString(viper.GetString("commission-rate"))
	if err != nil {
		return Args{}, fmt.Errorf("invalid commission-rate: %w", err)
	}

	// initial arguments
	return Args{
		ServerURL: viper.GetString("server-url"),
		LogLevel:  viper.GetString("log-level"),
		LogFormat: viper.GetString("log-format"),
		ServerConfig: api.ServerConfig{
			ID: viper.GetString("instance-id"),
			DB: api.DBConfig{
				Driver:   viper.GetString("db-driver"),
				User:     viper.GetString("db-user"),
				Password: viper.GetString("db-password"),
				Host:     viper.GetString("db-host"),
				Port:     viper.GetInt("db-port"),
				Database: viper.GetString("db-database"),
				Schema:   viper.GetString("db-schema"),
				Path:     viper.GetString("db-path"),
			},
			Redis: api.RedisConfig{
				Addr:          viper.GetString("redis-addr"),
				Password:      viper.GetString("redis-password"),
				DB:            viper.GetInt("redis-db"),
				KeyPrefix:     viper.GetString("redis-key-prefix"),
				ConsumerGroup: viper.GetString("redis-consumer-group"),
				EventTTL:      viper.GetDuration("redis-event-ttl"),
				StreamKeys: api.RedisStreamKeys{
					Events: viper.GetString("redis-stream-key-for-events"),
					Audit:  viper.GetString("redis-stream-key-for-audit"),
				},
			},
			Engine: api.EngineConfig{
				CommissionRate: rate,
				MinMembers:     viper.GetInt("min-members"),
				LockBackend:    viper.GetString("lock-backend"),
				LockExpiry:     viper.GetDuration("lock-expiry"),
			},
		},
	}, nil
}

type Args struct {
	ServerURL    string
	LogLevel     string
	LogFormat    string
	ServerConfig api.ServerConfig
}

func (args Args) Validate() error {
	var errs []error
	if args.ServerURL == "" {
		errs = append(errs, errors.New("server-url is required"))
	}

	db := args.ServerConfig.DB
	switch db.Driver {
	case api.DriverPostgres:
		if db.Host == "" || db.Database == "" || db.User == "" {
			errs = append(errs, errors.New("db-host, db-database and db-user are required for postgres"))
		}
	case api.DriverSQLite:
		if db.Path == "" {
			errs = append(errs, errors.New("db-path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown db-driver %q", db.Driver))
	}

	redis := args.ServerConfig.Redis
	if redis.Enabled() {
		if redis.StreamKeys.Events == "" || redis.StreamKeys.Audit == "" || redis.ConsumerGroup == "" {
			errs = append(errs, errors.New("redis stream keys and consumer group are required with redis-addr"))
		}
		if args.ServerConfig.ID == "" {
			errs = append(errs, errors.New("instance-id is required with redis-addr"))
		}
	}

	engine := args.ServerConfig.Engine
	switch engine.LockBackend {
	case api.LockBackendLocal:
	case api.LockBackendRedis:
		if !redis.Enabled() {
			errs = append(errs, errors.New("lock-backend redis needs redis-addr"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown lock-backend %q", engine.LockBackend))
	}
	if engine.CommissionRate.IsNegative() || engine.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Errorf("commission-rate %s must be in [0, 1)", engine.CommissionRate))
	}

	return errors.Join(errs...)
}
