package main

import (
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"chitfund/api"
	"chitfund/chit"
)

func validArgs() Args {
	return Args{
		ServerURL: "0.0.0.0:8080",
		ServerConfig: api.ServerConfig{
			ID: "node-1",
			DB: api.DBConfig{Driver: api.DriverSQLite, Path: ":memory:"},
			Engine: api.EngineConfig{
				CommissionRate: chit.DefaultCommissionRate,
				LockBackend:    api.LockBackendLocal,
			},
		},
	}
}

func TestArgs_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Args)
		wantErr bool
	}{
		{name: "sqlite single node", modify: func(*Args) {}},
		{name: "postgres without host", modify: func(a *Args) {
			a.ServerConfig.DB = api.DBConfig{Driver: api.DriverPostgres, User: "chit", Database: "chit"}
		}, wantErr: true},
		{name: "postgres", modify: func(a *Args) {
			a.ServerConfig.DB = api.DBConfig{Driver: api.DriverPostgres, Host: "db", User: "chit", Database: "chit"}
		}},
		{name: "unknown driver", modify: func(a *Args) { a.ServerConfig.DB.Driver = "mysql" }, wantErr: true},
		{name: "redis lock without redis", modify: func(a *Args) {
			a.ServerConfig.Engine.LockBackend = api.LockBackendRedis
		}, wantErr: true},
		{name: "redis without streams", modify: func(a *Args) {
			a.ServerConfig.Redis.Addr = "localhost:6379"
		}, wantErr: true},
		{name: "redis", modify: func(a *Args) {
			a.ServerConfig.Redis = api.RedisConfig{
				Addr:          "localhost:6379",
				ConsumerGroup: "chit-audit",
				StreamKeys:    api.RedisStreamKeys{Events: "events", Audit: "audit"},
			}
			a.ServerConfig.Engine.LockBackend = api.LockBackendRedis
		}},
		{name: "commission rate of one", modify: func(a *Args) {
			a.ServerConfig.Engine.CommissionRate = decimal.NewFromInt(1)
		}, wantErr: true},
		{name: "missing server url", modify: func(a *Args) { a.ServerURL = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := validArgs()
			tt.modify(&args)
			err := args.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}
