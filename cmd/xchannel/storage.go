package main

import (
	"context"
	"fmt"

	"github.com/trickstertwo/xchannel"
	"github.com/trickstertwo/xchannel/adapter/memory"
	"github.com/trickstertwo/xchannel/adapter/redisstream"
	"github.com/trickstertwo/xchannel/adapter/sqlstore"
	"github.com/trickstertwo/xchannel/config"
)

// newDependencies wires the statistics store, id sequence and archive of the
// configured backend. The returned func releases backend connections.
func newDependencies(ctx context.Context, cfg *config.EngineConfig) (xchannel.Dependencies, func() error, error) {
	noop := func() error { return nil }
	deps := xchannel.Dependencies{ServerID: cfg.ServerID}

	switch cfg.Storage {
	case config.StorageMemory:
		deps.Store = memory.NewStatisticsStore()
		deps.IDs = memory.NewSequence()
		deps.Archiver = memory.NewArchiver(0)
		return deps, noop, nil

	case config.StorageRedis:
		rc := redisstream.Defaults()
		rc.Addr = cfg.Redis.Addr
		rc.Username = cfg.Redis.Username
		rc.Password = cfg.Redis.Password
		rc.DB = cfg.Redis.DB
		rc.TLS = cfg.Redis.TLS
		client, err := redisstream.NewClient(rc)
		if err != nil {
			return deps, noop, fmt.Errorf("storage redis: %w", err)
		}
		deps.Store = redisstream.NewStatisticsStore(client)
		deps.IDs = redisstream.NewSequence(client)
		deps.Archiver = redisstream.NewArchiver(client, cfg.Redis.ArchivePrefix, cfg.Redis.ArchiveMaxLen)
		if cfg.Redis.EventStream != "" {
			deps.Observers = append(deps.Observers, redisstream.NewEventPublisher(client, cfg.Redis.EventStream))
		}
		return deps, client.Close, nil

	case config.StorageSQL:
		store, err := sqlstore.Open(ctx, cfg.SQL.Dialect, cfg.SQL.DSN)
		if err != nil {
			return deps, noop, fmt.Errorf("storage sql: %w", err)
		}
		if cfg.SQL.Migrate {
			if err := store.Migrate(ctx); err != nil {
				_ = store.Close()
				return deps, noop, fmt.Errorf("storage sql: %w", err)
			}
		}
		deps.Store = store
		deps.IDs = store
		deps.Archiver = store
		return deps, store.Close, nil
	}
	return deps, noop, fmt.Errorf("unknown storage %q", cfg.Storage)
}
