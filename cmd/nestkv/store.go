package main

import (
	"fmt"
	"os"

	"nestkv/internal/config"
	"nestkv/internal/store"
	boltstore "nestkv/internal/store/bolt"
	"nestkv/internal/store/memory"
	sqlitestore "nestkv/internal/store/sqlite"
)

// openStore opens the backend named in cfg, creating the data directory for
// the persistent ones.
func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.Storage.Backend == config.BackendMemory {
		return memory.New(), nil
	}
	if err := os.MkdirAll(config.ExpandHome(cfg.Storage.DataDir), 0700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	path := cfg.StorePath()
	logger.Info("opening store", "backend", cfg.Storage.Backend, "path", path)
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		return sqlitestore.Open(path)
	case config.BackendBolt:
		return boltstore.Open(path)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Storage.Backend)
	}
}
