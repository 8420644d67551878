package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pmworker/internal/pmworker"
)

// Storage is a cache storage that owns resources.
type Storage interface {
	pmworker.CacheStorage
	Close() error
}

type memoryStorage struct {
	*pmworker.MemoryCacheStorage
}

func (memoryStorage) Close() error { return nil }

// Open builds the cache storage selected by storage.backend.
func Open(cfg pmworker.Config) (Storage, error) {
	switch strings.ToLower(cfg.Storage.Backend) {
	case "memory":
		return memoryStorage{pmworker.NewMemoryCacheStorage()}, nil
	case "leveldb":
		if err := os.MkdirAll(cfg.Storage.Dir, 0o755); err != nil {
			return nil, err
		}
		s, err := OpenLevelDB(filepath.Join(cfg.Storage.Dir, "caches"), cfg.WriteBufferBytes())
		if err != nil {
			return nil, fmt.Errorf("open cache storage: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}
