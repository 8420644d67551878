// Package queue implements the durable offline-action queue on several
// backends. All of them return actions in enqueue order.
package queue

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"pmworker/internal/pmworker"
)

// Queue is an action queue that owns resources.
type Queue interface {
	pmworker.ActionQueue
	pmworker.AttemptRecorder
	Close() error
}

// Open builds the queue selected by queue.backend.
func Open(ctx context.Context, cfg pmworker.Config) (Queue, error) {
	switch strings.ToLower(cfg.Queue.Backend) {
	case "memory":
		return NewMemory(), nil
	case "leveldb":
		path := cfg.Queue.DSN
		if path == "" {
			path = filepath.Join(cfg.Storage.Dir, "queue")
		}
		return OpenLevelDB(path)
	case "sqlite":
		path := cfg.Queue.DSN
		if path == "" {
			path = filepath.Join(cfg.Storage.Dir, "queue.db")
		}
		return OpenSQLite(path)
	case "redis":
		if cfg.Queue.DSN == "" {
			return nil, fmt.Errorf("queue.dsn is required for the redis backend")
		}
		return OpenRedis(ctx, cfg.Queue.DSN, cfg.Product.CachePrefix)
	}
	return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
}

// prepare validates a and fills the id, method and timestamp.
func prepare(a pmworker.OfflineAction) (pmworker.OfflineAction, error) {
	if strings.TrimSpace(a.URL) == "" {
		return a, fmt.Errorf("offline action: url is required")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Method = strings.ToUpper(strings.TrimSpace(a.Method))
	if a.Method == "" {
		a.Method = http.MethodPost
	}
	if a.CreatedAt == 0 {
		a.CreatedAt = time.Now().UnixMilli()
	}
	return a, nil
}
