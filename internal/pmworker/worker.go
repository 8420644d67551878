package pmworker

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// Deps are the collaborators a Worker talks to. Caches, Queue and HTTP are
// required; the rest default to no-ops.
type Deps struct {
	Caches   CacheStorage
	Queue    ActionQueue
	HTTP     Doer
	Clients  Clients
	Notifier Notifier
	Beacon   Beacon
}

type Worker struct {
	cfg Config

	caches   CacheStorage
	queue    ActionQueue
	http     Doer
	clients  Clients
	notifier Notifier
	beacon   Beacon

	mu    sync.Mutex
	state State

	// detached best-effort work (beacons); Close waits for it
	wg sync.WaitGroup
}

var _ Handlers = (*Worker)(nil)

func New(cfg Config, deps Deps) (*Worker, error) {
	if deps.Caches == nil {
		return nil, fmt.Errorf("cache storage is required")
	}
	if deps.Queue == nil {
		return nil, fmt.Errorf("action queue is required")
	}
	if deps.HTTP == nil {
		deps.HTTP = &http.Client{Timeout: 30 * time.Second}
	}
	if deps.Clients == nil {
		deps.Clients = noClients{}
	}
	if deps.Notifier == nil {
		deps.Notifier = logNotifier{}
	}
	if deps.Beacon == nil {
		deps.Beacon = noBeacon{}
	}
	return &Worker{
		cfg:      cfg,
		caches:   deps.Caches,
		queue:    deps.Queue,
		http:     deps.HTTP,
		clients:  deps.Clients,
		notifier: deps.Notifier,
		beacon:   deps.Beacon,
		state:    StateParsed,
	}, nil
}

func (w *Worker) Config() Config { return w.cfg }

// Close waits for detached side effects to finish.
func (w *Worker) Close() {
	w.wg.Wait()
}

// absURL resolves an origin-relative path.
func (w *Worker) absURL(path string) string {
	if len(path) > 0 && path[0] != '/' {
		return path
	}
	return w.cfg.Server.Origin + path
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
}
