package pmworker

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
)

type State int

const (
	StateParsed State = iota
	StateInstalling
	StateWaiting
	StateActive
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateWaiting:
		return "waiting"
	case StateActive:
		return "active"
	case StateRedundant:
		return "redundant"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

type shellEntry struct {
	key RequestKey
	ent Entry
}

// OnInstall populates the static store with the app shell. Every manifest
// entry is fetched before anything is written, so a failed install leaves the
// store untouched. A failed first install marks the worker redundant rather
// than waiting: it never activates, and the previous generation's stores keep
// answering fallbacks (see match).
//
// Installing an active worker only refreshes the shell; its state never
// moves backwards, and a failed refresh leaves it active. A redundant worker
// cannot be installed again.
func (w *Worker) OnInstall(ctx context.Context) error {
	w.mu.Lock()
	prev := w.state
	switch prev {
	case StateRedundant:
		w.mu.Unlock()
		return fmt.Errorf("%w: worker is redundant", ErrInstallFailed)
	case StateActive:
	default:
		w.state = StateInstalling
	}
	w.mu.Unlock()

	fetched := make([]shellEntry, 0, len(w.cfg.Cache.Manifest))
	for _, path := range w.cfg.Cache.Manifest {
		u := w.absURL(path)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return w.failInstall(prev, fmt.Errorf("%s: %w", path, err))
		}
		ent, err := w.fetchNetwork(req)
		if err != nil {
			return w.failInstall(prev, fmt.Errorf("%s: %w", path, err))
		}
		if !ent.OK() {
			return w.failInstall(prev, fmt.Errorf("%s: unexpected status %d", path, ent.Status))
		}
		fetched = append(fetched, shellEntry{key: RequestKey{Method: http.MethodGet, URL: u}, ent: ent})
	}

	static, err := w.caches.Open(ctx, w.cfg.StaticCacheName())
	if err != nil {
		return w.failInstall(prev, fmt.Errorf("open %s: %w", w.cfg.StaticCacheName(), err))
	}
	for _, f := range fetched {
		if err := static.Put(ctx, f.key, f.ent); err != nil {
			return w.failInstall(prev, fmt.Errorf("put %s: %w", f.key.URL, err))
		}
	}

	if prev != StateActive {
		w.setState(StateWaiting)
	}
	log.Printf("install: cached %d shell entries in %s", len(fetched), w.cfg.StaticCacheName())
	return nil
}

func (w *Worker) failInstall(prev State, err error) error {
	if prev != StateActive {
		w.setState(StateRedundant)
	}
	log.Printf("install: %v", err)
	return fmt.Errorf("%w: %w", ErrInstallFailed, err)
}

// OnActivate drops every cache generation under the namespace prefix other
// than the current static and dynamic stores, then claims open windows.
func (w *Worker) OnActivate(ctx context.Context) error {
	names, err := w.caches.Names(ctx)
	if err != nil {
		return fmt.Errorf("list caches: %w", err)
	}
	static, dynamic := w.cfg.StaticCacheName(), w.cfg.DynamicCacheName()
	for _, name := range names {
		if !strings.HasPrefix(name, w.cfg.Product.CachePrefix) || name == static || name == dynamic {
			continue
		}
		if _, err := w.caches.Delete(ctx, name); err != nil {
			return fmt.Errorf("delete cache %s: %w", name, err)
		}
		log.Printf("activate: deleted stale cache %s", name)
	}
	for _, name := range []string{static, dynamic} {
		if _, err := w.caches.Open(ctx, name); err != nil {
			return fmt.Errorf("open %s: %w", name, err)
		}
	}
	if err := w.clients.Claim(ctx); err != nil {
		log.Printf("activate: claim clients: %v", err)
	}
	w.setState(StateActive)
	return nil
}

// SkipWaiting activates a waiting worker immediately. It reports whether
// activation ran.
func (w *Worker) SkipWaiting(ctx context.Context) (bool, error) {
	if w.State() != StateWaiting {
		return false, nil
	}
	if err := w.OnActivate(ctx); err != nil {
		return false, err
	}
	return true, nil
}
