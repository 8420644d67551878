package host

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"pmworker/internal/pmworker"
)

// inboxLimit bounds undelivered messages per window; the oldest are dropped.
const inboxLimit = 256

type window struct {
	client pmworker.Client
	seq    int
	inbox  []pmworker.ClientMessage
}

// Windows is an in-process registry of application windows. Foreground pages
// register themselves and poll their inbox for worker messages.
type Windows struct {
	mu      sync.Mutex
	byID    map[string]*window
	nextSeq int

	overflowLog *rateLimitedLogger
}

var _ pmworker.Clients = (*Windows)(nil)

func NewWindows() *Windows {
	return &Windows{
		byID:        map[string]*window{},
		overflowLog: newRateLimitedLogger(time.Minute),
	}
}

// Register adds a window and returns it with a fresh id.
func (ws *Windows) Register(url string, focused, controlled bool) pmworker.Client {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	c := pmworker.Client{ID: uuid.NewString(), URL: url, Controlled: controlled}
	ws.nextSeq++
	ws.byID[c.ID] = &window{client: c, seq: ws.nextSeq}
	if focused {
		ws.focusLocked(c.ID)
	}
	return ws.byID[c.ID].client
}

func (ws *Windows) Unregister(id string) bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	_, ok := ws.byID[id]
	delete(ws.byID, id)
	return ok
}

// MatchAll lists windows in registration order.
func (ws *Windows) MatchAll(context.Context) ([]pmworker.Client, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	all := make([]*window, 0, len(ws.byID))
	for _, w := range ws.byID {
		all = append(all, w)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	out := make([]pmworker.Client, len(all))
	for i, w := range all {
		out[i] = w.client
	}
	return out, nil
}

func (ws *Windows) Focus(_ context.Context, id string) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if _, ok := ws.byID[id]; !ok {
		return fmt.Errorf("window %s: %w", id, pmworker.ErrNotFound)
	}
	ws.focusLocked(id)
	return nil
}

func (ws *Windows) focusLocked(id string) {
	for wid, w := range ws.byID {
		w.client.Focused = wid == id
	}
}

// OpenWindow registers a focused window opened by the worker, which controls
// it from the start.
func (ws *Windows) OpenWindow(_ context.Context, url string) (pmworker.Client, error) {
	return ws.Register(url, true, true), nil
}

func (ws *Windows) PostMessage(_ context.Context, id string, msg pmworker.ClientMessage) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	w, ok := ws.byID[id]
	if !ok {
		return fmt.Errorf("window %s: %w", id, pmworker.ErrNotFound)
	}
	if len(w.inbox) >= inboxLimit {
		w.inbox = w.inbox[1:]
		ws.overflowLog.Printf("window %s inbox full, dropping oldest message", id)
	}
	w.inbox = append(w.inbox, msg)
	return nil
}

// Claim puts every open window under the worker's control.
func (ws *Windows) Claim(context.Context) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for _, w := range ws.byID {
		w.client.Controlled = true
	}
	return nil
}

// Drain returns and clears a window's pending messages.
func (ws *Windows) Drain(id string) ([]pmworker.ClientMessage, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	w, ok := ws.byID[id]
	if !ok {
		return nil, fmt.Errorf("window %s: %w", id, pmworker.ErrNotFound)
	}
	out := w.inbox
	w.inbox = nil
	if out == nil {
		out = []pmworker.ClientMessage{}
	}
	return out, nil
}
