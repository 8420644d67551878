package host

import (
	"context"
	"log"
	"sync"

	"pmworker/internal/pmworker"
)

// Tray holds the notifications currently on screen. A notification replaces
// any displayed one with the same tag.
type Tray struct {
	mu    sync.Mutex
	order []string
	byTag map[string]pmworker.Notification
}

var _ pmworker.Notifier = (*Tray)(nil)

func NewTray() *Tray {
	return &Tray{byTag: map[string]pmworker.Notification{}}
}

func (t *Tray) Show(_ context.Context, n pmworker.Notification) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byTag[n.Tag]; ok {
		t.removeLocked(n.Tag)
	}
	t.byTag[n.Tag] = n
	t.order = append(t.order, n.Tag)
	log.Printf("notification: show tag=%q title=%q", n.Tag, n.Title)
	return nil
}

func (t *Tray) Close(_ context.Context, tag string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byTag[tag]; ok {
		t.removeLocked(tag)
		delete(t.byTag, tag)
	}
	return nil
}

func (t *Tray) removeLocked(tag string) {
	for i, cur := range t.order {
		if cur == tag {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}

// Get returns the displayed notification for tag.
func (t *Tray) Get(tag string) (pmworker.Notification, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.byTag[tag]
	return n, ok
}

// List returns displayed notifications, oldest first.
func (t *Tray) List() []pmworker.Notification {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]pmworker.Notification, 0, len(t.order))
	for _, tag := range t.order {
		out = append(out, t.byTag[tag])
	}
	return out
}
