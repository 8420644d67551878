package pmworker

import (
	"context"
	"log"
)

const (
	MessageSkipWaiting = "SKIP_WAITING"
	MessageGetVersion  = "GET_VERSION"
)

// OnMessage handles messages from foreground windows. reply may be nil when
// the sender did not provide a reply channel.
func (w *Worker) OnMessage(ctx context.Context, msg ClientMessage, reply func(any)) {
	switch msg.Type {
	case MessageSkipWaiting:
		if _, err := w.SkipWaiting(ctx); err != nil {
			log.Printf("message: skip waiting: %v", err)
		}
	case MessageGetVersion:
		if reply != nil {
			reply(map[string]string{"version": w.cfg.Version()})
		}
	default:
		log.Printf("message: ignoring %q", msg.Type)
	}
}

// Broadcast posts msg to every window this worker controls. Delivery is
// fire-and-forget; failures are logged.
func (w *Worker) Broadcast(ctx context.Context, msg ClientMessage) int {
	clients, err := w.clients.MatchAll(ctx)
	if err != nil {
		log.Printf("broadcast %s: match clients: %v", msg.Type, err)
		return 0
	}
	sent := 0
	for _, c := range clients {
		if !c.Controlled {
			continue
		}
		if err := w.clients.PostMessage(ctx, c.ID, msg); err != nil {
			log.Printf("broadcast %s: post to %s: %v", msg.Type, c.ID, err)
			continue
		}
		sent++
	}
	return sent
}
