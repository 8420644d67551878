package pmworker

import (
	"context"
	"log"
	"net/url"
	"time"
)

const (
	MessageTaskAction         = "TASK_ACTION"
	MessageNotificationAction = "NOTIFICATION_ACTION"
)

// NotificationClick is a click on a notification body or one of its buttons.
type NotificationClick struct {
	Notification Notification `json:"notification"`
	Action       string       `json:"action,omitempty"`
}

// OnNotificationClick closes the notification and dispatches the action.
// The worker never changes task state itself; task actions are forwarded to
// the foreground.
func (w *Worker) OnNotificationClick(ctx context.Context, ev NotificationClick) {
	n := ev.Notification
	if err := w.notifier.Close(ctx, n.Tag); err != nil {
		log.Printf("notificationclick: close %q: %v", n.Tag, err)
	}

	action := ev.Action
	if action == "" {
		action = "view"
	}

	switch action {
	case "view", "view_task", "view_project":
		w.openOrFocus(ctx, targetURL(action, n))
	case "accept_task", "complete_task":
		w.openOrFocus(ctx, targetURL("view_task", n))
		w.Broadcast(ctx, ClientMessage{
			Type: MessageTaskAction,
			Payload: map[string]any{
				"action": action,
				"taskId": n.DataString("taskId"),
				"data":   n.Data,
			},
		})
	case "dismiss":
	default:
		w.Broadcast(ctx, ClientMessage{
			Type: MessageNotificationAction,
			Payload: map[string]any{
				"action": action,
				"data":   n.Data,
			},
		})
	}
}

// targetURL picks the navigation target for a view action, falling back to
// per-type default paths.
func targetURL(action string, n Notification) string {
	if u := n.DataString("url"); u != "" {
		return u
	}
	switch action {
	case "view_task":
		if id := n.DataString("taskId"); id != "" {
			return "/tasks/" + url.PathEscape(id)
		}
		return "/tasks"
	case "view_project":
		if id := n.DataString("projectId"); id != "" {
			return "/projects/" + url.PathEscape(id)
		}
		return "/projects"
	}
	return "/dashboard"
}

// openOrFocus focuses a window already showing target, or opens a new one.
func (w *Worker) openOrFocus(ctx context.Context, target string) {
	abs := w.absURL(target)
	clients, err := w.clients.MatchAll(ctx)
	if err != nil {
		log.Printf("notificationclick: match clients: %v", err)
	}
	for _, c := range clients {
		if c.URL == abs {
			if err := w.clients.Focus(ctx, c.ID); err != nil {
				log.Printf("notificationclick: focus %s: %v", c.ID, err)
			}
			return
		}
	}
	if _, err := w.clients.OpenWindow(ctx, abs); err != nil {
		log.Printf("notificationclick: open %s: %v", abs, err)
	}
}

// OnNotificationClose reports a dismissal when the notification asked for it.
// The beacon is detached; Close waits for it.
func (w *Worker) OnNotificationClose(ctx context.Context, n Notification) {
	if !n.DataBool("trackDismissal") {
		return
	}
	payload := map[string]any{
		"notificationId": n.DataString("id"),
		"category":       n.DataString("category"),
		"timestamp":      time.Now().UnixMilli(),
	}
	target := w.absURL(w.cfg.Analytics.DismissPath)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.beacon.Send(context.WithoutCancel(ctx), target, payload)
	}()
}
