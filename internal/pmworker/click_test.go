package pmworker_test

import (
	"context"
	"testing"

	"pmworker/internal/pmworker"
)

func taskNotification() pmworker.Notification {
	return pmworker.Notification{
		Tag:  "task-77",
		Data: map[string]any{"taskId": "77", "category": "task_assigned", "id": "n-1"},
	}
}

func TestClick_ViewTaskOpensWindow(t *testing.T) {
	h := newHarness(t, nil)
	h.w.OnNotificationClick(context.Background(), pmworker.NotificationClick{
		Notification: taskNotification(),
		Action:       "view_task",
	})

	if len(h.notifier.closed) != 1 || h.notifier.closed[0] != "task-77" {
		t.Errorf("closed = %v", h.notifier.closed)
	}
	if len(h.clients.opened) != 1 || h.clients.opened[0] != origin+"/tasks/77" {
		t.Errorf("opened = %v", h.clients.opened)
	}
}

func TestClick_FocusesExistingWindow(t *testing.T) {
	h := newHarness(t, nil)
	h.clients.windows = []pmworker.Client{
		{ID: "a", URL: origin + "/dashboard", Controlled: true},
		{ID: "b", URL: origin + "/projects/5", Controlled: true},
	}
	h.w.OnNotificationClick(context.Background(), pmworker.NotificationClick{
		Notification: pmworker.Notification{Tag: "p", Data: map[string]any{"projectId": 5.0}},
		Action:       "view_project",
	})

	if len(h.clients.focused) != 1 || h.clients.focused[0] != "b" {
		t.Errorf("focused = %v", h.clients.focused)
	}
	if len(h.clients.opened) != 0 {
		t.Errorf("opened = %v, want none", h.clients.opened)
	}
}

func TestClick_BodyClickUsesURLOrDashboard(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.w.OnNotificationClick(ctx, pmworker.NotificationClick{Notification: pmworker.Notification{Tag: "x"}})
	h.w.OnNotificationClick(ctx, pmworker.NotificationClick{
		Notification: pmworker.Notification{Tag: "y", Data: map[string]any{"url": "/projects/9/board"}},
	})

	want := []string{origin + "/dashboard", origin + "/projects/9/board"}
	if len(h.clients.opened) != 2 || h.clients.opened[0] != want[0] || h.clients.opened[1] != want[1] {
		t.Errorf("opened = %v, want %v", h.clients.opened, want)
	}
}

func TestClick_AcceptTaskBroadcasts(t *testing.T) {
	h := newHarness(t, nil)
	h.clients.windows = []pmworker.Client{
		{ID: "a", URL: origin + "/tasks/77", Controlled: true},
		{ID: "b", URL: origin + "/settings", Controlled: false},
	}
	h.w.OnNotificationClick(context.Background(), pmworker.NotificationClick{
		Notification: taskNotification(),
		Action:       "accept_task",
	})

	msgs := h.clients.messages["a"]
	if len(msgs) != 1 {
		t.Fatalf("messages to a = %+v", msgs)
	}
	if msgs[0].Type != pmworker.MessageTaskAction || msgs[0].Payload["action"] != "accept_task" || msgs[0].Payload["taskId"] != "77" {
		t.Errorf("message = %+v", msgs[0])
	}
	if len(h.clients.messages["b"]) != 0 {
		t.Error("uncontrolled window received a broadcast")
	}
	if len(h.clients.focused) != 1 || h.clients.focused[0] != "a" {
		t.Errorf("focused = %v", h.clients.focused)
	}
}

func TestClick_UnknownActionForwarded(t *testing.T) {
	h := newHarness(t, nil)
	h.clients.windows = []pmworker.Client{{ID: "a", URL: origin + "/", Controlled: true}}
	h.w.OnNotificationClick(context.Background(), pmworker.NotificationClick{
		Notification: taskNotification(),
		Action:       "snooze",
	})

	msgs := h.clients.messages["a"]
	if len(msgs) != 1 || msgs[0].Type != pmworker.MessageNotificationAction || msgs[0].Payload["action"] != "snooze" {
		t.Errorf("messages = %+v", msgs)
	}
	if len(h.clients.opened)+len(h.clients.focused) != 0 {
		t.Error("unknown action navigated")
	}
}

func TestClick_DismissOnlyCloses(t *testing.T) {
	h := newHarness(t, nil)
	h.clients.windows = []pmworker.Client{{ID: "a", URL: origin + "/", Controlled: true}}
	h.w.OnNotificationClick(context.Background(), pmworker.NotificationClick{
		Notification: taskNotification(),
		Action:       "dismiss",
	})

	if len(h.notifier.closed) != 1 {
		t.Errorf("closed = %v", h.notifier.closed)
	}
	if len(h.clients.opened)+len(h.clients.focused)+len(h.clients.messages) != 0 {
		t.Error("dismiss had side effects")
	}
}

func TestClose_TrackedDismissalSendsBeacon(t *testing.T) {
	h := newHarness(t, nil)
	n := taskNotification()
	n.Data["trackDismissal"] = true

	h.w.OnNotificationClose(context.Background(), n)
	h.w.Close()

	if len(h.beacon.calls) != 1 {
		t.Fatalf("beacon calls = %d, want 1", len(h.beacon.calls))
	}
	call := h.beacon.calls[0]
	if call.url != origin+pmworker.DefaultDismissPath {
		t.Errorf("beacon url = %s", call.url)
	}
	body, ok := call.payload.(map[string]any)
	if !ok {
		t.Fatalf("payload type %T", call.payload)
	}
	if body["notificationId"] != "n-1" || body["category"] != "task_assigned" {
		t.Errorf("payload = %v", body)
	}
	if ts, _ := body["timestamp"].(int64); ts <= 0 {
		t.Errorf("timestamp = %v", body["timestamp"])
	}
}

func TestClose_UntrackedIsSilent(t *testing.T) {
	h := newHarness(t, nil)
	h.w.OnNotificationClose(context.Background(), taskNotification())
	h.w.Close()
	if len(h.beacon.calls) != 0 {
		t.Errorf("beacon calls = %d, want 0", len(h.beacon.calls))
	}
}
