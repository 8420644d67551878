package pmworker

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"strconv"
)

const (
	PriorityUrgent = "urgent"
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"

	DefaultNotificationBody = "You have a new notification"
	DefaultNotificationTag  = "default"
)

var vibrationPatterns = map[string][]int{
	PriorityUrgent: {300, 100, 300, 100, 300},
	PriorityHigh:   {200, 100, 200},
	PriorityNormal: {100, 50},
	PriorityLow:    {},
}

var categoryActions = map[string][]NotificationAction{
	"task_assigned": {
		{Action: "view_task", Title: "View Task", Icon: "/icons/view.png"},
		{Action: "accept_task", Title: "Accept", Icon: "/icons/accept.png"},
		{Action: "dismiss", Title: "Dismiss", Icon: "/icons/dismiss.png"},
	},
	"task_reminder": {
		{Action: "view_task", Title: "View Task", Icon: "/icons/view.png"},
		{Action: "complete_task", Title: "Mark Complete", Icon: "/icons/complete.png"},
		{Action: "dismiss", Title: "Dismiss", Icon: "/icons/dismiss.png"},
	},
	"project_update": {
		{Action: "view_project", Title: "View Project", Icon: "/icons/view.png"},
		{Action: "dismiss", Title: "Dismiss", Icon: "/icons/dismiss.png"},
	},
}

var genericActions = []NotificationAction{
	{Action: "view", Title: "View", Icon: "/icons/view.png"},
	{Action: "dismiss", Title: "Dismiss", Icon: "/icons/dismiss.png"},
}

// pushPayload is the JSON object sent by the backend, read field by field.
// Category may arrive as "category" or "type". Numeric ids are stringified;
// fields of any other unexpected type are ignored.
type pushPayload struct {
	ID       string
	Title    string
	Body     string
	Icon     string
	Badge    string
	Tag      string
	URL      string
	Priority string
	Category string
	Type     string
	Data     map[string]any
	Actions  []NotificationAction
}

// VibrationPattern returns the pattern for a priority; unknown priorities
// vibrate like normal ones.
func VibrationPattern(priority string) []int {
	p, ok := vibrationPatterns[priority]
	if !ok {
		p = vibrationPatterns[PriorityNormal]
	}
	return append([]int{}, p...)
}

// DefaultActions returns the action buttons for a category.
func DefaultActions(category string) []NotificationAction {
	acts, ok := categoryActions[category]
	if !ok {
		acts = genericActions
	}
	return append([]NotificationAction(nil), acts...)
}

// BuildNotification derives the descriptor for a push payload. Payloads that
// are not a JSON object become the body text.
func (w *Worker) BuildNotification(payload []byte) Notification {
	n := Notification{
		Title: w.cfg.Product.Name,
		Body:  DefaultNotificationBody,
		Icon:  w.cfg.Product.Icon,
		Badge: w.cfg.Product.Badge,
		Tag:   DefaultNotificationTag,
		Data:  map[string]any{},
	}

	p, ok := parsePushPayload(payload)
	if !ok {
		if text := plainText(payload); text != "" {
			n.Body = text
		}
		n.Vibrate = VibrationPattern(PriorityNormal)
		n.Actions = DefaultActions("")
		return n
	}

	if p.Title != "" {
		n.Title = p.Title
	}
	if p.Body != "" {
		n.Body = p.Body
	}
	if p.Icon != "" {
		n.Icon = p.Icon
	}
	if p.Badge != "" {
		n.Badge = p.Badge
	}
	if p.Tag != "" {
		n.Tag = p.Tag
	}
	for k, v := range p.Data {
		n.Data[k] = v
	}

	category := p.Category
	if category == "" {
		category = p.Type
	}
	if category == "" {
		category, _ = n.Data["category"].(string)
	}
	priority := p.Priority
	if priority == "" {
		priority, _ = n.Data["priority"].(string)
	}
	if priority == "" {
		priority = PriorityNormal
	}

	if category != "" {
		n.Data["category"] = category
	}
	n.Data["priority"] = priority
	if p.URL != "" {
		n.Data["url"] = p.URL
	}
	if p.ID != "" {
		n.Data["id"] = p.ID
	}

	n.RequireInteraction = priority == PriorityUrgent || priority == PriorityHigh
	n.Silent = priority == PriorityLow
	n.Vibrate = VibrationPattern(priority)
	if len(p.Actions) > 0 {
		n.Actions = append([]NotificationAction(nil), p.Actions...)
	} else {
		n.Actions = DefaultActions(category)
	}
	return n
}

func parsePushPayload(b []byte) (pushPayload, bool) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		return pushPayload{}, false
	}
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return pushPayload{}, false
	}
	p := pushPayload{
		ID:       idString(raw["id"]),
		Title:    stringField(raw["title"]),
		Body:     stringField(raw["body"]),
		Icon:     stringField(raw["icon"]),
		Badge:    stringField(raw["badge"]),
		Tag:      stringField(raw["tag"]),
		URL:      stringField(raw["url"]),
		Priority: stringField(raw["priority"]),
		Category: stringField(raw["category"]),
		Type:     stringField(raw["type"]),
		Actions:  parseActions(raw["actions"]),
	}
	if data, ok := raw["data"].(map[string]any); ok {
		p.Data = make(map[string]any, len(data))
		for k, v := range data {
			p.Data[k] = plainNumbers(v)
		}
		if id, ok := p.Data["taskId"]; ok {
			if s := idString(id); s != "" {
				p.Data["taskId"] = s
			}
		}
	}
	return p, true
}

func stringField(v any) string {
	s, _ := v.(string)
	return s
}

func idString(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// plainNumbers turns json.Number leaves back into float64, the type the rest
// of the package expects in notification data.
func plainNumbers(v any) any {
	switch v := v.(type) {
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case map[string]any:
		for k, e := range v {
			v[k] = plainNumbers(e)
		}
		return v
	case []any:
		for i, e := range v {
			v[i] = plainNumbers(e)
		}
		return v
	}
	return v
}

func parseActions(v any) []NotificationAction {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []NotificationAction
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		a := NotificationAction{Action: stringField(m["action"]), Title: stringField(m["title"]), Icon: stringField(m["icon"])}
		if a.Action == "" {
			continue
		}
		out = append(out, a)
	}
	return out
}

func plainText(b []byte) string {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return s
	}
	return string(b)
}

// OnPush renders the notification for payload. Render failures are logged.
func (w *Worker) OnPush(ctx context.Context, payload []byte) Notification {
	n := w.BuildNotification(payload)
	if err := w.notifier.Show(ctx, n); err != nil {
		log.Printf("push: show %q: %v", n.Tag, err)
	}
	return n
}
