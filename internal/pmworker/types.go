package pmworker

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// Entry is a stored or fetched response.
type Entry struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt int64 // unix seconds
	Hash32   uint32
}

// OK reports whether the response status is 2xx.
func (e Entry) OK() bool { return e.Status >= 200 && e.Status < 300 }

// RequestKey identifies a cached request. Only GET requests are ever stored.
type RequestKey struct {
	Method string
	URL    string
}

func (k RequestKey) String() string { return k.Method + " " + k.URL }

// ParseRequestKey is the inverse of RequestKey.String.
func ParseRequestKey(s string) (RequestKey, bool) {
	method, u, ok := strings.Cut(s, " ")
	if !ok || method == "" || u == "" {
		return RequestKey{}, false
	}
	return RequestKey{Method: method, URL: u}, true
}

// OfflineAction is a mutating request recorded by the foreground while
// offline and replayed by background sync.
type OfflineAction struct {
	ID        string            `json:"id"`
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      string            `json:"body,omitempty"`
	CreatedAt int64             `json:"createdAt"`
	Attempts  int               `json:"attempts,omitempty"`
}

// NotificationAction is one button on a rendered notification.
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Notification is the fully resolved descriptor handed to the renderer.
type Notification struct {
	Title              string               `json:"title"`
	Body               string               `json:"body"`
	Icon               string               `json:"icon"`
	Badge              string               `json:"badge"`
	Tag                string               `json:"tag"`
	Data               map[string]any       `json:"data"`
	Actions            []NotificationAction `json:"actions"`
	RequireInteraction bool                 `json:"requireInteraction"`
	Silent             bool                 `json:"silent"`
	Vibrate            []int                `json:"vibrate"`
}

// DataString returns data[key] when it is a non-empty string or a number.
func (n Notification) DataString(key string) string {
	switch v := n.Data[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// DataBool returns data[key] when it is a bool.
func (n Notification) DataBool(key string) bool {
	v, _ := n.Data[key].(bool)
	return v
}

// ClientMessage is a {type, ...payload} message posted to foreground windows.
type ClientMessage struct {
	Type    string
	Payload map[string]any
}

func (m ClientMessage) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Payload)+1)
	for k, v := range m.Payload {
		out[k] = v
	}
	out["type"] = m.Type
	return json.Marshal(out)
}

func (m *ClientMessage) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	m.Type, _ = raw["type"].(string)
	delete(raw, "type")
	m.Payload = raw
	return nil
}

// Client is an open application window.
type Client struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	Focused    bool   `json:"focused"`
	Controlled bool   `json:"controlled"`
}
