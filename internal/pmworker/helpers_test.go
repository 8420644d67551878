package pmworker_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"pmworker/internal/pmworker"
	"pmworker/internal/queue"
)

const origin = "http://app.test"

var errOffline = errors.New("dial tcp: network is unreachable")

type route struct {
	status int
	body   string
	header http.Header
	err    error
}

// fakeNet is a Doer answering from a table keyed by "METHOD URL".
type fakeNet struct {
	mu      sync.Mutex
	routes  map[string]route
	offline bool
	calls   []string
	bodies  []string
}

func newFakeNet() *fakeNet { return &fakeNet{routes: map[string]route{}} }

func (n *fakeNet) set(method, url string, status int, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes[method+" "+url] = route{status: status, body: body}
}

func (n *fakeNet) fail(method, url string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes[method+" "+url] = route{err: errOffline}
}

func (n *fakeNet) goOffline() {
	n.mu.Lock()
	n.offline = true
	n.mu.Unlock()
}

func (n *fakeNet) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func (n *fakeNet) Do(r *http.Request) (*http.Response, error) {
	key := r.Method + " " + r.URL.String()
	var body string
	if r.Body != nil {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, key)
	n.bodies = append(n.bodies, body)
	if n.offline {
		return nil, errOffline
	}
	rt, ok := n.routes[key]
	if !ok {
		rt = route{status: http.StatusNotFound, body: "not found"}
	}
	if rt.err != nil {
		return nil, rt.err
	}
	h := rt.header
	if h == nil {
		h = make(http.Header)
	}
	return &http.Response{
		StatusCode: rt.status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(rt.body)),
		Request:    r,
	}, nil
}

type fakeClients struct {
	mu       sync.Mutex
	windows  []pmworker.Client
	focused  []string
	opened   []string
	messages map[string][]pmworker.ClientMessage
	claimed  bool
}

func newFakeClients(windows ...pmworker.Client) *fakeClients {
	return &fakeClients{windows: windows, messages: map[string][]pmworker.ClientMessage{}}
}

func (c *fakeClients) MatchAll(context.Context) ([]pmworker.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]pmworker.Client(nil), c.windows...), nil
}

func (c *fakeClients) Focus(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.focused = append(c.focused, id)
	return nil
}

func (c *fakeClients) OpenWindow(_ context.Context, url string) (pmworker.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened = append(c.opened, url)
	w := pmworker.Client{ID: fmt.Sprintf("w%d", len(c.windows)+1), URL: url, Controlled: true}
	c.windows = append(c.windows, w)
	return w, nil
}

func (c *fakeClients) PostMessage(_ context.Context, id string, msg pmworker.ClientMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages[id] = append(c.messages[id], msg)
	return nil
}

func (c *fakeClients) Claim(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.claimed = true
	for i := range c.windows {
		c.windows[i].Controlled = true
	}
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	shown  []pmworker.Notification
	closed []string
}

func (f *fakeNotifier) Show(_ context.Context, n pmworker.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shown = append(f.shown, n)
	return nil
}

func (f *fakeNotifier) Close(_ context.Context, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, tag)
	return nil
}

type beaconCall struct {
	url     string
	payload any
}

type fakeBeacon struct {
	mu    sync.Mutex
	calls []beaconCall
}

func (b *fakeBeacon) Send(_ context.Context, url string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, beaconCall{url: url, payload: payload})
}

type harness struct {
	w        *pmworker.Worker
	cfg      pmworker.Config
	net      *fakeNet
	caches   *pmworker.MemoryCacheStorage
	queue    *queue.Memory
	clients  *fakeClients
	notifier *fakeNotifier
	beacon   *fakeBeacon
}

func newHarness(t *testing.T, tweak func(*pmworker.Config)) *harness {
	t.Helper()
	cfg := pmworker.DefaultConfig(origin)
	if tweak != nil {
		tweak(&cfg)
	}
	h := &harness{
		cfg:      cfg,
		net:      newFakeNet(),
		caches:   pmworker.NewMemoryCacheStorage(),
		queue:    queue.NewMemory(),
		clients:  newFakeClients(),
		notifier: &fakeNotifier{},
		beacon:   &fakeBeacon{},
	}
	w, err := pmworker.New(cfg, pmworker.Deps{
		Caches:   h.caches,
		Queue:    h.queue,
		HTTP:     h.net,
		Clients:  h.clients,
		Notifier: h.notifier,
		Beacon:   h.beacon,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(w.Close)
	h.w = w
	return h
}

func (h *harness) get(t *testing.T, path string) (pmworker.Result, error) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, origin+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	return h.w.OnFetch(context.Background(), req)
}

func (h *harness) cacheEntries(t *testing.T, name string) map[string]pmworker.Entry {
	t.Helper()
	ctx := context.Background()
	c, err := h.caches.Open(ctx, name)
	if err != nil {
		t.Fatal(err)
	}
	keys, err := c.Keys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	out := map[string]pmworker.Entry{}
	for _, k := range keys {
		ent, _, _ := c.Match(ctx, k)
		out[k.URL] = ent
	}
	return out
}
