package host_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pmworker/internal/host"
	"pmworker/internal/pmworker"
	"pmworker/internal/queue"
)

// origin is a fake application backend that records mutating requests.
type origin struct {
	srv *httptest.Server

	mu       sync.Mutex
	mutating []string
	beacons  []map[string]any
}

func newOrigin(t *testing.T) *origin {
	t.Helper()
	o := &origin{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<html>shell</html>")
	})
	mux.HandleFunc("GET /projects/{id}", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<html>project "+r.PathValue("id")+"</html>")
	})
	mux.HandleFunc("GET /static/app.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/javascript")
		io.WriteString(w, "console.log(1)")
	})
	mux.HandleFunc("GET /api/v1/organizations/{org}/analytics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"velocity":12}`)
	})
	mux.HandleFunc("PATCH /api/v1/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		o.mu.Lock()
		o.mutating = append(o.mutating, r.Method+" "+r.URL.Path+" "+string(b))
		o.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/analytics/notification-dismissed", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		o.mu.Lock()
		o.beacons = append(o.beacons, body)
		o.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<?xml version="1.0"?>
<sitemapindex><sitemap><loc>/sitemap-pages.xml.gz</loc></sitemap></sitemapindex>`)
	})
	mux.HandleFunc("GET /sitemap-pages.xml.gz", func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		io.WriteString(gz, `<urlset>
  <url><loc>`+o.srv.URL+`/projects/1</loc></url>
  <url><loc> /projects/2 </loc></url>
  <url><loc>/static/app.js</loc></url>
  <url><loc>/api/v1/organizations/1/analytics</loc></url>
  <url><loc>https://elsewhere.test/projects/3</loc></url>
</urlset>`)
		gz.Close()
		w.Write(buf.Bytes())
	})
	o.srv = httptest.NewServer(mux)
	t.Cleanup(o.srv.Close)
	return o
}

type fixture struct {
	origin  *origin
	worker  *pmworker.Worker
	server  *host.Server
	proxy   *httptest.Server
	queue   *queue.Memory
	caches  *pmworker.MemoryCacheStorage
	windows *host.Windows
	tray    *host.Tray
}

func newFixture(t *testing.T, tweak func(*pmworker.Config)) *fixture {
	t.Helper()
	o := newOrigin(t)
	cfg := pmworker.DefaultConfig(o.srv.URL)
	cfg.Cache.Manifest = []string{"/", "/static/app.js"}
	if tweak != nil {
		tweak(&cfg)
	}

	f := &fixture{
		origin:  o,
		queue:   queue.NewMemory(),
		windows: host.NewWindows(),
		tray:    host.NewTray(),
	}
	caches := pmworker.NewMemoryCacheStorage()
	f.caches = caches
	w, err := pmworker.New(cfg, pmworker.Deps{
		Caches:   caches,
		Queue:    f.queue,
		HTTP:     o.srv.Client(),
		Clients:  f.windows,
		Notifier: f.tray,
		Beacon:   host.NewHTTPBeacon(o.srv.Client()),
	})
	if err != nil {
		t.Fatal(err)
	}
	f.worker = w
	f.server = host.New(w, host.Options{
		Queue:   f.queue,
		Caches:  caches,
		Windows: f.windows,
		Tray:    f.tray,
		HTTP:    o.srv.Client(),
	})
	f.proxy = httptest.NewServer(f.server.Handler())
	t.Cleanup(func() {
		f.proxy.Close()
		f.server.Close()
		w.Close()
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, string) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.proxy.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := f.proxy.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, string(b)
}

func (f *fixture) mustStatus(t *testing.T, method, path, body string, want int) string {
	t.Helper()
	resp, out := f.do(t, method, path, body)
	if resp.StatusCode != want {
		t.Fatalf("%s %s = %d, want %d: %s", method, path, resp.StatusCode, want, out)
	}
	return out
}

func (f *fixture) installAndActivate(t *testing.T) {
	t.Helper()
	f.mustStatus(t, "POST", "/__worker/install", "", http.StatusOK)
	f.mustStatus(t, "POST", "/__worker/activate", "", http.StatusOK)
}

func TestProxy_NetworkThenCacheWhenOriginDown(t *testing.T) {
	f := newFixture(t, nil)
	f.installAndActivate(t)

	resp, body := f.do(t, "GET", "/projects/7", "")
	if resp.StatusCode != 200 || body != "<html>project 7</html>" {
		t.Fatalf("online page = %d %q", resp.StatusCode, body)
	}
	if got := resp.Header.Get("X-Worker"); got != pmworker.SourceNetwork {
		t.Errorf("X-Worker = %q", got)
	}
	if got := resp.Header.Get("Access-Control-Expose-Headers"); got != "X-Worker" {
		t.Errorf("expose header = %q", got)
	}
	f.do(t, "GET", "/api/v1/organizations/1/analytics", "")

	f.origin.srv.Close()

	resp, body = f.do(t, "GET", "/projects/7", "")
	if resp.StatusCode != 200 || body != "<html>project 7</html>" || resp.Header.Get("X-Worker") != pmworker.SourceCache {
		t.Errorf("offline visited page = %d %q %s", resp.StatusCode, body, resp.Header.Get("X-Worker"))
	}
	resp, body = f.do(t, "GET", "/projects/99", "")
	if resp.StatusCode != 200 || body != "<html>shell</html>" {
		t.Errorf("offline unvisited page = %d %q", resp.StatusCode, body)
	}
	resp, body = f.do(t, "GET", "/static/app.js", "")
	if body != "console.log(1)" || resp.Header.Get("X-Worker") != pmworker.SourceCache {
		t.Errorf("offline asset = %q %s", body, resp.Header.Get("X-Worker"))
	}
	resp, body = f.do(t, "GET", "/api/v1/organizations/1/analytics", "")
	if body != `{"velocity":12}` {
		t.Errorf("offline cached api = %d %q", resp.StatusCode, body)
	}
	resp, body = f.do(t, "GET", "/api/v1/organizations/2/analytics", "")
	if resp.StatusCode != http.StatusServiceUnavailable || body != pmworker.OfflineBody || resp.Header.Get("X-Worker") != pmworker.SourceOffline {
		t.Errorf("offline critical api = %d %q", resp.StatusCode, body)
	}
	resp, _ = f.do(t, "GET", "/api/v1/notifications", "")
	if resp.StatusCode != http.StatusBadGateway || resp.Header.Get("X-Worker") != "bad-gateway" {
		t.Errorf("offline non-critical api = %d %s", resp.StatusCode, resp.Header.Get("X-Worker"))
	}
}

func TestControl_InstallActivateState(t *testing.T) {
	f := newFixture(t, nil)

	var st struct {
		State   string `json:"state"`
		Version string `json:"version"`
		Queued  int    `json:"queued"`
	}
	out := f.mustStatus(t, "GET", "/__worker/state", "", http.StatusOK)
	if err := json.Unmarshal([]byte(out), &st); err != nil || st.State != "parsed" || st.Queued != 0 {
		t.Fatalf("state = %s (%v)", out, err)
	}

	out = f.mustStatus(t, "POST", "/__worker/install", "", http.StatusOK)
	json.Unmarshal([]byte(out), &st)
	if st.State != "waiting" {
		t.Errorf("after install = %s", out)
	}
	out = f.mustStatus(t, "POST", "/__worker/activate", "", http.StatusOK)
	json.Unmarshal([]byte(out), &st)
	if st.State != "active" || st.Version != "projecthub-v1.0.0" {
		t.Errorf("after activate = %s", out)
	}
}

func TestControl_ReinstallKeepsActive(t *testing.T) {
	f := newFixture(t, nil)
	f.installAndActivate(t)

	out := f.mustStatus(t, "POST", "/__worker/install", "", http.StatusOK)
	if !strings.Contains(out, `"state":"active"`) {
		t.Fatalf("reinstall = %s", out)
	}
	out = f.mustStatus(t, "POST", "/__worker/clients", `{"url":"`+f.origin.srv.URL+`/projects/1"}`, http.StatusCreated)
	var win pmworker.Client
	if err := json.Unmarshal([]byte(out), &win); err != nil || !win.Controlled {
		t.Errorf("window after reinstall = %s", out)
	}
}

func TestControl_InstallFailure(t *testing.T) {
	f := newFixture(t, func(cfg *pmworker.Config) {
		cfg.Cache.Manifest = []string{"/", "/missing.css"}
	})
	out := f.mustStatus(t, "POST", "/__worker/install", "", http.StatusInternalServerError)
	if !strings.Contains(out, "install failed") {
		t.Errorf("body = %s", out)
	}
	if f.worker.State() != pmworker.StateRedundant {
		t.Errorf("state = %s", f.worker.State())
	}
}

func TestControl_QueueAndSync(t *testing.T) {
	f := newFixture(t, nil)
	f.mustStatus(t, "POST", "/__worker/queue", `{"url":"/api/v1/tasks/5","method":"PATCH","body":"{\"status\":\"done\"}"}`, http.StatusCreated)
	f.mustStatus(t, "POST", "/__worker/queue", `{"method":"PATCH"}`, http.StatusBadRequest)

	out := f.mustStatus(t, "POST", "/__worker/sync", "", http.StatusOK)
	var rep struct {
		Tag      string `json:"tag"`
		Replayed int    `json:"replayed"`
	}
	if err := json.Unmarshal([]byte(out), &rep); err != nil || rep.Replayed != 1 || rep.Tag != pmworker.DefaultSyncTag {
		t.Fatalf("sync = %s", out)
	}
	f.origin.mu.Lock()
	got := append([]string(nil), f.origin.mutating...)
	f.origin.mu.Unlock()
	if len(got) != 1 || got[0] != `PATCH /api/v1/tasks/5 {"status":"done"}` {
		t.Errorf("origin saw %v", got)
	}
	if left, _ := f.queue.List(context.Background()); len(left) != 0 {
		t.Errorf("queue len = %d", len(left))
	}

	out = f.mustStatus(t, "POST", "/__worker/sync?tag=other", "", http.StatusOK)
	if !strings.Contains(out, `"pending":0`) {
		t.Errorf("foreign tag sync = %s", out)
	}
}

func TestControl_PushClickAndMessages(t *testing.T) {
	f := newFixture(t, nil)
	f.installAndActivate(t)

	out := f.mustStatus(t, "POST", "/__worker/clients", `{"url":"`+f.origin.srv.URL+`/tasks/77","focused":false}`, http.StatusCreated)
	var win pmworker.Client
	if err := json.Unmarshal([]byte(out), &win); err != nil || !win.Controlled {
		t.Fatalf("register = %s", out)
	}

	out = f.mustStatus(t, "POST", "/__worker/push",
		`{"title":"Task assigned","tag":"task-77","category":"task_assigned","data":{"taskId":"77"}}`, http.StatusOK)
	var n pmworker.Notification
	if err := json.Unmarshal([]byte(out), &n); err != nil || len(n.Actions) != 3 {
		t.Fatalf("push = %s", out)
	}
	out = f.mustStatus(t, "GET", "/__worker/notifications", "", http.StatusOK)
	if !strings.Contains(out, `"tag":"task-77"`) {
		t.Errorf("tray = %s", out)
	}

	f.mustStatus(t, "POST", "/__worker/notificationclick", `{"tag":"task-77","action":"accept_task"}`, http.StatusNoContent)
	f.mustStatus(t, "POST", "/__worker/notificationclick", `{"tag":"task-77"}`, http.StatusNotFound)

	out = f.mustStatus(t, "GET", "/__worker/clients/"+win.ID+"/messages", "", http.StatusOK)
	var msgs []pmworker.ClientMessage
	if err := json.Unmarshal([]byte(out), &msgs); err != nil || len(msgs) != 1 {
		t.Fatalf("messages = %s", out)
	}
	if msgs[0].Type != pmworker.MessageTaskAction || msgs[0].Payload["taskId"] != "77" {
		t.Errorf("message = %+v", msgs[0])
	}
	clients, _ := f.windows.MatchAll(context.Background())
	if len(clients) != 1 || !clients[0].Focused {
		t.Errorf("window not focused: %+v", clients)
	}

	out = f.mustStatus(t, "POST", "/__worker/message", `{"type":"GET_VERSION"}`, http.StatusOK)
	if !strings.Contains(out, `"version":"projecthub-v1.0.0"`) {
		t.Errorf("GET_VERSION = %s", out)
	}
	f.mustStatus(t, "POST", "/__worker/message", `{"type":"SKIP_WAITING"}`, http.StatusNoContent)
	f.mustStatus(t, "POST", "/__worker/message", `{}`, http.StatusBadRequest)
	f.mustStatus(t, "DELETE", "/__worker/clients/"+win.ID, "", http.StatusNoContent)
	f.mustStatus(t, "GET", "/__worker/clients/"+win.ID+"/messages", "", http.StatusNotFound)
}

func TestControl_DismissSendsBeacon(t *testing.T) {
	f := newFixture(t, nil)
	f.mustStatus(t, "POST", "/__worker/push", `{"id":"n-9","tag":"t","category":"project_update","data":{"trackDismissal":true}}`, http.StatusOK)
	f.mustStatus(t, "POST", "/__worker/notificationclose", `{"tag":"t"}`, http.StatusNoContent)
	f.worker.Close()

	f.origin.mu.Lock()
	defer f.origin.mu.Unlock()
	if len(f.origin.beacons) != 1 {
		t.Fatalf("beacons = %v", f.origin.beacons)
	}
	b := f.origin.beacons[0]
	if b["notificationId"] != "n-9" || b["category"] != "project_update" {
		t.Errorf("beacon = %v", b)
	}
	if len(f.tray.List()) != 0 {
		t.Error("dismissed notification still displayed")
	}
}

func TestPrefetch_FromSitemap(t *testing.T) {
	f := newFixture(t, func(cfg *pmworker.Config) {
		cfg.Prefetch.Sitemaps = []string{"/sitemap.xml"}
	})
	f.installAndActivate(t)

	deadline := time.Now().Add(5 * time.Second)
	for {
		_, cached := f.cached(t, "/projects/2")
		if cached {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("sitemap pages never prefetched")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if _, ok := f.cached(t, "/projects/1"); !ok {
		t.Error("/projects/1 not prefetched")
	}
	if _, ok := f.cached(t, "/api/v1/organizations/1/analytics"); ok {
		t.Error("api path prefetched")
	}
}

// cached looks path up in the current dynamic store.
func (f *fixture) cached(t *testing.T, path string) (pmworker.Entry, bool) {
	t.Helper()
	ctx := context.Background()
	cfg := f.worker.Config()
	c, err := f.caches.Open(ctx, cfg.DynamicCacheName())
	if err != nil {
		t.Fatal(err)
	}
	ent, ok, err := c.Match(ctx, pmworker.RequestKey{Method: http.MethodGet, URL: cfg.Server.Origin + path})
	if err != nil {
		t.Fatal(err)
	}
	return ent, ok
}
