package pmworker

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Response sources, reported to the host.
const (
	SourceNetwork     = "network"
	SourceCache       = "cache"
	SourceOffline     = "offline"
	SourcePassThrough = "passthrough"
)

// OfflineBody is the synthetic response for critical API paths when neither
// network nor cache can answer.
const OfflineBody = `{"success": false, "error": {"code": "OFFLINE", "message": "You are currently offline. Some features may not be available."}, "offline": true}`

type Result struct {
	Entry    Entry
	Source   string
	Strategy Strategy
}

// OnFetch routes r and runs the chosen strategy. An error means neither the
// network nor any fallback produced a response.
func (w *Worker) OnFetch(ctx context.Context, r *http.Request) (Result, error) {
	r = r.WithContext(ctx)
	strategy := w.Route(r.Method, r.URL)

	var (
		ent    Entry
		source string
		err    error
	)
	switch strategy {
	case NetworkFirstAPI:
		ent, source, err = w.networkFirstAPI(ctx, r)
	case CacheFirst:
		ent, source, err = w.cacheFirst(ctx, r)
	case NetworkFirstPage:
		ent, source, err = w.networkFirstPage(ctx, r)
	default:
		ent, source, err = w.passThrough(r)
	}
	if err != nil {
		return Result{Strategy: strategy}, err
	}
	return Result{Entry: ent, Source: source, Strategy: strategy}, nil
}

func (w *Worker) passThrough(r *http.Request) (Entry, string, error) {
	var body []byte
	if r.Body != nil {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return Entry{}, "", fmt.Errorf("read request body: %w", err)
		}
		body = b
	}
	req, err := outboundRequest(r, body)
	if err != nil {
		return Entry{}, "", err
	}
	ent, err := w.fetchNetwork(req)
	if err != nil {
		return Entry{}, "", err
	}
	return ent, SourcePassThrough, nil
}

func (w *Worker) networkFirstAPI(ctx context.Context, r *http.Request) (Entry, string, error) {
	key := requestKey(r)
	ent, netErr := w.fetchGET(r)
	if netErr == nil {
		if ent.OK() && w.cfg.isCacheableAPI(r.URL.Path) {
			w.put(ctx, w.cfg.DynamicCacheName(), key, ent)
		}
		return ent, SourceNetwork, nil
	}

	if cached, ok := w.match(ctx, key); ok {
		return cached, SourceCache, nil
	}
	if w.cfg.isCriticalPath(r.URL.Path) {
		return offlineEntry(), SourceOffline, nil
	}
	return Entry{}, "", netErr
}

func (w *Worker) cacheFirst(ctx context.Context, r *http.Request) (Entry, string, error) {
	key := requestKey(r)
	if cached, ok := w.match(ctx, key); ok {
		return cached, SourceCache, nil
	}
	ent, err := w.fetchGET(r)
	if err != nil {
		return Entry{}, "", err
	}
	if ent.OK() {
		w.put(ctx, w.cfg.StaticCacheName(), key, ent)
	}
	return ent, SourceNetwork, nil
}

func (w *Worker) networkFirstPage(ctx context.Context, r *http.Request) (Entry, string, error) {
	key := requestKey(r)
	ent, netErr := w.fetchGET(r)
	if netErr == nil {
		if ent.OK() {
			w.put(ctx, w.cfg.DynamicCacheName(), key, ent)
		}
		return ent, SourceNetwork, nil
	}

	if cached, ok := w.match(ctx, key); ok {
		return cached, SourceCache, nil
	}
	shell := RequestKey{Method: http.MethodGet, URL: w.absURL("/")}
	if cached, ok := w.match(ctx, shell); ok {
		return cached, SourceCache, nil
	}
	return Entry{}, "", netErr
}

func (w *Worker) fetchGET(r *http.Request) (Entry, error) {
	req, err := outboundRequest(r, nil)
	if err != nil {
		return Entry{}, err
	}
	return w.fetchNetwork(req)
}

// match looks the key up in the current stores, dynamic first. Until this
// worker activates, the stores of earlier generations under the prefix are
// searched too, newest name first; they are what the last activated worker
// left behind.
func (w *Worker) match(ctx context.Context, key RequestKey) (Entry, bool) {
	names := []string{w.cfg.DynamicCacheName(), w.cfg.StaticCacheName()}
	if w.State() != StateActive {
		names = append(names, w.previousGenerations(ctx)...)
	}
	for _, name := range names {
		c, err := w.caches.Open(ctx, name)
		if err != nil {
			log.Printf("fetch: open %s: %v", name, err)
			continue
		}
		ent, ok, err := c.Match(ctx, key)
		if err != nil {
			log.Printf("fetch: match %s in %s: %v", key, name, err)
			continue
		}
		if ok {
			return ent, true
		}
	}
	return Entry{}, false
}

func (w *Worker) previousGenerations(ctx context.Context) []string {
	all, err := w.caches.Names(ctx)
	if err != nil {
		log.Printf("fetch: list caches: %v", err)
		return nil
	}
	static, dynamic := w.cfg.StaticCacheName(), w.cfg.DynamicCacheName()
	var out []string
	for _, name := range all {
		if strings.HasPrefix(name, w.cfg.Product.CachePrefix+"-") && name != static && name != dynamic {
			out = append(out, name)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out
}

// put stores a copy. Failures are logged; the response is still served.
func (w *Worker) put(ctx context.Context, name string, key RequestKey, ent Entry) {
	c, err := w.caches.Open(ctx, name)
	if err != nil {
		log.Printf("fetch: open %s: %v", name, err)
		return
	}
	if err := c.Put(ctx, key, ent); err != nil {
		log.Printf("fetch: put %s in %s: %v", key, name, err)
	}
}

func requestKey(r *http.Request) RequestKey {
	return RequestKey{Method: http.MethodGet, URL: r.URL.String()}
}

func offlineEntry() Entry {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return Entry{
		Status:   http.StatusServiceUnavailable,
		Header:   h,
		Body:     []byte(OfflineBody),
		StoredAt: time.Now().Unix(),
	}
}
