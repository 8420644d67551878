package pmworker

import (
	"context"
	"log"
	"net/http"
)

// Prefetch warms the dynamic store with pages the user has not visited yet.
// Paths already cached are skipped. It returns how many pages were stored.
func (w *Worker) Prefetch(ctx context.Context, paths []string) int {
	stored := 0
	for _, p := range paths {
		if ctx.Err() != nil {
			break
		}
		key := RequestKey{Method: http.MethodGet, URL: w.absURL(p)}
		if _, ok := w.match(ctx, key); ok {
			continue
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, key.URL, nil)
		if err != nil {
			continue
		}
		ent, err := w.fetchNetwork(req)
		if err != nil {
			log.Printf("prefetch: %s: %v", p, err)
			continue
		}
		if !ent.OK() {
			continue
		}
		w.put(ctx, w.cfg.DynamicCacheName(), key, ent)
		stored++
	}
	return stored
}
