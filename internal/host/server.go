package host

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"pmworker/internal/pmworker"
)

// ControlPrefix is where the event surface lives. Everything else is proxied
// to the origin through the worker's fetch handler.
const ControlPrefix = "/__worker/"

type Options struct {
	Queue   pmworker.ActionQueue
	Caches  pmworker.CacheStorage
	Windows *Windows
	Tray    *Tray
	// HTTP fetches sitemaps. Defaults to a client with a 30s timeout.
	HTTP pmworker.Doer
}

// Server exposes a Worker over HTTP: a proxy that runs every request through
// OnFetch, plus a control surface that dispatches lifecycle, sync, push and
// message events.
type Server struct {
	cfg    pmworker.Config
	worker *pmworker.Worker

	queue   pmworker.ActionQueue
	caches  pmworker.CacheStorage
	windows *Windows
	tray    *Tray
	http    pmworker.Doer

	control *http.ServeMux

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	stats *statsCollector
}

func New(w *pmworker.Worker, opts Options) *Server {
	if opts.Windows == nil {
		opts.Windows = NewWindows()
	}
	if opts.Tray == nil {
		opts.Tray = NewTray()
	}
	if opts.HTTP == nil {
		opts.HTTP = &http.Client{Timeout: 30 * time.Second}
	}
	s := &Server{
		cfg:     w.Config(),
		worker:  w,
		queue:   opts.Queue,
		caches:  opts.Caches,
		windows: opts.Windows,
		tray:    opts.Tray,
		http:    opts.HTTP,
		stopCh:  make(chan struct{}),
		stats:   newStatsCollector(),
	}
	s.control = s.controlMux()

	if every := s.cfg.LogStatsEvery(); every > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.statsLoop(every)
		}()
	}
	return s
}

// Close stops background loops and waits for them.
func (s *Server) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, ControlPrefix) {
		s.control.ServeHTTP(w, r)
		return
	}
	s.proxy(w, r)
}

func (s *Server) proxy(w http.ResponseWriter, r *http.Request) {
	originURL := s.cfg.Server.Origin + r.URL.RequestURI()
	req, err := http.NewRequestWithContext(r.Context(), r.Method, originURL, r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	req.Header = r.Header.Clone()

	res, err := s.worker.OnFetch(r.Context(), req)
	if err != nil {
		log.Printf("fetch %s %s (%s): %v", r.Method, r.URL.RequestURI(), res.Strategy, err)
		s.stats.Observe(sourceBadGateway, 0)
		setWorkerHeaders(w.Header(), sourceBadGateway)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	writeEntry(w, res.Entry, res.Source)
	s.stats.Observe(res.Source, len(res.Entry.Body))
}

func writeEntry(w http.ResponseWriter, ent pmworker.Entry, source string) {
	for k, vs := range ent.Header {
		if strings.EqualFold(k, "x-worker") {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	setWorkerHeaders(w.Header(), source)
	w.WriteHeader(ent.Status)
	_, _ = w.Write(ent.Body)
}

func setWorkerHeaders(h http.Header, source string) {
	if source != "" {
		h.Set("X-Worker", source)
	}
	// custom headers are invisible to cross-origin scripts unless exposed
	ensureExposedHeader(h, "X-Worker")
}

func ensureExposedHeader(h http.Header, name string) {
	const expose = "Access-Control-Expose-Headers"
	cur := h.Values(expose)
	if len(cur) == 0 {
		h.Set(expose, name)
		return
	}
	merged := strings.Join(cur, ",")
	for _, part := range strings.Split(merged, ",") {
		if strings.EqualFold(strings.TrimSpace(part), name) {
			return
		}
	}
	h.Set(expose, strings.TrimSpace(merged)+", "+name)
}

// StartPrefetch warms the dynamic store from the configured sitemaps once,
// after prefetch.initialDelay.
func (s *Server) StartPrefetch() {
	if len(s.cfg.Prefetch.Sitemaps) == 0 {
		return
	}
	delay := s.cfg.PrefetchDelay()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if delay > 0 {
			select {
			case <-s.stopCh:
				return
			case <-time.After(delay):
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		go func() {
			select {
			case <-s.stopCh:
				cancel()
			case <-ctx.Done():
			}
		}()

		paths, err := s.discoverPaths(ctx)
		if err != nil {
			log.Printf("prefetch: %v", err)
		}
		stored := s.worker.Prefetch(ctx, paths)
		log.Printf("prefetch: discovered=%d stored=%d", len(paths), stored)
	}()
}
