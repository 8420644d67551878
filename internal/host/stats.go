package host

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"pmworker/internal/pmworker"
)

const sourceBadGateway = "bad-gateway"

var statSources = []string{
	pmworker.SourceNetwork,
	pmworker.SourceCache,
	pmworker.SourceOffline,
	pmworker.SourcePassThrough,
	sourceBadGateway,
}

type statsCollector struct {
	bySource map[string]*atomic.Uint64

	totalResponses atomic.Uint64
	totalRespBytes atomic.Uint64
	minRespBytes   atomic.Uint64
	maxRespBytes   atomic.Uint64
}

func newStatsCollector() *statsCollector {
	s := &statsCollector{bySource: make(map[string]*atomic.Uint64, len(statSources))}
	for _, src := range statSources {
		s.bySource[src] = new(atomic.Uint64)
	}
	s.minRespBytes.Store(math.MaxUint64)
	return s
}

// Observe counts one response. Only responses with a body feed the size
// figures.
func (s *statsCollector) Observe(source string, respBytes int) {
	if c, ok := s.bySource[source]; ok {
		c.Add(1)
	}
	if source == sourceBadGateway {
		return
	}
	if respBytes < 0 {
		respBytes = 0
	}
	n := uint64(respBytes)

	s.totalResponses.Add(1)
	s.totalRespBytes.Add(n)

	for {
		cur := s.minRespBytes.Load()
		if n >= cur || s.minRespBytes.CompareAndSwap(cur, n) {
			break
		}
	}
	for {
		cur := s.maxRespBytes.Load()
		if n <= cur || s.maxRespBytes.CompareAndSwap(cur, n) {
			break
		}
	}
}

type statsSnapshot struct {
	BySource       map[string]uint64
	TotalResponses uint64
	MinRespBytes   uint64
	MaxRespBytes   uint64
	AvgRespBytes   uint64
}

func (s *statsCollector) Snapshot() statsSnapshot {
	out := statsSnapshot{BySource: make(map[string]uint64, len(s.bySource))}
	for src, c := range s.bySource {
		out.BySource[src] = c.Load()
	}
	count := s.totalResponses.Load()
	if count == 0 {
		return out
	}
	out.TotalResponses = count
	out.MinRespBytes = s.minRespBytes.Load()
	out.MaxRespBytes = s.maxRespBytes.Load()
	out.AvgRespBytes = s.totalRespBytes.Load() / count
	return out
}

// storageSizer is implemented by persistent cache storages.
type storageSizer interface {
	TotalSize() int64
	KeyCount() int
}

func (s *Server) statsLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			s.logStats()
		}
	}
}

func (s *Server) logStats() {
	ss := s.stats.Snapshot()

	var b strings.Builder
	for i, src := range statSources {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%s=%d", src, ss.BySource[src])
	}

	cached := "n/a"
	if sz, ok := s.caches.(storageSizer); ok {
		cached = fmt.Sprintf("%d entries, %s", sz.KeyCount(), formatBytes(uint64(sz.TotalSize())))
	}
	queued := "n/a"
	if s.queue != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if actions, err := s.queue.List(ctx); err == nil {
			queued = fmt.Sprint(len(actions))
		}
		cancel()
	}
	rss := "n/a"
	if n, ok := processRSSBytes(); ok {
		rss = formatBytes(n)
	}

	log.Printf(
		"Responses: %s, Cached: %s, Queued: %s, Resp min/avg/max %s/%s/%s, RSS: %s",
		b.String(),
		cached,
		queued,
		formatBytes(ss.MinRespBytes),
		formatBytes(ss.AvgRespBytes),
		formatBytes(ss.MaxRespBytes),
		rss,
	)
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case b < kb:
		return fmt.Sprintf("%db", b)
	case b < mb:
		return trimFloat(fmt.Sprintf("%.1f", float64(b)/kb)) + "kb"
	case b < gb:
		return trimFloat(fmt.Sprintf("%.1f", float64(b)/mb)) + "mb"
	}
	return trimFloat(fmt.Sprintf("%.1f", float64(b)/gb)) + "gb"
}

func trimFloat(s string) string {
	return strings.TrimSuffix(strings.TrimSpace(s), ".0")
}
