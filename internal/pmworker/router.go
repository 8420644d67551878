package pmworker

import (
	"net/http"
	"net/url"
	"path"
	"strings"
)

type Strategy int

const (
	PassThrough Strategy = iota
	NetworkFirstAPI
	CacheFirst
	NetworkFirstPage
)

func (s Strategy) String() string {
	switch s {
	case PassThrough:
		return "pass-through"
	case NetworkFirstAPI:
		return "network-first-api"
	case CacheFirst:
		return "cache-first"
	case NetworkFirstPage:
		return "network-first-page"
	}
	return "unknown"
}

// Route picks the strategy for a request. First match wins.
func (w *Worker) Route(method string, u *url.URL) Strategy {
	if method != http.MethodGet {
		return PassThrough
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return PassThrough
	}
	if strings.HasPrefix(u.Path, w.cfg.Cache.APIPrefix) {
		return NetworkFirstAPI
	}
	if w.isStaticAsset(u.Path) {
		return CacheFirst
	}
	return NetworkFirstPage
}

func (w *Worker) isStaticAsset(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return false
	}
	_, ok := w.cfg.extensions[ext]
	return ok
}
