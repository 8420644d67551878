package host

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"pmworker/internal/pmworker"
)

type sitemapDoc struct {
	URLs     []string `xml:"url>loc"`
	Sitemaps []string `xml:"sitemap>loc"`
}

// discoverPaths walks the configured sitemaps, following nested sitemap
// indexes, and returns the same-origin paths the worker would serve as pages.
// Paths found before a failing sitemap are still returned.
func (s *Server) discoverPaths(ctx context.Context) ([]string, error) {
	originURL, err := url.Parse(s.cfg.Server.Origin)
	if err != nil {
		return nil, err
	}

	seenSitemaps := map[string]struct{}{}
	seenPaths := map[string]struct{}{}
	var paths []string

	queue := make([]string, 0, len(s.cfg.Prefetch.Sitemaps))
	for _, sm := range s.cfg.Prefetch.Sitemaps {
		if sm = strings.TrimSpace(sm); sm != "" {
			queue = append(queue, s.normalizeMaybeRelativeURL(sm))
		}
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return paths, err
		}
		smURL := queue[0]
		queue = queue[1:]
		if _, ok := seenSitemaps[smURL]; ok {
			continue
		}
		seenSitemaps[smURL] = struct{}{}

		doc, err := s.fetchAndParseSitemap(ctx, smURL)
		if err != nil {
			return paths, fmt.Errorf("fetch sitemap %q: %w", smURL, err)
		}
		for _, nested := range doc.Sitemaps {
			if nested != "" {
				queue = append(queue, s.normalizeMaybeRelativeURL(nested))
			}
		}

		for _, loc := range doc.URLs {
			u, err := originURL.Parse(loc)
			if err != nil || u.Host != originURL.Host {
				continue
			}
			if s.worker.Route(http.MethodGet, u) != pmworker.NetworkFirstPage {
				continue
			}
			p := u.RequestURI()
			if _, ok := seenPaths[p]; ok {
				continue
			}
			seenPaths[p] = struct{}{}
			paths = append(paths, p)
		}
	}
	return paths, nil
}

func (s *Server) normalizeMaybeRelativeURL(u string) string {
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	if !strings.HasPrefix(u, "/") {
		u = "/" + u
	}
	return s.cfg.Server.Origin + u
}

func (s *Server) fetchAndParseSitemap(ctx context.Context, sitemapURL string) (sitemapDoc, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return sitemapDoc{}, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return sitemapDoc{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return sitemapDoc{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return sitemapDoc{}, err
	}

	// .gz sitemaps may already be decoded by the transport
	if strings.HasSuffix(strings.ToLower(sitemapURL), ".gz") || (len(body) >= 2 && body[0] == 0x1f && body[1] == 0x8b) {
		if gz, err := gzip.NewReader(bytes.NewReader(body)); err == nil {
			if unzipped, err := io.ReadAll(gz); err == nil {
				body = unzipped
			}
			gz.Close()
		}
	}

	var doc sitemapDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return sitemapDoc{}, err
	}
	for i := range doc.URLs {
		doc.URLs[i] = strings.TrimSpace(doc.URLs[i])
	}
	for i := range doc.Sitemaps {
		doc.Sitemaps[i] = strings.TrimSpace(doc.Sitemaps[i])
	}
	return doc, nil
}
