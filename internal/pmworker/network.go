package pmworker

import (
	"bytes"
	"hash/crc32"
	"io"
	"net/http"
	"strings"
	"time"
)

// fetchNetwork performs r and buffers the response. Only transport failures
// are errors; any status is returned as an Entry.
func (w *Worker) fetchNetwork(r *http.Request) (Entry, error) {
	r.Header.Set("Accept-Encoding", "identity")
	resp, err := w.http.Do(r)
	if err != nil {
		return Entry{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Entry{}, err
	}

	ent := Entry{
		Status:   resp.StatusCode,
		Header:   cloneHeader(resp.Header),
		Body:     body,
		StoredAt: time.Now().Unix(),
		Hash32:   crc32.ChecksumIEEE(body),
	}
	ent.Header.Del("Content-Length")
	return ent, nil
}

// outboundRequest copies r for the network, keeping method, headers and body.
func outboundRequest(r *http.Request, body []byte) (*http.Request, error) {
	var rd io.Reader
	if len(body) > 0 {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, r.URL.String(), rd)
	if err != nil {
		return nil, err
	}
	copyHeaders(req.Header, r.Header)
	return req, nil
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if strings.EqualFold(k, "Host") {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}
