package host

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"pmworker/internal/pmworker"
)

// HTTPBeacon posts analytics payloads as JSON. Failures are logged at most
// once a minute and otherwise ignored.
type HTTPBeacon struct {
	http    pmworker.Doer
	timeout time.Duration
	errLog  *rateLimitedLogger
}

var _ pmworker.Beacon = (*HTTPBeacon)(nil)

func NewHTTPBeacon(doer pmworker.Doer) *HTTPBeacon {
	if doer == nil {
		doer = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPBeacon{
		http:    doer,
		timeout: 10 * time.Second,
		errLog:  newRateLimitedLogger(time.Minute),
	}
}

func (b *HTTPBeacon) Send(ctx context.Context, url string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		b.errLog.Printf("beacon %s: encode: %v", url, err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		b.errLog.Printf("beacon %s: %v", url, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.http.Do(req)
	if err != nil {
		b.errLog.Printf("beacon %s: %v", url, err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b.errLog.Printf("beacon %s: unexpected status %d", url, resp.StatusCode)
	}
}
