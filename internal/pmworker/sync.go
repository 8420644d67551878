package pmworker

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
)

// SyncReport summarizes one pass. Stuck counts actions the server accepted
// but that could not be removed from the queue; they will be sent again on
// the next pass.
type SyncReport struct {
	Pending  int
	Replayed int
	Stuck    int
	Failed   int
	Dropped  int
	ReadErr  error
}

// OnSync drains the offline-action queue. Each action is replayed in queue
// order; successes are removed, failures stay queued for the next trigger.
// It never returns an error: a queue read failure ends the pass and is only
// reported.
func (w *Worker) OnSync(ctx context.Context, tag string) SyncReport {
	var rep SyncReport
	if tag != w.cfg.Sync.Tag {
		return rep
	}

	actions, err := w.queue.List(ctx)
	if err != nil {
		log.Printf("sync: list queue: %v", err)
		rep.ReadErr = err
		return rep
	}
	rep.Pending = len(actions)

	for _, a := range actions {
		if err := w.replay(ctx, a); err != nil {
			rep.Failed++
			log.Printf("sync: replay %s %s %s: %v", a.ID, a.Method, a.URL, err)
			if w.dropExhausted(ctx, a) {
				rep.Dropped++
			}
			continue
		}
		if err := w.queue.Remove(ctx, a.ID); err != nil {
			log.Printf("sync: remove %s after replay: %v", a.ID, err)
			rep.Stuck++
			continue
		}
		rep.Replayed++
	}
	if rep.Pending > 0 {
		log.Printf("sync: pending=%d replayed=%d stuck=%d failed=%d dropped=%d", rep.Pending, rep.Replayed, rep.Stuck, rep.Failed, rep.Dropped)
	}
	return rep
}

func (w *Worker) replay(ctx context.Context, a OfflineAction) error {
	method := a.Method
	if method == "" {
		method = http.MethodPost
	}
	var body io.Reader
	if a.Body != "" {
		body = strings.NewReader(a.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, w.absURL(a.URL), body)
	if err != nil {
		return err
	}
	for k, v := range a.Headers {
		req.Header.Set(k, v)
	}
	ent, err := w.fetchNetwork(req)
	if err != nil {
		return err
	}
	if !ent.OK() {
		return fmt.Errorf("unexpected status %d", ent.Status)
	}
	return nil
}

// dropExhausted applies sync.maxAttempts. With the default of 0 actions are
// retried forever.
func (w *Worker) dropExhausted(ctx context.Context, a OfflineAction) bool {
	if w.cfg.Sync.MaxAttempts <= 0 {
		return false
	}
	rec, ok := w.queue.(AttemptRecorder)
	if !ok {
		return false
	}
	n, err := rec.RecordFailure(ctx, a.ID)
	if err != nil {
		log.Printf("sync: record failure %s: %v", a.ID, err)
		return false
	}
	if n < w.cfg.Sync.MaxAttempts {
		return false
	}
	if err := w.queue.Remove(ctx, a.ID); err != nil {
		log.Printf("sync: drop %s: %v", a.ID, err)
		return false
	}
	log.Printf("sync: dropped %s after %d attempts", a.ID, n)
	return true
}
