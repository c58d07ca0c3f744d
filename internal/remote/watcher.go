package remote

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Watcher long-polls the remote change feed and invokes notify on every
// response. The payload is deliberately ignored: any change notification
// means "run a full Pull", so the subscription stays payload-agnostic.
type Watcher struct {
	client *HTTPClient
	// http is the dedicated long-poll client. Requests must outlive the api
	// client's per-call timeout, so this one has none: each round trip is
	// bounded by pollTimeout through the request context instead.
	http *http.Client
	log  *slog.Logger

	// pollTimeout bounds one long-poll round trip. The server is expected
	// to hold the request until a change occurs or its own shorter window
	// elapses.
	pollTimeout time.Duration
	// backoff spaces retries after a failed poll.
	backoff time.Duration
}

// NewWatcher creates a change watcher over the given client.
func NewWatcher(client *HTTPClient, log *slog.Logger) *Watcher {
	return &Watcher{
		client:      client,
		http:        &http.Client{},
		log:         log,
		pollTimeout: 60 * time.Second,
		backoff:     5 * time.Second,
	}
}

// Run long-polls until ctx is cancelled, calling notify once per observed
// change. Poll failures are logged at debug and retried after a backoff;
// the watcher never escalates network trouble past its own loop.
func (w *Watcher) Run(ctx context.Context, notify func()) {
	for {
		changed, err := w.poll(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			w.log.Debug("change poll failed", "error", err)
			select {
			case <-time.After(w.backoff):
			case <-ctx.Done():
				return
			}
			continue
		}
		if changed {
			notify()
		}
	}
}

// poll performs one long-poll round trip. Returns true when the server
// reported a change, false on its idle timeout (status 204).
func (w *Watcher) poll(ctx context.Context) (bool, error) {
	pollCtx, cancel := context.WithTimeout(ctx, w.pollTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(pollCtx, http.MethodGet, w.client.base.JoinPath("/v1/changes/watch").String(), nil)
	if err != nil {
		return false, err
	}

	resp, err := w.http.Do(req)
	if err != nil {
		w.client.setOnline(false)
		return false, err
	}
	defer resp.Body.Close()

	w.client.setOnline(true)
	return resp.StatusCode == http.StatusOK, nil
}
