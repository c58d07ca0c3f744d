package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// HTTPClient talks JSON over HTTP to the authoritative store.
//
// Reachability tracking: every call flips an online flag on success and
// clears it on transport failure, so Online() reflects the last observed
// state without extra probing. Auth details beyond the connection key are
// the deployment's concern (reverse proxy, mTLS, etc.).
type HTTPClient struct {
	base   *url.URL
	client *http.Client
	online atomic.Bool

	recoverMu sync.Mutex
	onRecover func()
}

// NewHTTPClient creates a client for the store at baseURL.
// The timeout bounds every individual request; a timeout is reported as
// ErrUnavailable, never a partial result.
func NewHTTPClient(baseURL string, timeout time.Duration) (*HTTPClient, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("remote: parse base url: %w", err)
	}

	c := &HTTPClient{
		base:   base,
		client: &http.Client{Timeout: timeout},
	}
	// Optimistic until the first call says otherwise.
	c.online.Store(true)
	return c, nil
}

// Online reports the last observed reachability.
func (c *HTTPClient) Online() bool {
	return c.online.Load()
}

// OnRecover registers fn to run whenever reachability transitions from
// offline back to online. The pending attendance backlog accumulated while
// offline should not wait for the next periodic push, so callers hook a
// push trigger here. fn runs on the calling goroutine and must not block.
func (c *HTTPClient) OnRecover(fn func()) {
	c.recoverMu.Lock()
	defer c.recoverMu.Unlock()
	c.onRecover = fn
}

// setOnline records observed reachability and fires the recovery hook on an
// offline-to-online transition.
func (c *HTTPClient) setOnline(online bool) {
	was := c.online.Swap(online)
	if !online || was {
		return
	}

	c.recoverMu.Lock()
	fn := c.onRecover
	c.recoverMu.Unlock()
	if fn != nil {
		fn()
	}
}

// FetchIdentities downloads the full identity directory.
func (c *HTTPClient) FetchIdentities(ctx context.Context) ([]Identity, error) {
	var identities []Identity
	if err := c.get(ctx, "/v1/identities", &identities); err != nil {
		return nil, err
	}
	return identities, nil
}

// FetchSchedules downloads the full schedule set for one kiosk.
func (c *HTTPClient) FetchSchedules(ctx context.Context, kioskID string) ([]ScheduleEntry, error) {
	var entries []ScheduleEntry
	path := "/v1/kiosks/" + url.PathEscape(kioskID) + "/schedules"
	if err := c.get(ctx, path, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// UpsertAttendance uploads a batch of attendance records.
// The response lists the keys the remote accepted; anything absent from it
// was rejected and stays pending locally.
func (c *HTTPClient) UpsertAttendance(ctx context.Context, records []AttendanceRecord) ([]AttendanceKey, error) {
	var resp struct {
		Confirmed []AttendanceKey `json:"confirmed"`
	}
	if err := c.post(ctx, "/v1/attendance/upsert", records, &resp); err != nil {
		return nil, err
	}
	return resp.Confirmed, nil
}

// VerifyDevice exchanges a connection key for the device record.
func (c *HTTPClient) VerifyDevice(ctx context.Context, connectionKey string) (Device, error) {
	req := struct {
		ConnectionKey string `json:"connection_key"`
	}{ConnectionKey: connectionKey}

	var device Device
	if err := c.post(ctx, "/v1/devices/login", req, &device); err != nil {
		return Device{}, err
	}
	return device, nil
}

// MarkOffline tells the remote the device is going offline. Best effort.
func (c *HTTPClient) MarkOffline(ctx context.Context, deviceID string) error {
	path := "/v1/devices/" + url.PathEscape(deviceID) + "/offline"
	return c.post(ctx, path, struct{}{}, nil)
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.JoinPath(path).String(), nil)
	if err != nil {
		return fmt.Errorf("remote: build request: %w", err)
	}
	return c.do(req, out)
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("remote: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.JoinPath(path).String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("remote: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		c.setOnline(false)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		c.setOnline(false)
		return fmt.Errorf("%w: server returned %d", ErrUnavailable, resp.StatusCode)
	}

	c.setOnline(true)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrAccessDenied
	case resp.StatusCode >= 300:
		return fmt.Errorf("remote: unexpected status %d", resp.StatusCode)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("remote: decode response: %w", err)
	}
	return nil
}
