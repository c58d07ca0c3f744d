package reader

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevice is an in-memory device handle whose read side is a pipe and
// whose Close is observable.
type fakeDevice struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu     sync.Mutex
	closed bool
}

func newFakeDevice() *fakeDevice {
	r, w := io.Pipe()
	return &fakeDevice{r: r, w: w}
}

func (d *fakeDevice) Read(p []byte) (int, error) { return d.r.Read(p) }

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.r.Close()
	d.w.Close()
	return nil
}

func (d *fakeDevice) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *fakeDevice) WriteLine(t *testing.T, line string) {
	t.Helper()
	_, err := d.w.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

// collector accumulates callback deliveries for assertions.
type collector struct {
	mu       sync.Mutex
	tokens   []string
	statuses []Status
}

func (c *collector) token(tok string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = append(c.tokens, tok)
}

func (c *collector) status(s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, s)
}

func (c *collector) Tokens() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.tokens...)
}

func (c *collector) Statuses() []Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Status(nil), c.statuses...)
}

func testManager(t *testing.T, open Opener) (*Manager, *collector) {
	t.Helper()
	col := &collector{}
	m := NewManager(open, col.token, col.status, slog.Default())
	t.Cleanup(func() { m.Close() })
	return m, col
}

func TestConnect_DeliversTrimmedTokens(t *testing.T) {
	dev := newFakeDevice()
	m, col := testManager(t, func(string) (io.ReadCloser, error) { return dev, nil })

	m.Connect("/dev/ttyUSB0")
	require.Equal(t, "/dev/ttyUSB0", m.Path())

	dev.WriteLine(t, "  AA11\r")
	dev.WriteLine(t, "")
	dev.WriteLine(t, "BB22")

	require.Eventually(t, func() bool { return len(col.Tokens()) == 2 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, []string{"AA11", "BB22"}, col.Tokens(), "tokens are trimmed and blank lines skipped")
}

// Reconnecting to a different path leaves exactly one open handle.
func TestConnect_SupersedesPriorConnection(t *testing.T) {
	devX := newFakeDevice()
	devY := newFakeDevice()
	devices := map[string]*fakeDevice{"/dev/ttyX": devX, "/dev/ttyY": devY}
	m, col := testManager(t, func(path string) (io.ReadCloser, error) { return devices[path], nil })

	m.Connect("/dev/ttyX")
	m.Connect("/dev/ttyY")

	require.Eventually(t, devX.Closed, 2*time.Second, time.Millisecond, "old handle must be closed")
	assert.False(t, devY.Closed())
	assert.Equal(t, "/dev/ttyY", m.Path())

	// Only the live connection delivers tokens.
	devY.WriteLine(t, "CC33")
	require.Eventually(t, func() bool { return len(col.Tokens()) == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, []string{"CC33"}, col.Tokens())

	// The superseded loop's exit is silent: no error status for ttyX.
	for _, s := range col.Statuses() {
		if s.Path == "/dev/ttyX" {
			assert.Equal(t, StateConnected, s.State)
		}
	}
}

func TestConnect_OpenFailureIsRetryable(t *testing.T) {
	openErr := errors.New("no such device")
	dev := newFakeDevice()
	fail := true
	m, col := testManager(t, func(path string) (io.ReadCloser, error) {
		if fail {
			return nil, openErr
		}
		return dev, nil
	})

	m.Connect("/dev/ttyUSB0")

	statuses := col.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, StateFailed, statuses[0].State)
	assert.ErrorIs(t, statuses[0].Err, openErr)
	assert.Empty(t, m.Path())

	// Same path, device present now: the retry succeeds.
	fail = false
	m.Connect("/dev/ttyUSB0")
	require.Equal(t, "/dev/ttyUSB0", m.Path())

	dev.WriteLine(t, "AA11")
	require.Eventually(t, func() bool { return len(col.Tokens()) == 1 }, 2*time.Second, time.Millisecond)
}

func TestReadLoop_StreamEndReportsError(t *testing.T) {
	dev := newFakeDevice()
	m, col := testManager(t, func(string) (io.ReadCloser, error) { return dev, nil })

	m.Connect("/dev/ttyUSB0")
	dev.WriteLine(t, "AA11")
	require.Eventually(t, func() bool { return len(col.Tokens()) == 1 }, 2*time.Second, time.Millisecond)

	// Unplugged: the pipe ends and the loop reports StateError.
	dev.w.Close()
	require.Eventually(t, func() bool {
		for _, s := range col.Statuses() {
			if s.State == StateError {
				return true
			}
		}
		return false
	}, 2*time.Second, time.Millisecond)
	assert.Empty(t, m.Path(), "ended connection is cleared")
}

func TestClose_Idempotent(t *testing.T) {
	dev := newFakeDevice()
	m, _ := testManager(t, func(string) (io.ReadCloser, error) { return dev, nil })

	m.Connect("/dev/ttyUSB0")
	require.NoError(t, m.Close())
	assert.True(t, dev.Closed())
	require.NoError(t, m.Close())
}
