// Package reader owns the single hardware reader connection and frames its
// byte stream into trimmed scan tokens, one per line. Everything below
// "one token per line" - baud rates, parity, the reader's own protocol -
// is outside this package.
package reader

import (
	"bufio"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// State labels a status event.
type State string

const (
	// StateConnected: the device at Path is open and being read.
	StateConnected State = "connected"
	// StateError: an open connection failed mid-read.
	StateError State = "error"
	// StateFailed: opening the device failed. Connect remains callable.
	StateFailed State = "failed"
)

// Status is one connection status event.
type Status struct {
	State State
	Path  string
	Err   error
}

// Opener opens the device at path. Injected so tests can supply fake
// devices; the default opens the serial device file read-only.
type Opener func(path string) (io.ReadCloser, error)

// DefaultOpener opens the device file at path.
func DefaultOpener(path string) (io.ReadCloser, error) {
	return os.OpenFile(path, os.O_RDONLY, 0)
}

// Manager owns exactly one open reader connection at a time.
//
// Connect is idempotent with respect to prior connections: any open handle
// is closed before the new path is opened, so two Connect calls leave
// exactly one open handle and no leaks. An open failure is reported on the
// status callback and never escalates; Connect can be retried with the
// same or a different path at any time.
type Manager struct {
	open     Opener
	onToken  func(string)
	onStatus func(Status)
	log      *slog.Logger

	mu   sync.Mutex
	conn io.ReadCloser
	path string
	gen  int // connection generation; stale reader goroutines go quiet
}

// NewManager creates a manager delivering tokens and status events through
// the given callbacks. Callbacks run on the reader goroutine and are
// expected to enqueue, not to block.
func NewManager(open Opener, onToken func(string), onStatus func(Status), log *slog.Logger) *Manager {
	if open == nil {
		open = DefaultOpener
	}
	return &Manager{open: open, onToken: onToken, onStatus: onStatus, log: log}
}

// Connect closes any existing connection, then opens path and starts
// reading line-framed tokens from it.
func (m *Manager) Connect(path string) {
	m.mu.Lock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.gen++
	gen := m.gen

	conn, err := m.open(path)
	if err != nil {
		m.path = ""
		m.mu.Unlock()
		m.log.Warn("reader open failed", "path", path, "error", err)
		m.onStatus(Status{State: StateFailed, Path: path, Err: err})
		return
	}

	m.conn = conn
	m.path = path
	m.mu.Unlock()

	m.log.Info("reader connected", "path", path)
	m.onStatus(Status{State: StateConnected, Path: path})

	go m.readLoop(conn, path, gen)
}

// Close closes the current connection, if any.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	m.conn = nil
	m.path = ""
	m.gen++
	return err
}

// Path returns the currently connected device path, or "".
func (m *Manager) Path() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.path
}

// readLoop frames the stream into tokens until the connection ends.
// A loop whose generation has been superseded reports nothing: its error
// is just the old handle being closed by a newer Connect.
func (m *Manager) readLoop(conn io.Reader, path string, gen int) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		token := strings.TrimSpace(scanner.Text())
		if token == "" {
			continue
		}
		if m.stale(gen) {
			return
		}
		m.onToken(token)
	}

	if m.stale(gen) {
		return
	}

	err := scanner.Err()
	m.log.Warn("reader connection ended", "path", path, "error", err)
	m.onStatus(Status{State: StateError, Path: path, Err: err})

	m.mu.Lock()
	if m.gen == gen && m.conn != nil {
		m.conn.Close()
		m.conn = nil
		m.path = ""
	}
	m.mu.Unlock()
}

func (m *Manager) stale(gen int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen != gen
}
