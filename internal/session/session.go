// Package session manages the kiosk's device identity against the remote
// store, with offline resume from a durable bbolt file.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/tapin/kioskd/internal/cache"
	"github.com/tapin/kioskd/internal/remote"
)

const (
	bucketSession = "session" // key: "current" -> Session JSON
	keyCurrent    = "current"
)

var (
	// ErrAccessDenied indicates the connection key was rejected, either by
	// the remote during login or by the local key check during logout.
	ErrAccessDenied = errors.New("session: access denied")

	// ErrLoginRequiresConnectivity indicates an offline login with no
	// durably cached session to resume.
	ErrLoginRequiresConnectivity = errors.New("session: login requires connectivity")
)

// State is the session lifecycle state.
type State int

const (
	// StateLoggedOut is the initial and post-logout state.
	StateLoggedOut State = iota
	// StateAuthenticating covers an in-progress online verification.
	StateAuthenticating
	// StateActive means the kiosk operates under a device identity.
	StateActive
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	default:
		return "logged_out"
	}
}

// Session is the device identity cached durably across process restarts.
type Session struct {
	DeviceID      string `json:"device_id"`
	DeviceName    string `json:"device_name"`
	CameraEnabled bool   `json:"camera_enabled"`
	ConnectionKey string `json:"connection_key"`
}

// Manager owns the durable session store and the login/logout flows.
type Manager struct {
	db     *bbolt.DB
	remote remote.Client
	cache  *cache.Cache
	log    *slog.Logger

	mu      sync.Mutex
	state   State
	current *Session
}

// Open opens (or creates) the session store at path. A previously cached
// session is loaded but the state stays LoggedOut until Login resumes it.
func Open(path string, rc remote.Client, c *cache.Cache, log *slog.Logger) (*Manager, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("session: open store: %w", err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketSession))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: create bucket: %w", err)
	}

	m := &Manager{db: db, remote: rc, cache: c, log: log, state: StateLoggedOut}
	if cached, err := m.load(); err != nil {
		log.Warn("cached session unreadable, ignoring", "error", err)
	} else {
		m.current = cached
	}

	return m, nil
}

// Close closes the durable store.
func (m *Manager) Close() error {
	return m.db.Close()
}

// Current returns the session (nil when logged out) and the state.
func (m *Manager) Current() (*Session, State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateActive {
		return nil, m.state
	}
	return m.current, m.state
}

// Cached returns the durably cached session regardless of state, or nil.
// The status surface uses it to show which device the kiosk would resume
// as; the session still requires Login before it is Active.
func (m *Manager) Cached() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Login authenticates the kiosk.
//
// Online, the key is verified against the remote; success persists the
// device record durably and activates the session. Offline, a durably
// cached session is resumed directly - trust-on-first-use from the last
// successful online login - and there is nothing to verify against, so the
// key is not checked. Offline with no cached session fails with
// ErrLoginRequiresConnectivity.
func (m *Manager) Login(ctx context.Context, connectionKey string) (*Session, error) {
	m.mu.Lock()
	m.state = StateAuthenticating
	m.mu.Unlock()

	if m.remote.Online() {
		device, err := m.remote.VerifyDevice(ctx, connectionKey)
		switch {
		case errors.Is(err, remote.ErrAccessDenied):
			m.setState(StateLoggedOut)
			return nil, ErrAccessDenied
		case errors.Is(err, remote.ErrUnavailable):
			// Lost connectivity mid-login: fall through to offline resume.
			m.log.Debug("login verification unavailable, trying offline resume", "error", err)
		case err != nil:
			m.setState(StateLoggedOut)
			return nil, fmt.Errorf("session: verify device: %w", err)
		default:
			sess := &Session{
				DeviceID:      device.DeviceID,
				DeviceName:    device.DeviceName,
				CameraEnabled: device.CameraEnabled,
				ConnectionKey: connectionKey,
			}
			if err := m.store(sess); err != nil {
				m.setState(StateLoggedOut)
				return nil, err
			}

			m.mu.Lock()
			m.current = sess
			m.state = StateActive
			m.mu.Unlock()

			m.log.Info("device logged in", "device", device.DeviceName)
			return sess, nil
		}
	}

	// Offline resume.
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		m.state = StateLoggedOut
		return nil, ErrLoginRequiresConnectivity
	}
	m.state = StateActive
	m.log.Info("device session resumed offline", "device", m.current.DeviceName)
	return m.current, nil
}

// Logout ends the session.
//
// The supplied key must match the cached key (the local check stands in
// for remote confirmation when offline). On a pass the remote is told the
// device went offline - best effort - the durable session is cleared, and
// the state is LoggedOut regardless of connectivity.
func (m *Manager) Logout(ctx context.Context, connectionKey string) error {
	m.mu.Lock()
	current := m.current
	m.mu.Unlock()

	if current == nil {
		return nil
	}
	if current.ConnectionKey != connectionKey {
		return ErrAccessDenied
	}

	if m.remote.Online() {
		if err := m.remote.MarkOffline(ctx, current.DeviceID); err != nil {
			m.log.Warn("mark device offline failed", "error", err)
		}
	}

	if err := m.clear(); err != nil {
		return err
	}

	m.mu.Lock()
	m.current = nil
	m.state = StateLoggedOut
	m.mu.Unlock()

	m.log.Info("device logged out", "device", current.DeviceName)
	return nil
}

// Stats reports cache contents for the status surface. Computed purely
// from the local cache so it works identically offline.
func (m *Manager) Stats(ctx context.Context, today string) (cache.Counts, error) {
	return m.cache.Counts(ctx, today)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) load() (*Session, error) {
	var sess *Session
	err := m.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketSession)).Get([]byte(keyCurrent))
		if data == nil {
			return nil
		}
		sess = &Session{}
		return json.Unmarshal(data, sess)
	})
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}
	return sess, nil
}

func (m *Manager) store(sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	err = m.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketSession)).Put([]byte(keyCurrent), data)
	})
	if err != nil {
		return fmt.Errorf("session: store: %w", err)
	}
	return nil
}

func (m *Manager) clear() error {
	err := m.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketSession)).Delete([]byte(keyCurrent))
	})
	if err != nil {
		return fmt.Errorf("session: clear: %w", err)
	}
	return nil
}
