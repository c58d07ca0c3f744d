package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tapin/kioskd/internal/cache"
	"github.com/tapin/kioskd/internal/remote"
)

// DefaultMaxPushAttempts bounds per-row push retries. A row the remote
// rejects this many times moves to stuck instead of retrying forever.
const DefaultMaxPushAttempts = 10

// DefaultRemoteTimeout bounds each remote call. A timed-out cycle is
// treated as offline and retried on the next trigger.
const DefaultRemoteTimeout = 10 * time.Second

// debounceWindow collapses bursts of remote change notifications into one
// Pull trigger.
const debounceWindow = 500 * time.Millisecond

// Engine owns the Pull and Push flows for one kiosk.
//
// Thread-safety model:
//   - RequestPull / RequestPush / NotifyChange: safe from any goroutine
//   - Pull and Push each run at most one instance at a time (flight guard)
//   - Pull and Push may run concurrently with each other: they touch
//     disjoint collections, and the cache serializes at the connection
type Engine struct {
	cache  *cache.Cache
	remote remote.Client
	log    *slog.Logger

	kioskID     string
	maxAttempts int
	timeout     time.Duration

	pull flight
	push flight

	debounceMu sync.Mutex
	debounce   *time.Timer
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxPushAttempts overrides the bounded retry limit.
func WithMaxPushAttempts(n int) Option {
	return func(e *Engine) { e.maxAttempts = n }
}

// WithRemoteTimeout overrides the per-call remote timeout.
func WithRemoteTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// New creates a sync engine bound to one kiosk identity.
func New(c *cache.Cache, rc remote.Client, kioskID string, log *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		cache:       c,
		remote:      rc,
		log:         log,
		kioskID:     kioskID,
		maxAttempts: DefaultMaxPushAttempts,
		timeout:     DefaultRemoteTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Pull refreshes the directory mirror from the remote store.
//
// Offline, it is a no-op. Both collections are fetched before anything is
// written, and the replace is one transaction: a failed fetch leaves the
// existing cache fully intact, and a reader never sees a partial clear.
func (e *Engine) Pull(ctx context.Context) error {
	if !e.remote.Online() {
		e.log.Debug("pull skipped, remote offline")
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	remoteIdentities, err := e.remote.FetchIdentities(callCtx)
	if err != nil {
		e.log.Warn("pull: fetch identities failed", "error", err)
		return err
	}

	remoteSchedules, err := e.remote.FetchSchedules(callCtx, e.kioskID)
	if err != nil {
		e.log.Warn("pull: fetch schedules failed", "error", err)
		return err
	}

	identities := make([]cache.Identity, 0, len(remoteIdentities))
	for _, id := range remoteIdentities {
		identities = append(identities, cache.Identity{
			ID:         id.ID,
			ExternalID: id.ExternalID,
			FullName:   id.FullName,
			TagID:      id.TagID,
			Courses:    id.Courses,
		})
	}

	schedules := make([]cache.ScheduleEntry, 0, len(remoteSchedules))
	for _, entry := range remoteSchedules {
		schedules = append(schedules, cache.ScheduleEntry{
			ID:          entry.ID,
			CourseCode:  entry.CourseCode,
			CourseName:  entry.CourseName,
			StartMinute: entry.StartMinute,
			EndMinute:   entry.EndMinute,
			Days:        entry.Days,
			KioskID:     entry.KioskID,
		})
	}

	if err := e.cache.ReplaceDirectory(ctx, identities, schedules); err != nil {
		e.log.Error("pull: replace directory failed", "error", err)
		return err
	}

	e.log.Info("pull complete", "identities", len(identities), "schedules", len(schedules))
	return nil
}

// Push uploads pending attendance rows.
//
// Offline, it is a no-op. Rows the remote confirms flip to synced; rows it
// rejects consume one unit of retry budget. A transport failure leaves
// every row pending with its budget untouched.
func (e *Engine) Push(ctx context.Context) error {
	if !e.remote.Online() {
		e.log.Debug("push skipped, remote offline")
		return nil
	}

	pending, err := e.cache.PendingAttendance(ctx, e.maxAttempts)
	if err != nil {
		e.log.Error("push: select pending failed", "error", err)
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	// Strip local-only identifiers; the remote keys on
	// (external_id, course_code, date).
	records := make([]remote.AttendanceRecord, 0, len(pending))
	for _, entry := range pending {
		records = append(records, remote.AttendanceRecord{
			ExternalID: entry.ExternalID,
			CourseCode: entry.CourseCode,
			KioskID:    entry.KioskID,
			Date:       entry.Date,
			Timestamp:  entry.Timestamp,
		})
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	confirmed, err := e.remote.UpsertAttendance(callCtx, records)
	if err != nil {
		e.log.Warn("push: upsert failed, rows stay pending", "rows", len(records), "error", err)
		return err
	}

	confirmedSet := make(map[remote.AttendanceKey]bool, len(confirmed))
	for _, key := range confirmed {
		confirmedSet[key] = true
	}

	var syncedIDs, rejectedIDs []string
	for _, entry := range pending {
		key := remote.AttendanceKey{ExternalID: entry.ExternalID, CourseCode: entry.CourseCode, Date: entry.Date}
		if confirmedSet[key] {
			syncedIDs = append(syncedIDs, entry.LocalID)
		} else {
			rejectedIDs = append(rejectedIDs, entry.LocalID)
		}
	}

	if err := e.cache.MarkSynced(ctx, syncedIDs); err != nil {
		e.log.Error("push: mark synced failed", "error", err)
		return err
	}
	if err := e.cache.RecordPushFailure(ctx, rejectedIDs, e.maxAttempts); err != nil {
		e.log.Error("push: record failure failed", "error", err)
		return err
	}

	e.log.Info("push complete", "synced", len(syncedIDs), "rejected", len(rejectedIDs))
	return nil
}

// RequestPull triggers a Pull, coalescing with any in-flight Pull.
// Non-blocking; safe from any goroutine.
func (e *Engine) RequestPull() {
	e.pull.Request(func() {
		// Errors already logged; the next trigger retries.
		_ = e.Pull(context.Background())
	})
}

// RequestPush triggers a Push, coalescing with any in-flight Push.
// Non-blocking; safe from any goroutine.
func (e *Engine) RequestPush() {
	e.push.Request(func() {
		_ = e.Push(context.Background())
	})
}

// NotifyChange handles a remote change notification. Bursts within the
// debounce window collapse into a single Pull trigger.
func (e *Engine) NotifyChange() {
	e.debounceMu.Lock()
	defer e.debounceMu.Unlock()

	if e.debounce != nil {
		e.debounce.Reset(debounceWindow)
		return
	}
	e.debounce = time.AfterFunc(debounceWindow, func() {
		e.debounceMu.Lock()
		e.debounce = nil
		e.debounceMu.Unlock()
		e.RequestPull()
	})
}

// Resync is the manual force-resync: stuck rows get a fresh retry budget,
// then both flows run.
func (e *Engine) Resync(ctx context.Context) error {
	requeued, err := e.cache.RequeueStuck(ctx)
	if err != nil {
		e.log.Error("resync: requeue stuck failed", "error", err)
		return err
	}
	if requeued > 0 {
		e.log.Info("resync: requeued stuck rows", "rows", requeued)
	}

	e.RequestPull()
	e.RequestPush()
	return nil
}

// Idle reports whether neither flow is in flight. Test hook.
func (e *Engine) Idle() bool {
	return e.pull.Idle() && e.push.Idle()
}
