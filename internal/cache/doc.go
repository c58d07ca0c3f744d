// Package cache provides the SQLite-backed local mirror for one kiosk.
//
// The cache holds three collections:
//   - Identities: mirror of the remote identity directory
//   - Schedule Entries: mirror of the remote class schedule for this kiosk
//   - Attendance Log: locally-authoritative attendance records awaiting sync
//
// # Critical Patterns
//
// Directory replacement is all-or-nothing: a Pull replaces both mirrored
// collections in a single transaction, so a concurrent reader never observes
// a half-cleared directory. Biometric descriptors computed locally survive
// replacement by being merged back in, keyed on external ID, through an
// explicit field allow-list.
//
// The attendance log enforces at-most-one record per (external_id,
// course_code, date) with a UNIQUE constraint. Sync status moves
// pending -> synced (or pending -> stuck after bounded retries) and never
// reverses. Rows are purged only at startup, and only for dates before
// today, because same-day rows back duplicate detection even after they
// have synced.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//
// All failures surface as *StorageError. Callers treat a storage failure as
// fatal to the current operation only and retry on the next cycle.
package cache
