package cache

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// LogAttendance inserts a new pending attendance row.
//
// The UNIQUE(external_id, course_code, date) constraint enforces the
// at-most-one invariant at the storage layer. A conflicting insert returns
// ErrDuplicateEntry, which closes the race between two rapid scans of the
// same tag: the second commit loses at the constraint, not at a check.
func (c *Cache) LogAttendance(ctx context.Context, entry AttendanceLogEntry) error {
	result, err := c.db.ExecContext(ctx, `
		INSERT INTO attendance_log
		(local_id, external_id, course_code, kiosk_id, date, ts, sync_status, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(external_id, course_code, date) DO NOTHING
	`,
		entry.LocalID,
		entry.ExternalID,
		entry.CourseCode,
		entry.KioskID,
		entry.Date,
		entry.Timestamp.Format(time.RFC3339),
		string(StatusPending),
	)
	if err != nil {
		return storageErr("log attendance", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return storageErr("log attendance: rows affected", err)
	}
	if affected == 0 {
		return ErrDuplicateEntry
	}

	return nil
}

// AttendanceOn returns the attendance row for the key, regardless of sync
// status, or ErrNotFound. Duplicate detection must see already-synced rows,
// which is why same-day rows are never deleted after sync.
func (c *Cache) AttendanceOn(ctx context.Context, externalID, courseCode, date string) (*AttendanceLogEntry, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT local_id, external_id, course_code, kiosk_id, date, ts, sync_status, attempts
		FROM attendance_log
		WHERE external_id = ? AND course_code = ? AND date = ?
	`, externalID, courseCode, date)

	entry, err := scanAttendance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("query attendance", err)
	}
	return entry, nil
}

// PendingAttendance returns rows eligible for the next Push: status pending
// and attempts still under the retry bound. Ordered deterministically so a
// partial batch always confirms the oldest rows first.
func (c *Cache) PendingAttendance(ctx context.Context, maxAttempts int) ([]AttendanceLogEntry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT local_id, external_id, course_code, kiosk_id, date, ts, sync_status, attempts
		FROM attendance_log
		WHERE sync_status = ? AND attempts < ?
		ORDER BY ts ASC, local_id COLLATE BINARY ASC
	`, string(StatusPending), maxAttempts)
	if err != nil {
		return nil, storageErr("query pending attendance", err)
	}
	defer rows.Close()

	var entries []AttendanceLogEntry
	for rows.Next() {
		entry, err := scanAttendance(rows)
		if err != nil {
			return nil, storageErr("scan attendance", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate attendance", err)
	}

	if entries == nil {
		entries = []AttendanceLogEntry{}
	}
	return entries, nil
}

// MarkSynced flips the named rows to synced. The flip is monotonic: a row
// already synced stays synced, and no path ever moves synced back.
func (c *Cache) MarkSynced(ctx context.Context, localIDs []string) error {
	if len(localIDs) == 0 {
		return nil
	}

	query := `
		UPDATE attendance_log SET sync_status = ?
		WHERE local_id IN (` + placeholders(len(localIDs)) + `)
	`
	args := make([]any, 0, len(localIDs)+1)
	args = append(args, string(StatusSynced))
	for _, id := range localIDs {
		args = append(args, id)
	}

	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return storageErr("mark synced", err)
	}
	return nil
}

// RecordPushFailure bumps the retry counter on rows the remote rejected.
// A row that reaches maxAttempts moves to stuck and drops out of normal
// push selection; retries terminate instead of looping forever.
func (c *Cache) RecordPushFailure(ctx context.Context, localIDs []string, maxAttempts int) error {
	if len(localIDs) == 0 {
		return nil
	}

	query := `
		UPDATE attendance_log
		SET attempts = attempts + 1,
		    sync_status = CASE WHEN attempts + 1 >= ? THEN ? ELSE sync_status END
		WHERE sync_status = ? AND local_id IN (` + placeholders(len(localIDs)) + `)
	`
	args := make([]any, 0, len(localIDs)+3)
	args = append(args, maxAttempts, string(StatusStuck), string(StatusPending))
	for _, id := range localIDs {
		args = append(args, id)
	}

	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return storageErr("record push failure", err)
	}
	return nil
}

// RequeueStuck returns stuck rows to pending with a fresh retry budget.
// Invoked only by a manual force-resync.
func (c *Cache) RequeueStuck(ctx context.Context) (int64, error) {
	result, err := c.db.ExecContext(ctx, `
		UPDATE attendance_log SET sync_status = ?, attempts = 0
		WHERE sync_status = ?
	`, string(StatusPending), string(StatusStuck))
	if err != nil {
		return 0, storageErr("requeue stuck", err)
	}

	requeued, err := result.RowsAffected()
	if err != nil {
		return 0, storageErr("requeue stuck: rows affected", err)
	}
	return requeued, nil
}

// PurgeStale deletes attendance rows whose date is not today.
// Called once at process startup for day rollover - never mid-day, since
// same-day rows back duplicate detection even after they sync.
func (c *Cache) PurgeStale(ctx context.Context, today string) (int64, error) {
	result, err := c.db.ExecContext(ctx, `
		DELETE FROM attendance_log WHERE date <> ?
	`, today)
	if err != nil {
		return 0, storageErr("purge stale attendance", err)
	}

	purged, err := result.RowsAffected()
	if err != nil {
		return 0, storageErr("purge stale attendance: rows affected", err)
	}
	return purged, nil
}

// Counts summarizes cache contents for the given local date.
func (c *Cache) Counts(ctx context.Context, today string) (Counts, error) {
	var counts Counts

	row := c.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM identities),
			(SELECT COUNT(*) FROM schedule_entries),
			(SELECT COUNT(*) FROM attendance_log WHERE date = ?),
			(SELECT COUNT(*) FROM attendance_log WHERE sync_status = ?),
			(SELECT COUNT(*) FROM attendance_log WHERE sync_status = ?),
			(SELECT COUNT(*) FROM attendance_log WHERE sync_status = ?)
	`, today, string(StatusPending), string(StatusSynced), string(StatusStuck))

	err := row.Scan(&counts.Identities, &counts.Schedules, &counts.Today, &counts.Pending, &counts.Synced, &counts.Stuck)
	if err != nil {
		return Counts{}, storageErr("count cache contents", err)
	}

	return counts, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanAttendance.
type scanner interface {
	Scan(dest ...any) error
}

func scanAttendance(s scanner) (*AttendanceLogEntry, error) {
	var entry AttendanceLogEntry
	var ts, status string

	if err := s.Scan(&entry.LocalID, &entry.ExternalID, &entry.CourseCode, &entry.KioskID, &entry.Date, &ts, &status, &entry.Attempts); err != nil {
		return nil, err
	}

	parsed, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return nil, err
	}
	entry.Timestamp = parsed
	entry.SyncStatus = SyncStatus(status)

	return &entry, nil
}

// placeholders builds "?, ?, ..." for an IN clause of n values.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
