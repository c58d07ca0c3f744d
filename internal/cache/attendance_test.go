package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func testEntry(localID, externalID, course, date string) AttendanceLogEntry {
	return AttendanceLogEntry{
		LocalID:    localID,
		ExternalID: externalID,
		CourseCode: course,
		KioskID:    "K1",
		Date:       date,
		Timestamp:  time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC),
		SyncStatus: StatusPending,
	}
}

func TestLogAttendance_DuplicateKeyRejected(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	if err := c.LogAttendance(ctx, testEntry("l1", "ext-1", "CS101", "2026-03-02")); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}

	err := c.LogAttendance(ctx, testEntry("l2", "ext-1", "CS101", "2026-03-02"))
	if !errors.Is(err, ErrDuplicateEntry) {
		t.Fatalf("duplicate insert: err = %v, expected ErrDuplicateEntry", err)
	}

	// Invariant: exactly one row per (external, course, date).
	var count int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM attendance_log").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("row count = %d, expected 1", count)
	}

	// A different course the same day is a distinct key.
	if err := c.LogAttendance(ctx, testEntry("l3", "ext-1", "CS200", "2026-03-02")); err != nil {
		t.Errorf("distinct key rejected: %v", err)
	}
}

func TestMarkSynced_Monotonic(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	if err := c.LogAttendance(ctx, testEntry("l1", "ext-1", "CS101", "2026-03-02")); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	if err := c.MarkSynced(ctx, []string{"l1"}); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}

	entry, err := c.AttendanceOn(ctx, "ext-1", "CS101", "2026-03-02")
	if err != nil {
		t.Fatalf("AttendanceOn failed: %v", err)
	}
	if entry.SyncStatus != StatusSynced {
		t.Fatalf("status = %q, expected synced", entry.SyncStatus)
	}

	// A later failure record must not move a synced row back.
	if err := c.RecordPushFailure(ctx, []string{"l1"}, 10); err != nil {
		t.Fatalf("RecordPushFailure failed: %v", err)
	}
	entry, err = c.AttendanceOn(ctx, "ext-1", "CS101", "2026-03-02")
	if err != nil {
		t.Fatalf("AttendanceOn failed: %v", err)
	}
	if entry.SyncStatus != StatusSynced {
		t.Errorf("synced row regressed to %q", entry.SyncStatus)
	}
	if entry.Attempts != 0 {
		t.Errorf("synced row consumed retry budget: attempts = %d", entry.Attempts)
	}
}

func TestRecordPushFailure_StuckAfterBound(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	if err := c.LogAttendance(ctx, testEntry("l1", "ext-1", "CS101", "2026-03-02")); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	const maxAttempts = 3
	for i := 0; i < maxAttempts; i++ {
		pending, err := c.PendingAttendance(ctx, maxAttempts)
		if err != nil {
			t.Fatalf("PendingAttendance failed: %v", err)
		}
		if len(pending) != 1 {
			t.Fatalf("attempt %d: pending = %d rows, expected 1", i, len(pending))
		}
		if err := c.RecordPushFailure(ctx, []string{"l1"}, maxAttempts); err != nil {
			t.Fatalf("RecordPushFailure failed: %v", err)
		}
	}

	// Budget exhausted: stuck, excluded from push selection.
	entry, err := c.AttendanceOn(ctx, "ext-1", "CS101", "2026-03-02")
	if err != nil {
		t.Fatalf("AttendanceOn failed: %v", err)
	}
	if entry.SyncStatus != StatusStuck {
		t.Fatalf("status = %q, expected stuck", entry.SyncStatus)
	}

	pending, err := c.PendingAttendance(ctx, maxAttempts)
	if err != nil {
		t.Fatalf("PendingAttendance failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("stuck row still selected for push")
	}

	// Manual resync path: requeue restores eligibility with fresh budget.
	requeued, err := c.RequeueStuck(ctx)
	if err != nil {
		t.Fatalf("RequeueStuck failed: %v", err)
	}
	if requeued != 1 {
		t.Errorf("requeued = %d, expected 1", requeued)
	}
	pending, err = c.PendingAttendance(ctx, maxAttempts)
	if err != nil {
		t.Fatalf("PendingAttendance failed: %v", err)
	}
	if len(pending) != 1 || pending[0].Attempts != 0 {
		t.Errorf("requeued row not eligible: %+v", pending)
	}
}

func TestPurgeStale_KeepsTodayIncludingSynced(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	if err := c.LogAttendance(ctx, testEntry("old", "ext-1", "CS101", "2026-03-01")); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := c.LogAttendance(ctx, testEntry("today-pending", "ext-2", "CS101", "2026-03-02")); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := c.LogAttendance(ctx, testEntry("today-synced", "ext-3", "CS101", "2026-03-02")); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := c.MarkSynced(ctx, []string{"today-synced"}); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}

	purged, err := c.PurgeStale(ctx, "2026-03-02")
	if err != nil {
		t.Fatalf("PurgeStale failed: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, expected 1", purged)
	}

	if _, err := c.AttendanceOn(ctx, "ext-1", "CS101", "2026-03-01"); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale row survived purge, err = %v", err)
	}
	// Same-day rows stay, synced or not: duplicate detection needs them.
	if _, err := c.AttendanceOn(ctx, "ext-2", "CS101", "2026-03-02"); err != nil {
		t.Errorf("pending today row purged: %v", err)
	}
	if _, err := c.AttendanceOn(ctx, "ext-3", "CS101", "2026-03-02"); err != nil {
		t.Errorf("synced today row purged: %v", err)
	}
}

func TestPendingAttendance_DeterministicOrder(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		entry := testEntry(fmt.Sprintf("l%d", i), fmt.Sprintf("ext-%d", i), "CS101", "2026-03-02")
		entry.Timestamp = base.Add(time.Duration(2-i) * time.Minute) // insert out of order
		if err := c.LogAttendance(ctx, entry); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	pending, err := c.PendingAttendance(ctx, 10)
	if err != nil {
		t.Fatalf("PendingAttendance failed: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("pending = %d rows, expected 3", len(pending))
	}
	for i := 1; i < len(pending); i++ {
		if pending[i].Timestamp.Before(pending[i-1].Timestamp) {
			t.Errorf("pending rows out of timestamp order")
		}
	}
}

func TestCounts(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	if err := c.ReplaceDirectory(ctx,
		[]Identity{testIdentity("1", "AA11", "CS101")},
		[]ScheduleEntry{{ID: "s1", CourseCode: "CS101", CourseName: "Intro", StartMinute: 480, EndMinute: 540, Days: []string{"Mon"}, KioskID: "K1"}},
	); err != nil {
		t.Fatalf("ReplaceDirectory failed: %v", err)
	}
	if err := c.LogAttendance(ctx, testEntry("l1", "ext-1", "CS101", "2026-03-02")); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	counts, err := c.Counts(ctx, "2026-03-02")
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}

	want := Counts{Identities: 1, Schedules: 1, Today: 1, Pending: 1}
	if counts != want {
		t.Errorf("counts = %+v, expected %+v", counts, want)
	}
}
