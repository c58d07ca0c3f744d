package cache

import (
	"context"
	"time"
)

// Snapshot is a deterministic dump of cache contents. Two Pulls against an
// unchanged remote must produce byte-identical snapshots; the ordering
// clauses below and the sorted string sets in marshal.go guarantee it.
type Snapshot struct {
	Identities []SnapshotIdentity `json:"identities"`
	Schedules  []ScheduleEntry    `json:"schedules"`
	Attendance []SnapshotLogEntry `json:"attendance"`
}

// SnapshotIdentity omits the raw descriptor blob, reporting only whether
// one is present. Snapshots feed the status surface and golden tests;
// neither wants biometric bytes.
type SnapshotIdentity struct {
	ID            string   `json:"id"`
	ExternalID    string   `json:"external_id"`
	FullName      string   `json:"full_name"`
	TagID         string   `json:"tag_id"`
	Courses       []string `json:"courses"`
	HasDescriptor bool     `json:"has_descriptor"`
}

// SnapshotLogEntry is an attendance row with its timestamp in RFC 3339.
type SnapshotLogEntry struct {
	LocalID    string `json:"local_id"`
	ExternalID string `json:"external_id"`
	CourseCode string `json:"course_code"`
	KioskID    string `json:"kiosk_id"`
	Date       string `json:"date"`
	Timestamp  string `json:"timestamp"`
	SyncStatus string `json:"sync_status"`
	Attempts   int    `json:"attempts"`
}

// Snapshot dumps the full cache contents in deterministic order.
func (c *Cache) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		Identities: []SnapshotIdentity{},
		Schedules:  []ScheduleEntry{},
		Attendance: []SnapshotLogEntry{},
	}

	identities, err := c.identitiesWhere(ctx, `1 = ?`, 1)
	if err != nil {
		return nil, err
	}
	for _, id := range identities {
		snap.Identities = append(snap.Identities, SnapshotIdentity{
			ID:            id.ID,
			ExternalID:    id.ExternalID,
			FullName:      id.FullName,
			TagID:         id.TagID,
			Courses:       id.Courses,
			HasDescriptor: len(id.Descriptor) > 0,
		})
	}

	if err := c.snapshotSchedules(ctx, snap); err != nil {
		return nil, err
	}
	if err := c.snapshotAttendance(ctx, snap); err != nil {
		return nil, err
	}

	return snap, nil
}

func (c *Cache) snapshotSchedules(ctx context.Context, snap *Snapshot) error {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, course_code, course_name, start_minute, end_minute, days, kiosk_id
		FROM schedule_entries
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return storageErr("snapshot schedules", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entry ScheduleEntry
		var days string
		if err := rows.Scan(&entry.ID, &entry.CourseCode, &entry.CourseName, &entry.StartMinute, &entry.EndMinute, &days, &entry.KioskID); err != nil {
			return storageErr("scan schedule snapshot", err)
		}
		if entry.Days, err = unmarshalStrings(days); err != nil {
			return storageErr("decode schedule days", err)
		}
		snap.Schedules = append(snap.Schedules, entry)
	}
	return rows.Err()
}

func (c *Cache) snapshotAttendance(ctx context.Context, snap *Snapshot) error {
	rows, err := c.db.QueryContext(ctx, `
		SELECT local_id, external_id, course_code, kiosk_id, date, ts, sync_status, attempts
		FROM attendance_log
		ORDER BY ts ASC, local_id COLLATE BINARY ASC
	`)
	if err != nil {
		return storageErr("snapshot attendance", err)
	}
	defer rows.Close()

	for rows.Next() {
		entry, err := scanAttendance(rows)
		if err != nil {
			return storageErr("scan attendance snapshot", err)
		}
		snap.Attendance = append(snap.Attendance, SnapshotLogEntry{
			LocalID:    entry.LocalID,
			ExternalID: entry.ExternalID,
			CourseCode: entry.CourseCode,
			KioskID:    entry.KioskID,
			Date:       entry.Date,
			Timestamp:  entry.Timestamp.Format(time.RFC3339),
			SyncStatus: string(entry.SyncStatus),
			Attempts:   entry.Attempts,
		})
	}
	return rows.Err()
}
