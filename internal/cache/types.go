package cache

import "time"

// Identity mirrors one enrolled person from the remote directory.
type Identity struct {
	ID         string
	ExternalID string
	FullName   string
	TagID      string
	Courses    []string
	// Descriptor is an opaque biometric blob computed locally. It is not
	// part of the remote record and survives directory replacement.
	Descriptor []byte
}

// ScheduleEntry mirrors one recurring class window bound to a kiosk.
// Times are minutes since midnight; the [StartMinute, EndMinute] interval
// is inclusive at both ends. Days holds three-letter weekday abbreviations
// (Mon..Sun).
type ScheduleEntry struct {
	ID          string   `json:"id"`
	CourseCode  string   `json:"course_code"`
	CourseName  string   `json:"course_name"`
	StartMinute int      `json:"start_minute"`
	EndMinute   int      `json:"end_minute"`
	Days        []string `json:"days"`
	KioskID     string   `json:"kiosk_id"`
}

// SyncStatus is the reconciliation state of an attendance log row.
type SyncStatus string

const (
	// StatusPending marks a row not yet confirmed by the remote store.
	StatusPending SyncStatus = "pending"
	// StatusSynced marks a row confirmed by the remote store. Terminal.
	StatusSynced SyncStatus = "synced"
	// StatusStuck marks a row the remote rejected MaxPushAttempts times.
	// Stuck rows are excluded from normal push selection until a manual
	// resync requeues them.
	StatusStuck SyncStatus = "stuck"
)

// AttendanceLogEntry is one locally-authoritative attendance record.
// At most one row exists per (ExternalID, CourseCode, Date).
type AttendanceLogEntry struct {
	LocalID    string
	ExternalID string
	CourseCode string
	KioskID    string
	Date       string // YYYY-MM-DD, kiosk-local
	Timestamp  time.Time
	SyncStatus SyncStatus
	Attempts   int
}

// Counts summarizes cache contents for the status surface and offline
// session stats.
type Counts struct {
	Identities int `json:"identities"`
	Schedules  int `json:"schedules"`
	Today      int `json:"today"`
	Pending    int `json:"pending"`
	Synced     int `json:"synced"`
	Stuck      int `json:"stuck"`
}
