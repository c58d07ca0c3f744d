// Package remote defines the client surface of the authoritative store and
// provides a plain JSON-over-HTTP implementation. The kiosk only ever talks
// to the remote through the Client interface; every caller must degrade to
// a no-op when the remote is unreachable.
package remote

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all Client implementations.
var (
	// ErrUnavailable indicates a network, timeout, or server failure.
	// Callers treat it as "offline" and retry on their next trigger.
	ErrUnavailable = errors.New("remote: unavailable")

	// ErrAccessDenied indicates the remote rejected the connection key.
	ErrAccessDenied = errors.New("remote: access denied")
)

// Identity is the wire form of one directory record.
type Identity struct {
	ID         string   `json:"id"`
	ExternalID string   `json:"external_id"`
	FullName   string   `json:"full_name"`
	TagID      string   `json:"tag_id"`
	Courses    []string `json:"courses"`
}

// ScheduleEntry is the wire form of one recurring class window.
type ScheduleEntry struct {
	ID          string   `json:"id"`
	CourseCode  string   `json:"course_code"`
	CourseName  string   `json:"course_name"`
	StartMinute int      `json:"start_minute"`
	EndMinute   int      `json:"end_minute"`
	Days        []string `json:"days"`
	KioskID     string   `json:"kiosk_id"`
}

// AttendanceRecord is one uploaded attendance row. Local-only identifiers
// are stripped before upload; the remote keys the upsert on
// (ExternalID, CourseCode, Date) with last-write-wins semantics, so
// resending the same record is always safe.
type AttendanceRecord struct {
	ExternalID string    `json:"external_id"`
	CourseCode string    `json:"course_code"`
	KioskID    string    `json:"kiosk_id"`
	Date       string    `json:"date"`
	Timestamp  time.Time `json:"timestamp"`
}

// AttendanceKey identifies one upserted row in an upload response.
type AttendanceKey struct {
	ExternalID string `json:"external_id"`
	CourseCode string `json:"course_code"`
	Date       string `json:"date"`
}

// Key projects a record onto its upsert key.
func (r AttendanceRecord) Key() AttendanceKey {
	return AttendanceKey{ExternalID: r.ExternalID, CourseCode: r.CourseCode, Date: r.Date}
}

// Device describes the kiosk device as registered remotely.
type Device struct {
	DeviceID      string `json:"device_id"`
	DeviceName    string `json:"device_name"`
	CameraEnabled bool   `json:"camera_enabled"`
}

// Client is the authoritative remote store.
//
// Online is a cheap local judgement (last observed reachability), not a
// probe; callers use it to skip work, and still handle ErrUnavailable from
// any call.
type Client interface {
	Online() bool
	FetchIdentities(ctx context.Context) ([]Identity, error)
	FetchSchedules(ctx context.Context, kioskID string) ([]ScheduleEntry, error)
	// UpsertAttendance uploads a batch and returns the keys the remote
	// confirmed. A partial response is valid: only confirmed rows may be
	// marked synced locally.
	UpsertAttendance(ctx context.Context, records []AttendanceRecord) ([]AttendanceKey, error)
	VerifyDevice(ctx context.Context, connectionKey string) (Device, error)
	MarkOffline(ctx context.Context, deviceID string) error
}
