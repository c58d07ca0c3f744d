package testutil

import (
	"context"
	"sync"

	"github.com/tapin/kioskd/internal/remote"
)

// FakeRemote is a scripted remote.Client.
//
// Tests set the collections to serve, flip the online flag, inject errors,
// and script which upserted keys the remote confirms. Call counts let
// coalescing tests assert exactly how many fetches ran.
//
// Thread-safety: all methods are safe for concurrent use via internal
// mutex. Gate, when set, blocks FetchIdentities until released so tests
// can hold a pull in flight.
type FakeRemote struct {
	mu sync.Mutex

	online     bool
	identities []remote.Identity
	schedules  []remote.ScheduleEntry
	device     remote.Device

	// FetchErr, UpsertErr, VerifyErr inject failures into the matching call.
	FetchErr  error
	UpsertErr error
	VerifyErr error

	// Confirm scripts the upsert response. Nil confirms every record.
	Confirm func(records []remote.AttendanceRecord) []remote.AttendanceKey

	// Gate blocks FetchIdentities until a value is received. Nil means no
	// blocking.
	Gate chan struct{}

	fetchCalls  int
	upsertCalls int
	offlineIDs  []string
	uploaded    [][]remote.AttendanceRecord
}

// NewFakeRemote creates an online fake with empty collections.
func NewFakeRemote() *FakeRemote {
	return &FakeRemote{online: true}
}

// SetOnline flips the reachability flag.
func (f *FakeRemote) SetOnline(online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online = online
}

// SetDirectory replaces the served collections.
func (f *FakeRemote) SetDirectory(identities []remote.Identity, schedules []remote.ScheduleEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identities = identities
	f.schedules = schedules
}

// SetDevice scripts the VerifyDevice response.
func (f *FakeRemote) SetDevice(device remote.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.device = device
}

// FetchCalls returns how many identity fetches ran.
func (f *FakeRemote) FetchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

// UpsertCalls returns how many upserts ran.
func (f *FakeRemote) UpsertCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upsertCalls
}

// Uploaded returns every upserted batch in order.
func (f *FakeRemote) Uploaded() [][]remote.AttendanceRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploaded
}

// OfflineIDs returns the device IDs passed to MarkOffline.
func (f *FakeRemote) OfflineIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offlineIDs
}

// Online implements remote.Client.
func (f *FakeRemote) Online() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

// FetchIdentities implements remote.Client.
func (f *FakeRemote) FetchIdentities(ctx context.Context) ([]remote.Identity, error) {
	f.mu.Lock()
	gate := f.Gate
	f.fetchCalls++
	err := f.FetchErr
	identities := append([]remote.Identity(nil), f.identities...)
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, err
	}
	return identities, nil
}

// FetchSchedules implements remote.Client.
func (f *FakeRemote) FetchSchedules(ctx context.Context, kioskID string) ([]remote.ScheduleEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FetchErr != nil {
		return nil, f.FetchErr
	}

	var entries []remote.ScheduleEntry
	for _, entry := range f.schedules {
		if entry.KioskID == kioskID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// UpsertAttendance implements remote.Client.
func (f *FakeRemote) UpsertAttendance(ctx context.Context, records []remote.AttendanceRecord) ([]remote.AttendanceKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.upsertCalls++
	if f.UpsertErr != nil {
		return nil, f.UpsertErr
	}

	f.uploaded = append(f.uploaded, append([]remote.AttendanceRecord(nil), records...))

	if f.Confirm != nil {
		return f.Confirm(records), nil
	}
	keys := make([]remote.AttendanceKey, 0, len(records))
	for _, record := range records {
		keys = append(keys, record.Key())
	}
	return keys, nil
}

// VerifyDevice implements remote.Client.
func (f *FakeRemote) VerifyDevice(ctx context.Context, connectionKey string) (remote.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.VerifyErr != nil {
		return remote.Device{}, f.VerifyErr
	}
	return f.device, nil
}

// MarkOffline implements remote.Client.
func (f *FakeRemote) MarkOffline(ctx context.Context, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offlineIDs = append(f.offlineIDs, deviceID)
	return nil
}
