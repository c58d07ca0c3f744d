package syncer

import "sync"

// flight is the mutual-exclusion guard for one sync flow.
//
// Request starts run in a fresh goroutine unless the flow is already in
// flight, in which case the trigger is coalesced into a single pending
// re-run. N triggers during one run produce exactly one follow-up run,
// never N.
type flight struct {
	mu      sync.Mutex
	running bool
	pending bool
}

// Request schedules run. Safe from any goroutine.
func (f *flight) Request(run func()) {
	f.mu.Lock()
	if f.running {
		f.pending = true
		f.mu.Unlock()
		return
	}
	f.running = true
	f.mu.Unlock()

	go func() {
		for {
			run()

			f.mu.Lock()
			if f.pending {
				f.pending = false
				f.mu.Unlock()
				continue
			}
			f.running = false
			f.mu.Unlock()
			return
		}
	}()
}

// Idle reports whether no run is in flight. Test hook.
func (f *flight) Idle() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.running
}
