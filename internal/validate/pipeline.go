// Package validate turns raw reader tokens into Accepted or Rejected
// attendance outcomes. Every step reads only the local cache, so scan
// validation never degrades when the kiosk is offline; the only network
// side effect - the post-commit push trigger - belongs to the caller.
package validate

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tapin/kioskd/internal/cache"
)

// RateLimitWindow absorbs duplicate tokens from hardware chatter: a token
// identical to the immediately preceding one within this window is dropped
// before validation starts.
const RateLimitWindow = 5 * time.Second

// Clock supplies the kiosk-local wall time. Injected so day boundaries and
// schedule windows are testable.
type Clock interface {
	Now() time.Time
}

// Pipeline validates scans for one kiosk.
//
// Not safe for concurrent use: the kiosk loop processes one scan to
// completion before accepting the next token, which is what prevents
// double commits on a single physical event. The rate limiter state relies
// on that discipline.
type Pipeline struct {
	cache   *cache.Cache
	clock   Clock
	kioskID string

	lastToken string
	lastSeen  time.Time
}

// New creates a pipeline bound to one kiosk identity.
func New(c *cache.Cache, clock Clock, kioskID string) *Pipeline {
	return &Pipeline{cache: c, clock: clock, kioskID: kioskID}
}

// Process runs one token through the pipeline:
// RateLimit -> IdentityLookup -> ScheduleMatch -> EnrollmentCheck ->
// DuplicateCheck -> Commit.
//
// The returned error is non-nil only for storage failures; every business
// outcome, including all rejections, is a value.
func (p *Pipeline) Process(ctx context.Context, token string) (Outcome, error) {
	now := p.clock.Now()

	// Step 1: rate limit.
	if token == p.lastToken && now.Sub(p.lastSeen) <= RateLimitWindow {
		p.lastSeen = now
		return Outcome{Status: StatusDiscarded}, nil
	}
	p.lastToken = token
	p.lastSeen = now

	// Step 2: identity lookup, exact then case-insensitive.
	identity, err := p.cache.IdentityByTag(ctx, token)
	switch {
	case errors.Is(err, cache.ErrNotFound):
		return Outcome{Status: StatusRejected, Reason: ReasonNotRegistered}, nil
	case errors.Is(err, cache.ErrAmbiguousTag):
		return Outcome{Status: StatusRejected, Reason: ReasonAmbiguousTag}, nil
	case err != nil:
		return Outcome{}, err
	}

	// Step 3: schedule match at minute resolution, seconds truncated.
	day := now.Weekday().String()[:3]
	minute := now.Hour()*60 + now.Minute()

	entry, err := p.cache.ActiveSchedule(ctx, p.kioskID, day, minute)
	switch {
	case errors.Is(err, cache.ErrNotFound):
		return Outcome{
			Status:   StatusRejected,
			Identity: identity,
			Reason:   ReasonNoActiveClass,
			Detail:   now.Format("15:04"),
		}, nil
	case err != nil:
		return Outcome{}, err
	}

	// Step 4: enrollment check.
	if !enrolled(identity.Courses, entry.CourseCode) {
		return Outcome{
			Status:   StatusRejected,
			Identity: identity,
			Reason:   ReasonNotEnrolled,
			Detail:   entry.CourseName,
		}, nil
	}

	// Step 5: duplicate check, any sync status.
	date := now.Format(time.DateOnly)
	existing, err := p.cache.AttendanceOn(ctx, identity.ExternalID, entry.CourseCode, date)
	if err != nil && !errors.Is(err, cache.ErrNotFound) {
		return Outcome{}, err
	}
	if existing != nil {
		return Outcome{
			Status:   StatusRejected,
			Identity: identity,
			Reason:   ReasonAlreadyPresent,
			Detail:   existing.Timestamp.Format("15:04"),
		}, nil
	}

	// Step 6: commit. The UNIQUE constraint closes any remaining race.
	err = p.cache.LogAttendance(ctx, cache.AttendanceLogEntry{
		LocalID:    uuid.Must(uuid.NewV7()).String(),
		ExternalID: identity.ExternalID,
		CourseCode: entry.CourseCode,
		KioskID:    p.kioskID,
		Date:       date,
		Timestamp:  now,
		SyncStatus: cache.StatusPending,
	})
	if errors.Is(err, cache.ErrDuplicateEntry) {
		return Outcome{
			Status:   StatusRejected,
			Identity: identity,
			Reason:   ReasonAlreadyPresent,
			Detail:   now.Format("15:04"),
		}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	return Outcome{
		Status:     StatusAccepted,
		Identity:   identity,
		CourseName: entry.CourseName,
	}, nil
}

func enrolled(courses []string, courseCode string) bool {
	for _, c := range courses {
		if c == courseCode {
			return true
		}
	}
	return false
}
