package validate

import "github.com/tapin/kioskd/internal/cache"

// Status is the terminal state of one scan.
type Status int

const (
	// StatusAccepted means a new pending attendance row was committed.
	StatusAccepted Status = iota + 1
	// StatusRejected means the scan failed a validation step; Reason says
	// which. Rejections are expected business outcomes, not errors.
	StatusRejected
	// StatusDiscarded means the token was absorbed by the rate limiter
	// (hardware chatter). Nothing is reported to the UI.
	StatusDiscarded
)

// Reason categorizes a rejection.
type Reason string

const (
	// ReasonNotRegistered: no identity matches the tag.
	ReasonNotRegistered Reason = "NOT_REGISTERED"
	// ReasonAmbiguousTag: two identities differ only by tag case.
	ReasonAmbiguousTag Reason = "AMBIGUOUS_TAG"
	// ReasonNoActiveClass: no schedule window covers the current time.
	ReasonNoActiveClass Reason = "NO_ACTIVE_CLASS"
	// ReasonNotEnrolled: the identity is not enrolled in the active course.
	ReasonNotEnrolled Reason = "NOT_ENROLLED"
	// ReasonAlreadyPresent: attendance already recorded today.
	ReasonAlreadyPresent Reason = "ALREADY_PRESENT"
)

// Outcome is the typed result of one scan.
type Outcome struct {
	Status Status

	// Identity is set for accepted scans and for rejections past the
	// identity lookup step.
	Identity *cache.Identity

	// CourseName is set for accepted scans and NotEnrolled rejections.
	CourseName string

	// Reason is set for rejected scans.
	Reason Reason

	// Detail carries the reason's context for the UI: the current time for
	// NoActiveClass, the course name for NotEnrolled, the prior timestamp
	// for AlreadyPresent.
	Detail string
}

// Accepted reports whether the scan committed a new attendance row.
func (o Outcome) Accepted() bool {
	return o.Status == StatusAccepted
}
