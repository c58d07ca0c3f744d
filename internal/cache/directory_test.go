package cache

import (
	"context"
	"errors"
	"testing"
)

func testIdentity(id, tag string, courses ...string) Identity {
	return Identity{
		ID:         id,
		ExternalID: "ext-" + id,
		FullName:   "Person " + id,
		TagID:      tag,
		Courses:    courses,
	}
}

func TestReplaceDirectory_ReplacesBothCollections(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	err := c.ReplaceDirectory(ctx,
		[]Identity{testIdentity("1", "AA11", "CS101")},
		[]ScheduleEntry{{ID: "s1", CourseCode: "CS101", CourseName: "Intro", StartMinute: 480, EndMinute: 540, Days: []string{"Mon"}, KioskID: "K1"}},
	)
	if err != nil {
		t.Fatalf("first ReplaceDirectory failed: %v", err)
	}

	// Second generation drops the old identity entirely, mirroring a
	// remote deletion.
	err = c.ReplaceDirectory(ctx,
		[]Identity{testIdentity("2", "BB22", "CS102")},
		nil,
	)
	if err != nil {
		t.Fatalf("second ReplaceDirectory failed: %v", err)
	}

	if _, err := c.IdentityByTag(ctx, "AA11"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted identity still present, err = %v", err)
	}
	if _, err := c.IdentityByTag(ctx, "BB22"); err != nil {
		t.Errorf("new identity missing: %v", err)
	}
	if _, err := c.ActiveSchedule(ctx, "K1", "Mon", 500); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted schedule still present, err = %v", err)
	}
}

func TestReplaceDirectory_PreservesDescriptors(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	first := testIdentity("1", "AA11", "CS101")
	first.Descriptor = []byte{0x01, 0x02, 0x03}
	if err := c.ReplaceDirectory(ctx, []Identity{first}, nil); err != nil {
		t.Fatalf("ReplaceDirectory failed: %v", err)
	}

	// Remote records never carry descriptors; the cached one must survive
	// by external ID.
	refetched := testIdentity("1", "AA11", "CS101", "CS200")
	if err := c.ReplaceDirectory(ctx, []Identity{refetched}, nil); err != nil {
		t.Fatalf("ReplaceDirectory failed: %v", err)
	}

	got, err := c.IdentityByTag(ctx, "AA11")
	if err != nil {
		t.Fatalf("IdentityByTag failed: %v", err)
	}
	if string(got.Descriptor) != "\x01\x02\x03" {
		t.Errorf("descriptor not preserved: %v", got.Descriptor)
	}
	if len(got.Courses) != 2 {
		t.Errorf("fetched fields must win: courses = %v", got.Courses)
	}
}

func TestReplaceDirectory_DescriptorNotCarriedToNewPerson(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	first := testIdentity("1", "AA11")
	first.Descriptor = []byte{0xFF}
	if err := c.ReplaceDirectory(ctx, []Identity{first}, nil); err != nil {
		t.Fatalf("ReplaceDirectory failed: %v", err)
	}

	// Different external ID: no carry-over.
	if err := c.ReplaceDirectory(ctx, []Identity{testIdentity("2", "AA11")}, nil); err != nil {
		t.Fatalf("ReplaceDirectory failed: %v", err)
	}

	got, err := c.IdentityByTag(ctx, "AA11")
	if err != nil {
		t.Fatalf("IdentityByTag failed: %v", err)
	}
	if len(got.Descriptor) != 0 {
		t.Errorf("descriptor leaked across external IDs: %v", got.Descriptor)
	}
}

func TestSetDescriptor_SurvivesReplace(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	if err := c.ReplaceDirectory(ctx, []Identity{testIdentity("1", "AA11", "CS101")}, nil); err != nil {
		t.Fatalf("ReplaceDirectory failed: %v", err)
	}

	// The biometric collaborator computes descriptors locally, after the
	// identity arrived via Pull.
	if err := c.SetDescriptor(ctx, "ext-1", []byte{0x0A, 0x0B}); err != nil {
		t.Fatalf("SetDescriptor failed: %v", err)
	}

	got, err := c.IdentityByExternalID(ctx, "ext-1")
	if err != nil {
		t.Fatalf("IdentityByExternalID failed: %v", err)
	}
	if string(got.Descriptor) != "\x0a\x0b" {
		t.Errorf("descriptor not stored: %v", got.Descriptor)
	}

	// The next Pull replaces the directory; the local descriptor survives.
	if err := c.ReplaceDirectory(ctx, []Identity{testIdentity("1", "AA11", "CS101")}, nil); err != nil {
		t.Fatalf("ReplaceDirectory failed: %v", err)
	}
	got, err = c.IdentityByExternalID(ctx, "ext-1")
	if err != nil {
		t.Fatalf("IdentityByExternalID failed: %v", err)
	}
	if string(got.Descriptor) != "\x0a\x0b" {
		t.Errorf("descriptor lost across replacement: %v", got.Descriptor)
	}
}

func TestSetDescriptor_UnknownExternalID(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	err := c.SetDescriptor(ctx, "ext-missing", []byte{0x01})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown external ID: err = %v, expected ErrNotFound", err)
	}
}

func TestIdentityByTag_CaseInsensitiveFallback(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	if err := c.ReplaceDirectory(ctx, []Identity{testIdentity("1", "Aa11")}, nil); err != nil {
		t.Fatalf("ReplaceDirectory failed: %v", err)
	}

	// Exact match.
	if _, err := c.IdentityByTag(ctx, "Aa11"); err != nil {
		t.Errorf("exact lookup failed: %v", err)
	}

	// Folded fallback.
	got, err := c.IdentityByTag(ctx, "aa11")
	if err != nil {
		t.Fatalf("folded lookup failed: %v", err)
	}
	if got.TagID != "Aa11" {
		t.Errorf("folded lookup returned tag %q", got.TagID)
	}

	// Miss.
	if _, err := c.IdentityByTag(ctx, "ZZ99"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown tag: err = %v, expected ErrNotFound", err)
	}
}

func TestIdentityByTag_AmbiguousCaseIsRejected(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	// Two identities whose tags differ only by case: integrity violation.
	err := c.ReplaceDirectory(ctx, []Identity{
		testIdentity("1", "AA11"),
		testIdentity("2", "aa11"),
	}, nil)
	if err != nil {
		t.Fatalf("ReplaceDirectory failed: %v", err)
	}

	// An exact match still wins unambiguously.
	if _, err := c.IdentityByTag(ctx, "AA11"); err != nil {
		t.Errorf("exact lookup must bypass ambiguity: %v", err)
	}

	// A third casing can only fold, and the fold is ambiguous.
	if _, err := c.IdentityByTag(ctx, "Aa11"); !errors.Is(err, ErrAmbiguousTag) {
		t.Errorf("ambiguous fold: err = %v, expected ErrAmbiguousTag", err)
	}
}

func TestActiveSchedule_IntervalInclusiveBothEnds(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	err := c.ReplaceDirectory(ctx, nil, []ScheduleEntry{
		{ID: "s1", CourseCode: "CS101", CourseName: "Intro", StartMinute: 480, EndMinute: 540, Days: []string{"Mon", "Wed"}, KioskID: "K1"},
	})
	if err != nil {
		t.Fatalf("ReplaceDirectory failed: %v", err)
	}

	cases := []struct {
		name   string
		day    string
		minute int
		found  bool
	}{
		{"start boundary", "Mon", 480, true},
		{"end boundary", "Mon", 540, true},
		{"inside", "Wed", 500, true},
		{"before", "Mon", 479, false},
		{"after", "Mon", 541, false},
		{"wrong day", "Tue", 500, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entry, err := c.ActiveSchedule(ctx, "K1", tc.day, tc.minute)
			if tc.found {
				if err != nil {
					t.Fatalf("expected match, got %v", err)
				}
				if entry.CourseCode != "CS101" {
					t.Errorf("matched course %q", entry.CourseCode)
				}
			} else if !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestActiveSchedule_ScopedToKiosk(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	err := c.ReplaceDirectory(ctx, nil, []ScheduleEntry{
		{ID: "s1", CourseCode: "CS101", CourseName: "Intro", StartMinute: 480, EndMinute: 540, Days: []string{"Mon"}, KioskID: "K1"},
	})
	if err != nil {
		t.Fatalf("ReplaceDirectory failed: %v", err)
	}

	if _, err := c.ActiveSchedule(ctx, "K2", "Mon", 500); !errors.Is(err, ErrNotFound) {
		t.Errorf("schedule leaked across kiosks, err = %v", err)
	}
}
