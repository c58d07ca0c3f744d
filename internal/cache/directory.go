package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ReplaceDirectory replaces both mirrored collections in one transaction.
//
// Locally computed biometric descriptors are carried over from the previous
// generation by external ID before the clear, so a Pull never discards work
// the kiosk did while offline. A failure at any point rolls back, leaving
// the previous directory fully intact.
func (c *Cache) ReplaceDirectory(ctx context.Context, identities []Identity, schedules []ScheduleEntry) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("replace directory: begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	descriptors, err := readDescriptors(ctx, tx)
	if err != nil {
		return storageErr("replace directory: read descriptors", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM identities`); err != nil {
		return storageErr("replace directory: clear identities", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM schedule_entries`); err != nil {
		return storageErr("replace directory: clear schedules", err)
	}

	for _, id := range identities {
		merged := mergeIdentity(id, descriptors[id.ExternalID])
		if err := insertIdentity(ctx, tx, merged); err != nil {
			return storageErr("replace directory: insert identity", err)
		}
	}

	for _, entry := range schedules {
		if err := insertSchedule(ctx, tx, entry); err != nil {
			return storageErr("replace directory: insert schedule", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("replace directory: commit", err)
	}

	return nil
}

// mergeIdentity combines a freshly fetched identity with the previously
// cached descriptor. The fetched record wins for every field; the
// allow-list of cache-local fields carried over is exactly: Descriptor.
// Anything not named here is intentionally dropped with the old row.
func mergeIdentity(fetched Identity, cachedDescriptor []byte) Identity {
	if len(fetched.Descriptor) == 0 && len(cachedDescriptor) > 0 {
		fetched.Descriptor = cachedDescriptor
	}
	return fetched
}

// readDescriptors snapshots external_id -> descriptor for the current
// generation. Only non-empty descriptors are kept.
func readDescriptors(ctx context.Context, tx *sql.Tx) (map[string][]byte, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT external_id, descriptor FROM identities
		WHERE descriptor IS NOT NULL AND length(descriptor) > 0
	`)
	if err != nil {
		return nil, fmt.Errorf("query descriptors: %w", err)
	}
	defer rows.Close()

	descriptors := make(map[string][]byte)
	for rows.Next() {
		var externalID string
		var descriptor []byte
		if err := rows.Scan(&externalID, &descriptor); err != nil {
			return nil, fmt.Errorf("scan descriptor: %w", err)
		}
		descriptors[externalID] = descriptor
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate descriptors: %w", err)
	}

	return descriptors, nil
}

func insertIdentity(ctx context.Context, tx *sql.Tx, id Identity) error {
	courses, err := marshalStrings(id.Courses)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO identities
		(id, external_id, full_name, tag_id, tag_fold, courses, descriptor)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		id.ID,
		id.ExternalID,
		id.FullName,
		id.TagID,
		foldTag(id.TagID),
		courses,
		id.Descriptor,
	)
	return err
}

func insertSchedule(ctx context.Context, tx *sql.Tx, entry ScheduleEntry) error {
	days, err := marshalStrings(entry.Days)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO schedule_entries
		(id, course_code, course_name, start_minute, end_minute, days, kiosk_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		entry.CourseCode,
		entry.CourseName,
		entry.StartMinute,
		entry.EndMinute,
		days,
		entry.KioskID,
	)
	return err
}

// IdentityByTag looks up an identity by proximity tag.
//
// The exact tag is tried first. On a miss, the lookup retries against the
// case-folded tag column. A folded match that hits more than one identity
// means two records differ only by tag case - a data integrity violation -
// and returns ErrAmbiguousTag instead of silently picking one.
func (c *Cache) IdentityByTag(ctx context.Context, tag string) (*Identity, error) {
	id, err := c.identityWhere(ctx, `tag_id = ?`, tag)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	matches, err := c.identitiesWhere(ctx, `tag_fold = ?`, foldTag(tag))
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return &matches[0], nil
	default:
		return nil, ErrAmbiguousTag
	}
}

// IdentityByExternalID looks up an identity by its remote external ID.
func (c *Cache) IdentityByExternalID(ctx context.Context, externalID string) (*Identity, error) {
	return c.identityWhere(ctx, `external_id = ?`, externalID)
}

// SetDescriptor stores a locally computed biometric descriptor on the
// identity with the given external ID. Descriptors are local-only state:
// Pull never carries one, and ReplaceDirectory preserves them by external
// ID, so a descriptor written here survives directory replacement.
// Returns ErrNotFound when no identity matches.
func (c *Cache) SetDescriptor(ctx context.Context, externalID string, descriptor []byte) error {
	result, err := c.db.ExecContext(ctx, `
		UPDATE identities SET descriptor = ? WHERE external_id = ?
	`, descriptor, externalID)
	if err != nil {
		return storageErr("set descriptor", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return storageErr("set descriptor: rows affected", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *Cache) identityWhere(ctx context.Context, where string, arg any) (*Identity, error) {
	matches, err := c.identitiesWhere(ctx, where, arg)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	return &matches[0], nil
}

func (c *Cache) identitiesWhere(ctx context.Context, where string, arg any) ([]Identity, error) {
	// Deterministic ordering keeps repeated lookups stable.
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, external_id, full_name, tag_id, courses, descriptor
		FROM identities
		WHERE `+where+`
		ORDER BY id COLLATE BINARY ASC
	`, arg)
	if err != nil {
		return nil, storageErr("query identities", err)
	}
	defer rows.Close()

	var identities []Identity
	for rows.Next() {
		var id Identity
		var courses string
		if err := rows.Scan(&id.ID, &id.ExternalID, &id.FullName, &id.TagID, &courses, &id.Descriptor); err != nil {
			return nil, storageErr("scan identity", err)
		}
		if id.Courses, err = unmarshalStrings(courses); err != nil {
			return nil, storageErr("decode identity courses", err)
		}
		identities = append(identities, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate identities", err)
	}

	return identities, nil
}

// ActiveSchedule returns the schedule entry for the kiosk whose day set
// contains the given weekday abbreviation and whose inclusive
// [start, end] minute interval contains the given minute.
// Returns ErrNotFound when no class is active.
func (c *Cache) ActiveSchedule(ctx context.Context, kioskID, day string, minute int) (*ScheduleEntry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, course_code, course_name, start_minute, end_minute, days, kiosk_id
		FROM schedule_entries
		WHERE kiosk_id = ? AND start_minute <= ? AND end_minute >= ?
		ORDER BY start_minute ASC, id COLLATE BINARY ASC
	`, kioskID, minute, minute)
	if err != nil {
		return nil, storageErr("query schedules", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entry ScheduleEntry
		var days string
		if err := rows.Scan(&entry.ID, &entry.CourseCode, &entry.CourseName, &entry.StartMinute, &entry.EndMinute, &days, &entry.KioskID); err != nil {
			return nil, storageErr("scan schedule", err)
		}
		if entry.Days, err = unmarshalStrings(days); err != nil {
			return nil, storageErr("decode schedule days", err)
		}
		for _, d := range entry.Days {
			if d == day {
				return &entry, nil
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate schedules", err)
	}

	return nil, ErrNotFound
}
