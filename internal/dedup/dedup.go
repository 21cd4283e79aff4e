// Package dedup derives a stable dedup id for an inbound activity and
// guards first-seen processing atomically, via the storage port's
// MarkSeenOnce (INSERT ... ON CONFLICT DO NOTHING, return whether this
// call inserted the row) and internal/canonjson for the fallback hash
// when an activity carries no explicit id.
package dedup

import (
	"context"
	"fmt"

	"github.com/fedi3/fedi3/internal/canonjson"
	"github.com/fedi3/fedi3/internal/storage"
)

// Deduplicator wraps the storage port's MarkSeenOnce with dedup-id
// derivation.
type Deduplicator struct {
	store storage.Store
}

func New(store storage.Store) *Deduplicator {
	return &Deduplicator{store: store}
}

// DeriveID returns activity.id if non-empty, else
// urn:fedi3:inbox:<hex(SHA-256(canonical-json(activityRaw)))>.
func DeriveID(activityID string, activityRaw []byte) (string, error) {
	if activityID != "" {
		return activityID, nil
	}
	canon, err := canonjson.MarshalRaw(activityRaw)
	if err != nil {
		return "", fmt.Errorf("dedup: canonicalizing activity: %w", err)
	}
	return "urn:fedi3:inbox:" + canonjson.SHA256Hex(canon), nil
}

// MarkSeen atomically records dedupID as seen and reports whether this
// call is the first to do so. Callers must treat a false return as "drop
// silently, do not reprocess."
func (d *Deduplicator) MarkSeen(ctx context.Context, dedupID string) (firstSeen bool, err error) {
	return d.store.MarkSeenOnce(ctx, dedupID)
}

// MarkSeenActivity derives the dedup id from activityID/activityRaw and
// marks it seen in one call, the shape the Activity Processor's inbound
// path actually needs.
func (d *Deduplicator) MarkSeenActivity(ctx context.Context, activityID string, activityRaw []byte) (dedupID string, firstSeen bool, err error) {
	dedupID, err = DeriveID(activityID, activityRaw)
	if err != nil {
		return "", false, err
	}
	firstSeen, err = d.store.MarkSeenOnce(ctx, dedupID)
	if err != nil {
		return dedupID, false, err
	}
	return dedupID, firstSeen, nil
}
