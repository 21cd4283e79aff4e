// Package migration implements the Relay's User-migration Notices:
// admin/user-authorized "moved-to" mapping updates, signed notice
// ingestion with a bounded hop count, and a per-(notice, relay) retry
// ledger for fan-out. Notice ids use internal/canonjson's
// SHA-256-of-canonical-bytes approach, the same one dedup ids use, and
// retries back off per models.BackoffFor's `2^min(tries,8)` formula.
package migration

import (
	"context"
	"time"

	"github.com/fedi3/fedi3/internal/apperr"
	"github.com/fedi3/fedi3/internal/canonjson"
	"github.com/fedi3/fedi3/internal/models"
	"github.com/fedi3/fedi3/internal/storage"
)

// MaxHop bounds notice propagation: the hop header must be <= 5.
const MaxHop = 5

// Service implements the move-mapping update and move-notice ingestion
// operations.
type Service struct {
	Store storage.Store
}

func New(store storage.Store) *Service {
	return &Service{Store: store}
}

// SetMove sets (username -> moved_to_actor) for an admin- or
// user-authorized move request. Authorization itself is the caller's
// responsibility (internal/auth's admin/user token checks); this method
// assumes the caller has already verified the request.
func (s *Service) SetMove(ctx context.Context, username, movedToActor string) error {
	return s.Store.SetUserMove(ctx, models.UserMove{
		Username:     username,
		MovedToActor: movedToActor,
		MovedAt:      time.Now(),
	})
}

// NoticeID derives the content-addressed id of a migration notice: the
// hex SHA-256 of its canonical JSON bytes with NoticeID itself cleared
// (the field is always derived, never trusted from the wire).
func NoticeID(n models.MigrationNotice) (string, error) {
	n.NoticeID = ""
	canon, err := canonjson.Marshal(n)
	if err != nil {
		return "", apperr.Wrap(apperr.BadInput, "canonicalizing migration notice", err)
	}
	return canonjson.SHA256Hex(canon), nil
}

// IngestNotice validates hop, derives notice_id, and on first sighting
// updates the move mapping and persists the notice. Returns the notice id
// and whether this call newly inserted it — callers schedule fan-out to
// known relays only when fresh is true.
func (s *Service) IngestNotice(ctx context.Context, n models.MigrationNotice, noticeJSON []byte, hop int) (noticeID string, fresh bool, err error) {
	if hop > MaxHop {
		return "", false, apperr.New(apperr.BadInput, "migration notice hop count exceeds limit")
	}

	id, err := NoticeID(n)
	if err != nil {
		return "", false, err
	}

	inserted, err := s.Store.InsertMoveNotice(ctx, id, noticeJSON)
	if err != nil {
		return "", false, apperr.Wrap(apperr.Internal, "storing migration notice", err)
	}
	if !inserted {
		return id, false, nil
	}

	if err := s.Store.SetUserMove(ctx, models.UserMove{
		Username:     n.Username,
		MovedToActor: n.MovedToActor,
		MovedAt:      time.Now(),
	}); err != nil {
		return "", false, apperr.Wrap(apperr.Internal, "updating move mapping", err)
	}

	return id, true, nil
}

// ScheduleFanout seeds the retry ledger for a freshly-ingested notice
// against every known relay, so the fan-out worker picks them up on its
// next pass.
func (s *Service) ScheduleFanout(ctx context.Context, noticeID string, relayURLs []string) error {
	for _, relayURL := range relayURLs {
		if err := s.Store.UpsertMoveNoticeFanout(ctx, models.MoveNoticeFanout{
			NoticeID: noticeID,
			RelayURL: relayURL,
		}); err != nil {
			return apperr.Wrap(apperr.Internal, "seeding move-notice fan-out ledger", err)
		}
	}
	return nil
}
