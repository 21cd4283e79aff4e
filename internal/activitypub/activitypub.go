// Package activitypub implements the Activity Processor: a dispatch table
// over ActivityPub activity types that mutates the social graph, object
// store, reactions index, and reply index.
package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fedi3/fedi3/internal/dedup"
	"github.com/fedi3/fedi3/internal/models"
	"github.com/fedi3/fedi3/internal/objectfetch"
	"github.com/fedi3/fedi3/internal/storage"
)

// Outbox enqueues an activity for delivery to a single target actor,
// implemented by internal/delivery so this package stays free of the
// delivery queue's transport concerns.
type Outbox interface {
	Enqueue(ctx context.Context, activity map[string]interface{}, targetActorURL string) error
}

// Notifier emits a local UI event for a dispatch outcome, implemented by
// internal/uievent.
type Notifier interface {
	Notify(ctx context.Context, kind string, payload map[string]interface{})
}

// Processor is the Activity Processor. One instance per Node.
type Processor struct {
	Store         storage.Store
	Outbox        Outbox
	ObjectFetcher *objectfetch.Enqueuer
	Notifier      Notifier

	// LocalActorURL and FollowersURL identify the local actor so inbound
	// activities addressed to "me" and the followers magic value can be
	// recognized.
	LocalActorURL string
	FollowersURL  string

	Logger *slog.Logger
}

// Process parses raw and dispatches it to the matching handler. raw is
// retained on the parsed Activity so storage/dedup can operate on the
// exact bytes received.
func (p *Processor) Process(ctx context.Context, raw []byte) error {
	var activity models.Activity
	if err := json.Unmarshal(raw, &activity); err != nil {
		return fmt.Errorf("activitypub: unmarshal activity: %w", err)
	}
	activity.SetRaw(raw)

	p.logger().Debug("dispatching activity",
		slog.String("id", activity.ID),
		slog.String("type", activity.Type),
		slog.String("actor", activity.Actor))

	if err := p.logInbox(ctx, activity, raw); err != nil {
		return err
	}

	switch activity.Type {
	case "Follow":
		return p.handleFollow(ctx, activity)
	case "Accept":
		return p.handleAccept(ctx, activity)
	case "Reject":
		return p.handleReject(ctx, activity)
	case "Undo":
		return p.handleUndo(ctx, activity)
	case "Create":
		return p.handleCreate(ctx, activity)
	case "Update":
		return p.handleUpdate(ctx, activity)
	case "Delete":
		return p.handleDelete(ctx, activity)
	case "Like":
		return p.handleReaction(ctx, activity, models.ReactionLike)
	case "Announce":
		return p.handleReaction(ctx, activity, models.ReactionAnnounce)
	case "EmojiReact":
		return p.handleReaction(ctx, activity, models.ReactionEmojiReact)
	default:
		p.logger().Debug("unhandled activity type", slog.String("type", activity.Type))
		return nil
	}
}

func (p *Processor) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// logInbox records the activity verbatim in the inbox log before
// dispatch, so every accepted activity is durably retained regardless of
// how the handler below it resolves. Public activities (addressed to the
// AS2 public collection or this actor's followers collection) also land
// in the federated feed via storage's ListFederatedFeed query over the
// same table.
func (p *Processor) logInbox(ctx context.Context, activity models.Activity, raw []byte) error {
	dedupID, err := dedup.DeriveID(activity.ID, raw)
	if err != nil {
		return fmt.Errorf("activitypub: deriving inbox log id: %w", err)
	}
	audience := models.Audience{To: activity.To, Cc: activity.Cc, Bcc: activity.Bcc, Audience: activity.Audience}
	entry := models.InboxLogEntry{
		DedupID:    dedupID,
		ActivityID: activity.ID,
		Type:       activity.Type,
		Actor:      activity.Actor,
		Bytes:      raw,
		Public:     audience.IsPublic(p.FollowersURL),
		CreatedAt:  time.Now(),
	}
	if err := p.Store.InsertInboxLog(ctx, entry); err != nil {
		return fmt.Errorf("activitypub: inserting inbox log entry: %w", err)
	}
	return nil
}

// handleFollow adds a follower and enqueues an outbound Accept, per spec
// §4.4: "Follow(actor, object=me) → add follower; enqueue outbound
// Accept; emit notification."
func (p *Processor) handleFollow(ctx context.Context, activity models.Activity) error {
	if err := p.Store.UpsertFollower(ctx, models.Follower{ActorURL: activity.Actor}); err != nil {
		return fmt.Errorf("activitypub: storing follower: %w", err)
	}

	accept := map[string]interface{}{
		"id":     p.LocalActorURL + "#accepts/" + models.NewULID().String(),
		"type":   "Accept",
		"actor":  p.LocalActorURL,
		"object": activityAsMap(activity),
	}
	if p.Outbox != nil {
		if err := p.Outbox.Enqueue(ctx, accept, activity.Actor); err != nil {
			return fmt.Errorf("activitypub: enqueueing Accept: %w", err)
		}
	}
	p.notify(ctx, "Follow", map[string]interface{}{"actor": activity.Actor})
	return nil
}

// handleAccept marks a Following edge Accepted. The object may be an
// embedded Follow activity or a bare follow-id string; in the latter case
// the referenced Follow is looked up by id and the follow is only promoted
// if it was Pending, per invariant: a forged Accept referencing someone
// else's follow-id must not promote an edge it didn't originate (see
// Open Question resolution in DESIGN.md).
func (p *Processor) handleAccept(ctx context.Context, activity models.Activity) error {
	followID, innerActor, ok := parseFollowReference(activity.Object)
	if !ok {
		return nil
	}

	var following *models.Following
	var err error
	if followID != "" {
		following, err = p.Store.GetFollowingByFollowID(ctx, followID)
	} else if innerActor != "" {
		following, err = p.Store.GetFollowing(ctx, innerActor)
	}
	if err != nil {
		if err == storage.ErrNotFound {
			return nil
		}
		return fmt.Errorf("activitypub: looking up Following for Accept: %w", err)
	}
	if following == nil || following.Status != models.FollowPending {
		return nil
	}
	// Only the actor that was the object of our original Follow may
	// accept it; activity.Actor must be the followed actor.
	if activity.Actor != following.ActorURL {
		return nil
	}

	following.Status = models.FollowAccepted
	if err := p.Store.UpsertFollowing(ctx, *following); err != nil {
		return fmt.Errorf("activitypub: promoting Following to Accepted: %w", err)
	}
	p.notify(ctx, "Accept", map[string]interface{}{"actor": activity.Actor, "id": activity.ID})
	return nil
}

// handleReject removes a pending Following row.
func (p *Processor) handleReject(ctx context.Context, activity models.Activity) error {
	_, innerActor, ok := parseFollowReference(activity.Object)
	if !ok || innerActor == "" {
		return nil
	}
	following, err := p.Store.GetFollowing(ctx, innerActor)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil
		}
		return fmt.Errorf("activitypub: looking up Following for Reject: %w", err)
	}
	if following.Status != models.FollowPending {
		return nil
	}
	if activity.Actor != following.ActorURL {
		return nil
	}
	return p.Store.DeleteFollowing(ctx, innerActor)
}

// handleUndo dispatches on the inner activity's type. A string-form Undo
// (bare id, no embedded object) tries follower removal, then reaction
// removal by id.
func (p *Processor) handleUndo(ctx context.Context, activity models.Activity) error {
	var inner map[string]interface{}
	if err := json.Unmarshal(activity.Object, &inner); err != nil {
		// String-form undo: remove the sender as a follower, then remove
		// any reaction whose id is the referenced id.
		var innerID string
		if err2 := json.Unmarshal(activity.Object, &innerID); err2 != nil || innerID == "" {
			return nil
		}
		if err := p.Store.DeleteFollower(ctx, activity.Actor); err != nil {
			p.logger().Debug("undo: follower removal attempt failed", slog.String("error", err.Error()))
		}
		if err := p.Store.DeleteReactionByID(ctx, innerID); err != nil {
			p.logger().Debug("undo: reaction removal attempt failed", slog.String("error", err.Error()))
		}
		return nil
	}

	innerType, _ := inner["type"].(string)
	switch innerType {
	case "Follow":
		innerActor, _ := inner["actor"].(string)
		if innerActor == activity.Actor {
			return p.Store.DeleteFollower(ctx, activity.Actor)
		}
		return nil
	case "Like", "Announce", "EmojiReact":
		if id, _ := inner["id"].(string); id != "" {
			return p.Store.DeleteReactionByID(ctx, id)
		}
		objectID, _ := inner["object"].(string)
		content, _ := inner["content"].(string)
		return p.Store.DeleteReactionByKey(ctx, activity.Actor, objectID, models.ReactionType(innerType), content)
	default:
		return nil
	}
}

// handleCreate upserts the embedded Object, records a reply edge when
// inReplyTo is set, and enqueues an Object Fetch when the object is
// referenced by URL only.
func (p *Processor) handleCreate(ctx context.Context, activity models.Activity) error {
	return p.upsertObjectFromActivity(ctx, activity, true)
}

// handleUpdate mirrors handleCreate without the reply-edge side effect
// (an Update never introduces a new reply relationship).
func (p *Processor) handleUpdate(ctx context.Context, activity models.Activity) error {
	return p.upsertObjectFromActivity(ctx, activity, false)
}

func (p *Processor) upsertObjectFromActivity(ctx context.Context, activity models.Activity, recordReplyEdge bool) error {
	var objMap map[string]interface{}
	if err := json.Unmarshal(activity.Object, &objMap); err != nil {
		// Object is a bare URL reference with no embedded body: enqueue a
		// fetch rather than failing the whole activity.
		var objURL string
		if err2 := json.Unmarshal(activity.Object, &objURL); err2 == nil && objURL != "" && p.ObjectFetcher != nil {
			return p.ObjectFetcher.Enqueue(ctx, objURL)
		}
		return nil
	}

	obj := mapToObject(objMap)
	if obj.ID == "" {
		return nil
	}
	if err := p.Store.UpsertObject(ctx, obj); err != nil {
		return fmt.Errorf("activitypub: upserting object: %w", err)
	}

	if recordReplyEdge && obj.InReplyTo != "" {
		edge := models.ReplyEdge{ParentNoteID: obj.InReplyTo, ActivityID: activity.ID, CreatedAt: time.Now()}
		if activity.ID == "" {
			edge.ActivityID = obj.ID
		}
		if err := p.Store.InsertReplyEdge(ctx, edge); err != nil {
			return fmt.Errorf("activitypub: inserting reply edge: %w", err)
		}
	}
	return nil
}

// handleDelete marks the referenced object deleted. Only the owner of the
// object URL (same origin host as the activity actor) may delete it.
func (p *Processor) handleDelete(ctx context.Context, activity models.Activity) error {
	var objID string
	var tombstone *models.Tombstone
	var objMap map[string]interface{}
	if err := json.Unmarshal(activity.Object, &objMap); err == nil {
		if t, _ := objMap["type"].(string); t == "Tombstone" {
			ts := mapToTombstone(objMap)
			tombstone = &ts
			objID = ts.ID
		} else if id, _ := objMap["id"].(string); id != "" {
			objID = id
		}
	} else if err := json.Unmarshal(activity.Object, &objID); err != nil {
		return nil
	}
	if objID == "" {
		return nil
	}

	existing, err := p.Store.GetObject(ctx, objID)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil
		}
		return fmt.Errorf("activitypub: looking up object for Delete: %w", err)
	}
	if !sameOrigin(existing.AttributedTo, activity.Actor) {
		return nil
	}

	hadTombstone := tombstone != nil
	if tombstone == nil {
		now := time.Now()
		tombstone = &models.Tombstone{ID: objID, Type: "Tombstone", Deleted: &now}
	}
	if err := p.Store.MarkObjectDeleted(ctx, objID, tombstone); err != nil {
		return fmt.Errorf("activitypub: marking object deleted: %w", err)
	}

	// Bare-URL or bare-id Delete carries no Tombstone body, so the reason
	// for deletion is unknown here; schedule a refetch to pick up the
	// remote's actual Tombstone (or confirm a 410/404) instead of trusting
	// the synthetic one minted above.
	if !hadTombstone && p.ObjectFetcher != nil {
		if err := p.ObjectFetcher.Enqueue(ctx, objID); err != nil {
			return fmt.Errorf("activitypub: enqueueing refetch for deleted object: %w", err)
		}
	}
	return nil
}

// handleReaction upserts a Like/Announce/EmojiReact row, enqueueing an
// Object Fetch if the target object isn't stored locally yet.
func (p *Processor) handleReaction(ctx context.Context, activity models.Activity, typ models.ReactionType) error {
	var objectID string
	if err := json.Unmarshal(activity.Object, &objectID); err != nil {
		var objMap map[string]interface{}
		if err2 := json.Unmarshal(activity.Object, &objMap); err2 == nil {
			objectID, _ = objMap["id"].(string)
		}
	}
	if objectID == "" {
		return nil
	}

	reaction := models.Reaction{
		ActivityID: activity.ID,
		Type:       typ,
		Actor:      activity.Actor,
		ObjectID:   objectID,
		Content:    activity.Content,
		CreatedAt:  time.Now(),
	}
	if err := p.Store.UpsertReaction(ctx, reaction); err != nil {
		return fmt.Errorf("activitypub: upserting reaction: %w", err)
	}

	if _, err := p.Store.GetObject(ctx, objectID); err == storage.ErrNotFound && p.ObjectFetcher != nil {
		if err := p.ObjectFetcher.Enqueue(ctx, objectID); err != nil {
			return fmt.Errorf("activitypub: enqueueing object fetch for reaction target: %w", err)
		}
	}
	return nil
}

func (p *Processor) notify(ctx context.Context, kind string, payload map[string]interface{}) {
	if p.Notifier == nil {
		return
	}
	p.Notifier.Notify(ctx, kind, payload)
}
