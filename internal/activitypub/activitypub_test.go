package activitypub

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/fedi3/fedi3/internal/models"
	"github.com/fedi3/fedi3/internal/objectfetch"
	"github.com/fedi3/fedi3/internal/storage"
	"github.com/fedi3/fedi3/internal/storage/sqlitestore"
)

type fakeOutbox struct {
	calls []map[string]interface{}
	targets []string
}

func (f *fakeOutbox) Enqueue(ctx context.Context, activity map[string]interface{}, target string) error {
	f.calls = append(f.calls, activity)
	f.targets = append(f.targets, target)
	return nil
}

func newTestProcessor(t *testing.T) (*Processor, storage.Store, *fakeOutbox) {
	t.Helper()
	ctx := context.Background()
	store, err := sqlitestore.New(ctx, ":memory:", slog.Default())
	if err != nil {
		t.Fatalf("opening sqlite store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ob := &fakeOutbox{}
	p := &Processor{
		Store:         store,
		Outbox:        ob,
		ObjectFetcher: objectfetch.NewEnqueuer(store),
		LocalActorURL: "https://node.example/users/me",
		FollowersURL:  "https://node.example/users/me/followers",
	}
	return p, store, ob
}

func TestHandleFollow_AddsFollowerAndEnqueuesAccept(t *testing.T) {
	p, store, ob := newTestProcessor(t)
	ctx := context.Background()

	raw := []byte(`{"id":"https://remote.example/activities/1","type":"Follow","actor":"https://remote.example/users/alice","object":"https://node.example/users/me"}`)
	if err := p.Process(ctx, raw); err != nil {
		t.Fatalf("Process: %v", err)
	}

	followers, _, err := store.ListFollowers(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListFollowers: %v", err)
	}
	if len(followers) != 1 || followers[0].ActorURL != "https://remote.example/users/alice" {
		t.Errorf("unexpected followers: %+v", followers)
	}

	if len(ob.calls) != 1 {
		t.Fatalf("expected 1 outbound Accept, got %d", len(ob.calls))
	}
	if ob.targets[0] != "https://remote.example/users/alice" {
		t.Errorf("Accept target = %q, want remote actor", ob.targets[0])
	}
	if ob.calls[0]["type"] != "Accept" {
		t.Errorf("expected Accept activity, got %+v", ob.calls[0])
	}
}

func TestHandleAccept_PromotesPendingFollowing(t *testing.T) {
	p, store, _ := newTestProcessor(t)
	ctx := context.Background()

	following := models.Following{ActorURL: "https://remote.example/users/bob", Status: models.FollowPending, FollowID: "https://node.example/follows/1"}
	if err := store.UpsertFollowing(ctx, following); err != nil {
		t.Fatalf("seeding Following: %v", err)
	}

	raw := []byte(`{"id":"https://remote.example/activities/2","type":"Accept","actor":"https://remote.example/users/bob","object":"https://node.example/follows/1"}`)
	if err := p.Process(ctx, raw); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, err := store.GetFollowing(ctx, "https://remote.example/users/bob")
	if err != nil {
		t.Fatalf("GetFollowing: %v", err)
	}
	if got.Status != models.FollowAccepted {
		t.Errorf("status = %q, want Accepted", got.Status)
	}
}

func TestHandleAccept_IgnoresForgedAcceptFromWrongActor(t *testing.T) {
	p, store, _ := newTestProcessor(t)
	ctx := context.Background()

	following := models.Following{ActorURL: "https://remote.example/users/bob", Status: models.FollowPending, FollowID: "https://node.example/follows/2"}
	if err := store.UpsertFollowing(ctx, following); err != nil {
		t.Fatalf("seeding Following: %v", err)
	}

	raw := []byte(`{"id":"https://evil.example/activities/9","type":"Accept","actor":"https://evil.example/users/mallory","object":"https://node.example/follows/2"}`)
	if err := p.Process(ctx, raw); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, err := store.GetFollowing(ctx, "https://remote.example/users/bob")
	if err != nil {
		t.Fatalf("GetFollowing: %v", err)
	}
	if got.Status != models.FollowPending {
		t.Errorf("status = %q, want still Pending after forged Accept", got.Status)
	}
}

func TestHandleUndo_RemovesFollower(t *testing.T) {
	p, store, _ := newTestProcessor(t)
	ctx := context.Background()

	if err := store.UpsertFollower(ctx, models.Follower{ActorURL: "https://remote.example/users/carol"}); err != nil {
		t.Fatalf("seeding follower: %v", err)
	}

	raw := []byte(`{"id":"https://remote.example/activities/3","type":"Undo","actor":"https://remote.example/users/carol","object":{"type":"Follow","actor":"https://remote.example/users/carol","object":"https://node.example/users/me"}}`)
	if err := p.Process(ctx, raw); err != nil {
		t.Fatalf("Process: %v", err)
	}

	followers, _, err := store.ListFollowers(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListFollowers: %v", err)
	}
	if len(followers) != 0 {
		t.Errorf("expected follower removed, got %+v", followers)
	}
}

func TestHandleCreate_UpsertsObjectAndReplyEdge(t *testing.T) {
	p, store, _ := newTestProcessor(t)
	ctx := context.Background()

	parent := models.Object{ID: "https://remote.example/notes/1", Type: "Note", AttributedTo: "https://remote.example/users/dave"}
	if err := store.UpsertObject(ctx, parent); err != nil {
		t.Fatalf("seeding parent object: %v", err)
	}

	raw := []byte(`{"id":"https://remote.example/activities/4","type":"Create","actor":"https://remote.example/users/dave","object":{"id":"https://remote.example/notes/2","type":"Note","attributedTo":"https://remote.example/users/dave","content":"hello","inReplyTo":"https://remote.example/notes/1"}}`)
	if err := p.Process(ctx, raw); err != nil {
		t.Fatalf("Process: %v", err)
	}

	obj, err := store.GetObject(ctx, "https://remote.example/notes/2")
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if obj.Content != "hello" {
		t.Errorf("content = %q, want hello", obj.Content)
	}

	replies, _, err := store.ListReplies(ctx, "https://remote.example/notes/1", "", 10)
	if err != nil {
		t.Fatalf("ListReplies: %v", err)
	}
	if len(replies) != 1 {
		t.Errorf("expected 1 reply edge, got %d", len(replies))
	}
}

func TestHandleDelete_OnlyOwnerCanDelete(t *testing.T) {
	p, store, _ := newTestProcessor(t)
	ctx := context.Background()

	obj := models.Object{ID: "https://remote.example/notes/3", Type: "Note", AttributedTo: "https://remote.example/users/erin"}
	if err := store.UpsertObject(ctx, obj); err != nil {
		t.Fatalf("seeding object: %v", err)
	}

	rawWrongActor := []byte(`{"id":"https://evil.example/activities/5","type":"Delete","actor":"https://evil.example/users/mallory","object":"https://remote.example/notes/3"}`)
	if err := p.Process(ctx, rawWrongActor); err != nil {
		t.Fatalf("Process (wrong actor): %v", err)
	}
	got, err := store.GetObject(ctx, "https://remote.example/notes/3")
	if err != nil {
		t.Fatalf("GetObject after wrong-actor delete: %v", err)
	}
	if got.Deleted {
		t.Error("object should not be deleted by a non-owner actor")
	}

	rawOwner := []byte(`{"id":"https://remote.example/activities/6","type":"Delete","actor":"https://remote.example/users/erin","object":"https://remote.example/notes/3"}`)
	if err := p.Process(ctx, rawOwner); err != nil {
		t.Fatalf("Process (owner): %v", err)
	}
	got, err = store.GetObject(ctx, "https://remote.example/notes/3")
	if err != nil {
		t.Fatalf("GetObject after owner delete: %v", err)
	}
	if !got.Deleted {
		t.Error("object should be marked deleted by its owner")
	}
}

func TestHandleReaction_UpsertsAndEnqueuesFetchForMissingObject(t *testing.T) {
	p, store, _ := newTestProcessor(t)
	ctx := context.Background()

	raw := []byte(`{"id":"https://remote.example/activities/7","type":"Like","actor":"https://remote.example/users/frank","object":"https://remote.example/notes/999"}`)
	if err := p.Process(ctx, raw); err != nil {
		t.Fatalf("Process: %v", err)
	}

	counts, err := store.ListReactionCounts(ctx, "https://remote.example/notes/999", 10)
	if err != nil {
		t.Fatalf("ListReactionCounts: %v", err)
	}
	if len(counts) != 1 || counts[0].Count != 1 {
		t.Errorf("unexpected reaction counts: %+v", counts)
	}

	items, err := store.LeaseObjectFetches(ctx, time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("LeaseObjectFetches: %v", err)
	}
	found := false
	for _, it := range items {
		if it.URL == "https://remote.example/notes/999" {
			found = true
		}
	}
	if !found {
		t.Error("expected an object-fetch item enqueued for the missing reaction target")
	}
}
