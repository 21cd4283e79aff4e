package migration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fedi3/fedi3/internal/models"
	"github.com/fedi3/fedi3/internal/storage/memstore"
)

func TestSetMove(t *testing.T) {
	store := memstore.New()
	svc := New(store)

	if err := svc.SetMove(context.Background(), "alice", "https://new.example/users/alice"); err != nil {
		t.Fatalf("SetMove: %v", err)
	}

	m, err := store.GetUserMove(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetUserMove: %v", err)
	}
	if m.MovedToActor != "https://new.example/users/alice" {
		t.Errorf("MovedToActor = %q", m.MovedToActor)
	}
}

func sampleNotice() models.MigrationNotice {
	return models.MigrationNotice{
		Username:     "alice",
		MovedToActor: "https://new.example/users/alice",
		OldActor:     "https://old.example/users/alice",
		TsMs:         1700000000000,
		Nonce:        "abc123",
	}
}

func TestIngestNotice_FreshThenReplay(t *testing.T) {
	store := memstore.New()
	svc := New(store)
	notice := sampleNotice()

	id1, fresh1, err := svc.IngestNotice(context.Background(), notice, []byte(`{"ignored":"wire bytes"}`), 1)
	if err != nil {
		t.Fatalf("IngestNotice (first): %v", err)
	}
	if !fresh1 {
		t.Fatal("expected first ingestion to be fresh")
	}
	if id1 == "" {
		t.Fatal("expected non-empty notice id")
	}

	m, err := store.GetUserMove(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetUserMove: %v", err)
	}
	if m.MovedToActor != notice.MovedToActor {
		t.Errorf("MovedToActor = %q", m.MovedToActor)
	}

	id2, fresh2, err := svc.IngestNotice(context.Background(), notice, []byte(`{"ignored":"wire bytes"}`), 1)
	if err != nil {
		t.Fatalf("IngestNotice (replay): %v", err)
	}
	if fresh2 {
		t.Error("expected replay of identical notice to not be fresh")
	}
	if id2 != id1 {
		t.Errorf("replay notice id = %q, want %q (same content)", id2, id1)
	}
}

func TestIngestNotice_HopLimitExceeded(t *testing.T) {
	store := memstore.New()
	svc := New(store)
	_, _, err := svc.IngestNotice(context.Background(), sampleNotice(), nil, MaxHop+1)
	if err == nil {
		t.Fatal("expected hop-limit rejection")
	}
}

func TestNoticeID_StableAcrossNoticeIDField(t *testing.T) {
	notice := sampleNotice()
	notice.NoticeID = "whatever-the-sender-claimed"
	id1, err := NoticeID(notice)
	if err != nil {
		t.Fatalf("NoticeID: %v", err)
	}

	notice2 := sampleNotice()
	notice2.NoticeID = "something-else-entirely"
	id2, err := NoticeID(notice2)
	if err != nil {
		t.Fatalf("NoticeID: %v", err)
	}

	if id1 != id2 {
		t.Errorf("notice ids differ despite identical content sans NoticeID: %q vs %q", id1, id2)
	}
}

func TestScheduleFanout(t *testing.T) {
	store := memstore.New()
	svc := New(store)
	notice := sampleNotice()
	id, _, err := svc.IngestNotice(context.Background(), notice, []byte(`{}`), 0)
	if err != nil {
		t.Fatalf("IngestNotice: %v", err)
	}

	if err := svc.ScheduleFanout(context.Background(), id, []string{"https://relay-a.example", "https://relay-b.example"}); err != nil {
		t.Fatalf("ScheduleFanout: %v", err)
	}

	due, err := store.ListPendingMoveNoticeFanouts(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ListPendingMoveNoticeFanouts: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 pending fan-out rows, got %d", len(due))
	}
}

type fakeNotifier struct {
	calls []string
	fail  map[string]bool
}

func (f *fakeNotifier) NotifyRelay(ctx context.Context, relayURL string, noticeJSON []byte, hop int) error {
	f.calls = append(f.calls, relayURL)
	if f.fail[relayURL] {
		return errFakeNotify
	}
	return nil
}

var errFakeNotify = errors.New("fake notify failure")

func TestWorker_RunOnce_MarksSuccessAndRetriesFailure(t *testing.T) {
	store := memstore.New()
	svc := New(store)
	notice := sampleNotice()
	id, _, err := svc.IngestNotice(context.Background(), notice, []byte(`{}`), 0)
	if err != nil {
		t.Fatalf("IngestNotice: %v", err)
	}
	if err := svc.ScheduleFanout(context.Background(), id, []string{"https://good.example", "https://bad.example"}); err != nil {
		t.Fatalf("ScheduleFanout: %v", err)
	}

	notifier := &fakeNotifier{fail: map[string]bool{"https://bad.example": true}}
	worker := NewWorker(svc, notifier, nil)

	n, err := worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 attempted rows, got %d", n)
	}

	due, err := store.ListPendingMoveNoticeFanouts(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ListPendingMoveNoticeFanouts: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("bad.example should be gated by backoff immediately after a failed try, got %d still due", len(due))
	}
}
