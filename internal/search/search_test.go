package search

import (
	"encoding/json"
	"testing"
)

func TestIndexConstants(t *testing.T) {
	indexes := map[string]string{
		"notes":  IndexNotes,
		"actors": IndexActors,
		"relays": IndexRelays,
	}

	for expected, actual := range indexes {
		if actual != expected {
			t.Errorf("index constant = %q, want %q", actual, expected)
		}
	}
}

func TestNoteDoc_JSON(t *testing.T) {
	doc := NoteDoc{
		ID:        "https://node.example/notes/1",
		ActorURL:  "https://node.example/users/alice",
		Content:   "hello fediverse",
		Public:    true,
		CreatedAt: 1707566400,
	}

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	var decoded NoteDoc
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}

	if decoded.ID != doc.ID {
		t.Errorf("id = %q, want %q", decoded.ID, doc.ID)
	}
	if decoded.Content != doc.Content {
		t.Errorf("content = %q, want %q", decoded.Content, doc.Content)
	}
	if decoded.CreatedAt != doc.CreatedAt {
		t.Errorf("created_at = %d, want %d", decoded.CreatedAt, doc.CreatedAt)
	}
}

func TestNoteDoc_OmitEmptyInReplyTo(t *testing.T) {
	doc := NoteDoc{
		ID:       "https://node.example/notes/2",
		ActorURL: "https://node.example/users/bob",
		Content:  "top-level note",
	}

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	var raw map[string]interface{}
	json.Unmarshal(data, &raw)

	if _, exists := raw["in_reply_to"]; exists {
		t.Error("in_reply_to should be omitted when empty")
	}
}

func TestActorDoc_JSON(t *testing.T) {
	displayName := "Alice"
	doc := ActorDoc{
		ID:             "https://node.example/users/alice",
		Username:       "alice",
		InstanceDomain: "node.example",
		DisplayName:    &displayName,
	}

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	var decoded ActorDoc
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}

	if decoded.Username != "alice" {
		t.Errorf("username = %q, want %q", decoded.Username, "alice")
	}
	if decoded.DisplayName == nil || *decoded.DisplayName != "Alice" {
		t.Errorf("display_name = %v, want %q", decoded.DisplayName, "Alice")
	}
}

func TestActorDoc_OmitEmptyDisplayName(t *testing.T) {
	doc := ActorDoc{
		ID:       "https://node.example/users/bob",
		Username: "bob",
	}

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	var raw map[string]interface{}
	json.Unmarshal(data, &raw)

	if _, exists := raw["display_name"]; exists {
		t.Error("display_name should be omitted when nil")
	}
}

func TestRelayDoc_JSON(t *testing.T) {
	doc := RelayDoc{
		ID:          "https://relay.example",
		BaseDomain:  "relay.example",
		OnlineUsers: 42,
	}

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	var decoded RelayDoc
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}

	if decoded.BaseDomain != "relay.example" {
		t.Errorf("base_domain = %q, want %q", decoded.BaseDomain, "relay.example")
	}
	if decoded.OnlineUsers != 42 {
		t.Errorf("online_users = %d, want 42", decoded.OnlineUsers)
	}
}

func TestSearchRequest_NormalizedLimit(t *testing.T) {
	req := SearchRequest{Query: "hello", Index: IndexNotes}
	if req.Limit != 0 {
		t.Errorf("default limit = %d, want 0", req.Limit)
	}
	if got := req.normalizedLimit(); got != 20 {
		t.Errorf("normalized limit = %d, want 20", got)
	}

	req.Limit = 500
	if got := req.normalizedLimit(); got != 20 {
		t.Errorf("out-of-range limit should normalize to 20, got %d", got)
	}

	req.Limit = 5
	if got := req.normalizedLimit(); got != 5 {
		t.Errorf("in-range limit should pass through, got %d", got)
	}
}

func TestSearchResult_JSON(t *testing.T) {
	result := SearchResult{
		IDs:              []string{"https://node.example/notes/1"},
		EstimatedTotal:   100,
		ProcessingTimeMs: 5,
	}

	data, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	var decoded SearchResult
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}

	if decoded.EstimatedTotal != 100 {
		t.Errorf("estimated_total = %d, want 100", decoded.EstimatedTotal)
	}
	if decoded.ProcessingTimeMs != 5 {
		t.Errorf("processing_time_ms = %d, want 5", decoded.ProcessingTimeMs)
	}
	if len(decoded.IDs) != 1 {
		t.Errorf("IDs length = %d, want 1", len(decoded.IDs))
	}
}

func TestSearchResult_EmptyIDs(t *testing.T) {
	result := SearchResult{IDs: []string{}, EstimatedTotal: 0}

	data, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	var decoded SearchResult
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}

	if len(decoded.IDs) != 0 {
		t.Errorf("IDs length = %d, want 0", len(decoded.IDs))
	}
}

func TestDocOpts(t *testing.T) {
	opts := docOpts()
	if opts == nil {
		t.Fatal("docOpts returned nil")
	}
	if opts.PrimaryKey == nil {
		t.Fatal("PrimaryKey is nil")
	}
	if *opts.PrimaryKey != "id" {
		t.Errorf("PrimaryKey = %q, want %q", *opts.PrimaryKey, "id")
	}
}

func TestDocBody(t *testing.T) {
	name := "Alice"
	cases := []struct {
		doc    interface{}
		wantID string
	}{
		{NoteDoc{ID: "n1", Content: "hi"}, "n1"},
		{ActorDoc{ID: "a1", Username: "alice", DisplayName: &name}, "a1"},
		{RelayDoc{ID: "r1", BaseDomain: "relay.example"}, "r1"},
	}

	for _, tt := range cases {
		id, body, err := docBody(tt.doc)
		if err != nil {
			t.Fatalf("docBody(%T): %v", tt.doc, err)
		}
		if id != tt.wantID {
			t.Errorf("docBody(%T) id = %q, want %q", tt.doc, id, tt.wantID)
		}
		if body == "" {
			t.Errorf("docBody(%T) returned empty body", tt.doc)
		}
	}

	if _, _, err := docBody("not a doc"); err == nil {
		t.Error("expected error for unsupported doc type")
	}
}
