// Package search implements the search port (an upsert/search contract)
// that backs the Relay's federated-feed and mesh-note search surface: a
// Meilisearch adapter for Relay deployments and a SQLite FTS5 fallback
// for a single-operator Node.
package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meilisearch/meilisearch-go"
)

// Index names, one per searchable document kind.
const (
	IndexNotes  = "notes"
	IndexActors = "actors"
	IndexRelays = "relays"
)

// NoteDoc indexes a public Note/Article for cross-relay search.
type NoteDoc struct {
	ID         string `json:"id"`
	ActorURL   string `json:"actor_url"`
	InReplyTo  string `json:"in_reply_to,omitempty"`
	Content    string `json:"content"`
	Public     bool   `json:"public"`
	RelayURL   string `json:"relay_url,omitempty"`
	CreatedAt  int64  `json:"created_at"`
}

// ActorDoc indexes an actor summary for directory/actor search.
type ActorDoc struct {
	ID             string  `json:"id"` // actor URL
	Username       string  `json:"username"`
	InstanceDomain string  `json:"instance_domain,omitempty"`
	DisplayName    *string `json:"display_name,omitempty"`
}

// RelayDoc indexes a known relay for directory/relay discovery search.
type RelayDoc struct {
	ID          string `json:"id"` // relay_url
	BaseDomain  string `json:"base_domain,omitempty"`
	OnlineUsers int    `json:"online_users"`
}

// SearchRequest is the core `search(query, filters, sort, cursor)` port.
type SearchRequest struct {
	Query   string
	Index   string
	Filters string
	Sort    []string
	Cursor  string
	Limit   int
	Offset  int
}

func (r SearchRequest) normalizedLimit() int {
	if r.Limit <= 0 || r.Limit > 100 {
		return 20
	}
	return r.Limit
}

// SearchResult is one page of matching document ids.
type SearchResult struct {
	IDs              []string `json:"ids"`
	EstimatedTotal   int64    `json:"estimated_total"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
	NextCursor       string   `json:"next_cursor,omitempty"`
}

// Adapter is the search port every backend implements: `upsert(doc)` and
// `search(query, filters, sort, cursor) -> page`.
type Adapter interface {
	Upsert(ctx context.Context, index string, doc interface{}) error
	Search(ctx context.Context, req SearchRequest) (SearchResult, error)
}

// docOpts pins "id" as the primary key for every index this package
// manages (NoteDoc/ActorDoc/RelayDoc all use an "id" field).
func docOpts() *meilisearch.DocumentsQuery {
	primaryKey := "id"
	return &meilisearch.DocumentsQuery{PrimaryKey: &primaryKey}
}

// MeiliAdapter upserts/searches via a Meilisearch instance.
type MeiliAdapter struct {
	client meilisearch.ServiceManager
}

func NewMeiliAdapter(host, apiKey string) *MeiliAdapter {
	client := meilisearch.New(host, meilisearch.WithAPIKey(apiKey))
	return &MeiliAdapter{client: client}
}

func (a *MeiliAdapter) Upsert(ctx context.Context, index string, doc interface{}) error {
	_, err := a.client.Index(index).AddDocuments([]interface{}{doc}, docOpts())
	if err != nil {
		return fmt.Errorf("search: upserting into %q: %w", index, err)
	}
	return nil
}

func (a *MeiliAdapter) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	start := time.Now()
	resp, err := a.client.Index(req.Index).Search(req.Query, &meilisearch.SearchRequest{
		Filter: req.Filters,
		Sort:   req.Sort,
		Limit:  int64(req.normalizedLimit()),
		Offset: int64(req.Offset),
	})
	if err != nil {
		return SearchResult{}, fmt.Errorf("search: querying %q: %w", req.Index, err)
	}

	ids := make([]string, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		m, ok := hit.(map[string]interface{})
		if !ok {
			continue
		}
		if id, ok := m["id"].(string); ok {
			ids = append(ids, id)
		}
	}

	result := SearchResult{
		IDs:              ids,
		EstimatedTotal:   resp.EstimatedTotalHits,
		ProcessingTimeMs: resp.ProcessingTimeMs,
	}
	if result.ProcessingTimeMs == 0 {
		result.ProcessingTimeMs = time.Since(start).Milliseconds()
	}
	return result, nil
}

// SQLiteAdapter is the Node-local fallback using an FTS5 virtual table
// per index, used when no Meilisearch endpoint is configured.
type SQLiteAdapter struct {
	db *sql.DB
}

func NewSQLiteAdapter(db *sql.DB) *SQLiteAdapter {
	return &SQLiteAdapter{db: db}
}

// EnsureSchema creates the FTS5 virtual tables this adapter relies on.
// Safe to call repeatedly (IF NOT EXISTS).
func (a *SQLiteAdapter) EnsureSchema(ctx context.Context) error {
	for _, index := range []string{IndexNotes, IndexActors, IndexRelays} {
		stmt := fmt.Sprintf(
			`CREATE VIRTUAL TABLE IF NOT EXISTS search_%s USING fts5(id UNINDEXED, body, doc UNINDEXED)`,
			index,
		)
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("search: creating fts5 table for %q: %w", index, err)
		}
	}
	return nil
}

func (a *SQLiteAdapter) Upsert(ctx context.Context, index string, doc interface{}) error {
	id, body, err := docBody(doc)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("search: marshaling doc for %q: %w", index, err)
	}

	table := "search_" + index
	if _, err := a.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), id); err != nil {
		return fmt.Errorf("search: clearing prior row in %q: %w", index, err)
	}
	if _, err := a.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, body, doc) VALUES (?, ?, ?)`, table),
		id, body, string(raw),
	); err != nil {
		return fmt.Errorf("search: upserting into %q: %w", index, err)
	}
	return nil
}

func (a *SQLiteAdapter) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	start := time.Now()
	table := "search_" + req.Index
	limit := req.normalizedLimit()

	rows, err := a.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id FROM %s WHERE %s MATCH ? ORDER BY rank LIMIT ? OFFSET ?`, table, table),
		req.Query, limit, req.Offset,
	)
	if err != nil {
		return SearchResult{}, fmt.Errorf("search: querying %q: %w", req.Index, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return SearchResult{}, fmt.Errorf("search: scanning result from %q: %w", req.Index, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return SearchResult{}, err
	}

	return SearchResult{
		IDs:              ids,
		EstimatedTotal:   int64(len(ids)),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// docBody extracts the (id, body) pair the FTS5 index matches against.
// body is a flattened, human-searchable rendering of the doc's text
// fields; id is taken from each doc type's own identifying field.
func docBody(doc interface{}) (id, body string, err error) {
	switch d := doc.(type) {
	case NoteDoc:
		return d.ID, d.Content, nil
	case ActorDoc:
		name := ""
		if d.DisplayName != nil {
			name = *d.DisplayName
		}
		return d.ID, d.Username + " " + name, nil
	case RelayDoc:
		return d.ID, d.BaseDomain, nil
	default:
		return "", "", fmt.Errorf("search: unsupported doc type %T", doc)
	}
}
