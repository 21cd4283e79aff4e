package directory

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/fedi3/fedi3/internal/storage"
)

// ApplyMove injects movedTo and merges moved_to_actor into alsoKnownAs on a
// cached actor document when a migration record exists for username.
// Returns actorJSON unchanged if no move is on record.
func (d *Directory) ApplyMove(ctx context.Context, username string, actorJSON []byte) ([]byte, error) {
	move, err := d.Store.GetUserMove(ctx, username)
	if err != nil {
		if err == storage.ErrNotFound {
			return actorJSON, nil
		}
		return nil, err
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(actorJSON, &doc); err != nil {
		return actorJSON, nil // not a JSON object we can merge into; pass through
	}
	doc["movedTo"] = move.MovedToActor

	var aka []string
	switch v := doc["alsoKnownAs"].(type) {
	case []interface{}:
		for _, e := range v {
			if s, ok := e.(string); ok {
				aka = append(aka, s)
			}
		}
	case string:
		aka = append(aka, v)
	}
	found := false
	for _, a := range aka {
		if a == move.MovedToActor {
			found = true
			break
		}
	}
	if !found {
		aka = append(aka, move.MovedToActor)
	}
	doc["alsoKnownAs"] = aka

	return json.Marshal(doc)
}

// CollectionMoveRedirect reports the 308 Location for a collection
// sub-path (outbox/followers/following) when username has moved, per spec
// §4.9: "or 308 to the new actor URL for collection sub-paths."
func (d *Directory) CollectionMoveRedirect(ctx context.Context, username string, r *http.Request, kind string) (string, bool, error) {
	move, err := d.Store.GetUserMove(ctx, username)
	if err != nil {
		if err == storage.ErrNotFound {
			return "", false, nil
		}
		return "", false, err
	}
	return move.MovedToActor + "/" + kind, true, nil
}
