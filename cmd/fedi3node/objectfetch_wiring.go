package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/fedi3/fedi3/internal/activitypub"
)

// fetchObject dereferences any object URL the Object Fetch Worker needs —
// a reply parent or reaction target — with an unsigned GET.
func fetchObject(client *http.Client) func(ctx context.Context, url string) ([]byte, error) {
	return func(ctx context.Context, url string) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("building object fetch request: %w", err)
		}
		req.Header.Set("Accept", "application/activity+json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetching object %q: %w", url, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetching object %q returned status %d", url, resp.StatusCode)
		}
		return io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	}
}

// ingestObject wraps a dereferenced object's raw bytes in a synthetic
// Create activity and runs it through the same Processor path inbound
// activities take, so a fetched reply parent or reaction target lands in
// storage the same way a pushed one would.
func ingestObject(processor *activitypub.Processor) func(ctx context.Context, url string, body []byte) error {
	return func(ctx context.Context, url string, body []byte) error {
		var object json.RawMessage = body
		raw, err := json.Marshal(map[string]interface{}{
			"type":   "Create",
			"object": object,
		})
		if err != nil {
			return fmt.Errorf("wrapping fetched object %q: %w", url, err)
		}
		return processor.Process(ctx, raw)
	}
}
