package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// fetchObject resolves a keyId or object URL with an unsigned GET,
// mirroring cmd/fedi3node's identical helper.
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
