package nodehttp

import (
	"fmt"
	"net/url"
)

// actorOrigin returns the scheme://host[:port] origin of an actor URL, the
// base every federation-facing well-known path (receipts, WebFinger, the
// peer's own inbox) is resolved against.
func actorOrigin(actorURL string) (string, error) {
	u, err := url.Parse(actorURL)
	if err != nil {
		return "", fmt.Errorf("nodehttp: parsing actor url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("nodehttp: actor url %q has no scheme/host", actorURL)
	}
	return u.Scheme + "://" + u.Host, nil
}
