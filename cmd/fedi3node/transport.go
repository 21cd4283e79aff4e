package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/fedi3/fedi3/internal/keyresolver"
	"github.com/fedi3/fedi3/internal/models"
)

// httpsTransport implements delivery.Transport over signed HTTPS: sign
// the outbound POST the same way sendReceipt does, deliver to the target
// actor's shared inbox when advertised, else its own /inbox.
type httpsTransport struct {
	Resolver   *keyresolver.Resolver
	KeyPair    *keyresolver.KeyPair
	ActorURL   string
	HTTPClient *http.Client
}

func (t *httpsTransport) Name() string { return "https" }

func (t *httpsTransport) Deliver(ctx context.Context, target string, activityBytes []byte) (models.TransportResult, error) {
	summary, err := t.Resolver.Resolve(ctx, target)
	if err != nil {
		return models.TransportFailed, fmt.Errorf("resolving delivery target %q: %w", target, err)
	}

	dest := summary.SharedInboxURL
	if dest == "" {
		dest = summary.ActorURL + "/inbox"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest, bytes.NewReader(activityBytes))
	if err != nil {
		return models.TransportFailed, fmt.Errorf("building delivery request to %q: %w", dest, err)
	}
	req.Header.Set("Content-Type", "application/activity+json")

	if err := keyresolver.SignRequest(req, activityBytes, t.ActorURL+"#main-key", t.KeyPair.Private); err != nil {
		return models.TransportFailed, fmt.Errorf("signing delivery request: %w", err)
	}

	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		return models.TransportFailed, fmt.Errorf("delivering to %q: %w", dest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return models.TransportSent, nil
	}
	return models.TransportFailed, fmt.Errorf("delivery to %q returned status %d", dest, resp.StatusCode)
}
