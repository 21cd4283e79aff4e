package relayhttp

import (
	"context"
	"encoding/base64"

	"github.com/fedi3/fedi3/internal/auth"
	"github.com/fedi3/fedi3/internal/fanout"
	"github.com/fedi3/fedi3/internal/ratequota"
	"github.com/fedi3/fedi3/internal/tunnel"
)

// rateGateAdapter bridges ratequota.Gate's (Decision, error) CheckActor
// return shape to the narrower (bool, error) fanout.RateGate expects, the
// same adapter pattern nodehttp uses for activitypub.Outbox/Notifier.
type rateGateAdapter struct {
	gate *ratequota.Gate
}

func (a *rateGateAdapter) CheckActor(ctx context.Context, actorURL string, weight int64) (bool, error) {
	if a.gate == nil {
		return true, nil
	}
	dec, err := a.gate.CheckActor(ctx, actorURL, weight)
	if err != nil {
		return false, err
	}
	return dec.Allowed, nil
}

// tunnelAdapter bridges tunnel.Hub's Request/Response types to fanout's
// own TunnelRequest/TunnelResponse types, which are structurally identical
// but kept as distinct named types so internal/fanout doesn't import
// internal/tunnel directly.
type tunnelAdapter struct {
	hub *tunnel.Hub
}

func (a *tunnelAdapter) IsOnline(username string) bool {
	return a.hub.IsOnline(username)
}

func (a *tunnelAdapter) SendRequest(ctx context.Context, username string, req fanout.TunnelRequest) (*fanout.TunnelResponse, error) {
	resp, err := a.hub.SendRequest(ctx, username, tunnel.Request{
		ID:      req.ID,
		Method:  req.Method,
		Path:    req.Path,
		Query:   req.Query,
		Headers: req.Headers,
		BodyB64: req.BodyB64,
	})
	if err != nil {
		return nil, err
	}
	return &fanout.TunnelResponse{Status: resp.Status, BodyB64: resp.BodyB64}, nil
}

// authenticatorAdapter bridges auth.Service's username/token check to
// tunnel.Authenticator, which validates a full Hello frame.
type authenticatorAdapter struct {
	auth *auth.Service
}

func (a *authenticatorAdapter) Authenticate(ctx context.Context, hello tunnel.Hello) (bool, error) {
	if a.auth == nil {
		return false, nil
	}
	return a.auth.ValidateUserToken(ctx, hello.Username, hello.BearerToken)
}

// base64Body is a tiny shared helper used by both the inbox fan-out path
// and the tunnel request/response plumbing.
func base64Body(body []byte) string {
	return base64.StdEncoding.EncodeToString(body)
}
