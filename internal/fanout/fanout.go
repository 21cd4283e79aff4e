// Package fanout implements the Relay's Shared-Inbox Fan-out & Spool:
// extract recipient usernames from an inbound activity's audience, deliver
// to online tunnels, and spool FIFO-per-user for offline delivery. It
// composes internal/tunnel.Hub (delivery transport) and
// internal/ratequota.Gate (weighted admission) behind narrow interfaces.
package fanout

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fedi3/fedi3/internal/apperr"
	"github.com/fedi3/fedi3/internal/models"
	"github.com/fedi3/fedi3/internal/storage"
)

// userPathPattern matches "/users/<valid-username>" anywhere in a
// recipient URL.
var userPathPattern = regexp.MustCompile(`/users/([A-Za-z0-9._-]{2,32})`)

// ExtractRecipients returns the deduplicated set of local usernames
// addressed by aud (to/cc/bcc/audience).
func ExtractRecipients(aud models.Audience) []string {
	seen := make(map[string]bool)
	var out []string
	for _, ref := range aud.All() {
		m := userPathPattern.FindStringSubmatch(ref)
		if m == nil {
			continue
		}
		u := m[1]
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// Tunnel is the narrow subset of tunnel.Hub fanout needs, letting this
// package avoid importing internal/tunnel directly.
type Tunnel interface {
	IsOnline(username string) bool
	SendRequest(ctx context.Context, username string, req TunnelRequest) (*TunnelResponse, error)
}

// TunnelRequest/TunnelResponse mirror tunnel.Request/tunnel.Response's
// shape so callers can adapt without a direct type dependency.
type TunnelRequest struct {
	ID      string
	Method  string
	Path    string
	Query   string
	Headers [][2]string
	BodyB64 string
}

type TunnelResponse struct {
	Status  uint16
	BodyB64 string
}

// RateGate is the narrow subset of ratequota.Gate fanout needs for weighted
// admission (weight is the recipient count, floored at 1).
type RateGate interface {
	CheckActor(ctx context.Context, actorURL string, weight int64) (allowed bool, err error)
}

// Fanout delivers one shared-inbox POST to its local recipients.
type Fanout struct {
	Store           storage.Store
	Tunnel          Tunnel
	Gate            RateGate
	Logger          *slog.Logger
	MaxInboxFanout  int
	SpoolMaxPerUser int
	SpoolTTL        time.Duration
	FlushBatch      int
}

func New(store storage.Store, tunnel Tunnel, gate RateGate) *Fanout {
	return &Fanout{
		Store:           store,
		Tunnel:          tunnel,
		Gate:            gate,
		MaxInboxFanout:  500,
		SpoolMaxPerUser: 200,
		SpoolTTL:        7 * 24 * time.Hour,
		FlushBatch:      20,
	}
}

func (f *Fanout) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

// Deliver fans a shared-inbox request out to every recipient in aud,
// respecting max_inbox_fanout (413 above cap) and weighted rate admission.
func (f *Fanout) Deliver(ctx context.Context, actorURL, method, path, query string, headers [][2]string, body []byte, aud models.Audience) error {
	recipients := ExtractRecipients(aud)
	if len(recipients) == 0 {
		return nil
	}
	if len(recipients) > f.MaxInboxFanout {
		return apperr.New(apperr.PayloadTooLarge, fmt.Sprintf("fan-out exceeds max_inbox_fanout (%d)", f.MaxInboxFanout))
	}

	weight := int64(len(recipients))
	if weight < 1 {
		weight = 1
	}
	if f.Gate != nil {
		allowed, err := f.Gate.CheckActor(ctx, actorURL, weight)
		if err != nil {
			return apperr.Wrap(apperr.Internal, "checking fan-out rate admission", err)
		}
		if !allowed {
			return apperr.New(apperr.RateLimited, "fan-out rate limit exceeded")
		}
	}

	for _, username := range recipients {
		f.deliverOne(ctx, username, method, path, query, headers, body)
	}
	return nil
}

func (f *Fanout) deliverOne(ctx context.Context, username, method, path, query string, headers [][2]string, body []byte) {
	if f.Tunnel != nil && f.Tunnel.IsOnline(username) {
		req := TunnelRequest{
			ID:      ulid.Make().String(),
			Method:  method,
			Path:    path,
			Query:   query,
			Headers: headers,
			BodyB64: base64.StdEncoding.EncodeToString(body),
		}
		resp, err := f.Tunnel.SendRequest(ctx, username, req)
		if err == nil && resp != nil && (resp.Status == 200 || resp.Status == 202) {
			return
		}
		f.logger().Warn("fanout: tunnel delivery failed, spooling",
			slog.String("username", username), slog.Any("error", err))
	}
	f.spool(ctx, username, method, path, query, headers, body)
}

func (f *Fanout) spool(ctx context.Context, username, method, path, query string, headers [][2]string, body []byte) {
	item := models.SpoolItem{
		ID:        ulid.Make().String(),
		Username:  username,
		Method:    method,
		Path:      path,
		Query:     query,
		Headers:   headers,
		Body:      body,
		BodyLen:   len(body),
		CreatedAt: time.Now(),
	}
	if err := f.Store.EnqueueSpool(ctx, item); err != nil {
		f.logger().Error("fanout: failed to enqueue spool item",
			slog.String("username", username), slog.String("error", err.Error()))
		return
	}
	if err := f.Store.TrimOldestSpool(ctx, username, f.SpoolMaxPerUser); err != nil {
		f.logger().Warn("fanout: failed to trim spool", slog.String("username", username), slog.String("error", err.Error()))
	}
}

// PruneExpired deletes spool rows older than SpoolTTL. Intended to be
// called periodically by the Relay's background worker loop.
func (f *Fanout) PruneExpired(ctx context.Context) (int, error) {
	return f.Store.PruneExpiredSpool(ctx, time.Now().Add(-f.SpoolTTL))
}
