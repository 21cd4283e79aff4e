// Package meshbus provides the NATS request/reply transport for Relay
// Mesh Replication, an alternative to relayhttp's plain-HTTPS sync
// requester for operators who run their Relays on a shared NATS network
// rather than dialing each other's public HTTP endpoints directly. Mesh
// sync is a single anycast request/reply subject, not a persistent
// multi-subject pub/sub bus, so nothing here needs a JetStream stream.
package meshbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fedi3/fedi3/internal/meshsync"
)

// Bus wraps a NATS connection shared by the sync requester and responder
// subscriber.
type Bus struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// Connect dials the NATS server at natsURL with reconnect/backoff options
// and structured-log hooks for connection-state changes.
func Connect(natsURL string, logger *slog.Logger) (*Bus, error) {
	opts := []nats.Option{
		nats.Name("fedi3relay"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(60),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error("nats error", slog.String("error", err.Error()))
		}),
	}

	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("meshbus: connecting to nats at %s: %w", natsURL, err)
	}
	logger.Info("nats connection established", slog.String("url", nc.ConnectedUrl()))
	return &Bus{conn: nc, logger: logger}, nil
}

func (b *Bus) Close() {
	b.conn.Close()
}

func (b *Bus) HealthCheck() error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("meshbus: not connected")
	}
	return nil
}

// Requester implements meshsync.Requester by publishing a request on
// meshsync.Subject and awaiting one reply, the NATS-native counterpart to
// relayhttp.HTTPSyncRequester's POST-and-read-body.
type Requester struct {
	Bus     *Bus
	Timeout time.Duration
}

func NewRequester(bus *Bus) *Requester {
	return &Requester{Bus: bus, Timeout: 10 * time.Second}
}

// RequestSync ignores relayURL: on a shared NATS network every subscriber
// on meshsync.Subject answers for its own Relay, so the caller has no way
// to address one peer specifically — operators who need per-peer routing
// should use relayhttp.HTTPSyncRequester instead, which dials relayURL
// directly.
func (r *Requester) RequestSync(ctx context.Context, relayURL string, req meshsync.Request) (meshsync.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return meshsync.Response{}, fmt.Errorf("meshbus: marshaling sync request: %w", err)
	}

	msg, err := r.Bus.conn.RequestWithContext(ctx, meshsync.Subject, payload)
	if err != nil {
		return meshsync.Response{}, fmt.Errorf("meshbus: sync request to %q: %w", relayURL, err)
	}

	var resp meshsync.Response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return meshsync.Response{}, fmt.Errorf("meshbus: decoding sync response: %w", err)
	}
	return resp, nil
}

// ServeResponder subscribes responder on meshsync.Subject with a queue
// group so only one of this Relay's own process replicas answers each
// request.
func ServeResponder(bus *Bus, responder *meshsync.Responder, logger *slog.Logger) (*nats.Subscription, error) {
	return bus.conn.QueueSubscribe(meshsync.Subject, "fedi3-relay-sync", func(msg *nats.Msg) {
		var req meshsync.Request
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			logger.Warn("meshbus: decoding inbound sync request failed", slog.String("error", err.Error()))
			return
		}

		resp, err := responder.Handle(context.Background(), req)
		if err != nil {
			logger.Warn("meshbus: handling inbound sync request failed", slog.String("error", err.Error()))
			return
		}

		body, err := json.Marshal(resp)
		if err != nil {
			logger.Warn("meshbus: encoding sync response failed", slog.String("error", err.Error()))
			return
		}
		if err := msg.Respond(body); err != nil {
			logger.Warn("meshbus: replying to sync request failed", slog.String("error", err.Error()))
		}
	})
}
