// Package tunnel implements the Relay Tunnel: a long-lived bidirectional
// message channel keyed by (username, bearer_token) over which the Relay
// proxies inbound HTTP to the owning Node. Framing is one JSON document per
// WebSocket message (coder/websocket already length-delineates each frame
// at the protocol level, so no additional byte-length prefix is layered on
// top).
package tunnel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coder/websocket"
)

// ReadLimit bounds the size of a single tunnel frame.
const ReadLimit = 8 << 20 // 8MB, generous enough for media-bearing activities

// Hello is the first frame a Node sends after dialing, authenticating the
// tunnel and advertising the peer-to-peer identity the Relay's directory
// needs.
type Hello struct {
	Type        string `json:"type"` // always "hello"
	Username    string `json:"username"`
	BearerToken string `json:"bearer_token"`
	ActorURL    string `json:"actor_url"`
	Fedi3PeerID string `json:"fedi3_peer_id,omitempty"`
}

// Request is pushed Relay -> Node for one inbound HTTP request the Relay
// received on the Node's behalf.
type Request struct {
	Type    string      `json:"type"` // always "request"
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Path    string      `json:"path"`
	Query   string      `json:"query"`
	Headers [][2]string `json:"headers"`
	BodyB64 string      `json:"body_b64"`
}

// Response is sent Node -> Relay answering a prior Request by ID.
type Response struct {
	Type    string      `json:"type"` // always "response"
	ID      string      `json:"id"`
	Status  uint16      `json:"status"`
	Headers [][2]string `json:"headers"`
	BodyB64 string      `json:"body_b64"`
}

// envelope is used only to sniff the "type" discriminator before decoding
// into the concrete shape.
type envelope struct {
	Type string `json:"type"`
}

// readFrame reads one WebSocket message and decodes its type discriminator
// plus raw bytes for the caller to finish decoding.
func readFrame(ctx context.Context, conn *websocket.Conn) (string, []byte, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return "", nil, err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("tunnel: decoding frame envelope: %w", err)
	}
	return env.Type, data, nil
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("tunnel: marshaling frame: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// defaultTunnelTimeout is used by NewHub when it is given no positive
// per-request timeout.
const defaultTunnelTimeout = 15 * time.Second
