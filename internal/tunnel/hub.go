package tunnel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Authenticator validates a Hello frame's bearer token, returning whether
// the tunnel may proceed. Implemented by the Relay wiring layer over
// internal/auth (argon2id token hashing) + internal/storage so this
// package stays free of a storage dependency, the same narrow-interface
// pattern internal/activitypub uses for Outbox/Notifier.
type Authenticator interface {
	Authenticate(ctx context.Context, hello Hello) (ok bool, err error)
}

// ConnectHook is invoked once a tunnel's Hello frame has been authenticated,
// letting the Relay wiring layer update its peer-hello/directory caches and
// kick off a spool flush for any pending spool items.
type ConnectHook func(ctx context.Context, hello Hello)

// DisconnectHook is invoked when a Node's tunnel closes.
type DisconnectHook func(username string)

// perUserConn is the Relay-side handle to one connected Node's tunnel.
type perUserConn struct {
	ws       *websocket.Conn
	username string

	mu      sync.Mutex
	pending map[string]chan Response

	// sem bounds concurrent in-flight Relay->Node requests for this user.
	sem chan struct{}
}

// Hub is the Relay-side registry of live Node tunnel connections (the
// Glossary's "Tunnel Hub"). One Hub instance is shared across the Relay
// process.
type Hub struct {
	Auth       Authenticator
	OnConnect  ConnectHook
	OnDisconnect DisconnectHook
	Timeout    time.Duration
	MaxInflight int
	Logger     *slog.Logger

	mu    sync.RWMutex
	conns map[string]*perUserConn
}

// NewHub builds a Hub with the given per-request timeout and per-user
// inflight cap.
func NewHub(auth Authenticator, timeout time.Duration, maxInflight int) *Hub {
	if timeout <= 0 {
		timeout = defaultTunnelTimeout
	}
	if maxInflight <= 0 {
		maxInflight = 8
	}
	return &Hub{
		Auth:        auth,
		Timeout:     timeout,
		MaxInflight: maxInflight,
		conns:       make(map[string]*perUserConn),
	}
}

func (h *Hub) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Serve reads the Hello handshake from ws, authenticates it, registers the
// connection, and blocks servicing inbound Response frames until the
// connection closes or ctx is canceled. Callers (the Relay's HTTP upgrade
// handler) run this in its own goroutine per accepted connection.
func (h *Hub) Serve(ctx context.Context, ws *websocket.Conn) error {
	ws.SetReadLimit(ReadLimit)

	typ, data, err := readFrame(ctx, ws)
	if err != nil {
		return fmt.Errorf("tunnel: reading hello: %w", err)
	}
	if typ != "hello" {
		return fmt.Errorf("tunnel: expected hello frame, got %q", typ)
	}
	var hello Hello
	if err := json.Unmarshal(data, &hello); err != nil {
		return fmt.Errorf("tunnel: decoding hello: %w", err)
	}
	if hello.Username == "" {
		return fmt.Errorf("tunnel: hello missing username")
	}

	if h.Auth != nil {
		ok, err := h.Auth.Authenticate(ctx, hello)
		if err != nil {
			return fmt.Errorf("tunnel: authenticating %q: %w", hello.Username, err)
		}
		if !ok {
			ws.Close(websocket.StatusPolicyViolation, "authentication failed")
			return fmt.Errorf("tunnel: authentication failed for %q", hello.Username)
		}
	}

	c := &perUserConn{
		ws:       ws,
		username: hello.Username,
		pending:  make(map[string]chan Response),
		sem:      make(chan struct{}, h.MaxInflight),
	}
	h.register(c)
	defer h.unregister(c)

	if h.OnConnect != nil {
		go h.OnConnect(context.WithoutCancel(ctx), hello)
	}

	h.logger().Info("tunnel connected", slog.String("username", hello.Username))

	for {
		typ, data, err := readFrame(ctx, ws)
		if err != nil {
			return err
		}
		if typ != "response" {
			continue
		}
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			h.logger().Warn("tunnel: malformed response frame", slog.String("username", hello.Username))
			continue
		}
		c.deliver(resp)
	}
}

func (h *Hub) register(c *perUserConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.conns[c.username]; ok {
		old.ws.Close(websocket.StatusPolicyViolation, "superseded by new connection")
	}
	h.conns[c.username] = c
}

func (h *Hub) unregister(c *perUserConn) {
	h.mu.Lock()
	if h.conns[c.username] == c {
		delete(h.conns, c.username)
	}
	h.mu.Unlock()
	if h.OnDisconnect != nil {
		h.OnDisconnect(c.username)
	}
}

func (c *perUserConn) deliver(resp Response) {
	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()
	if ok {
		ch <- resp
	}
}

// IsOnline reports whether username currently has a live tunnel.
func (h *Hub) IsOnline(username string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[username]
	return ok
}

// OnlineCount reports how many Nodes currently hold a live tunnel, for the
// Relay's telemetry snapshot.
func (h *Hub) OnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// SendRequest pushes req to username's tunnel and waits for the matching
// Response, bounded by the Hub's per-request Timeout and the connection's
// per-user inflight semaphore. Returns an error if the user is offline.
func (h *Hub) SendRequest(ctx context.Context, username string, req Request) (*Response, error) {
	h.mu.RLock()
	c, ok := h.conns[username]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tunnel: %q is not connected", username)
	}

	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	req.Type = "request"
	ch := make(chan Response, 1)
	c.mu.Lock()
	c.pending[req.ID] = ch
	c.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	if err := writeJSON(reqCtx, c.ws, req); err != nil {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return nil, fmt.Errorf("tunnel: writing request to %q: %w", username, err)
	}

	select {
	case resp := <-ch:
		return &resp, nil
	case <-reqCtx.Done():
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return nil, fmt.Errorf("tunnel: request to %q timed out: %w", username, reqCtx.Err())
	}
}
