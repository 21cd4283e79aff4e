package tunnel

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/coder/websocket"
)

// Dialer is the Node-side half of the tunnel: it connects to a Relay,
// identifies itself with a Hello frame, and answers inbound Request frames
// by invoking a local http.Handler over a github.com/coder/websocket
// connection.
type Dialer struct {
	RelayURL    string
	Hello       Hello
	Handler     http.Handler
	Logger      *slog.Logger

	// ReconnectMinDelay and ReconnectMaxDelay bound the delay between reconnect attempts after a
	// dropped connection.
	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration
}

func (d *Dialer) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Run dials the Relay and services inbound requests until ctx is canceled,
// reconnecting with exponential backoff on any connection failure.
func (d *Dialer) Run(ctx context.Context) {
	minDelay := d.ReconnectMinDelay
	if minDelay <= 0 {
		minDelay = time.Second
	}
	maxDelay := d.ReconnectMaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Minute
	}
	delay := minDelay

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := d.connectOnce(ctx); err != nil {
			d.logger().Warn("tunnel: connection to relay failed, retrying",
				slog.String("relay", d.RelayURL), slog.Duration("delay", delay),
				slog.String("error", err.Error()))
		} else {
			delay = minDelay
			continue
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (d *Dialer) connectOnce(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, d.RelayURL, nil)
	if err != nil {
		return fmt.Errorf("dialing relay: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(ReadLimit)

	d.Hello.Type = "hello"
	if err := writeJSON(ctx, conn, d.Hello); err != nil {
		return fmt.Errorf("sending hello: %w", err)
	}

	d.logger().Info("tunnel connected to relay", slog.String("relay", d.RelayURL))

	for {
		typ, data, err := readFrame(ctx, conn)
		if err != nil {
			return err
		}
		if typ != "request" {
			continue
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			d.logger().Warn("tunnel: malformed request frame")
			continue
		}
		go d.handle(ctx, conn, req)
	}
}

func (d *Dialer) handle(ctx context.Context, conn *websocket.Conn, req Request) {
	resp := d.serve(req)
	if err := writeJSON(ctx, conn, resp); err != nil {
		d.logger().Warn("tunnel: writing response failed", slog.String("id", req.ID), slog.String("error", err.Error()))
	}
}

// serve replays the tunneled Request against the Node's local http.Handler
// using httptest.ResponseRecorder, then re-serializes the result as a
// Response frame.
func (d *Dialer) serve(req Request) Response {
	body, err := base64.StdEncoding.DecodeString(req.BodyB64)
	if err != nil {
		return Response{ID: req.ID, Status: http.StatusBadRequest}
	}

	target := req.Path
	if req.Query != "" {
		target += "?" + req.Query
	}
	httpReq, err := http.NewRequest(req.Method, target, bytes.NewReader(body))
	if err != nil {
		return Response{ID: req.ID, Status: http.StatusBadRequest}
	}
	for _, kv := range req.Headers {
		httpReq.Header.Add(kv[0], kv[1])
	}

	rec := httptest.NewRecorder()
	if d.Handler != nil {
		d.Handler.ServeHTTP(rec, httpReq)
	} else {
		rec.WriteHeader(http.StatusNotImplemented)
	}

	var headers [][2]string
	for k, vs := range rec.Header() {
		for _, v := range vs {
			headers = append(headers, [2]string{k, v})
		}
	}
	return Response{
		ID:      req.ID,
		Status:  uint16(rec.Code),
		Headers: headers,
		BodyB64: base64.StdEncoding.EncodeToString(rec.Body.Bytes()),
	}
}
