package nodehttp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fedi3/fedi3/internal/keyresolver"
	"github.com/fedi3/fedi3/internal/ratequota"
)

// maxInboxBody bounds an inbound activity payload.
const maxInboxBody = 1 << 20 // 1 MiB

// handleUserInbox accepts a POST to /users/{user}/inbox. fedi3 is
// single-actor per Node, so this and the shared /inbox below share one
// pipeline; the per-user path exists for ActivityPub clients that expect
// every actor to carry its own inbox URL.
func (s *Server) handleUserInbox(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "user") != s.Username {
		writeError(w, http.StatusNotFound, "not_found", "no such user")
		return
	}
	s.handleInbox(w, r)
}

func (s *Server) handleSharedInbox(w http.ResponseWriter, r *http.Request) {
	s.handleInbox(w, r)
}

// handleInbox is the Node's inbound activity dispatch contract: IP rate
// gate, HTTP Signature verification, actor rate gate, quota admission,
// dedup, Processor dispatch, then a best-effort delivery receipt back to
// the sender and a local UI event.
func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := clientIP(r)

	if dec, err := s.Gate.CheckIP(ctx, ratequota.FamilyInbox, ip); err != nil {
		writeAppError(w, r, s.Logger, err)
		return
	} else if !dec.Allowed {
		writeRateLimited(w, dec)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxInboxBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_input", "failed to read request body")
		return
	}
	if len(body) > maxInboxBody {
		writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "activity body too large")
		return
	}

	// Peek the claimed keyId (without verifying) so a repeatedly-failing
	// keyId/actor can be rejected before spending a Resolve+Verify cycle
	// on it.
	peekedKeyID, _ := keyresolver.ExtractKeyID(r)
	peekedActor := keyresolver.ActorFromKeyID(peekedKeyID)
	if blocked, retryAfter, err := s.Gate.CheckBlocked(ctx, peekedKeyID, peekedActor); err != nil {
		writeAppError(w, r, s.Logger, err)
		return
	} else if blocked {
		if retryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		}
		writeError(w, http.StatusTooManyRequests, "blocked", "keyId or actor temporarily blocked")
		return
	}

	if peekedKeyID != "" {
		if dec, err := s.Gate.CheckKeyID(ctx, peekedKeyID); err != nil {
			writeAppError(w, r, s.Logger, err)
			return
		} else if !dec.Allowed {
			writeRateLimited(w, dec)
			return
		}
	}

	keyID, err := s.Resolver.VerifyRequest(ctx, r, body)
	if err != nil {
		delay, strikeErr := s.Gate.Strike(ctx, ip)
		if keyID != "" {
			if d, sErr := s.Gate.StrikeKeyID(ctx, keyID); sErr == nil && d > delay {
				delay = d
			}
			if d, sErr := s.Gate.StrikeActor(ctx, keyresolver.ActorFromKeyID(keyID)); sErr == nil && d > delay {
				delay = d
			}
		}
		if strikeErr == nil && delay > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(delay.Seconds())))
		}
		writeAppError(w, r, s.Logger, err)
		return
	}

	var envelope struct {
		ID    string `json:"id"`
		Actor string `json:"actor"`
		To    []string `json:"to"`
		Cc    []string `json:"cc"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		writeError(w, http.StatusBadRequest, "bad_input", "malformed activity JSON")
		return
	}

	actorForGate := envelope.Actor
	if actorForGate == "" {
		actorForGate = keyID
	}
	weight := int64(len(envelope.To) + len(envelope.Cc))
	if dec, err := s.Gate.CheckActor(ctx, actorForGate, weight); err != nil {
		writeAppError(w, r, s.Logger, err)
		return
	} else if !dec.Allowed {
		writeRateLimited(w, dec)
		return
	}

	if ok, err := s.Gate.BumpQuota(ctx, "inbox:"+actorForGate, 0, 0, int64(len(body))); err != nil {
		writeAppError(w, r, s.Logger, err)
		return
	} else if !ok {
		writeError(w, http.StatusTooManyRequests, "quota_exceeded", "quota exceeded")
		return
	}

	dedupID, firstSeen, err := s.Dedup.MarkSeenActivity(ctx, envelope.ID, body)
	if err != nil {
		writeAppError(w, r, s.Logger, err)
		return
	}
	if !firstSeen {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	_ = dedupID

	if err := s.Processor.Process(ctx, body); err != nil {
		writeAppError(w, r, s.Logger, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)

	go s.sendReceipt(context.WithoutCancel(ctx), envelope.ID, envelope.Actor, keyID)
}

// sendReceipt sends a signed receipt back to the sender's origin after
// accepting an inbox POST with a derivable activity id, so their Delivery
// Queue can reclaim the corresponding row out of band instead of waiting
// out its own retry backoff.
func (s *Server) sendReceipt(ctx context.Context, activityID, actorURL, _ string) {
	if activityID == "" || actorURL == "" || s.KeyPair == nil {
		return
	}

	origin, err := actorOrigin(actorURL)
	if err != nil {
		return
	}

	payload, err := json.Marshal(map[string]string{"activity_id": activityID})
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, origin+"/.fedi3/receipt", bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	if err := keyresolver.SignRequest(req, payload, s.actorURL()+"#main-key", s.KeyPair.Private); err != nil {
		s.Logger.WarnContext(ctx, "signing receipt failed", slog.String("err", err.Error()))
		return
	}

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		s.Logger.WarnContext(ctx, "sending receipt failed", slog.String("actor", actorURL), slog.String("err", err.Error()))
		return
	}
	defer resp.Body.Close()
}

// handleReceipt accepts a signed POST /.fedi3/receipt from a peer
// confirming delivery of one of our activities: verify signature, digest,
// and date the same way an inbox POST is verified, then mark the matching
// Delivery Queue rows for (activityID, sender) delivered so the queue
// stops retrying them.
func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxInboxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_input", "failed to read request body")
		return
	}

	keyID, err := s.Resolver.VerifyRequest(ctx, r, body)
	if err != nil {
		writeAppError(w, r, s.Logger, err)
		return
	}

	var payload struct {
		ActivityID string `json:"activity_id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.ActivityID == "" {
		writeError(w, http.StatusBadRequest, "bad_input", "missing activity_id")
		return
	}

	target := keyresolver.ActorFromKeyID(keyID)
	if err := s.Delivery.ReceiptReceived(ctx, payload.ActivityID, target); err != nil {
		writeAppError(w, r, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeRateLimited(w http.ResponseWriter, dec ratequota.Decision) {
	if dec.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(dec.RetryAfter.Seconds())))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
}

// clientIP extracts the request's remote IP, preferring X-Forwarded-For
// when present (Node typically sits behind the operator's own reverse
// proxy or the Relay tunnel).
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
