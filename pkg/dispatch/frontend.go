package dispatch

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"lol.mleku.dev/chk"
	"lol.mleku.dev/log"

	"relaywright.dev/pkg/kstore"
	"relaywright.dev/pkg/nostr/envelope"
	"relaywright.dev/pkg/nostr/reason"
	"relaywright.dev/pkg/pubsub"
	"relaywright.dev/pkg/queue"
)

const (
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// Frontend is FE: it accepts WebSocket connections, classifies and
// admits every inbound frame into IQ, translates admission rejections
// into client-visible frames, and polls K for outbound delivery.
type Frontend struct {
	IQ     *queue.Queue
	KStore kstore.Client
	Router *pubsub.Router
	Cfg    Config

	// IPWhitelist, if non-empty, restricts accepted connections to
	// remote addresses matching one of these prefixes.
	IPWhitelist []string
}

// NewFrontend builds a Frontend from its collaborators and cfg.
func NewFrontend(iq *queue.Queue, client kstore.Client, router *pubsub.Router, cfg Config) *Frontend {
	return &Frontend{IQ: iq, KStore: client, Router: router, Cfg: cfg}
}

// HandleWebsocket upgrades r and runs connId's lifetime: the inbound
// read loop, a ping keepalive, and an outbound poller, until the
// client disconnects or the socket errors.
func (fe *Frontend) HandleWebsocket(w http.ResponseWriter, r *http.Request) {
	remote := remoteAddr(r)
	if len(fe.IPWhitelist) > 0 && !ipWhitelisted(remote, fe.IPWhitelist) {
		log.T.F("ws: %s not whitelisted", remote)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if chk.E(err) {
		return
	}
	conn.SetReadLimit(fe.Cfg.MaxMessageSize)
	defer conn.CloseNow()

	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(r.Context())

	ticker := time.NewTicker(pingInterval)
	go fe.pinger(ctx, conn, ticker, cancel)
	go fe.pollOutbound(ctx, connID, conn)

	defer func() {
		log.D.F("ws: closing %s (%s)", connID, remote)
		cancel()
		ticker.Stop()
		fe.cleanupConnection(connID)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, msg, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway,
				websocket.StatusNoStatusRcvd, websocket.StatusAbnormalClosure,
				websocket.StatusProtocolError:
			default:
				log.E.F("ws: %s unexpected close: %v", remote, err)
			}
			return
		}
		go fe.admit(ctx, connID, conn, cancel, msg)
	}
}

func (fe *Frontend) pinger(ctx context.Context, conn *websocket.Conn, ticker *time.Ticker, cancel context.CancelFunc) {
	defer func() {
		cancel()
		ticker.Stop()
	}()
	for {
		select {
		case <-ticker.C:
			if err := conn.Ping(ctx); chk.E(err) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// pollOutbound is the per-connection outbound poller: it drains
// resp:<connId> at a fixed cadence, refreshes its TTL on every
// non-empty drain, and periodically asks the router to refresh the
// connection's subscription TTLs.
func (fe *Frontend) pollOutbound(ctx context.Context, connID string, conn *websocket.Conn) {
	ticker := time.NewTicker(fe.Cfg.PollInterval)
	defer ticker.Stop()

	key := kstore.ResponseListKey(connID)
	var ticks int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		ticks++

		popCtx, cancel := kstore.WithTimeout(ctx)
		frames, err := fe.KStore.LPopCount(popCtx, key, 64).Result()
		cancel()
		if err != nil && err != kstore.ErrNil {
			log.W.F("ws: %s poll failed: %v", connID, err)
		}
		if len(frames) > 0 {
			for _, f := range frames {
				if err := conn.Write(ctx, websocket.MessageText, []byte(f)); chk.E(err) {
					return
				}
			}
			refreshCtx, cancel := kstore.WithTimeout(ctx)
			_ = fe.KStore.Expire(refreshCtx, key, fe.Cfg.ResponseTTL).Err()
			cancel()
		}

		if fe.Cfg.RefreshEveryNPolls > 0 && ticks%fe.Cfg.RefreshEveryNPolls == 0 {
			refreshCtx, cancel := kstore.WithTimeout(ctx)
			if err := fe.Router.RefreshConnection(refreshCtx, connID); chk.E(err) {
			}
			cancel()
		}
	}
}

// cleanupConnection is FE's best-effort teardown on socket close: drop
// the response list, tear down every live subscription. Failures here
// are logged, not propagated.
func (fe *Frontend) cleanupConnection(connID string) {
	ctx, cancel := kstore.WithTimeout(context.Background())
	defer cancel()
	if err := fe.KStore.Del(ctx, kstore.ResponseListKey(connID)).Err(); chk.E(err) {
	}
	if err := fe.Router.UnsubscribeAll(ctx, connID); chk.E(err) {
	}
}

// admit classifies raw's priority, pushes it into IQ, and translates
// whatever IQ decides back to the client.
func (fe *Frontend) admit(ctx context.Context, connID string, conn *websocket.Conn, cancel context.CancelFunc, raw []byte) {
	verb, err := envelope.PeekVerb(raw)
	if chk.E(err) {
		fe.writeFrame(ctx, conn, envelope.EncodeNotice(reason.Invalid.F("malformed frame")))
		return
	}

	outcome := fe.IQ.Push(raw, connID, queue.ClassifyVerb(string(verb)))
	switch {
	case !outcome.Accepted && outcome.Reason == queue.DropCircuitOpen:
		fe.writeFrame(ctx, conn, envelope.EncodeNotice(reasonFor(outcome.Reason)))
		go fe.closeAfterDelay(conn, cancel)
	case !outcome.Accepted:
		fe.rejectByVerb(ctx, conn, verb, raw, outcome.Reason)
	default:
		if outcome.State == queue.Degraded {
			fe.writeFrame(ctx, conn, envelope.EncodeNotice(reason.RateLimited.F("relay under load, expect delays")))
		}
	}
}

// closeAfterDelay implements the Critical+circuit-open pathway: give
// the NOTICE a moment to reach the client before forcing a reconnect.
func (fe *Frontend) closeAfterDelay(conn *websocket.Conn, cancel context.CancelFunc) {
	time.Sleep(fe.Cfg.CircuitCloseDelay)
	_ = conn.Close(websocket.StatusTryAgainLater, "relay overloaded, reconnect shortly")
	cancel()
}

// rejectByVerb maps an IQ rejection onto the client-visible frame for
// each verb: EVENT rejects as OK-false, REQ rejects as CLOSED,
// everything else as NOTICE.
func (fe *Frontend) rejectByVerb(ctx context.Context, conn *websocket.Conn, verb envelope.Verb, raw []byte, dropReason queue.DropReason) {
	msg := reasonFor(dropReason)
	switch verb {
	case envelope.Event:
		if id, ok := peekEventID(raw); ok {
			fe.writeFrame(ctx, conn, envelope.EncodeOK(id, false, msg))
			return
		}
	case envelope.Req:
		if subID, ok := peekReqSubID(raw); ok {
			fe.writeFrame(ctx, conn, envelope.EncodeClosed(subID, msg))
			return
		}
	}
	fe.writeFrame(ctx, conn, envelope.EncodeNotice(msg))
}

// reasonFor renders an IQ drop reason as a machine-readable OK/CLOSED
// reason string.
func reasonFor(dr queue.DropReason) string {
	switch dr {
	case queue.DropRateLimited, queue.DropCircuitOpen:
		return reason.RateLimited.F("%s", string(dr))
	default:
		return reason.Blocked.F("%s", string(dr))
	}
}

func peekEventID(raw []byte) (string, bool) {
	sub, err := envelope.DecodeEventSubmission(raw)
	if err != nil || sub.Event == nil {
		return "", false
	}
	return sub.Event.ID, true
}

func peekReqSubID(raw []byte) (string, bool) {
	sub, err := envelope.DecodeReqSubmission(raw)
	if err != nil {
		return "", false
	}
	return sub.SubID, true
}

func (fe *Frontend) writeFrame(ctx context.Context, conn *websocket.Conn, frame []byte, err error) {
	if chk.E(err) {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, frame); chk.E(err) {
	}
}

func remoteAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	return r.RemoteAddr
}

func ipWhitelisted(remote string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(remote, p) {
			return true
		}
	}
	return false
}
