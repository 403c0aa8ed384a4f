package dispatch

import (
	"context"
	"time"

	"lol.mleku.dev/chk"
	"lol.mleku.dev/log"

	"relaywright.dev/pkg/kstore"
	"relaywright.dev/pkg/nostr/envelope"
	"relaywright.dev/pkg/nostr/reason"
	"relaywright.dev/pkg/pubsub"
	"relaywright.dev/pkg/storage"
	"relaywright.dev/pkg/verify"
)

// Worker is RW: it pulls wrapped frames off the shared work list,
// parses them, and validates/stores/matches/replies. A panic while
// handling one frame is recovered so it is fatal only to that frame,
// not the whole worker; the supervisor restarts a worker whose process
// does exit.
type Worker struct {
	KStore   kstore.Client
	Router   *pubsub.Router
	Storage  storage.Engine
	Verifier verify.Verifier
	Cfg      Config
}

// NewWorker builds a Worker from its collaborators and cfg.
func NewWorker(
	client kstore.Client, router *pubsub.Router, engine storage.Engine,
	verifier verify.Verifier, cfg Config,
) *Worker {
	return &Worker{
		KStore: client, Router: router, Storage: engine,
		Verifier: verifier, Cfg: cfg,
	}
}

// Run is RW's endless loop. It blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		batch := w.collectBatch(ctx)
		for _, raw := range batch {
			w.handleSafely(ctx, raw)
		}
	}
}

// collectBatch assembles up to Cfg.WorkerBatch items via repeated
// short-timeout BLPOP calls. It returns as soon as one pop comes back
// empty, so a batch already collected is processed promptly rather
// than waiting for the work list to fill.
func (w *Worker) collectBatch(ctx context.Context) [][]byte {
	out := make([][]byte, 0, w.Cfg.WorkerBatch)
	for len(out) < w.Cfg.WorkerBatch {
		if ctx.Err() != nil {
			break
		}
		popCtx, cancel := context.WithTimeout(ctx, w.Cfg.WorkerPopTimeout)
		res, err := w.KStore.BLPop(popCtx, w.Cfg.WorkerPopTimeout, kstore.WorkListKey).Result()
		cancel()
		if err != nil {
			break // timeout (ErrNil) or transient failure: process what we have
		}
		if len(res) < 2 {
			break
		}
		out = append(out, []byte(res[1]))
	}
	return out
}

func (w *Worker) handleSafely(ctx context.Context, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.E.F("worker: recovered panic handling a frame, dropping it: %v", r)
		}
	}()

	item, err := decodeWorkItem(raw)
	if chk.E(err) {
		return
	}
	verb, err := envelope.PeekVerb(item.Frame)
	if chk.E(err) {
		return
	}
	switch verb {
	case envelope.Event:
		w.handleEvent(ctx, item.ConnID, item.Frame)
	case envelope.Req:
		w.handleReq(ctx, item.ConnID, item.Frame)
	case envelope.Close:
		w.handleClose(ctx, item.ConnID, item.Frame)
	default:
		w.reply(ctx, item.ConnID, envelope.EncodeNotice(reason.Unsupported.F("verb %q", verb)))
	}
}

// reply writes frame (as produced by one of envelope's EncodeX
// helpers) onto connId's response list with a fresh TTL, so it is
// called directly on an EncodeX call's two return values.
func (w *Worker) reply(ctx context.Context, connID string, frame []byte, err error) {
	if chk.E(err) {
		return
	}
	replyCtx, cancel := kstore.WithTimeout(ctx)
	defer cancel()
	key := kstore.ResponseListKey(connID)
	pipe := w.KStore.Pipeline()
	pipe.RPush(replyCtx, key, frame)
	pipe.Expire(replyCtx, key, w.Cfg.ResponseWriteTTL)
	if _, err := pipe.Exec(replyCtx); chk.E(err) {
	}
}

func (w *Worker) handleEvent(ctx context.Context, connID string, raw []byte) {
	sub, err := envelope.DecodeEventSubmission(raw)
	if chk.E(err) {
		return
	}
	ev := sub.Event

	if err := ev.ValidateStructure(time.Now().Unix()); err != nil {
		w.reply(ctx, connID, envelope.EncodeOK(ev.ID, false, reason.Invalid.F("%v", err)))
		return
	}
	if !ev.IDMatches() {
		w.reply(ctx, connID, envelope.EncodeOK(ev.ID, false, reason.Invalid.F("id does not match computed hash")))
		return
	}
	verified, err := w.Verifier.Verify(ev)
	if chk.E(err) {
		w.reply(ctx, connID, envelope.EncodeOK(ev.ID, false, reason.Error.F("verification error")))
		return
	}
	if !verified {
		w.reply(ctx, connID, envelope.EncodeOK(ev.ID, false, reason.Invalid.F("bad signature")))
		return
	}

	stored, storeReason, err := w.Storage.Store(ctx, ev)
	if chk.E(err) {
		w.reply(ctx, connID, envelope.EncodeNotice(reason.Error.F("storage unavailable")))
		return
	}
	if !stored {
		w.reply(ctx, connID, envelope.EncodeOK(ev.ID, false, storeReason))
		return
	}
	w.reply(ctx, connID, envelope.EncodeOK(ev.ID, true, ""))

	matches, err := w.Router.FindMatchingSubscriptions(ctx, ev)
	if chk.E(err) {
		return
	}
	for _, m := range matches {
		w.reply(ctx, m.ConnID, envelope.EncodeEvent(m.SubID, ev))
	}
}

func (w *Worker) handleReq(ctx context.Context, connID string, raw []byte) {
	sub, err := envelope.DecodeReqSubmission(raw)
	if chk.E(err) {
		return
	}
	// A connection at MaxSubscriptions may replace one of its existing
	// subscriptions but may not open a new one.
	countCtx, cancel := kstore.WithTimeout(ctx)
	n, err := w.KStore.SCard(countCtx, kstore.ConnSetKey(connID)).Result()
	if err == nil && n >= envelope.MaxSubscriptions &&
		w.KStore.Get(countCtx, kstore.MetadataKey(connID, sub.SubID)).Err() == kstore.ErrNil {
		cancel()
		w.reply(ctx, connID, envelope.EncodeClosed(sub.SubID, reason.Blocked.F("too many subscriptions")))
		return
	}
	cancel()
	if err := w.Router.Subscribe(ctx, connID, sub.SubID, sub.Filters); chk.E(err) {
		w.reply(ctx, connID, envelope.EncodeClosed(sub.SubID, reason.Error.F("subscribe failed")))
		return
	}

	// Filters are OR-combined; the per-subscription cap is the
	// largest limit any one of them declares, 0 (unbounded) if none
	// does.
	var limit int
	for _, f := range sub.Filters {
		if f.Limit != nil && *f.Limit > limit {
			limit = *f.Limit
		}
	}

	results, err := w.Storage.Query(ctx, sub.Filters, limit)
	if chk.E(err) {
		w.reply(ctx, connID, envelope.EncodeNotice(reason.Error.F("query failed for %s", sub.SubID)))
		return
	}
	for _, ev := range results {
		w.reply(ctx, connID, envelope.EncodeEvent(sub.SubID, ev))
	}
	w.reply(ctx, connID, envelope.EncodeEOSE(sub.SubID))
}

func (w *Worker) handleClose(ctx context.Context, connID string, raw []byte) {
	sub, err := envelope.DecodeCloseSubmission(raw)
	if chk.E(err) {
		return
	}
	existed, err := w.Router.Unsubscribe(ctx, connID, sub.SubID)
	if chk.E(err) {
		w.reply(ctx, connID, envelope.EncodeNotice(reason.Error.F("close failed for %s", sub.SubID)))
		return
	}
	if existed {
		w.reply(ctx, connID, envelope.EncodeClosed(sub.SubID, ""))
	}
}
