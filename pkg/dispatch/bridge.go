package dispatch

import (
	"context"
	"time"

	"lol.mleku.dev/chk"
	"lol.mleku.dev/log"

	"relaywright.dev/pkg/kstore"
	"relaywright.dev/pkg/queue"
)

// Bridge is BR: it endlessly drains IQ and republishes each message
// onto the single shared work list in K. BR never exits on its own;
// Run returns only when ctx is cancelled.
type Bridge struct {
	IQ     *queue.Queue
	KStore kstore.Client
	Cfg    Config
}

// NewBridge builds a Bridge with cfg; callers typically pass
// DefaultConfig().
func NewBridge(iq *queue.Queue, client kstore.Client, cfg Config) *Bridge {
	return &Bridge{IQ: iq, KStore: client, Cfg: cfg}
}

// Run is BR's endless loop. It blocks until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs := b.IQ.Pop(b.Cfg.BridgeBatch)
		if len(msgs) == 0 {
			time.Sleep(b.Cfg.BridgeIdleSleep)
			continue
		}

		if err := b.publish(ctx, msgs); chk.E(err) {
			time.Sleep(b.Cfg.BridgeFailureBackoff)
		}
	}
}

func (b *Bridge) publish(ctx context.Context, msgs []*queue.Message) error {
	pipe := b.KStore.Pipeline()
	pushCtx, cancel := kstore.WithTimeout(ctx)
	defer cancel()
	for _, m := range msgs {
		item, err := encodeWorkItem(m.ConnID, m.Data)
		if err != nil {
			log.W.F("bridge: skipping unmarshalable message from %s: %v", m.ConnID, err)
			continue
		}
		pipe.RPush(pushCtx, kstore.WorkListKey, item)
	}
	_, err := pipe.Exec(pushCtx)
	return err
}
