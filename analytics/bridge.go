package analytics

import (
	"context"

	"fitprogress/core"
)

// BridgeHook fans one event stream out to several hooks, in order.
type BridgeHook struct{ hooks []Hook }

// NewBridge skips nil hooks, so optional sinks can be passed unconditionally.
func NewBridge(hooks ...Hook) *BridgeHook {
	b := &BridgeHook{hooks: make([]Hook, 0, len(hooks))}
	for _, h := range hooks {
		if h != nil {
			b.hooks = append(b.hooks, h)
		}
	}
	return b
}

// Len is the number of wired hooks.
func (b *BridgeHook) Len() int { return len(b.hooks) }

func (b *BridgeHook) OnEvent(e core.Event) {
	for _, h := range b.hooks {
		h.OnEvent(e)
	}
}

// Handle adapts the bridge to an event bus handler.
func (b *BridgeHook) Handle(_ context.Context, e core.Event) { b.OnEvent(e) }
