package engine

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"fitprogress/core"
)

type DispatchMode int

const (
	DispatchSync DispatchMode = iota
	DispatchAsync
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 2048
)

// Handler consumes a published event.
type Handler func(context.Context, core.Event)

// BusOption tunes async dispatch. Sync buses ignore it.
type BusOption func(*EventBus)

// WithWorkers sets the number of async shards.
func WithWorkers(n int) BusOption {
	return func(e *EventBus) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithQueueSize sets the total async queue capacity, split across shards.
func WithQueueSize(n int) BusOption {
	return func(e *EventBus) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

// EventBus is a thread-safe pub/sub with sync or async dispatch.
//
// In async mode events are sharded by user id onto one queue per worker, so
// a single athlete's events are delivered in publish order. A full shard
// drops the event and counts it. Close drains whatever is already queued.
type EventBus struct {
	mode DispatchMode

	mu     sync.RWMutex
	subs   map[core.EventType]map[int64]Handler
	nextID int64

	workers   int
	queueSize int
	shards    []chan core.Event
	// pubMu guards shards against Publish racing Close.
	pubMu   sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
	dropped atomic.Int64
}

func NewEventBus(mode DispatchMode, opts ...BusOption) *EventBus {
	ctx, cancel := context.WithCancel(context.Background())
	e := &EventBus{
		mode:      mode,
		subs:      make(map[core.EventType]map[int64]Handler),
		workers:   defaultWorkers,
		queueSize: defaultQueueSize,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, o := range opts {
		o(e)
	}
	if mode == DispatchAsync {
		e.start()
	}
	return e
}

func (e *EventBus) start() {
	perShard := max(1, e.queueSize/e.workers)
	e.shards = make([]chan core.Event, e.workers)
	for i := range e.shards {
		q := make(chan core.Event, perShard)
		e.shards[i] = q
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for ev := range q {
				e.dispatch(e.ctx, ev)
			}
		}()
	}
}

func (e *EventBus) shardFor(user core.UserID) chan core.Event {
	h := fnv.New32a()
	_, _ = h.Write([]byte(user))
	return e.shards[h.Sum32()%uint32(len(e.shards))]
}

// Close delivers events already queued, stops the workers and waits for
// them. Events published afterwards are dropped. Safe to call twice.
func (e *EventBus) Close() {
	e.once.Do(func() {
		e.pubMu.Lock()
		e.closed = true
		for _, q := range e.shards {
			close(q)
		}
		e.pubMu.Unlock()
		e.wg.Wait()
		e.cancel()
	})
}

// Dropped reports how many events were discarded because a shard was full
// or the bus was closed.
func (e *EventBus) Dropped() int64 { return e.dropped.Load() }

// Subscribe registers a handler for an event type. Returns unsubscribe func.
func (e *EventBus) Subscribe(typ core.EventType, handler Handler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	if e.subs[typ] == nil {
		e.subs[typ] = make(map[int64]Handler)
	}
	e.subs[typ][id] = handler
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs[typ], id)
	}
}

// SubscribeAll registers handler for every event type the engine emits.
func (e *EventBus) SubscribeAll(handler Handler) func() {
	unsubs := make([]func(), 0, len(core.AllEventTypes))
	for _, typ := range core.AllEventTypes {
		unsubs = append(unsubs, e.Subscribe(typ, handler))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Publish sends an event to subscribers. In async mode it never blocks.
func (e *EventBus) Publish(ctx context.Context, ev core.Event) {
	if e.mode != DispatchAsync {
		e.dispatch(ctx, ev)
		return
	}
	e.pubMu.RLock()
	defer e.pubMu.RUnlock()
	if e.closed {
		e.dropped.Add(1)
		return
	}
	select {
	case e.shardFor(ev.UserID) <- ev:
	default:
		e.dropped.Add(1)
	}
}

func (e *EventBus) dispatch(ctx context.Context, ev core.Event) {
	e.mu.RLock()
	handlers := make([]Handler, 0, len(e.subs[ev.Type]))
	for _, h := range e.subs[ev.Type] {
		handlers = append(handlers, h)
	}
	e.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, ev)
	}
}
