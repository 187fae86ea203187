// Package bus implements the in-process event bus that fans out typed
// Events to subscribed handlers and retains a bounded history.
//
// The bus is the data backbone of the cognitive task core: the Agent,
// Task FSM, tool executor, and project adapter all communicate exclusively
// by emitting and subscribing to Events rather than calling one another
// directly. This keeps the scheduler flat — no component ever recurses
// straight into another's logic; every continuation re-enters through an
// emitted event.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/syntrixbase/pegasus/pkg/models"
)

// Handler processes one Event. A Handler that returns an error is logged and
// skipped; it never prevents peer handlers from running and never
// propagates to the emitter.
type Handler func(ctx context.Context, event models.Event) error

// DefaultHistoryCap is the minimum history retention required by spec.md §4.1.
const DefaultHistoryCap = 1024

// Config configures a Bus.
type Config struct {
	// HistoryCap bounds the retained event history. Defaults to DefaultHistoryCap.
	HistoryCap int

	// Logger receives handler failure diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.HistoryCap <= 0 {
		c.HistoryCap = DefaultHistoryCap
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Bus is an in-process pub/sub fan-out of typed Events with bounded history.
//
// Thread safety: Bus is safe for concurrent Subscribe/Unsubscribe/Emit calls.
// Handlers added mid-dispatch never receive the event currently being
// emitted; they receive every subsequent one (Emit snapshots the subscriber
// slice before dispatching).
type Bus struct {
	cfg Config

	mu          sync.RWMutex
	subscribers map[models.EventType][]subscriber
	history     []models.Event
	running     bool

	wg sync.WaitGroup
}

type subscriber struct {
	id      uint64
	handler Handler
}

// New creates a Bus with the given configuration.
func New(cfg Config) *Bus {
	cfg = cfg.withDefaults()
	return &Bus{
		cfg:         cfg,
		subscribers: make(map[models.EventType][]subscriber),
		history:     make([]models.Event, 0, cfg.HistoryCap),
	}
}

// Start marks the bus as running. Emit is a no-op before Start and after Stop.
func (b *Bus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = true
}

// Stop marks the bus as stopped and waits for all background work
// registered via Track to settle. (Emit itself spawns no goroutines; its
// handlers run synchronously.)
func (b *Bus) Stop() {
	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
	b.wg.Wait()
}

var subscriberSeq uint64
var subscriberSeqMu sync.Mutex

func nextSubscriberID() uint64 {
	subscriberSeqMu.Lock()
	defer subscriberSeqMu.Unlock()
	subscriberSeq++
	return subscriberSeq
}

// Subscribe registers a handler for the given event type and returns a token
// usable with Unsubscribe.
func (b *Bus) Subscribe(eventType models.EventType, handler Handler) uint64 {
	id := nextSubscriberID()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber{id: id, handler: handler})
	return id
}

// Unsubscribe removes a previously registered handler by its token.
func (b *Bus) Unsubscribe(eventType models.EventType, token uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[eventType]
	for i, s := range subs {
		if s.id == token {
			b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Emit dispatches event to every subscriber currently registered for its
// type, in registration order, synchronously from the caller's goroutine.
// Emit returns once every handler has run to completion (or failed and been
// logged) — "Emit... returns after every handler has started" in spec.md
// refers to the bus not blocking on work the handler itself defers to the
// background (e.g. the Agent's stage dispatch, which spawns its own tracked
// goroutine and returns from its handler immediately).
func (b *Bus) Emit(ctx context.Context, event models.Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.history = append(b.history, event)
	if len(b.history) > b.cfg.HistoryCap {
		overflow := len(b.history) - b.cfg.HistoryCap
		b.history = b.history[overflow:]
	}
	subs := make([]subscriber, len(b.subscribers[event.Type]))
	copy(subs, b.subscribers[event.Type])
	b.mu.Unlock()

	for _, s := range subs {
		s := s
		b.invoke(ctx, s, event)
	}
}

// invoke runs a single handler with panic recovery so one failing handler
// never prevents peers from running and never reaches the emitter.
func (b *Bus) invoke(ctx context.Context, s subscriber, event models.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.cfg.Logger.Error("event handler panicked", "event_type", event.Type, "event_id", event.ID, "panic", r)
		}
	}()
	if err := s.handler(ctx, event); err != nil {
		b.cfg.Logger.Warn("event handler failed", "event_type", event.Type, "event_id", event.ID, "error", err)
	}
}

// History returns a snapshot of the retained event history, oldest first.
func (b *Bus) History() []models.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.Event, len(b.history))
	copy(out, b.history)
	return out
}

// Track registers background work started in response to a handler so that
// Stop (and Agent.Stop, which embeds a Bus) can await it. Callers that spawn
// goroutines from inside a Handler should call Track before the goroutine
// starts and the returned done func when it finishes.
func (b *Bus) Track() (done func()) {
	b.wg.Add(1)
	return b.wg.Done
}
