// Package channels implements the channel adapters described in spec.md §6:
// inbound text arrives via Start's submit callback, outbound messages are
// delivered one at a time via Deliver. Each adapter is an out-of-scope
// "external collaborator" per spec.md §1 — the cognitive core only needs
// the Adapter interface, never a concrete platform's wire format.
package channels

import (
	"context"

	"github.com/syntrixbase/pegasus/pkg/models"
)

// Submit delivers inbound text from a channel into the cognitive core. It
// mirrors core.Agent.Submit's signature so an adapter's Start can be handed
// agent.Submit directly.
type Submit func(ctx context.Context, text, source string) (string, error)

// Adapter is the channel adapter contract from spec.md §6: a type tag, an
// asynchronous Start that begins delivering inbound messages to submit,
// asynchronous outbound Deliver, and asynchronous Stop.
type Adapter interface {
	Type() models.ChannelType
	Start(ctx context.Context, submit Submit) error
	Deliver(ctx context.Context, msg *models.Message) error
	Stop(ctx context.Context) error
}

// Registry holds the adapters active in this process, keyed by channel
// type, so Agent's NotifyFunc can route an outbound message to the adapter
// that owns its source channel.
type Registry struct {
	adapters map[models.ChannelType]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[models.ChannelType]Adapter)}
}

// Register adds an adapter, keyed by its own Type().
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Type()] = a
}

// Deliver routes msg to the adapter owning msg.Channel. Returns false if no
// adapter is registered for that channel.
func (r *Registry) Deliver(ctx context.Context, msg *models.Message) (bool, error) {
	a, ok := r.adapters[msg.Channel]
	if !ok {
		return false, nil
	}
	return true, a.Deliver(ctx, msg)
}

// StartAll starts every registered adapter, wiring each one's inbound
// messages to the same submit callback (normally agent.Submit).
func (r *Registry) StartAll(ctx context.Context, submit Submit) error {
	for _, a := range r.adapters {
		if err := a.Start(ctx, submit); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops every registered adapter, collecting the first error (if
// any) but still attempting every Stop.
func (r *Registry) StopAll(ctx context.Context) error {
	var firstErr error
	for _, a := range r.adapters {
		if err := a.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
