package postbus

import (
	"context"

	"github.com/RidgeA/postbus/transport"
)

// Embedded is the frame side. It talks to a single peer, its container, and
// keeps all subscriptions in one implicit namespace.
type Embedded struct {
	*facade
	parent transport.Peer
}

// NewEmbedded creates the frame facade. parent is the container the frame
// posts to; it may be nil, in which case Initialize and Emit fail with
// ErrNoPeer.
func NewEmbedded(inbox transport.Inbox, parent transport.Peer, opts ...OptionsFunc) *Embedded {
	e := &Embedded{
		facade: newFacade("embedded", inbox, opts...),
		parent: parent,
	}
	e.log.Debug("Creating embedded")
	return e
}

// Initialize applies cfg, starts receiving and tells the container the
// frame is ready. Calls after the first successful one do nothing.
func (e *Embedded) Initialize(cfg Config) error {
	if e.parent == nil {
		return ErrNoPeer
	}
	first, err := e.configure(cfg)
	if err != nil || !first {
		return err
	}

	e.log.Info("Initializing embedded")
	e.subscribe(e.receive)

	e.log.Info("Notifying container of initialization")
	return e.Emit(transport.Content{Action: ActionInitMicroApp}, transport.Wildcard)
}

// Emit sends c to the container. An empty namespace means the wildcard one.
func (e *Embedded) Emit(c transport.Content, namespace string) error {
	target, _ := e.origins()
	e.log.Debug("Sending %s", c.Action)
	return transport.Send(e.parent, transport.NewEnvelope(c, namespace), target)
}

// On subscribes fn to action. Return values of fn are ignored.
func (e *Embedded) On(action string, fn HandlerFunc) func() {
	e.log.Debug("Subscribing to %s", action)
	return e.table.register(transport.Wildcard, action, fn)
}

// Request sends c to the container and waits for the reply with the same
// correlation key. It returns when the reply arrives, ctx ends or the
// request timeout elapses.
func (e *Embedded) Request(ctx context.Context, c transport.Content, namespace string) (transport.Content, error) {
	if !e.isInitialized() {
		return transport.Content{}, ErrNotInitialized
	}
	e.log.Debug("Requesting %s", c.Action)
	return e.call(ctx, c, func(c transport.Content) error {
		return e.Emit(c, namespace)
	})
}

func (e *Embedded) Close() {
	e.close()
}

func (e *Embedded) receive(env transport.Envelope, d transport.Delivery) {
	c := env.Data
	if c.Key != "" {
		if e.pending.resolve(c) {
			e.log.Debug("Resolved key: %s", c.Key)
		} else {
			e.log.Debug("Unknown key: %s", c.Key)
		}
	}

	e.table.dispatch(transport.Wildcard, c.Action, func(fn HandlerFunc) error {
		e.log.Debug("Dispatching action: %s", c.Action)
		_, err := fn(c.Payload, d)
		return err
	}, func(err error) {
		e.log.Error("Subscriber of %s failed: %v", c.Action, err)
	})
}
