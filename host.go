package postbus

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/RidgeA/postbus/transport"
)

// Host is the controlling side: it subscribes by namespace and action,
// answers correlated requests and emits to the frame it attached.
type Host struct {
	*facade

	peerMu sync.Mutex
	peer   transport.Peer

	routes       *Routes
	cancelUnload func()
}

func NewHost(inbox transport.Inbox, opts ...OptionsFunc) *Host {
	h := &Host{
		facade: newFacade("host", inbox, opts...),
		routes: NewRoutes(),
	}
	h.log.Debug("Creating host")
	return h
}

// Initialize applies cfg and starts receiving. Calls after the first
// successful one do nothing.
func (h *Host) Initialize(cfg Config) error {
	first, err := h.configure(cfg)
	if err != nil || !first {
		return err
	}

	h.log.Info("Initializing host")
	h.subscribe(h.receive)
	h.armUnload()
	return nil
}

// Attach sets the frame Emit sends to.
func (h *Host) Attach(peer transport.Peer) {
	h.peerMu.Lock()
	defer h.peerMu.Unlock()
	h.peer = peer
}

func (h *Host) Emit(c transport.Content) error {
	h.peerMu.Lock()
	peer := h.peer
	h.peerMu.Unlock()
	return h.EmitTo(peer, c)
}

// EmitTo sends c to an explicit frame, for hosts controlling more than one.
func (h *Host) EmitTo(peer transport.Peer, c transport.Content) error {
	target, _ := h.origins()
	h.log.Debug("Sending %s", c.Action)
	return transport.Send(peer, transport.NewEnvelope(c, transport.Wildcard), target)
}

// On subscribes h to action in the wildcard namespace.
func (h *Host) On(action string, fn HandlerFunc) func() {
	return h.OnNamespace(transport.Wildcard, action, fn)
}

func (h *Host) OnNamespace(namespace, action string, fn HandlerFunc) func() {
	if namespace == "" {
		namespace = transport.Wildcard
	}
	h.log.Debug("Subscribing to %s in namespace %s", action, namespace)
	return h.table.register(namespace, action, fn)
}

// OnInitMicroApp fires when an embedded frame finished initializing.
func (h *Host) OnInitMicroApp(fn func(transport.Delivery)) func() {
	return h.On(ActionInitMicroApp, func(_ json.RawMessage, d transport.Delivery) (json.RawMessage, error) {
		fn(d)
		return nil, nil
	})
}

// OnUnloadOpener fires when a window opened by this one is about to close.
func (h *Host) OnUnloadOpener(fn func(UnloadInfo, transport.Delivery), namespace string) func() {
	return h.OnNamespace(namespace, ActionUnloadOpener, func(payload json.RawMessage, d transport.Delivery) (json.RawMessage, error) {
		var info UnloadInfo
		if err := json.Unmarshal(payload, &info); err != nil {
			h.log.Debug("Dropping %s with payload %s: %v", ActionUnloadOpener, payload, err)
			return nil, nil
		}
		fn(info, d)
		return nil, nil
	})
}

func (h *Host) Routes() *Routes {
	return h.routes
}

// Close detaches the inbound subscription and the unload hook.
func (h *Host) Close() {
	h.mu.Lock()
	cancelUnload := h.cancelUnload
	h.cancelUnload = nil
	h.mu.Unlock()
	if cancelUnload != nil {
		cancelUnload()
	}
	h.close()
}

func (h *Host) receive(env transport.Envelope, d transport.Delivery) {
	c := env.Data

	var invoke func(HandlerFunc) error
	if c.Key == "" {
		h.log.Debug("Dispatching namespace: %s, action: %s", env.Namespace, c.Action)
		invoke = func(fn HandlerFunc) error {
			_, err := fn(c.Payload, d)
			return err
		}
	} else {
		h.log.Debug("Dispatching with reply, namespace: %s, key: %s, action: %s", env.Namespace, c.Key, c.Action)
		invoke = func(fn HandlerFunc) error {
			return h.reply(env, d, fn)
		}
	}

	n := h.table.dispatch(env.Namespace, c.Action, invoke, func(err error) {
		h.log.Error("Subscriber of %s failed: %v", c.Action, err)
	})
	if n == 0 {
		h.log.Debug("No subscriber for namespace: %s, action: %s", env.Namespace, c.Action)
	}
}

func (h *Host) reply(env transport.Envelope, d transport.Delivery, fn HandlerFunc) error {
	c := env.Data
	payload, err := fn(c.Payload, d)
	if err != nil {
		return err
	}
	if isEmptyPayload(payload) {
		h.log.Warn("Key: %s, subscriber of %s should return a reply but returned nothing", c.Key, c.Action)
		return nil
	}

	out := transport.NewEnvelope(transport.Content{
		Action:  c.Action,
		Payload: payload,
		Key:     c.Key,
	}, env.Namespace)
	return transport.Send(d.Source, out, d.Origin)
}

func (h *Host) armUnload() {
	opened, ok := h.inbox.(transport.Opened)
	if !ok {
		return
	}
	opener := opened.Opener()
	if opener == nil {
		return
	}

	cancel := opened.OnUnload(func() {
		c, err := transport.NewContent(ActionUnloadOpener, UnloadInfo{
			Name: opened.Name(),
			URL:  opened.URL(),
		})
		if err != nil {
			h.log.Error("Encoding %s: %v", ActionUnloadOpener, err)
			return
		}
		h.log.Info("Notifying opener of unload")
		if err := transport.Send(opener, transport.NewEnvelope(c, transport.Wildcard), transport.Wildcard); err != nil {
			h.log.Error("Sending %s: %v", ActionUnloadOpener, err)
		}
	})

	h.mu.Lock()
	h.cancelUnload = cancel
	h.mu.Unlock()
}

func isEmptyPayload(p json.RawMessage) bool {
	trimmed := bytes.TrimSpace(p)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
