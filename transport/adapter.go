package transport

import (
	"encoding/json"
	"sync"
)

type (
	// HandlerFunc receives envelopes that passed the origin and shape checks.
	HandlerFunc func(Envelope, Delivery)

	SubscribeOption func(*subscription)

	subscription struct {
		allowedOrigin string
		handler       HandlerFunc
		drop          LogFunc
	}
)

var silentLog LogFunc = func(string, ...interface{}) {}

// WithDropLog reports dropped deliveries to f.
func WithDropLog(f LogFunc) SubscribeOption {
	return func(s *subscription) {
		if f != nil {
			s.drop = f
		}
	}
}

// Send posts env to peer. A nil peer is a configuration error.
func Send(peer Peer, env Envelope, targetOrigin string) error {
	if peer == nil {
		return ErrNoPeer
	}
	if env.Namespace == "" {
		env.Namespace = Wildcard
	}
	if targetOrigin == "" {
		targetOrigin = Wildcard
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return peer.Post(data, targetOrigin)
}

// Subscribe attaches h to the inbound stream of inbox. Deliveries from an
// origin the policy does not allow and deliveries that are not envelopes are
// dropped without an error. The returned func detaches the listener.
func Subscribe(inbox Inbox, allowedOrigin string, h HandlerFunc, opts ...SubscribeOption) (unsubscribe func()) {
	s := &subscription{
		allowedOrigin: allowedOrigin,
		handler:       h,
		drop:          silentLog,
	}
	for _, setter := range opts {
		setter(s)
	}

	cancel := inbox.Listen(s.receive)

	var once sync.Once
	return func() {
		once.Do(cancel)
	}
}

func (s *subscription) receive(d Delivery) {
	if !OriginAllowed(s.allowedOrigin, d.Origin) {
		s.drop("Dropping delivery from origin %q, allowed %q", d.Origin, s.allowedOrigin)
		return
	}

	env, err := DecodeEnvelope(d.Data)
	if err != nil {
		s.drop("Dropping delivery from origin %q: %v", d.Origin, err)
		return
	}

	s.handler(env, d)
}
