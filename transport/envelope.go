package transport

import (
	"encoding/json"
	"errors"
)

// Wildcard is the unscoped namespace and the "any origin" policy.
const Wildcard = "*"

var (
	ErrNoPeer    = errors.New("transport: peer does not exist")
	ErrMalformed = errors.New("transport: malformed envelope")
	ErrClosed    = errors.New("transport: context is closed")
)

type (
	// Content is the application part of an envelope.
	Content struct {
		Action  string          `json:"action"`
		Payload json.RawMessage `json:"payload,omitempty"`
		Key     string          `json:"_key,omitempty"`
	}

	// Envelope is what actually travels between two contexts.
	Envelope struct {
		Namespace string  `json:"namespace"`
		Data      Content `json:"data"`
	}

	// Delivery is a single inbound event of a context. Source addresses the
	// sender and is what replies are posted to.
	Delivery struct {
		Origin string
		Source Peer
		Data   []byte
	}

	// Peer is a handle to another context.
	Peer interface {
		Post(data []byte, targetOrigin string) error
	}

	// Inbox is the shared inbound stream of the local context.
	Inbox interface {
		Listen(func(Delivery)) (cancel func())
	}

	// Opened is implemented by contexts that can be opened by another one.
	Opened interface {
		Opener() Peer
		Name() string
		URL() string
		OnUnload(func()) (cancel func())
	}

	LogFunc func(string, ...interface{})
)

// NewContent builds content for action, marshaling payload when it is not nil.
func NewContent(action string, payload interface{}) (Content, error) {
	c := Content{Action: action}
	if payload == nil {
		return c, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Content{}, err
	}
	c.Payload = raw
	return c, nil
}

// Decode unmarshals the payload into v.
func (c Content) Decode(v interface{}) error {
	if len(c.Payload) == 0 {
		return errors.New("transport: empty payload")
	}
	return json.Unmarshal(c.Payload, v)
}

func NewEnvelope(c Content, namespace string) Envelope {
	if namespace == "" {
		namespace = Wildcard
	}
	return Envelope{Namespace: namespace, Data: c}
}

// OriginAllowed reports whether origin passes the policy. An empty policy
// is treated as Wildcard.
func OriginAllowed(policy, origin string) bool {
	return policy == "" || policy == Wildcard || policy == origin
}
