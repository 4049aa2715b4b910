package pubsub

import (
	"errors"
	"sync"

	"github.com/RidgeA/postbus/transport"
)

// Context is a postbus context living on a PubSub topic.
type Context struct {
	ps     PubSub
	name   string
	origin string

	mu        sync.Mutex
	nextID    int
	listeners map[int]func(transport.Delivery)
	cancel    func()
	done      chan struct{}
}

type peer struct {
	ctx  *Context
	name string
}

func NewContext(ps PubSub, name, origin string) *Context {
	return &Context{
		ps:        ps,
		name:      name,
		origin:    origin,
		listeners: make(map[int]func(transport.Delivery)),
	}
}

// Start subscribes to the context topic and runs the delivery loop.
func (c *Context) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return errors.New("pubsub: context already started")
	}
	in, cancel, err := c.ps.Subscribe(topic(c.name))
	if err != nil {
		return err
	}
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.handle(in, c.done)
	return nil
}

// Shutdown stops the delivery loop and waits for it to finish.
func (c *Context) Shutdown() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Context) Name() string {
	return c.name
}

func (c *Context) Origin() string {
	return c.origin
}

// Peer returns a handle to the context registered under name.
func (c *Context) Peer(name string) transport.Peer {
	return &peer{ctx: c, name: name}
}

func (c *Context) Listen(f func(transport.Delivery)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = f
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (p *peer) Post(data []byte, targetOrigin string) error {
	raw, err := EncodeFrame(Frame{
		Origin:       p.ctx.origin,
		TargetOrigin: targetOrigin,
		From:         p.ctx.name,
		Data:         data,
	})
	if err != nil {
		return err
	}
	return p.ctx.ps.Publish(topic(p.name), raw)
}

func (c *Context) handle(in <-chan Message, done chan struct{}) {
	defer close(done)
	for msg := range in {
		c.deliver(msg)
	}
}

func (c *Context) deliver(msg Message) {
	f, err := DecodeFrame(msg.Payload)
	if err != nil {
		return
	}
	if !transport.OriginAllowed(f.TargetOrigin, c.origin) {
		return
	}

	d := transport.Delivery{
		Origin: f.Origin,
		Data:   f.Data,
	}
	if f.From != "" {
		d.Source = c.Peer(f.From)
	}

	for _, listener := range c.snapshot() {
		listener(d)
	}
}

func (c *Context) snapshot() []func(transport.Delivery) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]func(transport.Delivery), 0, len(c.listeners))
	for id := 0; id < c.nextID; id++ {
		if f, ok := c.listeners[id]; ok {
			out = append(out, f)
		}
	}
	return out
}
