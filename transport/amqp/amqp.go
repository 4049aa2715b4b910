// Package amqp carries postbus envelopes over an AMQP 0.9.1 broker. Every
// context owns a queue bound to a direct exchange under its own name; the
// sender's name travels in ReplyTo so that replies can be addressed back.
package amqp

import (
	"errors"
	"sync"

	"github.com/RidgeA/postbus/transport"
	"github.com/streadway/amqp"
)

var (
	ErrAlreadyInitialized = errors.New("amqp: context already initialized")
	ErrNotInitialized     = errors.New("amqp: context is not initialized")
)

const (
	DefaultExchange = "postbus.exchange"

	headerOrigin       = "origin"
	headerTargetOrigin = "target-origin"
)

type (
	Context struct {
		url          string
		name         string
		origin       string
		exchangeName string
		extConn      bool
		conn         *amqp.Connection
		out          *amqp.Channel
		in           *amqp.Channel
		initOnce     sync.Once
		initialized  chan struct{}

		mu        sync.Mutex
		nextID    int
		listeners map[int]func(transport.Delivery)
	}

	OptionsFunc func(*Context)

	peer struct {
		ctx  *Context
		name string
	}
)

func NewContext(url, name, origin string, options ...OptionsFunc) *Context {
	c := &Context{
		url:          url,
		name:         name,
		origin:       origin,
		exchangeName: DefaultExchange,
	}

	for _, f := range options {
		f(c)
	}

	c.listeners = make(map[int]func(transport.Delivery))
	c.initialized = make(chan struct{})
	return c
}

func SetConnection(conn *amqp.Connection) OptionsFunc {
	return func(c *Context) {
		c.extConn = true
		c.conn = conn
	}
}

func SetExchange(name string) OptionsFunc {
	return func(c *Context) {
		c.exchangeName = name
	}
}

// Initialize dials the broker, declares the exchange and the context queue
// and starts consuming. It may run once; later calls return
// ErrAlreadyInitialized.
func (c *Context) Initialize() error {
	err := ErrAlreadyInitialized
	c.initOnce.Do(func() {
		defer close(c.initialized)
		err = c.initialize()
	})
	return err
}

func (c *Context) initialize() error {
	var err error

	if c.conn == nil {
		c.conn, err = amqp.Dial(c.url)
		if err != nil {
			return err
		}
	}

	if c.out, err = c.conn.Channel(); err != nil {
		return err
	}

	if err = c.out.ExchangeDeclare(c.exchangeName, "direct", false, true, false, false, nil); err != nil {
		return err
	}

	if c.in, err = c.conn.Channel(); err != nil {
		return err
	}

	if _, err = c.in.QueueDeclare(c.name, false, true, false, false, nil); err != nil {
		return err
	}

	if err = c.in.QueueBind(c.name, c.name, c.exchangeName, false, nil); err != nil {
		return err
	}

	deliveries, err := c.in.Consume(c.name, c.name, false, false, false, false, nil)
	if err != nil {
		return err
	}

	go c.handle(deliveries)

	return nil
}

func (c *Context) Shutdown() {
	if c.in != nil {
		_ = c.in.Close()
	}
	if c.out != nil {
		_ = c.out.Close()
	}
	if !c.extConn && c.conn != nil {
		_ = c.conn.Close()
	}
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

// Post publishes data to the peer queue. It fails with ErrNotInitialized
// until Initialize has returned.
func (p *peer) Post(data []byte, targetOrigin string) error {
	select {
	case <-p.ctx.initialized:
	default:
		return ErrNotInitialized
	}
	if p.ctx.out == nil {
		return transport.ErrClosed
	}
	publishing := amqp.Publishing{
		ReplyTo: p.ctx.name,
		Headers: amqp.Table{
			headerOrigin:       p.ctx.origin,
			headerTargetOrigin: targetOrigin,
		},
		ContentType: "application/json",
		Body:        data,
	}
	return p.ctx.out.Publish(p.ctx.exchangeName, p.name, false, false, publishing)
}

func (c *Context) handle(in <-chan amqp.Delivery) {
	for msg := range in {
		c.deliver(msg)
		msg.Ack(false)
	}
}

func (c *Context) deliver(msg amqp.Delivery) {
	target, _ := msg.Headers[headerTargetOrigin].(string)
	if !transport.OriginAllowed(target, c.origin) {
		return
	}

	origin, _ := msg.Headers[headerOrigin].(string)
	d := transport.Delivery{
		Origin: origin,
		Data:   msg.Body,
	}
	if msg.ReplyTo != "" {
		d.Source = c.Peer(msg.ReplyTo)
	}

	for _, f := range c.snapshot() {
		f(d)
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
