// In-process implementation of the transport: windows that post to each
// other through buffered queues. Every window runs its own dispatch loop, so
// listeners of one window never run concurrently.

package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/RidgeA/postbus/transport"
)

const defaultQueueSize = 1024

type (
	Window struct {
		name   string
		origin string
		url    string
		parent *Window
		opener *Window

		mu        sync.Mutex
		nextID    int
		listeners map[int]func(transport.Delivery)
		unload    map[int]func()

		queue  chan *pack
		ctx    context.Context
		cancel context.CancelFunc
		closed bool
	}

	OptionsFunc func(*Window)

	pack struct {
		from *Window
		data []byte
	}

	// handle posts to a window on behalf of another one.
	handle struct {
		from *Window
		to   *Window
	}
)

func SetName(name string) OptionsFunc {
	return func(w *Window) {
		w.name = name
	}
}

func SetURL(url string) OptionsFunc {
	return func(w *Window) {
		w.url = url
	}
}

func SetQueueSize(size int) OptionsFunc {
	return func(w *Window) {
		if size > 0 {
			w.queue = make(chan *pack, size)
		}
	}
}

// New creates a top level window and starts its dispatch loop.
func New(origin string, options ...OptionsFunc) *Window {
	w := &Window{
		origin:    origin,
		listeners: make(map[int]func(transport.Delivery)),
		unload:    make(map[int]func()),
		queue:     make(chan *pack, defaultQueueSize),
	}
	for _, f := range options {
		f(w)
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	go w.dispatch()
	return w
}

// Embed creates a frame controlled by w.
func (w *Window) Embed(origin string, options ...OptionsFunc) *Window {
	child := New(origin, options...)
	child.parent = w
	return child
}

// Open creates a window whose opener is w.
func (w *Window) Open(origin string, options ...OptionsFunc) *Window {
	child := New(origin, options...)
	child.opener = w
	return child
}

func (w *Window) Origin() string {
	return w.origin
}

func (w *Window) Name() string {
	return w.name
}

func (w *Window) URL() string {
	return w.url
}

// Parent returns a handle to the window that embeds w, or nil.
func (w *Window) Parent() transport.Peer {
	if w.parent == nil {
		return nil
	}
	return w.Handle(w.parent)
}

// Opener returns a handle to the window that opened w, or nil.
func (w *Window) Opener() transport.Peer {
	if w.opener == nil {
		return nil
	}
	return w.Handle(w.opener)
}

// Handle returns a peer that posts to target as w.
func (w *Window) Handle(target *Window) transport.Peer {
	return &handle{from: w, to: target}
}

func (w *Window) Listen(f func(transport.Delivery)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	w.listeners[id] = f
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.listeners, id)
	}
}

// OnUnload registers f to run when the window is closed.
func (w *Window) OnUnload(f func()) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	w.unload[id] = f
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.unload, id)
	}
}

// Close runs the unload hooks and stops the dispatch loop. Messages still
// queued are discarded.
func (w *Window) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	hooks := make([]func(), 0, len(w.unload))
	for _, f := range w.unload {
		hooks = append(hooks, f)
	}
	w.mu.Unlock()

	for _, f := range hooks {
		f()
	}
	w.cancel()
}

func (h *handle) Post(data []byte, targetOrigin string) error {
	if h.to == nil {
		return transport.ErrNoPeer
	}
	return h.to.enqueue(h.from, data, targetOrigin)
}

func (w *Window) enqueue(from *Window, data []byte, targetOrigin string) error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	if !transport.OriginAllowed(targetOrigin, w.origin) {
		return nil
	}
	p := &pack{
		from: from,
		data: append([]byte(nil), data...),
	}
	select {
	case w.queue <- p:
		return nil
	case <-w.ctx.Done():
		return transport.ErrClosed
	}
}

func (w *Window) dispatch() {
	for {
		select {
		case p := <-w.queue:
			w.deliver(p)
		case <-w.ctx.Done():
			return
		}
	}
}

func (w *Window) deliver(p *pack) {
	d := transport.Delivery{
		Data: p.data,
	}
	if p.from != nil {
		d.Origin = p.from.origin
		d.Source = w.Handle(p.from)
	}

	w.mu.Lock()
	ids := make([]int, 0, len(w.listeners))
	for id := range w.listeners {
		ids = append(ids, id)
	}
	w.mu.Unlock()
	sort.Ints(ids)

	for _, id := range ids {
		w.mu.Lock()
		f, ok := w.listeners[id]
		w.mu.Unlock()
		if ok {
			f(d)
		}
	}
}
