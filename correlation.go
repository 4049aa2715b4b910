package postbus

import (
	"context"
	"sync"

	"github.com/RidgeA/postbus/transport"
)

// pending holds one-shot waiters of correlated requests by key.
type pending struct {
	mu      sync.Mutex
	waiters map[string]chan transport.Content
}

func newPending() *pending {
	return &pending{
		waiters: make(map[string]chan transport.Content),
	}
}

func (p *pending) add(key string) <-chan transport.Content {
	// Buffered so resolve never blocks the delivery loop.
	ch := make(chan transport.Content, 1)
	p.mu.Lock()
	p.waiters[key] = ch
	p.mu.Unlock()
	return ch
}

func (p *pending) remove(key string) {
	p.mu.Lock()
	delete(p.waiters, key)
	p.mu.Unlock()
}

// resolve hands c to the waiter registered under c.Key, at most once.
func (p *pending) resolve(c transport.Content) bool {
	if c.Key == "" {
		return false
	}
	p.mu.Lock()
	ch, ok := p.waiters[c.Key]
	if ok {
		delete(p.waiters, c.Key)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- c
	return true
}

func (p *pending) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}

// call attaches a fresh correlation key to c, emits it and waits for the
// reply carrying the same key.
func (f *facade) call(ctx context.Context, c transport.Content, emit func(transport.Content) error) (transport.Content, error) {
	c.Key = f.newID()
	f.log.Debug("Registering waiter for key: %s", c.Key)
	wait := f.pending.add(c.Key)
	defer f.pending.remove(c.Key)

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	if err := emit(c); err != nil {
		return transport.Content{}, err
	}

	select {
	case reply := <-wait:
		f.log.Debug("Got reply for key: %s", c.Key)
		return reply, nil
	case <-ctx.Done():
		f.log.Info("Abandoning key %s: %v", c.Key, ctx.Err())
		return transport.Content{}, ctx.Err()
	}
}
