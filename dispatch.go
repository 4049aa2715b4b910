package postbus

import (
	"fmt"
	"sync"
)

type (
	// subscriber wraps a HandlerFunc so every registration has its own
	// identity, even when the same func is registered twice.
	subscriber struct {
		handler HandlerFunc
	}

	dispatchTable struct {
		mu      sync.Mutex
		entries map[string]map[string][]*subscriber
	}
)

func newDispatchTable() *dispatchTable {
	return &dispatchTable{
		entries: make(map[string]map[string][]*subscriber),
	}
}

// register appends h to (namespace, action) and returns a disposer bound to
// this exact registration.
func (t *dispatchTable) register(namespace, action string, h HandlerFunc) func() {
	s := &subscriber{handler: h}

	t.mu.Lock()
	actions, ok := t.entries[namespace]
	if !ok {
		actions = make(map[string][]*subscriber)
		t.entries[namespace] = actions
	}
	actions[action] = append(actions[action], s)
	t.mu.Unlock()

	return func() {
		t.remove(namespace, action, s)
	}
}

func (t *dispatchTable) remove(namespace, action string, s *subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.entries[namespace][action]
	for i, candidate := range list {
		if candidate == s {
			// Copy instead of shifting in place: snapshots taken by a running
			// dispatch share the old backing array.
			next := make([]*subscriber, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			t.entries[namespace][action] = next
			return
		}
	}
}

func (t *dispatchTable) snapshot(namespace, action string) []*subscriber {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.entries[namespace][action]
	if len(list) == 0 {
		return nil
	}
	out := make([]*subscriber, len(list))
	copy(out, list)
	return out
}

func (t *dispatchTable) count(namespace, action string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries[namespace][action])
}

// dispatch runs invoke for every subscriber of (namespace, action) in
// registration order. A failing or panicking subscriber is reported to
// onError and does not stop the others. It returns the number of
// subscribers invoked.
func (t *dispatchTable) dispatch(namespace, action string, invoke func(HandlerFunc) error, onError func(error)) int {
	subs := t.snapshot(namespace, action)
	for _, s := range subs {
		if err := safeInvoke(s.handler, invoke); err != nil {
			onError(err)
		}
	}
	return len(subs)
}

func safeInvoke(h HandlerFunc, invoke func(HandlerFunc) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("postbus: subscriber panic: %v", r)
		}
	}()
	return invoke(h)
}
