package postbus

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"

	"github.com/RidgeA/postbus/transport"
	"github.com/RidgeA/postbus/transport/mock"
)

// syncInbox is a mocked inbox whose single listener is invoked directly by
// the test, which keeps delivery synchronous.
type syncInbox struct {
	*mock.MockInbox
	mu       sync.Mutex
	listener func(transport.Delivery)
}

func newSyncInbox(ctrl *gomock.Controller) *syncInbox {
	in := &syncInbox{MockInbox: mock.NewMockInbox(ctrl)}
	in.EXPECT().Listen(gomock.Any()).Times(1).DoAndReturn(func(f func(transport.Delivery)) func() {
		in.mu.Lock()
		in.listener = f
		in.mu.Unlock()
		return func() {
			in.mu.Lock()
			in.listener = nil
			in.mu.Unlock()
		}
	})
	return in
}

func (in *syncInbox) deliver(d transport.Delivery) {
	in.mu.Lock()
	f := in.listener
	in.mu.Unlock()
	if f != nil {
		f(d)
	}
}

func encode(t *testing.T, namespace string, c transport.Content) []byte {
	t.Helper()
	data, err := json.Marshal(transport.NewEnvelope(c, namespace))
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}

func decode(t *testing.T, data []byte) transport.Envelope {
	t.Helper()
	env, err := transport.DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func content(t *testing.T, action string, payload interface{}) transport.Content {
	t.Helper()
	c, err := transport.NewContent(action, payload)
	if err != nil {
		t.Fatalf("content: %v", err)
	}
	return c
}

// logCapture collects formatted lines of one log level.
type logCapture struct {
	mu    sync.Mutex
	lines []string
}

func (l *logCapture) log(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, format)
}

func (l *logCapture) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lines)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
