package postbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"

	"github.com/RidgeA/postbus/transport"
	"github.com/RidgeA/postbus/transport/inmemory"
	"github.com/RidgeA/postbus/transport/mock"
)

func TestEmbeddedInitializeNotifiesOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	inbox := newSyncInbox(ctrl)
	parent := mock.NewMockPeer(ctrl)
	parent.EXPECT().Post(gomock.Any(), hostOrigin).Times(1).DoAndReturn(func(data []byte, _ string) error {
		env := decode(t, data)
		if env.Namespace != transport.Wildcard {
			t.Fatalf("namespace got=%q", env.Namespace)
		}
		if env.Data.Action != ActionInitMicroApp || env.Data.Payload != nil || env.Data.Key != "" {
			t.Fatalf("init content got=%+v", env.Data)
		}
		return nil
	})

	e := NewEmbedded(inbox, parent)
	for i := 0; i < 3; i++ {
		if err := e.Initialize(Config{TargetOrigin: hostOrigin}); err != nil {
			t.Fatalf("initialize #%d: %v", i, err)
		}
	}
}

func TestEmbeddedWithoutParent(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	e := NewEmbedded(mock.NewMockInbox(ctrl), nil)
	if err := e.Initialize(Config{}); !errors.Is(err, ErrNoPeer) {
		t.Fatalf("expected ErrNoPeer, got=%v", err)
	}
	if e.isInitialized() {
		t.Fatalf("initialized without a parent")
	}
	if err := e.Emit(transport.Content{Action: "PING"}, ""); !errors.Is(err, ErrNoPeer) {
		t.Fatalf("expected ErrNoPeer from emit, got=%v", err)
	}
}

func TestEmbeddedRequestBeforeInitialize(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	e := NewEmbedded(mock.NewMockInbox(ctrl), mock.NewMockPeer(ctrl))
	if _, err := e.Request(context.Background(), transport.Content{Action: "ASK"}, ""); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got=%v", err)
	}
}

func TestEmbeddedEmitStampsNamespace(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	parent := mock.NewMockPeer(ctrl)
	var namespaces []string
	parent.EXPECT().Post(gomock.Any(), transport.Wildcard).Times(2).DoAndReturn(func(data []byte, _ string) error {
		namespaces = append(namespaces, decode(t, data).Namespace)
		return nil
	})

	e := NewEmbedded(mock.NewMockInbox(ctrl), parent)
	if err := e.Emit(transport.Content{Action: "PING"}, "orders"); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := e.Emit(transport.Content{Action: "PING"}, ""); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(namespaces) != 2 || namespaces[0] != "orders" || namespaces[1] != transport.Wildcard {
		t.Fatalf("namespaces got=%v", namespaces)
	}
}

// requestFixture wires an initialized Embedded to a synchronous inbox and a
// parent that records every posted envelope.
type requestFixture struct {
	e     *Embedded
	inbox *syncInbox
	sent  chan transport.Envelope
}

func newRequestFixture(t *testing.T, ctrl *gomock.Controller, opts ...OptionsFunc) *requestFixture {
	t.Helper()
	f := &requestFixture{
		inbox: newSyncInbox(ctrl),
		sent:  make(chan transport.Envelope, 8),
	}
	parent := mock.NewMockPeer(ctrl)
	parent.EXPECT().Post(gomock.Any(), gomock.Any()).AnyTimes().DoAndReturn(func(data []byte, _ string) error {
		env, err := transport.DecodeEnvelope(data)
		if err != nil {
			return err
		}
		f.sent <- env
		return nil
	})
	f.e = NewEmbedded(f.inbox, parent, opts...)
	if err := f.e.Initialize(Config{TargetOrigin: hostOrigin}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if env := <-f.sent; env.Data.Action != ActionInitMicroApp {
		t.Fatalf("first message got=%+v", env)
	}
	return f
}

func (f *requestFixture) reply(t *testing.T, c transport.Content) {
	t.Helper()
	f.inbox.deliver(transport.Delivery{Origin: hostOrigin, Data: encode(t, "", c)})
}

func nextSent(t *testing.T, ch <-chan transport.Envelope) transport.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a request")
	}
	return transport.Envelope{}
}

func TestEmbeddedRequestsResolveIndependently(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newRequestFixture(t, ctrl, SetIDGenerator(sequentialIDs()))

	type result struct {
		reply transport.Content
		err   error
	}
	firstDone := make(chan result, 1)
	secondDone := make(chan result, 1)

	first := content(t, "ASK", 1)
	go func() {
		r, err := f.e.Request(context.Background(), first, "orders")
		firstDone <- result{r, err}
	}()
	firstReq := nextSent(t, f.sent)

	second := content(t, "ASK", 2)
	go func() {
		r, err := f.e.Request(context.Background(), second, "")
		secondDone <- result{r, err}
	}()
	secondReq := nextSent(t, f.sent)

	if firstReq.Namespace != "orders" || secondReq.Namespace != transport.Wildcard {
		t.Fatalf("namespaces got=%q,%q", firstReq.Namespace, secondReq.Namespace)
	}

	// Neither a foreign key nor a missing key resolves a request.
	f.reply(t, transport.Content{Action: "ASK", Key: "unknown", Payload: json.RawMessage(`0`)})
	f.reply(t, transport.Content{Action: "ASK", Payload: json.RawMessage(`0`)})

	f.reply(t, transport.Content{Action: "ASK", Key: secondReq.Data.Key, Payload: json.RawMessage(`20`)})
	r := <-secondDone
	if r.err != nil || string(r.reply.Payload) != "20" || r.reply.Key != secondReq.Data.Key {
		t.Fatalf("second got=%+v err=%v", r.reply, r.err)
	}
	select {
	case r := <-firstDone:
		t.Fatalf("first request resolved by a foreign reply: %+v", r)
	default:
	}

	f.reply(t, transport.Content{Action: "ASK", Key: firstReq.Data.Key, Payload: json.RawMessage(`10`)})
	r = <-firstDone
	if r.err != nil || string(r.reply.Payload) != "10" {
		t.Fatalf("first got=%+v err=%v", r.reply, r.err)
	}
}

func TestEmbeddedReplyAlsoReachesSubscribers(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newRequestFixture(t, ctrl)
	seen := make(chan json.RawMessage, 4)
	f.e.On("ASK", func(p json.RawMessage, _ transport.Delivery) (json.RawMessage, error) {
		seen <- p
		return nil, nil
	})

	done := make(chan transport.Content, 1)
	go func() {
		r, _ := f.e.Request(context.Background(), transport.Content{Action: "ASK"}, "")
		done <- r
	}()
	req := nextSent(t, f.sent)
	f.reply(t, transport.Content{Action: "ASK", Key: req.Data.Key, Payload: json.RawMessage(`"y"`)})

	if got := <-done; string(got.Payload) != `"y"` {
		t.Fatalf("reply got=%+v", got)
	}
	if got := <-seen; string(got) != `"y"` {
		t.Fatalf("subscriber got=%s", got)
	}
}

func TestEmbeddedRequestTimesOut(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newRequestFixture(t, ctrl, SetRequestTimeout(30*time.Millisecond))
	_, err := f.e.Request(context.Background(), transport.Content{Action: "ASK"}, "")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got=%v", err)
	}
	if f.e.pending.size() != 0 {
		t.Fatalf("waiter leaked")
	}
}

func TestEmbeddedIgnoresNamespaceAndFiltersOrigin(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newRequestFixture(t, ctrl)
	hits := 0
	dispose := f.e.On("THEME", func(json.RawMessage, transport.Delivery) (json.RawMessage, error) {
		hits++
		return nil, nil
	})
	f.e.On("THEME", func(json.RawMessage, transport.Delivery) (json.RawMessage, error) {
		panic("bug")
	})

	f.inbox.deliver(transport.Delivery{Origin: hostOrigin, Data: encode(t, "orders", transport.Content{Action: "THEME"})})
	f.inbox.deliver(transport.Delivery{Origin: "https://evil.example", Data: encode(t, "", transport.Content{Action: "THEME"})})
	f.inbox.deliver(transport.Delivery{Origin: hostOrigin, Data: []byte("THEME")})
	if hits != 1 {
		t.Fatalf("hits got=%d", hits)
	}

	dispose()
	f.inbox.deliver(transport.Delivery{Origin: hostOrigin, Data: encode(t, "", transport.Content{Action: "THEME"})})
	if hits != 1 {
		t.Fatalf("disposed subscriber invoked")
	}
}

// End to end over in-process windows.

func newWindows(t *testing.T) (*Host, *Embedded, *inmemory.Window, *inmemory.Window) {
	t.Helper()
	page := inmemory.New(hostOrigin)
	frame := page.Embed(frameOrigin)
	t.Cleanup(func() {
		frame.Close()
		page.Close()
	})

	host := NewHost(page)
	host.Attach(page.Handle(frame))
	embedded := NewEmbedded(frame, frame.Parent(), SetRequestTimeout(2*time.Second))
	return host, embedded, page, frame
}

func TestEndToEndInitAndPing(t *testing.T) {
	host, embedded, _, frame := newWindows(t)

	inits := make(chan string, 2)
	host.OnInitMicroApp(func(d transport.Delivery) { inits <- d.Origin })
	pings := make(chan json.RawMessage, 1)
	host.On("PING", func(p json.RawMessage, _ transport.Delivery) (json.RawMessage, error) {
		pings <- p
		return json.RawMessage(`"unused"`), nil
	})
	if err := host.Initialize(Config{TargetOrigin: frameOrigin}); err != nil {
		t.Fatalf("host initialize: %v", err)
	}

	raw := make(chan transport.Delivery, 4)
	frame.Listen(func(d transport.Delivery) { raw <- d })

	if err := embedded.Initialize(Config{TargetOrigin: hostOrigin}); err != nil {
		t.Fatalf("embedded initialize: %v", err)
	}
	if err := embedded.Initialize(Config{TargetOrigin: hostOrigin}); err != nil {
		t.Fatalf("embedded initialize again: %v", err)
	}
	if err := embedded.Emit(content(t, "PING", 42), ""); err != nil {
		t.Fatalf("emit: %v", err)
	}

	select {
	case p := <-pings:
		if string(p) != "42" {
			t.Fatalf("ping payload got=%s", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("ping not delivered")
	}
	if origin := <-inits; origin != frameOrigin {
		t.Fatalf("init origin got=%q", origin)
	}

	select {
	case d := <-raw:
		t.Fatalf("unexpected message to frame: %s", d.Data)
	case extra := <-inits:
		t.Fatalf("second init from %s", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEndToEndRequest(t *testing.T) {
	host, embedded, _, _ := newWindows(t)
	embedded = NewEmbedded(embedded.inbox, embedded.parent, SetIDGenerator(func() string { return "fixed-key" }))

	host.On("ASK", func(p json.RawMessage, _ transport.Delivery) (json.RawMessage, error) {
		var s string
		if err := json.Unmarshal(p, &s); err != nil {
			return nil, err
		}
		if s != "x" {
			return nil, errors.New("unexpected question")
		}
		return json.Marshal("y")
	})
	if err := host.Initialize(Config{TargetOrigin: frameOrigin}); err != nil {
		t.Fatalf("host initialize: %v", err)
	}
	if err := embedded.Initialize(Config{TargetOrigin: hostOrigin}); err != nil {
		t.Fatalf("embedded initialize: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := embedded.Request(ctx, content(t, "ASK", "x"), "")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if reply.Action != "ASK" || string(reply.Payload) != `"y"` || reply.Key != "fixed-key" {
		t.Fatalf("reply got=%+v", reply)
	}
}

func TestEndToEndHostOriginPolicy(t *testing.T) {
	host, embedded, _, _ := newWindows(t)

	hits := make(chan struct{}, 1)
	host.On("PING", func(json.RawMessage, transport.Delivery) (json.RawMessage, error) {
		hits <- struct{}{}
		return nil, nil
	})
	if err := host.Initialize(Config{AllowedOrigin: "https://other.example"}); err != nil {
		t.Fatalf("host initialize: %v", err)
	}
	if err := embedded.Initialize(Config{}); err != nil {
		t.Fatalf("embedded initialize: %v", err)
	}
	if err := embedded.Emit(transport.Content{Action: "PING"}, ""); err != nil {
		t.Fatalf("emit: %v", err)
	}

	select {
	case <-hits:
		t.Fatalf("delivery from a disallowed origin dispatched")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEndToEndTrailingSlashOrigins(t *testing.T) {
	host, embedded, _, _ := newWindows(t)

	pings := make(chan struct{}, 1)
	host.On("PING", func(json.RawMessage, transport.Delivery) (json.RawMessage, error) {
		pings <- struct{}{}
		return nil, nil
	})
	if err := host.Initialize(Config{TargetOrigin: frameOrigin + "/", AllowedOrigin: frameOrigin + "/"}); err != nil {
		t.Fatalf("host initialize: %v", err)
	}
	if err := embedded.Initialize(Config{TargetOrigin: hostOrigin + "/"}); err != nil {
		t.Fatalf("embedded initialize: %v", err)
	}
	if err := embedded.Emit(transport.Content{Action: "PING"}, ""); err != nil {
		t.Fatalf("emit: %v", err)
	}

	select {
	case <-pings:
	case <-time.After(2 * time.Second):
		t.Fatalf("ping dropped for an origin written with a trailing slash")
	}
}
