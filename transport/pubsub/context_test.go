package pubsub

import (
	"testing"
	"time"

	"github.com/RidgeA/postbus/transport"
)

func collect(c *Context) <-chan transport.Delivery {
	ch := make(chan transport.Delivery, 16)
	c.Listen(func(d transport.Delivery) { ch <- d })
	return ch
}

func receive(t *testing.T, ch <-chan transport.Delivery) transport.Delivery {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for delivery")
	}
	return transport.Delivery{}
}

func startPair(t *testing.T, ps PubSub) (*Context, *Context) {
	t.Helper()
	shell := NewContext(ps, "shell", "https://shell.example")
	frame := NewContext(ps, "frame", "https://frame.example")
	if err := shell.Start(); err != nil {
		t.Fatalf("start shell: %v", err)
	}
	if err := frame.Start(); err != nil {
		t.Fatalf("start frame: %v", err)
	}
	t.Cleanup(func() {
		shell.Shutdown()
		frame.Shutdown()
	})
	return shell, frame
}

func exerciseRoundTrip(t *testing.T, ps PubSub) {
	t.Helper()
	shell, frame := startPair(t, ps)
	in := collect(shell)
	back := collect(frame)

	if err := frame.Peer("shell").Post([]byte(`{"data":{"action":"PING"}}`), "https://shell.example"); err != nil {
		t.Fatalf("post: %v", err)
	}
	d := receive(t, in)
	if d.Origin != "https://frame.example" {
		t.Fatalf("origin got=%q", d.Origin)
	}
	if string(d.Data) != `{"data":{"action":"PING"}}` {
		t.Fatalf("data got=%s", d.Data)
	}

	if err := d.Source.Post([]byte("pong"), d.Origin); err != nil {
		t.Fatalf("reply: %v", err)
	}
	if got := receive(t, back); string(got.Data) != "pong" {
		t.Fatalf("reply got=%s", got.Data)
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	exerciseRoundTrip(t, NewMemoryPubSub())
}

func TestTargetOriginMismatchDropped(t *testing.T) {
	shell, frame := startPair(t, NewMemoryPubSub())
	in := collect(shell)

	if err := frame.Peer("shell").Post([]byte("x"), "https://other.example"); err != nil {
		t.Fatalf("post: %v", err)
	}
	if err := frame.Peer("shell").Post([]byte("y"), "*"); err != nil {
		t.Fatalf("post: %v", err)
	}
	if got := receive(t, in); string(got.Data) != "y" {
		t.Fatalf("expected only the wildcard post, got=%s", got.Data)
	}
}

func TestGarbageOnTopicIgnored(t *testing.T) {
	ps := NewMemoryPubSub()
	shell, _ := startPair(t, ps)
	in := collect(shell)

	if err := ps.Publish(TopicPrefix+"shell", []byte("not a frame")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	raw, _ := EncodeFrame(Frame{Origin: "https://frame.example", From: "frame", Data: []byte("ok")})
	if err := ps.Publish(TopicPrefix+"shell", raw); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := receive(t, in); string(got.Data) != "ok" {
		t.Fatalf("got=%s", got.Data)
	}
}

func TestStartTwice(t *testing.T) {
	c := NewContext(NewMemoryPubSub(), "shell", "*")
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Shutdown()
	if err := c.Start(); err == nil {
		t.Fatalf("expected error on second start")
	}
}

func TestFrameCodec(t *testing.T) {
	in := Frame{Origin: "https://a.example", TargetOrigin: "*", From: "a", Data: []byte{0, 1, 2}}
	raw, err := EncodeFrame(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Origin != in.Origin || out.From != in.From || string(out.Data) != string(in.Data) {
		t.Fatalf("got=%+v", out)
	}
	if _, err := DecodeFrame([]byte("{")); err == nil {
		t.Fatalf("expected decode error")
	}
}
