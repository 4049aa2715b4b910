package pubsub

import (
	"sync"

	"github.com/nats-io/nats.go"
)

// NATSPubSub implements PubSub on NATS subjects.
type NATSPubSub struct {
	conn *nats.Conn
}

func NewNATSPubSub(conn *nats.Conn) *NATSPubSub {
	return &NATSPubSub{conn: conn}
}

// DialNATS connects to url and wraps the connection.
func DialNATS(url string, opts ...nats.Option) (*NATSPubSub, error) {
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return NewNATSPubSub(conn), nil
}

func (n *NATSPubSub) Publish(topic string, payload []byte) error {
	return n.conn.Publish(topic, payload)
}

func (n *NATSPubSub) Subscribe(topic string) (<-chan Message, func(), error) {
	in := make(chan *nats.Msg, 64)
	sub, err := n.conn.ChanSubscribe(topic, in)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan Message, 64)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(out)
		for {
			select {
			case msg := <-in:
				select {
				case out <- Message{Topic: msg.Subject, Payload: msg.Data}:
				case <-stop:
					return
				}
			case <-stop:
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			close(stop)
		})
		<-done
	}
	return out, cancel, nil
}

func (n *NATSPubSub) Close() error {
	n.conn.Close()
	return nil
}
