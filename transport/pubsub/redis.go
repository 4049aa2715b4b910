package pubsub

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisPubSub implements PubSub on Redis channels.
type RedisPubSub struct {
	ctx    context.Context
	cancel context.CancelFunc
	client redis.UniversalClient
}

func NewRedisPubSub(parent context.Context, client redis.UniversalClient) *RedisPubSub {
	ctx, cancel := context.WithCancel(parent)
	return &RedisPubSub{
		ctx:    ctx,
		cancel: cancel,
		client: client,
	}
}

func (r *RedisPubSub) Publish(topic string, payload []byte) error {
	return r.client.Publish(r.ctx, topic, payload).Err()
}

// Subscribe waits for the subscription to be confirmed so that messages
// published after it returns are not lost.
func (r *RedisPubSub) Subscribe(topic string) (<-chan Message, func(), error) {
	sub := r.client.Subscribe(r.ctx, topic)
	if _, err := sub.Receive(r.ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan Message, 64)
	subCtx, subCancel := context.WithCancel(r.ctx)
	in := sub.Channel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(out)
		for {
			select {
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- Message{Topic: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-subCtx.Done():
					return
				}
			case <-subCtx.Done():
				return
			}
		}
	}()

	cancel := func() {
		subCancel()
		_ = sub.Close()
		<-done
	}
	return out, cancel, nil
}

// Close cancels every subscription. The client is owned by the caller.
func (r *RedisPubSub) Close() error {
	r.cancel()
	return nil
}
