// Package pubsub carries postbus envelopes over broadcast brokers. A context
// subscribes to its own topic; peers publish frames to that topic.
package pubsub

import (
	"encoding/json"
	"fmt"
)

// TopicPrefix is prepended to a context name to build its topic.
const TopicPrefix = "postbus."

// Message is a broker message as seen by a Context.
type Message struct {
	Topic   string
	Payload []byte
}

// PubSub is a minimal interface for broadcast-style communication.
type PubSub interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string) (<-chan Message, func(), error)
}

// Frame wraps posted data with the addressing that brokers without headers
// cannot carry themselves.
type Frame struct {
	Origin       string `json:"origin"`
	TargetOrigin string `json:"target_origin"`
	From         string `json:"from"`
	Data         []byte `json:"data"`
}

func EncodeFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("pubsub: decode frame: %w", err)
	}
	return f, nil
}

func topic(name string) string {
	return TopicPrefix + name
}
