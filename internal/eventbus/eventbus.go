// Package eventbus wraps the process-wide event bus used to fan batch
// progress and per-account results out to API subscribers.
package eventbus

import (
	evbus "github.com/asaskevich/EventBus"
)

// Topics published by the batch executor.
const (
	TopicBatchProgress = "batch:progress"
	TopicBatchResult   = "batch:result"
)

// Bus is a thin wrapper so callers do not import the library directly.
type Bus struct {
	inner evbus.Bus
}

// New creates an independent bus instance.
func New() *Bus {
	return &Bus{inner: evbus.New()}
}

// Publish emits an event synchronously to all subscribers.
func (b *Bus) Publish(topic string, args ...interface{}) {
	b.inner.Publish(topic, args...)
}

// Subscribe registers fn for topic.
func (b *Bus) Subscribe(topic string, fn interface{}) error {
	return b.inner.Subscribe(topic, fn)
}

// Unsubscribe removes fn from topic.
func (b *Bus) Unsubscribe(topic string, fn interface{}) error {
	return b.inner.Unsubscribe(topic, fn)
}
