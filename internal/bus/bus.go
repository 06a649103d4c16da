// Package bus is the in-process event bus. Storage and any future notifier
// subscribe to lifecycle topics instead of being wired into the trading path.
package bus

import (
	evbus "github.com/asaskevich/EventBus"
	"github.com/rs/zerolog/log"
)

// Lifecycle topics.
const (
	TopicSignalAccepted = "signal.accepted"
	TopicSignalRejected = "signal.rejected"
	TopicTradeEntered   = "trade.entered"
	TopicTradeExited    = "trade.exited"
	TopicTradeFailed    = "trade.failed"
	TopicMonitorEmit    = "monitor.emit"
)

// Bus wraps EventBus with async publication so a slow subscriber never stalls
// the trading path.
type Bus struct {
	inner evbus.Bus
}

func New() *Bus {
	return &Bus{inner: evbus.New()}
}

// Publish emits an event asynchronously.
func (b *Bus) Publish(topic string, args ...any) {
	b.inner.Publish(topic, args...)
}

// Subscribe registers an async handler; events are delivered in publication
// order per subscriber.
func (b *Bus) Subscribe(topic string, fn any) error {
	if err := b.inner.SubscribeAsync(topic, fn, true); err != nil {
		log.Error().Str("topic", topic).Err(err).Msg("bus subscribe failed")
		return err
	}
	return nil
}

// Unsubscribe removes a handler.
func (b *Bus) Unsubscribe(topic string, fn any) error {
	return b.inner.Unsubscribe(topic, fn)
}

// WaitAsync blocks until every in-flight async handler returns; used on
// shutdown so the storage sink flushes its tail.
func (b *Bus) WaitAsync() {
	b.inner.WaitAsync()
}
