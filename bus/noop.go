package bus

import "context"

// NoopBus discards everything. Substituted when no bus is configured; the
// only behavioral difference is loss of external fan-out.
type NoopBus struct{}

// NewNoopBus creates a bus that does nothing.
func NewNoopBus() *NoopBus {
	return &NoopBus{}
}

func (*NoopBus) Produce(topic, key string, value any) {}

func (*NoopBus) Subscribe(ctx context.Context, topic string, h Handler) error {
	return nil
}

func (*NoopBus) Close() error {
	return nil
}
