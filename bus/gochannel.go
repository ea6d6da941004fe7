package bus

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"
)

// metadata key carrying the producer's partition key.
const keyMetadata = "key"

// GoChannelBus is an in-process Bus over watermill's gochannel transport.
// External brokers plug in behind the same interface.
type GoChannelBus struct {
	pubsub *gochannel.GoChannel
	log    *zap.SugaredLogger
}

// NewGoChannelBus creates an in-process bus.
func NewGoChannelBus(log *zap.SugaredLogger) *GoChannelBus {
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, &zapAdapter{log: log})

	return &GoChannelBus{pubsub: pubsub, log: log}
}

// Produce publishes value as JSON. Failures are logged and swallowed.
func (b *GoChannelBus) Produce(topic, key string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		b.log.Warnw("Bus message marshal failed", "topic", topic, "error", err)
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if key != "" {
		msg.Metadata.Set(keyMetadata, key)
	}
	if err := b.pubsub.Publish(topic, msg); err != nil {
		b.log.Warnw("Bus produce failed", "topic", topic, "error", err)
	}
}

// Subscribe runs h for every message on topic until ctx is cancelled.
func (b *GoChannelBus) Subscribe(ctx context.Context, topic string, h Handler) error {
	ch, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range ch {
			h(ctx, msg.Metadata.Get(keyMetadata), msg.Payload)
			msg.Ack()
		}
	}()
	return nil
}

// Close shuts the transport down; pending subscriber channels are closed.
func (b *GoChannelBus) Close() error {
	return b.pubsub.Close()
}

// zapAdapter bridges the global logger to watermill's LoggerAdapter.
type zapAdapter struct {
	log *zap.SugaredLogger
}

func (a *zapAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.log.Errorw(msg, append(fieldsToArgs(fields), "error", err)...)
}

func (a *zapAdapter) Info(msg string, fields watermill.LogFields) {
	a.log.Debugw(msg, fieldsToArgs(fields)...)
}

func (a *zapAdapter) Debug(msg string, fields watermill.LogFields) {
	a.log.Debugw(msg, fieldsToArgs(fields)...)
}

func (a *zapAdapter) Trace(msg string, fields watermill.LogFields) {
	a.log.Debugw(msg, fieldsToArgs(fields)...)
}

func (a *zapAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &zapAdapter{log: a.log.With(fieldsToArgs(fields)...)}
}

func fieldsToArgs(fields watermill.LogFields) []any {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}
