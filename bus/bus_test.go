package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troupelabs/troupe/logger"
)

func TestGoChannelBus_ProduceSubscribe(t *testing.T) {
	b := NewGoChannelBus(logger.Logger)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan OutputRecord, 1)
	keys := make(chan string, 1)
	err := b.Subscribe(ctx, TopicOutput, func(ctx context.Context, key string, value []byte) {
		var rec OutputRecord
		if err := json.Unmarshal(value, &rec); err == nil {
			received <- rec
			keys <- key
		}
	})
	require.NoError(t, err)

	b.Produce(TopicOutput, "exec-1", OutputRecord{
		ExecutionID: "exec-1",
		Chunk:       "hello\n",
		Timestamp:   1724400000000,
	})

	select {
	case rec := <-received:
		assert.Equal(t, "exec-1", rec.ExecutionID)
		assert.Equal(t, "hello\n", rec.Chunk)
		assert.Equal(t, "exec-1", <-keys)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestGoChannelBus_ProduceWithoutSubscribersIsSilent(t *testing.T) {
	b := NewGoChannelBus(logger.Logger)
	defer b.Close()

	// No subscribers, nothing to assert beyond not blocking or panicking.
	b.Produce(TopicLifecycle, "", LifecycleRecord{ExecutionID: "exec-1", Status: "completed"})
}

func TestGoChannelBus_ProduceUnmarshalableValue(t *testing.T) {
	b := NewGoChannelBus(logger.Logger)
	defer b.Close()

	// Channels cannot marshal; Produce must swallow the failure.
	b.Produce(TopicOutput, "", make(chan int))
}

func TestNoopBus(t *testing.T) {
	b := NewNoopBus()

	b.Produce(TopicOutput, "k", OutputRecord{})
	err := b.Subscribe(context.Background(), TopicExec, func(context.Context, string, []byte) {
		t.Fatal("noop bus must never deliver")
	})
	assert.NoError(t, err)
	assert.NoError(t, b.Close())
}
