package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBroker_Subscribe(t *testing.T) {
	broker := NewBroker[string]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := broker.Subscribe(ctx)

	broker.Publish("hello")

	select {
	case value := <-ch:
		require.Equal(t, "hello", value)
	case <-time.After(100 * time.Millisecond):
		require.Fail(t, "timeout waiting for value")
	}
}

func TestBroker_MultipleSubscribers(t *testing.T) {
	broker := NewBroker[int]()
	defer broker.Close()

	ctx := context.Background()

	ch1 := broker.Subscribe(ctx)
	ch2 := broker.Subscribe(ctx)
	ch3 := broker.Subscribe(ctx)

	require.Equal(t, 3, broker.SubscriberCount())

	broker.Publish(42)

	for i, ch := range []<-chan int{ch1, ch2, ch3} {
		select {
		case value := <-ch:
			require.Equal(t, 42, value, "subscriber %d", i)
		case <-time.After(100 * time.Millisecond):
			require.Fail(t, "timeout on subscriber %d", "subscriber %d", i)
		}
	}
}

func TestBroker_ContextCancelUnsubscribes(t *testing.T) {
	broker := NewBroker[int]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := broker.Subscribe(ctx)

	cancel()

	// Channel closes once the cleanup goroutine runs
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, 0, broker.SubscriberCount())
}

func TestBroker_PublishAfterClose(t *testing.T) {
	broker := NewBroker[int]()
	ctx := context.Background()
	ch := broker.Subscribe(ctx)

	broker.Close()
	broker.Publish(1) // must not panic

	_, ok := <-ch
	require.False(t, ok, "subscriber channel should be closed")
}

func TestBroker_SubscribeAfterClose(t *testing.T) {
	broker := NewBroker[int]()
	broker.Close()

	ch := broker.Subscribe(context.Background())
	_, ok := <-ch
	require.False(t, ok, "subscription after close should return a closed channel")
}

func TestBroker_FullBufferDrops(t *testing.T) {
	broker := NewBrokerWithBuffer[int](1)
	defer broker.Close()

	ch := broker.Subscribe(context.Background())

	broker.Publish(1)
	broker.Publish(2) // buffer full, dropped

	require.Equal(t, 1, <-ch)
	select {
	case v := <-ch:
		require.Fail(t, "expected no second value", "got %d", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroker_CloseIsIdempotent(t *testing.T) {
	broker := NewBroker[int]()
	broker.Close()
	broker.Close() // must not panic
}
