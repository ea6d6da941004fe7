// Package pubsub provides a small in-process broker for fanning typed
// values out to multiple subscribers.
package pubsub

import (
	"context"
	"sync"
)

const defaultBufferSize = 64

// Broker is a generic pub/sub fan-out. Values published while no subscriber
// exists are discarded; a subscriber whose buffer is full misses the value
// rather than blocking the publisher.
type Broker[T any] struct {
	subs       map[chan T]struct{}
	mu         sync.RWMutex
	done       chan struct{}
	bufferSize int
}

// NewBroker creates a broker with the default buffer size (64).
func NewBroker[T any]() *Broker[T] {
	return NewBrokerWithBuffer[T](defaultBufferSize)
}

// NewBrokerWithBuffer creates a broker with a custom per-subscriber buffer.
func NewBrokerWithBuffer[T any](size int) *Broker[T] {
	return &Broker[T]{
		subs:       make(map[chan T]struct{}),
		done:       make(chan struct{}),
		bufferSize: size,
	}
}

// Subscribe creates a new subscription channel.
// The channel is automatically closed when ctx is cancelled.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan T {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		ch := make(chan T)
		close(ch)
		return ch
	default:
	}

	sub := make(chan T, b.bufferSize)
	b.subs[sub] = struct{}{}

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()

		select {
		case <-b.done:
			return // broker Close already closed every channel
		default:
		}

		if _, ok := b.subs[sub]; ok {
			delete(b.subs, sub)
			close(sub)
		}
	}()

	return sub
}

// Publish sends a value to all subscribers.
// Non-blocking: a full subscriber buffer drops the value.
func (b *Broker[T]) Publish(value T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	select {
	case <-b.done:
		return
	default:
	}

	for sub := range b.subs {
		select {
		case sub <- value:
		default:
			// Subscriber lagging; drop rather than block the publisher
		}
	}
}

// Close shuts down the broker and all subscriber channels.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		return
	default:
	}

	close(b.done)
	for sub := range b.subs {
		close(sub)
	}
	b.subs = nil
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
