// Package pubsub provides an in-process, topic-scoped publish/subscribe dispatcher.
package pubsub

import (
	"context"
	"sync"
)

const defaultBufferSize = 16

// Dispatcher fans published messages out to every subscriber of a topic.
// Delivery never blocks the publisher: when a subscriber's buffer is full the
// oldest pending message is discarded in favour of the newest one.
type Dispatcher[T any] struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*Subscription[T]
	nextID      int64
	bufferSize  int
}

// Subscription is a handle on one registered listener.
type Subscription[T any] struct {
	id         int64
	topic      string
	stream     chan T
	done       chan struct{}
	dispatcher *Dispatcher[T]
	once       sync.Once
}

// NewDispatcher constructs a dispatcher whose subscriber buffers hold bufferSize messages.
func NewDispatcher[T any](bufferSize int) *Dispatcher[T] {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Dispatcher[T]{
		subscribers: make(map[string]map[int64]*Subscription[T]),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a listener for topic. The subscription is cancelled when
// ctx is done or when Cancel is called, whichever happens first.
func (d *Dispatcher[T]) Subscribe(ctx context.Context, topic string) *Subscription[T] {
	subscription := &Subscription[T]{
		topic:      topic,
		stream:     make(chan T, d.bufferSize),
		done:       make(chan struct{}),
		dispatcher: d,
	}
	if topic == "" {
		subscription.once.Do(func() {
			close(subscription.done)
			close(subscription.stream)
		})
		return subscription
	}

	d.mu.Lock()
	d.nextID++
	subscription.id = d.nextID
	if _, ok := d.subscribers[topic]; !ok {
		d.subscribers[topic] = make(map[int64]*Subscription[T])
	}
	d.subscribers[topic][subscription.id] = subscription
	d.mu.Unlock()

	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				subscription.Cancel()
			case <-subscription.done:
			}
		}()
	}
	return subscription
}

// Publish delivers message to every current subscriber of topic.
func (d *Dispatcher[T]) Publish(topic string, message T) int {
	if topic == "" {
		return 0
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	subscribers := d.subscribers[topic]
	for _, subscriber := range subscribers {
		subscriber.deliver(message)
	}
	return len(subscribers)
}

// SubscriberCount reports how many listeners are registered for topic.
func (d *Dispatcher[T]) SubscriberCount(topic string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[topic])
}

func (d *Dispatcher[T]) unregister(subscription *Subscription[T]) {
	d.mu.Lock()
	subscribers := d.subscribers[subscription.topic]
	if subscribers != nil {
		delete(subscribers, subscription.id)
		if len(subscribers) == 0 {
			delete(d.subscribers, subscription.topic)
		}
	}
	close(subscription.stream)
	d.mu.Unlock()
}

// Events returns the receive side of the subscription. It is closed after Cancel.
func (s *Subscription[T]) Events() <-chan T {
	return s.stream
}

// Topic returns the topic the subscription listens on.
func (s *Subscription[T]) Topic() string {
	return s.topic
}

// Cancel unregisters the subscription. It is safe to call more than once.
func (s *Subscription[T]) Cancel() {
	s.once.Do(func() {
		close(s.done)
		s.dispatcher.unregister(s)
	})
}

// deliver runs under the dispatcher read lock, so the stream is never closed concurrently.
func (s *Subscription[T]) deliver(message T) {
	select {
	case s.stream <- message:
		return
	default:
	}
	select {
	case <-s.stream:
	default:
	}
	select {
	case s.stream <- message:
	default:
	}
}
