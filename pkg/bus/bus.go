package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const defaultBufferSize = 100

// ErrClosed is returned when publishing on a closed bus.
var ErrClosed = errors.New("message bus closed")

// Publisher sends one message to every subscriber of its topic.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Subscriber delivers messages of one topic until unsubscribed.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, buffer int) (<-chan Message, func())
}

type subscription struct {
	topic string
	ch    chan Message
}

// MessageBus is an in-process topic based pub/sub.
type MessageBus struct {
	subscribers map[uint64]subscription
	nextID      uint64

	done      chan struct{}
	closeOnce sync.Once

	log *slog.Logger

	mu sync.RWMutex
}

// Option configures a MessageBus.
type Option func(*MessageBus)

// WithLogger sets the logger used to report dropped messages.
func WithLogger(log *slog.Logger) Option {
	return func(mb *MessageBus) {
		if log != nil {
			mb.log = log
		}
	}
}

func NewMessageBus(opts ...Option) *MessageBus {
	mb := &MessageBus{
		subscribers: make(map[uint64]subscription),
		done:        make(chan struct{}),
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(mb)
	}
	mb.log = mb.log.With("component", "bus")
	return mb
}

// Publish fans msg out to the subscribers of msg.Topic.
//
// Slow subscribers lose the message rather than blocking the publisher.
func (mb *MessageBus) Publish(ctx context.Context, msg Message) error {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-mb.done:
		return ErrClosed
	default:
	}

	if msg.ID == "" {
		msg.ID = newMessageID()
	}

	mb.mu.RLock()
	defer mb.mu.RUnlock()

	for _, sub := range mb.subscribers {
		if sub.topic != msg.Topic {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			mb.log.Warn("Subscriber buffer full, dropping message", "topic", msg.Topic, "message_id", msg.ID, "sender", msg.Sender)
		}
	}

	return nil
}

// Subscribe registers interest in topic. The channel is closed on unsubscribe,
// when ctx ends, or when the bus closes.
func (mb *MessageBus) Subscribe(ctx context.Context, topic string, buffer int) (<-chan Message, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	ch := make(chan Message, buffer)

	mb.mu.Lock()
	select {
	case <-mb.done:
		mb.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}

	id := mb.nextID
	mb.nextID++
	mb.subscribers[id] = subscription{topic: topic, ch: ch}
	mb.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			mb.mu.Lock()
			if sub, ok := mb.subscribers[id]; ok {
				delete(mb.subscribers, id)
				close(sub.ch)
			}
			mb.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-mb.done:
			unsubscribe()
		}
	}()

	return ch, unsubscribe
}

// Close stops the bus and closes every subscription.
func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		close(mb.done)

		mb.mu.Lock()
		for id, sub := range mb.subscribers {
			close(sub.ch)
			delete(mb.subscribers, id)
		}
		mb.mu.Unlock()
	})
}

func newMessageID() string {
	return uuid.NewString()
}
