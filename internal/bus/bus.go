// Package bus is the in-process event bus that decouples membership
// mutations from their side effects (chat history, realtime relay).
//
// Topics are dot-segmented names; a subscription pattern may use "*" for
// any single segment, so "message.*" receives "message.newMessage".
// Delivery is best-effort at-most-once: each subscriber drains its own
// buffered channel on its own goroutine, so a slow or panicking handler
// never blocks the publisher or its peers.
package bus

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

const defaultBufferSize = 64

// Handler processes one delivered event.
type Handler func(topic string, payload any)

type event struct {
	topic   string
	payload any
}

type subscriber struct {
	id       int
	segments []string
	handler  Handler
	ch       chan event
}

func (s *subscriber) matches(topic string) bool {
	parts := strings.Split(topic, ".")
	if len(parts) != len(s.segments) {
		return false
	}
	for i, seg := range s.segments {
		if seg != "*" && seg != parts[i] {
			return false
		}
	}
	return true
}

// Bus fans events out to matching subscribers.
type Bus struct {
	logger  *zap.Logger
	bufSize int

	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	closed bool

	wg sync.WaitGroup
}

func New(logger *zap.Logger) *Bus {
	return &Bus{
		logger:  logger,
		bufSize: defaultBufferSize,
		subs:    make(map[int]*subscriber),
	}
}

// Subscribe registers a handler for every topic matching pattern and
// returns an unsubscribe function. The handler runs on a dedicated
// goroutine; events for one subscriber arrive in publish order.
func (b *Bus) Subscribe(pattern string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	sub := &subscriber{
		id:       b.nextID,
		segments: strings.Split(pattern, "."),
		handler:  handler,
		ch:       make(chan event, b.bufSize),
	}
	b.nextID++
	b.subs[sub.id] = sub

	b.wg.Add(1)
	go b.drain(sub)

	return func() { b.remove(sub.id) }
}

func (b *Bus) drain(sub *subscriber) {
	defer b.wg.Done()
	for ev := range sub.ch {
		b.invoke(sub, ev)
	}
}

// invoke isolates handler panics: a failing consumer is logged and the
// publisher never learns about it.
func (b *Bus) invoke(sub *subscriber, ev event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", ev.topic),
				zap.Any("panic", r),
			)
		}
	}()
	sub.handler(ev.topic, ev.payload)
}

// Publish hands the event to every matching subscriber's buffer and
// returns. A full buffer drops the event for that subscriber (logged);
// zero matching subscribers is a silent no-op.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	ev := event{topic: topic, payload: payload}
	for _, sub := range b.subs {
		if !sub.matches(topic) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("event dropped: subscriber buffer full",
				zap.String("topic", topic),
			)
		}
	}
}

func (b *Bus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(sub.ch)
}

// Close tears down all subscribers and waits for in-flight handlers.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
	b.mu.Unlock()

	b.wg.Wait()
}
