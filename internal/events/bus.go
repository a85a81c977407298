// File: internal/events/bus.go
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrBusShutdown is returned when publishing to a bus that has been shut down.
var ErrBusShutdown = errors.New("event bus is shut down")

// TypeNavigation is the event published when a tool moves the page to
// another document.
const TypeNavigation = "navigation"

// Event is the envelope delivered to subscribers. Only Type and Data are
// part of the wire format.
type Event struct {
	ID        string    `json:"-"`
	Timestamp time.Time `json:"-"`
	Type      string    `json:"type"`
	Data      any       `json:"data"`
}

// NavigationData is the payload of a navigation event.
type NavigationData struct {
	URL    string `json:"url"`
	Status string `json:"status"`
}

// NewNavigation builds a navigation event.
func NewNavigation(url, status string) Event {
	return Event{Type: TypeNavigation, Data: NavigationData{URL: url, Status: status}}
}

type subscriber struct {
	ch   chan Event
	done chan struct{}
	once sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// Bus fans events out to every subscriber. Events published while nobody
// is subscribed are held in a bounded backlog, oldest dropped first, and
// handed to the next subscriber.
type Bus struct {
	logger     *zap.Logger
	bufferSize int
	backlogCap int

	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	backlog     []Event
	isShutdown  bool

	closed    chan struct{}
	closeOnce sync.Once
}

// NewBus initializes the bus.
func NewBus(logger *zap.Logger, bufferSize, backlog int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	if backlog < 0 {
		backlog = 0
	}
	return &Bus{
		logger:      logger.Named("event_bus"),
		bufferSize:  bufferSize,
		backlogCap:  backlog,
		subscribers: make(map[*subscriber]struct{}),
		closed:      make(chan struct{}),
	}
}

// Publish delivers ev to all current subscribers, blocking while a
// subscriber's buffer is full until it reads, unsubscribes, the bus shuts
// down or ctx is done.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	for {
		b.mu.RLock()
		if b.isShutdown {
			b.mu.RUnlock()
			return ErrBusShutdown
		}
		if len(b.subscribers) > 0 {
			err := b.deliver(ctx, ev)
			b.mu.RUnlock()
			return err
		}
		b.mu.RUnlock()

		b.mu.Lock()
		if !b.isShutdown && len(b.subscribers) == 0 {
			b.hold(ev)
			b.mu.Unlock()
			return nil
		}
		b.mu.Unlock()
	}
}

// deliver must be called with the read lock held. Unsubscribing and
// shutting down close their channels before taking the write lock, so a
// blocked send always gives way.
func (b *Bus) deliver(ctx context.Context, ev Event) error {
	for sub := range b.subscribers {
		select {
		case sub.ch <- ev:
		case <-sub.done:
		case <-b.closed:
			return ErrBusShutdown
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// hold must be called with b.mu held.
func (b *Bus) hold(ev Event) {
	if b.backlogCap == 0 {
		b.logger.Debug("Dropping event with no subscribers", zap.String("type", ev.Type))
		return
	}
	if len(b.backlog) == b.backlogCap {
		b.logger.Debug("Event backlog full, dropping oldest", zap.String("dropped_id", b.backlog[0].ID))
		b.backlog = b.backlog[1:]
	}
	b.backlog = append(b.backlog, ev)
}

// Subscribe returns a channel of events and a function to unsubscribe.
// Any backlog is delivered first. The channel is never closed; consumers
// stop reading after calling the unsubscribe function or when their own
// context ends.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	size := b.bufferSize
	if len(b.backlog) > size {
		size = len(b.backlog)
	}
	sub := &subscriber{ch: make(chan Event, size), done: make(chan struct{})}
	for _, ev := range b.backlog {
		sub.ch <- ev
	}
	if n := len(b.backlog); n > 0 {
		b.logger.Debug("Flushed event backlog to new subscriber", zap.Int("events", n))
	}
	b.backlog = nil

	if b.isShutdown {
		sub.stop()
		return sub.ch, func() {}
	}
	b.subscribers[sub] = struct{}{}

	unsubscribe := func() {
		sub.stop()
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
	return sub.ch, unsubscribe
}

// Subscribers returns the number of active subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Shutdown rejects further publishing and releases blocked publishers.
func (b *Bus) Shutdown() {
	b.closeOnce.Do(func() { close(b.closed) })

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isShutdown {
		return
	}
	b.isShutdown = true
	for sub := range b.subscribers {
		sub.stop()
	}
	b.subscribers = make(map[*subscriber]struct{})
	b.backlog = nil
}
