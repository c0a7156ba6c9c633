package events

import (
	"sync"
	"time"

	"github.com/cuemby/icecream/pkg/protocol"
	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventJobRequested EventType = "job.requested"
	EventJobBegin     EventType = "job.begin"
	EventJobDone      EventType = "job.done"
)

// Event is something monitors are told about. Message is the monitor
// message forwarded on the wire.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Host      string
	Message   protocol.Message
}

// NewEvent wraps a monitor message
func NewEvent(t EventType, host string, msg protocol.Message) *Event {
	return &Event{
		ID:      uuid.New().String(),
		Type:    t,
		Host:    host,
		Message: msg,
	}
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker fans events out to subscribers. Slow subscribers miss events
// rather than holding up the publisher.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker. It is safe to call more than once.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription and closes its channel
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish queues an event for all subscribers
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
