package events

import (
	"sync"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// EventConditionFired is published when a scripted condition becomes the pending event.
	EventConditionFired EventType = "condition_fired"
	// EventAcknowledged is published when the host acknowledges the pending event.
	EventAcknowledged EventType = "event_acknowledged"
	// EventStationArrived is published when the train stops within a scheduled platform.
	EventStationArrived EventType = "station_arrived"
	// EventStationMayDepart is published when boarding is over and the signal allows departure.
	EventStationMayDepart EventType = "station_may_depart"
	// EventStationDeparted is published when the train leaves a station stop.
	EventStationDeparted EventType = "station_departed"
	// EventStationMissed is published when the train runs past a scheduled platform.
	EventStationMissed EventType = "station_missed"
	// EventActivityCompleted is published once, when the activity reaches success or failure.
	EventActivityCompleted EventType = "activity_completed"
)

// AllEventTypes lists every engine event, in publication order of a typical run.
var AllEventTypes = []EventType{
	EventConditionFired,
	EventAcknowledged,
	EventStationArrived,
	EventStationMayDepart,
	EventStationDeparted,
	EventStationMissed,
	EventActivityCompleted,
}

// Event is one engine event as delivered to subscribers.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]interface{}
}

// Subscriber receives events on its own goroutine.
type Subscriber func(Event)

// allTypes is the subscription key for SubscribeAll.
const allTypes EventType = "*"

// Bus fans engine events out to subscribers without ever blocking the
// publisher. A subscriber whose buffer is full misses the event; Dropped
// counts how often that happened.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
	dropped     uint64
	wg          sync.WaitGroup
}

func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers fn for one event type and returns its unsubscribe func.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for event := range ch {
			deliver(fn, event)
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, subCh := range subs {
			if subCh == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

// SubscribeAll registers fn for every event type.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	return b.Subscribe(allTypes, fn)
}

// deliver shields the bus from a panicking subscriber.
func deliver(fn Subscriber, event Event) {
	defer func() {
		_ = recover()
	}()
	fn(event)
}

// Publish hands the event to every subscriber of its type and to every
// SubscribeAll subscriber.
func (b *Bus) Publish(eventType EventType, data map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	for _, key := range []EventType{eventType, allTypes} {
		for _, ch := range b.subscribers[key] {
			select {
			case ch <- event:
			default:
				b.dropped++
			}
		}
	}
}

// Dropped returns the number of deliveries skipped because a buffer was full.
func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Close stops every subscriber and waits until their pending events are handled.
func (b *Bus) Close() {
	b.mu.Lock()
	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
	b.mu.Unlock()
	b.wg.Wait()
}
