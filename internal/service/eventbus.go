package service

import (
	"sync"
	"time"
)

// allItems is the subscription key that receives every event.
const allItems = "*"

const (
	EventStatus   = "status"
	EventProgress = "progress"
	EventLog      = "log"
)

type Event struct {
	Type    string    `json:"type"`
	ItemID  string    `json:"item_id,omitempty"`
	Status  string    `json:"status,omitempty"`
	Percent int       `json:"percent,omitempty"`
	Title   string    `json:"title,omitempty"`
	Message string    `json:"message,omitempty"`
	Level   string    `json:"level,omitempty"`
	Time    time.Time `json:"time"`
}

type EventPublisher interface {
	Publish(event Event)
}

type EventBus struct {
	subscribers map[string][]chan Event
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan Event),
	}
}

func (eb *EventBus) Subscribe(itemID string) chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan Event, 16)
	eb.subscribers[itemID] = append(eb.subscribers[itemID], ch)
	return ch
}

// SubscribeAll returns a channel receiving events for every item.
func (eb *EventBus) SubscribeAll() chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan Event, 64)
	eb.subscribers[allItems] = append(eb.subscribers[allItems], ch)
	return ch
}

func (eb *EventBus) Unsubscribe(itemID string, ch chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subscribers[itemID]
	for i, sub := range subs {
		if sub == ch {
			eb.subscribers[itemID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}

	if len(eb.subscribers[itemID]) == 0 {
		delete(eb.subscribers, itemID)
	}
}

func (eb *EventBus) UnsubscribeAll(ch chan Event) {
	eb.Unsubscribe(allItems, ch)
}

func (eb *EventBus) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	eb.send(eb.subscribers[allItems], event)
	if event.ItemID != "" {
		eb.send(eb.subscribers[event.ItemID], event)
	}
}

func (eb *EventBus) send(subs []chan Event, event Event) {
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Drop event if subscriber is slow
		}
	}
}
