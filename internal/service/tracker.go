package service

import (
	"sync"
	"time"
)

// ProgressFunc is the external progress observer. It is called synchronously
// from worker goroutines and must not block.
type ProgressFunc func(itemID string, percent int, statusText string)

type Progress struct {
	ItemID    string    `json:"item_id"`
	Percent   int       `json:"percent"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProgressTracker keeps the last known progress per item and forwards every
// report to the observer and the event bus.
type ProgressTracker struct {
	mu       sync.RWMutex
	entries  map[string]Progress
	observer ProgressFunc
	events   EventPublisher
}

func NewProgressTracker(observer ProgressFunc, events EventPublisher) *ProgressTracker {
	return &ProgressTracker{
		entries:  make(map[string]Progress),
		observer: observer,
		events:   events,
	}
}

func (t *ProgressTracker) Report(itemID string, percent int, statusText string) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	now := time.Now()

	t.mu.Lock()
	t.entries[itemID] = Progress{ItemID: itemID, Percent: percent, Status: statusText, UpdatedAt: now}
	t.mu.Unlock()

	if t.observer != nil {
		t.observer(itemID, percent, statusText)
	}
	if t.events != nil {
		t.events.Publish(Event{
			Type:    EventProgress,
			ItemID:  itemID,
			Percent: percent,
			Status:  statusText,
			Time:    now,
		})
	}
}

func (t *ProgressTracker) Get(itemID string) (Progress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.entries[itemID]
	return p, ok
}

func (t *ProgressTracker) Forget(itemID string) {
	t.mu.Lock()
	delete(t.entries, itemID)
	t.mu.Unlock()
}

func (t *ProgressTracker) Reset() {
	t.mu.Lock()
	t.entries = make(map[string]Progress)
	t.mu.Unlock()
}

// progressGate throttles transfer progress: a value passes when it is higher
// than the last one passed or the heartbeat interval has elapsed.
type progressGate struct {
	heartbeat time.Duration
	last      int
	lastAt    time.Time
}

func newProgressGate(heartbeat time.Duration) *progressGate {
	return &progressGate{heartbeat: heartbeat, last: -1}
}

func (g *progressGate) allow(percent int, now time.Time) bool {
	if percent > g.last || now.Sub(g.lastAt) >= g.heartbeat {
		g.last = max(g.last, percent)
		g.lastAt = now
		return true
	}
	return false
}
