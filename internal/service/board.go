package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/bnema/vidpipe/internal/domain"
	"github.com/bnema/vidpipe/internal/port"
)

// ChangeFunc receives a copy of the whole board after a mutation together
// with the mutation's version. Versions are strictly increasing.
type ChangeFunc func(state port.State, version uint64)

// Board holds the six stage queues. Every item lives in exactly one queue and
// its Status always names that queue. All reads and writes go through the
// board lock; callers only ever see copies.
type Board struct {
	mu       sync.Mutex
	queues   map[domain.Status][]*domain.Item
	version  uint64
	onChange ChangeFunc
	now      func() time.Time
}

func NewBoard() *Board {
	b := &Board{
		queues: make(map[domain.Status][]*domain.Item, len(domain.Stages)),
		now:    time.Now,
	}
	for _, st := range domain.Stages {
		b.queues[st] = nil
	}
	return b
}

// OnChange installs the hook fired after every mutation. It runs outside the
// board lock, on the goroutine that made the change.
func (b *Board) OnChange(fn ChangeFunc) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

func (b *Board) Enqueue(stage domain.Status, item domain.Item) error {
	return b.insert(stage, item, false)
}

func (b *Board) EnqueueFront(stage domain.Status, item domain.Item) error {
	return b.insert(stage, item, true)
}

func (b *Board) insert(stage domain.Status, item domain.Item, front bool) error {
	if !stage.Valid() {
		return fmt.Errorf("unknown stage %q", stage)
	}

	b.mu.Lock()
	if _, _, ok := b.find(item.ID); ok {
		b.mu.Unlock()
		return fmt.Errorf("item %s already on board", item.ID)
	}
	it := item
	it.Status = stage
	b.push(stage, &it, front)
	b.commit()
	return nil
}

// ClaimOldest moves the first item of `from` whose cooldown has elapsed to
// the back of `to`, stamps LastAttemptAt and returns a copy. When nothing can
// be claimed, wait is the shortest remaining cooldown (zero if `from` is empty).
func (b *Board) ClaimOldest(from, to domain.Status, cooldown func(domain.Item, time.Time) time.Duration) (item domain.Item, wait time.Duration, ok bool) {
	if !domain.CanTransition(from, to) {
		return domain.Item{}, 0, false
	}

	b.mu.Lock()
	now := b.now()
	q := b.queues[from]
	idx := -1
	for i, it := range q {
		if cooldown != nil {
			if w := cooldown(*it, now); w > 0 {
				if wait == 0 || w < wait {
					wait = w
				}
				continue
			}
		}
		idx = i
		break
	}
	if idx < 0 {
		b.mu.Unlock()
		return domain.Item{}, wait, false
	}

	it := q[idx]
	b.queues[from] = append(q[:idx:idx], q[idx+1:]...)
	it.Status = to
	it.LastAttemptAt = now
	b.push(to, it, false)
	claimed := *it
	b.commit()
	return claimed, 0, true
}

// Move relocates an item to the back of `to`, applying mutate under the lock.
func (b *Board) Move(id string, from, to domain.Status, mutate func(*domain.Item)) (domain.Item, error) {
	return b.move(id, from, to, mutate, false)
}

// MoveFront is Move but inserts at the head of `to`.
func (b *Board) MoveFront(id string, from, to domain.Status, mutate func(*domain.Item)) (domain.Item, error) {
	return b.move(id, from, to, mutate, true)
}

func (b *Board) move(id string, from, to domain.Status, mutate func(*domain.Item), front bool) (domain.Item, error) {
	if !domain.CanTransition(from, to) {
		return domain.Item{}, fmt.Errorf("transition %s -> %s not allowed", from, to)
	}

	b.mu.Lock()
	idx := b.index(from, id)
	if idx < 0 {
		b.mu.Unlock()
		return domain.Item{}, fmt.Errorf("%w: %s in %s", domain.ErrNotFound, id, from)
	}
	q := b.queues[from]
	it := q[idx]
	b.queues[from] = append(q[:idx:idx], q[idx+1:]...)
	if mutate != nil {
		mutate(it)
	}
	it.Status = to
	b.push(to, it, front)
	moved := *it
	b.commit()
	return moved, nil
}

// Update mutates an item in place without moving it.
func (b *Board) Update(id string, stage domain.Status, mutate func(*domain.Item)) (domain.Item, error) {
	b.mu.Lock()
	idx := b.index(stage, id)
	if idx < 0 {
		b.mu.Unlock()
		return domain.Item{}, fmt.Errorf("%w: %s in %s", domain.ErrNotFound, id, stage)
	}
	it := b.queues[stage][idx]
	mutate(it)
	it.Status = stage
	updated := *it
	b.commit()
	return updated, nil
}

func (b *Board) Remove(stage domain.Status, id string) error {
	b.mu.Lock()
	idx := b.index(stage, id)
	if idx < 0 {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s in %s", domain.ErrNotFound, id, stage)
	}
	q := b.queues[stage]
	b.queues[stage] = append(q[:idx:idx], q[idx+1:]...)
	b.commit()
	return nil
}

// Drain empties the given stages and returns what they held, in order.
func (b *Board) Drain(stages ...domain.Status) []domain.Item {
	b.mu.Lock()
	var out []domain.Item
	for _, st := range stages {
		for _, it := range b.queues[st] {
			out = append(out, *it)
		}
		b.queues[st] = nil
	}
	if len(out) == 0 {
		b.mu.Unlock()
		return nil
	}
	b.commit()
	return out
}

// Restore replaces the whole board with state. Items are trusted to carry the
// status of the list they came from; the list wins on disagreement.
func (b *Board) Restore(state port.State) {
	b.mu.Lock()
	for _, st := range domain.Stages {
		items := state.Stages[st]
		q := make([]*domain.Item, 0, len(items))
		for i := range items {
			it := items[i]
			it.Status = st
			q = append(q, &it)
		}
		b.queues[st] = q
	}
	b.commit()
}

func (b *Board) Snapshot(stage domain.Status) []domain.Item {
	b.mu.Lock()
	defer b.mu.Unlock()
	return copyQueue(b.queues[stage])
}

func (b *Board) State() port.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Board) Get(id string) (domain.Item, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, idx, ok := b.find(id)
	if !ok {
		return domain.Item{}, false
	}
	return *b.queues[st][idx], true
}

func (b *Board) Len(stage domain.Status) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[stage])
}

func (b *Board) Counts() map[domain.Status]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	counts := make(map[domain.Status]int, len(domain.Stages))
	for _, st := range domain.Stages {
		counts[st] = len(b.queues[st])
	}
	return counts
}

func (b *Board) Total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, q := range b.queues {
		n += len(q)
	}
	return n
}

func (b *Board) Version() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version
}

func (b *Board) push(stage domain.Status, it *domain.Item, front bool) {
	if front {
		b.queues[stage] = append([]*domain.Item{it}, b.queues[stage]...)
		return
	}
	b.queues[stage] = append(b.queues[stage], it)
}

// commit bumps the version, releases the lock and fires the change hook.
// Must be called with b.mu held.
func (b *Board) commit() {
	b.version++
	version := b.version
	hook := b.onChange
	var state port.State
	if hook != nil {
		state = b.stateLocked()
	}
	b.mu.Unlock()

	if hook != nil {
		hook(state, version)
	}
}

func (b *Board) stateLocked() port.State {
	state := port.State{
		Stages:  make(map[domain.Status][]domain.Item, len(domain.Stages)),
		SavedAt: b.now(),
	}
	for _, st := range domain.Stages {
		state.Stages[st] = copyQueue(b.queues[st])
	}
	return state
}

func (b *Board) index(stage domain.Status, id string) int {
	for i, it := range b.queues[stage] {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func (b *Board) find(id string) (domain.Status, int, bool) {
	for _, st := range domain.Stages {
		if idx := b.index(st, id); idx >= 0 {
			return st, idx, true
		}
	}
	return "", -1, false
}

func copyQueue(q []*domain.Item) []domain.Item {
	out := make([]domain.Item, len(q))
	for i, it := range q {
		out[i] = *it
	}
	return out
}
