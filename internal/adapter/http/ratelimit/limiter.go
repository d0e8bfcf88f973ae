package ratelimit

import (
	"sync"
	"time"
)

type FailureRecord struct {
	Count        int
	LastFailure  time.Time
	BlockedUntil time.Time
}

// FailureLimiter blocks a client once it has produced more than maxFailures
// rejected requests within window. Successful requests are never counted.
type FailureLimiter struct {
	mu          sync.Mutex
	records     map[string]*FailureRecord
	maxFailures int
	window      time.Duration
	block       time.Duration
	now         func() time.Time
	stop        chan struct{}
	stopOnce    sync.Once
}

func NewFailureLimiter(maxFailures int, window, block time.Duration) *FailureLimiter {
	l := &FailureLimiter{
		records:     make(map[string]*FailureRecord),
		maxFailures: maxFailures,
		window:      window,
		block:       block,
		now:         time.Now,
		stop:        make(chan struct{}),
	}

	go l.cleanup()

	return l
}

// Blocked reports whether the client is currently blocked and for how long.
func (l *FailureLimiter) Blocked(clientID string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[clientID]
	if !ok {
		return false, 0
	}
	now := l.now()
	if now.Before(record.BlockedUntil) {
		return true, record.BlockedUntil.Sub(now)
	}
	return false, 0
}

// RecordFailure counts a rejected request. It reports whether the client is
// now blocked, and the remaining block time.
func (l *FailureLimiter) RecordFailure(clientID string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	record, ok := l.records[clientID]
	if !ok {
		record = &FailureRecord{}
		l.records[clientID] = record
	}

	if now.Before(record.BlockedUntil) {
		return true, record.BlockedUntil.Sub(now)
	}
	if now.Sub(record.LastFailure) > l.window {
		record.Count = 0
	}

	record.Count++
	record.LastFailure = now

	if record.Count > l.maxFailures {
		record.BlockedUntil = now.Add(l.block)
		return true, l.block
	}
	return false, 0
}

// Failures returns the number of failures counted in the current window.
func (l *FailureLimiter) Failures(clientID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if record, ok := l.records[clientID]; ok {
		return record.Count
	}
	return 0
}

func (l *FailureLimiter) Reset(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.records, clientID)
}

// Stop ends the background cleanup.
func (l *FailureLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *FailureLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		}

		l.mu.Lock()
		now := l.now()
		for clientID, record := range l.records {
			if now.Sub(record.LastFailure) > l.window*2 && now.After(record.BlockedUntil) {
				delete(l.records, clientID)
			}
		}
		l.mu.Unlock()
	}
}
