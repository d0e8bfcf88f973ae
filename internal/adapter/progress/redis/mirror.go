package redis

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/bnema/vidpipe/internal/domain"
	"github.com/bnema/vidpipe/internal/infrastructure/logger"
	"github.com/bnema/vidpipe/internal/service"
)

const (
	DefaultPrefix = "vidpipe:progress:"
	DefaultTTL    = 24 * time.Hour
	writeTimeout  = 2 * time.Second
)

type recordWriter interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

type redisWriter struct {
	client *goredis.Client
}

func (w *redisWriter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return w.client.Set(ctx, key, value, ttl).Err()
}

func (w *redisWriter) Close() error {
	return w.client.Close()
}

// Record is the per-item document kept under <prefix><item id>.
type Record struct {
	ItemID    string    `json:"item_id"`
	Status    string    `json:"status,omitempty"`
	Percent   int       `json:"percent"`
	Title     string    `json:"title,omitempty"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Mirror copies status and progress events into Redis so that other
// processes can poll per-item progress.
type Mirror struct {
	writer  recordWriter
	prefix  string
	ttl     time.Duration
	records map[string]Record
}

func NewMirror(addr, prefix string, ttl time.Duration) *Mirror {
	return NewMirrorWithWriter(&redisWriter{client: goredis.NewClient(&goredis.Options{Addr: addr})}, prefix, ttl)
}

// NewMirrorWithWriter builds a mirror on a custom writer (tests).
func NewMirrorWithWriter(w recordWriter, prefix string, ttl time.Duration) *Mirror {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Mirror{
		writer:  w,
		prefix:  prefix,
		ttl:     ttl,
		records: make(map[string]Record),
	}
}

func (m *Mirror) Close() error {
	return m.writer.Close()
}

// Run consumes events until ctx is done or the channel is closed. Write
// errors are logged and do not stop the mirror.
func (m *Mirror) Run(ctx context.Context, events <-chan service.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := m.apply(ctx, ev); err != nil {
				logger.Warn.Printf("redis mirror: item %s: %v", ev.ItemID, err)
			}
		}
	}
}

func (m *Mirror) apply(ctx context.Context, ev service.Event) error {
	if ev.ItemID == "" || (ev.Type != service.EventStatus && ev.Type != service.EventProgress) {
		return nil
	}

	rec := m.records[ev.ItemID]
	rec.ItemID = ev.ItemID
	rec.UpdatedAt = ev.Time
	if ev.Status != "" {
		rec.Status = ev.Status
	}
	if ev.Title != "" {
		rec.Title = ev.Title
	}
	switch ev.Type {
	case service.EventProgress:
		rec.Percent = ev.Percent
	case service.EventStatus:
		rec.Message = ev.Message
		if ev.Status == string(domain.StatusCompleted) {
			rec.Percent = 100
		}
	}

	if domain.Status(ev.Status).Terminal() {
		delete(m.records, ev.ItemID)
	} else {
		m.records[ev.ItemID] = rec
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return m.writer.Set(wctx, m.prefix+ev.ItemID, payload, m.ttl)
}
