package kafka

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/bnema/vidpipe/internal/infrastructure/logger"
	"github.com/bnema/vidpipe/internal/service"
)

const (
	DefaultTopic   = "vidpipe.events"
	publishTimeout = 5 * time.Second
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Lifecycle is the payload written for every item status change.
type Lifecycle struct {
	ItemID  string    `json:"item_id"`
	Status  string    `json:"status"`
	Title   string    `json:"title,omitempty"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Publisher forwards item status events to a Kafka topic, keyed by item ID
// so one item's transitions stay ordered within a partition.
type Publisher struct {
	writer messageWriter
}

func NewPublisher(broker, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{
		writer: &kafkago.Writer{
			Addr:                   kafkago.TCP(broker),
			Topic:                  topic,
			Balancer:               &kafkago.LeastBytes{},
			AllowAutoTopicCreation: false,
		},
	}
}

// NewPublisherWithWriter builds a publisher using a custom writer (tests).
func NewPublisherWithWriter(w messageWriter) *Publisher {
	return &Publisher{writer: w}
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Run forwards status events until ctx is done or events is closed.
func (p *Publisher) Run(ctx context.Context, events <-chan service.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != service.EventStatus || ev.ItemID == "" {
				continue
			}
			if err := p.publish(ctx, ev); err != nil {
				logger.Warn.Printf("kafka publish for item %s: %v", ev.ItemID, err)
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, ev service.Event) error {
	payload, err := json.Marshal(Lifecycle{
		ItemID:  ev.ItemID,
		Status:  ev.Status,
		Title:   ev.Title,
		Message: ev.Message,
		At:      ev.Time.UTC(),
	})
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return p.writer.WriteMessages(wctx, kafkago.Message{
		Key:   []byte(ev.ItemID),
		Value: payload,
		Time:  time.Now().UTC(),
	})
}
