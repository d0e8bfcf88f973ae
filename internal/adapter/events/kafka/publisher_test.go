package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bnema/vidpipe/internal/service"
)

type writerMock struct {
	mock.Mock
}

func (m *writerMock) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *writerMock) Close() error {
	return m.Called().Error(0)
}

func TestPublisher_WritesStatusEvents(t *testing.T) {
	w := &writerMock{}
	pub := NewPublisherWithWriter(w)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	w.On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafkago.Message) bool {
		if len(msgs) != 1 || string(msgs[0].Key) != "item-1" {
			return false
		}
		var got Lifecycle
		if err := json.Unmarshal(msgs[0].Value, &got); err != nil {
			return false
		}
		return got.Status == "failed" && got.Message == "expired" && got.At.Equal(at)
	})).Return(nil).Once()

	err := pub.publish(context.Background(), service.Event{
		Type:    service.EventStatus,
		ItemID:  "item-1",
		Status:  "failed",
		Message: "expired",
		Time:    at,
	})
	require.NoError(t, err)
	w.AssertExpectations(t)
}

func TestPublisher_RunSkipsNonStatusEvents(t *testing.T) {
	w := &writerMock{}
	pub := NewPublisherWithWriter(w)
	w.On("WriteMessages", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()

	events := make(chan service.Event, 3)
	events <- service.Event{Type: service.EventProgress, ItemID: "a", Percent: 10}
	events <- service.Event{Type: service.EventLog, Message: "hi"}
	events <- service.Event{Type: service.EventStatus, ItemID: "a", Status: "ready"}
	close(events)

	pub.Run(context.Background(), events)

	w.AssertNumberOfCalls(t, "WriteMessages", 1)
}

func TestPublisher_Close(t *testing.T) {
	w := &writerMock{}
	w.On("Close").Return(nil).Once()

	assert.NoError(t, NewPublisherWithWriter(w).Close())
	w.AssertExpectations(t)
}
