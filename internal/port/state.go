package port

import (
	"time"

	"github.com/bnema/vidpipe/internal/domain"
)

// State is a full snapshot of the six stage queues, in queue order.
type State struct {
	Stages  map[domain.Status][]domain.Item
	SavedAt time.Time
}

func (s State) Len() int {
	n := 0
	for _, items := range s.Stages {
		n += len(items)
	}
	return n
}

type StateStore interface {
	Save(state State) error
	// Load returns an empty state and no error when nothing was persisted yet.
	Load() (State, error)
	Close() error
}
