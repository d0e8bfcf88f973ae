package jsonfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bnema/vidpipe/internal/domain"
	"github.com/bnema/vidpipe/internal/port"
)

const fileName = "state.json"

// document is the on-disk layout: one ordered list per stage plus the time
// of the write.
type document struct {
	Pending      []domain.Item `json:"pending"`
	Resolving    []domain.Item `json:"resolving"`
	Ready        []domain.Item `json:"ready"`
	Transferring []domain.Item `json:"transferring"`
	Completed    []domain.Item `json:"completed"`
	Failed       []domain.Item `json:"failed"`
	SavedAt      time.Time     `json:"saved_at"`
}

func (d *document) lists() map[domain.Status]*[]domain.Item {
	return map[domain.Status]*[]domain.Item{
		domain.StatusPending:      &d.Pending,
		domain.StatusResolving:    &d.Resolving,
		domain.StatusReady:        &d.Ready,
		domain.StatusTransferring: &d.Transferring,
		domain.StatusCompleted:    &d.Completed,
		domain.StatusFailed:       &d.Failed,
	}
}

type Store struct {
	mu   sync.Mutex
	path string
}

func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{path: filepath.Join(dataDir, fileName)}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Load() (port.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := port.State{Stages: make(map[domain.Status][]domain.Item, len(domain.Stages))}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil
		}
		return state, err
	}
	if len(data) == 0 {
		return state, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return state, fmt.Errorf("decode %s: %w", s.path, err)
	}

	for stage, list := range doc.lists() {
		if len(*list) > 0 {
			state.Stages[stage] = *list
		}
	}
	state.SavedAt = doc.SavedAt
	return state, nil
}

func (s *Store) Save(state port.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := document{SavedAt: state.SavedAt}
	if doc.SavedAt.IsZero() {
		doc.SavedAt = time.Now()
	}
	for stage, list := range doc.lists() {
		*list = state.Stages[stage]
		if *list == nil {
			*list = []domain.Item{}
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	return os.Rename(tmpPath, s.path)
}

func (s *Store) Close() error {
	return nil
}

var _ port.StateStore = (*Store)(nil)
