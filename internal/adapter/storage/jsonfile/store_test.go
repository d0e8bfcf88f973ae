package jsonfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bnema/vidpipe/internal/domain"
	"github.com/bnema/vidpipe/internal/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(id string, status domain.Status) domain.Item {
	return domain.Item{
		ID:        id,
		Locator:   "https://youtu.be/" + id,
		Quality:   domain.Quality480p,
		Status:    status,
		Title:     "title " + id,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNewStore(t *testing.T) {
	t.Run("creates data dir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "data")
		store, err := NewStore(dir)

		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "state.json"), store.Path())
		assert.DirExists(t, dir)
	})
}

func TestStore_Load(t *testing.T) {
	t.Run("missing file is empty state", func(t *testing.T) {
		store, err := NewStore(t.TempDir())
		require.NoError(t, err)

		state, err := store.Load()
		assert.NoError(t, err)
		assert.Zero(t, state.Len())
		assert.NotNil(t, state.Stages)
	})

	t.Run("empty file is empty state", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "state.json"), nil, 0600))
		store, err := NewStore(dir)
		require.NoError(t, err)

		state, err := store.Load()
		assert.NoError(t, err)
		assert.Zero(t, state.Len())
	})

	t.Run("invalid JSON", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "state.json"), []byte("invalid json"), 0600))
		store, err := NewStore(dir)
		require.NoError(t, err)

		_, err = store.Load()
		assert.Error(t, err)
	})
}

func TestStore_SaveLoadKeepsOrder(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	saved := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	state := port.State{
		Stages: map[domain.Status][]domain.Item{
			domain.StatusPending:   {item("b", domain.StatusPending), item("a", domain.StatusPending)},
			domain.StatusCompleted: {item("c", domain.StatusCompleted)},
		},
		SavedAt: saved,
	}
	require.NoError(t, store.Save(state))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.True(t, saved.Equal(loaded.SavedAt))
	require.Len(t, loaded.Stages[domain.StatusPending], 2)
	assert.Equal(t, "b", loaded.Stages[domain.StatusPending][0].ID)
	assert.Equal(t, "a", loaded.Stages[domain.StatusPending][1].ID)
	assert.Equal(t, "c", loaded.Stages[domain.StatusCompleted][0].ID)
	assert.Empty(t, loaded.Stages[domain.StatusFailed])
}

func TestStore_SaveWritesEveryStageKey(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Save(port.State{}))

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, stage := range domain.Stages {
		assert.JSONEq(t, "[]", string(raw[string(stage)]), "stage %s", stage)
	}
	assert.Contains(t, raw, "saved_at")

	_, err = os.Stat(store.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file left behind")
}

func TestStore_SaveOverwrites(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Save(port.State{Stages: map[domain.Status][]domain.Item{
		domain.StatusPending: {item("a", domain.StatusPending)},
	}}))
	require.NoError(t, store.Save(port.State{Stages: map[domain.Status][]domain.Item{
		domain.StatusReady: {item("a", domain.StatusReady)},
	}}))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded.Stages[domain.StatusPending])
	assert.Len(t, loaded.Stages[domain.StatusReady], 1)
	assert.NoError(t, store.Close())
}
