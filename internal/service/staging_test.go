package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bnema/vidpipe/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStager_Commit(t *testing.T) {
	dir := t.TempDir()
	s := NewStager(dir)
	require.NoError(t, s.Prepare())

	staged := StagedName("item-1")
	name := "Clip [480p].mp4"
	require.NoError(t, os.WriteFile(s.StagedPath(staged), mediaBody(), 0644))
	require.NoError(t, os.WriteFile(s.StagedPath(staged)+".aria2", []byte("ctl"), 0644))

	final, size, err := s.Commit(staged, name, "item-1", nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, name), final)
	assert.Equal(t, int64(len(mediaBody())), size)
	assert.FileExists(t, final)
	assert.NoFileExists(t, s.StagedPath(staged))
	assert.NoFileExists(t, s.StagedPath(staged)+".aria2")
}

func TestStagedName(t *testing.T) {
	assert.Equal(t, "abc.part", StagedName("abc"))
	assert.NotEqual(t, StagedName("a"), StagedName("b"))
}

func TestStager_CommitOverwritesLeftoverFile(t *testing.T) {
	dir := t.TempDir()
	s := NewStager(dir)
	require.NoError(t, s.Prepare())

	name := "Clip [480p].mp4"
	require.NoError(t, os.WriteFile(s.FinalPath(name), []byte("old"), 0644))
	require.NoError(t, os.WriteFile(s.StagedPath(StagedName("item-1")), mediaBody(), 0644))

	final, size, err := s.Commit(StagedName("item-1"), name, "item-1", nil)
	require.NoError(t, err)
	assert.Equal(t, s.FinalPath(name), final)

	data, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Len(t, data, int(size))
}

func TestStager_CommitKeepsOtherItemsOutput(t *testing.T) {
	dir := t.TempDir()
	s := NewStager(dir)
	require.NoError(t, s.Prepare())

	name := "Same Title [480p].mp4"
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, os.WriteFile(s.StagedPath(StagedName(id)), mediaBody(), 0644))
	}

	first, _, err := s.Commit(StagedName("a"), name, "a", nil)
	require.NoError(t, err)
	second, _, err := s.Commit(StagedName("b"), name, "b", nil)
	require.NoError(t, err)
	third, _, err := s.Commit(StagedName("c"), name, "c", nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "Same Title [480p].mp4"), first)
	assert.Equal(t, filepath.Join(dir, "Same Title [480p] (2).mp4"), second)
	assert.Equal(t, filepath.Join(dir, "Same Title [480p] (3).mp4"), third)
	for _, p := range []string{first, second, third} {
		assert.FileExists(t, p)
	}
}

func TestStager_CommitSameItemReusesPath(t *testing.T) {
	s := NewStager(t.TempDir())
	require.NoError(t, s.Prepare())

	name := "Clip [480p].mp4"
	var paths []string
	for range 2 {
		require.NoError(t, os.WriteFile(s.StagedPath(StagedName("a")), mediaBody(), 0644))
		final, _, err := s.Commit(StagedName("a"), name, "a", nil)
		require.NoError(t, err)
		paths = append(paths, final)
	}
	assert.Equal(t, paths[0], paths[1])
}

func TestStager_CommitHonoursTakenPaths(t *testing.T) {
	s := NewStager(t.TempDir())
	require.NoError(t, s.Prepare())

	name := "Clip [480p].mp4"
	restored := s.FinalPath(name)
	require.NoError(t, os.WriteFile(restored, []byte("earlier run"), 0644))
	require.NoError(t, os.WriteFile(s.StagedPath(StagedName("new")), mediaBody(), 0644))

	final, _, err := s.Commit(StagedName("new"), name, "new", func(path string) bool {
		return path == restored
	})
	require.NoError(t, err)
	assert.Equal(t, s.FinalPath("Clip [480p] (2).mp4"), final)

	data, err := os.ReadFile(restored)
	require.NoError(t, err)
	assert.Equal(t, "earlier run", string(data))
}

func TestStager_CommitMissingFile(t *testing.T) {
	s := NewStager(t.TempDir())
	require.NoError(t, s.Prepare())

	_, _, err := s.Commit(StagedName("missing"), "missing.mp4", "missing", nil)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrStagingRelocation)
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(src, mediaBody(), 0644))

	require.NoError(t, copyFile(src, dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, mediaBody(), data)
	assert.NoFileExists(t, dst+".tmp")
}
