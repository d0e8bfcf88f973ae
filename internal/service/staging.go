package service

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bnema/vidpipe/internal/domain"
	"github.com/bnema/vidpipe/internal/infrastructure/mediafile"
)

const stagingDirName = ".staging"

// Stager owns the staging directory transfers write into and moves finished
// files to the download directory.
type Stager struct {
	downloadDir string

	mu     sync.Mutex
	owners map[string]string // final path -> item id
}

func NewStager(downloadDir string) *Stager {
	return &Stager{downloadDir: downloadDir, owners: make(map[string]string)}
}

func (s *Stager) Dir() string {
	return filepath.Join(s.downloadDir, stagingDirName)
}

// StagedName is the staging file name for an item. Each item writes its own
// partial file, whatever its title.
func StagedName(itemID string) string {
	return itemID + ".part"
}

func (s *Stager) StagedPath(filename string) string {
	return filepath.Join(s.Dir(), filename)
}

func (s *Stager) FinalPath(filename string) string {
	return filepath.Join(s.downloadDir, filename)
}

// Prepare creates the staging directory.
func (s *Stager) Prepare() error {
	if err := os.MkdirAll(s.Dir(), 0755); err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	return nil
}

// Commit verifies the staged file is present and holds media, then moves it
// into the download directory as name on behalf of item owner. A leftover
// file at that path is overwritten, but a path belonging to another item,
// either committed earlier or reported by taken, gets a numbered suffix
// instead. It returns the final path and size.
func (s *Stager) Commit(staged, name, owner string, taken func(path string) bool) (string, int64, error) {
	src := s.StagedPath(staged)
	size, err := mediafile.VerifyMedia(src)
	if err != nil {
		return "", 0, fmt.Errorf("staged file %s: %w", staged, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	final := s.freePath(name, owner, taken)
	if err := relocate(src, final); err != nil {
		return "", 0, fmt.Errorf("%w: %v", domain.ErrStagingRelocation, err)
	}
	s.owners[final] = owner
	// aria2 control file left next to a finished download
	_ = os.Remove(src + ".aria2")

	return final, size, nil
}

// freePath returns the final path for name, or "name (N)" when that one
// belongs to another item.
func (s *Stager) freePath(name, owner string, taken func(string) bool) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	path := s.FinalPath(name)
	for n := 2; s.ownedByOther(path, owner, taken); n++ {
		path = s.FinalPath(fmt.Sprintf("%s (%d)%s", base, n, ext))
	}
	return path
}

func (s *Stager) ownedByOther(path, owner string, taken func(string) bool) bool {
	if id, ok := s.owners[path]; ok && id != owner {
		return true
	}
	return taken != nil && taken(path)
}

// Discard removes a staged file and its control file, if any.
func (s *Stager) Discard(filename string) {
	staged := s.StagedPath(filename)
	_ = os.Remove(staged)
	_ = os.Remove(staged + ".aria2")
}

// relocate renames src over dst, falling back to copy+remove when they live
// on different filesystems.
func relocate(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open staged file: %w", err)
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("copy staged file: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close destination: %w", err)
	}
	return os.Rename(tmp, dst)
}
