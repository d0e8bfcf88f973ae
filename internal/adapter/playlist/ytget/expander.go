// Package ytget expands YouTube playlists into video locators.
package ytget

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ytget/ytdlp/v2"

	"github.com/bnema/vidpipe/internal/port"
)

const DefaultTimeout = 60 * time.Second

const videoURLTemplate = "https://www.youtube.com/watch?v=%s"

var ErrNotPlaylist = errors.New("not a playlist locator")

type fetchFunc func(ctx context.Context, playlistID string) ([]port.PlaylistEntry, error)

type Expander struct {
	timeout time.Duration
	fetch   fetchFunc
}

func NewExpander(timeout time.Duration) *Expander {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Expander{timeout: timeout, fetch: fetchPlaylist}
}

func (e *Expander) Expand(ctx context.Context, locator string) ([]port.PlaylistEntry, error) {
	id := PlaylistID(locator)
	if id == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotPlaylist, locator)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	entries, err := e.fetch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get playlist items: %w", err)
	}
	return entries, nil
}

func fetchPlaylist(ctx context.Context, playlistID string) ([]port.PlaylistEntry, error) {
	items, err := ytdlp.New().GetPlaylistItemsAll(ctx, playlistID, 0)
	if err != nil {
		return nil, err
	}

	entries := make([]port.PlaylistEntry, 0, len(items))
	for _, it := range items {
		if it.VideoID == "" {
			continue
		}
		entries = append(entries, port.PlaylistEntry{
			Locator: fmt.Sprintf(videoURLTemplate, it.VideoID),
			Title:   strings.TrimSpace(it.Title),
		})
	}
	return entries, nil
}

// PlaylistID extracts the list parameter from a playlist or watch URL. A bare
// id starting with a known playlist prefix is returned as is.
func PlaylistID(locator string) string {
	locator = strings.TrimSpace(locator)
	if u, err := url.Parse(locator); err == nil && u.Host != "" {
		return u.Query().Get("list")
	}
	for _, prefix := range []string{"PL", "UU", "OL", "RD", "FL", "LL"} {
		if strings.HasPrefix(locator, prefix) && !strings.ContainsAny(locator, "/?&=") {
			return locator
		}
	}
	return ""
}

// IsPlaylist reports whether a locator names a playlist.
func IsPlaylist(locator string) bool {
	return PlaylistID(locator) != ""
}

var _ port.PlaylistExpander = (*Expander)(nil)
