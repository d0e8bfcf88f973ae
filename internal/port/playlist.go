package port

import "context"

type PlaylistEntry struct {
	Locator string
	Title   string
}

type PlaylistExpander interface {
	Expand(ctx context.Context, locator string) ([]PlaylistEntry, error)
}
