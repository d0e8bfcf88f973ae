package port

import (
	"context"

	"github.com/bnema/vidpipe/internal/domain"
)

// Resolver turns a source locator into a fetchable artifact. Cancelling ctx
// must terminate any subprocess the resolver started.
type Resolver interface {
	Resolve(ctx context.Context, locator string, quality domain.Quality) (domain.Resolution, error)
}
