// Package sdiscovery enumerates peer base URLs for a named service tag:
// given a tag (default "cctv"), it returns the base URLs of currently
// reachable peers. The registry only depends on the Resolver interface;
// which implementation backs it is a deployment choice.
package sdiscovery

import "context"

// Resolver enumerates peer base URLs advertising a given service tag.
// Implementations should return whatever they currently know; the
// registry re-polls on its own schedule; Resolver is not expected to
// block waiting for new peers to appear.
type Resolver interface {
	Discover(ctx context.Context, tag string) ([]string, error)
}

// StaticResolver always returns the same fixed list, for deployments
// without multicast (or for tests).
type StaticResolver struct {
	BaseURLs []string
}

func NewStaticResolver(baseURLs []string) *StaticResolver {
	return &StaticResolver{BaseURLs: baseURLs}
}

func (r *StaticResolver) Discover(ctx context.Context, tag string) ([]string, error) {
	out := make([]string, len(r.BaseURLs))
	copy(out, r.BaseURLs)
	return out, nil
}
