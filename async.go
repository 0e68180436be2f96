package hrefresolver

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pending is a resolve running on its own goroutine, started by Go.
type Pending struct {
	done     chan struct{}
	resource Resource
	err      error
}

// Go starts resolving href in the background and returns immediately.
func Go(ctx context.Context, r Interface, href string) *Pending {
	p := &Pending{done: make(chan struct{})}
	go func() {
		defer close(p.done)
		p.resource, p.err = r.Resolve(ctx, href)
	}()
	return p
}

// Done is closed once the result is available.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the result is available or ctx is done, whichever comes
// first. Giving up on a Pending does not cancel the underlying resolve; cancel
// the context passed to Go for that.
func (p *Pending) Wait(ctx context.Context) (Resource, error) {
	select {
	case <-p.done:
		return p.resource, p.err
	case <-ctx.Done():
		return Resource{}, ctx.Err()
	}
}

// Outcome is the result of one resolve within ResolveAll.
type Outcome struct {
	Href     string
	Resource Resource
	Err      error
}

// ResolveAll resolves every href concurrently, with at most limit resolves
// in flight (limit <= 0 means no limit). Failures are independent: the
// returned outcomes line up with hrefs and each carries its own error.
func ResolveAll(ctx context.Context, r Interface, hrefs []string, limit int) []Outcome {
	outcomes := make([]Outcome, len(hrefs))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, href := range hrefs {
		g.Go(func() error {
			res, err := r.Resolve(ctx, href)
			outcomes[i] = Outcome{Href: href, Resource: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}
