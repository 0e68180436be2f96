package hrefresolver

import (
	"context"
	"strings"
	"sync/atomic"
)

// funcResolver is a test resolver that targets hrefs with the given prefix
// and counts its calls.
type funcResolver struct {
	prefix string
	fn     func(ctx context.Context, href string) (Resource, error)
	calls  atomic.Int64
}

func newFuncResolver(prefix string, fn func(ctx context.Context, href string) (Resource, error)) *funcResolver {
	return &funcResolver{prefix: prefix, fn: fn}
}

func (r *funcResolver) IsTarget(href string) bool {
	return strings.HasPrefix(href, r.prefix)
}

func (r *funcResolver) Resolve(ctx context.Context, href string) (Resource, error) {
	r.calls.Add(1)
	if !r.IsTarget(href) {
		return Resource{}, &FetchError{URL: href, Err: ErrNotTarget}
	}
	return r.fn(ctx, href)
}

func staticData(data []byte) func(context.Context, string) (Resource, error) {
	return func(_ context.Context, href string) (Resource, error) {
		return Resource{URL: href, Data: data}, nil
	}
}

func failWith(err error) func(context.Context, string) (Resource, error) {
	return func(_ context.Context, href string) (Resource, error) {
		return Resource{}, &FetchError{URL: href, Err: err}
	}
}
