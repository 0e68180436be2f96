package hrefresolver

import (
	"bytes"
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// SingleflightResolver is a resolver implementation that ensures concurrent
// requests to resolve the same href result in a single request to the
// origin server. Documents often reference one image many times.
type SingleflightResolver struct {
	group    *singleflight.Group
	resolver Interface
}

var _ Interface = &SingleflightResolver{} // SingleflightResolver implements Interface

// NewSingleflightResolver creates a new SingleflightResolver.
func NewSingleflightResolver(resolver Interface) *SingleflightResolver {
	return &SingleflightResolver{
		group:    &singleflight.Group{},
		resolver: resolver,
	}
}

// IsTarget delegates to the wrapped resolver.
func (r *SingleflightResolver) IsTarget(href string) bool {
	return r.resolver.IsTarget(href)
}

// Resolve resolves an href, ensuring that concurrent requests result in a
// single request to the origin server. Each caller gets its own copy of the
// data.
//
// The shared request is detached from the cancellation of whichever caller
// started it, so that a caller giving up does not fail the others; each
// caller stops waiting when its own ctx is done. The wrapped resolver's
// timeout still bounds the shared request.
func (r *SingleflightResolver) Resolve(ctx context.Context, href string) (Resource, error) {
	span := trace.SpanFromContext(ctx)

	ch := r.group.DoChan(Canonicalize(href), func() (interface{}, error) {
		return r.resolver.Resolve(context.WithoutCancel(ctx), href)
	})

	select {
	case <-ctx.Done():
		span.SetAttributes(attribute.String("error", ctx.Err().Error()))
		return Resource{}, &FetchError{URL: href, Err: ctx.Err()}
	case result := <-ch:
		span.SetAttributes(attribute.Bool("hrefresolver.request_coalesced", result.Shared))
		if result.Err != nil {
			span.SetAttributes(attribute.String("error", result.Err.Error()))
			return Resource{}, result.Err
		}
		res := result.Val.(Resource)
		if result.Shared {
			res.Data = bytes.Clone(res.Data)
		}
		return res, nil
	}
}
