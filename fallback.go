package hrefresolver

import (
	"context"
	"fmt"
)

// FallbackResolver tries Primary first and falls back to Fallback when
// Primary does not target the href or fails to resolve it.
type FallbackResolver struct {
	Primary  Interface
	Fallback Interface
}

var _ Interface = &FallbackResolver{} // FallbackResolver implements Interface

// NewFallbackResolver creates a new FallbackResolver.
func NewFallbackResolver(primary, fallback Interface) *FallbackResolver {
	return &FallbackResolver{
		Primary:  primary,
		Fallback: fallback,
	}
}

// Chain links resolvers into nested fallbacks, tried in the order given.
// Chain(a, b, c) is equivalent to NewFallbackResolver(a, NewFallbackResolver(b, c)).
func Chain(resolvers ...Interface) Interface {
	switch len(resolvers) {
	case 0:
		return noTarget{}
	case 1:
		return resolvers[0]
	default:
		return NewFallbackResolver(resolvers[0], Chain(resolvers[1:]...))
	}
}

// IsTarget reports whether either resolver targets href.
func (f *FallbackResolver) IsTarget(href string) bool {
	return f.Primary.IsTarget(href) || f.Fallback.IsTarget(href)
}

// Resolve resolves href with the first resolver that targets it and
// succeeds. When both are tried and both fail, both errors are returned.
func (f *FallbackResolver) Resolve(ctx context.Context, href string) (Resource, error) {
	var primaryErr error
	if f.Primary.IsTarget(href) {
		res, err := f.Primary.Resolve(ctx, href)
		if err == nil {
			return res, nil
		}
		primaryErr = err
	}

	if !f.Fallback.IsTarget(href) {
		if primaryErr != nil {
			return Resource{}, primaryErr
		}
		return Resource{}, &FetchError{URL: href, Err: ErrNotTarget}
	}

	res, err := f.Fallback.Resolve(ctx, href)
	if err == nil {
		return res, nil
	}
	if primaryErr != nil {
		return Resource{}, fmt.Errorf("%w (fallback: %w)", primaryErr, err)
	}
	return Resource{}, err
}

type noTarget struct{}

func (noTarget) IsTarget(string) bool { return false }

func (noTarget) Resolve(_ context.Context, href string) (Resource, error) {
	return Resource{}, &FetchError{URL: href, Err: ErrNotTarget}
}
