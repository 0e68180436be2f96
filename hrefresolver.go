// Package hrefresolver supplies the resources behind SVG <image> hrefs.
//
// A resolver maps an href to the raw bytes it points at. Resolvers are
// composable (fallback chains, caching, request coalescing, retries) and are
// installed into an svg.Options before a document is parsed:
//
//	r := hrefresolver.New(http.DefaultTransport)
//	opts := svg.DefaultOptions()
//	hrefresolver.SetIntoOptions(r, opts)
//	tree, err := svg.Parse(ctx, doc, opts)
//
// Every resolve call is independent. A failed resolve never aborts the parse;
// the svg package simply leaves that image out.
package hrefresolver

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/mccutchen/hrefresolver/svg"
)

// Interface defines the interface for an href resolver.
type Interface interface {
	// IsTarget reports whether the resolver handles href at all. Resolve
	// returns ErrNotTarget for hrefs that are not targets.
	IsTarget(href string) bool

	// Resolve fetches the resource behind href.
	Resolve(ctx context.Context, href string) (Resource, error)
}

// Resource is the result of resolving an href.
type Resource struct {
	// URL is the location the bytes were ultimately read from, after any
	// redirects.
	URL string
	// ContentType is the media type declared by the origin, if any.
	ContentType string
	// Data is the full resource body.
	Data []byte
}

// Func is the plain callback form of a resolver: an href in, bytes or an
// error out.
type Func func(href string) ([]byte, error)

// IntoFunc wraps r in a Func. Each call runs with a background context, so
// resolvers used this way should carry their own timeout (HTTPResolver
// always does).
func IntoFunc(r Interface) Func {
	return func(href string) ([]byte, error) {
		if !r.IsTarget(href) {
			return nil, ErrNotTarget
		}
		res, err := r.Resolve(context.Background(), href)
		if err != nil {
			return nil, err
		}
		return res.Data, nil
	}
}

// IntoImageFunc adapts r to the svg package's string resolver hook. Hrefs r
// does not target, failed fetches, and payloads that are not a recognized
// image kind all resolve to "no image".
func IntoImageFunc(r Interface) svg.StringResolverFunc {
	return func(ctx context.Context, href string, opts *svg.Options) (*svg.Image, bool) {
		if !r.IsTarget(href) {
			return nil, false
		}
		logger := zerolog.Ctx(ctx)

		res, err := r.Resolve(ctx, href)
		if err != nil {
			logger.Debug().Err(err).Str("href", href).Msg("image href not resolved")
			return nil, false
		}

		kind, ok := svg.DetectKind(res.ContentType, href, res.Data)
		if !ok {
			logger.Debug().Str("href", href).Str("content_type", res.ContentType).Msg("unsupported image kind")
			return nil, false
		}

		img, err := svg.NewImage(ctx, href, kind, res.Data, opts)
		if err != nil {
			logger.Debug().Err(err).Str("href", href).Msg("nested svg not parsed")
			return nil, false
		}
		return img, true
	}
}

// SetIntoOptions installs r as the string href resolver of opts.
func SetIntoOptions(r Interface, opts *svg.Options) {
	opts.ImageHrefResolver.ResolveString = IntoImageFunc(r)
}
