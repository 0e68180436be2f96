package svg

import (
	"context"
	"sync/atomic"
)

const (
	defaultConcurrency = 4
	defaultMaxDepth    = 8
	defaultMaxResolves = 256
)

// StringResolverFunc resolves a non-data href into an image. Returning false
// means the image is omitted from the tree.
type StringResolverFunc func(ctx context.Context, href string, opts *Options) (*Image, bool)

// DataResolverFunc resolves the decoded payload of a data: URL into an image.
type DataResolverFunc func(ctx context.Context, mimeType string, data []byte, opts *Options) (*Image, bool)

// ImageHrefResolver is the extension point through which callers supply the
// bytes behind <image> hrefs. Either field may be nil, in which case hrefs of
// that form are left unresolved.
type ImageHrefResolver struct {
	ResolveData   DataResolverFunc
	ResolveString StringResolverFunc
}

// DefaultImageHrefResolver decodes data: URLs and leaves every other href
// unresolved.
func DefaultImageHrefResolver() ImageHrefResolver {
	return ImageHrefResolver{
		ResolveData: DefaultDataResolver,
	}
}

// DefaultDataResolver turns an inline data: payload into an image, using the
// declared media type or, failing that, the payload itself to pick a kind.
func DefaultDataResolver(ctx context.Context, mimeType string, data []byte, opts *Options) (*Image, bool) {
	kind, ok := DetectKind(mimeType, "", data)
	if !ok {
		return nil, false
	}
	img, err := NewImage(ctx, "", kind, data, opts)
	if err != nil {
		return nil, false
	}
	return img, true
}

// Options configures Parse.
type Options struct {
	// ImageHrefResolver is consulted once for every <image> element.
	ImageHrefResolver ImageHrefResolver

	// Concurrency bounds the number of hrefs resolved at once within a
	// single document. Values < 1 mean sequential resolution.
	Concurrency int

	// MaxDepth bounds how deeply SVG images may nest inside one another.
	MaxDepth int

	// MaxResolves bounds the number of hrefs resolved for one top-level
	// document, nested documents included. Hrefs past the limit are left
	// unresolved. Values < 1 mean the default of 256.
	MaxResolves int

	depth int

	// resolves counts the hrefs resolved so far. It is shared by a document
	// and every document nested inside it.
	resolves *atomic.Int64
}

// DefaultOptions returns options with the default href resolver installed.
func DefaultOptions() *Options {
	return &Options{
		ImageHrefResolver: DefaultImageHrefResolver(),
		Concurrency:       defaultConcurrency,
		MaxDepth:          defaultMaxDepth,
		MaxResolves:       defaultMaxResolves,
	}
}

func (o *Options) nested() *Options {
	n := *o
	n.depth++
	return &n
}

// withBudget returns opts with a fresh resolve counter when it has none yet.
func (o *Options) withBudget() *Options {
	if o.resolves != nil {
		return o
	}
	n := *o
	n.resolves = new(atomic.Int64)
	return &n
}

// spend takes one resolve from the budget, reporting false once it is
// exhausted.
func (o *Options) spend() bool {
	limit := o.MaxResolves
	if limit < 1 {
		limit = defaultMaxResolves
	}
	return o.resolves.Add(1) <= int64(limit)
}
