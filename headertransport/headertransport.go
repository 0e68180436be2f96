// Package headertransport provides an http.RoundTripper that injects default
// headers, identifying the resolver and advertising the image formats it can
// make use of.
package headertransport

import (
	"net/http"
)

// DefaultHeaders defines the headers that will be injected into every
// outgoing request.
//
// Accept-Encoding is set explicitly, which means the standard library will
// not transparently decompress responses; callers must decode bodies
// according to Content-Encoding.
var DefaultHeaders = map[string]string{
	"Accept":          "image/avif,image/webp,image/png,image/svg+xml,image/*;q=0.8,*/*;q=0.5",
	"Accept-Encoding": "gzip, deflate, br",
	"User-Agent":      "hrefresolver/1.0 (+https://github.com/mccutchen/hrefresolver)",
}

// Transport is an http.RoundTripper implementation that injects a set of
// headers into every outgoing request.
type Transport struct {
	transport     http.RoundTripper
	injectHeaders map[string]string
}

var _ http.RoundTripper = &Transport{} // Transport implements http.RoundTripper

// New creates a new header injecting transport.
func New(transport http.RoundTripper, opts ...Option) *Transport {
	t := &Transport{
		transport:     transport,
		injectHeaders: DefaultHeaders,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RoundTrip executes a single HTTP transaction, after injecting a set of
// headers into the outgoing request.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request
	req = req.Clone(req.Context())
	// existing headers take precedence over injected headers
	for key, value := range t.injectHeaders {
		if req.Header.Get(key) == "" {
			req.Header.Set(key, value)
		}
	}
	return t.transport.RoundTrip(req)
}

// Option customizes a Transport.
type Option func(*Transport)

// WithHeaders overrides the default set of headers injected into each request.
func WithHeaders(injectHeaders map[string]string) Option {
	return func(t *Transport) {
		t.injectHeaders = injectHeaders
	}
}
