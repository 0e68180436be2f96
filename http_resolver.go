package hrefresolver

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/rs/zerolog"
	"golang.org/x/net/publicsuffix"

	"github.com/mccutchen/hrefresolver/bufferpool"
	"github.com/mccutchen/hrefresolver/headertransport"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultMaxBodySize  = 32 << 20
	defaultMaxRedirects = 10

	// how much of an error response we'll read to let the connection be
	// reused
	maxDrainSize = 64 << 10
)

// HTTPResolver fetches http:// and https:// hrefs with a blocking GET.
//
// An HTTPResolver is safe for concurrent use. All calls share the given
// transport, and therefore its connection pool.
type HTTPResolver struct {
	headers      map[string]string
	logger       zerolog.Logger
	maxBodySize  int64
	maxRedirects int
	pool         *bufferpool.BufferPool
	timeout      time.Duration
	transport    http.RoundTripper
}

var _ Interface = &HTTPResolver{} // HTTPResolver implements Interface

// New creates a new HTTPResolver that will use the given transport. A nil
// transport means http.DefaultTransport.
func New(transport http.RoundTripper, opts ...Option) *HTTPResolver {
	if transport == nil {
		transport = http.DefaultTransport
	}

	r := &HTTPResolver{
		headers:      headertransport.DefaultHeaders,
		logger:       zerolog.Nop(),
		maxBodySize:  defaultMaxBodySize,
		maxRedirects: defaultMaxRedirects,
		timeout:      defaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.pool = bufferpool.New(0)
	r.transport = headertransport.New(transport, headertransport.WithHeaders(r.headers))
	return r
}

// Option customizes an HTTPResolver.
type Option func(*HTTPResolver)

// WithTimeout bounds the total duration of each resolve, including reading
// the body. Values <= 0 are ignored.
func WithTimeout(timeout time.Duration) Option {
	return func(r *HTTPResolver) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithMaxBodySize bounds the size of a fetched resource. Larger bodies fail
// with ErrBodyTooLarge. Values <= 0 are ignored.
func WithMaxBodySize(n int64) Option {
	return func(r *HTTPResolver) {
		if n > 0 {
			// one extra byte is read to detect oversized bodies
			r.maxBodySize = min(n, math.MaxInt64-1)
		}
	}
}

// WithMaxRedirects sets how many redirects will be followed.
func WithMaxRedirects(n int) Option {
	return func(r *HTTPResolver) {
		r.maxRedirects = n
	}
}

// WithHeaders replaces the default headers injected into every request.
func WithHeaders(headers map[string]string) Option {
	return func(r *HTTPResolver) {
		r.headers = headers
	}
}

// WithLogger sets the logger used for per-request debug logging.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *HTTPResolver) {
		r.logger = logger
	}
}

// IsTarget reports whether href is an http or https URL.
func (r *HTTPResolver) IsTarget(href string) bool {
	return isRemote(href)
}

// Resolve fetches href and returns its full body. Non-2xx responses fail
// with a *StatusError; every error is wrapped in a *FetchError.
func (r *HTTPResolver) Resolve(ctx context.Context, href string) (Resource, error) {
	if !r.IsTarget(href) {
		return Resource{}, &FetchError{URL: href, Err: ErrNotTarget}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
	if err != nil {
		return Resource{}, &FetchError{URL: href, Err: err}
	}

	start := time.Now()
	resp, err := r.httpClient().Do(req)
	if err != nil {
		r.logger.Debug().Err(err).Str("url", href).Dur("duration", time.Since(start)).Msg("fetch failed")
		return Resource{}, &FetchError{URL: href, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainSize))
		r.logger.Debug().Str("url", href).Int("status", resp.StatusCode).Msg("fetch failed")
		return Resource{}, &FetchError{
			URL: href,
			Err: &StatusError{URL: resp.Request.URL.String(), StatusCode: resp.StatusCode},
		}
	}

	data, err := r.readBody(resp)
	if err != nil {
		return Resource{}, &FetchError{URL: href, Err: err}
	}

	r.logger.Debug().
		Str("url", href).
		Int("status", resp.StatusCode).
		Int("size", len(data)).
		Dur("duration", time.Since(start)).
		Msg("fetched")

	return Resource{
		URL:         resp.Request.URL.String(),
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func (r *HTTPResolver) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > r.maxRedirects {
		return fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, r.maxRedirects)
	}
	return nil
}

// httpClient returns a client with a fresh cookie jar, so that no state
// leaks between resolve calls while the transport's connection pool is
// still shared.
func (r *HTTPResolver) httpClient() *http.Client {
	cookieJar, _ := cookiejar.New(&cookiejar.Options{
		PublicSuffixList: publicsuffix.List,
	})
	return &http.Client{
		CheckRedirect: r.checkRedirect,
		Jar:           cookieJar,
		Transport:     r.transport,
		Timeout:       r.timeout,
	}
}

func (r *HTTPResolver) readBody(resp *http.Response) ([]byte, error) {
	var rd io.Reader = resp.Body
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gr, err := gzip.NewReader(rd)
		if err != nil {
			return nil, fmt.Errorf("error initializing gzip: %w", err)
		}
		defer gr.Close()
		rd = gr
	case "deflate":
		fr := flate.NewReader(rd)
		defer fr.Close()
		rd = fr
	case "br":
		rd = brotli.NewReader(rd)
	}

	buf := r.pool.Get()
	defer r.pool.Put(buf)

	// Read one byte past the limit to tell "exactly at the limit" apart
	// from "over it".
	if _, err := buf.ReadFrom(io.LimitReader(rd, r.maxBodySize+1)); err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}
	if int64(buf.Len()) > r.maxBodySize {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, r.maxBodySize)
	}
	return bytes.Clone(buf.Bytes()), nil
}

func isRemote(href string) bool {
	lower := strings.ToLower(href)
	return strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://")
}
