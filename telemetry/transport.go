package telemetry

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/http/httptrace"
	"strconv"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// WrapTransport returns a transport that records a client span for every
// outgoing request, plus child spans for the DNS, connect, TLS and
// time-to-first-byte phases of each one.
func WrapTransport(transport http.RoundTripper, tp trace.TracerProvider) http.RoundTripper {
	// otelhttp adds baseline HTTP request instrumentation, our transport adds
	// detailed network connection info.
	return otelhttp.NewTransport(
		&traceTransport{transport},
		otelhttp.WithTracerProvider(tp),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "http.request " + r.Method
		}),
	)
}

type traceTransport struct {
	transport http.RoundTripper
}

func (t *traceTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()
	ctx = httptrace.WithClientTrace(ctx, newClientTrace(ctx))
	return t.transport.RoundTrip(r.WithContext(ctx))
}

func newClientTrace(ctx context.Context) *httptrace.ClientTrace {
	tracer := &tracer{
		ctx:    ctx,
		tracer: trace.SpanFromContext(ctx).TracerProvider().Tracer(tracerName),
	}
	return &httptrace.ClientTrace{
		DNSDone:              tracer.DNSDone,
		DNSStart:             tracer.DNSStart,
		GetConn:              tracer.GetConn,
		GotConn:              tracer.GotConn,
		GotFirstResponseByte: tracer.GotFirstResponseByte,
		TLSHandshakeDone:     tracer.TLSHandshakeDone,
		TLSHandshakeStart:    tracer.TLSHandshakeStart,
		WroteRequest:         tracer.WroteRequest,
	}
}

// Tracer implements a subset of the *httptrace.ClientTrace callbacks, and
// maintains state in order to instrument the various stages of an HTTP
// request.
type tracer struct {
	ctx    context.Context
	tracer trace.Tracer

	mu           sync.Mutex
	connectSpan  trace.Span
	dnsSpan      trace.Span
	tlsSpan      trace.Span
	upstreamSpan trace.Span
}

func (t *tracer) start(name string, attrs ...attribute.KeyValue) trace.Span {
	_, span := t.tracer.Start(t.ctx, name, trace.WithAttributes(attrs...))
	return span
}

// GetConn is called before a connection is created or retrieved from an idle
// pool. The hostPort is the "host:port" of the target or proxy. GetConn is
// called even if there's already an idle cached connection available.
func (t *tracer) GetConn(hostPort string) {
	var attrs []attribute.KeyValue
	if host, port, err := net.SplitHostPort(hostPort); err == nil {
		attrs = append(attrs, semconv.ServerAddress(host))
		if p, err := strconv.Atoi(port); err == nil {
			attrs = append(attrs, semconv.ServerPort(p))
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectSpan = t.start("net.connect", attrs...)
}

// GotConn is called after a successful connection is obtained. There is no
// hook for failure to obtain a connection; instead, use the error from
// Transport.RoundTrip.
func (t *tracer) GotConn(info httptrace.GotConnInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connectSpan == nil {
		return
	}
	t.connectSpan.SetAttributes(
		attribute.Bool("net.conn.reused", info.Reused),
		attribute.Bool("net.conn.was_idle", info.WasIdle),
	)
	t.connectSpan.End()
}

// DNSStart is called when a DNS lookup begins.
func (t *tracer) DNSStart(info httptrace.DNSStartInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dnsSpan = t.start("net.dns_lookup", semconv.ServerAddress(info.Host))
}

// DNSDone is called when a DNS lookup ends.
func (t *tracer) DNSDone(info httptrace.DNSDoneInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dnsSpan == nil {
		return
	}
	if info.Err != nil {
		t.dnsSpan.SetAttributes(attribute.String("error", info.Err.Error()))
	}
	t.dnsSpan.End()
}

// TLSHandshakeStart is called when the TLS handshake is started. When
// connecting to a HTTPS site via a HTTP proxy, the handshake happens after the
// CONNECT request is processed by the proxy.
func (t *tracer) TLSHandshakeStart() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tlsSpan = t.start("net.tls_handshake")
}

// TLSHandshakeDone is called after the TLS handshake with either the
// successful handshake's connection state, or a non-nil error on handshake
// failure.
func (t *tracer) TLSHandshakeDone(state tls.ConnectionState, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tlsSpan == nil {
		return
	}
	t.tlsSpan.SetAttributes(attribute.Bool("net.conn.tls_did_resume", state.DidResume))
	if err != nil {
		t.tlsSpan.SetAttributes(attribute.String("error", err.Error()))
	}
	t.tlsSpan.End()
}

// WroteRequest is called with the result of writing the request and any body.
// It may be called multiple times in the case of retried requests.
func (t *tracer) WroteRequest(info httptrace.WroteRequestInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.upstreamSpan == nil {
		t.upstreamSpan = t.start("net.conn.time_to_first_byte")
		if info.Err != nil {
			t.upstreamSpan.SetAttributes(attribute.String("error", info.Err.Error()))
		}
	}
}

// GotFirstResponseByte is called when the first byte of the response headers
// is available.
func (t *tracer) GotFirstResponseByte() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.upstreamSpan == nil {
		return
	}
	t.upstreamSpan.End()
}
