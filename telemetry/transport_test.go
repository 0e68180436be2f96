package telemetry

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"net/http/httptrace"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestWrapTransport(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok")) //nolint:errcheck
	}))
	defer srv.Close()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	client := &http.Client{Transport: WrapTransport(http.DefaultTransport, tp)}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	spans := map[string]sdktrace.ReadOnlySpan{}
	for _, span := range recorder.Ended() {
		spans[span.Name()] = span
	}

	root, ok := spans["http.request GET"]
	require.True(t, ok, "expected a client span, got %v", spanNames(recorder.Ended()))

	for _, name := range []string{"net.connect", "net.conn.time_to_first_byte"} {
		child, ok := spans[name]
		if assert.True(t, ok, "missing span %s", name) {
			assert.Equal(t, root.SpanContext().SpanID(), child.Parent().SpanID(), "%s should be a child of the client span", name)
			assert.Equal(t, root.SpanContext().TraceID(), child.SpanContext().TraceID())
		}
	}
}

func TestTracerToleratesMissingStart(t *testing.T) {
	t.Parallel()

	// Done callbacks without a matching start must not panic.
	trace := newClientTrace(context.Background())
	trace.GotFirstResponseByte()
	trace.DNSDone(httptrace.DNSDoneInfo{})
	trace.GotConn(httptrace.GotConnInfo{})
	trace.TLSHandshakeDone(tls.ConnectionState{}, nil)
}

func spanNames(spans []sdktrace.ReadOnlySpan) []string {
	names := make([]string, 0, len(spans))
	for _, s := range spans {
		names = append(names, s.Name())
	}
	return names
}
