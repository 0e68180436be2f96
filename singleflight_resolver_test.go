package hrefresolver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleflightResolver(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	upstream := newFuncResolver("http", func(_ context.Context, href string) (Resource, error) {
		<-release
		return Resource{URL: href, Data: []byte("shared")}, nil
	})
	r := NewSingleflightResolver(upstream)

	// the differences between these hrefs are normalized away
	hrefs := []string{
		"http://example.com/a.png",
		"HTTP://EXAMPLE.COM/a.png",
		"http://example.com:80/a.png",
		"http://example.com/a.png#frag",
	}

	const perHref = 5
	results := make(chan Resource, len(hrefs)*perHref)

	var wg sync.WaitGroup
	for _, href := range hrefs {
		for i := 0; i < perHref; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := r.Resolve(context.Background(), href)
				assert.NoError(t, err)
				results <- res
			}()
		}
	}

	// give every goroutine a chance to join the in-flight call
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	assert.Equal(t, int64(1), upstream.calls.Load(), "expected a single upstream call")

	var all []Resource
	for res := range results {
		assert.Equal(t, "shared", string(res.Data))
		all = append(all, res)
	}
	require.Len(t, all, len(hrefs)*perHref)

	// every caller owns its data
	all[0].Data[0] = 'X'
	assert.Equal(t, "shared", string(all[1].Data))
}

func TestSingleflightResolverErrors(t *testing.T) {
	t.Parallel()

	r := NewSingleflightResolver(newFuncResolver("http", failWith(ErrBodyTooLarge)))
	res, err := r.Resolve(context.Background(), "http://example.com/big.png")
	assert.ErrorIs(t, err, ErrBodyTooLarge)
	assert.Nil(t, res.Data)

	assert.True(t, r.IsTarget("http://example.com"))
	assert.False(t, r.IsTarget("a.png"))
}

func TestSingleflightResolverCallerCanceled(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	upstream := newFuncResolver("http", func(ctx context.Context, href string) (Resource, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
			return Resource{URL: href, Data: []byte("shared")}, nil
		case <-ctx.Done():
			return Resource{}, &FetchError{URL: href, Err: ctx.Err()}
		}
	})
	r := NewSingleflightResolver(upstream)
	href := "http://example.com/a.png"

	firstCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.Resolve(firstCtx, href)
		firstErr <- err
	}()
	<-started

	type outcome struct {
		res Resource
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := r.Resolve(context.Background(), href)
		second <- outcome{res, err}
	}()

	// let the second caller join the in-flight call before the first leaves
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("canceled caller kept waiting")
	}

	close(release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, "shared", string(got.res.Data))
	assert.Equal(t, int64(1), upstream.calls.Load())
}

func TestSingleflightResolverDistinctQueries(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		fmt.Fprintf(w, "%s|%s", r.URL.RawQuery, r.URL.EscapedPath())
	}))
	defer srv.Close()

	r := NewSingleflightResolver(New(nil))

	testCases := map[string]string{
		"/i.png?b=2&a=1": "b=2&a=1|/i.png",
		"/i.png?a=1&b=2": "a=1&b=2|/i.png",
		"/x//i.png":      "|/x//i.png",
		"/x/i.png":       "|/x/i.png",
		"/x/../i.png":    "|/x/../i.png",
		"/i.png":         "|/i.png",
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(testCases))
	for path, want := range testCases {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Resolve(context.Background(), srv.URL+path)
			if err != nil {
				errs <- err
				return
			}
			if got := string(res.Data); got != want {
				errs <- fmt.Errorf("%s: got %q, want %q", path, got, want)
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}
