package svg

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func grayPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = 127
	}
	img.Set(0, 0, color.Gray{Y: 0})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func staticResolver(images map[string][]byte) StringResolverFunc {
	return func(ctx context.Context, href string, opts *Options) (*Image, bool) {
		data, ok := images[href]
		if !ok {
			return nil, false
		}
		kind, ok := DetectKind("", href, data)
		if !ok {
			return nil, false
		}
		img, err := NewImage(ctx, href, kind, data, opts)
		if err != nil {
			return nil, false
		}
		return img, true
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	pngData := grayPNG(t)

	testCases := map[string]struct {
		doc            string
		images         map[string][]byte
		wantHrefs      []string
		wantUnresolved []string
		wantErr        error
	}{
		"href attribute": {
			doc:       `<svg xmlns="http://www.w3.org/2000/svg" width="200" height="200"><image href="https://example.com/gray.png"/></svg>`,
			images:    map[string][]byte{"https://example.com/gray.png": pngData},
			wantHrefs: []string{"https://example.com/gray.png"},
		},
		"xlink href attribute": {
			doc:       `<svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink"><image xlink:href="a.png"/></svg>`,
			images:    map[string][]byte{"a.png": pngData},
			wantHrefs: []string{"a.png"},
		},
		"href wins over xlink href": {
			doc:       `<svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink"><image xlink:href="old.png" href="new.png"/></svg>`,
			images:    map[string][]byte{"old.png": pngData, "new.png": pngData},
			wantHrefs: []string{"new.png"},
		},
		"unresolved images are omitted": {
			doc:            `<svg xmlns="http://www.w3.org/2000/svg"><image href="a.png"/><g><image href="missing.png"/></g><image href="b.png"/></svg>`,
			images:         map[string][]byte{"a.png": pngData, "b.png": pngData},
			wantHrefs:      []string{"a.png", "b.png"},
			wantUnresolved: []string{"missing.png"},
		},
		"image without href ignored": {
			doc: `<svg xmlns="http://www.w3.org/2000/svg"><image width="10"/></svg>`,
		},
		"root must be svg": {
			doc:     `<html><image href="a.png"/></html>`,
			wantErr: ErrNotSVG,
		},
		"empty document": {
			doc:     ``,
			wantErr: ErrNotSVG,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			opts := DefaultOptions()
			opts.ImageHrefResolver.ResolveString = staticResolver(tc.images)

			tree, err := Parse(context.Background(), []byte(tc.doc), opts)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)

			var gotHrefs []string
			for _, img := range tree.Images {
				gotHrefs = append(gotHrefs, img.Href)
				assert.Equal(t, KindPNG, img.Kind)
			}
			assert.Equal(t, tc.wantHrefs, gotHrefs)
			assert.Equal(t, tc.wantUnresolved, tree.Unresolved)
		})
	}
}

func TestParseRootAttributes(t *testing.T) {
	t.Parallel()

	tree, err := Parse(context.Background(), []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="200" height="100" viewBox="0 0 20 10"></svg>`), nil)
	require.NoError(t, err)
	assert.Equal(t, "200", tree.Width)
	assert.Equal(t, "100", tree.Height)
	assert.Equal(t, "0 0 20 10", tree.ViewBox)
}

func TestParseDataURLs(t *testing.T) {
	t.Parallel()

	pngData := grayPNG(t)
	encoded := base64.StdEncoding.EncodeToString(pngData)
	doc := `<svg xmlns="http://www.w3.org/2000/svg">` +
		`<image href="data:image/png;base64,` + encoded + `"/>` +
		`<image href="data:;base64,` + encoded + `"/>` +
		`<image href="data:image/svg+xml,%3Csvg xmlns='http://www.w3.org/2000/svg'/%3E"/>` +
		`<image href="data:image/png;base64,!!!"/>` +
		`</svg>`

	tree, err := Parse(context.Background(), []byte(doc), nil)
	require.NoError(t, err)
	require.Len(t, tree.Images, 3)
	assert.Equal(t, KindPNG, tree.Images[0].Kind)
	assert.Equal(t, pngData, tree.Images[0].Data)
	assert.Equal(t, "data:image/png;base64,"+encoded, tree.Images[0].Href)
	assert.Equal(t, KindPNG, tree.Images[1].Kind, "kind sniffed from payload")
	assert.Equal(t, KindSVG, tree.Images[2].Kind)
	assert.NotNil(t, tree.Images[2].Tree)
	assert.Len(t, tree.Unresolved, 1)
}

func TestParseDefaultOptionsLeaveRemoteUnresolved(t *testing.T) {
	t.Parallel()

	tree, err := Parse(context.Background(), []byte(`<svg xmlns="http://www.w3.org/2000/svg"><image href="https://example.com/a.png"/></svg>`), nil)
	require.NoError(t, err)
	assert.Empty(t, tree.Images)
	assert.Equal(t, []string{"https://example.com/a.png"}, tree.Unresolved)
}

func TestParseNestedSVG(t *testing.T) {
	t.Parallel()

	pngData := grayPNG(t)
	inner := []byte(`<svg xmlns="http://www.w3.org/2000/svg"><image href="leaf.png"/></svg>`)
	opts := DefaultOptions()
	opts.ImageHrefResolver.ResolveString = staticResolver(map[string][]byte{
		"inner.svg": inner,
		"leaf.png":  pngData,
	})

	tree, err := Parse(context.Background(), []byte(`<svg xmlns="http://www.w3.org/2000/svg"><image href="inner.svg"/></svg>`), opts)
	require.NoError(t, err)
	require.Len(t, tree.Images, 1)
	nested := tree.Images[0]
	assert.Equal(t, KindSVG, nested.Kind)
	require.NotNil(t, nested.Tree)
	require.Len(t, nested.Tree.Images, 1)
	assert.Equal(t, "leaf.png", nested.Tree.Images[0].Href)
}

func TestParseSelfReferenceStopsAtMaxDepth(t *testing.T) {
	t.Parallel()

	self := []byte(`<svg xmlns="http://www.w3.org/2000/svg"><image href="self.svg"/></svg>`)
	var calls int64
	opts := DefaultOptions()
	opts.MaxDepth = 3
	resolve := staticResolver(map[string][]byte{"self.svg": self})
	opts.ImageHrefResolver.ResolveString = func(ctx context.Context, href string, o *Options) (*Image, bool) {
		atomic.AddInt64(&calls, 1)
		return resolve(ctx, href, o)
	}

	tree, err := Parse(context.Background(), self, opts)
	require.NoError(t, err)
	assert.Equal(t, int64(opts.MaxDepth+1), atomic.LoadInt64(&calls))

	levels := 0
	for len(tree.Images) == 1 {
		tree = tree.Images[0].Tree
		require.NotNil(t, tree)
		levels++
	}
	assert.Equal(t, opts.MaxDepth, levels)
	assert.Equal(t, []string{"self.svg"}, tree.Unresolved, "deepest level leaves the href unresolved")
}

func TestParseResolveBudget(t *testing.T) {
	t.Parallel()

	self := []byte(`<svg xmlns="http://www.w3.org/2000/svg">` +
		`<image href="self.svg"/><image href="self.svg"/>` +
		`<image href="self.svg"/><image href="self.svg"/>` +
		`</svg>`)
	resolve := staticResolver(map[string][]byte{"self.svg": self})

	testCases := map[string]struct {
		maxResolves int
		wantCalls   int64
	}{
		"explicit limit": {maxResolves: 50, wantCalls: 50},
		"default limit":  {maxResolves: 0, wantCalls: defaultMaxResolves},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int64
			opts := DefaultOptions()
			opts.MaxDepth = 8
			opts.MaxResolves = tc.maxResolves
			opts.ImageHrefResolver.ResolveString = func(ctx context.Context, href string, o *Options) (*Image, bool) {
				calls.Add(1)
				return resolve(ctx, href, o)
			}

			tree, err := Parse(context.Background(), self, opts)
			require.NoError(t, err)
			assert.Equal(t, tc.wantCalls, calls.Load())
			assert.NotEmpty(t, tree.Images)

			// a second parse with the same options gets a budget of its own
			calls.Store(0)
			_, err = Parse(context.Background(), self, opts)
			require.NoError(t, err)
			assert.Equal(t, tc.wantCalls, calls.Load())
		})
	}
}

func TestParseResolvesConcurrently(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		inflight int
		peak     int
	)
	opts := DefaultOptions()
	opts.Concurrency = 3
	opts.ImageHrefResolver.ResolveString = func(ctx context.Context, href string, o *Options) (*Image, bool) {
		mu.Lock()
		inflight++
		if inflight > peak {
			peak = inflight
		}
		mu.Unlock()

		time.Sleep(50 * time.Millisecond)

		mu.Lock()
		inflight--
		mu.Unlock()
		return &Image{Href: href, Kind: KindPNG}, true
	}

	doc := `<svg xmlns="http://www.w3.org/2000/svg">` +
		`<image href="1.png"/><image href="2.png"/><image href="3.png"/>` +
		`<image href="4.png"/><image href="5.png"/><image href="6.png"/>` +
		`</svg>`
	tree, err := Parse(context.Background(), []byte(doc), opts)
	require.NoError(t, err)
	require.Len(t, tree.Images, 6)
	for i, img := range tree.Images {
		assert.Equal(t, string(rune('1'+i))+".png", img.Href, "document order preserved")
	}
	assert.LessOrEqual(t, peak, 3)
	assert.Greater(t, peak, 1)
}

func TestParseMalformedXML(t *testing.T) {
	t.Parallel()

	_, err := Parse(context.Background(), []byte(`<svg xmlns="http://www.w3.org/2000/svg"><image href="a.png"></svg>`), nil)
	assert.Error(t, err)
}
