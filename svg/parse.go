// Package svg is a minimal SVG document loader. It walks a document, finds
// every <image> element, and hands each href to the configured
// ImageHrefResolver, so that callers control how (and whether) external
// resources are fetched.
package svg

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"
)

const xlinkNamespace = "http://www.w3.org/1999/xlink"

// Errors returned by Parse.
var (
	ErrNotSVG     = errors.New("svg: document root is not <svg>")
	ErrMaxDepth   = errors.New("svg: nested images exceed maximum depth")
	ErrBadDataURL = errors.New("svg: malformed data URL")
)

// Image is a resolved <image> element.
type Image struct {
	Href string
	Kind ImageKind
	Data []byte

	// Tree holds the parsed document when Kind is KindSVG.
	Tree *Tree
}

// NewImage builds an Image, parsing the payload with the given options when
// it is itself an SVG document.
func NewImage(ctx context.Context, href string, kind ImageKind, data []byte, opts *Options) (*Image, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	img := &Image{
		Href: href,
		Kind: kind,
		Data: data,
	}
	if kind == KindSVG {
		tree, err := Parse(ctx, data, opts.nested())
		if err != nil {
			return nil, err
		}
		img.Tree = tree
	}
	return img, nil
}

// Tree is the result of parsing a document.
type Tree struct {
	Width   string
	Height  string
	ViewBox string

	// Images holds every <image> whose href resolved, in document order.
	Images []*Image

	// Unresolved holds the hrefs the resolver declined or failed to
	// resolve, in document order.
	Unresolved []string
}

// Parse reads an SVG document and resolves its <image> hrefs through
// opts.ImageHrefResolver. A nil opts means DefaultOptions().
func Parse(ctx context.Context, data []byte, opts *Options) (*Tree, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.depth > opts.MaxDepth {
		return nil, ErrMaxDepth
	}
	opts = opts.withBudget()

	tree, hrefs, err := scan(data)
	if err != nil {
		return nil, err
	}

	images := make([]*Image, len(hrefs))
	var g errgroup.Group
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	} else {
		g.SetLimit(1)
	}
	for i, href := range hrefs {
		g.Go(func() error {
			images[i] = opts.resolve(ctx, href)
			return nil
		})
	}
	_ = g.Wait()

	for i, img := range images {
		if img == nil {
			tree.Unresolved = append(tree.Unresolved, hrefs[i])
			continue
		}
		tree.Images = append(tree.Images, img)
	}
	return tree, nil
}

func scan(data []byte) (*Tree, []string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var (
		tree  *Tree
		hrefs []string
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("svg: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if tree == nil {
			if se.Name.Local != "svg" {
				return nil, nil, ErrNotSVG
			}
			tree = &Tree{
				Width:   attr(se, "width"),
				Height:  attr(se, "height"),
				ViewBox: attr(se, "viewBox"),
			}
			continue
		}
		if se.Name.Local == "image" {
			if href := imageHref(se); href != "" {
				hrefs = append(hrefs, href)
			}
		}
	}
	if tree == nil {
		return nil, nil, ErrNotSVG
	}
	return tree, hrefs, nil
}

func attr(se xml.StartElement, name string) string {
	for _, a := range se.Attr {
		if a.Name.Space == "" && a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// imageHref prefers the SVG 2 href attribute over the legacy xlink:href.
func imageHref(se xml.StartElement) string {
	var xlinkHref string
	for _, a := range se.Attr {
		if a.Name.Local != "href" {
			continue
		}
		switch a.Name.Space {
		case "":
			return strings.TrimSpace(a.Value)
		case xlinkNamespace, "xlink":
			xlinkHref = strings.TrimSpace(a.Value)
		}
	}
	return xlinkHref
}

func (o *Options) resolve(ctx context.Context, href string) *Image {
	if !o.spend() {
		return nil
	}
	if strings.HasPrefix(href, "data:") {
		if o.ImageHrefResolver.ResolveData == nil {
			return nil
		}
		mimeType, payload, err := decodeDataURL(href)
		if err != nil {
			return nil
		}
		img, ok := o.ImageHrefResolver.ResolveData(ctx, mimeType, payload, o)
		if !ok {
			return nil
		}
		if img.Href == "" {
			img.Href = href
		}
		return img
	}

	if o.ImageHrefResolver.ResolveString == nil {
		return nil
	}
	img, ok := o.ImageHrefResolver.ResolveString(ctx, href, o)
	if !ok {
		return nil
	}
	return img
}

// decodeDataURL splits data:[<mediatype>][;base64],<payload>.
func decodeDataURL(href string) (string, []byte, error) {
	header, payload, found := strings.Cut(strings.TrimPrefix(href, "data:"), ",")
	if !found {
		return "", nil, ErrBadDataURL
	}

	isBase64 := false
	if strings.HasSuffix(header, ";base64") {
		isBase64 = true
		header = strings.TrimSuffix(header, ";base64")
	}

	if isBase64 {
		// Inline images are frequently wrapped across lines.
		payload = strings.Join(strings.Fields(payload), "")
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			data, err = base64.RawStdEncoding.DecodeString(payload)
			if err != nil {
				return "", nil, fmt.Errorf("%w: %s", ErrBadDataURL, err)
			}
		}
		return header, data, nil
	}

	unescaped, err := url.PathUnescape(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s", ErrBadDataURL, err)
	}
	return header, []byte(unescaped), nil
}
