package hrefresolver

import (
	"context"
	"mime"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// FileResolver resolves hrefs that name local files. Relative paths are
// resolved against a base directory; file:// URLs are accepted as well.
type FileResolver struct {
	fs  afero.Fs
	dir string
}

var _ Interface = &FileResolver{} // FileResolver implements Interface

// NewFileResolver creates a FileResolver reading from fs, with relative
// hrefs resolved against dir.
func NewFileResolver(fs afero.Fs, dir string) *FileResolver {
	return &FileResolver{
		fs:  fs,
		dir: dir,
	}
}

// DefaultResolver resolves local files on the OS filesystem relative to dir,
// which is usually the directory holding the SVG document.
func DefaultResolver(dir string) *FileResolver {
	return NewFileResolver(afero.NewOsFs(), dir)
}

// IsTarget reports whether href is a bare path or a file:// URL naming the
// local host.
func (r *FileResolver) IsTarget(href string) bool {
	_, ok := r.path(href)
	return ok
}

// Resolve reads the file named by href.
func (r *FileResolver) Resolve(ctx context.Context, href string) (Resource, error) {
	p, ok := r.path(href)
	if !ok {
		return Resource{}, &FetchError{URL: href, Err: ErrNotTarget}
	}
	if err := ctx.Err(); err != nil {
		return Resource{}, &FetchError{URL: href, Err: err}
	}

	data, err := afero.ReadFile(r.fs, p)
	if err != nil {
		return Resource{}, &FetchError{URL: href, Err: err}
	}
	return Resource{
		URL:         p,
		ContentType: mime.TypeByExtension(filepath.Ext(p)),
		Data:        data,
	}, nil
}

func (r *FileResolver) path(href string) (string, bool) {
	if href == "" {
		return "", false
	}
	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}

	var p string
	switch strings.ToLower(u.Scheme) {
	case "":
		// scheme-relative hrefs like //host/a.png name a remote resource
		if u.Host != "" {
			return "", false
		}
		p = u.Path
	case "file":
		if u.Host != "" && !strings.EqualFold(u.Host, "localhost") {
			return "", false
		}
		p = u.Path
	default:
		return "", false
	}
	if p == "" {
		return "", false
	}

	p = filepath.FromSlash(p)
	if !filepath.IsAbs(p) {
		p = filepath.Join(r.dir, p)
	}
	return p, true
}
