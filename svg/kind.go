package svg

import (
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ImageKind identifies the encoding of an embedded image.
type ImageKind int

// Image kinds understood by the parser.
const (
	KindUnknown ImageKind = iota
	KindJPEG
	KindPNG
	KindGIF
	KindWEBP
	KindSVG
)

func (k ImageKind) String() string {
	switch k {
	case KindJPEG:
		return "jpeg"
	case KindPNG:
		return "png"
	case KindGIF:
		return "gif"
	case KindWEBP:
		return "webp"
	case KindSVG:
		return "svg"
	default:
		return "unknown"
	}
}

// MIME returns the canonical media type for the kind, or the empty string for
// KindUnknown.
func (k ImageKind) MIME() string {
	switch k {
	case KindJPEG:
		return "image/jpeg"
	case KindPNG:
		return "image/png"
	case KindGIF:
		return "image/gif"
	case KindWEBP:
		return "image/webp"
	case KindSVG:
		return "image/svg+xml"
	default:
		return ""
	}
}

// KindFromMIME maps a media type (parameters allowed) to an ImageKind.
func KindFromMIME(contentType string) (ImageKind, bool) {
	if contentType == "" {
		return KindUnknown, false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch mediaType {
	case "image/png":
		return KindPNG, true
	case "image/jpeg", "image/jpg":
		return KindJPEG, true
	case "image/webp":
		return KindWEBP, true
	case "image/gif":
		return KindGIF, true
	case "image/svg+xml":
		return KindSVG, true
	}
	return KindUnknown, false
}

// KindFromExtension maps the file extension of an href's path to an
// ImageKind. Query strings and fragments are ignored.
func KindFromExtension(href string) (ImageKind, bool) {
	p := href
	if u, err := url.Parse(href); err == nil {
		p = u.Path
	}
	switch strings.ToLower(strings.TrimPrefix(path.Ext(p), ".")) {
	case "png":
		return KindPNG, true
	case "jpg", "jpeg":
		return KindJPEG, true
	case "webp":
		return KindWEBP, true
	case "gif":
		return KindGIF, true
	case "svg":
		return KindSVG, true
	}
	return KindUnknown, false
}

// DetectKind determines the kind of a fetched image, trying the declared
// content type first, then the href's extension, then the content itself.
func DetectKind(contentType, href string, data []byte) (ImageKind, bool) {
	if kind, ok := KindFromMIME(contentType); ok {
		return kind, true
	}
	if kind, ok := KindFromExtension(href); ok {
		return kind, true
	}
	if len(data) == 0 {
		return KindUnknown, false
	}
	return KindFromMIME(mimetype.Detect(data).String())
}
