package hrefresolver

import (
	"net/url"

	"github.com/PuerkitoBio/purell"
)

// NormalizationFlags defines the normalization flags the purell package will
// use during canonicalization. Only equivalences every origin must honor are
// applied: case of scheme and host, default ports and percent-encoding. Path
// segments, query order and host spelling are sent as written, and servers
// may tell them apart.
//
// See https://godoc.org/github.com/PuerkitoBio/purell#NormalizationFlags
var NormalizationFlags = purell.FlagsSafe | purell.FlagRemoveEmptyPortSeparator

// Canonicalize normalizes an href into the key used to identify it in caches
// and when coalescing concurrent requests. The fragment is dropped because
// it is never sent to the origin. Hrefs that do not parse are returned as-is.
func Canonicalize(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	u.Fragment = ""
	u.RawFragment = ""
	return purell.NormalizeURL(u, NormalizationFlags)
}
