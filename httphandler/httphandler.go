/*
Package httphandler provides a basic net/http http.Handler implementation that
proxies the resources behind image hrefs.

GET /resolve expects a ?url=URL_TO_RESOLVE query parameter and responds with
the fetched bytes, labeled with the detected image type:

	$ curl -si localhost:8080/resolve?url=https://example.com/logo.png | head -3
	HTTP/1.1 200 OK
	Content-Type: image/png
	X-Resolved-Url: https://cdn.example.com/logo.png

GET /inspect takes the URL of an SVG document, resolves every <image> it
references and responds with a JSON summary:

	$ curl -s localhost:8080/inspect?url=https://example.com/badge.svg | jq .
	{
	    "url": "https://example.com/badge.svg",
	    "width": "120",
	    "height": "20",
	    "images": [{"href": "https://example.com/logo.png", "kind": "png", "size": 1532}],
	    "unresolved": []
	}

Errors are reported as a JSON object with an error field. Implementation
details are hidden; the upstream status code is included when there was one.
*/
package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/hlog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mccutchen/hrefresolver"
	"github.com/mccutchen/hrefresolver/safedialer"
	"github.com/mccutchen/hrefresolver/svg"
)

// Errors that might be returned by the HTTP handler.
var (
	ErrRequestTimeout   = errors.New("request timeout")
	ErrResolveError     = errors.New("resolve error")
	ErrUnsafeURL        = errors.New("unsafe URL")
	ErrResourceTooLarge = errors.New("resource too large")
	ErrUnsupportedKind  = errors.New("unsupported image type")
	ErrNotSVG           = errors.New("not an svg document")
)

// Cache control
const (
	maxAgeOK  = 24 * time.Hour
	maxAgeErr = 5 * time.Minute
)

// statusClientClosedRequest is the non-standard 499 Client Closed Request
// status, used for our own instrumentation purposes
// (https://httpstatuses.com/499).
const statusClientClosedRequest = 499

// ErrorResponse defines the body of every error response.
type ErrorResponse struct {
	Error          string `json:"error"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
}

// InspectResponse defines the /inspect response structure.
type InspectResponse struct {
	URL        string         `json:"url"`
	Width      string         `json:"width"`
	Height     string         `json:"height"`
	ViewBox    string         `json:"view_box,omitempty"`
	Images     []InspectImage `json:"images"`
	Unresolved []string       `json:"unresolved"`
}

// InspectImage describes one resolved image.
type InspectImage struct {
	Href     string         `json:"href"`
	Kind     string         `json:"kind"`
	Size     int            `json:"size"`
	Children []InspectImage `json:"children,omitempty"`
}

// New creates a new Handler. newOptions supplies the svg options used by
// /inspect; nil means svg.DefaultOptions.
func New(resolver hrefresolver.Interface, newOptions func() *svg.Options) *Handler {
	if newOptions == nil {
		newOptions = svg.DefaultOptions
	}
	return &Handler{
		resolver:   resolver,
		newOptions: newOptions,
	}
}

// Handler is an HTTP request handler that resolves image hrefs.
type Handler struct {
	resolver   hrefresolver.Interface
	newOptions func() *svg.Options
}

var _ http.Handler = &Handler{} // Handler implements http.Handler

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/":
		h.handleIndex(w, r)
	case "/resolve":
		h.handleResolve(w, r)
	case "/inspect":
		h.handleInspect(w, r)
	default:
		sendError(w, http.StatusNotFound, ErrorResponse{Error: "Not found"})
	}
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r) {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "Hello, world. Try /resolve?url=... or /inspect?url=...")
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r) {
		return
	}
	givenURL, ok := urlArg(w, r)
	if !ok {
		return
	}

	res, err := h.resolver.Resolve(r.Context(), givenURL)
	if err != nil {
		h.handleError(w, r, givenURL, err)
		return
	}

	kind, ok := svg.DetectKind(res.ContentType, res.URL, res.Data)
	if !ok {
		hlog.FromRequest(r).Info().Str("url", givenURL).Str("content_type", res.ContentType).Msg("unsupported image kind")
		sendError(w, http.StatusBadGateway, ErrorResponse{Error: ErrUnsupportedKind.Error()})
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("hrefresolver.kind", kind.String()),
		attribute.Int("hrefresolver.size", len(res.Data)),
	)

	w.Header().Set("Content-Type", kind.MIME())
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.Header().Set("Cache-Control", cacheControlValue(http.StatusOK))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Resolved-Url", res.URL)
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(res.Data)
	}
}

func (h *Handler) handleInspect(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r) {
		return
	}
	givenURL, ok := urlArg(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	res, err := h.resolver.Resolve(ctx, givenURL)
	if err != nil {
		h.handleError(w, r, givenURL, err)
		return
	}

	opts := h.newOptions()
	hrefresolver.SetIntoOptions(h.resolver, opts)
	tree, err := svg.Parse(hlog.FromRequest(r).WithContext(ctx), res.Data, opts)
	if err != nil {
		hlog.FromRequest(r).Info().Err(err).Str("url", givenURL).Msg("error parsing svg")
		sendError(w, http.StatusUnprocessableEntity, ErrorResponse{Error: ErrNotSVG.Error()})
		return
	}

	sendJSON(w, http.StatusOK, InspectResponse{
		URL:        givenURL,
		Width:      tree.Width,
		Height:     tree.Height,
		ViewBox:    tree.ViewBox,
		Images:     inspectImages(tree),
		Unresolved: nonNil(tree.Unresolved),
	})
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, givenURL string, err error) {
	span := trace.SpanFromContext(r.Context())

	// Special case when client closed connection, no need to respond
	if errors.Is(err, context.Canceled) {
		span.SetAttributes(attribute.String("error", "client closed connection"))
		hlog.FromRequest(r).Error().Err(err).Str("url", givenURL).Msg("client closed connection")
		w.WriteHeader(statusClientClosedRequest)
		return
	}

	// Record the real error
	span.SetAttributes(attribute.String("error", err.Error()))
	hlog.FromRequest(r).Error().Err(err).Str("url", givenURL).Msg("error resolving url")

	code, publicErr := mapError(err)
	resp := ErrorResponse{Error: publicErr.Error()}
	var statusErr *hrefresolver.StatusError
	if errors.As(err, &statusErr) {
		resp.UpstreamStatus = statusErr.StatusCode
	}
	sendError(w, code, resp)
}

func allowMethod(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", "GET, HEAD")
	sendError(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "Method not allowed"})
	return false
}

func urlArg(w http.ResponseWriter, r *http.Request) (string, bool) {
	span := trace.SpanFromContext(r.Context())
	givenURL := r.URL.Query().Get("url")
	if givenURL == "" {
		span.SetAttributes(attribute.String("error", "missing_arg_url"))
		sendError(w, http.StatusBadRequest, ErrorResponse{Error: "Missing arg url"})
		return "", false
	}
	if !isValidInput(givenURL) {
		span.SetAttributes(attribute.String("error", "invalid_url"))
		sendError(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid url"})
		return "", false
	}
	span.SetAttributes(attribute.String("hrefresolver.url", givenURL))
	return givenURL, true
}

func isValidInput(givenURL string) bool {
	// Separate conditionals instead of one-liner let us use code coverage to
	// make sure we're covering the cases we care about.
	parsed, err := url.Parse(givenURL)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	if parsed.Hostname() == "" {
		return false
	}
	return true
}

func inspectImages(tree *svg.Tree) []InspectImage {
	images := make([]InspectImage, 0, len(tree.Images))
	for _, img := range tree.Images {
		item := InspectImage{
			Href: img.Href,
			Kind: img.Kind.String(),
			Size: len(img.Data),
		}
		if img.Tree != nil {
			item.Children = inspectImages(img.Tree)
		}
		images = append(images, item)
	}
	return images
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func sendJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", cacheControlValue(code))
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func sendError(w http.ResponseWriter, code int, resp ErrorResponse) {
	sendJSON(w, code, resp)
}

func cacheControlValue(code int) string {
	maxAge := maxAgeErr
	if code == http.StatusOK {
		maxAge = maxAgeOK
	}
	return fmt.Sprintf("public,max-age=%.0f", maxAge.Seconds())
}

func mapError(err error) (int, error) {
	switch {
	case hrefresolver.IsTimeout(err):
		return http.StatusGatewayTimeout, ErrRequestTimeout
	case errors.Is(err, safedialer.ErrUnsafe):
		return http.StatusForbidden, ErrUnsafeURL
	case errors.Is(err, hrefresolver.ErrBodyTooLarge):
		return http.StatusBadGateway, ErrResourceTooLarge
	default:
		return http.StatusBadGateway, ErrResolveError
	}
}
