package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/mccutchen/hrefresolver/httphandler"
	"github.com/mccutchen/hrefresolver/svg"
)

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the resolver over HTTP",
		Long: `Serve runs an HTTP server exposing GET /resolve?url=URL, which proxies
the resource behind an image href, and GET /inspect?url=URL, which
reports how the image hrefs of a remote SVG document resolve.

Only remote hrefs are resolved; the server never reads local files.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			srv := &http.Server{
				Addr:              net.JoinHostPort("", strconv.Itoa(a.cfg.Server.Port)),
				Handler:           a.serveHandler(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			return listenAndServeGracefully(cmd.Context(), srv, a.cfg.Server.ShutdownTimeout, a.logger)
		},
	}
}

func (a *app) serveHandler() http.Handler {
	newOptions := func() *svg.Options {
		return a.svgOptions(a.resolver)
	}
	return applyMiddleware(httphandler.New(a.resolver, newOptions), a.logger, a.tp)
}

// listenAndServeGracefully serves until ctx is done, then gives in-flight
// requests up to shutdownTimeout to finish.
func listenAndServeGracefully(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration, logger zerolog.Logger) error {
	// exitCh will be closed when it is safe to exit, after the server has had
	// a chance to shut down gracefully
	exitCh := make(chan struct{})

	go func() {
		defer close(exitCh)
		<-ctx.Done()

		// start graceful shutdown
		logger.Info().Msg("shutdown started")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown error")
		}
	}()

	// start server
	logger.Info().Msgf("listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("listen error")
		return err
	}

	// wait until it is safe to exit
	<-exitCh
	return nil
}

func applyMiddleware(h http.Handler, l zerolog.Logger, tp trace.TracerProvider) http.Handler {
	h = hlog.AccessHandler(accessLogger)(h)
	h = hlog.NewHandler(l)(h)
	h = otelhttp.NewHandler(h, appName, otelhttp.WithTracerProvider(tp))
	return h
}

func accessLogger(r *http.Request, status int, size int, duration time.Duration) {
	remoteAddr := r.Header.Get("Fly-Client-IP")
	if remoteAddr == "" {
		remoteAddr = r.RemoteAddr
	}

	hlog.FromRequest(r).Info().
		Str("method", r.Method).
		Str("remote_addr", remoteAddr).
		Stringer("url", r.URL).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Send()
}
