// Package server exposes refptr metrics over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/fasthttp/router"
	"github.com/pavanmanishd/refptr"
	"github.com/rs/zerolog"
	"github.com/savsgio/gotils/strconv"
	"github.com/valyala/fasthttp"
)

const (
	contentTypeText       = "text/plain; charset=utf-8"
	contentTypePrometheus = "text/plain; version=0.0.4; charset=utf-8"
	shutdownTimeout       = 5 * time.Second
)

var okBody = strconv.S2B("ok\n")

// Server serves /metrics, /stats and /healthz over fasthttp.
type Server struct {
	addr   string
	srv    *fasthttp.Server
	logger zerolog.Logger
}

// New builds a server for addr. Nothing listens until ListenAndServe or Serve.
func New(addr string, logger zerolog.Logger) *Server {
	r := router.New()
	r.GET("/metrics", handleMetrics)
	r.GET("/stats", handleStats)
	r.GET("/healthz", handleHealthz)

	return &Server{
		addr:   addr,
		logger: logger,
		srv: &fasthttp.Server{
			Name:                  "refstress",
			Handler:               r.Handler,
			ReadTimeout:           5 * time.Second,
			WriteTimeout:          5 * time.Second,
			CloseOnShutdown:       true,
			NoDefaultServerHeader: true,
		},
	}
}

// Handler returns the routed request handler.
func (s *Server) Handler() fasthttp.RequestHandler {
	return s.srv.Handler
}

// ListenAndServe listens on the configured address and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp4", s.addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Msgf("[server] metrics listening on %s", ln.Addr())
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	s.logger.Info().Msg("[server] metrics server stopped")
	return nil
}

func handleMetrics(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType(contentTypePrometheus)
	metrics.WritePrometheus(ctx, true)
	refptr.WriteMetrics(ctx)
}

func handleStats(ctx *fasthttp.RequestCtx) {
	m := refptr.Metrics()
	d := refptr.Defaults()

	var b strings.Builder
	fmt.Fprintf(&b, "counting: %s\n", d.Counting)
	fmt.Fprintf(&b, "track_leaks: %t\n", d.TrackLeaks)
	fmt.Fprintf(&b, "blocks_created: %d\n", m.BlocksCreated)
	fmt.Fprintf(&b, "blocks_reclaimed: %d\n", m.BlocksReclaimed)
	fmt.Fprintf(&b, "objects_destroyed: %d\n", m.ObjectsDestroyed)
	fmt.Fprintf(&b, "lock_failures: %d\n", m.LockFailures)
	fmt.Fprintf(&b, "leaked_handles: %d\n", m.LeakedHandles)
	fmt.Fprintf(&b, "live_blocks: %d\n", m.LiveBlocks)
	fmt.Fprintf(&b, "live_objects: %d\n", m.LiveObjects)

	ctx.SetContentType(contentTypeText)
	ctx.SetBody(strconv.S2B(b.String()))
}

func handleHealthz(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType(contentTypeText)
	ctx.SetBody(okBody)
}
