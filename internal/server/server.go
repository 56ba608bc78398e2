// Package server exposes the converter over HTTP.
//
// Routes:
//
//	POST /api/convert            JSON body, responds with the artifact bytes
//	POST /api/convert/url        JSON body, responds with a link under /output/
//	POST /api/convert/file       multipart upload, responds with the artifact bytes
//	POST /api/convert/file/url   multipart upload, responds with a link
//	POST /convert-html           raw HTML body, responds with the relative path
//	POST /convert-svg            raw SVG body, responds with the relative path
//	GET  /output/*               produced artifacts
//	GET  /healthz, /metrics
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	markup2pdf "github.com/alnah/go-markup2pdf"
	"github.com/alnah/go-markup2pdf/internal/config"
)

// Converter is the subset of *markup2pdf.Converter used by the server.
type Converter interface {
	Convert(ctx context.Context, req markup2pdf.Request, outputPath string) (*markup2pdf.Result, error)
	InFlight() int
	MaxConcurrency() int
}

// Compile-time check that the library converter satisfies the interface.
var _ Converter = (*markup2pdf.Converter)(nil)

// Server serves conversion requests.
type Server struct {
	cfg      *config.Config
	conv     Converter
	logger   *zap.Logger
	metrics  *metrics
	validate *validator.Validate
	limiter  *clientLimiter
	gates    *gates
	proxies  prefixSet
	router   chi.Router
}

// New creates the output and upload directories and builds the router.
func New(cfg *config.Config, conv Converter, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server: nil config")
	}
	if conv == nil {
		return nil, errors.New("server: nil converter")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	for _, dir := range []string{cfg.Server.OutputDir, cfg.Server.UploadDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("server: creating %s: %w", dir, err)
		}
	}

	g, err := newGates(cfg)
	if err != nil {
		return nil, err
	}
	proxies, err := newPrefixSet(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("server: trusted proxies: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		conv:     conv,
		logger:   logger,
		metrics:  newMetrics(conv),
		validate: newValidator(),
		gates:    g,
		proxies:  proxies,
	}
	if cfg.RateLimit.Enabled {
		s.limiter = newClientLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on the configured address until ctx is canceled, then shuts
// down gracefully within the configured budget.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
		ErrorLog:          zap.NewStdLog(s.logger.Named("http")),
	}

	if s.limiter != nil {
		go s.limiter.sweepEvery(ctx, limiterSweepInterval, limiterIdleTTL)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening",
			zap.String("addr", ln.Addr().String()),
			zap.String("mode", s.cfg.Server.Mode),
			zap.Int("max_concurrency", s.conv.MaxConcurrency()),
		)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("server shutting down", zap.Duration("timeout", s.cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

const (
	limiterSweepInterval = time.Minute
	limiterIdleTTL       = 15 * time.Minute
)
