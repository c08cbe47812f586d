package ragsvc

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/internal/rag/handler"
	"github.com/kart-io/sentinel-rag/internal/rag/router"
)

// Server represents the RAG server.
type Server struct {
	runtime    *Runtime
	httpServer *http.Server
}

// NewServer initializes and returns a new Server instance.
func (cfg *Config) NewServer(ctx context.Context) (*Server, error) {
	rt, err := cfg.NewRuntime(ctx)
	if err != nil {
		return nil, err
	}

	gin.SetMode(cfg.HTTPOptions.Mode)
	ragHandler := handler.NewRAGHandler(rt.Service, rt.Ready)
	engine := router.New(ragHandler, router.Options{
		ServiceName:    Name,
		MaxBodyBytes:   cfg.HTTPOptions.MaxBodyBytes,
		RequestTimeout: cfg.HTTPOptions.RequestTimeout,
		Metrics:        rt.Metrics.Handler(),
	})

	h := cfg.HTTPOptions
	return &Server{
		runtime: rt,
		httpServer: &http.Server{
			Addr:         h.Addr,
			Handler:      engine,
			ReadTimeout:  h.ReadTimeout,
			WriteTimeout: h.WriteTimeout,
			IdleTimeout:  h.IdleTimeout,
		},
	}, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// listener fails, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Infow("HTTP server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down RAG service...")
	case err, ok := <-errCh:
		if ok {
			serveErr = fmt.Errorf("http server: %w", err)
		}
	}

	return errors.Join(serveErr, s.shutdown())
}

func (s *Server) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.runtime.Config.HTTPOptions.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.runtime.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		logger.Info("RAG service stopped")
	}
	return errors.Join(errs...)
}
