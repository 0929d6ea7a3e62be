package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"
)

type Server struct {
	srv *http.Server
	log *slog.Logger
}

// New creates the control API server listening on addr. Requests inherit
// baseCtx, so canceling it aborts in-flight handlers.
func New(baseCtx context.Context, addr string, deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	return &Server{
		srv: &http.Server{
			Addr:    addr,
			Handler: newMux(deps),
			BaseContext: func(_ net.Listener) context.Context {
				return baseCtx
			},
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		log: deps.Log,
	}
}

// Start blocks until the server stops. It returns nil after Shutdown.
func (s *Server) Start() error {
	s.log.Info("control api listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("control api shutting down")
	return s.srv.Shutdown(ctx)
}
