package server

import (
	"context"
	"net/http"
	"time"

	"github.com/eddyhq/eddy-backend/internal/platform/logger"
)

type Server struct {
	http *http.Server
	log  *logger.Logger
}

func New(cfg RouterConfig, addr string) *Server {
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(cfg),
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: cfg.Log,
	}
}

func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
