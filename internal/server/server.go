package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rebelopsio/pam-core/internal/config"
	"github.com/rebelopsio/pam-core/internal/handlers"
)

type Server struct {
	config     *config.Config
	handler    http.Handler
	components *handlers.Components
}

func New(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	handler, components, err := handlers.NewRouter(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	return &Server{
		config:     cfg,
		handler:    handler,
		components: components,
	}, nil
}

func (s *Server) Run(ctx context.Context) error {
	s.components.Run(ctx)

	srv := &http.Server{
		Addr:         ":" + s.config.Server.Port,
		Handler:      s.handler,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.components.Emitter.Close()
		return srv.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}
