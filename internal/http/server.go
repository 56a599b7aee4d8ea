package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type Server struct {
	Engine *gin.Engine
	srv    *http.Server
}

func NewServer(cfg RouterConfig) *Server {
	return &Server{Engine: NewRouter(cfg)}
}

// Run serves on address until ctx is canceled, then drains for up to 10s.
func (s *Server) Run(ctx context.Context, address string) error {
	s.srv = &http.Server{
		Addr:              address,
		Handler:           s.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
