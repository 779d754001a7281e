package server

import (
	"context"
	"errors"
	"net"
	"net/http"

	"go-upload-notifier/internal/infrastructure/config"
)

// Server is a long-running listener with graceful shutdown.
type Server interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type HTTPServer struct {
	srv *http.Server
}

var _ Server = (*HTTPServer)(nil)

func NewHTTPServer(handler http.Handler, cfg config.ServerConfig) *HTTPServer {
	return &HTTPServer{
		srv: &http.Server{
			Addr:         cfg.Addr,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}
}

// Start serves until Stop is called. Request contexts derive from ctx.
func (h *HTTPServer) Start(ctx context.Context) error {
	h.srv.BaseContext = func(net.Listener) context.Context { return ctx }

	err := h.srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (h *HTTPServer) Stop(ctx context.Context) error {
	return h.srv.Shutdown(ctx)
}
