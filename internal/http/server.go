package http

import (
	"context"
	"net/http"
	"time"
)

// ErrServerClosed re-exporta el sentinel de net/http para los callers.
var ErrServerClosed = http.ErrServerClosed

// NewServer arma el http.Server con timeouts acotados.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second, // el proxy espera al proveedor
		IdleTimeout:  120 * time.Second,
	}
}

// Shutdown con gracia acotada.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
