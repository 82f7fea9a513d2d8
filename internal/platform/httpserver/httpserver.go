// Package httpserver owns the http.Server construction so timeouts are
// set in one place rather than at every call site.
package httpserver

import (
	"net/http"
	"time"
)

// New returns a server with hardened timeouts. The handler timeout is
// applied separately by the router middleware.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
