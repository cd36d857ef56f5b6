package gateway

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
)

// Gateway is a reverse proxy that enforces AgentID signatures before
// forwarding requests to the target service.
type Gateway struct {
	target  *url.URL
	handler http.Handler
}

// NewGateway creates a reverse proxy to targetURL guarded by the given
// middleware options.
func NewGateway(targetURL string, opts Options) (*Gateway, error) {
	target, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid target URL: %w", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.Header.Set("X-Forwarded-Host", req.Host)
		req.Host = target.Host
	}

	return &Gateway{
		target:  target,
		handler: Middleware(opts, proxy),
	}, nil
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.handler.ServeHTTP(w, r)
}
