// Package proxy forwards API requests to the service owning their path.
package proxy

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/httpx"
)

type Routes interface {
	Upstream(path string) (string, bool)
	Upstreams() []string
}

type Router struct {
	routes  Routes
	proxies map[string]*httputil.ReverseProxy
}

// New builds one reverse proxy per upstream. Every upstream named by routes
// needs a target.
func New(routes Routes, targets map[string]string, transport http.RoundTripper, logger *slog.Logger) (*Router, error) {
	rt := &Router{routes: routes, proxies: map[string]*httputil.ReverseProxy{}}
	for _, name := range routes.Upstreams() {
		raw := targets[name]
		if raw == "" {
			return nil, fmt.Errorf("no target configured for upstream %s", name)
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("upstream %s: invalid url %q", name, raw)
		}
		p := httputil.NewSingleHostReverseProxy(u)
		if transport != nil {
			p.Transport = transport
		}
		// Server-sent events must reach the client as they are written.
		p.FlushInterval = -1
		p.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("upstream unavailable", "upstream", name, "path", r.URL.Path, "err", err)
			httpx.WriteError(w, r, apperr.Unavailable("%s is unavailable", name))
		}
		rt.proxies[name] = p
	}
	return rt, nil
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name, ok := rt.routes.Upstream(r.URL.Path)
	if !ok {
		httpx.WriteError(w, r, apperr.NotFound("no route for %s", r.URL.Path))
		return
	}
	rt.proxies[name].ServeHTTP(w, r)
}
