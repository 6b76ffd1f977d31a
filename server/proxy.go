package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/konnektr-io/twx-cli/pkg/logging"
)

// hostHeader names the twin-store host a proxied request targets. The
// frontend cannot reach arbitrary twin stores directly because of CORS,
// so it routes through this proxy and names the host per request.
const hostHeader = "x-adt-host"

// hopHeaders are stripped before forwarding: they describe the hop to the
// proxy, not the upstream request.
var hopHeaders = []string{"Host", "Origin", "Referer", hostHeader, "Content-Length"}

// handleProxy forwards /api/proxy/* to https://{x-adt-host}/{rest}.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	host := r.Header.Get(hostHeader)
	if host == "" {
		http.Error(w, "missing "+hostHeader+" header", http.StatusBadRequest)
		return
	}
	host = strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://")

	rest := strings.TrimPrefix(r.URL.Path, "/api/proxy")
	target := "https://" + host + rest
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	cacheKey := ""
	if s.cache != nil && r.Method == http.MethodGet {
		cacheKey = target
		if body, ok := s.cache.Get(r.Context(), cacheKey); ok {
			s.metrics.CacheTotal.WithLabelValues("hit").Inc()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(body)
			return
		}
		s.metrics.CacheTotal.WithLabelValues("miss").Inc()
	}

	upstream, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		http.Error(w, "invalid proxy target", http.StatusBadRequest)
		return
	}
	copyForwardHeaders(upstream.Header, r.Header)

	resp, err := s.client.Do(upstream)
	if err != nil {
		s.metrics.UpstreamErrors.WithLabelValues("proxy").Inc()
		s.log.Warn("upstream request failed",
			logging.F("host", host), logging.Err(err))
		http.Error(w, "upstream request failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	s.relayResponse(w, resp, cacheKey)
}

// handleControlPlane forwards /api/ktrlplane/* to the configured control
// plane, passing the caller's Authorization header through.
func (s *Server) handleControlPlane(w http.ResponseWriter, r *http.Request) {
	if s.cfg.ControlPlaneURL == "" {
		http.Error(w, "control plane not configured", http.StatusNotFound)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/ktrlplane")
	target := strings.TrimRight(s.cfg.ControlPlaneURL, "/") + rest
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	upstream, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		http.Error(w, "invalid control-plane target", http.StatusBadRequest)
		return
	}
	copyForwardHeaders(upstream.Header, r.Header)

	resp, err := s.client.Do(upstream)
	if err != nil {
		s.metrics.UpstreamErrors.WithLabelValues("ktrlplane").Inc()
		s.log.Warn("control-plane request failed", logging.Err(err))
		http.Error(w, "control plane unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	s.relayResponse(w, resp, "")
}

// relayResponse streams the upstream response to the client, dropping
// Content-Length so chunked streaming stays correct, and fills the cache
// for successful cacheable responses.
func (s *Server) relayResponse(w http.ResponseWriter, resp *http.Response, cacheKey string) {
	for key, values := range resp.Header {
		if http.CanonicalHeaderKey(key) == "Content-Length" {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	if cacheKey != "" && resp.StatusCode == http.StatusOK {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return
		}
		w.Write(body)
		s.cache.Set(resp.Request.Context(), cacheKey, body, s.cfg.CacheTTL)
		return
	}

	io.Copy(w, resp.Body)
}

// copyForwardHeaders copies request headers minus the hop-specific ones.
func copyForwardHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopHeader(key) {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func isHopHeader(key string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(key, h) {
			return true
		}
	}
	return false
}
