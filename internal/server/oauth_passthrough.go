package server

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rakunlabs/ccr/internal/anthropic"
	"github.com/rakunlabs/ccr/internal/authn"
	"github.com/rakunlabs/ccr/internal/reqstate"
)

// defaultOAuthUpstreamHost is the fixed authorization server spec.md §6
// names for the PKCE flow; passthrough OAuth calls go to the same host
// unless Server.oauthUpstreamHost is overridden (tests point it at a
// local httptest server).
const defaultOAuthUpstreamHost = "https://console.anthropic.com"

// OAuthPassthrough implements the six forwarded OAuth endpoints (spec.md
// §6): the request skips the authentication pipeline and is relayed to the
// authorization server by forwardOAuthPassthrough, unchanged unless it
// carries a subagent marker.
func (s *Server) OAuthPassthrough(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		httpResponseText(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	s.forwardOAuthPassthrough(w, r, rawBody)
}

// forwardOAuthPassthrough relays an OAuth-classified request to the
// authorization server. Still "routed normally" first (spec.md §4.4): if
// the body carries a subagent router marker, the resolver rewrites
// body.model and strips the marker before the (now modified) body is
// forwarded; a request with no marker is forwarded unchanged.
func (s *Server) forwardOAuthPassthrough(w http.ResponseWriter, r *http.Request, rawBody []byte) {
	outBody := rawBody
	if body, err := anthropic.Parse(rawBody); err == nil {
		if markers := authn.ExtractSubagentMarkers(body); markers != nil {
			state := reqstate.New()
			state.SubagentMarkers = markers
			s.resolverFor(s.cfg.Current()).Resolve(body, state)
			if rewritten, err := body.Rewrite(); err == nil {
				outBody = rewritten
			}
		}
	}

	upstreamURL := s.oauthUpstreamHost + strings.TrimPrefix(r.URL.Path, "/v1")

	upstreamReq, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL, bytes.NewReader(outBody))
	if err != nil {
		httpResponseText(w, "failed to build upstream request", http.StatusInternalServerError)
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		upstreamReq.Header.Set("Content-Type", ct)
	} else {
		upstreamReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.upstreamClient.Do(upstreamReq)
	if err != nil {
		slog.Error("oauth passthrough: upstream call failed", "path", r.URL.Path, "error", err)
		httpResponseText(w, "upstream request failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vals := range resp.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}
