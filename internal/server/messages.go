package server

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rakunlabs/ccr/internal/anthropic"
	"github.com/rakunlabs/ccr/internal/authn"
	"github.com/rakunlabs/ccr/internal/headers"
	"github.com/rakunlabs/ccr/internal/reqstate"
	"github.com/rakunlabs/ccr/internal/subagent"
)

// Messages implements POST /v1/messages (spec.md §6): the routed path. It
// runs the authentication pipeline, resolves the upstream target, forwards
// the (possibly rewritten) request, and runs the Subagent Tool Loop over
// the response stream before relaying it to the client.
func (s *Server) Messages(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Current()

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		httpResponseText(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	body, parseErr := anthropic.Parse(rawBody)
	if parseErr != nil {
		body = nil
	}

	result := s.authPipeline.Run(r.Context(), r, rawBody, body, cfg)

	switch result.Outcome {
	case authn.OutcomeReject:
		httpResponseText(w, result.Message, result.StatusCode)
		return
	case authn.OutcomePassthrough:
		s.forwardOAuthPassthrough(w, r, rawBody)
		return
	}

	state := result.State
	resolver := s.resolverFor(cfg)
	resolver.Resolve(body, state)

	provider, ok := cfg.ProviderByName(state.ResolvedProvider)
	if !ok {
		httpResponseText(w, fmt.Sprintf("unknown provider %q", state.ResolvedProvider), http.StatusBadGateway)
		return
	}

	authType, authToken := s.resolveOutboundAuth(state)

	upstreamBody, err := body.Rewrite()
	if err != nil {
		httpResponseText(w, "failed to rewrite request body", http.StatusInternalServerError)
		return
	}

	nativeAnthropic := provider.Transformer == "" || provider.Transformer == "anthropic-native"

	upstreamReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, endpointURL(provider.BaseURL), strings.NewReader(string(upstreamBody)))
	if err != nil {
		httpResponseText(w, "failed to build upstream request", http.StatusInternalServerError)
		return
	}
	headers.Build(upstreamReq, authType, authToken, nativeAnthropic)

	resp, err := s.upstreamClient.Do(upstreamReq)
	if err != nil {
		slog.Error("messages: upstream call failed", "provider", state.ResolvedProvider, "error", err)
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

	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	if resp.StatusCode >= 300 || !isSSE(resp) {
		io.Copy(w, resp.Body)
		return
	}

	loop := &subagent.Loop{
		Registry:        s.registry,
		LoopbackURL:     s.loopbackAddr + "/v1/messages",
		HTTPClient:      s.upstreamClient,
		UsageCache:      s.usageCache,
		AuthType:        authType,
		AuthToken:       authToken,
		NativeAnthropic: nativeAnthropic,
		LoopbackSecret:  s.loopbackSecret,
		FollowupTimeout: cfg.SubagentFollowupTimeoutDuration(),
	}
	if err := loop.Run(r.Context(), resp.Body, body, state, w, flush); err != nil {
		slog.Debug("messages: subagent loop ended", "error", err)
	}
}

// resolveOutboundAuth implements the "none" branch of the Outbound Header
// Builder (spec.md §4.7): ClaudeMem/subagent-marker overrides clear
// auth_type to AuthNone upstream in the pipeline, and this is where that
// gets a concrete credential — shared OAuth token first, then the
// Route Resolver's selected provider key, else no credential at all.
func (s *Server) resolveOutboundAuth(state *reqstate.State) (reqstate.AuthType, string) {
	if state.AuthType != reqstate.AuthNone {
		return state.AuthType, state.AuthToken
	}
	if s.authPipeline.SharedTokenStore != nil {
		if tok, ok := s.authPipeline.SharedTokenStore.Get(); ok {
			return reqstate.AuthCCROAuth, tok.Token.AccessToken
		}
	}
	if state.SelectedAPIKey != "" {
		return reqstate.AuthAPIKey, state.SelectedAPIKey
	}
	return reqstate.AuthNone, ""
}

func endpointURL(baseURL string) string {
	baseURL = strings.TrimSuffix(baseURL, "/")
	return baseURL + "/v1/messages"
}

func isSSE(resp *http.Response) bool {
	return strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream")
}
