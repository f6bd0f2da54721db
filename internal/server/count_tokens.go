package server

import (
	"io"
	"net/http"

	"github.com/rakunlabs/ccr/internal/anthropic"
	"github.com/rakunlabs/ccr/internal/authn"
	"github.com/rakunlabs/ccr/internal/tokencount"
)

// CountTokens implements POST /v1/messages/count_tokens (spec.md §6, §4.9):
// runs the same authentication pipeline as /v1/messages but skips routing,
// returning the Token Counter's total over the as-received body.
func (s *Server) CountTokens(w http.ResponseWriter, r *http.Request) {
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

	if body == nil {
		httpResponseText(w, "invalid request body", http.StatusBadRequest)
		return
	}

	count, err := tokencount.CountRequest(body)
	if err != nil {
		httpResponseText(w, "failed to count tokens", http.StatusInternalServerError)
		return
	}

	httpResponseJSON(w, map[string]any{"input_tokens": count}, http.StatusOK)
}
