package authn

import (
	"encoding/json"
	"net/http"
	"regexp"
)

var oauthPathPattern = regexp.MustCompile(`(?i)^/v[0-9]*/?oauth/(token|refresh|revoke|userinfo|introspect)$`)

var oauthBodyFields = []string{
	"grant_type", "refresh_token", "client_id", "client_secret", "code", "redirect_uri", "scope",
}

var oauthHeaderNames = []string{"x-oauth-scopes", "x-oauth-client-id", "authorization"}

const oauthPassthroughThreshold = 0.3

// OAuthDetection is the result of the OAuth Request Detector (spec.md §4.4).
type OAuthDetection struct {
	Confidence  float64
	RequestType string // "token_exchange" | "token_refresh" | "user_info"
}

// IsPassthrough reports whether this detection crosses the OAuth
// passthrough threshold.
func (d OAuthDetection) IsPassthrough() bool {
	return d.Confidence >= oauthPassthroughThreshold
}

// DetectOAuth classifies an inbound request using the URL, a decoded JSON
// body (may be nil), and the request headers.
func DetectOAuth(r *http.Request, body map[string]any) OAuthDetection {
	var confidence float64
	var reqType string

	if m := oauthPathPattern.FindStringSubmatch(r.URL.Path); m != nil {
		confidence += 0.6
		switch m[1] {
		case "token", "revoke":
			reqType = "token_exchange"
		case "refresh":
			reqType = "token_refresh"
		case "userinfo", "introspect":
			reqType = "user_info"
		}
	}

	if body != nil {
		present := 0
		for _, f := range oauthBodyFields {
			if _, ok := body[f]; ok {
				present++
			}
		}
		if present >= 2 {
			confidence += 0.3
			if gt, _ := body["grant_type"].(string); gt == "authorization_code" || gt == "client_credentials" {
				reqType = "token_exchange"
			} else if _, ok := body["refresh_token"]; ok {
				reqType = "token_refresh"
			}
		}
	}

	for _, h := range oauthHeaderNames {
		if r.Header.Get(h) != "" {
			confidence += 0.1
			break
		}
	}

	return OAuthDetection{Confidence: confidence, RequestType: reqType}
}

// DecodeJSONBody best-effort decodes body as a JSON object; returns nil on
// any failure (empty body, non-object, malformed JSON), matching the
// detector's tolerance for opaque/binary payloads.
func DecodeJSONBody(body []byte) map[string]any {
	if len(body) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return nil
	}
	return m
}
