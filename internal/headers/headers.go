// Package headers builds the outbound header set for upstream calls
// (spec.md §4.7): exactly one of Authorization: Bearer or x-api-key, plus
// the Claude Code impersonation header set when forwarding to Anthropic's
// native API with an OAuth credential.
package headers

import (
	"net/http"
	"runtime"

	"github.com/rakunlabs/ccr/internal/reqstate"
)

const (
	anthropicVersion = "2023-06-01"
	anthropicBeta    = "oauth-2025-04-20,interleaved-thinking-2025-05-14,context-management-2025-06-27,prompt-caching-scope-2026-01-05"
	userAgent        = "claude-cli/2.1.38 (external, cli)"
	stainlessPkgVer  = "0.73.0"
	stainlessNodeVer = "v24.3.0"
)

// Build sets the outbound headers on req for a request carrying authToken
// of the given authType. nativeAnthropic selects whether the Stainless/
// Claude-Code impersonation headers are added for a Bearer credential
// (only meaningful when forwarding to Anthropic's own API, not an
// OpenAI-compatible provider).
func Build(req *http.Request, authType reqstate.AuthType, authToken string, nativeAnthropic bool) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Anthropic-Version", anthropicVersion)

	switch authType {
	case reqstate.AuthClientOAuth, reqstate.AuthCCROAuth:
		req.Header.Set("Authorization", "Bearer "+authToken)
		if nativeAnthropic {
			setImpersonationHeaders(req)
		}
	case reqstate.AuthAPIKey:
		req.Header.Set("x-api-key", authToken)
	}
}

// setImpersonationHeaders adds the header set Claude Code's own CLI sends,
// required by Anthropic's OAuth-backed /v1/messages endpoint.
func setImpersonationHeaders(req *http.Request) {
	req.Header.Set("Anthropic-Beta", anthropicBeta)
	req.Header.Set("Anthropic-Dangerous-Direct-Browser-Access", "true")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-App", "cli")
	req.Header.Set("X-Stainless-Lang", "js")
	req.Header.Set("X-Stainless-Os", stainlessOS())
	req.Header.Set("X-Stainless-Arch", stainlessArch())
	req.Header.Set("X-Stainless-Package-Version", stainlessPkgVer)
	req.Header.Set("X-Stainless-Retry-Count", "0")
	req.Header.Set("X-Stainless-Runtime", "node")
	req.Header.Set("X-Stainless-Runtime-Version", stainlessNodeVer)
	req.Header.Set("X-Stainless-Timeout", "600")
}

func stainlessOS() string {
	switch runtime.GOOS {
	case "darwin":
		return "MacOS"
	case "windows":
		return "Windows"
	default:
		return "Linux"
	}
}

func stainlessArch() string {
	if runtime.GOARCH == "arm64" {
		return "arm64"
	}
	return "x64"
}

// ForSubagentFollowup adds the headers the loopback call to /v1/messages
// needs beyond Build: content-type plus the parent request's auth,
// already applied by Build (spec.md §4.7 "inherit the parent request's
// auth").
func ForSubagentFollowup(req *http.Request, authType reqstate.AuthType, authToken string, nativeAnthropic bool) {
	Build(req, authType, authToken, nativeAnthropic)
}
