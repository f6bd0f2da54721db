package headers

import (
	"net/http"
	"testing"

	"github.com/rakunlabs/ccr/internal/reqstate"
)

func TestBuildBearerForClientOAuth(t *testing.T) {
	req, _ := http.NewRequest("POST", "http://example.com", nil)
	Build(req, reqstate.AuthClientOAuth, "tok-123", true)

	if got := req.Header.Get("Authorization"); got != "Bearer tok-123" {
		t.Fatalf("got %q", got)
	}
	if req.Header.Get("x-api-key") != "" {
		t.Fatal("expected no x-api-key header")
	}
	if req.Header.Get("Anthropic-Beta") == "" {
		t.Fatal("expected impersonation headers for native anthropic")
	}
}

func TestBuildAPIKeyOnly(t *testing.T) {
	req, _ := http.NewRequest("POST", "http://example.com", nil)
	Build(req, reqstate.AuthAPIKey, "pk-123", true)

	if got := req.Header.Get("x-api-key"); got != "pk-123" {
		t.Fatalf("got %q", got)
	}
	if req.Header.Get("Authorization") != "" {
		t.Fatal("expected no Authorization header")
	}
	if req.Header.Get("Anthropic-Beta") != "" {
		t.Fatal("expected no impersonation headers for x-api-key auth")
	}
}

func TestBuildNoImpersonationForNonNative(t *testing.T) {
	req, _ := http.NewRequest("POST", "http://example.com", nil)
	Build(req, reqstate.AuthCCROAuth, "tok", false)

	if req.Header.Get("Anthropic-Beta") != "" {
		t.Fatal("expected no impersonation headers when nativeAnthropic=false")
	}
}
