package authn

import (
	"net/http/httptest"
	"testing"
)

func TestSameOriginAsServerNoOriginHeader(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	if !SameOriginAsServer(r, "8080") {
		t.Fatal("expected no Origin header to be allowed")
	}
}

func TestSameOriginAsServerAllowedLocalhost(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Origin", "http://localhost:8080")
	if !SameOriginAsServer(r, "8080") {
		t.Fatal("expected localhost origin to be allowed")
	}
}

func TestSameOriginAsServerAllowedLoopback(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Origin", "http://127.0.0.1:8080")
	if !SameOriginAsServer(r, "8080") {
		t.Fatal("expected loopback origin to be allowed")
	}
}

func TestSameOriginAsServerRejectsOther(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Origin", "http://evil.example.com")
	if SameOriginAsServer(r, "8080") {
		t.Fatal("expected other origin to be rejected")
	}
}
