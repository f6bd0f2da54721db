package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/ccr/internal/cache"
	"github.com/rakunlabs/ccr/internal/config"
	"github.com/rakunlabs/ccr/internal/oauthclient"
	"github.com/rakunlabs/ccr/internal/oauthtoken"
	"github.com/rakunlabs/ccr/internal/subagent"
)

type staticConfig struct{ cur *config.Config }

func (s staticConfig) Current() *config.Config { return s.cur }

type noopRegistry struct{}

func (noopRegistry) OwnsTool(agents []string, toolName string) (string, bool) { return "", false }
func (noopRegistry) Call(ctx context.Context, agentName, toolName string, args map[string]any, callCtx subagent.CallContext) (string, error) {
	return "", nil
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	dir := t.TempDir()

	srv, err := New(
		staticConfig{cur: cfg},
		oauthtoken.New(dir),
		oauthclient.New(dir),
		cache.NewSessionUsageCache(),
		noopRegistry{},
		"http://127.0.0.1:0",
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

func testConfig(apiKey string, upstream string) *config.Config {
	return &config.Config{
		Server:                config.Server{Host: "127.0.0.1", Port: "0", App: "ccr-test"},
		APIKey:                apiKey,
		Router:                map[string]string{"default": "test,model-a"},
		LongContextThreshold:  60000,
		Providers: []config.Provider{
			{Name: "test", Models: []string{"model-a"}, BaseURL: upstream},
		},
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig("", ""))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("got %+v", body)
	}
}

func TestCountTokensRejectsMissingAPIKey(t *testing.T) {
	s := newTestServer(t, testConfig("secret", ""))

	req := httptest.NewRequest(http.MethodPost, "/v1/messages/count_tokens", strings.NewReader(`{"model":"claude-x","messages":[]}`))
	rec := httptest.NewRecorder()
	s.CountTokens(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "x-api-key is missing") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestCountTokensSucceedsWithAPIKey(t *testing.T) {
	s := newTestServer(t, testConfig("secret", ""))

	req := httptest.NewRequest(http.MethodPost, "/v1/messages/count_tokens", strings.NewReader(`{"model":"claude-x","messages":[{"role":"user","content":"hello there"}]}`))
	req.Header.Set("x-api-key", "secret")
	rec := httptest.NewRecorder()
	s.CountTokens(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["input_tokens"] <= 0 {
		t.Fatalf("expected positive token count, got %+v", body)
	}
}

func TestMessagesForwardsToResolvedProvider(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "secret" {
			t.Errorf("expected upstream x-api-key to be the configured key, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","type":"message"}`))
	}))
	defer upstream.Close()

	s := newTestServer(t, testConfig("secret", upstream.URL))

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model":"claude-x","messages":[{"role":"user","content":"hi"}]}`))
	req.Header.Set("x-api-key", "secret")
	rec := httptest.NewRecorder()
	s.Messages(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, "body = %s", rec.Body.String())
	require.Contains(t, rec.Body.String(), "msg_1")
}

func TestOAuthPassthroughWithRouterMarkerStillRoutes(t *testing.T) {
	var receivedBody []byte
	oauthUpstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok"}`))
	}))
	defer oauthUpstream.Close()

	cfg := testConfig("", "")
	cfg.Router = map[string]string{
		"default":  "test,model-a",
		"frontend": "test,model-b",
	}

	s := newTestServer(t, cfg)
	s.oauthUpstreamHost = oauthUpstream.URL

	reqBody := `{"grant_type":"authorization_code","code":"c","system":[{"type":"text","text":"x"},{"type":"text","text":"<CCR-SUBAGENT-ROUTER>frontend</CCR-SUBAGENT-ROUTER>"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/oauth/token", strings.NewReader(reqBody))
	rec := httptest.NewRecorder()
	s.OAuthPassthrough(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, "body = %s", rec.Body.String())
	require.Contains(t, string(receivedBody), `"model":"test,model-b"`, "expected the router marker to rewrite body.model before forwarding, got %s", receivedBody)
	require.NotContains(t, string(receivedBody), "CCR-SUBAGENT-ROUTER", "expected the marker to be stripped before forwarding")
}

