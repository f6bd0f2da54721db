// Package oauthclient implements the PKCE authorization-code flow against a
// fixed authorization server (spec.md §4.2), persists credentials to a
// per-user file, and serves refreshed access tokens with an in-process
// singleflight plus an on-disk advisory lock for cross-process
// serialization.
package oauthclient

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rakunlabs/ccr/internal/filelock"
	"github.com/rakunlabs/ccr/internal/masklog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	// authorizeURL and tokenURL target the same fixed authorization server
	// used by Claude Code's own OAuth login, matching the original
	// claude-code-router this spec was distilled from.
	authorizeURL = "https://console.anthropic.com/oauth/authorize"
	tokenURL     = "https://console.anthropic.com/v1/oauth/token"

	// clientID is the public OAuth client-id used by Claude Code's CLI login.
	clientID    = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
	redirectURL = "https://console.anthropic.com/oauth/code/callback"
	scopes      = "org:create_api_key user:profile user:inference"

	refreshBuffer = 5 * time.Minute
	loginStateTTL = 10 * time.Minute

	lockAttempts = 5
	lockMinDelay = 50 * time.Millisecond
	lockMaxDelay = 500 * time.Millisecond
)

// Credentials is the on-disk shape of ~/.<app>/oauth.json (mode 0600).
type Credentials struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresAtMs  int64    `json:"expires_at_ms"`
	Scopes       []string `json:"scopes,omitempty"`
}

func (c Credentials) expired() bool {
	return time.Now().Add(refreshBuffer).UnixMilli() >= c.ExpiresAtMs
}

// loginState is the ephemeral ~/.<app>/oauth_state.json (mode 0600, TTL 10m).
type loginState struct {
	State        string `json:"state"`
	CodeVerifier string `json:"code_verifier"`
	CreatedAtMs  int64  `json:"created_at_ms"`
}

// Status is returned by GetStatus.
type Status struct {
	HasCredentials bool
	ExpiresAtMs    int64
	IsExpired      bool
}

// Client owns the credentials file, login-state file, and lock file under a
// per-user state directory, and serializes refreshes in-process and
// cross-process.
type Client struct {
	credsPath string
	statePath string
	lockPath  string

	authorizeURL string
	tokenURL     string

	httpClient *http.Client

	sf singleflight.Group
}

// New returns a Client rooted at dir (typically "~/.<app>").
func New(dir string) *Client {
	return &Client{
		credsPath:    filepath.Join(dir, "oauth.json"),
		statePath:    filepath.Join(dir, "oauth_state.json"),
		lockPath:     filepath.Join(dir, "oauth.lock"),
		authorizeURL: authorizeURL,
		tokenURL:     tokenURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// LoginURL is the result of GenerateLoginURL.
type LoginURL struct {
	URL          string
	State        string
	CodeVerifier string
}

// GenerateLoginURL builds the PKCE authorization URL, persists the login
// state (mode 0600), and returns it for the caller to present to the user.
func (c *Client) GenerateLoginURL() (LoginURL, error) {
	stateBytes := make([]byte, 32)
	if _, err := rand.Read(stateBytes); err != nil {
		return LoginURL{}, fmt.Errorf("generate state: %w", err)
	}
	state := hex.EncodeToString(stateBytes)

	// oauth2's PKCE helpers generate the code_verifier and derive its S256
	// challenge per RFC 7636, rather than a hand-rolled sha256+base64 pair.
	verifier := oauth2.GenerateVerifier()
	challenge := oauth2.S256ChallengeFromVerifier(verifier)

	if err := c.writeLoginState(loginState{
		State:        state,
		CodeVerifier: verifier,
		CreatedAtMs:  time.Now().UnixMilli(),
	}); err != nil {
		return LoginURL{}, fmt.Errorf("persist login state: %w", err)
	}

	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", redirectURL)
	q.Set("scope", scopes)
	q.Set("state", state)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")

	return LoginURL{
		URL:          c.authorizeURL + "?" + q.Encode(),
		State:        state,
		CodeVerifier: verifier,
	}, nil
}

func (c *Client) writeLoginState(ls loginState) error {
	if err := os.MkdirAll(filepath.Dir(c.statePath), 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(ls)
	if err != nil {
		return err
	}
	return os.WriteFile(c.statePath, data, 0o600)
}

// parsedCode is the callback input after parsing a bare code, a query
// string, or a full callback URL.
type parsedCode struct {
	code  string
	state string
}

func parseExchangeInput(input string) (parsedCode, error) {
	input = strings.TrimSpace(input)

	// Full URL or bare query string: extract from the query component.
	if u, err := url.Parse(input); err == nil && (u.RawQuery != "" || strings.HasPrefix(input, "?")) {
		q := u.Query()
		if q.Get("code") != "" {
			return parsedCode{code: q.Get("code"), state: q.Get("state")}, nil
		}
	}

	if strings.Contains(input, "code=") {
		q, err := url.ParseQuery(strings.TrimPrefix(input, "?"))
		if err == nil && q.Get("code") != "" {
			return parsedCode{code: q.Get("code"), state: q.Get("state")}, nil
		}
	}

	// Bare code (possibly "code#state" as Anthropic's CLI flow emits).
	if idx := strings.Index(input, "#"); idx >= 0 {
		return parsedCode{code: input[:idx], state: input[idx+1:]}, nil
	}

	return parsedCode{code: input}, nil
}

// ExchangeCode completes the authorization-code exchange. input may be a
// raw code, a query string, or a full callback URL. The login state file is
// always removed after any attempt, successful or not.
func (c *Client) ExchangeCode(ctx context.Context, input string) (Credentials, error) {
	ls, err := c.readLoginState()
	defer c.removeLoginState()

	if err != nil {
		return Credentials{}, fmt.Errorf("no pending login: %w", err)
	}

	if time.Since(time.UnixMilli(ls.CreatedAtMs)) > loginStateTTL {
		return Credentials{}, errors.New("login state expired")
	}

	parsed, err := parseExchangeInput(input)
	if err != nil {
		return Credentials{}, err
	}

	if parsed.state == "" || parsed.state != ls.State {
		return Credentials{}, errors.New("state mismatch (possible CSRF)")
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", parsed.code)
	form.Set("client_id", clientID)
	form.Set("redirect_uri", redirectURL)
	form.Set("code_verifier", ls.CodeVerifier)
	form.Set("state", parsed.state)

	resp, err := c.postForm(ctx, c.tokenURL, form)
	if err != nil {
		return Credentials{}, fmt.Errorf("token exchange request: %w", err)
	}

	creds, err := credentialsFromResponse(resp)
	if err != nil {
		return Credentials{}, err
	}

	if err := c.writeCredentials(creds); err != nil {
		return Credentials{}, fmt.Errorf("persist credentials: %w", err)
	}

	return creds, nil
}

func (c *Client) readLoginState() (loginState, error) {
	data, err := os.ReadFile(c.statePath)
	if err != nil {
		return loginState{}, err
	}
	var ls loginState
	if err := json.Unmarshal(data, &ls); err != nil {
		return loginState{}, fmt.Errorf("malformed login state: %w", err)
	}
	return ls, nil
}

func (c *Client) removeLoginState() {
	if err := os.Remove(c.statePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Debug("oauth login state cleanup failed", "error", err)
	}
}

// tokenResponse is the JSON shape returned by the token endpoint.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

func credentialsFromResponse(resp tokenResponse) (Credentials, error) {
	if resp.AccessToken == "" || resp.RefreshToken == "" || resp.ExpiresIn == 0 {
		return Credentials{}, errors.New("token response missing required fields")
	}

	var scopes []string
	if resp.Scope != "" {
		scopes = strings.Fields(resp.Scope)
	}

	return Credentials{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAtMs:  time.Now().UnixMilli() + resp.ExpiresIn*1000,
		Scopes:       scopes,
	}, nil
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) (tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return tokenResponse{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return tokenResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return tokenResponse{}, fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return tokenResponse{}, fmt.Errorf("decode token response: %w", err)
	}
	return tr, nil
}

// readCredentials loads the credentials file; returns (Credentials{}, false)
// if absent or malformed.
func (c *Client) readCredentials() (Credentials, bool) {
	data, err := os.ReadFile(c.credsPath)
	if err != nil {
		return Credentials{}, false
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, false
	}
	return creds, true
}

func (c *Client) writeCredentials(creds Credentials) error {
	if err := os.MkdirAll(filepath.Dir(c.credsPath), 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	return os.WriteFile(c.credsPath, data, 0o600)
}

// Refresh exchanges creds.RefreshToken for new credentials, reusing the old
// refresh token when the response omits one.
func (c *Client) Refresh(ctx context.Context, creds Credentials) (Credentials, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", creds.RefreshToken)
	form.Set("client_id", clientID)

	resp, err := c.postForm(ctx, c.tokenURL, form)
	if err != nil {
		return Credentials{}, fmt.Errorf("refresh request: %w", err)
	}

	if resp.AccessToken == "" || resp.ExpiresIn == 0 {
		return Credentials{}, errors.New("refresh response missing required fields")
	}

	refreshToken := resp.RefreshToken
	if refreshToken == "" {
		refreshToken = creds.RefreshToken
	}

	var scopes []string
	if resp.Scope != "" {
		scopes = strings.Fields(resp.Scope)
	} else {
		scopes = creds.Scopes
	}

	next := Credentials{
		AccessToken:  resp.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAtMs:  time.Now().UnixMilli() + resp.ExpiresIn*1000,
		Scopes:       scopes,
	}

	if err := c.writeCredentials(next); err != nil {
		return Credentials{}, fmt.Errorf("persist refreshed credentials: %w", err)
	}

	return next, nil
}

// GetValidAccessToken returns a non-expired access token, refreshing if
// necessary. Parallel calls from this process collapse onto one refresh
// (in-process singleflight); parallel processes serialize through the file
// lock, re-reading credentials after acquiring it to absorb a peer's
// refresh. Returns an empty string on any unrecoverable failure
// (TokenRefreshFailed, spec.md §7).
func (c *Client) GetValidAccessToken(ctx context.Context) (string, error) {
	creds, ok := c.readCredentials()
	if !ok {
		return "", errors.New("no credentials")
	}

	if !creds.expired() {
		return creds.AccessToken, nil
	}

	v, err, _ := c.sf.Do("refresh", func() (any, error) {
		return c.refreshWithLock(ctx, creds)
	})
	if err != nil {
		return "", err
	}
	return v.(Credentials).AccessToken, nil
}

// refreshWithLock acquires the cross-process lock, re-reads credentials
// (absorbing any refresh a peer already performed within the grace window),
// and only calls the token endpoint if still necessary.
func (c *Client) refreshWithLock(ctx context.Context, stale Credentials) (Credentials, error) {
	lock, err := filelock.Acquire(c.lockPath, lockAttempts, lockMinDelay, lockMaxDelay)
	if err != nil {
		slog.Warn("oauth refresh: lock unavailable, refreshing in-process only", "error", err)
		return c.Refresh(ctx, stale)
	}
	defer lock.Release()

	if fresh, ok := c.readCredentials(); ok && !fresh.expired() {
		return fresh, nil
	}

	next, err := c.Refresh(ctx, stale)
	if err != nil {
		slog.Error("oauth refresh failed", "token", masklog.Mask(stale.AccessToken), "error", err)
		return Credentials{}, err
	}
	return next, nil
}

// GetStatus reports whether credentials exist and their expiry.
func (c *Client) GetStatus() Status {
	creds, ok := c.readCredentials()
	if !ok {
		return Status{}
	}
	return Status{
		HasCredentials: true,
		ExpiresAtMs:    creds.ExpiresAtMs,
		IsExpired:      creds.expired(),
	}
}

// Logout removes the persisted credentials file.
func (c *Client) Logout() error {
	err := os.Remove(c.credsPath)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
