package oauthclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestExchangeCodeCSRFRejected(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)

	if err := c.writeLoginState(loginState{State: "S", CodeVerifier: "v", CreatedAtMs: time.Now().UnixMilli()}); err != nil {
		t.Fatalf("writeLoginState: %v", err)
	}

	_, err := c.ExchangeCode(context.Background(), "?code=c&state=WRONG")
	if err == nil {
		t.Fatal("expected CSRF rejection")
	}

	if _, statErr := os.Stat(c.statePath); statErr == nil {
		t.Fatal("expected login state file to be removed after failed exchange")
	}
}

func TestExchangeCodeSuccess(t *testing.T) {
	var gotGrant string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotGrant = r.Form.Get("grant_type")
		json.NewEncoder(w).Encode(tokenResponse{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			ExpiresIn:    3600,
		})
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := New(dir)
	c.httpClient = srv.Client()
	c.tokenURL = srv.URL

	if err := c.writeLoginState(loginState{State: "S", CodeVerifier: "v", CreatedAtMs: time.Now().UnixMilli()}); err != nil {
		t.Fatalf("writeLoginState: %v", err)
	}

	creds, err := c.ExchangeCode(context.Background(), "?code=abc&state=S")
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	if creds.AccessToken != "access-1" || gotGrant != "authorization_code" {
		t.Fatalf("unexpected creds %+v grant=%q", creds, gotGrant)
	}
}

func TestGetValidAccessTokenSingleFlight(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		json.NewEncoder(w).Encode(tokenResponse{
			AccessToken:  "fresh-token",
			RefreshToken: "refresh-2",
			ExpiresIn:    3600,
		})
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := New(dir)
	c.httpClient = srv.Client()
	c.tokenURL = srv.URL

	expired := Credentials{AccessToken: "old", RefreshToken: "r", ExpiresAtMs: time.Now().Add(-time.Minute).UnixMilli()}
	if err := c.writeCredentials(expired); err != nil {
		t.Fatalf("writeCredentials: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	tokens := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := c.GetValidAccessToken(context.Background())
			if err != nil {
				t.Errorf("GetValidAccessToken: %v", err)
				return
			}
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	for _, tok := range tokens {
		if tok != "fresh-token" {
			t.Errorf("expected all callers to observe the same refreshed token, got %q", tok)
		}
	}
	if calls != 1 {
		t.Errorf("expected exactly one HTTP refresh call, got %d", calls)
	}
}

func TestGetStatusNoCredentials(t *testing.T) {
	c := New(t.TempDir())
	st := c.GetStatus()
	if st.HasCredentials {
		t.Fatal("expected no credentials")
	}
}

func TestGetStatusExpired(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)
	creds := Credentials{AccessToken: "a", RefreshToken: "r", ExpiresAtMs: time.Now().Add(-time.Hour).UnixMilli()}
	if err := c.writeCredentials(creds); err != nil {
		t.Fatalf("writeCredentials: %v", err)
	}
	st := c.GetStatus()
	if !st.HasCredentials || !st.IsExpired {
		t.Fatalf("expected expired credentials, got %+v", st)
	}
}
