package oauthtoken

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	var tok Token
	tok.Token.AccessToken = "sk-ant-oat01-abc"
	tok.Token.TokenType = "Bearer"
	tok.TimestampMs = time.Now().UnixMilli()

	if err := s.Put(tok); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok := s.Get()
	if !ok {
		t.Fatal("expected Get to find the token just written")
	}
	if got.Token.AccessToken != tok.Token.AccessToken {
		t.Errorf("access token mismatch: got %q", got.Token.AccessToken)
	}
}

func TestGetMissingFile(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	if _, ok := s.Get(); ok {
		t.Fatal("expected no token for missing file")
	}
}

func TestGetStaleByAgeIsDeleted(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	var tok Token
	tok.Token.AccessToken = "sk-ant-oat01-abc"
	tok.TimestampMs = time.Now().Add(-10 * time.Minute).UnixMilli()
	if err := s.Put(tok); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, ok := s.Get(); ok {
		t.Fatal("expected stale token to be rejected")
	}

	if _, err := os.Stat(filepath.Join(dir, "shared-oauth-token.json")); !os.IsNotExist(err) {
		t.Fatal("expected stale token file to be deleted")
	}
}

func TestGetEmptyAccessTokenRejected(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	var tok Token
	tok.TimestampMs = time.Now().UnixMilli()
	if err := s.Put(tok); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, ok := s.Get(); ok {
		t.Fatal("expected empty access_token to be rejected")
	}
}

func TestClearMissingIsSuccess(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear on missing file should succeed, got %v", err)
	}
}
