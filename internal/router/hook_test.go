package router

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCustomHookOverridesBuiltIn(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "router.js")
	script := `function route(request, config, event) { return "anthropic,custom-model"; }`
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	hook := NewCustomHook(path)
	result, err := hook.Run(map[string]any{"model": "x"}, map[string]any{}, map[string]any{"name": "resolve"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != "anthropic,custom-model" {
		t.Fatalf("got %q", result)
	}
}

func TestCustomHookDefersOnEmptyReturn(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "router.js")
	script := `function route(request, config, event) { return ""; }`
	os.WriteFile(path, []byte(script), 0o644)

	hook := NewCustomHook(path)
	result, err := hook.Run(nil, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != "" {
		t.Fatalf("expected empty result, got %q", result)
	}
}

func TestCustomHookErrorOnMissingFunction(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "router.js")
	os.WriteFile(path, []byte(`var x = 1;`), 0o644)

	hook := NewCustomHook(path)
	if _, err := hook.Run(nil, nil, nil); err == nil {
		t.Fatal("expected error for missing route() function")
	}
}
