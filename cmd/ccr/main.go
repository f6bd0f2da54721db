package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/ccr/internal/cache"
	"github.com/rakunlabs/ccr/internal/config"
	"github.com/rakunlabs/ccr/internal/oauthclient"
	"github.com/rakunlabs/ccr/internal/oauthtoken"
	"github.com/rakunlabs/ccr/internal/server"
	"github.com/rakunlabs/ccr/internal/subagent"
)

var (
	name    = "ccr"
	version = "v0.0.0"
)

func main() {
	config.Service = name + "/" + version

	into.Init(run,
		into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
		into.WithMsgf("%s [%s]", name, version),
	)
}

func run(ctx context.Context) error {
	watcher, err := config.NewWatcher(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	go watcher.Run(ctx, 30*time.Second)

	cfg := watcher.Current()

	stateDir, err := oauthStateDir(cfg.Server.App)
	if err != nil {
		return fmt.Errorf("failed to resolve state directory: %w", err)
	}

	sharedTokenStore := oauthtoken.New(stateDir)
	oauthClient := oauthclient.New(stateDir)
	usageCache := cache.NewSessionUsageCache()

	// The agent-manager that registers in-process agents and injects
	// body.tools is an external collaborator (spec.md §1); no such
	// collaborator is wired into this process, so the loop runs as a
	// pure pass-through over tool_use blocks.
	registry := subagent.EmptyRegistry{}

	loopbackAddr := "http://" + loopbackHost(cfg.Server.Host) + ":" + cfg.Server.Port

	srv, err := server.New(watcher, sharedTokenStore, oauthClient, usageCache, registry, loopbackAddr)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	slog.Info("ccr starting", "host", cfg.Server.Host, "port", cfg.Server.Port)

	return srv.Start(ctx)
}

// loopbackHost rewrites a wildcard listen host into a dialable loopback
// address for the Subagent Tool Loop's follow-up call to its own server.
func loopbackHost(host string) string {
	if host == "" || host == "0.0.0.0" || host == "::" {
		return "127.0.0.1"
	}
	return host
}

// oauthStateDir resolves "~/.<app>", creating it if absent: the per-user
// state directory holding oauth.json, oauth.lock, and shared-oauth-token.json
// (spec.md §4.1/§4.2).
func oauthStateDir(app string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	dir := filepath.Join(home, "."+app)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create state directory %s: %w", dir, err)
	}
	return dir, nil
}
