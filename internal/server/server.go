// Package server wires the ada HTTP mux, middleware chain, and route table
// for the gateway (spec.md §6).
package server

import (
	"context"
	"crypto/rand"
	"embed"
	"encoding/hex"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rakunlabs/ada"
	mfolder "github.com/rakunlabs/ada/handler/folder"
	mcors "github.com/rakunlabs/ada/middleware/cors"
	mlog "github.com/rakunlabs/ada/middleware/log"
	mrecover "github.com/rakunlabs/ada/middleware/recover"
	mrequestid "github.com/rakunlabs/ada/middleware/requestid"
	mserver "github.com/rakunlabs/ada/middleware/server"
	mtelemetry "github.com/rakunlabs/ada/middleware/telemetry"

	"github.com/rakunlabs/ccr/internal/authn"
	"github.com/rakunlabs/ccr/internal/cache"
	"github.com/rakunlabs/ccr/internal/config"
	"github.com/rakunlabs/ccr/internal/oauthclient"
	"github.com/rakunlabs/ccr/internal/oauthtoken"
	"github.com/rakunlabs/ccr/internal/router"
	"github.com/rakunlabs/ccr/internal/subagent"
	"github.com/rakunlabs/ccr/internal/tokencount"
)

//go:embed ui/*
var uiFS embed.FS

// ConfigSource supplies the current configuration snapshot; requests keep
// the reference they read at request-start even if a reload swaps it
// concurrently (spec.md §9).
type ConfigSource interface {
	Current() *config.Config
}

// Server holds everything a request handler needs, built once at boot. The
// per-request Route Resolver is built fresh for every request from the
// config snapshot read at request-start (resolverFor), so concurrent
// requests never observe a config swap mid-flight (spec.md §9).
type Server struct {
	cfg ConfigSource

	server *ada.Server

	authPipeline *authn.Pipeline
	usageCache   *cache.SessionUsageCache
	projects     *cache.ProjectResolver
	tokens       *tokencount.Counter
	registry     subagent.Registry

	upstreamClient *http.Client

	loopbackAddr      string
	loopbackSecret    string
	oauthUpstreamHost string

	hooksMu sync.Mutex
	hooks   map[string]*router.CustomHook
}

// New builds the Server and registers every route from spec.md §6.
func New(
	cfg ConfigSource,
	sharedTokenStore *oauthtoken.Store,
	oauthClient *oauthclient.Client,
	usageCache *cache.SessionUsageCache,
	registry subagent.Registry,
	loopbackAddr string,
) (*Server, error) {
	mux := ada.New()
	mux.Use(
		mrecover.Middleware(),
		mserver.Middleware(config.Service),
		mcors.Middleware(),
		mrequestid.Middleware(),
		mlog.Middleware(),
		mtelemetry.Middleware(),
	)

	loopbackSecret, err := generateLoopbackSecret()
	if err != nil {
		return nil, err
	}

	authPipeline := authn.New(sharedTokenStore, oauthClient)
	authPipeline.LoopbackSecret = loopbackSecret

	s := &Server{
		cfg:            cfg,
		server:         mux,
		authPipeline:   authPipeline,
		usageCache:     usageCache,
		projects:       cache.NewProjectResolver("", cache.NewSessionProjectCache()),
		tokens:         &tokencount.Counter{},
		registry:       registry,
		upstreamClient: &http.Client{Timeout: 10 * time.Minute},
		loopbackAddr:      loopbackAddr,
		loopbackSecret:    loopbackSecret,
		oauthUpstreamHost: defaultOAuthUpstreamHost,
		hooks:             make(map[string]*router.CustomHook),
	}

	root := mux.Group("")

	root.GET("/health", s.Health)
	root.GET("/", s.Health)

	root.POST("/v1/messages", s.Messages)
	root.POST("/v1/messages/count_tokens", s.CountTokens)

	for _, p := range []string{
		"/v1/oauth/token", "/v1/oauth/refresh", "/v1/oauth/userinfo",
		"/oauth/token", "/oauth/refresh", "/oauth/userinfo",
	} {
		root.POST(p, s.OAuthPassthrough)
	}

	f, err := fs.Sub(uiFS, "ui")
	if err != nil {
		return nil, err
	}
	folderM, err := mfolder.New(&mfolder.Config{
		BasePath:       "/ui",
		Index:          true,
		StripIndexName: true,
		SPA:            true,
		PrefixPath:     "/ui",
	})
	if err != nil {
		return nil, err
	}
	folderM.SetFs(http.FS(f))
	root.Handle("/ui/*", folderM)

	return s, nil
}

// generateLoopbackSecret returns a fresh per-boot secret authorizing the
// Subagent Tool Loop's loopback short-circuit (internal/authn.Pipeline.
// LoopbackSecret); never persisted, never sent to a client.
func generateLoopbackSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Health implements GET /health and GET / (spec.md §6).
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	httpResponseJSON(w, map[string]any{"status": "ok"}, http.StatusOK)
}

// resolverFor builds a Route Resolver bound to cfg, reusing a cached
// *router.CustomHook per distinct path (CustomHook itself recompiles lazily
// on file mtime change, so this only avoids a redundant struct per call).
func (s *Server) resolverFor(cfg *config.Config) *router.Resolver {
	var hook *router.CustomHook
	if cfg.CustomRouterPath != "" {
		s.hooksMu.Lock()
		hook = s.hooks[cfg.CustomRouterPath]
		if hook == nil {
			hook = router.NewCustomHook(cfg.CustomRouterPath)
			s.hooks[cfg.CustomRouterPath] = hook
		}
		s.hooksMu.Unlock()
	}
	resolver := router.New(cfg, s.usageCache, s.tokens, hook)
	resolver.Projects = s.projects
	return resolver
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cur := s.cfg.Current()
	slog.Info("starting server", "host", cur.Server.Host, "port", cur.Server.Port)
	return s.server.StartWithContext(ctx, net.JoinHostPort(cur.Server.Host, cur.Server.Port))
}
