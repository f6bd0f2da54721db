// Package router implements the Route Resolver (spec.md §4.6): it mutates
// an inbound request's model to a concrete "provider,model" string,
// rewrites the system prompt, and picks an upstream credential.
package router

import (
	"log/slog"
	"strings"

	"github.com/rakunlabs/ccr/internal/anthropic"
	"github.com/rakunlabs/ccr/internal/cache"
	"github.com/rakunlabs/ccr/internal/config"
	"github.com/rakunlabs/ccr/internal/keyselect"
	"github.com/rakunlabs/ccr/internal/reqstate"
)

// TokenCounter counts tokens over a request for the long-context rule.
type TokenCounter interface {
	Count(req *anthropic.Request) (int, error)
}

// Resolver runs the Route Resolver.
type Resolver struct {
	Config     *config.Config
	UsageCache *cache.SessionUsageCache
	Tokens     TokenCounter
	CustomHook *CustomHook

	// Projects resolves session_id -> project working directory, surfaced
	// to the custom router hook as event.project_dir so a routing script
	// can make per-project decisions. Nil disables the lookup.
	Projects *cache.ProjectResolver
}

// New returns a Resolver wired to its collaborators. customHook may be nil
// when cfg.CustomRouterPath is empty.
func New(cfg *config.Config, usageCache *cache.SessionUsageCache, tokens TokenCounter, customHook *CustomHook) *Resolver {
	return &Resolver{Config: cfg, UsageCache: usageCache, Tokens: tokens, CustomHook: customHook}
}

// Resolve mutates req (model, system) and state (resolved provider/model,
// selected API key) per spec.md §4.6. Any unexpected failure falls back to
// router.default (spec.md §4.6 "Errors").
func (r *Resolver) Resolve(req *anthropic.Request, state *reqstate.State) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("router: resolver panicked, falling back to default", "recover", rec)
			r.applyDefault(req, state)
		}
	}()

	state.SessionID = ExtractSessionID(req)
	RewriteSystemPrompt(req, r.Config)

	if target, ok := r.runCustomHook(req, state.SessionID); ok {
		r.apply(req, state, target)
		return
	}

	if target, ok := r.resolveSubagentRouter(req, state); ok {
		r.apply(req, state, target)
		return
	}

	if target, ok := r.resolveClientSpecified(req); ok {
		r.apply(req, state, target)
		return
	}

	if target, ok := r.resolveLongContext(req, state); ok {
		r.apply(req, state, target)
		return
	}

	if target, ok := r.resolveSubagentModel(req, state); ok {
		r.apply(req, state, target)
		return
	}

	if target, ok := r.resolveBackground(req); ok {
		r.apply(req, state, target)
		return
	}

	if target, ok := r.resolveWebSearch(req); ok {
		r.apply(req, state, target)
		return
	}

	if target, ok := r.resolveThinking(req); ok {
		r.apply(req, state, target)
		return
	}

	r.applyDefault(req, state)
}

func (r *Resolver) runCustomHook(req *anthropic.Request, sessionID string) (Target, bool) {
	if r.CustomHook == nil {
		return Target{}, false
	}

	event := map[string]any{"name": "resolve"}
	if r.Projects != nil && sessionID != "" {
		if dir, found := r.Projects.Resolve(sessionID); found {
			event["project_dir"] = dir
		}
	}

	result, err := r.CustomHook.Run(req, r.Config, event)
	if err != nil {
		slog.Warn("router: custom router hook failed, using built-in resolver", "error", err)
		return Target{}, false
	}
	if result == "" {
		return Target{}, false
	}

	target, err := ParseTarget(RandomAlternative(result))
	if err != nil {
		slog.Warn("router: custom router hook returned invalid target", "value", result, "error", err)
		return Target{}, false
	}
	return target, true
}

func (r *Resolver) resolveSubagentRouter(req *anthropic.Request, state *reqstate.State) (Target, bool) {
	if state.SubagentMarkers == nil || state.SubagentMarkers.RouterName == "" {
		return Target{}, false
	}

	routerStr, ok := r.Config.Router[state.SubagentMarkers.RouterName]
	if !ok {
		stripMarkers(req)
		return Target{}, false
	}

	stripMarkers(req)
	target, err := ParseTarget(RandomAlternative(routerStr))
	if err != nil {
		return Target{}, false
	}
	return target, true
}

func (r *Resolver) resolveClientSpecified(req *anthropic.Request) (Target, bool) {
	if !strings.Contains(req.Model, ",") {
		return Target{}, false
	}
	target, err := ParseTarget(req.Model)
	if err != nil {
		return Target{}, false
	}
	if ValidateTarget(r.Config, target) {
		return target, true
	}
	// Keep the client's literal value: return it unresolved-but-accepted.
	return target, true
}

func (r *Resolver) resolveLongContext(req *anthropic.Request, state *reqstate.State) (Target, bool) {
	routerStr, ok := r.Config.Router["longContext"]
	if !ok || r.Tokens == nil {
		return Target{}, false
	}

	tokenCount, err := r.Tokens.Count(req)
	if err != nil {
		return Target{}, false
	}

	threshold := r.Config.LongContextThreshold
	over := tokenCount > threshold

	var lastUsageOver bool
	if r.UsageCache != nil && state.SessionID != "" {
		if usage, ok := r.UsageCache.Get(state.SessionID); ok {
			lastUsageOver = usage.InputTokens > threshold && tokenCount > 20000
		}
	}

	if !over && !lastUsageOver {
		return Target{}, false
	}

	target, err := ParseTarget(RandomAlternative(routerStr))
	if err != nil {
		return Target{}, false
	}
	return target, true
}

func (r *Resolver) resolveSubagentModel(req *anthropic.Request, state *reqstate.State) (Target, bool) {
	if state.IsOAuthPassthrough {
		return Target{}, false
	}
	if state.SubagentMarkers == nil || state.SubagentMarkers.ModelName == "" {
		return Target{}, false
	}

	stripMarkers(req)
	target, err := ParseTarget(RandomAlternative(state.SubagentMarkers.ModelName))
	if err != nil {
		return Target{}, false
	}
	return target, true
}

func (r *Resolver) resolveBackground(req *anthropic.Request) (Target, bool) {
	routerStr, ok := r.Config.Router["background"]
	if !ok {
		return Target{}, false
	}
	lower := strings.ToLower(req.Model)
	if !strings.Contains(lower, "claude") || !strings.Contains(lower, "haiku") {
		return Target{}, false
	}
	target, err := ParseTarget(RandomAlternative(routerStr))
	if err != nil {
		return Target{}, false
	}
	return target, true
}

func (r *Resolver) resolveWebSearch(req *anthropic.Request) (Target, bool) {
	routerStr, ok := r.Config.Router["webSearch"]
	if !ok {
		return Target{}, false
	}
	hasWebSearch := false
	for _, t := range req.Tools {
		if strings.HasPrefix(t.Type, "web_search") {
			hasWebSearch = true
			break
		}
	}
	if !hasWebSearch {
		return Target{}, false
	}
	target, err := ParseTarget(RandomAlternative(routerStr))
	if err != nil {
		return Target{}, false
	}
	return target, true
}

func (r *Resolver) resolveThinking(req *anthropic.Request) (Target, bool) {
	routerStr, ok := r.Config.Router["think"]
	if !ok {
		return Target{}, false
	}
	if len(req.Thinking) == 0 || string(req.Thinking) == "null" || string(req.Thinking) == "false" {
		return Target{}, false
	}
	target, err := ParseTarget(RandomAlternative(routerStr))
	if err != nil {
		return Target{}, false
	}
	return target, true
}

func (r *Resolver) applyDefault(req *anthropic.Request, state *reqstate.State) {
	routerStr, ok := r.Config.Router["default"]
	if !ok {
		return
	}
	target, err := ParseTarget(RandomAlternative(routerStr))
	if err != nil {
		return
	}
	r.apply(req, state, target)
}

func (r *Resolver) apply(req *anthropic.Request, state *reqstate.State, target Target) {
	req.Model = target.String()
	state.ResolvedProvider = target.Provider
	state.ResolvedModel = target.Model

	p, ok := r.Config.ProviderByName(target.Provider)
	if !ok {
		return
	}
	keys := keyselect.Keys(p.APIKey, p.APIKeys)
	if key, ok := keyselect.Select(keys, p.KeyWeights); ok {
		state.SelectedAPIKey = key
	}
}

func stripMarkers(req *anthropic.Request) {
	if len(req.System) < 2 {
		return
	}
	// Mirrors authn.StripSubagentMarkers without importing authn (router
	// does not depend on authn).
	text := req.System[1].Text
	for _, tag := range []struct{ open, close string }{
		{"<CCR-SUBAGENT-ROUTER>", "</CCR-SUBAGENT-ROUTER>"},
		{"<CCR-SUBAGENT-MODEL>", "</CCR-SUBAGENT-MODEL>"},
	} {
		for {
			start := strings.Index(text, tag.open)
			if start < 0 {
				break
			}
			end := strings.Index(text[start:], tag.close)
			if end < 0 {
				break
			}
			text = text[:start] + text[start+end+len(tag.close):]
		}
	}
	req.System[1].Text = text
}
