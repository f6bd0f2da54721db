// Package config loads and validates the process-wide configuration for the
// gateway: providers, routing rules, and server settings.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rakunlabs/chu"
	_ "github.com/rakunlabs/chu/loader/external/loaderconsul"
	_ "github.com/rakunlabs/chu/loader/external/loadervault"
	"github.com/rakunlabs/chu/loader/loaderenv"
	"github.com/rakunlabs/logi"
	"github.com/rakunlabs/tell"
	str2duration "github.com/xhit/go-str2duration/v2"
)

// Service is set by main to "name/version" and used by the server/log
// middleware for the service identity tag.
var Service = ""

// Config is the full process configuration, loaded once and hot-reloaded
// on file change. In-flight requests keep the *Config snapshot they started
// with; see internal/config.Watcher.
type Config struct {
	LogLevel string `cfg:"log_level,no_prefix" default:"info"`

	Server Server `cfg:"server"`

	// APIKey, if set, is compared against the inbound x-api-key header for
	// requests that carry no OAuth credential. If absent, the server refuses
	// non-local origins and requires no x-api-key (see internal/authn).
	APIKey string `cfg:"api_key" log:"-"`

	// Providers is an ordered list of upstream provider configurations.
	Providers []Provider `cfg:"providers"`

	// Router maps a route-kind name ("default", "think", "longContext",
	// "background", "webSearch", or an arbitrary user-defined kind) to a
	// "provider,model[;provider,model...]" target string.
	Router map[string]string `cfg:"router"`

	// LongContextThreshold is the token-count threshold above which the
	// resolver prefers router["longContext"].
	LongContextThreshold int `cfg:"long_context_threshold" default:"60000"`

	// RewriteSystemPrompt, if set, is a path to a file whose contents are
	// prepended to system[1].text when that block contains "<env>".
	RewriteSystemPrompt string `cfg:"rewrite_system_prompt"`

	// CustomRouterPath, if set, is a path to a JS file run in a sandboxed
	// goja VM to resolve a model string; see internal/router.
	CustomRouterPath string `cfg:"custom_router_path"`

	// SubagentFollowupTimeout bounds a single Subagent Tool Loop loopback
	// call to /v1/messages (spec.md §4.8), as a human-friendly duration
	// string ("60s", "2m"); see internal/subagent.Loop.FollowupTimeout.
	SubagentFollowupTimeout string `cfg:"subagent_followup_timeout" default:"60s"`

	Telemetry tell.Config `cfg:"telemetry,noprefix"`
}

// SubagentFollowupTimeoutDuration parses SubagentFollowupTimeout, falling
// back to subagent.DefaultFollowupTimeout on an empty or malformed value.
func (c *Config) SubagentFollowupTimeoutDuration() time.Duration {
	d, err := str2duration.ParseDuration(c.SubagentFollowupTimeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

type Server struct {
	Host string `cfg:"host"`
	Port string `cfg:"port" default:"8080"`

	// App names the per-user state directory under the home dir, i.e.
	// "~/.<app>/..." for oauth.json, oauth.lock, shared-oauth-token.json.
	App string `cfg:"app" default:"ccr"`
}

// Provider describes a single upstream LLM provider's routing configuration.
type Provider struct {
	Name string `cfg:"name"`

	// APIKey is a single static credential. APIKeys, if set, takes priority
	// and is a ";"-separated multi-key field (see internal/keyselect).
	APIKey  string `cfg:"api_key" log:"-"`
	APIKeys string `cfg:"api_keys" log:"-"`

	// KeyWeights optionally weights the keys in APIKeys positionally; must
	// be the same length as the parsed key list to take effect.
	KeyWeights []float64 `cfg:"key_weights"`

	Models  []string `cfg:"models"`
	BaseURL string   `cfg:"base_url"`

	// Transformer names an optional request-shape adapter for this
	// provider (e.g. "anthropic-native"); empty means forward as-is.
	Transformer string `cfg:"transformer"`
}

// Load reads configuration from path (file, env, or chu-supported source),
// sets the process log level, and validates the result.
func Load(ctx context.Context, path string) (*Config, error) {
	var cfg Config
	if err := chu.Load(ctx, path, &cfg, chu.WithLoaderOption(loaderenv.New(loaderenv.WithPrefix("CCR_")))); err != nil {
		return nil, err
	}

	if err := logi.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("set log level %s: %w", cfg.LogLevel, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate configuration: %w", err)
	}

	slog.Info("loaded configuration", "config", chu.MarshalMap(cfg))

	return &cfg, nil
}

// Validate checks basic referential integrity: provider names are unique,
// a non-empty router map must declare a "default" entry, and every router
// target's provider half must name a configured provider.
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider with empty name")
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("duplicate provider name %q", p.Name)
		}
		seen[p.Name] = struct{}{}
	}

	if len(c.Router) > 0 {
		if _, ok := c.Router["default"]; !ok {
			return fmt.Errorf("router configured but missing %q entry", "default")
		}
	}

	for kind, target := range c.Router {
		if err := c.validateRouterTarget(kind, target); err != nil {
			return err
		}
	}

	return nil
}

// validateRouterTarget checks each ";"-separated "provider,model" alternative
// in a router target string against the configured providers. Parsed
// independently of internal/router.ParseTarget to avoid an import cycle
// (router already imports config).
func (c *Config) validateRouterTarget(kind, target string) error {
	for _, alt := range strings.Split(target, ";") {
		alt = strings.TrimSpace(alt)
		if alt == "" {
			continue
		}
		idx := strings.Index(alt, ",")
		if idx < 0 {
			return fmt.Errorf("router[%q] target %q is not a \"provider,model\" string", kind, alt)
		}
		provider := strings.TrimSpace(alt[:idx])
		if _, ok := c.ProviderByName(provider); !ok {
			return fmt.Errorf("router[%q] target %q references unconfigured provider %q", kind, alt, provider)
		}
	}
	return nil
}

// ProviderByName returns the provider config with the given name, matched
// case-insensitively, or false if not found.
func (c *Config) ProviderByName(name string) (Provider, bool) {
	for _, p := range c.Providers {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Provider{}, false
}
