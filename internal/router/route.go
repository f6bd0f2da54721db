package router

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/rakunlabs/ccr/internal/config"
)

// Target is a resolved "provider,model" pair.
type Target struct {
	Provider string
	Model    string
}

func (t Target) String() string {
	return t.Provider + "," + t.Model
}

// ParseTarget splits a "provider,model" string. s must contain exactly one
// comma's worth of meaningful split (provider, then the remainder as
// model — model itself may not contain a comma in this grammar).
func ParseTarget(s string) (Target, error) {
	idx := strings.Index(s, ",")
	if idx < 0 {
		return Target{}, fmt.Errorf("not a provider,model string: %q", s)
	}
	return Target{
		Provider: strings.TrimSpace(s[:idx]),
		Model:    strings.TrimSpace(s[idx+1:]),
	}, nil
}

// RandomAlternative splits s on ";", trims and filters empty entries, and
// picks one uniformly at random. A single-element result returns the
// original string unsplit, so a trailing ";" is preserved verbatim in
// logs (spec.md §4.6).
func RandomAlternative(s string) string {
	if !strings.Contains(s, ";") {
		return s
	}

	parts := strings.Split(s, ";")
	alts := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			alts = append(alts, p)
		}
	}

	if len(alts) <= 1 {
		return s
	}
	return alts[rand.IntN(len(alts))]
}

// ValidateTarget reports whether t names a configured provider and a model
// that provider serves.
func ValidateTarget(cfg *config.Config, t Target) bool {
	p, ok := cfg.ProviderByName(t.Provider)
	if !ok {
		return false
	}
	for _, m := range p.Models {
		if strings.EqualFold(m, t.Model) {
			return true
		}
	}
	return false
}
