package authn

import (
	"regexp"
	"strings"

	"github.com/rakunlabs/ccr/internal/anthropic"
	"github.com/rakunlabs/ccr/internal/reqstate"
)

// claudeMemSubstrings and claudeMemPatterns are the fixed detection set from
// spec.md §4.5 step 3. This list is deliberately not extended: spec.md §9
// calls out a divergence in the original between auth-middleware and
// router ClaudeMem detection and fixes a single union set here.
var claudeMemSubstrings = []string{
	"you are a claude-mem",
	"hello memory agent",
	"memory processing continued",
	"claude-mem://",
	"primary session",
	"session_summary",
}

var claudeMemPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)memory agent.*observation`),
	regexp.MustCompile(`(?is)you do not have access to tools.*create observations`),
}

// IsClaudeMem scans every messages[*] text content and every system[*].text
// for the fixed ClaudeMem/Memory-Agent marker set.
func IsClaudeMem(req *anthropic.Request) bool {
	for _, sb := range req.System {
		if matchesClaudeMem(sb.Text) {
			return true
		}
	}
	for _, m := range req.Messages {
		blocks, err := m.ContentBlocks()
		if err != nil {
			continue
		}
		for _, b := range blocks {
			if b.Type == "text" && matchesClaudeMem(b.Text) {
				return true
			}
		}
	}
	return false
}

func matchesClaudeMem(text string) bool {
	lower := strings.ToLower(text)
	for _, s := range claudeMemSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	for _, p := range claudeMemPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

var (
	subagentRouterPattern = regexp.MustCompile(`(?s)<CCR-SUBAGENT-ROUTER>(.*?)</CCR-SUBAGENT-ROUTER>`)
	subagentModelPattern  = regexp.MustCompile(`(?s)<CCR-SUBAGENT-MODEL>(.*?)</CCR-SUBAGENT-MODEL>`)
)

// ExtractSubagentMarkers inspects system[1].text only (strict position, per
// spec.md §4.5 step 4) and returns the parsed markers, or nil if neither tag
// is present.
func ExtractSubagentMarkers(req *anthropic.Request) *reqstate.SubagentMarkers {
	if len(req.System) < 2 {
		return nil
	}
	text := req.System[1].Text

	var markers reqstate.SubagentMarkers
	found := false

	if m := subagentRouterPattern.FindStringSubmatch(text); m != nil {
		markers.RouterName = strings.TrimSpace(m[1])
		found = true
	}
	if m := subagentModelPattern.FindStringSubmatch(text); m != nil {
		markers.ModelName = strings.TrimSpace(m[1])
		found = true
	}

	if !found {
		return nil
	}
	return &markers
}

// StripSubagentMarkers removes both marker tags from system[1].text, if
// present. Safe to call unconditionally.
func StripSubagentMarkers(req *anthropic.Request) {
	if len(req.System) < 2 {
		return
	}
	text := req.System[1].Text
	text = subagentRouterPattern.ReplaceAllString(text, "")
	text = subagentModelPattern.ReplaceAllString(text, "")
	req.System[1].Text = text
}

// IsThinking reports whether the request is a "thinking" request: either
// body.thinking is present and non-null, or the marker model name mentions
// "think"/"reasoning" (spec.md §4.5 step 4).
func IsThinking(req *anthropic.Request, markers *reqstate.SubagentMarkers) bool {
	if len(req.Thinking) > 0 && string(req.Thinking) != "null" {
		return true
	}
	if markers != nil {
		lower := strings.ToLower(markers.ModelName)
		if strings.Contains(lower, "think") || strings.Contains(lower, "reasoning") {
			return true
		}
	}
	return false
}
