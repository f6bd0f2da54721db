package authn

import (
	"testing"

	"github.com/rakunlabs/ccr/internal/anthropic"
)

func reqWithSystem(texts ...string) *anthropic.Request {
	req := &anthropic.Request{}
	for _, t := range texts {
		req.System = append(req.System, anthropic.SystemBlock{Type: "text", Text: t})
	}
	return req
}

func TestIsClaudeMemSubstring(t *testing.T) {
	req := reqWithSystem("prelude", "this mentions claude-mem://session/1")
	if !IsClaudeMem(req) {
		t.Fatal("expected ClaudeMem match")
	}
}

func TestIsClaudeMemRegex(t *testing.T) {
	req := reqWithSystem("prelude", "Memory Agent\nplease observation record this")
	if !IsClaudeMem(req) {
		t.Fatal("expected ClaudeMem regex match")
	}
}

func TestIsClaudeMemNoMatch(t *testing.T) {
	req := reqWithSystem("prelude", "just a normal system prompt")
	if IsClaudeMem(req) {
		t.Fatal("expected no match")
	}
}

func TestExtractSubagentMarkersStrictPosition(t *testing.T) {
	// Marker in system[0] must be ignored; only system[1] counts.
	req := reqWithSystem("<CCR-SUBAGENT-ROUTER>ignored</CCR-SUBAGENT-ROUTER>", "<CCR-SUBAGENT-ROUTER>think\n</CCR-SUBAGENT-ROUTER>")
	m := ExtractSubagentMarkers(req)
	if m == nil || m.RouterName != "think" {
		t.Fatalf("got %+v", m)
	}
}

func TestExtractSubagentMarkersBoth(t *testing.T) {
	req := reqWithSystem("x", "before <CCR-SUBAGENT-MODEL>anthropic,claude-3</CCR-SUBAGENT-MODEL> after")
	m := ExtractSubagentMarkers(req)
	if m == nil || m.ModelName != "anthropic,claude-3" {
		t.Fatalf("got %+v", m)
	}
}

func TestExtractSubagentMarkersNone(t *testing.T) {
	req := reqWithSystem("x", "plain text")
	if ExtractSubagentMarkers(req) != nil {
		t.Fatal("expected nil")
	}
}

func TestStripSubagentMarkers(t *testing.T) {
	req := reqWithSystem("x", "before <CCR-SUBAGENT-ROUTER>r</CCR-SUBAGENT-ROUTER> mid <CCR-SUBAGENT-MODEL>m</CCR-SUBAGENT-MODEL> after")
	StripSubagentMarkers(req)
	got := req.System[1].Text
	if got != "before  mid  after" {
		t.Fatalf("got %q", got)
	}
}
