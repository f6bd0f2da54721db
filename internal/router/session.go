package router

import (
	"os"
	"strings"

	"github.com/rakunlabs/ccr/internal/anthropic"
	"github.com/rakunlabs/ccr/internal/config"
)

const sessionSplitToken = "_session_"

// ExtractSessionID splits metadata.user_id on "_session_"; the suffix is
// the session id (spec.md §4.6, §3 "Session id").
func ExtractSessionID(req *anthropic.Request) string {
	if req.Metadata == nil || req.Metadata.UserID == "" {
		return ""
	}
	idx := strings.Index(req.Metadata.UserID, sessionSplitToken)
	if idx < 0 {
		return ""
	}
	return req.Metadata.UserID[idx+len(sessionSplitToken):]
}

// RewriteSystemPrompt implements spec.md §4.6's system-prompt rewrite: if
// cfg.RewriteSystemPrompt names a file and system[1].text contains "<env>",
// replace system[1].text with the file's contents followed by "<env>" and
// everything after the last "<env>" in the original text.
func RewriteSystemPrompt(req *anthropic.Request, cfg *config.Config) {
	if cfg.RewriteSystemPrompt == "" || len(req.System) < 2 {
		return
	}

	const marker = "<env>"
	text := req.System[1].Text
	idx := strings.LastIndex(text, marker)
	if idx < 0 {
		return
	}

	data, err := os.ReadFile(cfg.RewriteSystemPrompt)
	if err != nil {
		return
	}

	after := text[idx+len(marker):]
	req.System[1].Text = string(data) + marker + after
}
