package cache

import (
	"os"
	"path/filepath"
)

// ProjectResolver discovers the project working directory behind a
// session, by probing the well-known Claude Code transcript layout
// (~/.claude/projects/<encoded-cwd>/<session-id>.jsonl), and caches the
// result (including negative results) in a SessionProjectCache.
type ProjectResolver struct {
	root  string // defaults to "~/.claude/projects"
	cache *SessionProjectCache
}

// NewProjectResolver returns a ProjectResolver rooted at root (pass "" to
// use "~/.claude/projects").
func NewProjectResolver(root string, cache *SessionProjectCache) *ProjectResolver {
	if root == "" {
		if home, err := os.UserHomeDir(); err == nil {
			root = filepath.Join(home, ".claude", "projects")
		}
	}
	return &ProjectResolver{root: root, cache: cache}
}

// Resolve returns the project directory for sessionID, probing the
// filesystem only on a cache miss.
func (r *ProjectResolver) Resolve(sessionID string) (dir string, found bool) {
	if dir, found, ok := r.cache.Get(sessionID); ok {
		return dir, found
	}

	dir, found = r.probe(sessionID)
	r.cache.Put(sessionID, dir, found)
	return dir, found
}

// probe walks each encoded-project directory under root looking for a
// transcript file named "<sessionID>.jsonl"; the parent directory name,
// decoded, is the project's working directory.
func (r *ProjectResolver) probe(sessionID string) (string, bool) {
	if r.root == "" {
		return "", false
	}

	entries, err := os.ReadDir(r.root)
	if err != nil {
		return "", false
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		transcript := filepath.Join(r.root, e.Name(), sessionID+".jsonl")
		if _, err := os.Stat(transcript); err == nil {
			return decodeProjectDir(e.Name()), true
		}
	}

	return "", false
}

// decodeProjectDir reverses Claude Code's directory-name encoding, which
// replaces each path separator with "-".
func decodeProjectDir(encoded string) string {
	return "/" + filepath.Join(splitDashes(encoded)...)
}

func splitDashes(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '-' {
			if i > start {
				parts = append(parts, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}
