// Package anthropic defines the inbound/outbound request shape this
// system treats mostly opaquely, exposing only the fields the
// authentication, routing, and subagent components need (spec.md §3).
package anthropic

import "encoding/json"

// Request is the Anthropic /v1/messages request body.
type Request struct {
	Model     string          `json:"model"`
	Messages  []Message       `json:"messages"`
	System    []SystemBlock   `json:"system,omitempty"`
	Tools     []Tool          `json:"tools,omitempty"`
	Thinking  json.RawMessage `json:"thinking,omitempty"`
	Metadata  *Metadata       `json:"metadata,omitempty"`
	Stream    bool            `json:"stream,omitempty"`

	// Agents is not part of the Anthropic wire schema; it is injected by an
	// external collaborator (the agent-manager) before this system's
	// pipeline runs (spec.md §4.8).
	Agents []string `json:"-"`

	raw map[string]json.RawMessage
}

// Metadata carries the opaque user_id this system parses for a session id.
type Metadata struct {
	UserID string `json:"user_id,omitempty"`
}

// SystemBlock is one element of the system prompt array.
type SystemBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Tool is a tool definition; Type distinguishes built-ins like
// "web_search_20250305" from agent-registered tools.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	Type        string          `json:"type,omitempty"`
}

// Message is one entry of the messages array; Content is either a plain
// string or a list of content blocks, handled via ContentBlocks.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ContentBlock is one element of a structured message content array.
type ContentBlock struct {
	Type string `json:"type"`

	// type == "text"
	Text string `json:"text,omitempty"`

	// type == "tool_use"
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// type == "tool_result"
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ContentBlocks parses m.Content as a content-block array. If Content is a
// plain JSON string instead, it returns a single synthetic text block.
func (m Message) ContentBlocks() ([]ContentBlock, error) {
	if len(m.Content) == 0 {
		return nil, nil
	}

	var asString string
	if err := json.Unmarshal(m.Content, &asString); err == nil {
		return []ContentBlock{{Type: "text", Text: asString}}, nil
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

// Parse decodes a /v1/messages request body, retaining the raw top-level
// fields so Rewrite can re-serialize without dropping unknown keys.
func Parse(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	req.raw = raw

	return &req, nil
}

// Rewrite re-serializes the request, applying model/system mutations made
// to req while preserving every other field from the original body
// untouched.
func (r *Request) Rewrite() ([]byte, error) {
	if r.raw == nil {
		return json.Marshal(r)
	}

	out := make(map[string]json.RawMessage, len(r.raw))
	for k, v := range r.raw {
		out[k] = v
	}

	modelJSON, err := json.Marshal(r.Model)
	if err != nil {
		return nil, err
	}
	out["model"] = modelJSON

	systemJSON, err := json.Marshal(r.System)
	if err != nil {
		return nil, err
	}
	if len(r.System) > 0 {
		out["system"] = systemJSON
	}

	messagesJSON, err := json.Marshal(r.Messages)
	if err != nil {
		return nil, err
	}
	out["messages"] = messagesJSON

	return json.Marshal(out)
}
