package subagent

import (
	"encoding/json"
)

// toolCapture tracks the single tool_use block currently being assembled
// from streamed input_json_delta events (spec.md §4.8 "State machine per
// stream").
type toolCapture struct {
	index     int
	name      string
	id        string
	agentName string
	argsJSON  string
}

// machine is the per-stream state for one Subagent Tool Loop pass. Fields
// are named after spec.md §4.8's state machine description.
type machine struct {
	agents []string

	current        *toolCapture
	currentIndex   int // -1 when no tool is being captured
	assistantBlock []json.RawMessage
	toolMessages   []json.RawMessage
}

func newMachine(agents []string) *machine {
	return &machine{agents: agents, currentIndex: -1}
}

type contentBlockStartEvent struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
}

type contentBlockDeltaEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta struct {
		Type        string `json:"type"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
}

type contentBlockStopEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// observe updates machine state for one decoded SSE event and reports
// whether the event should be dropped (captured, not forwarded) and
// whether a tool_use block was just completed (needing execution).
func (m *machine) observe(eventType string, data []byte, registry Registry) (drop bool, completed *toolCapture) {
	switch eventType {
	case "content_block_start":
		var evt contentBlockStartEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return false, nil
		}
		if evt.ContentBlock.Type != "tool_use" || registry == nil {
			return false, nil
		}
		agentName, ok := registry.OwnsTool(m.agents, evt.ContentBlock.Name)
		if !ok {
			return false, nil
		}
		m.current = &toolCapture{
			index:     evt.Index,
			name:      evt.ContentBlock.Name,
			id:        evt.ContentBlock.ID,
			agentName: agentName,
		}
		m.currentIndex = evt.Index
		return true, nil

	case "content_block_delta":
		if m.current == nil {
			return false, nil
		}
		var evt contentBlockDeltaEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return false, nil
		}
		if evt.Index != m.currentIndex || evt.Delta.Type != "input_json_delta" {
			return false, nil
		}
		m.current.argsJSON += evt.Delta.PartialJSON
		return true, nil

	case "content_block_stop":
		if m.current == nil {
			return false, nil
		}
		var evt contentBlockStopEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return false, nil
		}
		if evt.Index != m.currentIndex {
			return false, nil
		}
		completed = m.current
		m.current = nil
		m.currentIndex = -1
		return true, completed
	}

	return false, nil
}

// recordToolUse appends the assistant-side tool_use block for a completed
// capture.
func (m *machine) recordToolUse(tc *toolCapture, args map[string]any) {
	argsJSON, _ := json.Marshal(args)
	block := map[string]any{
		"type":  "tool_use",
		"id":    tc.id,
		"name":  tc.name,
		"input": json.RawMessage(argsJSON),
	}
	raw, _ := SafeMarshal(block)
	m.assistantBlock = append(m.assistantBlock, json.RawMessage(raw))
}

// recordToolResult appends the user-side tool_result block, success or
// error (spec.md §4.8 step 3).
func (m *machine) recordToolResult(tc *toolCapture, result string, callErr error) {
	var block map[string]any
	if callErr != nil {
		block = map[string]any{
			"type":        "tool_result",
			"tool_use_id": tc.id,
			"content":     "Error: " + callErr.Error(),
			"is_error":    true,
		}
	} else {
		block = map[string]any{
			"type":        "tool_result",
			"tool_use_id": tc.id,
			"content":     result,
		}
	}
	raw, _ := SafeMarshal(block)
	m.toolMessages = append(m.toolMessages, json.RawMessage(raw))
}

func (m *machine) hasToolMessages() bool {
	return len(m.toolMessages) > 0
}
