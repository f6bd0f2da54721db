package tokencount

import (
	"encoding/json"

	"github.com/rakunlabs/ccr/internal/anthropic"
)

// Counter adapts CountRequest to router.TokenCounter.
type Counter struct{}

// Count implements router.TokenCounter.
func (Counter) Count(req *anthropic.Request) (int, error) {
	return CountRequest(req)
}

// CountRequest adapts an anthropic.Request into Count's flattened
// (messages, system, tools) shape, per spec.md §4.9's content-block
// contribution rules.
func CountRequest(req *anthropic.Request) (int, error) {
	messages := make([]Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		blocks, err := m.ContentBlocks()
		if err != nil {
			continue
		}
		msg := Message{}
		for _, b := range blocks {
			switch b.Type {
			case "text":
				msg.Content = append(msg.Content, b.Text)
			case "tool_use":
				if len(b.Input) > 0 {
					msg.Content = append(msg.Content, string(b.Input))
				}
			case "tool_result":
				msg.Content = append(msg.Content, toolResultText(b.Content))
			}
		}
		messages = append(messages, msg)
	}

	system := make([]string, 0, len(req.System))
	for _, s := range req.System {
		system = append(system, s.Text)
	}

	tools := make([]Tool, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, Tool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}

	return Count(messages, system, tools)
}

// toolResultText returns content as-is if it's a JSON string, or its raw
// JSON serialization otherwise (spec.md §4.9).
func toolResultText(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(content, &asString); err == nil {
		return asString
	}
	return string(content)
}
