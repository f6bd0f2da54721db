// Package tokencount implements the Token Counter: a pure function over a
// request's messages, system prompt, and tool definitions, using a fixed
// byte-pair encoding (spec.md §4.9).
package tokencount

import (
	"encoding/json"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	_ "github.com/pkoukk/tiktoken-go-loader"
)

const encodingName = "cl100k_base"

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func encoding() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding(encodingName)
	})
	return enc, encErr
}

// Message is the minimal shape the counter needs from a request message;
// Content holds already-flattened text/JSON fragments contributed by each
// content block (text, tool_use.input, tool_result.content).
type Message struct {
	Content []string
}

// Tool is the minimal shape needed from a tool definition.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Count returns the total token count across messages, the system prompt
// fragments, and tool definitions. Returns 0, err if the encoder could not
// be loaded.
func Count(messages []Message, system []string, tools []Tool) (int, error) {
	e, err := encoding()
	if err != nil {
		return 0, err
	}

	total := 0
	for _, m := range messages {
		for _, c := range m.Content {
			total += len(e.Encode(c, nil, nil))
		}
	}
	for _, s := range system {
		total += len(e.Encode(s, nil, nil))
	}
	for _, t := range tools {
		total += len(e.Encode(t.Name+t.Description, nil, nil))
		if len(t.InputSchema) > 0 {
			total += len(e.Encode(string(t.InputSchema), nil, nil))
		}
	}

	return total, nil
}
