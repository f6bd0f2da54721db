// Package subagent implements the Subagent Tool Loop (spec.md §4.8): it
// intercepts tool_use blocks owned by in-process agents from an SSE
// stream, executes them, and transparently continues the conversation via
// a loopback call to /v1/messages.
package subagent

import "context"

// CallContext is the per-request context passed to an agent's tool
// handler: the session id and the agent names enabled for the request.
// It does not carry the request body or the process configuration.
type CallContext struct {
	SessionID string
	Agents    []string
}

// Registry resolves which in-process agent owns a tool, and dispatches the
// call. It is an external collaborator (the agent-manager) — this package
// only depends on the narrow interface it needs.
type Registry interface {
	// OwnsTool reports which of the candidate agent names (if any) owns
	// toolName.
	OwnsTool(agents []string, toolName string) (agentName string, ok bool)

	// Call invokes agentName's handler for toolName with the parsed
	// arguments, returning the tool_result content on success.
	Call(ctx context.Context, agentName, toolName string, args map[string]any, callCtx CallContext) (result string, err error)
}

// EmptyRegistry owns no tools. It is the default Registry when no
// agent-manager is wired: the Loop then runs as a pure pass-through,
// since observe() only captures a block when OwnsTool reports true.
type EmptyRegistry struct{}

func (EmptyRegistry) OwnsTool(agents []string, toolName string) (string, bool) { return "", false }

func (EmptyRegistry) Call(ctx context.Context, agentName, toolName string, args map[string]any, callCtx CallContext) (string, error) {
	return "", nil
}
