package subagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rakunlabs/ccr/internal/anthropic"
	"github.com/rakunlabs/ccr/internal/cache"
	"github.com/rakunlabs/ccr/internal/headers"
	"github.com/rakunlabs/ccr/internal/reqstate"
	"github.com/rakunlabs/ccr/internal/sse"
)

// DefaultFollowupTimeout bounds a single loopback call to /v1/messages when
// Loop.FollowupTimeout is left unset (spec.md §4.8 "a bounded, once-only
// continuation").
const DefaultFollowupTimeout = 60 * time.Second

// Loop drives the Subagent Tool Loop over one client request: it scans the
// upstream SSE stream for tool_use blocks owned by Registry, executes them,
// and transparently continues the conversation via a loopback call,
// forwarding the combined stream to the original client.
type Loop struct {
	Registry    Registry
	LoopbackURL string
	HTTPClient  *http.Client
	UsageCache  *cache.SessionUsageCache

	AuthType        reqstate.AuthType
	AuthToken       string
	NativeAnthropic bool

	// LoopbackSecret authorizes the loopback call to skip the gateway's own
	// inbound-auth state machine (spec.md §9 "short-circuit auth for local
	// loopback (preferred)"): without it, the follow-up request would be
	// re-authenticated from scratch and a provider API key resolved for
	// the parent request would be compared against the gateway's own
	// cfg.APIKey and rejected. Empty disables the short-circuit.
	LoopbackSecret string

	// FollowupTimeout overrides DefaultFollowupTimeout; zero means use
	// DefaultFollowupTimeout. server.Messages sets it per request from
	// config.Config.SubagentFollowupTimeoutDuration.
	FollowupTimeout time.Duration
}

func (l *Loop) followupTimeout() time.Duration {
	if l.FollowupTimeout > 0 {
		return l.FollowupTimeout
	}
	return DefaultFollowupTimeout
}

// Run processes primary (the first upstream response body) and, for every
// round of captured tool calls, performs a loopback call and continues
// forwarding until a round produces no tool calls. dst/flush mirror the
// client-facing http.ResponseWriter/http.Flusher pair.
func (l *Loop) Run(ctx context.Context, primary io.Reader, req *anthropic.Request, state *reqstate.State, dst io.Writer, flush func()) error {
	current := primary
	isFollowup := false
	var cancel context.CancelFunc

	for {
		m := newMachine(req.Agents)
		err := l.processStream(ctx, current, m, req, state, dst, flush, isFollowup)
		if isFollowup {
			if closer, ok := current.(io.Closer); ok {
				closer.Close()
			}
			cancel()
		}
		if err != nil {
			return err
		}
		if !m.hasToolMessages() {
			return nil
		}

		req.Messages = append(req.Messages,
			anthropic.Message{Role: "assistant", Content: mustMarshalBlocks(m.assistantBlock)},
			anthropic.Message{Role: "user", Content: mustMarshalBlocks(m.toolMessages)},
		)

		body, err := req.Rewrite()
		if err != nil {
			return fmt.Errorf("subagent: rewrite follow-up body: %w", err)
		}

		resp, followupCancel, err := l.callLoopback(ctx, body)
		if err != nil {
			return fmt.Errorf("subagent: loopback call: %w", err)
		}

		current = resp.Body
		cancel = followupCancel
		isFollowup = true
	}
}

// processStream scans one SSE stream, updating m and forwarding every event
// to dst except ones captured as part of a tool_use block, and (when
// filterStartStop is set, i.e. this is a follow-up stream) message_start and
// message_stop, which would otherwise duplicate the client's view of a
// single logical turn (spec.md §4.8).
func (l *Loop) processStream(ctx context.Context, r io.Reader, m *machine, req *anthropic.Request, state *reqstate.State, dst io.Writer, flush func(), filterStartStop bool) error {
	scanner := sse.NewScanner(r)

	for {
		ev, err := scanner.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("subagent: read stream: %w", err)
		}

		extractUsage(ev, l.UsageCache, state.SessionID)

		drop, completed := m.observe(ev.Name, []byte(ev.Data), l.Registry)
		if completed != nil {
			l.executeTool(ctx, m, completed, req, state)
		}
		if drop {
			continue
		}
		if filterStartStop && (ev.Name == "message_start" || ev.Name == "message_stop") {
			continue
		}

		if _, err := io.WriteString(dst, ev.Encode()); err != nil {
			return fmt.Errorf("subagent: write downstream: %w", err)
		}
		if flush != nil {
			flush()
		}
	}
}

func (l *Loop) executeTool(ctx context.Context, m *machine, tc *toolCapture, req *anthropic.Request, state *reqstate.State) {
	args, err := ParseToolArgsLenient(tc.argsJSON)
	if err != nil {
		m.recordToolUse(tc, map[string]any{})
		m.recordToolResult(tc, "", fmt.Errorf("parse tool arguments: %w", err))
		return
	}
	m.recordToolUse(tc, args)

	result, callErr := l.Registry.Call(ctx, tc.agentName, tc.name, args, CallContext{
		SessionID: state.SessionID,
		Agents:    req.Agents,
	})
	m.recordToolResult(tc, result, callErr)
}

// callLoopback issues the follow-up /v1/messages call under a bounded,
// once-only abortable context: the returned cancel must be called exactly
// once, after the caller is done reading resp.Body, to release the
// follow-up call's resources (spec.md §4.8 "a bounded, once-only
// continuation").
func (l *Loop) callLoopback(ctx context.Context, body []byte) (*http.Response, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, l.followupTimeout())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.LoopbackURL, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, nil, err
	}
	headers.ForSubagentFollowup(httpReq, l.AuthType, l.AuthToken, l.NativeAnthropic)
	if l.LoopbackSecret != "" {
		httpReq.Header.Set("X-Ccr-Loopback-Secret", l.LoopbackSecret)
		httpReq.Header.Set("X-Ccr-Loopback-Auth-Type", string(l.AuthType))
		httpReq.Header.Set("X-Ccr-Loopback-Auth-Token", l.AuthToken)
	}

	// A sortable id for correlating this follow-up call's logs with the
	// round that triggered it; ulid rather than uuid so log lines sort by
	// time without a separate timestamp field.
	followupID := ulid.Make().String()
	httpReq.Header.Set("X-CCR-Followup-Id", followupID)

	resp, err := l.HTTPClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	slog.Debug("subagent: follow-up call dispatched", "followup_id", followupID)

	return resp, cancel, nil
}

func mustMarshalBlocks(blocks []json.RawMessage) json.RawMessage {
	if len(blocks) == 0 {
		return json.RawMessage("[]")
	}
	out, err := json.Marshal(blocks)
	if err != nil {
		return json.RawMessage("[]")
	}
	return out
}

type usageDeltaEvent struct {
	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// extractUsage opportunistically tees usage counters out of message_start
// and message_delta events into the session usage cache, used by the
// long-context routing rule (spec.md §4.6, §4.10). Parse failures are
// silently ignored; this is a best-effort side channel, not load-bearing
// for the response itself.
func extractUsage(ev sse.Event, c *cache.SessionUsageCache, sessionID string) {
	if c == nil || sessionID == "" {
		return
	}
	if ev.Name != "message_start" && ev.Name != "message_delta" {
		return
	}

	var evt usageDeltaEvent
	if err := json.Unmarshal([]byte(ev.Data), &evt); err != nil || evt.Usage == nil {
		return
	}

	prev, _ := c.Get(sessionID)
	next := prev
	if evt.Usage.InputTokens > 0 {
		next.InputTokens = evt.Usage.InputTokens
	}
	if evt.Usage.OutputTokens > 0 {
		next.OutputTokens = evt.Usage.OutputTokens
	}
	c.Put(sessionID, next)
}
