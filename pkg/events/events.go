// Package events defines the SSE-style event vocabulary emitted by the
// streaming orchestrator. Readers MUST tolerate unknown Type values by
// ignoring them; new event types may be added without breaking existing
// consumers.
package events

import "time"

// Type enumerates the event kinds the orchestrator may emit on a stream.
type Type string

const (
	TypeToken                Type = "token"
	TypeThinking             Type = "thinking"
	TypeToolCall             Type = "tool_call"
	TypeToolResult           Type = "tool_result"
	TypeAgentStart           Type = "agent_start"
	TypeAgentEnd             Type = "agent_end"
	TypeDelegation           Type = "delegation"
	TypeStatus               Type = "status"
	TypeRouting              Type = "routing"
	TypeClarificationOptions Type = "clarification_options"
	TypeProposalCreated      Type = "proposal_created"
	TypeApprovalRequired     Type = "approval_required"
	TypeTrace                Type = "trace"
	TypeMetadata             Type = "metadata"
	TypeError                Type = "error"
)

// Done is the literal sentinel terminating every stream.
const Done = "[DONE]"

// TraceLifecycle enumerates the lifecycle markers carried on a Trace event.
type TraceLifecycle string

const (
	TraceStart     TraceLifecycle = "start"
	TraceEnd       TraceLifecycle = "end"
	TraceToolCall  TraceLifecycle = "tool_call"
	TraceToolResult TraceLifecycle = "tool_result"
	TraceComplete  TraceLifecycle = "complete"
)

// ClarificationOption is one user-facing choice offered when routing is
// ambiguous.
type ClarificationOption struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Event is the Go mirror of one wire-level SSE event. Only the fields
// relevant to Type are populated; the rest are zero values.
type Event struct {
	Type     Type      `json:"type"`
	Sequence uint64    `json:"-"`
	Time     time.Time `json:"-"`

	// token / thinking
	Delta string `json:"delta,omitempty"`

	// tool_call / tool_result
	Agent      string `json:"agent,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	ToolInput  []byte `json:"tool_input,omitempty"`
	ToolOutput []byte `json:"tool_output,omitempty"`
	ToolError  string `json:"tool_error,omitempty"`

	// agent_start / agent_end / delegation
	FromAgent string `json:"from_agent,omitempty"`
	ToAgent   string `json:"to_agent,omitempty"`
	Content   string `json:"content,omitempty"`

	// status
	Status string `json:"status,omitempty"`

	// routing
	RoutedAgent string  `json:"routed_agent,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	Reasoning   string  `json:"reasoning,omitempty"`

	// clarification_options
	Options []ClarificationOption `json:"options,omitempty"`

	// proposal_created / approval_required
	ProposalID string `json:"proposal_id,omitempty"`

	// trace
	TraceEvent  TraceLifecycle `json:"trace_event,omitempty"`
	TraceAgents []string       `json:"trace_agents,omitempty"`

	// metadata
	ConversationID string   `json:"conversation_id,omitempty"`
	TraceID        string   `json:"trace_id,omitempty"`
	JobID          string   `json:"job_id,omitempty"`
	ToolCalls      []string `json:"tool_calls,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}
