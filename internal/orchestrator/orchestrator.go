// Package orchestrator drives one streamed request end to end: routing
// to an agent, running the model/tool-call loop, filtering thinking
// spans, gating mutating tool calls behind proposals, and emitting the
// typed event sequence a transport renders as SSE.
package orchestrator

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/aethercore/aether/internal/convo"
	"github.com/aethercore/aether/internal/errs"
	"github.com/aethercore/aether/internal/observability"
	"github.com/aethercore/aether/internal/router"
	"github.com/aethercore/aether/internal/settings"
	"github.com/aethercore/aether/internal/thinking"
	"github.com/aethercore/aether/internal/toolexec"
	"github.com/aethercore/aether/pkg/events"

	"go.opentelemetry.io/otel/trace"
)

// CompletionMessage is one turn handed to the model provider.
type CompletionMessage struct {
	Role    convo.Role
	Content string
}

// CompletionRequest is what Orchestrator sends to a Provider for one
// model round trip.
type CompletionRequest struct {
	Agent    router.Name
	System   string
	Messages []CompletionMessage
	Tools    []string
}

// CompletionChunk is one increment of a Provider's streamed response.
type CompletionChunk struct {
	Text          string
	Thinking      string
	ToolCalls     []toolexec.Call
	Done          bool
	Err           error
}

// Provider abstracts the model backend; the reference implementation
// wraps the Anthropic SDK.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, error)
}

// Request is one inbound streamed chat request.
type Request struct {
	ConversationID string // optional; when empty, derived deterministically from UserMessage, or random for background requests
	UserMessage    string
	SystemMessage  string
	ExplicitAgent  router.Name
	Preset         router.Name
	DisabledAgents map[router.Name]bool
}

// Orchestrator wires together routing, the provider, the tool dispatch
// loop and the conversation store into one streamed turn.
type Orchestrator struct {
	provider   Provider
	convos     convo.Store
	registry   *toolexec.Registry
	propose    toolexec.ProposalFactory
	settings   *settings.CachedReader
	tracer     *observability.Tracer
}

func New(provider Provider, convos convo.Store, registry *toolexec.Registry, propose toolexec.ProposalFactory, sr *settings.CachedReader) *Orchestrator {
	return &Orchestrator{provider: provider, convos: convos, registry: registry, propose: propose, settings: sr}
}

// WithTracer attaches a Tracer that spans each streamed turn and the
// model round trips within it. Safe to skip; Stream works untraced.
func (o *Orchestrator) WithTracer(t *observability.Tracer) *Orchestrator {
	o.tracer = t
	return o
}

// Stream runs one request end to end, yielding events as they are
// produced. A successful stream ends with a metadata event; a failed one
// ends with an error event or a non-nil error. events.Done is not
// yielded: it is the renderer sentinel that transports append after
// ranging over this sequence.
func (o *Orchestrator) Stream(ctx context.Context, req Request) iter.Seq2[events.Event, error] {
	return func(yield func(events.Event, error) bool) {
		cfg, err := o.settings.Get(ctx)
		if err != nil {
			yield(events.Event{}, err)
			return
		}

		background := router.IsBackgroundRequest(req.SystemMessage)

		streamCtx, cancel := context.WithTimeout(ctx, cfg.Chat.StreamTimeout)
		defer cancel()

		conversationID := req.ConversationID
		if conversationID == "" {
			if background {
				conversationID = convo.NewID()
			} else {
				conversationID = convo.DeriveID(req.UserMessage)
			}
		}

		conv, getErr := o.convos.Get(streamCtx, conversationID)
		if getErr != nil {
			yield(events.Event{}, getErr)
			return
		}
		if conv == nil {
			conv = &convo.Conversation{ID: conversationID, Status: convo.StatusActive}
			if err := o.convos.Create(streamCtx, conv); err != nil {
				yield(events.Event{}, err)
				return
			}
		}

		routing, err := router.Resolve(req.ExplicitAgent, req.Preset, req.DisabledAgents)
		if err != nil {
			yield(events.Event{}, err)
			return
		}

		traceID := ""
		if o.tracer != nil {
			var span trace.Span
			streamCtx, span = o.tracer.TraceAgentTurn(streamCtx, string(routing.Agent), conversationID)
			defer span.End()
			traceID = observability.TraceID(streamCtx)
		}

		// agentStack tracks which agent frame is "current" for trace/
		// agent_start/agent_end attribution. push enters a frame (emitting
		// agent_start and a tagged trace(start)); pop leaves it in LIFO
		// order (trace(end) then agent_end). agentsUsed accumulates the
		// deduplicated, order-preserving set reported on trace(complete).
		var agentStack []router.Name
		var agentsUsed []string
		seenAgents := make(map[string]bool)

		stackTop := func() router.Name {
			return agentStack[len(agentStack)-1]
		}
		push := func(agent router.Name) bool {
			if !background {
				if !yield(events.Event{Type: events.TypeTrace, TraceEvent: events.TraceStart, Agent: string(agent)}, nil) {
					return false
				}
				if !yield(events.Event{Type: events.TypeAgentStart, Agent: string(agent)}, nil) {
					return false
				}
			}
			agentStack = append(agentStack, agent)
			if !seenAgents[string(agent)] {
				seenAgents[string(agent)] = true
				agentsUsed = append(agentsUsed, string(agent))
			}
			return true
		}
		pop := func() bool {
			agent := stackTop()
			agentStack = agentStack[:len(agentStack)-1]
			if !background {
				if !yield(events.Event{Type: events.TypeTrace, TraceEvent: events.TraceEnd, Agent: string(agent)}, nil) {
					return false
				}
				if !yield(events.Event{Type: events.TypeAgentEnd, Agent: string(agent)}, nil) {
					return false
				}
			}
			return true
		}

		if !background {
			if !yield(events.Event{Type: events.TypeRouting, RoutedAgent: string(routing.Agent), Confidence: 1.0}, nil) {
				return
			}
		}
		if !push(routing.Agent) {
			return
		}

		budget := toolexec.NewIterationBudget(cfg.Chat.MaxToolIterations)
		loop := toolexec.NewLoop(o.registry, o.propose)
		filter := thinking.NewFilter()

		var visibleAccum strings.Builder

		messages := []CompletionMessage{{Role: convo.RoleUser, Content: req.UserMessage}}

		for {
			select {
			case <-streamCtx.Done():
				yield(events.Event{Type: events.TypeError, Error: "stream timed out"}, nil)
				return
			default:
			}

			chunks, err := o.provider.Complete(streamCtx, CompletionRequest{
				Agent:    routing.Agent,
				System:   req.SystemMessage,
				Messages: messages,
			})
			if err != nil {
				yield(events.Event{Type: events.TypeError, Error: errs.Sanitized(err)}, nil)
				return
			}

			var pendingCalls []toolexec.Call

			for chunk := range chunks {
				if chunk.Err != nil {
					yield(events.Event{Type: events.TypeError, Error: errs.Sanitized(chunk.Err)}, nil)
					return
				}

				if chunk.Text != "" {
					res := filter.Write(chunk.Text)
					if res.Visible != "" {
						visibleAccum.WriteString(res.Visible)
						if !background {
							if !yield(events.Event{Type: events.TypeToken, Delta: res.Visible, Agent: string(routing.Agent)}, nil) {
								return
							}
						}
					}
					if res.Thinking != "" && !background {
						if !yield(events.Event{Type: events.TypeThinking, Delta: res.Thinking, Agent: string(routing.Agent)}, nil) {
							return
						}
					}
				}
				if chunk.Thinking != "" && !background {
					if !yield(events.Event{Type: events.TypeThinking, Delta: chunk.Thinking, Agent: string(routing.Agent)}, nil) {
						return
					}
				}

				pendingCalls = append(pendingCalls, chunk.ToolCalls...)
			}

			flushed := filter.Flush()
			if flushed.Visible != "" {
				visibleAccum.WriteString(flushed.Visible)
				if !background {
					if !yield(events.Event{Type: events.TypeToken, Delta: flushed.Visible, Agent: string(routing.Agent)}, nil) {
						return
					}
				}
			}

			if len(pendingCalls) == 0 {
				break
			}

			if !budget.Consume() {
				yield(events.Event{Type: events.TypeError, Error: "max tool iterations exceeded"}, nil)
				break
			}

			// Calls are dispatched one at a time (rather than batched into a
			// single loop.Dispatch call) so a delegated call's agent frame
			// correctly brackets just that call's tool_call/tool_result and
			// nested mismatches unwind in LIFO order.
			toolMessages := make([]CompletionMessage, 0, len(pendingCalls))
			for _, c := range pendingCalls {
				owner, hasOwner := router.OwnerOf(c.Name)
				if !hasOwner {
					owner = router.Architect
				}
				delegated := owner != stackTop()
				if delegated {
					if !background {
						if !yield(events.Event{Type: events.TypeDelegation, FromAgent: string(stackTop()), ToAgent: string(owner)}, nil) {
							return
						}
					}
					if !push(owner) {
						return
					}
				}
				current := stackTop()

				if !background {
					if !yield(events.Event{Type: events.TypeToolCall, Agent: string(current), ToolCallID: c.ID, ToolName: c.Name, ToolInput: c.Input}, nil) {
						return
					}
					if !yield(events.Event{Type: events.TypeTrace, TraceEvent: events.TraceToolCall, Agent: string(current), ToolName: c.Name}, nil) {
						return
					}
				}

				dispatchCtx := toolexec.WithExecutionContext(streamCtx, toolexec.ExecutionContext{
					ConversationID: conversationID,
					TraceParentID:  traceID,
					ModelContext:   map[string]any{"agent": string(current)},
				})
				result := loop.Dispatch(dispatchCtx, []toolexec.Call{c})[0]

				if result.ApprovalPending {
					if !background {
						if !yield(events.Event{Type: events.TypeProposalCreated, ProposalID: result.ProposalID}, nil) {
							return
						}
						if !yield(events.Event{Type: events.TypeApprovalRequired, ProposalID: result.ProposalID}, nil) {
							return
						}
						if !yield(events.Event{Type: events.TypeTrace, TraceEvent: events.TraceToolResult, Agent: string(current)}, nil) {
							return
						}
					}
					toolMessages = append(toolMessages, CompletionMessage{Role: convo.RoleTool, Content: "awaiting approval"})
				} else {
					if !background {
						if !yield(events.Event{Type: events.TypeToolResult, ToolCallID: result.CallID, ToolOutput: []byte(result.Output), ToolError: result.Error}, nil) {
							return
						}
						if !yield(events.Event{Type: events.TypeTrace, TraceEvent: events.TraceToolResult, Agent: string(current)}, nil) {
							return
						}
					}
					content := result.Output
					if result.Error != "" {
						content = result.Error
					}
					toolMessages = append(toolMessages, CompletionMessage{Role: convo.RoleTool, Content: content})
				}

				if delegated {
					if !pop() {
						return
					}
				}
			}
			messages = append(messages, toolMessages...)
		}

		if !pop() {
			return
		}

		assistantMsg := convo.Message{
			ID:             convo.NewID(),
			ConversationID: conversationID,
			Role:           convo.RoleAssistant,
			Content:        visibleAccum.String(),
			CreatedAt:      time.Now(),
		}
		if commitErr := o.convos.AppendMessage(streamCtx, conversationID, assistantMsg); commitErr != nil {
			yield(events.Event{Type: events.TypeError, Error: fmt.Sprintf("commit failed: %v", commitErr)}, nil)
			return
		}

		if !background {
			if !yield(events.Event{Type: events.TypeTrace, TraceEvent: events.TraceComplete, TraceAgents: agentsUsed}, nil) {
				return
			}
		}

		yield(events.Event{Type: events.TypeMetadata, ConversationID: conversationID, TraceID: traceID}, nil)
	}
}
