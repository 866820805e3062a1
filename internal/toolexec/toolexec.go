// Package toolexec runs the tool-call dispatch loop for one agent turn:
// schema validation, per-tool timeouts, the mutating-vs-read-only split
// that routes mutations through the proposal gate instead of executing
// them directly, and the iteration bound that prevents a runaway
// tool/LLM ping-pong.
package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/aethercore/aether/internal/errs"
)

// ExecutionContext is the ambient, request-scoped carrier threaded
// through context.Context values for the duration of one streamed
// request: the conversation it belongs to, a factory for a session that
// commits exactly once at the end of a successful turn, the parent trace
// span, and free-form model context (routing hints, preset, etc).
//
// It is deliberately a plain struct rather than several independent
// context keys, so a single contextKey lookup recovers the whole carrier
// and callers cannot accidentally read it half-populated.
type ExecutionContext struct {
	ConversationID string
	TraceParentID  string
	ModelContext   map[string]any
	CommitSession  func(ctx context.Context) error
}

type executionContextKey struct{}

// WithExecutionContext attaches ec to ctx.
func WithExecutionContext(ctx context.Context, ec ExecutionContext) context.Context {
	return context.WithValue(ctx, executionContextKey{}, ec)
}

// ExecutionContextFrom recovers the ExecutionContext attached to ctx, if
// any.
func ExecutionContextFrom(ctx context.Context) (ExecutionContext, bool) {
	ec, ok := ctx.Value(executionContextKey{}).(ExecutionContext)
	return ec, ok
}

// Default tunables, overridden by settings.AppSettings.Chat at call
// sites.
const (
	DefaultMaxIterations  = 10
	DefaultToolTimeout    = 30 * time.Second
	DefaultAnalysisTimeout = 180 * time.Second
)

// Call is one requested tool invocation from the model.
type Call struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Result is the outcome of executing (or deferring) one Call.
type Result struct {
	CallID          string
	Output          string
	Error           string
	ApprovalPending bool   // true when the call was converted into a proposal instead of executed
	ProposalID      string // set when ApprovalPending
}

// Handler implements one tool's side effect. Mutating handlers are never
// invoked directly by Loop — see Registry.Register's mutating flag — but
// still implement this interface so the proposal-deploy path (internal/
// proposal.Deployer) and the direct-execute path share one shape.
type Handler func(ctx context.Context, input json.RawMessage) (string, error)

// ProposalFactory converts a mutating tool call into a pending proposal
// instead of executing it, returning the new proposal's identifier.
type ProposalFactory func(ctx context.Context, call Call) (proposalID string, err error)

// tool is one registered tool's metadata.
type tool struct {
	handler  Handler
	schema   *jsonschema.Schema
	mutating bool
	timeout  time.Duration
}

// Registry holds every tool the orchestrator can dispatch to, keyed by
// name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*tool)}
}

// Register adds a tool. schemaJSON is a JSON Schema document validating
// the tool's input; mutating tools are routed through propose instead of
// handler at dispatch time. A zero timeout uses DefaultToolTimeout.
func (r *Registry) Register(name string, schemaJSON []byte, mutating bool, timeout time.Duration, handler Handler) error {
	compiled, err := jsonschema.CompileString(name+".schema.json", string(schemaJSON))
	if err != nil {
		return errs.Validationf("tool %s: invalid schema: %v", name, err)
	}
	if timeout == 0 {
		timeout = DefaultToolTimeout
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = &tool{handler: handler, schema: compiled, mutating: mutating, timeout: timeout}
	return nil
}

func (r *Registry) get(name string) (*tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Loop drives the dispatch of a batch of tool calls requested by one
// model turn. Read-only tools execute against their handler within a
// per-tool timeout; mutating tools never execute here — they are handed
// to propose and the result carries ApprovalPending instead.
type Loop struct {
	registry *Registry
	propose  ProposalFactory
}

func NewLoop(registry *Registry, propose ProposalFactory) *Loop {
	return &Loop{registry: registry, propose: propose}
}

// Dispatch runs every call in calls, validating input against the tool's
// schema before execution.
func (l *Loop) Dispatch(ctx context.Context, calls []Call) []Result {
	results := make([]Result, len(calls))
	for i, c := range calls {
		results[i] = l.dispatchOne(ctx, c)
	}
	return results
}

func (l *Loop) dispatchOne(ctx context.Context, c Call) Result {
	t, ok := l.registry.get(c.Name)
	if !ok {
		return Result{CallID: c.ID, Error: errs.NotFoundf("tool %q not registered", c.Name).Error()}
	}

	var decoded any
	if len(c.Input) > 0 {
		if err := json.Unmarshal(c.Input, &decoded); err != nil {
			return Result{CallID: c.ID, Error: errs.Validationf("tool %s: input is not valid JSON: %v", c.Name, err).Error()}
		}
	}
	if err := t.schema.Validate(decoded); err != nil {
		return Result{CallID: c.ID, Error: errs.Validationf("tool %s: input failed schema validation: %v", c.Name, err).Error()}
	}

	if t.mutating {
		if l.propose == nil {
			return Result{CallID: c.ID, Error: errs.Fatal("mutating tool with no proposal factory configured", nil).Error()}
		}
		proposalID, err := l.propose(ctx, c)
		if err != nil {
			return Result{CallID: c.ID, Error: errs.Sanitized(err)}
		}
		return Result{CallID: c.ID, ApprovalPending: true, ProposalID: proposalID}
	}

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type outcome struct {
		out string
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: errs.Fatal(fmt.Sprintf("tool %s panicked: %v", c.Name, r), nil)}
			}
		}()
		out, err := t.handler(callCtx, c.Input)
		done <- outcome{out: out, err: err}
	}()

	select {
	case <-callCtx.Done():
		return Result{CallID: c.ID, Error: errs.Timeout(fmt.Sprintf("tool %s timed out after %s", c.Name, t.timeout)).Error()}
	case o := <-done:
		if o.err != nil {
			return Result{CallID: c.ID, Error: errs.Sanitized(errs.External("tool execution failed", o.err))}
		}
		return Result{CallID: c.ID, Output: o.out}
	}
}

// IterationBudget tracks the max_tool_iterations bound across one
// streamed turn: the orchestrator calls Consume once per model round
// trip and stops looping when it returns false.
type IterationBudget struct {
	max   int
	spent int
}

func NewIterationBudget(max int) *IterationBudget {
	if max <= 0 {
		max = DefaultMaxIterations
	}
	return &IterationBudget{max: max}
}

// Consume reports whether another round trip is permitted, incrementing
// the spent counter as a side effect.
func (b *IterationBudget) Consume() bool {
	if b.spent >= b.max {
		return false
	}
	b.spent++
	return true
}

// Exhausted reports whether the budget has been fully spent.
func (b *IterationBudget) Exhausted() bool {
	return b.spent >= b.max
}
