package orchestrator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aethercore/aether/internal/convo"
	"github.com/aethercore/aether/internal/settings"
	"github.com/aethercore/aether/internal/toolexec"
	"github.com/aethercore/aether/pkg/events"
)

type scriptedProvider struct {
	chunks []CompletionChunk
}

func (p *scriptedProvider) Complete(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, error) {
	ch := make(chan CompletionChunk, len(p.chunks))
	for _, c := range p.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func collect(t *testing.T, o *Orchestrator, req Request) []events.Event {
	t.Helper()
	var got []events.Event
	for ev, err := range o.Stream(context.Background(), req) {
		if err != nil {
			t.Fatalf("unexpected stream error: %v", err)
		}
		got = append(got, ev)
	}
	return got
}

func newTestOrchestrator(provider Provider) *Orchestrator {
	convos := convo.NewMemoryStore()
	registry := toolexec.NewRegistry()
	sr := settings.NewCachedReader(settings.NewMemoryStore())
	return New(provider, convos, registry, nil, sr)
}

func TestStream_SimpleTextResponse(t *testing.T) {
	provider := &scriptedProvider{chunks: []CompletionChunk{
		{Text: "hello "},
		{Text: "world"},
	}}
	o := newTestOrchestrator(provider)

	got := collect(t, o, Request{UserMessage: "hi"})

	var sawMetadata, sawDone bool
	var tokens string
	for _, ev := range got {
		switch ev.Type {
		case "token":
			tokens += ev.Delta
		case "metadata":
			sawMetadata = true
			sawDone = ev.ConversationID != ""
		}
	}
	if tokens != "hello world" {
		t.Fatalf("expected accumulated tokens 'hello world', got %q", tokens)
	}
	if !sawMetadata || !sawDone {
		t.Fatalf("expected terminal metadata event with conversation id")
	}
}

func TestStream_ThinkingSpanFiltered(t *testing.T) {
	provider := &scriptedProvider{chunks: []CompletionChunk{
		{Text: "<thinking>internal</thinking>visible"},
	}}
	o := newTestOrchestrator(provider)

	got := collect(t, o, Request{UserMessage: "hi"})

	var visible, think string
	for _, ev := range got {
		if ev.Type == "token" {
			visible += ev.Delta
		}
		if ev.Type == "thinking" {
			think += ev.Delta
		}
	}
	if visible != "visible" {
		t.Fatalf("expected visible 'visible', got %q", visible)
	}
	if think != "internal" {
		t.Fatalf("expected thinking 'internal', got %q", think)
	}
}

func TestStream_BackgroundRequestSuppressesEvents(t *testing.T) {
	provider := &scriptedProvider{chunks: []CompletionChunk{{Text: "A Short Title"}}}
	o := newTestOrchestrator(provider)

	got := collect(t, o, Request{UserMessage: "hi", SystemMessage: "Please generate a title for this chat"})

	for _, ev := range got {
		switch ev.Type {
		case "trace", "agent_start", "agent_end", "status", "delegation", "proposal_created":
			t.Fatalf("did not expect suppressed event type %s on background request", ev.Type)
		}
	}
	// Only the terminal metadata event should have been emitted.
	if len(got) != 1 || got[0].Type != "metadata" {
		t.Fatalf("expected only a terminal metadata event, got %+v", got)
	}
}

// roundScriptedProvider returns a different set of chunks on each
// successive Complete call, modeling a model round trip that calls a
// tool on round one and answers in text on round two.
type roundScriptedProvider struct {
	rounds [][]CompletionChunk
	round  int
}

func (p *roundScriptedProvider) Complete(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, error) {
	chunks := p.rounds[p.round]
	if p.round < len(p.rounds)-1 {
		p.round++
	}
	ch := make(chan CompletionChunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func TestStream_DelegatedToolCallBracketsTraceAndAgentFrames(t *testing.T) {
	reg := toolexec.NewRegistry()
	var sawConversationID, sawTraceParentID string
	var sawAgent string
	err := reg.Register("consult_data_science_team", []byte(`{"type":"object"}`), false, 0, func(ctx context.Context, input json.RawMessage) (string, error) {
		if ec, ok := toolexec.ExecutionContextFrom(ctx); ok {
			sawConversationID = ec.ConversationID
			sawTraceParentID = ec.TraceParentID
			if agent, ok := ec.ModelContext["agent"].(string); ok {
				sawAgent = agent
			}
		}
		return "consultation complete", nil
	})
	if err != nil {
		t.Fatalf("register tool: %v", err)
	}

	provider := &roundScriptedProvider{rounds: [][]CompletionChunk{
		{{ToolCalls: []toolexec.Call{{ID: "call-1", Name: "consult_data_science_team", Input: json.RawMessage(`{}`)}}}},
		{{Text: "done"}},
	}}

	convos := convo.NewMemoryStore()
	sr := settings.NewCachedReader(settings.NewMemoryStore())
	o := New(provider, convos, reg, nil, sr)

	got := collect(t, o, Request{UserMessage: "ask the data science team"})

	var traceSeq []string
	for _, ev := range got {
		if ev.Type == events.TypeTrace {
			traceSeq = append(traceSeq, string(ev.TraceEvent)+":"+ev.Agent)
		}
	}

	want := []string{
		"start:architect",
		"start:data_science_team",
		"tool_call:data_science_team",
		"tool_result:data_science_team",
		"end:data_science_team",
		"end:architect",
		"complete:",
	}
	if len(traceSeq) != len(want) {
		t.Fatalf("expected %d trace events, got %d: %v", len(want), len(traceSeq), traceSeq)
	}
	for i, w := range want {
		if traceSeq[i] != w {
			t.Fatalf("trace event %d: expected %q, got %q (full sequence: %v)", i, w, traceSeq[i], traceSeq)
		}
	}

	if sawConversationID == "" {
		t.Fatalf("expected ExecutionContext.ConversationID to be populated for the dispatched call")
	}
	if sawAgent != "data_science_team" {
		t.Fatalf("expected ExecutionContext.ModelContext[agent] = data_science_team, got %q", sawAgent)
	}
	_ = sawTraceParentID
}

func TestStream_DeterministicConversationIDForSameMessage(t *testing.T) {
	provider := &scriptedProvider{chunks: []CompletionChunk{{Text: "hi"}}}
	o1 := newTestOrchestrator(provider)
	o2 := newTestOrchestrator(&scriptedProvider{chunks: []CompletionChunk{{Text: "hi"}}})

	got1 := collect(t, o1, Request{UserMessage: "same message"})
	got2 := collect(t, o2, Request{UserMessage: "same message"})

	id1 := got1[len(got1)-1].ConversationID
	id2 := got2[len(got2)-1].ConversationID
	if id1 != id2 {
		t.Fatalf("expected deterministic conversation id for identical first message, got %q and %q", id1, id2)
	}
}
