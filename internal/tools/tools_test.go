package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethercore/aether/internal/insight"
	"github.com/aethercore/aether/internal/proposal"
	"github.com/aethercore/aether/internal/toolexec"
)

func TestRegisterMutating_AllKindsRouteThroughProposalFactory(t *testing.T) {
	reg := toolexec.NewRegistry()
	require.NoError(t, RegisterMutating(reg))

	store := proposal.NewMemoryStore()
	loop := toolexec.NewLoop(reg, NewProposalFactory(store))

	entityInput, err := json.Marshal(map[string]any{"domain": "light", "service": "turn_on"})
	require.NoError(t, err)
	automationInput, err := json.Marshal(map[string]any{
		"trigger": map[string]any{"platform": "state"},
		"actions": []map[string]any{{"service": "light.turn_on"}},
	})
	require.NoError(t, err)

	for name, kind := range toolToKind {
		input := automationInput
		if kind == proposal.KindEntityCommand {
			input = entityInput
		}
		results := loop.Dispatch(context.Background(), []toolexec.Call{{ID: "call-" + name, Name: name, Input: input}})
		require.Len(t, results, 1)
		assert.Truef(t, results[0].ApprovalPending, "expected %s to route through the proposal gate", name)
		assert.Emptyf(t, results[0].Error, "unexpected error for %s: %s", name, results[0].Error)
	}
}

func TestNewProposalFactory_EntityCommand(t *testing.T) {
	store := proposal.NewMemoryStore()
	factory := NewProposalFactory(store)

	input, err := json.Marshal(map[string]any{
		"domain":  "light",
		"service": "turn_on",
		"data":    map[string]any{"brightness": 200},
	})
	require.NoError(t, err)

	id, err := factory(context.Background(), toolexec.Call{
		ID:    "call-1",
		Name:  ToolProposeEntityCmd,
		Input: input,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	p, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, proposal.KindEntityCommand, p.Kind)
	assert.Equal(t, proposal.StatusProposed, p.Status)
	assert.Equal(t, "light", p.Body.Domain)
	assert.Equal(t, "turn_on", p.Body.Service)
}

func TestNewProposalFactory_Automation(t *testing.T) {
	store := proposal.NewMemoryStore()
	factory := NewProposalFactory(store)

	input, err := json.Marshal(map[string]any{
		"trigger": map[string]any{"platform": "state", "entity_id": "binary_sensor.door"},
		"actions": []map[string]any{{"service": "light.turn_on"}},
	})
	require.NoError(t, err)

	id, err := factory(context.Background(), toolexec.Call{
		ID:    "call-2",
		Name:  ToolProposeAutomation,
		Input: input,
	})
	require.NoError(t, err)

	p, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, proposal.KindAutomation, p.Kind)
	assert.Len(t, p.Body.Actions, 1)
}

func TestNewProposalFactory_UnknownTool(t *testing.T) {
	store := proposal.NewMemoryStore()
	factory := NewProposalFactory(store)

	_, err := factory(context.Background(), toolexec.Call{ID: "call-3", Name: "not_a_tool"})
	assert.Error(t, err)
}

func TestNewProposalFactory_SeekApproval(t *testing.T) {
	store := proposal.NewMemoryStore()
	factory := NewProposalFactory(store)

	input, err := json.Marshal(map[string]any{
		"kind":    "script",
		"trigger": map[string]any{"platform": "state"},
		"actions": []map[string]any{{"service": "script.turn_on"}},
	})
	require.NoError(t, err)

	id, err := factory(context.Background(), toolexec.Call{
		ID:    "call-4",
		Name:  ToolSeekApproval,
		Input: input,
	})
	require.NoError(t, err)

	p, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, proposal.KindScript, p.Kind)
	assert.Len(t, p.Body.Actions, 1)
}

func TestNewProposalFactory_SeekApprovalUnknownKind(t *testing.T) {
	store := proposal.NewMemoryStore()
	factory := NewProposalFactory(store)

	input, err := json.Marshal(map[string]any{"kind": "not_a_kind"})
	require.NoError(t, err)

	_, err = factory(context.Background(), toolexec.Call{ID: "call-5", Name: ToolSeekApproval, Input: input})
	assert.Error(t, err)
}

type stubConsultant struct {
	question  string
	entityIDs []string
	answer    string
}

func (s *stubConsultant) Consult(_ context.Context, question string, entityIDs []string) (string, error) {
	s.question, s.entityIDs = question, entityIDs
	return s.answer, nil
}

func TestRegisterConsultant(t *testing.T) {
	reg := toolexec.NewRegistry()
	stub := &stubConsultant{answer: "looks fine"}
	require.NoError(t, RegisterConsultant(reg, stub))

	input, err := json.Marshal(map[string]any{"question": "is the thermostat schedule sane?", "entity_ids": []string{"climate.hallway"}})
	require.NoError(t, err)

	loop := toolexec.NewLoop(reg, NewProposalFactory(proposal.NewMemoryStore()))
	results := loop.Dispatch(context.Background(), []toolexec.Call{{ID: "call-6", Name: ToolConsultDataScienceTeam, Input: input}})
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Error)
	assert.Equal(t, "looks fine", results[0].Output)
	assert.Equal(t, "is the thermostat schedule sane?", stub.question)
	assert.Equal(t, []string{"climate.hallway"}, stub.entityIDs)
}

type stubDiscoverer struct {
	query string
}

func (s *stubDiscoverer) DiscoverEntities(_ context.Context, query string) (json.RawMessage, error) {
	s.query = query
	return json.RawMessage(`[{"entity_id":"light.kitchen"}]`), nil
}

func TestRegisterDiscoverer(t *testing.T) {
	reg := toolexec.NewRegistry()
	stub := &stubDiscoverer{}
	require.NoError(t, RegisterDiscoverer(reg, stub))

	input, err := json.Marshal(map[string]any{"query": "kitchen"})
	require.NoError(t, err)

	loop := toolexec.NewLoop(reg, NewProposalFactory(proposal.NewMemoryStore()))
	results := loop.Dispatch(context.Background(), []toolexec.Call{{ID: "call-7", Name: ToolDiscoverEntities, Input: input}})
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Error)
	assert.Contains(t, results[0].Output, "light.kitchen")
	assert.Equal(t, "kitchen", stub.query)
}

func TestRegisterScheduleCreator(t *testing.T) {
	reg := toolexec.NewRegistry()
	store := insight.NewMemoryStore()
	require.NoError(t, RegisterScheduleCreator(reg, store))

	input, err := json.Marshal(map[string]any{
		"label":          "nightly energy review",
		"analysis_type":  "energy_usage",
		"cron_expression": "0 3 * * *",
	})
	require.NoError(t, err)

	loop := toolexec.NewLoop(reg, NewProposalFactory(proposal.NewMemoryStore()))
	results := loop.Dispatch(context.Background(), []toolexec.Call{{ID: "call-8", Name: ToolCreateInsightSchedule, Input: input}})
	require.Len(t, results, 1)
	require.Empty(t, results[0].Error)

	sc, err := store.GetSchedule(context.Background(), results[0].Output)
	require.NoError(t, err)
	assert.Equal(t, "nightly energy review", sc.Label)
	assert.Equal(t, 24, sc.LookbackHours)
	assert.Equal(t, insight.DepthStandard, sc.Depth)
	assert.Equal(t, insight.StrategyParallel, sc.Strategy)
}
