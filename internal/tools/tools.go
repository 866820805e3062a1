// Package tools registers the fixed set of built-in tools the
// orchestrator dispatches to: read-only controller queries, data-science
// consultation and entity discovery executed inline, inline insight
// schedule creation, and mutating automation/entity-command/script/scene
// proposals (including the generalized seek_approval tool) routed
// through the HITL gate instead of touching the controller directly.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/aethercore/aether/internal/controller"
	"github.com/aethercore/aether/internal/insight"
	"github.com/aethercore/aether/internal/proposal"
	"github.com/aethercore/aether/internal/toolexec"
)

const (
	ToolGetState          = "get_entity_state"
	ToolCallService       = "call_service"
	ToolProposeAutomation = "propose_automation"
	ToolProposeEntityCmd  = "propose_entity_cmd"
	ToolProposeScript     = "propose_script"
	ToolProposeScene      = "propose_scene"

	ToolConsultDataScienceTeam = "consult_data_science_team"
	ToolDiscoverEntities       = "discover_entities"
	ToolCreateInsightSchedule  = "create_insight_schedule"
	ToolSeekApproval           = "seek_approval"
)

var getStateSchema = []byte(`{
	"type": "object",
	"properties": {"entity_id": {"type": "string"}},
	"required": ["entity_id"]
}`)

var automationSchema = []byte(`{
	"type": "object",
	"properties": {
		"trigger": {"type": "object"},
		"conditions": {"type": "array", "items": {"type": "object"}},
		"actions": {"type": "array", "items": {"type": "object"}}
	},
	"required": ["trigger", "actions"]
}`)

var entityCommandSchema = []byte(`{
	"type": "object",
	"properties": {
		"domain": {"type": "string"},
		"service": {"type": "string"},
		"data": {"type": "object"}
	},
	"required": ["domain", "service"]
}`)

var consultSchema = []byte(`{
	"type": "object",
	"properties": {
		"question": {"type": "string"},
		"entity_ids": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["question"]
}`)

var discoverSchema = []byte(`{
	"type": "object",
	"properties": {
		"query": {"type": "string"}
	}
}`)

var createScheduleSchema = []byte(`{
	"type": "object",
	"properties": {
		"label": {"type": "string"},
		"analysis_type": {"type": "string"},
		"entity_ids": {"type": "array", "items": {"type": "string"}},
		"lookback_hours": {"type": "integer"},
		"cron_expression": {"type": "string"},
		"depth": {"type": "string"},
		"strategy": {"type": "string"}
	},
	"required": ["label", "analysis_type", "cron_expression"]
}`)

// seekApprovalSchema's kind enum mirrors proposal.Kind exactly; the
// proposal factory below rejects anything the JSON schema itself would
// already have caught, so this is just the first line of validation.
var seekApprovalSchema = []byte(`{
	"type": "object",
	"properties": {
		"kind": {"type": "string", "enum": ["automation", "entity_command", "script", "scene"]},
		"trigger": {"type": "object"},
		"conditions": {"type": "array", "items": {"type": "object"}},
		"actions": {"type": "array", "items": {"type": "object"}},
		"domain": {"type": "string"},
		"service": {"type": "string"},
		"data": {"type": "object"}
	},
	"required": ["kind"]
}`)

// RegisterReadOnly adds the inline-executed tools backed by ctrl to reg.
func RegisterReadOnly(reg *toolexec.Registry, ctrl *controller.Client) error {
	return reg.Register(ToolGetState, getStateSchema, false, 0, func(ctx context.Context, input json.RawMessage) (string, error) {
		var args struct {
			EntityID string `json:"entity_id"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("decode get_entity_state input: %w", err)
		}
		state, err := ctrl.GetState(ctx, args.EntityID)
		if err != nil {
			return "", err
		}
		return string(state), nil
	})
}

// RegisterMutating adds the proposal-gated tools to reg. Mutating tools
// never run a handler directly; Registry.Register's mutating flag routes
// them through the ProposalFactory passed to toolexec.NewLoop instead.
func RegisterMutating(reg *toolexec.Registry) error {
	for _, kind := range []struct {
		name   string
		schema []byte
	}{
		{ToolProposeAutomation, automationSchema},
		{ToolProposeScript, automationSchema},
		{ToolProposeScene, automationSchema},
		{ToolProposeEntityCmd, entityCommandSchema},
		{ToolSeekApproval, seekApprovalSchema},
	} {
		if err := reg.Register(kind.name, kind.schema, true, 0, nil); err != nil {
			return err
		}
	}
	return nil
}

// toolToKind maps a statically-owned mutating tool name to the Proposal
// Kind its call should be recorded under. seek_approval is absent here
// on purpose: its kind is carried in the call body itself, not fixed by
// tool name, and is resolved by decodeProposalBody instead.
var toolToKind = map[string]proposal.Kind{
	ToolProposeAutomation: proposal.KindAutomation,
	ToolProposeEntityCmd:  proposal.KindEntityCommand,
	ToolProposeScript:     proposal.KindScript,
	ToolProposeScene:      proposal.KindScene,
}

// NewProposalFactory adapts a proposal.Store into the toolexec.
// ProposalFactory the orchestrator hands mutating tool calls to: it
// decodes the call's input into a Proposal body, persists a Proposed
// proposal, and returns its identifier.
func NewProposalFactory(store proposal.Store) toolexec.ProposalFactory {
	return func(ctx context.Context, call toolexec.Call) (string, error) {
		kind, body, err := decodeProposalBody(call)
		if err != nil {
			return "", err
		}

		p := proposal.New(kind, "", body)
		if err := p.Propose(); err != nil {
			return "", err
		}
		if err := store.Create(ctx, p); err != nil {
			return "", err
		}
		return p.ID, nil
	}
}

// decodeProposalBody resolves a mutating tool call into a proposal.Kind
// and its Body. The four propose_* tools carry a fixed kind per their
// tool name; seek_approval instead carries its kind as a "kind" field in
// the call body, generalizing the same body shapes to one tool.
func decodeProposalBody(call toolexec.Call) (proposal.Kind, proposal.Body, error) {
	kind, ok := toolToKind[call.Name]
	if !ok && call.Name != ToolSeekApproval {
		return "", proposal.Body{}, fmt.Errorf("tools: %q is not a known mutating tool", call.Name)
	}

	var args struct {
		Kind       proposal.Kind    `json:"kind"`
		Trigger    map[string]any   `json:"trigger"`
		Conditions []map[string]any `json:"conditions"`
		Actions    []map[string]any `json:"actions"`
		Domain     string           `json:"domain"`
		Service    string           `json:"service"`
		Data       map[string]any   `json:"data"`
	}
	if err := json.Unmarshal(call.Input, &args); err != nil {
		return "", proposal.Body{}, fmt.Errorf("decode %s input: %w", call.Name, err)
	}
	if call.Name == ToolSeekApproval {
		kind = args.Kind
	}

	var body proposal.Body
	switch kind {
	case proposal.KindEntityCommand:
		body.Domain, body.Service, body.Data = args.Domain, args.Service, args.Data
	case proposal.KindAutomation, proposal.KindScript, proposal.KindScene:
		body.Trigger, body.Conditions, body.Actions = args.Trigger, args.Conditions, args.Actions
	default:
		return "", proposal.Body{}, fmt.Errorf("tools: %q carries unknown proposal kind %q", call.Name, kind)
	}
	return kind, body, nil
}

// Consultant runs an ad hoc data-science consultation and returns its
// narrative answer; the scheduled analysis path and consult_data_science_
// team share this same pipeline from the caller's side.
type Consultant interface {
	Consult(ctx context.Context, question string, entityIDs []string) (string, error)
}

// RegisterConsultant adds consult_data_science_team, backed by c, to reg.
func RegisterConsultant(reg *toolexec.Registry, c Consultant) error {
	return reg.Register(ToolConsultDataScienceTeam, consultSchema, false, 0, func(ctx context.Context, input json.RawMessage) (string, error) {
		var args struct {
			Question  string   `json:"question"`
			EntityIDs []string `json:"entity_ids"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("decode consult_data_science_team input: %w", err)
		}
		return c.Consult(ctx, args.Question, args.EntityIDs)
	})
}

// EntityDiscoverer searches the controller's entity catalog.
type EntityDiscoverer interface {
	DiscoverEntities(ctx context.Context, query string) (json.RawMessage, error)
}

// RegisterDiscoverer adds discover_entities, backed by d, to reg.
func RegisterDiscoverer(reg *toolexec.Registry, d EntityDiscoverer) error {
	return reg.Register(ToolDiscoverEntities, discoverSchema, false, 0, func(ctx context.Context, input json.RawMessage) (string, error) {
		var args struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("decode discover_entities input: %w", err)
		}
		raw, err := d.DiscoverEntities(ctx, args.Query)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	})
}

// RegisterScheduleCreator adds create_insight_schedule to reg. Unlike the
// other tools here it is read-only from the controller's perspective but
// mutates insight schedule state directly — creating a Schedule needs no
// HITL gate since it only affects this core's own analysis cadence, never
// the external controller.
func RegisterScheduleCreator(reg *toolexec.Registry, store insight.Store) error {
	return reg.Register(ToolCreateInsightSchedule, createScheduleSchema, false, 0, func(ctx context.Context, input json.RawMessage) (string, error) {
		var args struct {
			Label         string   `json:"label"`
			AnalysisType  string   `json:"analysis_type"`
			EntityIDs     []string `json:"entity_ids"`
			LookbackHours int      `json:"lookback_hours"`
			CronExpr      string   `json:"cron_expression"`
			Depth         string   `json:"depth"`
			Strategy      string   `json:"strategy"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("decode create_insight_schedule input: %w", err)
		}
		lookback := args.LookbackHours
		if lookback == 0 {
			lookback = 24
		}
		depth := insight.Depth(args.Depth)
		if depth == "" {
			depth = insight.DepthStandard
		}
		strategy := insight.Strategy(args.Strategy)
		if strategy == "" {
			strategy = insight.StrategyParallel
		}
		sc := &insight.Schedule{
			ID:            insightScheduleID(),
			Label:         args.Label,
			Enabled:       true,
			AnalysisType:  args.AnalysisType,
			EntityIDs:     args.EntityIDs,
			LookbackHours: lookback,
			TriggerKind:   insight.TriggerCron,
			CronExpr:      args.CronExpr,
			Depth:         depth,
			Strategy:      strategy,
		}
		if err := sc.Validate(); err != nil {
			return "", err
		}
		if err := store.CreateSchedule(ctx, sc); err != nil {
			return "", err
		}
		return sc.ID, nil
	})
}

func insightScheduleID() string {
	return "sched_" + uuid.NewString()
}
