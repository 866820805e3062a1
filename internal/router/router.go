// Package router selects which named agent handles a request: the
// explicit agent named in the request, the preset's default, or the
// architect fallback — filtered by the caller's disabled-agent set, and
// maps tool names to the agent responsible for executing them.
package router

import (
	"strings"

	"github.com/aethercore/aether/internal/errs"
)

// Name identifies one of the fixed agent roles the orchestrator can
// delegate to.
type Name string

const (
	Architect       Name = "architect"
	DataScienceTeam Name = "data_science_team"
	Librarian       Name = "librarian"
	Developer       Name = "developer"
	System          Name = "system"
)

// All lists every known agent, in priority order for presentation.
var All = []Name{Architect, DataScienceTeam, Librarian, Developer, System}

func valid(n Name) bool {
	for _, a := range All {
		if a == n {
			return true
		}
	}
	return false
}

// toolOwners maps a tool name to the agent that colours the activity feed
// when that tool is called. The mapping is advisory, not a capability
// gate: any agent may still call any registered tool, this purely decides
// which agent frame a delegated tool call is attributed to. Unmapped
// tools (every home-automation query tool) default to the architect.
var toolOwners = map[string]Name{
	"consult_data_science_team": DataScienceTeam,
	"discover_entities":         Librarian,
	"create_insight_schedule":   System,
	"seek_approval":             System,
}

// OwnerOf returns the agent registered to execute tool, and whether one
// is registered. An unregistered tool is available to any agent.
func OwnerOf(tool string) (Name, bool) {
	n, ok := toolOwners[tool]
	return n, ok
}

// Routing is the computed outcome of a routing decision.
type Routing struct {
	Agent      Name
	Downgraded bool // true when the requested agent was disabled and the architect was substituted
}

// Resolve computes which agent should handle a request given an explicit
// request (may be empty), a preset default (may be empty) and the set of
// agents the caller has disabled. Architect is always the last resort and
// is never itself downgradable.
func Resolve(explicit Name, presetDefault Name, disabled map[Name]bool) (Routing, error) {
	candidate := explicit
	if candidate == "" {
		candidate = presetDefault
	}
	if candidate == "" {
		candidate = Architect
	}
	if !valid(candidate) {
		return Routing{}, errs.Validationf("unknown agent %q", candidate)
	}

	if disabled[candidate] && candidate != Architect {
		return Routing{Agent: Architect, Downgraded: true}, nil
	}
	return Routing{Agent: candidate}, nil
}

// backgroundMarkers are case-insensitive substrings found in a system
// message that identify a request as a background/utility call (e.g.
// conversation-title generation) rather than a user-facing turn. Such
// requests suppress trace/agent_start/agent_end/status/delegation/
// proposal_created events entirely.
var backgroundMarkers = []string{
	"generate a title",
	"generate a short title",
	"summarize this conversation",
}

// IsBackgroundRequest reports whether systemMessage marks the request as
// a background utility call.
func IsBackgroundRequest(systemMessage string) bool {
	lower := strings.ToLower(systemMessage)
	for _, m := range backgroundMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
