// Package proposal implements the HITL approval gate between an agent's
// intent to mutate the external controller and the actual deployment:
// Draft -> Proposed -> {Approved, Rejected} -> Deployed -> RolledBack ->
// Archived. Every transition is a guarded method; illegal transitions
// return an errs.StateConflict error and leave the proposal unchanged.
package proposal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aethercore/aether/internal/errs"
)

// Kind identifies the declarative body shape a Proposal carries.
type Kind string

const (
	KindAutomation    Kind = "automation"
	KindEntityCommand Kind = "entity_command"
	KindScript        Kind = "script"
	KindScene         Kind = "scene"
)

// Status is a node in the proposal lifecycle graph.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusProposed   Status = "proposed"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusDeployed   Status = "deployed"
	StatusRolledBack Status = "rolled_back"
	StatusArchived   Status = "archived"
)

// Body is the declarative payload of a Proposal. Exactly one of the
// Automation or EntityCommand shapes is meaningful per Kind.
type Body struct {
	// Automation fields (Kind == KindAutomation)
	Trigger    map[string]any
	Conditions []map[string]any
	Actions    []map[string]any

	// EntityCommand fields (Kind == KindEntityCommand)
	Domain  string
	Service string
	Data    map[string]any
}

// Proposal is the persisted intent to mutate the external controller,
// gated by the state machine below.
type Proposal struct {
	ID                 string
	ConversationID     string // optional, may be empty
	Kind               Kind
	Body               Body
	Status             Status
	ExternalID         string // set on Deployed
	Approver           string // set on Approved
	RejectionReason    string // set on Rejected
	OriginalYAML       string
	ReviewNotes        []string
	HADisabled         bool   // set on RolledBack: did the best-effort disable succeed
	HAError            string // set on RolledBack when the disable attempt failed

	CreatedAt    time.Time
	ProposedAt   time.Time
	ApprovedAt   time.Time
	RejectedAt   time.Time
	DeployedAt   time.Time
	RolledBackAt time.Time
	ArchivedAt   time.Time
}

// New creates a Draft proposal.
func New(kind Kind, conversationID string, body Body) *Proposal {
	return &Proposal{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Kind:           kind,
		Body:           body,
		Status:         StatusDraft,
		CreatedAt:      time.Now(),
	}
}

func (p *Proposal) conflict(action string) error {
	return errs.StateConflictf("proposal %s: cannot %s from status %q", p.ID, action, p.Status)
}

// Propose moves Draft -> Proposed.
func (p *Proposal) Propose() error {
	if p.Status != StatusDraft {
		return p.conflict("propose")
	}
	p.Status = StatusProposed
	p.ProposedAt = time.Now()
	return nil
}

// Approve moves Proposed -> Approved, recording the approver.
func (p *Proposal) Approve(by string) error {
	if p.Status != StatusProposed {
		return p.conflict("approve")
	}
	p.Status = StatusApproved
	p.Approver = by
	p.ApprovedAt = time.Now()
	return nil
}

// Reject moves Proposed -> Rejected, or Approved -> Rejected (late
// rejection is allowed per spec).
func (p *Proposal) Reject(reason string) error {
	if p.Status != StatusProposed && p.Status != StatusApproved {
		return p.conflict("reject")
	}
	p.Status = StatusRejected
	p.RejectionReason = reason
	p.RejectedAt = time.Now()
	return nil
}

// Deploy moves Approved -> Deployed, recording the controller-assigned
// identifier. Callers invoke this only after a successful Deployer call;
// on controller failure the proposal must remain Approved.
func (p *Proposal) Deploy(externalID string) error {
	if p.Status != StatusApproved {
		return p.conflict("deploy")
	}
	p.Status = StatusDeployed
	p.ExternalID = externalID
	p.DeployedAt = time.Now()
	return nil
}

// Rollback moves Deployed -> RolledBack. This is always recorded
// regardless of whether the best-effort controller disable succeeded;
// haDisabled/haErr capture that outcome for the caller.
func (p *Proposal) Rollback(haDisabled bool, haErr string) error {
	if p.Status != StatusDeployed {
		return p.conflict("rollback")
	}
	p.Status = StatusRolledBack
	p.HADisabled = haDisabled
	p.HAError = haErr
	p.RolledBackAt = time.Now()
	return nil
}

// Archive moves {Rejected, RolledBack} -> Archived, a terminal state.
func (p *Proposal) Archive() error {
	if p.Status != StatusRejected && p.Status != StatusRolledBack {
		return p.conflict("archive")
	}
	p.Status = StatusArchived
	p.ArchivedAt = time.Now()
	return nil
}

// Deployer renders and sends an approved proposal's declarative body to
// the external controller. The core depends only on this narrow
// interface; the controller wire protocol is out of scope (spec §1).
type Deployer interface {
	// DeployAutomation sends a rendered automation and returns the
	// controller-assigned identifier.
	DeployAutomation(ctx context.Context, p *Proposal) (externalID string, err error)
	// CallService invokes a single service call for an EntityCommand
	// proposal.
	CallService(ctx context.Context, domain, service string, data map[string]any) error
	// Disable attempts to disable a deployed automation/entity on the
	// controller, best-effort, returning whether it succeeded.
	Disable(ctx context.Context, externalID string) (ok bool, err error)
}

// DeployWith attempts to deploy an Approved proposal via the given Deployer.
// On controller failure the proposal remains Approved and the error
// surfaces to the caller.
func DeployWith(ctx context.Context, p *Proposal, d Deployer) error {
	if p.Status != StatusApproved {
		return p.conflict("deploy")
	}
	switch p.Kind {
	case KindAutomation, KindScript, KindScene:
		externalID, err := d.DeployAutomation(ctx, p)
		if err != nil {
			return errs.External("controller rejected automation", err)
		}
		return p.Deploy(externalID)
	case KindEntityCommand:
		if err := d.CallService(ctx, p.Body.Domain, p.Body.Service, p.Body.Data); err != nil {
			return errs.External("controller rejected service call", err)
		}
		return p.Deploy("")
	default:
		return errs.Validationf("unknown proposal kind %q", p.Kind)
	}
}

// RollbackWith attempts a best-effort disable on the controller before
// recording the RolledBack transition, regardless of the disable outcome.
func RollbackWith(ctx context.Context, p *Proposal, d Deployer) error {
	if p.Status != StatusDeployed {
		return p.conflict("rollback")
	}
	ok, err := d.Disable(ctx, p.ExternalID)
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	return p.Rollback(ok, errMsg)
}

// Store is the repository interface the HITL gate depends on.
type Store interface {
	Create(ctx context.Context, p *Proposal) error
	Get(ctx context.Context, id string) (*Proposal, error)
	Update(ctx context.Context, p *Proposal) error
	ListByStatus(ctx context.Context, status Status) ([]*Proposal, error)
}

// MemoryStore is a thread-safe in-memory Store for tests and
// single-instance deployments.
type MemoryStore struct {
	mu        sync.RWMutex
	proposals map[string]*Proposal
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{proposals: make(map[string]*Proposal)}
}

func (s *MemoryStore) Create(ctx context.Context, p *Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.proposals[p.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, errs.NotFoundf("proposal %s not found", id)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, p *Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[p.ID]; !ok {
		return errs.NotFoundf("proposal %s not found", p.ID)
	}
	cp := *p
	s.proposals[p.ID] = &cp
	return nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status Status) ([]*Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Proposal
	for _, p := range s.proposals {
		if p.Status == status {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}
