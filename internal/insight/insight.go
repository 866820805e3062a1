// Package insight holds the Insight, AnalysisReport and InsightSchedule
// entities produced and consumed by the scheduler and the data-science-team
// agent.
package insight

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aethercore/aether/internal/errs"
)

// Impact ranks how significant an Insight is, used both for display and
// for the notifier's min_impact gate.
type Impact string

const (
	ImpactLow      Impact = "low"
	ImpactMedium   Impact = "medium"
	ImpactHigh     Impact = "high"
	ImpactCritical Impact = "critical"
)

var impactRank = map[Impact]int{
	ImpactLow: 0, ImpactMedium: 1, ImpactHigh: 2, ImpactCritical: 3,
}

// GreaterOrEqual reports whether i is at least as severe as min.
// Unknown impacts never satisfy any threshold.
func (i Impact) GreaterOrEqual(min Impact) bool {
	ri, ok1 := impactRank[i]
	rm, ok2 := impactRank[min]
	return ok1 && ok2 && ri >= rm
}

// Status is an Insight's review state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusReviewed Status = "reviewed"
	StatusActioned Status = "actioned"
	StatusDismissed Status = "dismissed"
)

// Insight is a structured analytical finding.
type Insight struct {
	ID                string
	Classification    string
	Title             string
	Description       string
	Evidence          map[string]any
	Confidence        float64 // in [0,1]
	Impact            Impact
	RelatedEntityIDs  []string
	ScriptLocation    string
	ScriptOutput      string
	Status            Status
	ConversationID    string
	CreatedAt         time.Time
}

// New creates a Pending insight with a fresh identifier.
func New(classification, title, description string, impact Impact, confidence float64) *Insight {
	return &Insight{
		ID:             uuid.NewString(),
		Classification: classification,
		Title:          title,
		Description:    description,
		Confidence:     confidence,
		Impact:         impact,
		Status:         StatusPending,
		CreatedAt:      time.Now(),
	}
}

// ReportStatus is the lifecycle of an AnalysisReport: Running is the only
// entry state, and it moves exactly once to Completed or Failed.
type ReportStatus string

const (
	ReportRunning   ReportStatus = "running"
	ReportCompleted ReportStatus = "completed"
	ReportFailed    ReportStatus = "failed"
)

// Depth controls how thorough an analysis is.
type Depth string

const (
	DepthQuick    Depth = "quick"
	DepthStandard Depth = "standard"
	DepthDeep     Depth = "deep"
)

// Strategy controls how the data-science team collaborates on an analysis.
type Strategy string

const (
	StrategyParallel Strategy = "parallel"
	StrategyTeamwork Strategy = "teamwork"
)

// CommunicationEntry records one inter-agent message during an analysis.
type CommunicationEntry struct {
	FromAgent string
	ToAgent   string
	Kind      string
	Body      string
}

// AnalysisReport is the record of one analysis run.
type AnalysisReport struct {
	ID              string
	Title           string
	AnalysisType    string
	Depth           Depth
	Strategy        Strategy
	Status          ReportStatus
	Summary         string
	InsightIDs      []string
	ArtifactPaths   []string
	Communication   []CommunicationEntry
	CreatedAt       time.Time
	CompletedAt     time.Time
}

// NewReport creates a Running report.
func NewReport(title, analysisType string, depth Depth, strategy Strategy) *AnalysisReport {
	return &AnalysisReport{
		ID:           uuid.NewString(),
		Title:        title,
		AnalysisType: analysisType,
		Depth:        depth,
		Strategy:     strategy,
		Status:       ReportRunning,
		CreatedAt:    time.Now(),
	}
}

// Complete moves Running -> Completed exactly once.
func (r *AnalysisReport) Complete(summary string, insightIDs, artifacts []string) error {
	if r.Status != ReportRunning {
		return errs.StateConflictf("report %s: already terminal at %s", r.ID, r.Status)
	}
	r.Status = ReportCompleted
	r.Summary = summary
	r.InsightIDs = insightIDs
	r.ArtifactPaths = artifacts
	r.CompletedAt = time.Now()
	return nil
}

// Fail moves Running -> Failed exactly once.
func (r *AnalysisReport) Fail(summary string) error {
	if r.Status != ReportRunning {
		return errs.StateConflictf("report %s: already terminal at %s", r.ID, r.Status)
	}
	r.Status = ReportFailed
	r.Summary = summary
	r.CompletedAt = time.Now()
	return nil
}

// TriggerKind determines how a Schedule fires.
type TriggerKind string

const (
	TriggerCron    TriggerKind = "cron"
	TriggerWebhook TriggerKind = "webhook"
	TriggerEvent   TriggerKind = "event"
)

// LastResult is the outcome of the most recent schedule firing.
type LastResult string

const (
	LastResultNone    LastResult = ""
	LastResultSuccess LastResult = "success"
	LastResultFailed  LastResult = "failed"
	LastResultTimeout LastResult = "timeout"
)

// MatchFilter scopes a Webhook-triggered schedule to matching events; see
// internal/webhook for the matching semantics. All present keys must
// match, absent keys are wildcards.
type MatchFilter struct {
	EntityID  string // glob pattern, "*"/"?"
	EventType string // exact match
	ToState   string // exact match vs data.new_state
	FromState string // exact match vs data.old_state
}

// Schedule is a persisted declaration that an analysis should run on a
// cron cadence or in response to a controller event.
//
// Invariant: CronExpr != "" iff TriggerKind == TriggerCron;
// EventLabel != "" iff TriggerKind == TriggerWebhook.
type Schedule struct {
	ID               string
	Label            string
	Enabled          bool
	AnalysisType     string
	EntityIDs        []string // optional scoping
	LookbackHours    int      // >=1, <=8760
	Options          map[string]any
	TriggerKind      TriggerKind
	CronExpr         string // Cron only
	EventLabel       string // Webhook only
	MatchFilter      MatchFilter
	Depth            Depth
	Strategy         Strategy
	TimeoutOverride  time.Duration

	LastRunAt   time.Time
	LastResult  LastResult
	LastError   string
	RunCount    int
}

// Validate checks the cron/webhook field invariant.
func (s *Schedule) Validate() error {
	if s.LookbackHours < 1 || s.LookbackHours > 8760 {
		return errs.Validationf("schedule %s: lookback_hours %d out of range [1,8760]", s.ID, s.LookbackHours)
	}
	switch s.TriggerKind {
	case TriggerCron:
		if s.CronExpr == "" {
			return errs.Validationf("schedule %s: cron trigger requires cron_expression", s.ID)
		}
		if s.EventLabel != "" {
			return errs.Validationf("schedule %s: cron trigger must not set event_label", s.ID)
		}
	case TriggerWebhook:
		if s.EventLabel == "" {
			return errs.Validationf("schedule %s: webhook trigger requires event_label", s.ID)
		}
		if s.CronExpr != "" {
			return errs.Validationf("schedule %s: webhook trigger must not set cron_expression", s.ID)
		}
	case TriggerEvent:
		if s.CronExpr != "" || s.EventLabel != "" {
			return errs.Validationf("schedule %s: event trigger must not set cron_expression or event_label", s.ID)
		}
	default:
		return errs.Validationf("schedule %s: unknown trigger kind %q", s.ID, s.TriggerKind)
	}
	return nil
}

// RecordRun updates execution statistics after a firing.
func (s *Schedule) RecordRun(at time.Time, result LastResult, errMsg string) {
	s.LastRunAt = at
	s.LastResult = result
	s.LastError = errMsg
	s.RunCount++
}

// Store is the repository interface for insights, reports and schedules.
type Store interface {
	CreateInsight(ctx context.Context, i *Insight) error
	GetInsight(ctx context.Context, id string) (*Insight, error)
	ListInsightsSince(ctx context.Context, scheduleID string, since time.Time) ([]*Insight, error)

	CreateReport(ctx context.Context, r *AnalysisReport) error
	UpdateReport(ctx context.Context, r *AnalysisReport) error

	CreateSchedule(ctx context.Context, s *Schedule) error
	GetSchedule(ctx context.Context, id string) (*Schedule, error)
	UpdateSchedule(ctx context.Context, s *Schedule) error
	ListSchedules(ctx context.Context) ([]*Schedule, error)
	ListSchedulesByTrigger(ctx context.Context, kind TriggerKind) ([]*Schedule, error)
}

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu        sync.RWMutex
	insights  map[string]*Insight
	reports   map[string]*AnalysisReport
	schedules map[string]*Schedule
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		insights:  make(map[string]*Insight),
		reports:   make(map[string]*AnalysisReport),
		schedules: make(map[string]*Schedule),
	}
}

func (s *MemoryStore) CreateInsight(ctx context.Context, i *Insight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *i
	s.insights[i.ID] = &cp
	return nil
}

func (s *MemoryStore) GetInsight(ctx context.Context, id string) (*Insight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.insights[id]
	if !ok {
		return nil, errs.NotFoundf("insight %s not found", id)
	}
	cp := *i
	return &cp, nil
}

func (s *MemoryStore) ListInsightsSince(ctx context.Context, scheduleID string, since time.Time) ([]*Insight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Insight
	for _, i := range s.insights {
		if i.CreatedAt.After(since) {
			cp := *i
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateReport(ctx context.Context, r *AnalysisReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.reports[r.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateReport(ctx context.Context, r *AnalysisReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[r.ID]; !ok {
		return errs.NotFoundf("report %s not found", r.ID)
	}
	cp := *r
	s.reports[r.ID] = &cp
	return nil
}

func (s *MemoryStore) CreateSchedule(ctx context.Context, sc *Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sc
	s.schedules[sc.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schedules[id]
	if !ok {
		return nil, errs.NotFoundf("schedule %s not found", id)
	}
	cp := *sc
	return &cp, nil
}

func (s *MemoryStore) UpdateSchedule(ctx context.Context, sc *Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[sc.ID]; !ok {
		return errs.NotFoundf("schedule %s not found", sc.ID)
	}
	cp := *sc
	s.schedules[sc.ID] = &cp
	return nil
}

func (s *MemoryStore) ListSchedules(ctx context.Context) ([]*Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Schedule, 0, len(s.schedules))
	for _, sc := range s.schedules {
		cp := *sc
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) ListSchedulesByTrigger(ctx context.Context, kind TriggerKind) ([]*Schedule, error) {
	all, _ := s.ListSchedules(ctx)
	var out []*Schedule
	for _, sc := range all {
		if sc.TriggerKind == kind {
			out = append(out, sc)
		}
	}
	return out, nil
}
