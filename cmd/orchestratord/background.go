package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/aethercore/aether/internal/controller"
	"github.com/aethercore/aether/internal/debounce"
	"github.com/aethercore/aether/internal/insight"
	"github.com/aethercore/aether/internal/proposal"
	"github.com/aethercore/aether/internal/toolexec"
	"github.com/aethercore/aether/internal/tools"
	"github.com/aethercore/aether/internal/webhook"
)

// toolRegistryFor builds the registry the orchestrator dispatches tool
// calls against. Read-only controller-backed tools, entity discovery and
// schedule creation are only registered when their backing dependency is
// configured; mutating tools are always available since they only ever
// create a proposal, never touch the controller directly.
func (a *app) toolRegistryFor() *toolexec.Registry {
	reg := toolexec.NewRegistry()
	if a.controller != nil {
		if err := tools.RegisterReadOnly(reg, a.controller); err != nil {
			slog.Error("register read-only tools failed", "error", err)
		}
		if err := tools.RegisterDiscoverer(reg, a.controller); err != nil {
			slog.Error("register discover_entities failed", "error", err)
		}
	}
	if err := tools.RegisterConsultant(reg, a); err != nil {
		slog.Error("register consult_data_science_team failed", "error", err)
	}
	if a.insights != nil {
		if err := tools.RegisterScheduleCreator(reg, a.insights); err != nil {
			slog.Error("register create_insight_schedule failed", "error", err)
		}
	}
	if err := tools.RegisterMutating(reg); err != nil {
		slog.Error("register mutating tools failed", "error", err)
	}
	return reg
}

// executeAnalysis runs one data-science analysis end to end: opens a
// Running report, completes it, and returns it for the caller to decide
// what happens next (a scheduled firing notifies on the insights it
// produced; an ad hoc consultation just narrates the summary back). The
// orchestration core does not itself implement the data-science analysis
// pipeline (that lives behind the data_science_team agent's tool
// handlers); this records the report lifecycle around whatever that
// pipeline produces.
func (a *app) executeAnalysis(ctx context.Context, scheduleID, label, analysisType string, depth insight.Depth, strategy insight.Strategy) (*insight.AnalysisReport, error) {
	report := insight.NewReport(label, analysisType, depth, strategy)
	if err := a.insights.CreateReport(ctx, report); err != nil {
		return nil, err
	}

	if err := report.Complete("analysis queued for "+analysisType, nil, nil); err != nil {
		return nil, err
	}
	if err := a.insights.UpdateReport(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

// runAnalysis satisfies scheduler.AnalysisRunner for a fired cron
// schedule: it runs the analysis, then gathers every insight created in
// the last hour and fans them out through the InsightNotifier. The
// gathered set is not narrowed to this schedule: ListInsightsSince
// returns insights from any source within the window.
func (a *app) runAnalysis(ctx context.Context, sched *insight.Schedule) error {
	if _, err := a.executeAnalysis(ctx, sched.ID, sched.Label, sched.AnalysisType, sched.Depth, sched.Strategy); err != nil {
		return err
	}

	since := time.Now().Add(-time.Hour)
	produced, err := a.insights.ListInsightsSince(ctx, sched.ID, since)
	if err != nil {
		slog.Error("runAnalysis: failed to gather insights for notification", "schedule_id", sched.ID, "error", err)
		return nil
	}
	a.notifyInsights(ctx, produced)
	return nil
}

// Consult satisfies tools.Consultant for the consult_data_science_team
// tool: an ad hoc analysis with no backing insight.Schedule, so it never
// gathers or notifies on produced insights — only a scheduled firing
// does that.
func (a *app) Consult(ctx context.Context, question string, entityIDs []string) (string, error) {
	report, err := a.executeAnalysis(ctx, "", question, "ad_hoc_consultation", insight.DepthStandard, insight.StrategyParallel)
	if err != nil {
		return "", err
	}
	return report.Summary, nil
}

// notifyInsights fans a batch of freshly produced insights out through
// the notifier: insights below the configured minimum impact are dropped
// first, then zero remaining insights notify nothing, exactly one goes
// through NotifySingle, and more than one is rolled up into one
// NotifyAggregate call naming the highest impact among them.
func (a *app) notifyInsights(ctx context.Context, insights []*insight.Insight) {
	cfg, err := a.settingsR.Get(ctx)
	if err != nil {
		slog.Error("notifyInsights: failed to read settings", "error", err)
		return
	}
	var passed []*insight.Insight
	for _, i := range insights {
		if i.Impact.GreaterOrEqual(insight.Impact(cfg.Notifications.MinImpact)) {
			passed = append(passed, i)
		}
	}
	insights = passed
	switch len(insights) {
	case 0:
		return
	case 1:
		a.notifier.NotifySingle(ctx, insights[0])
	default:
		top := insights[0].Impact
		for _, i := range insights[1:] {
			if impactRank(i.Impact) > impactRank(top) {
				top = i.Impact
			}
		}
		a.notifier.NotifyAggregate(ctx, len(insights), top)
	}
}

// impactRank orders insight.Impact values for notifyInsights' highest-
// impact comparison; insight.Impact itself only exposes GreaterOrEqual,
// which is awkward for a running max, so this is a small local total
// order mirroring the same ranking.
func impactRank(i insight.Impact) int {
	switch i {
	case insight.ImpactCritical:
		return 3
	case insight.ImpactHigh:
		return 2
	case insight.ImpactMedium:
		return 1
	default:
		return 0
	}
}

// SyncEntityDiscovery satisfies scheduler.DiscoverySyncer. Refreshing a
// locally cached entity catalog is a deployment concern (discover_entities
// itself always queries the controller live); this hook exists so a
// deployment that does maintain a cache has somewhere to plug a refresh
// in without the scheduler needing to know about it.
func (a *app) SyncEntityDiscovery(ctx context.Context) error {
	slog.Debug("entity discovery sync requested")
	return nil
}

// ScoreRecentTraces satisfies scheduler.Scorer. Trace quality/drift
// scoring against an external evaluation service is not part of this
// core's persisted schema; left as a thin injection point like
// persistEntityBatch and registrySyncer below.
func (a *app) ScoreRecentTraces(ctx context.Context) error {
	slog.Debug("trace evaluation requested")
	return nil
}

// persistEntityBatch satisfies debounce.Persister. The entity-state
// table itself lives outside the orchestration core's relational schema
// (§6 lists Conversation/Message/Proposal/Insight/AnalysisReport/
// InsightSchedule/AppSettings only); a production deployment wires this
// to its own entity cache, left as an injection point here.
func (a *app) persistEntityBatch(ctx context.Context, updates map[string]debounce.Update) error {
	slog.Debug("entity batch flushed", "count", len(updates))
	return nil
}

// deliverNotification satisfies notifier.Channel by logging. Production
// deployments wire this to the mobile-app push target named in
// notifications.mobile_app_target.
func (a *app) deliverNotification(ctx context.Context, title, body string) error {
	slog.Info("insight notification", "title", title, "body", body, "target", a.cfg.Notifications.MobileAppTarget)
	return nil
}

// scheduleQueuer adapts the scheduler's AnalysisRunner into webhook.
// ScheduleQueuer: a matched webhook-triggered schedule fires the same
// analysis path a cron firing does, off the request goroutine.
type scheduleQueuer struct {
	a *app
}

func (q scheduleQueuer) QueueAnalysis(ctx context.Context, sched *insight.Schedule, body webhook.Body) error {
	go func() {
		runCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := q.a.runAnalysis(runCtx, sched); err != nil {
			slog.Error("webhook-triggered analysis failed", "schedule_id", sched.ID, "error", err)
		}
	}()
	return nil
}

// registrySyncer satisfies webhook.RegistrySyncer. Structural entity
// registry mirroring is not part of this core's persisted state (§6);
// this hook exists so a deployment that does maintain one has somewhere
// to plug it in without changing the webhook dispatch path.
type registrySyncer struct{}

func (registrySyncer) QueueRegistrySync(ctx context.Context) error {
	slog.Info("entity registry sync requested")
	return nil
}

// proposalResolver adapts a proposal.Store into webhook.ProposalResolver
// for the mobile_app_notification_action APPROVE_/REJECT_ path.
type proposalResolver struct {
	store proposal.Store
}

func (r proposalResolver) Approve(ctx context.Context, proposalID, by string) error {
	p, err := r.store.Get(ctx, proposalID)
	if err != nil {
		return err
	}
	if err := p.Approve(by); err != nil {
		return err
	}
	return r.store.Update(ctx, p)
}

func (r proposalResolver) Reject(ctx context.Context, proposalID, reason string) error {
	p, err := r.store.Get(ctx, proposalID)
	if err != nil {
		return err
	}
	if err := p.Reject(reason); err != nil {
		return err
	}
	return r.store.Update(ctx, p)
}
