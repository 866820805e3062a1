package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aethercore/aether/internal/config"
	"github.com/aethercore/aether/internal/controller"
	"github.com/aethercore/aether/internal/convo"
	"github.com/aethercore/aether/internal/debounce"
	"github.com/aethercore/aether/internal/httpapi"
	"github.com/aethercore/aether/internal/insight"
	"github.com/aethercore/aether/internal/llm"
	"github.com/aethercore/aether/internal/notifier"
	"github.com/aethercore/aether/internal/observability"
	"github.com/aethercore/aether/internal/orchestrator"
	"github.com/aethercore/aether/internal/pgstore"
	"github.com/aethercore/aether/internal/proposal"
	"github.com/aethercore/aether/internal/remotearch"
	"github.com/aethercore/aether/internal/scheduler"
	"github.com/aethercore/aether/internal/settings"
	"github.com/aethercore/aether/internal/tools"
	"github.com/aethercore/aether/internal/webhook"
)

// app holds every wired subsystem a running process may need; cmd-level
// handlers pick the pieces relevant to them (serve wants all of it,
// scheduler run-once wants only store+scheduler).
type app struct {
	cfg *config.Config
	db  *sql.DB

	convos    convo.Store
	proposals proposal.Store
	insights  insight.Store
	settingsR *settings.CachedReader

	controller *controller.Client
	orch       httpapi.StreamingOrchestrator
	scheduler  *scheduler.Scheduler
	debouncer  *debounce.EntityDebouncer
	notifier   *notifier.InsightNotifier
	webhook    *webhook.Handler
	httpapi    *httpapi.Server

	tracerShutdown func(context.Context) error
}

// buildApp loads configuration and wires every subsystem. It never
// starts goroutines; callers decide what to Start based on AETHER_ROLE.
func buildApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}

	if cfg.Database.URL != "" {
		db, err := pgstore.Open(ctx, pgstore.Config{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.db = db
		a.convos = pgstore.NewConvoStore(db)
		a.proposals = pgstore.NewProposalStore(db)
		a.insights = pgstore.NewInsightStore(db)
		a.settingsR = settings.NewCachedReader(pgstore.NewSettingsStore(db))
	} else {
		slog.Warn("no database.url configured, falling back to in-memory stores")
		a.convos = convo.NewMemoryStore()
		a.proposals = proposal.NewMemoryStore()
		a.insights = insight.NewMemoryStore()
		a.settingsR = settings.NewCachedReader(settings.NewMemoryStore())
	}

	tracer, shutdown := observability.NewTracer(observability.Config{
		ServiceName:  "orchestratord",
		Environment:  cfg.Observability.Environment,
		Endpoint:     cfg.Observability.Endpoint,
		Insecure:     cfg.Observability.Insecure,
		SamplingRate: cfg.Observability.SamplingRate,
	})
	a.tracerShutdown = shutdown

	if cfg.Controller.BaseURL != "" {
		ctrl, err := controller.NewClient(controller.Config{
			BaseURL: cfg.Controller.BaseURL,
			Token:   cfg.Controller.Token,
			Timeout: cfg.Controller.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("build controller client: %w", err)
		}
		a.controller = ctrl
	}

	if err := a.buildOrchestrator(tracer); err != nil {
		return nil, err
	}

	var retentionStore scheduler.RetentionStore
	if rs, ok := a.insights.(scheduler.RetentionStore); ok {
		retentionStore = rs
	}

	a.scheduler = scheduler.New(a.insights, scheduler.AnalysisRunnerFunc(a.runAnalysis), schedulerRole(cfg.Scheduler.Role),
		scheduler.WithTickInterval(cfg.Scheduler.TickInterval),
		scheduler.WithDiscoverySync(a, settings.Defaults().DataScience.DiscoverySync),
		scheduler.WithTraceEvaluation(a),
		scheduler.WithRetention(retentionStore, scheduler.DefaultRetentionWindows()))

	a.debouncer = debounce.New(debounce.PersisterFunc(a.persistEntityBatch),
		debounce.WithCapacity(cfg.Debounce.Capacity),
		debounce.WithFlushInterval(cfg.Debounce.FlushInterval),
		debounce.WithMetrics(debounce.NewMetrics(prometheus.DefaultRegisterer)))

	a.notifier = notifier.New(a.settingsR, notifier.ChannelFunc(a.deliverNotification))

	webhookCfg := webhook.Config{Secret: cfg.Webhook.Secret}
	a.webhook = webhook.NewHandler(webhookCfg, a.insights, scheduleQueuer{a}, registrySyncer{}, proposalResolver{a.proposals})

	var deployer proposal.Deployer
	if a.controller != nil {
		deployer = a.controller
	}
	a.httpapi = httpapi.New(httpapi.Config{
		Orchestrator: a.orch,
		Proposals:    a.proposals,
		Deployer:     deployer,
		Webhook:      a.webhook,
	})

	return a, nil
}

// buildOrchestrator selects the monolith or distributed streaming
// implementation per DEPLOYMENT_MODE/deployment.mode.
//
// Decision (open question resolved): when mode is "distributed" but no
// remote_architect_addr is configured, or the dial fails, startup fails
// fast rather than silently falling back to monolith. Mutating tool
// calls pass through the HITL gate either way, but which process is
// actually running the model loop is operationally significant (it
// determines which service's logs and traces to look at), so silently
// substituting one for the other on a configuration mistake would hide
// the mistake instead of surfacing it.
func (a *app) buildOrchestrator(tracer *observability.Tracer) error {
	mode := strings.ToLower(deploymentMode(a.cfg))
	switch mode {
	case "distributed":
		addr := a.cfg.Deployment.RemoteArchitectAddr
		if addr == "" {
			return fmt.Errorf("deployment.mode is distributed but remote_architect_addr is not configured")
		}
		client, err := remotearch.Dial(addr)
		if err != nil {
			return fmt.Errorf("dial remote architect at %s: %w", addr, err)
		}
		a.orch = client
		return nil
	case "monolith", "":
		provider, err := llm.New(llm.Config{APIKey: a.cfg.LLM.APIKey, DefaultModel: a.cfg.LLM.Model})
		if err != nil {
			return fmt.Errorf("build llm provider: %w", err)
		}
		registry := a.toolRegistryFor()
		propose := tools.NewProposalFactory(a.proposals)
		o := orchestrator.New(provider, a.convos, registry, propose, a.settingsR)
		a.orch = o.WithTracer(tracer)
		return nil
	default:
		return fmt.Errorf("unknown deployment.mode %q", mode)
	}
}

func deploymentMode(cfg *config.Config) string {
	if v := strings.TrimSpace(os.Getenv("DEPLOYMENT_MODE")); v != "" {
		return v
	}
	return cfg.Deployment.Mode
}

func schedulerRole(cfgRole string) scheduler.Role {
	role := strings.TrimSpace(os.Getenv("AETHER_ROLE"))
	if role == "" {
		role = cfgRole
	}
	switch role {
	case "api":
		return scheduler.RoleAPI
	case "scheduler":
		return scheduler.RoleScheduler
	default:
		return scheduler.RoleAll
	}
}
