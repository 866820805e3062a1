// Package scheduler runs the core's four built-in background job types on
// their own cadence, reconciling the live job table against the store on
// every SyncJobs call. It is role-gated: a process running as "api" never
// starts the tick loop, only "scheduler" and "all" do.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/aethercore/aether/internal/insight"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Role gates whether Start actually runs the tick loop.
type Role string

const (
	RoleAll       Role = "all"
	RoleScheduler Role = "scheduler"
	RoleAPI       Role = "api"
)

// JobType distinguishes the scheduler's four built-in background jobs.
// JobInsightSchedule is per-schedule (one job per insight.Schedule row);
// the other three are process-wide singletons.
type JobType string

const (
	JobInsightSchedule JobType = "insight_schedule"
	JobDiscoverySync   JobType = "discovery_sync"
	JobTraceEvaluation JobType = "trace_evaluation"
	JobDataRetention   JobType = "data_retention"
)

// misfireGrace bounds how late a missed firing may still be coalesced
// into a single catch-up run, keyed by job type rather than per-schedule,
// matching how the reference deployment tunes these globally.
const (
	misfireGraceAnalysis   = 300 * time.Second
	misfireGraceDiscovery  = 300 * time.Second
	misfireGraceTrace      = 600 * time.Second
	misfireGraceRetention  = 600 * time.Second
)

// traceEvaluationCron and dataRetentionCron are the two singleton jobs'
// fixed firing schedules.
const (
	traceEvaluationCron = "0 2 * * *"
	dataRetentionCron   = "30 3 * * *"
)

// insightJobID derives the job table key for a per-schedule insight job,
// so it never collides with the three singleton job ids below.
func insightJobID(scheduleID string) string {
	return string(JobInsightSchedule) + ":" + scheduleID
}

const (
	discoverySyncJobID   = "discovery_sync"
	traceEvaluationJobID = "trace_evaluation"
	dataRetentionJobID   = "data_retention"
)

// AnalysisRunner executes one insight-schedule firing. The reference
// implementation wires this to the data-science-team agent.
type AnalysisRunner interface {
	RunAnalysis(ctx context.Context, sched *insight.Schedule) error
}

// AnalysisRunnerFunc adapts a function to an AnalysisRunner.
type AnalysisRunnerFunc func(ctx context.Context, sched *insight.Schedule) error

func (f AnalysisRunnerFunc) RunAnalysis(ctx context.Context, sched *insight.Schedule) error {
	return f(ctx, sched)
}

// DiscoverySyncer refreshes the entity catalog used by discover_entities.
type DiscoverySyncer interface {
	SyncEntityDiscovery(ctx context.Context) error
}

// DiscoverySyncerFunc adapts a function to a DiscoverySyncer.
type DiscoverySyncerFunc func(ctx context.Context) error

func (f DiscoverySyncerFunc) SyncEntityDiscovery(ctx context.Context) error { return f(ctx) }

// Scorer evaluates recently completed traces (e.g. for quality/drift
// scoring against past analysis runs).
type Scorer interface {
	ScoreRecentTraces(ctx context.Context) error
}

// ScorerFunc adapts a function to a Scorer.
type ScorerFunc func(ctx context.Context) error

func (f ScorerFunc) ScoreRecentTraces(ctx context.Context) error { return f(ctx) }

// RetentionWindows configures how far back the data-retention job keeps
// each table's rows before deleting them.
type RetentionWindows struct {
	LLMUsage         time.Duration
	Reports          time.Duration
	ActionedInsights time.Duration
}

// DefaultRetentionWindows returns the reference deployment's retention
// policy: 90 days of LLM usage logs, 180 days of analysis reports, and 30
// days for insights already actioned or dismissed.
func DefaultRetentionWindows() RetentionWindows {
	return RetentionWindows{
		LLMUsage:         90 * 24 * time.Hour,
		Reports:          180 * 24 * time.Hour,
		ActionedInsights: 30 * 24 * time.Hour,
	}
}

// RetentionStore is the subset of persistence the data-retention job
// needs. Not every insight.Store implementation supports it (the
// in-memory fallback store does not), so the retention job is only
// registered when the configured store satisfies this interface.
type RetentionStore interface {
	DeleteLLMUsageBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteReportsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteActionedInsightsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// job is the scheduler's live view of one firing unit: either a single
// insight.Schedule row (JobInsightSchedule) or one of the three
// process-wide singleton jobs.
type job struct {
	id         string
	jobType    JobType
	scheduleID string // set only for JobInsightSchedule
	cronSched  cron.Schedule
	interval   time.Duration // set only for JobDiscoverySync
	grace      time.Duration
	nextRun    time.Time
	graceTo    time.Time
	running    bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger configures the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides the poll interval.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.tickInterval = interval
		}
	}
}

// WithDiscoverySync registers the discovery-sync singleton job, firing
// every interval. A deployment with no DiscoverySyncer configured simply
// omits this option and the job is never scheduled.
func WithDiscoverySync(syncer DiscoverySyncer, interval time.Duration) Option {
	return func(s *Scheduler) {
		if syncer == nil || interval <= 0 {
			return
		}
		s.discoverySyncer = syncer
		s.discoverySyncInterval = interval
	}
}

// WithTraceEvaluation registers the nightly trace-scoring singleton job.
func WithTraceEvaluation(scorer Scorer) Option {
	return func(s *Scheduler) {
		s.scorer = scorer
	}
}

// WithRetention registers the nightly data-retention singleton job
// against store using windows (DefaultRetentionWindows() if zero-valued).
func WithRetention(store RetentionStore, windows RetentionWindows) Option {
	return func(s *Scheduler) {
		if store == nil {
			return
		}
		s.retentionStore = store
		s.retentionWindows = windows
	}
}

// Scheduler runs insight.Schedule rows with TriggerCron plus the three
// process-wide singleton jobs, reconciling against the store and firing
// due jobs with per-job-id serial execution but cross-job-id parallelism.
type Scheduler struct {
	store        insight.Store
	runner       AnalysisRunner
	role         Role
	logger       *slog.Logger
	now          func() time.Time
	tickInterval time.Duration

	discoverySyncer       DiscoverySyncer
	discoverySyncInterval time.Duration
	scorer                Scorer
	retentionStore        RetentionStore
	retentionWindows      RetentionWindows

	mu      sync.Mutex
	jobs    map[string]*job // keyed by job id
	started bool
	wg      sync.WaitGroup
	stopCh  chan struct{}
}

func New(store insight.Store, runner AnalysisRunner, role Role, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:        store,
		runner:       runner,
		role:         role,
		logger:       slog.Default().With("component", "scheduler"),
		now:          time.Now,
		tickInterval: time.Second,
		jobs:         make(map[string]*job),
	}
	for _, opt := range opts {
		opt(s)
	}

	now := s.now()
	if s.discoverySyncer != nil && s.discoverySyncInterval > 0 {
		s.jobs[discoverySyncJobID] = &job{
			id:       discoverySyncJobID,
			jobType:  JobDiscoverySync,
			interval: s.discoverySyncInterval,
			grace:    misfireGraceDiscovery,
			nextRun:  now.Add(s.discoverySyncInterval),
			graceTo:  now.Add(s.discoverySyncInterval).Add(misfireGraceDiscovery),
		}
	}
	if s.scorer != nil {
		if parsed, err := cronParser.Parse(traceEvaluationCron); err == nil {
			s.jobs[traceEvaluationJobID] = &job{
				id:        traceEvaluationJobID,
				jobType:   JobTraceEvaluation,
				cronSched: parsed,
				grace:     misfireGraceTrace,
				nextRun:   parsed.Next(now),
				graceTo:   parsed.Next(now).Add(misfireGraceTrace),
			}
		}
	}
	if s.retentionStore != nil {
		if s.retentionWindows == (RetentionWindows{}) {
			s.retentionWindows = DefaultRetentionWindows()
		}
		if parsed, err := cronParser.Parse(dataRetentionCron); err == nil {
			s.jobs[dataRetentionJobID] = &job{
				id:        dataRetentionJobID,
				jobType:   JobDataRetention,
				cronSched: parsed,
				grace:     misfireGraceRetention,
				nextRun:   parsed.Next(now),
				graceTo:   parsed.Next(now).Add(misfireGraceRetention),
			}
		}
	}

	return s
}

// SyncJobs reconciles the live JobInsightSchedule entries against the
// store: schedules that are new or re-enabled are added, schedules whose
// cron expression changed are rescheduled, and schedules that are
// disabled or absent are removed. The three singleton jobs are untouched
// here — they are registered once in New and never reconciled against the
// insight_schedules store. Idempotent: calling it repeatedly with an
// unchanged store is a no-op.
func (s *Scheduler) SyncJobs(ctx context.Context) error {
	all, err := s.store.ListSchedulesByTrigger(ctx, insight.TriggerCron)
	if err != nil {
		return fmt.Errorf("list cron schedules: %w", err)
	}

	live := make(map[string]bool, len(all))
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sc := range all {
		id := insightJobID(sc.ID)
		live[id] = true
		if !sc.Enabled {
			delete(s.jobs, id)
			continue
		}
		parsed, err := cronParser.Parse(sc.CronExpr)
		if err != nil {
			s.logger.Warn("insight schedule skipped: invalid cron expression", "schedule_id", sc.ID, "error", err)
			delete(s.jobs, id)
			continue
		}
		existing, ok := s.jobs[id]
		now := s.now()
		s.jobs[id] = &job{
			id:         id,
			jobType:    JobInsightSchedule,
			scheduleID: sc.ID,
			cronSched:  parsed,
			grace:      misfireGraceAnalysis,
			nextRun:    parsed.Next(now),
			graceTo:    parsed.Next(now).Add(misfireGraceAnalysis),
			running:    ok && existing.running,
		}
	}

	for id, j := range s.jobs {
		if j.jobType == JobInsightSchedule && !live[id] {
			delete(s.jobs, id)
		}
	}
	return nil
}

// Start begins the tick loop. A no-op when role is RoleAPI.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.role == RoleAPI {
		s.logger.Info("scheduler start skipped: role is api")
		return nil
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	if err := s.SyncJobs(ctx); err != nil {
		s.logger.Error("initial sync failed", "error", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
	return nil
}

// Stop signals the tick loop to exit and waits for it.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	close(s.stopCh)
	s.started = false
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce fires every due job. Different job ids fire concurrently; a
// single job id never overlaps itself (a still-running previous firing
// is skipped, not queued).
func (s *Scheduler) RunOnce(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	var due []*job
	for _, j := range s.jobs {
		if j.running {
			continue
		}
		if now.Before(j.nextRun) {
			continue
		}
		if now.After(j.graceTo) {
			// Missed its grace window entirely; coalesce into a single
			// catch-up run by just firing it now rather than skipping.
			s.logger.Warn("job fired past its misfire grace window", "job_id", j.id, "job_type", j.jobType)
		}
		j.running = true
		due = append(due, j)
	}
	s.mu.Unlock()

	if len(due) == 0 {
		return 0
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, j := range due {
		j := j
		g.Go(func() error {
			defer func() {
				s.mu.Lock()
				j.running = false
				grace := j.grace
				if grace == 0 {
					grace = misfireGraceAnalysis
				}
				switch {
				case j.cronSched != nil:
					j.nextRun = j.cronSched.Next(s.now())
					j.graceTo = j.nextRun.Add(grace)
				case j.interval > 0:
					j.nextRun = s.now().Add(j.interval)
					j.graceTo = j.nextRun.Add(grace)
				}
				s.mu.Unlock()
			}()
			return s.fire(gctx, j)
		})
	}
	_ = g.Wait() // per-job errors are already recorded on the schedule row or logged

	return len(due)
}

// fire dispatches a due job to the handler for its JobType.
func (s *Scheduler) fire(ctx context.Context, j *job) error {
	switch j.jobType {
	case JobInsightSchedule:
		return s.fireInsightSchedule(ctx, j.scheduleID)
	case JobDiscoverySync:
		return s.fireDiscoverySync(ctx)
	case JobTraceEvaluation:
		return s.fireTraceEvaluation(ctx)
	case JobDataRetention:
		return s.fireDataRetention(ctx)
	default:
		return fmt.Errorf("scheduler: unknown job type %q", j.jobType)
	}
}

func (s *Scheduler) fireInsightSchedule(ctx context.Context, scheduleID string) error {
	sc, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		s.logger.Error("fire: schedule disappeared", "schedule_id", scheduleID, "error", err)
		return err
	}

	start := s.now()
	runErr := s.runner.RunAnalysis(ctx, sc)

	result := insight.LastResultSuccess
	errMsg := ""
	if runErr != nil {
		result = insight.LastResultFailed
		errMsg = runErr.Error()
		if ctx.Err() != nil {
			result = insight.LastResultTimeout
		}
	}
	sc.RecordRun(start, result, errMsg)
	if updateErr := s.store.UpdateSchedule(ctx, sc); updateErr != nil {
		s.logger.Error("fire: failed to record run", "schedule_id", scheduleID, "error", updateErr)
	}
	return runErr
}

func (s *Scheduler) fireDiscoverySync(ctx context.Context) error {
	if s.discoverySyncer == nil {
		return nil
	}
	if err := s.discoverySyncer.SyncEntityDiscovery(ctx); err != nil {
		s.logger.Error("discovery sync failed", "error", err)
		return err
	}
	return nil
}

func (s *Scheduler) fireTraceEvaluation(ctx context.Context) error {
	if s.scorer == nil {
		return nil
	}
	if err := s.scorer.ScoreRecentTraces(ctx); err != nil {
		s.logger.Error("trace evaluation failed", "error", err)
		return err
	}
	return nil
}

func (s *Scheduler) fireDataRetention(ctx context.Context) error {
	if s.retentionStore == nil {
		return nil
	}
	now := s.now()

	if n, err := s.retentionStore.DeleteLLMUsageBefore(ctx, now.Add(-s.retentionWindows.LLMUsage)); err != nil {
		s.logger.Error("retention: llm usage cleanup failed", "error", err)
	} else {
		s.logger.Info("retention: llm usage cleaned", "deleted", n)
	}

	if n, err := s.retentionStore.DeleteReportsBefore(ctx, now.Add(-s.retentionWindows.Reports)); err != nil {
		s.logger.Error("retention: report cleanup failed", "error", err)
	} else {
		s.logger.Info("retention: reports cleaned", "deleted", n)
	}

	if n, err := s.retentionStore.DeleteActionedInsightsBefore(ctx, now.Add(-s.retentionWindows.ActionedInsights)); err != nil {
		s.logger.Error("retention: actioned insight cleanup failed", "error", err)
		return err
	} else {
		s.logger.Info("retention: actioned insights cleaned", "deleted", n)
	}
	return nil
}
