package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aethercore/aether/internal/insight"
)

func TestSyncJobs_AddsAndRemoves(t *testing.T) {
	ctx := context.Background()
	store := insight.NewMemoryStore()
	s := New(store, AnalysisRunnerFunc(func(ctx context.Context, sc *insight.Schedule) error { return nil }), RoleAll)

	sc := &insight.Schedule{ID: "s1", TriggerKind: insight.TriggerCron, CronExpr: "@every 1m", Enabled: true, LookbackHours: 1}
	if err := store.CreateSchedule(ctx, sc); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SyncJobs(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(s.jobs) != 1 {
		t.Fatalf("expected 1 job after sync, got %d", len(s.jobs))
	}

	sc.Enabled = false
	if err := store.UpdateSchedule(ctx, sc); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.SyncJobs(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(s.jobs) != 0 {
		t.Fatalf("expected disabled schedule removed, got %d jobs", len(s.jobs))
	}
}

func TestRunOnce_FiresDueJobAndRecordsResult(t *testing.T) {
	ctx := context.Background()
	store := insight.NewMemoryStore()
	sc := &insight.Schedule{ID: "s1", TriggerKind: insight.TriggerCron, CronExpr: "@every 1s", Enabled: true, LookbackHours: 1}
	_ = store.CreateSchedule(ctx, sc)

	var calls int32
	now := time.Now()
	s := New(store, AnalysisRunnerFunc(func(ctx context.Context, sc *insight.Schedule) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}), RoleAll, WithNow(func() time.Time { return now }))

	if err := s.SyncJobs(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	now = now.Add(2 * time.Second)
	n := s.RunOnce(ctx)
	if n != 1 {
		t.Fatalf("expected 1 due job, got %d", n)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected runner invoked once, got %d", calls)
	}

	got, err := store.GetSchedule(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RunCount != 1 || got.LastResult != insight.LastResultSuccess {
		t.Fatalf("expected recorded successful run, got %+v", got)
	}
}

func TestRunOnce_RecordsFailure(t *testing.T) {
	ctx := context.Background()
	store := insight.NewMemoryStore()
	sc := &insight.Schedule{ID: "s1", TriggerKind: insight.TriggerCron, CronExpr: "@every 1s", Enabled: true, LookbackHours: 1}
	_ = store.CreateSchedule(ctx, sc)

	now := time.Now()
	s := New(store, AnalysisRunnerFunc(func(ctx context.Context, sc *insight.Schedule) error {
		return errBoomScheduler
	}), RoleAll, WithNow(func() time.Time { return now }))

	_ = s.SyncJobs(ctx)
	now = now.Add(2 * time.Second)
	s.RunOnce(ctx)

	got, _ := store.GetSchedule(ctx, "s1")
	if got.LastResult != insight.LastResultFailed || got.LastError == "" {
		t.Fatalf("expected recorded failure, got %+v", got)
	}
}

func TestStart_NoOpWhenRoleAPI(t *testing.T) {
	ctx := context.Background()
	store := insight.NewMemoryStore()
	s := New(store, AnalysisRunnerFunc(func(ctx context.Context, sc *insight.Schedule) error { return nil }), RoleAPI)

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		t.Fatalf("expected scheduler not to start under RoleAPI")
	}
}

type schedulerErr string

func (e schedulerErr) Error() string { return string(e) }

var errBoomScheduler = schedulerErr("analysis failed")

func TestNew_SingletonJobsOnlyRegisteredWhenConfigured(t *testing.T) {
	store := insight.NewMemoryStore()
	runner := AnalysisRunnerFunc(func(ctx context.Context, sc *insight.Schedule) error { return nil })

	s := New(store, runner, RoleAll)
	if len(s.jobs) != 0 {
		t.Fatalf("expected no singleton jobs with no optional dependencies configured, got %d", len(s.jobs))
	}

	var discoveryCalls, scoreCalls int32
	withAll := New(store, runner, RoleAll,
		WithDiscoverySync(DiscoverySyncerFunc(func(ctx context.Context) error {
			atomic.AddInt32(&discoveryCalls, 1)
			return nil
		}), time.Hour),
		WithTraceEvaluation(ScorerFunc(func(ctx context.Context) error {
			atomic.AddInt32(&scoreCalls, 1)
			return nil
		})),
		WithRetention(&fakeRetentionStore{}, RetentionWindows{}),
	)
	if _, ok := withAll.jobs[discoverySyncJobID]; !ok {
		t.Fatalf("expected discovery sync job registered")
	}
	if _, ok := withAll.jobs[traceEvaluationJobID]; !ok {
		t.Fatalf("expected trace evaluation job registered")
	}
	if _, ok := withAll.jobs[dataRetentionJobID]; !ok {
		t.Fatalf("expected data retention job registered")
	}
	if withAll.retentionWindows != DefaultRetentionWindows() {
		t.Fatalf("expected zero-valued windows defaulted, got %+v", withAll.retentionWindows)
	}
}

func TestSyncJobs_UsesInsightJobIDAndSparesSingletons(t *testing.T) {
	ctx := context.Background()
	store := insight.NewMemoryStore()
	s := New(store, AnalysisRunnerFunc(func(ctx context.Context, sc *insight.Schedule) error { return nil }), RoleAll,
		WithTraceEvaluation(ScorerFunc(func(ctx context.Context) error { return nil })))

	sc := &insight.Schedule{ID: "s1", TriggerKind: insight.TriggerCron, CronExpr: "@every 1m", Enabled: true, LookbackHours: 1}
	if err := store.CreateSchedule(ctx, sc); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SyncJobs(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if _, ok := s.jobs[insightJobID("s1")]; !ok {
		t.Fatalf("expected job keyed by insightJobID(s1)")
	}
	if _, ok := s.jobs[traceEvaluationJobID]; !ok {
		t.Fatalf("expected SyncJobs to leave the trace evaluation singleton untouched")
	}
	if len(s.jobs) != 2 {
		t.Fatalf("expected exactly 2 jobs (1 schedule + 1 singleton), got %d", len(s.jobs))
	}
}

func TestRunOnce_FiresDataRetentionJob(t *testing.T) {
	ctx := context.Background()
	store := insight.NewMemoryStore()
	retention := &fakeRetentionStore{}
	fixedNow := time.Now()
	s := New(store, AnalysisRunnerFunc(func(ctx context.Context, sc *insight.Schedule) error { return nil }), RoleAll,
		WithRetention(retention, DefaultRetentionWindows()),
		WithNow(func() time.Time { return fixedNow }))

	s.mu.Lock()
	s.jobs[dataRetentionJobID].nextRun = fixedNow.Add(-time.Minute)
	s.jobs[dataRetentionJobID].graceTo = fixedNow.Add(time.Hour)
	s.mu.Unlock()

	if n := s.RunOnce(ctx); n != 1 {
		t.Fatalf("expected 1 due job, got %d", n)
	}
	if !retention.called {
		t.Fatalf("expected retention store to be invoked")
	}
}

type fakeRetentionStore struct {
	called bool
}

func (f *fakeRetentionStore) DeleteLLMUsageBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.called = true
	return 0, nil
}

func (f *fakeRetentionStore) DeleteReportsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeRetentionStore) DeleteActionedInsightsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
