package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aethercore/aether/internal/errs"
	"github.com/aethercore/aether/internal/insight"
	"github.com/aethercore/aether/internal/scheduler"
)

var _ scheduler.RetentionStore = (*InsightStore)(nil)

// InsightStore implements insight.Store against Postgres. Insights,
// reports and schedules are each kept as a JSON document plus the handful
// of indexed columns their query methods need.
type InsightStore struct {
	db *sql.DB
}

// NewInsightStore wraps an open pool as an insight.Store.
func NewInsightStore(db *sql.DB) *InsightStore {
	return &InsightStore{db: db}
}

func (s *InsightStore) CreateInsight(ctx context.Context, i *insight.Insight) error {
	raw, err := json.Marshal(i)
	if err != nil {
		return fmt.Errorf("pgstore: marshal insight: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO insights (id, created_at, document) VALUES ($1, $2, $3)
	`, i.ID, i.CreatedAt, raw)
	if err != nil {
		return fmt.Errorf("pgstore: create insight: %w", err)
	}
	return nil
}

func (s *InsightStore) GetInsight(ctx context.Context, id string) (*insight.Insight, error) {
	var raw []byte
	row := s.db.QueryRowContext(ctx, `SELECT document FROM insights WHERE id = $1`, id)
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.NotFoundf("insight %s not found", id)
		}
		return nil, fmt.Errorf("pgstore: get insight: %w", err)
	}
	var i insight.Insight
	if err := json.Unmarshal(raw, &i); err != nil {
		return nil, fmt.Errorf("pgstore: unmarshal insight: %w", err)
	}
	return &i, nil
}

func (s *InsightStore) ListInsightsSince(ctx context.Context, scheduleID string, since time.Time) ([]*insight.Insight, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document FROM insights WHERE created_at > $1 ORDER BY created_at ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list insights: %w", err)
	}
	defer rows.Close()

	var out []*insight.Insight
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("pgstore: scan insight: %w", err)
		}
		var i insight.Insight
		if err := json.Unmarshal(raw, &i); err != nil {
			return nil, fmt.Errorf("pgstore: unmarshal insight: %w", err)
		}
		out = append(out, &i)
	}
	return out, rows.Err()
}

func (s *InsightStore) CreateReport(ctx context.Context, r *insight.AnalysisReport) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("pgstore: marshal report: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analysis_reports (id, document) VALUES ($1, $2)
	`, r.ID, raw)
	if err != nil {
		return fmt.Errorf("pgstore: create report: %w", err)
	}
	return nil
}

func (s *InsightStore) UpdateReport(ctx context.Context, r *insight.AnalysisReport) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("pgstore: marshal report: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE analysis_reports SET document = $2 WHERE id = $1
	`, r.ID, raw)
	if err != nil {
		return fmt.Errorf("pgstore: update report: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFoundf("report %s not found", r.ID)
	}
	return nil
}

func (s *InsightStore) CreateSchedule(ctx context.Context, sc *insight.Schedule) error {
	raw, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("pgstore: marshal schedule: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO insight_schedules (id, trigger_kind, document) VALUES ($1, $2, $3)
	`, sc.ID, sc.TriggerKind, raw)
	if err != nil {
		return fmt.Errorf("pgstore: create schedule: %w", err)
	}
	return nil
}

func (s *InsightStore) GetSchedule(ctx context.Context, id string) (*insight.Schedule, error) {
	var raw []byte
	row := s.db.QueryRowContext(ctx, `SELECT document FROM insight_schedules WHERE id = $1`, id)
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.NotFoundf("schedule %s not found", id)
		}
		return nil, fmt.Errorf("pgstore: get schedule: %w", err)
	}
	var sc insight.Schedule
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("pgstore: unmarshal schedule: %w", err)
	}
	return &sc, nil
}

func (s *InsightStore) UpdateSchedule(ctx context.Context, sc *insight.Schedule) error {
	raw, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("pgstore: marshal schedule: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE insight_schedules SET trigger_kind = $2, document = $3 WHERE id = $1
	`, sc.ID, sc.TriggerKind, raw)
	if err != nil {
		return fmt.Errorf("pgstore: update schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFoundf("schedule %s not found", sc.ID)
	}
	return nil
}

func (s *InsightStore) ListSchedules(ctx context.Context) ([]*insight.Schedule, error) {
	return s.listSchedules(ctx, `SELECT document FROM insight_schedules`)
}

func (s *InsightStore) ListSchedulesByTrigger(ctx context.Context, kind insight.TriggerKind) ([]*insight.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT document FROM insight_schedules WHERE trigger_kind = $1`, kind)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list schedules by trigger: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

func (s *InsightStore) listSchedules(ctx context.Context, query string) ([]*insight.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list schedules: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// DeleteLLMUsageBefore satisfies scheduler.RetentionStore. llm_usage_log
// is not otherwise modeled by this store (no other method here reads or
// writes it); it is named explicitly by the retention policy so the
// query is kept ready for the day a usage-logging integration lands.
func (s *InsightStore) DeleteLLMUsageBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM llm_usage_log WHERE (document->>'CreatedAt')::timestamptz < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pgstore: delete llm usage log: %w", err)
	}
	return res.RowsAffected()
}

// DeleteReportsBefore satisfies scheduler.RetentionStore. analysis_reports
// has no indexed timestamp column, so the cutoff compares against the
// CreatedAt field embedded in the JSON document.
func (s *InsightStore) DeleteReportsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM analysis_reports WHERE (document->>'CreatedAt')::timestamptz < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pgstore: delete reports: %w", err)
	}
	return res.RowsAffected()
}

// DeleteActionedInsightsBefore satisfies scheduler.RetentionStore: only
// insights already reviewed to a terminal status (Actioned or Dismissed)
// are eligible, so a pending finding is never purged out from under a
// user who hasn't seen it yet.
func (s *InsightStore) DeleteActionedInsightsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM insights
		WHERE (document->>'Status') IN ($1, $2)
		  AND (document->>'CreatedAt')::timestamptz < $3
	`, string(insight.StatusActioned), string(insight.StatusDismissed), cutoff)
	if err != nil {
		return 0, fmt.Errorf("pgstore: delete actioned insights: %w", err)
	}
	return res.RowsAffected()
}

func scanSchedules(rows *sql.Rows) ([]*insight.Schedule, error) {
	var out []*insight.Schedule
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("pgstore: scan schedule: %w", err)
		}
		var sc insight.Schedule
		if err := json.Unmarshal(raw, &sc); err != nil {
			return nil, fmt.Errorf("pgstore: unmarshal schedule: %w", err)
		}
		out = append(out, &sc)
	}
	return out, rows.Err()
}
