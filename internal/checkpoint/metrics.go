package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/anthropics/claude-knowledge/internal/store"
)

// SessionMetric records what happened during one session.
type SessionMetric struct {
	SessionID         string  `json:"session_id"`
	IssueNumber       int     `json:"issue_number,omitempty"`
	FilesRead         int     `json:"files_read"`
	Compacted         bool    `json:"compacted"`
	DurationMinutes   float64 `json:"duration_minutes,omitempty"`
	ReviewFindings    int     `json:"review_findings"`
	LearningsInjected int     `json:"learnings_injected"`
	LearningsCaptured int     `json:"learnings_captured"`
	CreatedAt         string  `json:"created_at"`
}

// MetricsSummary aggregates session metrics.
type MetricsSummary struct {
	Sessions          int     `json:"sessions"`
	TotalFilesRead    int     `json:"total_files_read"`
	CompactedSessions int     `json:"compacted_sessions"`
	AvgDuration       float64 `json:"avg_duration_minutes"`
	LearningsInjected int     `json:"learnings_injected"`
	LearningsCaptured int     `json:"learnings_captured"`
	ReviewFindings    int     `json:"review_findings"`
}

// RecordSessionMetric upserts the metric row for a session.
func (c *Checkpoint) RecordSessionMetric(ctx context.Context, m SessionMetric) error {
	if m.SessionID == "" {
		return fmt.Errorf("%w: session id is empty", store.ErrInvalidInput)
	}
	now := c.clock.Now().Format(time.RFC3339)
	var duration any
	if m.DurationMinutes > 0 {
		duration = m.DurationMinutes
	}
	_, err := c.db.DB().ExecContext(ctx, `
		INSERT OR REPLACE INTO session_metrics
			(session_id, issue_number, files_read, compacted, duration_minutes,
			 review_findings, learnings_injected, learnings_captured, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.SessionID, nullInt(m.IssueNumber), m.FilesRead, boolInt(m.Compacted),
		duration, m.ReviewFindings, m.LearningsInjected, m.LearningsCaptured, now)
	if err != nil {
		return fmt.Errorf("record session metric: %w", err)
	}
	return nil
}

// ListSessionMetrics returns metrics, newest first, up to limit.
func (c *Checkpoint) ListSessionMetrics(ctx context.Context, limit int) ([]SessionMetric, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := c.db.DB().QueryContext(ctx, `
		SELECT session_id, issue_number, files_read, compacted, duration_minutes,
		       review_findings, learnings_injected, learnings_captured, created_at
		FROM session_metrics ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list session metrics: %w", err)
	}
	defer rows.Close()

	var out []SessionMetric
	for rows.Next() {
		var (
			m         SessionMetric
			issue     sql.NullInt64
			compacted int
			duration  sql.NullFloat64
		)
		if err := rows.Scan(&m.SessionID, &issue, &m.FilesRead, &compacted, &duration,
			&m.ReviewFindings, &m.LearningsInjected, &m.LearningsCaptured, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.IssueNumber = int(issue.Int64)
		m.Compacted = compacted != 0
		m.DurationMinutes = duration.Float64
		out = append(out, m)
	}
	return out, rows.Err()
}

// SummarizeSessionMetrics aggregates all recorded sessions.
func (c *Checkpoint) SummarizeSessionMetrics(ctx context.Context) (*MetricsSummary, error) {
	var s MetricsSummary
	var avg sql.NullFloat64
	err := c.db.DB().QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(files_read), 0),
		       COALESCE(SUM(compacted), 0),
		       AVG(duration_minutes),
		       COALESCE(SUM(learnings_injected), 0),
		       COALESCE(SUM(learnings_captured), 0),
		       COALESCE(SUM(review_findings), 0)
		FROM session_metrics`).Scan(
		&s.Sessions, &s.TotalFilesRead, &s.CompactedSessions, &avg,
		&s.LearningsInjected, &s.LearningsCaptured, &s.ReviewFindings)
	if err != nil {
		return nil, fmt.Errorf("summarize session metrics: %w", err)
	}
	s.AvgDuration = avg.Float64
	return &s, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
