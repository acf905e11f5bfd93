package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/anthropics/claude-knowledge/internal/store"
)

var milestonePhases = map[string]bool{
	PhasePlanning: true, PhaseExecute: true, PhaseReview: true, PhaseMerge: true, PhaseCleanup: true,
}

// Milestone groups workflows under a larger unit of work, optionally tied to
// a GitHub milestone number.
type Milestone struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	GithubNumber int    `json:"github_number,omitempty"`
	Phase        string `json:"phase"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// Baseline holds the lint/typecheck counts captured once at the start of
// milestone work.
type Baseline struct {
	MilestoneID     string `json:"milestone_id"`
	LintExit        int    `json:"lint_exit"`
	LintWarnings    int    `json:"lint_warnings"`
	LintErrors      int    `json:"lint_errors"`
	TypecheckExit   int    `json:"typecheck_exit"`
	TypecheckErrors int    `json:"typecheck_errors"`
	CapturedAt      string `json:"captured_at"`
}

// LinkedWorkflow is a workflow attached to a milestone with its wave order.
type LinkedWorkflow struct {
	Workflow
	Wave int `json:"wave,omitempty"`
}

// CreateMilestone starts a milestone in (planning, running).
func (c *Checkpoint) CreateMilestone(ctx context.Context, name string, githubNumber int) (*Milestone, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: milestone name is empty", store.ErrInvalidInput)
	}
	now := c.clock.Now().Format(time.RFC3339)
	m := &Milestone{
		ID:           uuid.NewString(),
		Name:         name,
		GithubNumber: githubNumber,
		Phase:        PhasePlanning,
		Status:       StatusRunning,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err := c.db.DB().ExecContext(ctx, `
		INSERT INTO milestones (id, name, github_number, phase, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, nullInt(m.GithubNumber), m.Phase, m.Status, now, now)
	if err != nil {
		return nil, fmt.Errorf("create milestone: %w", err)
	}
	return m, nil
}

// GetMilestone fetches a milestone by id.
func (c *Checkpoint) GetMilestone(ctx context.Context, id string) (*Milestone, error) {
	row := c.db.DB().QueryRowContext(ctx, `
		SELECT id, name, github_number, phase, status, created_at, updated_at
		FROM milestones WHERE id = ?`, id)
	m, err := scanMilestone(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: milestone %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// FindMilestone returns the most recent milestone matching a name or GitHub
// number, or nil when none exists.
func (c *Checkpoint) FindMilestone(ctx context.Context, name string, githubNumber int) (*Milestone, error) {
	query := `SELECT id, name, github_number, phase, status, created_at, updated_at FROM milestones WHERE `
	var args []any
	switch {
	case githubNumber > 0:
		query += "github_number = ?"
		args = append(args, githubNumber)
	case name != "":
		query += "name = ?"
		args = append(args, name)
	default:
		return nil, fmt.Errorf("%w: need a name or github number", store.ErrInvalidInput)
	}
	query += " ORDER BY updated_at DESC LIMIT 1"

	row := c.db.DB().QueryRowContext(ctx, query, args...)
	m, err := scanMilestone(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListActiveMilestones returns milestones with status running or paused.
func (c *Checkpoint) ListActiveMilestones(ctx context.Context) ([]Milestone, error) {
	rows, err := c.db.DB().QueryContext(ctx, `
		SELECT id, name, github_number, phase, status, created_at, updated_at
		FROM milestones WHERE status IN (?, ?)
		ORDER BY updated_at DESC`, StatusRunning, StatusPaused)
	if err != nil {
		return nil, fmt.Errorf("list milestones: %w", err)
	}
	defer rows.Close()

	var out []Milestone
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// SetMilestonePhase moves a milestone to a new phase.
func (c *Checkpoint) SetMilestonePhase(ctx context.Context, id, phase string) error {
	if !milestonePhases[phase] {
		return fmt.Errorf("%w: unknown milestone phase %q", store.ErrInvalidInput, phase)
	}
	return c.touchMilestone(ctx, id, "phase", phase)
}

// SetMilestoneStatus moves a milestone to a new status. Completed and failed
// are terminal.
func (c *Checkpoint) SetMilestoneStatus(ctx context.Context, id, status string) error {
	if !statuses[status] {
		return fmt.Errorf("%w: unknown status %q", store.ErrInvalidInput, status)
	}
	m, err := c.GetMilestone(ctx, id)
	if err != nil {
		return err
	}
	if m.Status == StatusCompleted || m.Status == StatusFailed {
		return fmt.Errorf("%w: milestone %s is %s, a terminal status", store.ErrInvalidInput, id, m.Status)
	}
	return c.touchMilestone(ctx, id, "status", status)
}

func (c *Checkpoint) touchMilestone(ctx context.Context, id, column, value string) error {
	now := c.clock.Now().Format(time.RFC3339)
	res, err := c.db.DB().ExecContext(ctx,
		fmt.Sprintf(`UPDATE milestones SET %s = ?, updated_at = ? WHERE id = ?`, column),
		value, now, id)
	if err != nil {
		return fmt.Errorf("update milestone %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: milestone %s", store.ErrNotFound, id)
	}
	return nil
}

// DeleteMilestone removes a milestone, its baseline, and its workflow links.
func (c *Checkpoint) DeleteMilestone(ctx context.Context, id string) error {
	res, err := c.db.DB().ExecContext(ctx, `DELETE FROM milestones WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete milestone: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: milestone %s", store.ErrNotFound, id)
	}
	return nil
}

// LinkWorkflow attaches a workflow to a milestone with an optional wave
// ordering.
func (c *Checkpoint) LinkWorkflow(ctx context.Context, milestoneID, workflowID string, wave int) error {
	_, err := c.db.DB().ExecContext(ctx, `
		INSERT OR REPLACE INTO milestone_workflows (milestone_id, workflow_id, wave)
		VALUES (?, ?, ?)`, milestoneID, workflowID, nullInt(wave))
	if err != nil {
		return fmt.Errorf("link workflow: %w", err)
	}
	return nil
}

// MilestoneWorkflows returns a milestone's workflows ordered by wave.
func (c *Checkpoint) MilestoneWorkflows(ctx context.Context, milestoneID string) ([]LinkedWorkflow, error) {
	rows, err := c.db.DB().QueryContext(ctx, `
		SELECT w.id, w.issue_number, w.branch, w.worktree, w.phase, w.status,
		       w.retry_count, w.created_at, w.updated_at, mw.wave
		FROM milestone_workflows mw
		JOIN workflows w ON w.id = mw.workflow_id
		WHERE mw.milestone_id = ?
		ORDER BY mw.wave, w.created_at`, milestoneID)
	if err != nil {
		return nil, fmt.Errorf("milestone workflows: %w", err)
	}
	defer rows.Close()

	var out []LinkedWorkflow
	for rows.Next() {
		var (
			lw       LinkedWorkflow
			issue    sql.NullInt64
			worktree sql.NullString
			wave     sql.NullInt64
		)
		if err := rows.Scan(&lw.ID, &issue, &lw.Branch, &worktree, &lw.Phase, &lw.Status,
			&lw.RetryCount, &lw.CreatedAt, &lw.UpdatedAt, &wave); err != nil {
			return nil, err
		}
		lw.IssueNumber = int(issue.Int64)
		lw.Worktree = worktree.String
		lw.Wave = int(wave.Int64)
		out = append(out, lw)
	}
	return out, rows.Err()
}

// SaveBaseline captures the one-shot lint/typecheck counts for a milestone.
// Re-saving replaces the previous capture.
func (c *Checkpoint) SaveBaseline(ctx context.Context, b Baseline) error {
	if b.MilestoneID == "" {
		return fmt.Errorf("%w: baseline milestone id is empty", store.ErrInvalidInput)
	}
	now := c.clock.Now().Format(time.RFC3339)
	_, err := c.db.DB().ExecContext(ctx, `
		INSERT OR REPLACE INTO baselines
			(milestone_id, lint_exit, lint_warnings, lint_errors, typecheck_exit, typecheck_errors, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.MilestoneID, b.LintExit, b.LintWarnings, b.LintErrors,
		b.TypecheckExit, b.TypecheckErrors, now)
	if err != nil {
		return fmt.Errorf("save baseline: %w", err)
	}
	return nil
}

// GetBaseline loads a milestone's baseline, or nil when never captured.
func (c *Checkpoint) GetBaseline(ctx context.Context, milestoneID string) (*Baseline, error) {
	var b Baseline
	err := c.db.DB().QueryRowContext(ctx, `
		SELECT milestone_id, lint_exit, lint_warnings, lint_errors, typecheck_exit, typecheck_errors, captured_at
		FROM baselines WHERE milestone_id = ?`, milestoneID).Scan(
		&b.MilestoneID, &b.LintExit, &b.LintWarnings, &b.LintErrors,
		&b.TypecheckExit, &b.TypecheckErrors, &b.CapturedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func scanMilestone(r interface{ Scan(...any) error }) (*Milestone, error) {
	var (
		m      Milestone
		number sql.NullInt64
	)
	if err := r.Scan(&m.ID, &m.Name, &number, &m.Phase, &m.Status, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.GithubNumber = int(number.Int64)
	return &m, nil
}
