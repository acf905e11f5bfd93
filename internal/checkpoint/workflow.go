// Package checkpoint persists workflow and milestone state machines, their
// action and commit logs, captured baselines, and per-session metrics.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/anthropics/claude-knowledge/internal/clock"
	"github.com/anthropics/claude-knowledge/internal/store"
)

// Workflow phases.
const (
	PhaseResearch  = "research"
	PhaseImplement = "implement"
	PhaseReview    = "review"
	PhaseFinalize  = "finalize"
	PhasePlanning  = "planning"
	PhaseExecute   = "execute"
	PhaseMerge     = "merge"
	PhaseCleanup   = "cleanup"
)

// Workflow and milestone statuses. Completed and failed are terminal.
const (
	StatusRunning   = "running"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var workflowPhases = map[string]bool{
	PhaseResearch: true, PhaseImplement: true, PhaseReview: true, PhaseFinalize: true,
	PhasePlanning: true, PhaseExecute: true, PhaseMerge: true, PhaseCleanup: true,
}

var statuses = map[string]bool{
	StatusRunning: true, StatusPaused: true, StatusCompleted: true, StatusFailed: true,
}

// Action results.
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
	ResultPending = "pending"
)

var actionResults = map[string]bool{
	ResultSuccess: true, ResultFailed: true, ResultPending: true,
}

// Workflow is one issue-scoped unit of work moving through phases.
type Workflow struct {
	ID          string `json:"id"`
	IssueNumber int    `json:"issue_number,omitempty"`
	Branch      string `json:"branch"`
	Worktree    string `json:"worktree,omitempty"`
	Phase       string `json:"phase"`
	Status      string `json:"status"`
	RetryCount  int    `json:"retry_count"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// Action is one logged step of a workflow.
type Action struct {
	Action    string            `json:"action"`
	Result    string            `json:"result"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt string            `json:"created_at"`
}

// Commit is one recorded commit of a workflow.
type Commit struct {
	SHA       string `json:"sha"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

// Checkpoint manages workflow and milestone persistence.
type Checkpoint struct {
	db    *store.Store
	clock clock.Clock
}

// New returns a Checkpoint over db. A nil clk defaults to system time.
func New(db *store.Store, clk clock.Clock) *Checkpoint {
	if clk == nil {
		clk = clock.System{}
	}
	return &Checkpoint{db: db, clock: clk}
}

// CreateWorkflow starts a workflow in (research, running).
func (c *Checkpoint) CreateWorkflow(ctx context.Context, issueNumber int, branch, worktree string) (*Workflow, error) {
	if branch == "" {
		return nil, fmt.Errorf("%w: workflow branch is empty", store.ErrInvalidInput)
	}
	now := c.clock.Now().Format(time.RFC3339)
	w := &Workflow{
		ID:          uuid.NewString(),
		IssueNumber: issueNumber,
		Branch:      branch,
		Worktree:    worktree,
		Phase:       PhaseResearch,
		Status:      StatusRunning,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := c.db.DB().ExecContext(ctx, `
		INSERT INTO workflows (id, issue_number, branch, worktree, phase, status, retry_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		w.ID, nullInt(w.IssueNumber), w.Branch, nullStr(w.Worktree), w.Phase, w.Status, now, now)
	if err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}
	return w, nil
}

// GetWorkflow fetches a workflow by id. Returns store.ErrNotFound when
// absent.
func (c *Checkpoint) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	row := c.db.DB().QueryRowContext(ctx, `
		SELECT id, issue_number, branch, worktree, phase, status, retry_count, created_at, updated_at
		FROM workflows WHERE id = ?`, id)
	w, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: workflow %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// FindWorkflow returns the most recently updated workflow for an issue, or
// nil when none exists.
func (c *Checkpoint) FindWorkflow(ctx context.Context, issueNumber int) (*Workflow, error) {
	row := c.db.DB().QueryRowContext(ctx, `
		SELECT id, issue_number, branch, worktree, phase, status, retry_count, created_at, updated_at
		FROM workflows WHERE issue_number = ?
		ORDER BY updated_at DESC LIMIT 1`, issueNumber)
	w, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// ListActiveWorkflows returns workflows with status running or paused,
// most recently updated first.
func (c *Checkpoint) ListActiveWorkflows(ctx context.Context) ([]Workflow, error) {
	return c.listWorkflows(ctx, `
		SELECT id, issue_number, branch, worktree, phase, status, retry_count, created_at, updated_at
		FROM workflows WHERE status IN (?, ?)
		ORDER BY updated_at DESC`, StatusRunning, StatusPaused)
}

// ListWorkflows returns every workflow, most recently updated first.
func (c *Checkpoint) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	return c.listWorkflows(ctx, `
		SELECT id, issue_number, branch, worktree, phase, status, retry_count, created_at, updated_at
		FROM workflows ORDER BY updated_at DESC`)
}

func (c *Checkpoint) listWorkflows(ctx context.Context, query string, args ...any) ([]Workflow, error) {
	rows, err := c.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

// SetWorkflowPhase moves a workflow to a new phase.
func (c *Checkpoint) SetWorkflowPhase(ctx context.Context, id, phase string) error {
	if !workflowPhases[phase] {
		return fmt.Errorf("%w: unknown workflow phase %q", store.ErrInvalidInput, phase)
	}
	return c.touchWorkflow(ctx, id, "phase", phase)
}

// SetWorkflowStatus moves a workflow to a new status. Completed and failed
// are terminal; further transitions are rejected.
func (c *Checkpoint) SetWorkflowStatus(ctx context.Context, id, status string) error {
	if !statuses[status] {
		return fmt.Errorf("%w: unknown status %q", store.ErrInvalidInput, status)
	}
	w, err := c.GetWorkflow(ctx, id)
	if err != nil {
		return err
	}
	if w.Status == StatusCompleted || w.Status == StatusFailed {
		return fmt.Errorf("%w: workflow %s is %s, a terminal status", store.ErrInvalidInput, id, w.Status)
	}
	return c.touchWorkflow(ctx, id, "status", status)
}

// IncrementRetry bumps the retry counter.
func (c *Checkpoint) IncrementRetry(ctx context.Context, id string) error {
	now := c.clock.Now().Format(time.RFC3339)
	res, err := c.db.DB().ExecContext(ctx, `
		UPDATE workflows SET retry_count = retry_count + 1, updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return fmt.Errorf("increment retry: %w", err)
	}
	return requireRow(res, id)
}

func (c *Checkpoint) touchWorkflow(ctx context.Context, id, column, value string) error {
	now := c.clock.Now().Format(time.RFC3339)
	// column is one of the fixed literals "phase" or "status", never input.
	res, err := c.db.DB().ExecContext(ctx,
		fmt.Sprintf(`UPDATE workflows SET %s = ?, updated_at = ? WHERE id = ?`, column),
		value, now, id)
	if err != nil {
		return fmt.Errorf("update workflow %s: %w", column, err)
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: workflow %s", store.ErrNotFound, id)
	}
	return nil
}

// LogAction appends to a workflow's ordered action log.
func (c *Checkpoint) LogAction(ctx context.Context, workflowID, action, result string, metadata map[string]string) error {
	if !actionResults[result] {
		return fmt.Errorf("%w: unknown action result %q", store.ErrInvalidInput, result)
	}
	var meta any
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		meta = string(b)
	}
	now := c.clock.Now().Format(time.RFC3339)
	_, err := c.db.DB().ExecContext(ctx, `
		INSERT INTO workflow_actions (workflow_id, action, result, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)`, workflowID, action, result, meta, now)
	if err != nil {
		return fmt.Errorf("log action: %w", err)
	}
	return nil
}

// LogCommit appends to a workflow's ordered commit log.
func (c *Checkpoint) LogCommit(ctx context.Context, workflowID, sha, message string) error {
	if sha == "" {
		return fmt.Errorf("%w: commit sha is empty", store.ErrInvalidInput)
	}
	now := c.clock.Now().Format(time.RFC3339)
	_, err := c.db.DB().ExecContext(ctx, `
		INSERT INTO workflow_commits (workflow_id, sha, message, created_at)
		VALUES (?, ?, ?, ?)`, workflowID, sha, message, now)
	if err != nil {
		return fmt.Errorf("log commit: %w", err)
	}
	return nil
}

// Actions returns a workflow's action log in insertion order.
func (c *Checkpoint) Actions(ctx context.Context, workflowID string) ([]Action, error) {
	rows, err := c.db.DB().QueryContext(ctx, `
		SELECT action, result, metadata, created_at
		FROM workflow_actions WHERE workflow_id = ? ORDER BY id`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load actions: %w", err)
	}
	defer rows.Close()

	var out []Action
	for rows.Next() {
		var a Action
		var meta sql.NullString
		if err := rows.Scan(&a.Action, &a.Result, &meta, &a.CreatedAt); err != nil {
			return nil, err
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &a.Metadata); err != nil {
				return nil, fmt.Errorf("decode action metadata: %w", err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Commits returns a workflow's commit log in insertion order.
func (c *Checkpoint) Commits(ctx context.Context, workflowID string) ([]Commit, error) {
	rows, err := c.db.DB().QueryContext(ctx, `
		SELECT sha, message, created_at
		FROM workflow_commits WHERE workflow_id = ? ORDER BY id`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load commits: %w", err)
	}
	defer rows.Close()

	var out []Commit
	for rows.Next() {
		var cm Commit
		if err := rows.Scan(&cm.SHA, &cm.Message, &cm.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, cm)
	}
	return out, rows.Err()
}

// DeleteWorkflow removes a workflow and, through cascading foreign keys, its
// action and commit logs.
func (c *Checkpoint) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := c.db.DB().ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	return requireRow(res, id)
}

// CleanupStaleWorkflows fails every running or paused workflow not updated
// within the threshold and returns how many were swept. Runs in one
// transaction.
func (c *Checkpoint) CleanupStaleWorkflows(ctx context.Context, hoursThreshold int) (int, error) {
	if hoursThreshold <= 0 {
		return 0, fmt.Errorf("%w: hours threshold must be positive", store.ErrInvalidInput)
	}
	now := c.clock.Now()
	cutoff := now.Add(-time.Duration(hoursThreshold) * time.Hour).Format(time.RFC3339)

	var count int
	err := c.db.Tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE workflows SET status = ?, updated_at = ?
			WHERE status IN (?, ?) AND updated_at < ?`,
			StatusFailed, now.Format(time.RFC3339), StatusRunning, StatusPaused, cutoff)
		if err != nil {
			return fmt.Errorf("sweep stale workflows: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		count = int(n)
		return nil
	})
	return count, err
}

func scanWorkflow(r interface{ Scan(...any) error }) (*Workflow, error) {
	var (
		w        Workflow
		issue    sql.NullInt64
		worktree sql.NullString
	)
	if err := r.Scan(&w.ID, &issue, &w.Branch, &worktree, &w.Phase, &w.Status,
		&w.RetryCount, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	w.IssueNumber = int(issue.Int64)
	w.Worktree = worktree.String
	return &w, nil
}

func nullInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
