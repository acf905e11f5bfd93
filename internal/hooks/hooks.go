// Package hooks orchestrates the session-start and session-end flows: doc
// indexing, stale-workflow sweeps, context-block assembly, learning
// extraction, and session-metric recording. External failures (git,
// filesystem, embedder) are logged and the session continues.
package hooks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/anthropics/claude-knowledge/internal/checkpoint"
	"github.com/anthropics/claude-knowledge/internal/clock"
	"github.com/anthropics/claude-knowledge/internal/docs"
	"github.com/anthropics/claude-knowledge/internal/graph"
	"github.com/anthropics/claude-knowledge/internal/knowledge"
	"github.com/anthropics/claude-knowledge/internal/session"
)

// SessionMetadataMarker prefixes the machine-readable line in session-start
// output.
const SessionMetadataMarker = "SESSION_METADATA:"

// StaleWorkflowHours is the default threshold for the stale-workflow sweep.
const StaleWorkflowHours = 24

// maxBlastEntities caps the blast-radius portion of the context block.
const maxBlastEntities = 15

// maxLearnings caps the learnings injected into the context block.
const maxLearnings = 5

// Extraction is what a LearningExtractor produces from session artifacts.
type Extraction struct {
	Learnings []knowledge.Learning
	Patterns  []knowledge.Pattern
	Mistakes  []knowledge.Mistake
}

// LearningExtractor distills knowledge records from transcripts and commit
// diffs. Implementations typically call an external model.
type LearningExtractor interface {
	Extract(ctx context.Context, transcripts, commits, files []string) (*Extraction, error)
}

// Hooks wires the session flows together.
type Hooks struct {
	log       *zap.Logger
	know      *knowledge.Knowledge
	cp        *checkpoint.Checkpoint
	docs      *docs.Indexer
	query     *graph.Query
	extractor LearningExtractor
	clock     clock.Clock

	// TranscriptDirs are searched for transcripts during session-end.
	TranscriptDirs []string
}

// New builds a Hooks. log may be nil (no-op logging), extractor may be nil
// (session-end skips extraction), and a nil clk defaults to system time.
func New(log *zap.Logger, know *knowledge.Knowledge, cp *checkpoint.Checkpoint,
	ix *docs.Indexer, q *graph.Query, extractor LearningExtractor, clk clock.Clock) *Hooks {
	if log == nil {
		log = zap.NewNop()
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Hooks{log: log, know: know, cp: cp, docs: ix, query: q, extractor: extractor, clock: clk}
}

// StartInput carries what the session-start hook needs.
type StartInput struct {
	SessionID     string
	WorkingDir    string
	Branch        string
	ModifiedFiles []string
	IssueNumber   int
}

// StartOutput is the rendered context for a starting session.
type StartOutput struct {
	ContextBlock      string
	ResumePrompt      string
	MetadataLine      string
	MetadataPath      string
	LearningsInjected int
	StaleSwept        int
}

// SessionStart runs the start-of-session flow. A missing session id is
// generated; the caller reads it back from the metadata line.
func (h *Hooks) SessionStart(ctx context.Context, in StartInput) (*StartOutput, error) {
	if in.SessionID == "" {
		in.SessionID = uuid.NewString()
	}
	out := &StartOutput{}

	// Doc indexing is best effort; a broken markdown tree must not block
	// the session.
	if h.docs != nil && in.WorkingDir != "" {
		if _, err := h.docs.IndexDir(ctx, in.WorkingDir); err != nil {
			h.log.Warn("doc indexing failed", zap.Error(err))
		}
	}

	swept, err := h.cp.CleanupStaleWorkflows(ctx, StaleWorkflowHours)
	if err != nil {
		h.log.Warn("stale workflow sweep failed", zap.Error(err))
	}
	out.StaleSwept = swept

	active, err := h.cp.ListActiveWorkflows(ctx)
	if err != nil {
		h.log.Warn("active workflow lookup failed", zap.Error(err))
	}
	if len(active) > 0 {
		out.ResumePrompt = renderResumePrompt(active)
	}

	var block strings.Builder
	h.appendBlastRadius(ctx, &block, in.ModifiedFiles)
	out.LearningsInjected = h.appendLearnings(ctx, &block, in)
	out.ContextBlock = block.String()

	meta := session.Metadata{
		SessionID:         in.SessionID,
		StartTime:         h.clock.Now(),
		LearningsInjected: out.LearningsInjected,
		IssueNumber:       in.IssueNumber,
	}
	path, err := session.Write(meta)
	if err != nil {
		// The end hook falls back to the two-hour window without it.
		h.log.Warn("session metadata write failed", zap.Error(err))
	}
	out.MetadataPath = path
	out.MetadataLine = fmt.Sprintf("%s sessionId=%s startTime=%s learningsInjected=%d",
		SessionMetadataMarker, in.SessionID, meta.StartTime.Format(time.RFC3339), out.LearningsInjected)

	return out, nil
}

func renderResumePrompt(active []checkpoint.Workflow) string {
	var b strings.Builder
	b.WriteString("Active workflows:\n")
	for _, w := range active {
		fmt.Fprintf(&b, "- %s (issue #%d, branch %s, phase %s, status %s)\n",
			w.ID, w.IssueNumber, w.Branch, w.Phase, w.Status)
	}
	b.WriteString("Consider resuming before starting new work.\n")
	return b.String()
}

func (h *Hooks) appendBlastRadius(ctx context.Context, b *strings.Builder, files []string) {
	if h.query == nil || len(files) == 0 {
		return
	}
	seen := make(map[string]bool)
	var impacts []graph.Impact
	for _, f := range files {
		hits, err := h.query.BlastRadius(ctx, f, 2)
		if err != nil {
			h.log.Warn("blast radius failed", zap.String("file", f), zap.Error(err))
			continue
		}
		for _, im := range hits {
			if im.Depth == 0 || seen[im.ID] {
				continue
			}
			seen[im.ID] = true
			impacts = append(impacts, im)
			if len(impacts) >= maxBlastEntities {
				break
			}
		}
		if len(impacts) >= maxBlastEntities {
			break
		}
	}
	if len(impacts) == 0 {
		return
	}
	b.WriteString("Changes to your modified files may affect:\n")
	for _, im := range impacts {
		fmt.Fprintf(b, "- %s %s (%s:%d)\n", im.Kind, im.Name, im.FilePath, im.Line)
	}
	b.WriteString("\n")
}

func (h *Hooks) appendLearnings(ctx context.Context, b *strings.Builder, in StartInput) int {
	if h.know == nil {
		return 0
	}
	queryText := strings.TrimSpace(in.Branch + " " + strings.Join(in.ModifiedFiles, " "))

	var learnings []knowledge.Learning
	if queryText != "" {
		results, err := h.know.SearchSimilar(ctx, queryText, knowledge.SearchOptions{Limit: maxLearnings})
		if err != nil {
			h.log.Info("similarity search unavailable, using structured query", zap.Error(err))
		} else {
			for _, r := range results {
				learnings = append(learnings, r.Learning)
			}
		}
	}
	if len(learnings) == 0 {
		fallback, err := h.know.Query(ctx, knowledge.Filter{IssueNumber: in.IssueNumber, Limit: maxLearnings})
		if err != nil {
			h.log.Warn("learning query failed", zap.Error(err))
			return 0
		}
		learnings = fallback
	}
	if len(learnings) == 0 {
		return 0
	}

	b.WriteString("Relevant learnings from past sessions:\n")
	for _, l := range learnings {
		fmt.Fprintf(b, "- %s", l.Content)
		if l.FilePath != "" {
			fmt.Fprintf(b, " (%s)", l.FilePath)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return len(learnings)
}
