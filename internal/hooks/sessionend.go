package hooks

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/anthropics/claude-knowledge/internal/checkpoint"
	"github.com/anthropics/claude-knowledge/internal/session"
)

// fallbackWindow bounds transcript discovery when no start time is known.
const fallbackWindow = 2 * time.Hour

// EndInput carries what the session-end hook needs. Zero values mean
// "unknown" and are hydrated from the session-metadata file where possible.
type EndInput struct {
	WorkflowID        string
	SessionID         string
	IssueNumber       int
	StartTime         time.Time
	ModifiedFiles     []string
	Commits           []string
	FilesRead         int
	Compacted         bool
	Interrupted       bool
	ReviewFindings    int
	LearningsInjected int
	DryRun            bool
}

// EndOutput reports what the session-end hook did.
type EndOutput struct {
	SessionID         string   `json:"session_id"`
	TranscriptsFound  int      `json:"transcripts_found"`
	LearningsCaptured int      `json:"learnings_captured"`
	PatternsCaptured  int      `json:"patterns_captured"`
	MistakesCaptured  int      `json:"mistakes_captured"`
	MetricsRecorded   bool     `json:"metrics_recorded"`
	DryRun            bool     `json:"dry_run"`
	Diagnostics       []string `json:"diagnostics,omitempty"`
}

// SessionEnd runs the end-of-session flow. With DryRun set, it hydrates and
// discovers but neither calls the extractor nor writes to the store.
func (h *Hooks) SessionEnd(ctx context.Context, in EndInput) (*EndOutput, error) {
	now := h.clock.Now()
	out := &EndOutput{DryRun: in.DryRun}

	// Hydrate missing identity from the rendezvous file.
	var metaPath string
	if in.SessionID == "" || in.StartTime.IsZero() {
		meta, path, err := session.Find(in.SessionID, now)
		switch {
		case errors.Is(err, session.ErrNoSession):
			h.log.Info("no session metadata file found")
		case err != nil:
			h.log.Warn("session metadata lookup failed", zap.Error(err))
		default:
			if in.SessionID == "" {
				in.SessionID = meta.SessionID
			}
			if in.StartTime.IsZero() {
				in.StartTime = meta.StartTime
			}
			if in.LearningsInjected == 0 {
				in.LearningsInjected = meta.LearningsInjected
			}
			if in.IssueNumber == 0 {
				in.IssueNumber = meta.IssueNumber
			}
			metaPath = path
		}
	}
	out.SessionID = in.SessionID

	start := in.StartTime
	if start.IsZero() {
		start = now.Add(-fallbackWindow)
	}
	transcripts := h.discoverTranscripts(start, now)
	out.TranscriptsFound = len(transcripts)

	if in.DryRun {
		out.Diagnostics = h.dryRunDiagnostics(in, transcripts, metaPath)
		return out, nil
	}

	if h.extractor != nil && len(transcripts) > 0 {
		extraction, err := h.extractor.Extract(ctx, transcripts, in.Commits, in.ModifiedFiles)
		if err != nil {
			h.log.Warn("learning extraction failed", zap.Error(err))
		} else if extraction != nil {
			h.persistExtraction(ctx, extraction, out)
		}
	}

	if in.SessionID != "" {
		metric := checkpoint.SessionMetric{
			SessionID:         in.SessionID,
			IssueNumber:       in.IssueNumber,
			FilesRead:         in.FilesRead,
			Compacted:         in.Compacted,
			ReviewFindings:    in.ReviewFindings,
			LearningsInjected: in.LearningsInjected,
			LearningsCaptured: out.LearningsCaptured,
		}
		if !in.StartTime.IsZero() {
			metric.DurationMinutes = now.Sub(in.StartTime).Minutes()
		}
		if err := h.cp.RecordSessionMetric(ctx, metric); err != nil {
			h.log.Warn("session metric write failed", zap.Error(err))
		} else {
			out.MetricsRecorded = true
		}
	}

	if metaPath != "" {
		if err := session.Remove(metaPath); err != nil {
			h.log.Warn("session metadata cleanup failed", zap.Error(err))
		}
	}
	return out, nil
}

func (h *Hooks) persistExtraction(ctx context.Context, ex *Extraction, out *EndOutput) {
	if err := h.know.StoreLearnings(ctx, ex.Learnings); err != nil {
		h.log.Warn("storing learnings failed", zap.Error(err))
	} else {
		out.LearningsCaptured = len(ex.Learnings)
	}
	for _, p := range ex.Patterns {
		if err := h.know.StorePattern(ctx, p); err != nil {
			h.log.Warn("storing pattern failed", zap.String("name", p.Name), zap.Error(err))
			continue
		}
		out.PatternsCaptured++
	}
	for _, m := range ex.Mistakes {
		if err := h.know.StoreMistake(ctx, m); err != nil {
			h.log.Warn("storing mistake failed", zap.Error(err))
			continue
		}
		out.MistakesCaptured++
	}
}

// discoverTranscripts returns transcript files whose modification time falls
// in [start, end].
func (h *Hooks) discoverTranscripts(start, end time.Time) []string {
	var found []string
	for _, dir := range h.TranscriptDirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				return nil
			}
			name := strings.ToLower(d.Name())
			if !strings.HasSuffix(name, ".jsonl") && !strings.HasSuffix(name, ".json") {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			mt := info.ModTime()
			if mt.Before(start) || mt.After(end) {
				return nil
			}
			found = append(found, path)
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			h.log.Warn("transcript discovery failed", zap.String("dir", dir), zap.Error(err))
		}
	}
	return found
}

func (h *Hooks) dryRunDiagnostics(in EndInput, transcripts []string, metaPath string) []string {
	var d []string
	if in.SessionID != "" {
		d = append(d, fmt.Sprintf("session id: %s", in.SessionID))
	} else {
		d = append(d, "session id: unknown")
	}
	if metaPath != "" {
		d = append(d, fmt.Sprintf("metadata file: %s", metaPath))
	} else {
		d = append(d, "metadata file: none")
	}
	if in.StartTime.IsZero() {
		d = append(d, fmt.Sprintf("start time: unknown, using %s window", fallbackWindow))
	} else {
		d = append(d, fmt.Sprintf("start time: %s", in.StartTime.Format(time.RFC3339)))
	}
	d = append(d, fmt.Sprintf("transcripts in window: %d", len(transcripts)))
	if h.extractor == nil {
		d = append(d, "extractor: not configured, extraction would be skipped")
	} else {
		d = append(d, "extractor: ready")
	}
	return d
}
