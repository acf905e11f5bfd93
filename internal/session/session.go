// Package session implements the lock-free rendezvous between the
// session-start and session-end hooks: a small JSON metadata file in a
// per-user directory, discovered by session id or most-recent mtime.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// StaleAfter is the age past which an orphan metadata file is considered
// abandoned and garbage-collected during discovery.
const StaleAfter = 24 * time.Hour

// ErrNoSession indicates no usable session-metadata file was found.
var ErrNoSession = errors.New("no session metadata found")

// Metadata is the state session-start persists for session-end to find.
type Metadata struct {
	SessionID         string    `json:"sessionId"`
	StartTime         time.Time `json:"startTime"`
	LearningsInjected int       `json:"learningsInjected"`
	IssueNumber       int       `json:"issueNumber,omitempty"`
}

// Dir is the per-user directory holding session-metadata files.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".claude-knowledge"), nil
}

// filename builds the metadata file name for a session. The millisecond
// timestamp prefix keeps names unique and sortable.
func filename(m Metadata) string {
	return fmt.Sprintf("session-%d-%s.json", m.StartTime.UnixMilli(), m.SessionID)
}

// Write persists the metadata file and returns its path.
func Write(m Metadata) (string, error) {
	if m.SessionID == "" {
		return "", errors.New("session id is empty")
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session directory: %w", err)
	}

	path := filepath.Join(dir, filename(m))
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write session metadata: %w", err)
	}
	return path, nil
}

// Find locates the metadata file for a session. When sessionID is supplied
// the file must match it; otherwise the most recently modified non-stale
// file wins. Files older than StaleAfter are deleted as a side effect.
// Returns the metadata and the path of its file.
func Find(sessionID string, now time.Time) (*Metadata, string, error) {
	dir, err := Dir()
	if err != nil {
		return nil, "", err
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, "", ErrNoSession
	}
	if err != nil {
		return nil, "", fmt.Errorf("read session directory: %w", err)
	}

	type candidate struct {
		path  string
		mtime time.Time
	}
	var candidates []candidate

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "session-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		path := filepath.Join(dir, name)
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > StaleAfter {
			// Orphan from a crashed session.
			os.Remove(path)
			continue
		}
		if sessionID != "" && !strings.HasSuffix(name, "-"+sessionID+".json") {
			continue
		}
		candidates = append(candidates, candidate{path: path, mtime: info.ModTime()})
	}
	if len(candidates) == 0 {
		return nil, "", ErrNoSession
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].mtime.After(candidates[j].mtime)
	})

	for _, c := range candidates {
		m, err := read(c.path)
		if err != nil {
			continue
		}
		// A sessionID supplied by the caller must match exactly, never
		// fall through to a different session's file.
		if sessionID != "" && m.SessionID != sessionID {
			continue
		}
		return m, c.path, nil
	}
	return nil, "", ErrNoSession
}

func read(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode session metadata %s: %w", path, err)
	}
	if m.SessionID == "" || m.StartTime.IsZero() {
		return nil, fmt.Errorf("incomplete session metadata in %s", path)
	}
	return &m, nil
}

// Remove deletes a metadata file, tolerating its absence.
func Remove(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
