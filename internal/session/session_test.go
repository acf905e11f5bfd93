package session

import (
	"errors"
	"os"
	"testing"
	"time"
)

func setHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func TestWriteAndFindBySessionID(t *testing.T) {
	setHome(t)
	now := time.Now()

	m := Metadata{SessionID: "abc", StartTime: now.Add(-time.Hour), LearningsInjected: 3, IssueNumber: 7}
	path, err := Write(m)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("metadata file missing: %v", err)
	}

	got, gotPath, err := Find("abc", now)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got.SessionID != "abc" || got.LearningsInjected != 3 || got.IssueNumber != 7 {
		t.Errorf("metadata = %+v", got)
	}
	if gotPath != path {
		t.Errorf("path = %s, want %s", gotPath, path)
	}
}

func TestFindStrictSessionIDMatch(t *testing.T) {
	setHome(t)
	now := time.Now()

	if _, err := Write(Metadata{SessionID: "other", StartTime: now.Add(-time.Minute)}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// A supplied session id must match; a different session's file never
	// satisfies the lookup.
	_, _, err := Find("wanted", now)
	if !errors.Is(err, ErrNoSession) {
		t.Errorf("err = %v, want ErrNoSession", err)
	}
}

func TestFindMostRecentWithoutSessionID(t *testing.T) {
	setHome(t)
	now := time.Now()

	older, err := Write(Metadata{SessionID: "old", StartTime: now.Add(-2 * time.Hour)})
	if err != nil {
		t.Fatalf("Write old: %v", err)
	}
	newer, err := Write(Metadata{SessionID: "new", StartTime: now.Add(-time.Minute)})
	if err != nil {
		t.Fatalf("Write new: %v", err)
	}
	// Make mtimes unambiguous.
	past := now.Add(-time.Hour)
	if err := os.Chtimes(older, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := os.Chtimes(newer, now, now); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	got, _, err := Find("", now)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got.SessionID != "new" {
		t.Errorf("picked %s, want most recent", got.SessionID)
	}
}

func TestFindGarbageCollectsStaleFiles(t *testing.T) {
	setHome(t)
	now := time.Now()

	stale, err := Write(Metadata{SessionID: "stale", StartTime: now.Add(-48 * time.Hour)})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	old := now.Add(-30 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	_, _, err = Find("", now)
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale file not garbage-collected")
	}
}

func TestRemoveTolerant(t *testing.T) {
	setHome(t)
	path, err := Write(Metadata{SessionID: "x", StartTime: time.Now()})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := Remove(path); err != nil {
		t.Errorf("second Remove should be a no-op: %v", err)
	}
}
