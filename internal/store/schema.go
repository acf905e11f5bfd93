package store

import "fmt"

// schemaVersion is the schema version this binary writes. The on-disk
// version is tracked in PRAGMA user_version; opening a file with a higher
// version fails with ErrSchemaTooNew.
const schemaVersion = 2

// migrations holds one idempotent SQL script per schema version, applied in
// order inside a transaction. Index i corresponds to version i+1.
var migrations = []string{
	// v1: knowledge graph, code graph, documentation index.
	`
-- Semantic knowledge graph: learnings, patterns, mistakes, doc sections,
-- code docs, and the shadow entities (code areas, files, topics) they link to.
CREATE TABLE IF NOT EXISTS knowledge_entities (
    id TEXT PRIMARY KEY,
    entity_type TEXT NOT NULL,        -- learning, pattern, mistake, code_area, file, topic, doc_section, code_doc
    name TEXT,
    content TEXT,
    attrs TEXT,                       -- JSON: type-specific attributes
    code_area TEXT,
    file_path TEXT,
    embedding BLOB,                   -- little-endian float32, L2-normalized
    embedding_dim INTEGER,
    embedding_model TEXT,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS knowledge_relationships (
    from_id TEXT NOT NULL,
    to_id TEXT NOT NULL,
    rel_type TEXT NOT NULL,           -- ABOUT, APPLIES_TO, IN_FILE, IN_DOC
    created_at TEXT NOT NULL,
    PRIMARY KEY (from_id, to_id, rel_type)
);

-- Code structure graph: one row per declaration or file.
-- id is {package}:{filePath}:{kind}:{name}, or {package}:file:{filePath}.
CREATE TABLE IF NOT EXISTS code_entities (
    id TEXT PRIMARY KEY,
    package TEXT NOT NULL,
    name TEXT NOT NULL,
    kind TEXT NOT NULL,               -- function, class, interface, type, variable, enum, file
    file_path TEXT NOT NULL,
    line INTEGER NOT NULL,
    exported INTEGER NOT NULL DEFAULT 0,
    metadata TEXT,                    -- JSON: async, generator, params, returnType, componentType...
    jsdoc TEXT,
    created_at TEXT NOT NULL
);

-- to_id may be a stored entity id or an external:{module} sentinel.
CREATE TABLE IF NOT EXISTS code_relationships (
    from_id TEXT NOT NULL,
    to_id TEXT NOT NULL,
    rel_type TEXT NOT NULL,           -- calls, imports, exports, extends, implements, defines
    metadata TEXT,
    created_at TEXT NOT NULL,
    PRIMARY KEY (from_id, to_id, rel_type)
);

-- Per-file parse state; sole input to the incremental-reparse decision.
CREATE TABLE IF NOT EXISTS code_file_index (
    package TEXT NOT NULL,
    file_path TEXT NOT NULL,
    mtime_ms INTEGER NOT NULL,
    last_parsed_at TEXT NOT NULL,
    entity_count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (package, file_path)
);

-- Content-hash gate for documentation indexing.
CREATE TABLE IF NOT EXISTS doc_index (
    file_path TEXT PRIMARY KEY,
    content_hash TEXT NOT NULL,
    indexed_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_knowledge_type ON knowledge_entities(entity_type);
CREATE INDEX IF NOT EXISTS idx_knowledge_area ON knowledge_entities(code_area);
CREATE INDEX IF NOT EXISTS idx_knowledge_file ON knowledge_entities(file_path);
CREATE INDEX IF NOT EXISTS idx_krel_from ON knowledge_relationships(from_id);
CREATE INDEX IF NOT EXISTS idx_krel_to ON knowledge_relationships(to_id);
CREATE INDEX IF NOT EXISTS idx_code_name ON code_entities(name);
CREATE INDEX IF NOT EXISTS idx_code_file ON code_entities(package, file_path);
CREATE INDEX IF NOT EXISTS idx_code_kind ON code_entities(kind);
CREATE INDEX IF NOT EXISTS idx_crel_from ON code_relationships(from_id);
CREATE INDEX IF NOT EXISTS idx_crel_to ON code_relationships(to_id);
`,

	// v2: workflow and milestone checkpoints, session metrics.
	`
CREATE TABLE IF NOT EXISTS workflows (
    id TEXT PRIMARY KEY,
    issue_number INTEGER,
    branch TEXT NOT NULL,
    worktree TEXT,
    phase TEXT NOT NULL,              -- research, implement, review, finalize, planning, execute, merge, cleanup
    status TEXT NOT NULL,             -- running, paused, completed, failed
    retry_count INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS workflow_actions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    workflow_id TEXT NOT NULL,
    action TEXT NOT NULL,
    result TEXT NOT NULL,             -- success, failed, pending
    metadata TEXT,
    created_at TEXT NOT NULL,
    FOREIGN KEY (workflow_id) REFERENCES workflows(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS workflow_commits (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    workflow_id TEXT NOT NULL,
    sha TEXT NOT NULL,
    message TEXT NOT NULL,
    created_at TEXT NOT NULL,
    FOREIGN KEY (workflow_id) REFERENCES workflows(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS milestones (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    github_number INTEGER,
    phase TEXT NOT NULL,              -- planning, execute, review, merge, cleanup
    status TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS milestone_workflows (
    milestone_id TEXT NOT NULL,
    workflow_id TEXT NOT NULL,
    wave INTEGER,
    PRIMARY KEY (milestone_id, workflow_id),
    FOREIGN KEY (milestone_id) REFERENCES milestones(id) ON DELETE CASCADE,
    FOREIGN KEY (workflow_id) REFERENCES workflows(id) ON DELETE CASCADE
);

-- One-shot lint/typecheck counts captured at the start of milestone work.
CREATE TABLE IF NOT EXISTS baselines (
    milestone_id TEXT PRIMARY KEY,
    lint_exit INTEGER NOT NULL,
    lint_warnings INTEGER NOT NULL,
    lint_errors INTEGER NOT NULL,
    typecheck_exit INTEGER NOT NULL,
    typecheck_errors INTEGER NOT NULL,
    captured_at TEXT NOT NULL,
    FOREIGN KEY (milestone_id) REFERENCES milestones(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS session_metrics (
    session_id TEXT PRIMARY KEY,
    issue_number INTEGER,
    files_read INTEGER NOT NULL DEFAULT 0,
    compacted INTEGER NOT NULL DEFAULT 0,
    duration_minutes REAL,
    review_findings INTEGER NOT NULL DEFAULT 0,
    learnings_injected INTEGER NOT NULL DEFAULT 0,
    learnings_captured INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows(status);
CREATE INDEX IF NOT EXISTS idx_workflows_issue ON workflows(issue_number);
CREATE INDEX IF NOT EXISTS idx_actions_workflow ON workflow_actions(workflow_id);
CREATE INDEX IF NOT EXISTS idx_commits_workflow ON workflow_commits(workflow_id);
`,
}

// migrate brings the on-disk schema up to schemaVersion. Each migration is
// idempotent and runs in its own transaction together with the user_version
// bump, so a crash mid-migration re-applies cleanly on the next open.
func (s *Store) migrate() error {
	var current int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if current > schemaVersion {
		return fmt.Errorf("%w: on-disk version %d, binary supports %d",
			ErrSchemaTooNew, current, schemaVersion)
	}
	if current == schemaVersion {
		return nil
	}

	for v := current + 1; v <= schemaVersion; v++ {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", v, err)
		}
		if _, err := tx.Exec(migrations[v-1]); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", v, err)
		}
		// PRAGMA does not accept bound parameters.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v)); err != nil {
			tx.Rollback()
			return fmt.Errorf("set schema version %d: %w", v, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", v, err)
		}
	}

	s.clearStatementCache()
	return nil
}

// SchemaVersion returns the current on-disk schema version.
func (s *Store) SchemaVersion() (int, error) {
	var v int
	err := s.db.QueryRow("PRAGMA user_version").Scan(&v)
	return v, err
}
