// Package graph persists parse results into the code structure graph and
// answers structural queries over it. Writes are transactional per package;
// queries are read-only and use bound placeholders throughout.
package graph

import "github.com/anthropics/claude-knowledge/internal/extract"

// EntityRow is one code entity returned by a query.
type EntityRow struct {
	ID       string         `json:"id"`
	Package  string         `json:"package"`
	Name     string         `json:"name"`
	Kind     string         `json:"kind"`
	FilePath string         `json:"file_path"`
	Line     int            `json:"line"`
	Exported bool           `json:"exported"`
	Metadata map[string]any `json:"metadata,omitempty"`
	JSDoc    string         `json:"jsdoc,omitempty"`
}

// Dependency is an entity plus the relationship kind that links it to the
// query target.
type Dependency struct {
	EntityRow
	RelType string `json:"rel_type"`
}

// Impact is an entity in a blast radius together with its distance from the
// seed file.
type Impact struct {
	EntityRow
	Depth int `json:"depth"`
}

// Summary aggregates graph contents.
type Summary struct {
	TotalEntities       int            `json:"total_entities"`
	TotalRelationships  int            `json:"total_relationships"`
	EntitiesByKind      map[string]int `json:"entities_by_kind"`
	RelationshipsByKind map[string]int `json:"relationships_by_kind"`
	EntitiesByPackage   map[string]int `json:"entities_by_package"`
}

// FileUpdate carries the parse-state metadata recorded for a changed file.
type FileUpdate struct {
	Path    string
	MtimeMs int64
}

// FileState is one row of the per-file parse index.
type FileState struct {
	Package      string `json:"package"`
	FilePath     string `json:"file_path"`
	MtimeMs      int64  `json:"mtime_ms"`
	LastParsedAt string `json:"last_parsed_at"`
	EntityCount  int    `json:"entity_count"`
}

// relKinds used by dependency and blast-radius traversal.
var dependencyRelKinds = []extract.RelKind{
	extract.RelImports, extract.RelExtends, extract.RelImplements, extract.RelCalls,
}
