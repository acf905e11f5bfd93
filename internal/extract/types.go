// Package extract projects parsed TypeScript and Vue sources into the code
// graph entity/relationship model using a two-pass algorithm: an entity pass
// that records every declaration, then a relationship pass that resolves
// calls, imports, exports and inheritance against the declarations seen in
// the first pass.
package extract

import (
	"fmt"
	"strings"
)

// Kind classifies a code entity.
type Kind string

const (
	KindFunction  Kind = "function"
	KindClass     Kind = "class"
	KindInterface Kind = "interface"
	KindType      Kind = "type"
	KindVariable  Kind = "variable"
	KindEnum      Kind = "enum"
	KindFile      Kind = "file"
)

// ValidKinds lists every entity kind, used to validate query filters.
var ValidKinds = []Kind{
	KindFunction, KindClass, KindInterface, KindType, KindVariable, KindEnum, KindFile,
}

// IsValidKind reports whether k names a known entity kind.
func IsValidKind(k string) bool {
	for _, valid := range ValidKinds {
		if string(valid) == k {
			return true
		}
	}
	return false
}

// RelKind classifies a relationship between code entities.
type RelKind string

const (
	RelCalls      RelKind = "calls"
	RelImports    RelKind = "imports"
	RelExports    RelKind = "exports"
	RelExtends    RelKind = "extends"
	RelImplements RelKind = "implements"
	RelDefines    RelKind = "defines"
)

// Entity is one declaration or file in the code graph.
type Entity struct {
	ID       string         `json:"id"`
	Package  string         `json:"package"`
	Name     string         `json:"name"`
	Kind     Kind           `json:"kind"`
	FilePath string         `json:"file_path"`
	Line     int            `json:"line"`
	Exported bool           `json:"exported"`
	Metadata map[string]any `json:"metadata,omitempty"`
	JSDoc    string         `json:"jsdoc,omitempty"`
}

// Relationship is a typed directed edge between code entities. ToID may be
// an external:{module} sentinel for imports that resolve outside the
// package.
type Relationship struct {
	FromID   string            `json:"from_id"`
	ToID     string            `json:"to_id"`
	Kind     RelKind           `json:"kind"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Stats counts the output of a parse run.
type Stats struct {
	FilesParsed         int            `json:"files_parsed"`
	FilesSkipped        int            `json:"files_skipped"`
	EntitiesByKind      map[string]int `json:"entities_by_kind"`
	RelationshipsByKind map[string]int `json:"relationships_by_kind"`
}

// Result is the complete output of a parse run.
type Result struct {
	Package       string         `json:"package"`
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
	Stats         Stats          `json:"stats"`
}

// EntityID builds the structured id for a declaration:
// {package}:{relativeFilePath}:{kind}:{name}.
func EntityID(pkg, relPath string, kind Kind, name string) string {
	return fmt.Sprintf("%s:%s:%s:%s", pkg, relPath, kind, name)
}

// FileID builds the structured id for a file entity:
// {package}:file:{relativeFilePath}.
func FileID(pkg, relPath string) string {
	return fmt.Sprintf("%s:file:%s", pkg, relPath)
}

// ExternalID builds the sentinel id for a third-party import target.
func ExternalID(specifier string) string {
	return "external:" + specifier
}

// IsExternalID reports whether id is an external reference sentinel.
func IsExternalID(id string) bool {
	return strings.HasPrefix(id, "external:")
}
