// Package knowledge stores and retrieves learnings, patterns, and mistakes
// in the semantic knowledge graph, with embedding-backed similarity search
// and structured filtering.
package knowledge

import (
	"strings"

	"github.com/google/uuid"
)

// Learning is a unit of captured engineering knowledge. Immutable once
// stored.
type Learning struct {
	ID          string  `json:"id"`
	Content     string  `json:"content"`
	SourceIssue int     `json:"source_issue,omitempty"`
	CodeArea    string  `json:"code_area,omitempty"`
	FilePath    string  `json:"file_path,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	CreatedAt   string  `json:"created_at,omitempty"`
}

// Pattern is a named, reusable approach tied to a code area.
type Pattern struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CodeArea    string `json:"code_area,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// Mistake records something that went wrong and how it was fixed.
type Mistake struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	HowFixed    string `json:"how_fixed"`
	FilePath    string `json:"file_path,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// Entity type discriminators in the knowledge_entities table.
const (
	TypeLearning   = "learning"
	TypePattern    = "pattern"
	TypeMistake    = "mistake"
	TypeCodeArea   = "code_area"
	TypeFile       = "file"
	TypeTopic      = "topic"
	TypeDocSection = "doc_section"
	TypeCodeDoc    = "code_doc"
)

// Relationship types between knowledge entities.
const (
	RelAbout     = "ABOUT"
	RelAppliesTo = "APPLIES_TO"
	RelInFile    = "IN_FILE"
	RelInDoc     = "IN_DOC"
)

// CodeAreaID derives the stable shadow-entity id for a code area name.
func CodeAreaID(name string) string {
	return "code_area:" + strings.ToLower(strings.TrimSpace(name))
}

// FileEntityID derives the stable shadow-entity id for a file path.
func FileEntityID(path string) string {
	return "file:" + strings.TrimSpace(path)
}

// TopicID derives the stable shadow-entity id for a topic name.
func TopicID(name string) string {
	return "topic:" + strings.ToLower(strings.TrimSpace(name))
}

// newID assigns a random id when the caller did not supply one.
func newID(prefix string) string {
	return prefix + ":" + uuid.NewString()
}
