package extract

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/anthropics/claude-knowledge/internal/parser"
)

// Options configures a parse run.
type Options struct {
	// Root is the package root directory.
	Root string
	// Package names the package; defaults to the base name of Root.
	Package string
	// Files restricts the run to these paths (relative to Root). The rest
	// of the package is still parsed into the project context so that
	// cross-file references resolve, but only these files contribute
	// entities and relationships to the result.
	Files []string
	// Concurrency bounds parallel file parsing; defaults to GOMAXPROCS.
	Concurrency int
}

// excludedDirs are directory names skipped during file selection.
var excludedDirs = map[string]bool{
	"node_modules": true,
	"test":         true,
	"tests":        true,
	"__tests__":    true,
}

// Parse runs the two-pass extraction over a package and returns the
// entities, relationships, and statistics. A file that fails to parse is
// counted in Stats.FilesSkipped and does not abort the run.
func Parse(ctx context.Context, opts Options) (*Result, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, err
	}
	pkg := opts.Package
	if pkg == "" {
		pkg = filepath.Base(root)
	}

	allFiles, err := selectFiles(root)
	if err != nil {
		return nil, err
	}

	subset := make(map[string]bool, len(opts.Files))
	for _, f := range opts.Files {
		subset[filepath.ToSlash(f)] = true
	}

	proj := &project{
		pkg:   pkg,
		root:  root,
		files: make(map[string]*fileParse),
	}

	// Entity pass, fanned out across files. Each worker owns its parser;
	// tree-sitter parsers are not safe for concurrent use.
	var (
		mu      sync.Mutex
		skipped int
	)
	g, gctx := errgroup.WithContext(ctx)
	limit := opts.Concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(limit)

	for _, relPath := range allFiles {
		relPath := relPath
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fp, err := parseFileEntities(pkg, root, relPath)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				skipped++
				return nil
			}
			proj.files[relPath] = fp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		proj.close()
		return nil, err
	}
	defer proj.close()

	proj.resolveImports()

	// Relationship pass over the selected files, against the complete
	// lookup built above.
	result := &Result{
		Package: pkg,
		Stats: Stats{
			FilesSkipped:        skipped,
			EntitiesByKind:      make(map[string]int),
			RelationshipsByKind: make(map[string]int),
		},
	}

	ordered := make([]string, 0, len(proj.files))
	for relPath := range proj.files {
		ordered = append(ordered, relPath)
	}
	sort.Strings(ordered)

	for _, relPath := range ordered {
		if len(subset) > 0 && !subset[relPath] {
			continue
		}
		fp := proj.files[relPath]
		result.Entities = append(result.Entities, fp.entities...)
		result.Relationships = append(result.Relationships, proj.extractRelationships(fp)...)
		result.Stats.FilesParsed++
	}

	for _, e := range result.Entities {
		result.Stats.EntitiesByKind[string(e.Kind)]++
	}
	for _, r := range result.Relationships {
		result.Stats.RelationshipsByKind[string(r.Kind)]++
	}

	return result, nil
}

// ListFiles returns the relative paths of the source files a parse of root
// would cover. Callers use it to diff against the stored file index before an
// incremental run.
func ListFiles(root string) ([]string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return selectFiles(abs)
}

// selectFiles walks root and returns the relative paths of parseable source
// files. Declaration files, test-suffixed files, and excluded directories
// are skipped.
func selectFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if excludedDirs[d.Name()] || strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !includeFile(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// includeFile applies the per-file selection rules.
func includeFile(name string) bool {
	lower := strings.ToLower(name)
	if parser.LanguageForFile(lower) == "" {
		return false
	}
	if strings.HasSuffix(lower, ".d.ts") {
		return false
	}
	base := strings.TrimSuffix(lower, filepath.Ext(lower))
	if strings.HasSuffix(base, ".test") || strings.HasSuffix(base, ".spec") {
		return false
	}
	return true
}
