package extract

import (
	"path"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// resolveImports resolves every relative import specifier against the set of
// parsed project files. Bare specifiers are marked external.
func (p *project) resolveImports() {
	for _, fp := range p.files {
		for local, ref := range fp.imports {
			p.resolveRef(fp.relPath, &ref)
			fp.imports[local] = ref
		}
		for i := range fp.reexps {
			ref := importRef{specifier: fp.reexps[i].specifier}
			p.resolveRef(fp.relPath, &ref)
			fp.reexps[i].resolved = ref.resolved
		}
	}
}

// resolveRef fills in the resolved path or external flag of one binding.
func (p *project) resolveRef(fromRel string, ref *importRef) {
	if !strings.HasPrefix(ref.specifier, ".") {
		ref.external = true
		return
	}
	joined := path.Clean(path.Join(path.Dir(fromRel), ref.specifier))
	candidates := []string{
		joined,
		joined + ".ts",
		joined + ".tsx",
		joined + ".vue",
		joined + "/index.ts",
		joined + "/index.tsx",
	}
	for _, c := range candidates {
		if _, ok := p.files[c]; ok {
			ref.resolved = c
			return
		}
	}
}

// extractRelationships runs the relationship pass for one file against the
// project-wide lookup.
func (p *project) extractRelationships(fp *fileParse) []Relationship {
	var rels []Relationship
	fileID := FileID(fp.pkg, fp.relPath)

	// defines: file -> top-level declarations, class -> methods.
	for _, e := range fp.entities {
		if e.Kind == KindFile {
			continue
		}
		if class, ok := e.Metadata["class"].(string); ok {
			rels = append(rels, Relationship{
				FromID: EntityID(fp.pkg, fp.relPath, KindClass, class),
				ToID:   e.ID,
				Kind:   RelDefines,
			})
			continue
		}
		rels = append(rels, Relationship{FromID: fileID, ToID: e.ID, Kind: RelDefines})
	}

	// imports: file -> resolved file entity or external sentinel.
	seen := make(map[string]bool)
	for _, spec := range fp.rawSpecs {
		ref := importRef{specifier: spec}
		p.resolveRef(fp.relPath, &ref)
		var to string
		switch {
		case ref.resolved != "":
			to = FileID(fp.pkg, ref.resolved)
		case ref.external:
			to = ExternalID(spec)
		default:
			// Relative import of a file outside the parsed set.
			continue
		}
		if seen["import:"+to] {
			continue
		}
		seen["import:"+to] = true
		rels = append(rels, Relationship{FromID: fileID, ToID: to, Kind: RelImports})
	}

	// exports: re-exporting file -> re-exported entity.
	for _, re := range fp.reexps {
		if re.resolved == "" {
			continue
		}
		target := p.files[re.resolved]
		if len(re.names) == 0 {
			rels = append(rels, Relationship{FromID: fileID, ToID: FileID(fp.pkg, re.resolved), Kind: RelExports})
			continue
		}
		for _, name := range re.names {
			if id, ok := target.locals[name]; ok {
				rels = append(rels, Relationship{FromID: fileID, ToID: id, Kind: RelExports})
			}
		}
	}

	// extends / implements per class and interface.
	for _, e := range fp.entities {
		node := fp.nodes[e.ID]
		if node == nil {
			continue
		}
		switch e.Kind {
		case KindClass:
			rels = append(rels, p.heritageEdges(fp, e.ID, node)...)
		case KindInterface:
			rels = append(rels, p.interfaceExtends(fp, e.ID, node)...)
		}
	}

	// calls per function and method body.
	for _, e := range fp.entities {
		if e.Kind != KindFunction {
			continue
		}
		node := fp.nodes[e.ID]
		if node == nil {
			continue
		}
		enclosingClass, _ := e.Metadata["class"].(string)
		rels = append(rels, p.callEdges(fp, e.ID, enclosingClass, node)...)
	}

	// Vue template component usage.
	if fp.res.Template != nil {
		for _, use := range fp.res.Template.Components() {
			to, ok := p.resolveComponent(fp, use.Name)
			if !ok {
				continue
			}
			rels = append(rels, Relationship{
				FromID:   fileID,
				ToID:     to,
				Kind:     RelCalls,
				Metadata: map[string]string{"usage": "template-component"},
			})
		}
	}

	return rels
}

// heritageEdges emits extends/implements edges for a class declaration.
func (p *project) heritageEdges(fp *fileParse, classID string, node *sitter.Node) []Relationship {
	var rels []Relationship
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() != "class_heritage" {
			continue
		}
		for j := 0; j < int(child.NamedChildCount()); j++ {
			clause := child.NamedChild(j)
			var kind RelKind
			switch clause.Type() {
			case "extends_clause":
				kind = RelExtends
			case "implements_clause":
				kind = RelImplements
			default:
				continue
			}
			for k := 0; k < int(clause.NamedChildCount()); k++ {
				name := clause.NamedChild(k)
				if name.Type() != "identifier" && name.Type() != "type_identifier" {
					continue
				}
				if to, ok := p.resolveName(fp, fp.res.NodeText(name)); ok {
					rels = append(rels, Relationship{FromID: classID, ToID: to, Kind: kind})
				}
			}
		}
	}
	return rels
}

// interfaceExtends emits extends edges for an interface declaration.
func (p *project) interfaceExtends(fp *fileParse, ifaceID string, node *sitter.Node) []Relationship {
	var rels []Relationship
	for i := 0; i < int(node.NamedChildCount()); i++ {
		clause := node.NamedChild(i)
		if clause.Type() != "extends_type_clause" {
			continue
		}
		for j := 0; j < int(clause.NamedChildCount()); j++ {
			name := clause.NamedChild(j)
			if name.Type() != "type_identifier" && name.Type() != "identifier" {
				continue
			}
			if to, ok := p.resolveName(fp, fp.res.NodeText(name)); ok {
				rels = append(rels, Relationship{FromID: ifaceID, ToID: to, Kind: RelExtends})
			}
		}
	}
	return rels
}

// callEdges walks a callable body and emits a calls edge for every
// invocation that resolves to a definition site. Unresolvable targets,
// including dynamic dispatch, are dropped.
func (p *project) callEdges(fp *fileParse, fromID, enclosingClass string, node *sitter.Node) []Relationship {
	body := node.ChildByFieldName("body")
	if body == nil {
		body = node
	}

	var rels []Relationship
	seen := make(map[string]bool)

	walk(body, func(n *sitter.Node) bool {
		var target *sitter.Node
		switch n.Type() {
		case "call_expression":
			target = n.ChildByFieldName("function")
		case "new_expression":
			target = n.ChildByFieldName("constructor")
			if target == nil {
				for i := 0; i < int(n.NamedChildCount()); i++ {
					c := n.NamedChild(i)
					if c.Type() == "identifier" || c.Type() == "member_expression" {
						target = c
						break
					}
				}
			}
		default:
			return true
		}
		if target == nil {
			return true
		}

		to, ok := p.resolveCallTarget(fp, enclosingClass, target)
		if ok && !seen[to] {
			seen[to] = true
			rels = append(rels, Relationship{FromID: fromID, ToID: to, Kind: RelCalls})
		}
		return true
	})

	return rels
}

// resolveCallTarget resolves the callee expression of a call to the id of
// its definition site.
func (p *project) resolveCallTarget(fp *fileParse, enclosingClass string, target *sitter.Node) (string, bool) {
	switch target.Type() {
	case "identifier":
		return p.resolveName(fp, fp.res.NodeText(target))

	case "member_expression":
		objNode := target.ChildByFieldName("object")
		propNode := target.ChildByFieldName("property")
		if objNode == nil || propNode == nil {
			return "", false
		}
		method := fp.res.NodeText(propNode)

		switch objNode.Type() {
		case "this":
			if enclosingClass == "" {
				return "", false
			}
			id, ok := fp.methods[enclosingClass][method]
			return id, ok
		case "identifier":
			return p.resolveMember(fp, fp.res.NodeText(objNode), method)
		}
	}
	return "", false
}

// resolveName resolves a bare identifier: local definition first, then
// named imports against the exporting file's definitions.
func (p *project) resolveName(fp *fileParse, name string) (string, bool) {
	if id, ok := fp.locals[name]; ok {
		return id, true
	}
	ref, ok := fp.imports[name]
	if !ok || ref.resolved == "" {
		return "", false
	}
	target := p.files[ref.resolved]
	if target == nil {
		return "", false
	}
	switch ref.exported {
	case "*":
		// Namespace object itself is not a definition site.
		return "", false
	case "default":
		// Best effort: a default export commonly shares the local name.
		id, ok := target.locals[name]
		return id, ok
	default:
		id, ok := target.locals[ref.exported]
		return id, ok
	}
}

// resolveMember resolves obj.method where obj names a class in scope or a
// namespace import.
func (p *project) resolveMember(fp *fileParse, obj, method string) (string, bool) {
	// Local class: methods recorded in the entity pass.
	if id, ok := fp.methods[obj][method]; ok {
		return id, true
	}

	ref, ok := fp.imports[obj]
	if !ok || ref.resolved == "" {
		return "", false
	}
	target := p.files[ref.resolved]
	if target == nil {
		return "", false
	}

	if ref.exported == "*" {
		// Namespace member call resolves to a top-level definition in the
		// imported file.
		id, ok := target.locals[method]
		return id, ok
	}

	// Imported class.
	className := ref.exported
	if ref.exported == "default" {
		className = obj
	}
	id, found := target.methods[className][method]
	return id, found
}

// resolveComponent resolves a template component usage to the imported
// component's file entity.
func (p *project) resolveComponent(fp *fileParse, name string) (string, bool) {
	if id, ok := fp.locals[name]; ok {
		return id, true
	}
	ref, ok := fp.imports[name]
	if !ok || ref.resolved == "" {
		return "", false
	}
	return FileID(fp.pkg, ref.resolved), true
}

// walk performs a depth-first traversal.
func walk(node *sitter.Node, fn func(*sitter.Node) bool) {
	if node == nil {
		return
	}
	if !fn(node) {
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		walk(node.Child(i), fn)
	}
}
