package extract

import (
	"path"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/anthropics/claude-knowledge/internal/parser"
)

// importRef records one name bound by an import statement.
type importRef struct {
	specifier string // raw module specifier
	exported  string // name in the source module
	resolved  string // project-relative path of the resolved file, "" until resolveImports
	external  bool
}

// reexport records an `export ... from "x"` statement for the relationship pass.
type reexport struct {
	specifier string
	resolved  string
	names     []string // empty for `export * from`
}

// fileParse is the entity-pass output for one file.
type fileParse struct {
	pkg     string
	relPath string
	psr     *parser.Parser
	res     *parser.Result

	entities []Entity
	locals   map[string]string            // top-level name -> entity id
	methods  map[string]map[string]string // class name -> method name -> entity id
	nodes    map[string]*sitter.Node      // entity id -> declaration node
	imports  map[string]importRef         // local name -> binding
	rawSpecs []string                     // every import specifier, for file-level import edges
	reexps   []reexport
}

// project holds the full entity-pass output; the relationship pass resolves
// names against it.
type project struct {
	pkg   string
	root  string
	files map[string]*fileParse
}

func (p *project) close() {
	for _, fp := range p.files {
		if fp.res != nil {
			fp.res.Close()
		}
		if fp.psr != nil {
			fp.psr.Close()
		}
	}
}

// parseFileEntities runs the entity pass for a single file.
func parseFileEntities(pkg, root, relPath string) (*fileParse, error) {
	lang := parser.LanguageForFile(relPath)
	psr, err := parser.New(lang)
	if err != nil {
		return nil, err
	}

	res, err := psr.ParseFile(filepath.Join(root, filepath.FromSlash(relPath)))
	if err != nil {
		psr.Close()
		return nil, err
	}

	fp := &fileParse{
		pkg:     pkg,
		relPath: relPath,
		psr:     psr,
		res:     res,
		locals:  make(map[string]string),
		methods: make(map[string]map[string]string),
		nodes:   make(map[string]*sitter.Node),
		imports: make(map[string]importRef),
	}

	fp.emitFileEntity()
	fp.walkTopLevel()

	return fp, nil
}

// emitFileEntity adds the file entity itself.
func (fp *fileParse) emitFileEntity() {
	meta := map[string]any{}
	if fp.res.Language == parser.Vue {
		meta["componentType"] = "options"
		if fp.res.Template != nil && fp.res.Template.ScriptSetup {
			meta["componentType"] = "composition"
		}
	}
	if len(meta) == 0 {
		meta = nil
	}
	fp.entities = append(fp.entities, Entity{
		ID:       FileID(fp.pkg, fp.relPath),
		Package:  fp.pkg,
		Name:     path.Base(fp.relPath),
		Kind:     KindFile,
		FilePath: fp.relPath,
		Line:     1,
		Metadata: meta,
	})
}

// walkTopLevel visits every top-level statement of the program.
func (fp *fileParse) walkTopLevel() {
	root := fp.res.Root
	if root == nil {
		return
	}
	var exportedLocals []string

	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		switch node.Type() {
		case "export_statement":
			decl := node.ChildByFieldName("declaration")
			if decl != nil {
				fp.handleDeclaration(decl, true, fp.jsdocFor(node))
				continue
			}
			if src := node.ChildByFieldName("source"); src != nil {
				fp.reexps = append(fp.reexps, reexport{
					specifier: strings.Trim(fp.res.NodeText(src), "\"'"),
					names:     exportClauseNames(node, fp.res),
				})
				continue
			}
			// export { a, b } without a source marks existing locals.
			exportedLocals = append(exportedLocals, exportClauseNames(node, fp.res)...)

		case "import_statement":
			fp.handleImport(node)

		default:
			fp.handleDeclaration(node, false, fp.jsdocFor(node))
		}
	}

	for _, name := range exportedLocals {
		if id, ok := fp.locals[name]; ok {
			for j := range fp.entities {
				if fp.entities[j].ID == id {
					fp.entities[j].Exported = true
				}
			}
		}
	}
}

// handleDeclaration emits entities for one top-level declaration node.
func (fp *fileParse) handleDeclaration(node *sitter.Node, exported bool, jsdoc string) {
	switch node.Type() {
	case "function_declaration", "generator_function_declaration":
		fp.emitFunction(node, exported, jsdoc, node.Type() == "generator_function_declaration", false)
	case "class_declaration", "abstract_class_declaration":
		fp.emitClass(node, exported, jsdoc)
	case "interface_declaration":
		fp.emitNamed(node, KindInterface, exported, jsdoc, nil)
	case "type_alias_declaration":
		fp.emitNamed(node, KindType, exported, jsdoc, nil)
	case "enum_declaration":
		fp.emitEnum(node, exported, jsdoc)
	case "lexical_declaration", "variable_declaration":
		fp.emitVariables(node, exported, jsdoc)
	}
}

// emitNamed emits a simple named entity (interface, type alias).
func (fp *fileParse) emitNamed(node *sitter.Node, kind Kind, exported bool, jsdoc string, meta map[string]any) *Entity {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	name := fp.res.NodeText(nameNode)
	if tp := node.ChildByFieldName("type_parameters"); tp != nil {
		if meta == nil {
			meta = map[string]any{}
		}
		meta["typeParams"] = fp.res.NodeText(tp)
	}

	e := Entity{
		ID:       EntityID(fp.pkg, fp.relPath, kind, name),
		Package:  fp.pkg,
		Name:     name,
		Kind:     kind,
		FilePath: fp.relPath,
		Line:     int(node.StartPoint().Row) + 1,
		Exported: exported,
		Metadata: meta,
		JSDoc:    jsdoc,
	}
	fp.entities = append(fp.entities, e)
	fp.locals[name] = e.ID
	fp.nodes[e.ID] = node
	return &fp.entities[len(fp.entities)-1]
}

// emitFunction emits a function declaration, including arrow functions and
// function expressions bound to a variable.
func (fp *fileParse) emitFunction(node *sitter.Node, exported bool, jsdoc string, generator, arrow bool) {
	nameNode := node.ChildByFieldName("name")
	name := ""
	if nameNode != nil {
		name = fp.res.NodeText(nameNode)
	}
	if name == "" {
		return
	}

	meta := fp.functionMetadata(node, generator, arrow)

	e := Entity{
		ID:       EntityID(fp.pkg, fp.relPath, KindFunction, name),
		Package:  fp.pkg,
		Name:     name,
		Kind:     KindFunction,
		FilePath: fp.relPath,
		Line:     int(node.StartPoint().Row) + 1,
		Exported: exported,
		Metadata: meta,
		JSDoc:    jsdoc,
	}
	fp.entities = append(fp.entities, e)
	fp.locals[name] = e.ID
	fp.nodes[e.ID] = node
}

// emitBoundFunction emits a function entity for an arrow function or
// function expression assigned to a variable.
func (fp *fileParse) emitBoundFunction(declarator, value *sitter.Node, exported bool, jsdoc string) {
	nameNode := declarator.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := fp.res.NodeText(nameNode)

	meta := fp.functionMetadata(value, false, value.Type() == "arrow_function")

	e := Entity{
		ID:       EntityID(fp.pkg, fp.relPath, KindFunction, name),
		Package:  fp.pkg,
		Name:     name,
		Kind:     KindFunction,
		FilePath: fp.relPath,
		Line:     int(declarator.StartPoint().Row) + 1,
		Exported: exported,
		Metadata: meta,
		JSDoc:    jsdoc,
	}
	fp.entities = append(fp.entities, e)
	fp.locals[name] = e.ID
	fp.nodes[e.ID] = value
}

// functionMetadata captures async/generator/arrow flags, parameter names,
// return type, and type parameters.
func (fp *fileParse) functionMetadata(node *sitter.Node, generator, arrow bool) map[string]any {
	meta := map[string]any{}
	if arrow {
		meta["arrow"] = true
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		switch node.Child(i).Type() {
		case "async":
			meta["async"] = true
		case "*":
			generator = true
		}
	}
	if generator {
		meta["generator"] = true
	}
	if params := paramNames(node, fp.res); len(params) > 0 {
		meta["params"] = params
	}
	if rt := returnType(node, fp.res); rt != "" {
		meta["returnType"] = rt
	}
	if tp := node.ChildByFieldName("type_parameters"); tp != nil {
		meta["typeParams"] = fp.res.NodeText(tp)
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

// emitClass emits a class entity plus one function entity per method.
func (fp *fileParse) emitClass(node *sitter.Node, exported bool, jsdoc string) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	className := fp.res.NodeText(nameNode)

	e := Entity{
		ID:       EntityID(fp.pkg, fp.relPath, KindClass, className),
		Package:  fp.pkg,
		Name:     className,
		Kind:     KindClass,
		FilePath: fp.relPath,
		Line:     int(node.StartPoint().Row) + 1,
		Exported: exported,
		JSDoc:    jsdoc,
	}
	fp.entities = append(fp.entities, e)
	fp.locals[className] = e.ID
	fp.nodes[e.ID] = node

	body := node.ChildByFieldName("body")
	if body == nil {
		return
	}
	fp.methods[className] = make(map[string]string)

	for i := 0; i < int(body.NamedChildCount()); i++ {
		member := body.NamedChild(i)
		if member.Type() != "method_definition" {
			continue
		}
		mNameNode := member.ChildByFieldName("name")
		if mNameNode == nil {
			continue
		}
		mName := fp.res.NodeText(mNameNode)

		meta := fp.functionMetadata(member, false, false)
		if meta == nil {
			meta = map[string]any{}
		}
		meta["method"] = true
		meta["class"] = className

		m := Entity{
			ID:       EntityID(fp.pkg, fp.relPath, KindFunction, className+"."+mName),
			Package:  fp.pkg,
			Name:     mName,
			Kind:     KindFunction,
			FilePath: fp.relPath,
			Line:     int(member.StartPoint().Row) + 1,
			Exported: exported,
			Metadata: meta,
			JSDoc:    fp.jsdocFor(member),
		}
		fp.entities = append(fp.entities, m)
		fp.methods[className][mName] = m.ID
		fp.nodes[m.ID] = member
	}
}

// emitEnum emits an enum entity with its member list and const flag.
func (fp *fileParse) emitEnum(node *sitter.Node, exported bool, jsdoc string) {
	meta := map[string]any{}
	for i := 0; i < int(node.ChildCount()); i++ {
		if node.Child(i).Type() == "const" {
			meta["const"] = true
		}
	}
	if body := node.ChildByFieldName("body"); body != nil {
		var members []string
		for i := 0; i < int(body.NamedChildCount()); i++ {
			member := body.NamedChild(i)
			switch member.Type() {
			case "enum_assignment":
				if n := member.ChildByFieldName("name"); n != nil {
					members = append(members, fp.res.NodeText(n))
				}
			case "property_identifier":
				members = append(members, fp.res.NodeText(member))
			}
		}
		if len(members) > 0 {
			meta["members"] = members
		}
	}
	fp.emitNamed(node, KindEnum, exported, jsdoc, meta)
}

// emitVariables emits entities for a lexical or var declaration. A variable
// whose initializer is a function becomes a function entity; other variables
// are emitted only when exported or initialized.
func (fp *fileParse) emitVariables(node *sitter.Node, exported bool, jsdoc string) {
	varKind := "var"
	for i := 0; i < int(node.ChildCount()); i++ {
		switch node.Child(i).Type() {
		case "const":
			varKind = "const"
		case "let":
			varKind = "let"
		}
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		declarator := node.NamedChild(i)
		if declarator.Type() != "variable_declarator" {
			continue
		}
		value := declarator.ChildByFieldName("value")
		if value != nil && (value.Type() == "arrow_function" || value.Type() == "function_expression" || value.Type() == "function") {
			fp.emitBoundFunction(declarator, value, exported, jsdoc)
			continue
		}
		if !exported && value == nil {
			continue
		}
		nameNode := declarator.ChildByFieldName("name")
		if nameNode == nil || nameNode.Type() != "identifier" {
			// Destructuring patterns do not produce entities.
			continue
		}
		name := fp.res.NodeText(nameNode)

		e := Entity{
			ID:       EntityID(fp.pkg, fp.relPath, KindVariable, name),
			Package:  fp.pkg,
			Name:     name,
			Kind:     KindVariable,
			FilePath: fp.relPath,
			Line:     int(declarator.StartPoint().Row) + 1,
			Exported: exported,
			Metadata: map[string]any{"varKind": varKind},
			JSDoc:    jsdoc,
		}
		fp.entities = append(fp.entities, e)
		fp.locals[name] = e.ID
		fp.nodes[e.ID] = declarator
	}
}

// handleImport records the bindings and specifier of an import statement.
func (fp *fileParse) handleImport(node *sitter.Node) {
	srcNode := node.ChildByFieldName("source")
	if srcNode == nil {
		return
	}
	specifier := strings.Trim(fp.res.NodeText(srcNode), "\"'")
	fp.rawSpecs = append(fp.rawSpecs, specifier)

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() != "import_clause" {
			continue
		}
		for j := 0; j < int(child.NamedChildCount()); j++ {
			clause := child.NamedChild(j)
			switch clause.Type() {
			case "identifier":
				// Default import.
				fp.imports[fp.res.NodeText(clause)] = importRef{specifier: specifier, exported: "default"}
			case "namespace_import":
				for k := 0; k < int(clause.NamedChildCount()); k++ {
					if clause.NamedChild(k).Type() == "identifier" {
						fp.imports[fp.res.NodeText(clause.NamedChild(k))] = importRef{specifier: specifier, exported: "*"}
					}
				}
			case "named_imports":
				for k := 0; k < int(clause.NamedChildCount()); k++ {
					spec := clause.NamedChild(k)
					if spec.Type() != "import_specifier" {
						continue
					}
					nameNode := spec.ChildByFieldName("name")
					if nameNode == nil {
						continue
					}
					exported := fp.res.NodeText(nameNode)
					local := exported
					if alias := spec.ChildByFieldName("alias"); alias != nil {
						local = fp.res.NodeText(alias)
					}
					fp.imports[local] = importRef{specifier: specifier, exported: exported}
				}
			}
		}
	}
}

// jsdocFor returns the JSDoc block immediately preceding a node, cleaned of
// comment markers. Returns "" when the preceding comment is not /** ... */.
func (fp *fileParse) jsdocFor(node *sitter.Node) string {
	prev := node.PrevNamedSibling()
	if prev == nil || prev.Type() != "comment" {
		return ""
	}
	text := fp.res.NodeText(prev)
	if !strings.HasPrefix(text, "/**") {
		return ""
	}
	return cleanJSDoc(text)
}

// exportClauseNames collects the names in an export_clause.
func exportClauseNames(node *sitter.Node, res *parser.Result) []string {
	var names []string
	for i := 0; i < int(node.NamedChildCount()); i++ {
		clause := node.NamedChild(i)
		if clause.Type() != "export_clause" {
			continue
		}
		for j := 0; j < int(clause.NamedChildCount()); j++ {
			spec := clause.NamedChild(j)
			if spec.Type() != "export_specifier" {
				continue
			}
			if n := spec.ChildByFieldName("name"); n != nil {
				names = append(names, res.NodeText(n))
			}
		}
	}
	return names
}

// paramNames extracts declared parameter names from a callable node.
func paramNames(node *sitter.Node, res *parser.Result) []string {
	paramsNode := node.ChildByFieldName("parameters")
	if paramsNode == nil {
		if p := node.ChildByFieldName("parameter"); p != nil {
			return []string{res.NodeText(p)}
		}
		return nil
	}
	var params []string
	for i := 0; i < int(paramsNode.NamedChildCount()); i++ {
		child := paramsNode.NamedChild(i)
		switch child.Type() {
		case "required_parameter", "optional_parameter", "rest_parameter":
			if pat := child.ChildByFieldName("pattern"); pat != nil {
				params = append(params, res.NodeText(pat))
			}
		case "identifier":
			params = append(params, res.NodeText(child))
		}
	}
	return params
}

// returnType extracts the declared return type annotation, without the
// leading colon.
func returnType(node *sitter.Node, res *parser.Result) string {
	rt := node.ChildByFieldName("return_type")
	if rt == nil {
		return ""
	}
	text := res.NodeText(rt)
	return strings.TrimSpace(strings.TrimPrefix(text, ":"))
}
