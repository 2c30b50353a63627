package chunk

import (
	"context"
	"fmt"
	"strings"
)

// StructuralChunker parses a file with tree-sitter and emits one chunk
// per top-level declaration plus one module-level residual chunk for the
// bytes between them. Parse failures fall back to the sliding window.
type StructuralChunker struct {
	parser   *Parser
	registry *LanguageRegistry
	window   *WindowChunker
}

// NewStructuralChunker returns a chunker over the default registry.
func NewStructuralChunker() *StructuralChunker {
	return NewStructuralChunkerWithRegistry(DefaultRegistry())
}

// NewStructuralChunkerWithRegistry returns a chunker over a custom
// language registry.
func NewStructuralChunkerWithRegistry(registry *LanguageRegistry) *StructuralChunker {
	return &StructuralChunker{
		parser:   NewParserWithRegistry(registry),
		registry: registry,
		window:   NewWindowChunker(),
	}
}

// Close releases parser resources.
func (c *StructuralChunker) Close() {
	if c.parser != nil {
		c.parser.Close()
	}
}

// Supports reports whether language has a registered grammar.
func (c *StructuralChunker) Supports(language string) bool {
	_, ok := c.registry.GetByName(language)
	return ok
}

// Chunk implements Chunker.
func (c *StructuralChunker) Chunk(ctx context.Context, file *FileInput) ([]Chunk, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}
	if !c.Supports(file.Language) {
		return c.window.Chunk(ctx, file)
	}
	tree, err := c.parser.Parse(ctx, file.Content, file.Language)
	if err != nil {
		return c.window.Chunk(ctx, file)
	}
	return c.chunkTree(tree, file), nil
}

// declaration is a top-level symbol node with its classification.
type declaration struct {
	node *Node
	kind SymbolKind
	name string
}

func (c *StructuralChunker) chunkTree(tree *Tree, file *FileInput) []Chunk {
	decls := c.topLevelDeclarations(tree)

	var chunks []Chunk
	for _, d := range decls {
		start, end := int(d.node.StartByte), int(d.node.EndByte)
		start = extendToDocComment(file.Content, start, file.Language)
		if end-start > MaxStructuralChunkBytes {
			for i, w := range c.window.windows(file, start, end, d.kind, d.name) {
				w.SymbolName = fmt.Sprintf("%s#%d", d.name, i+1)
				chunks = append(chunks, w)
			}
			continue
		}
		chunks = append(chunks, build(file, start, end, d.kind, d.name))
	}

	if residual := c.residualChunk(file, decls); residual != nil {
		chunks = append(chunks, *residual)
	}
	return chunks
}

// topLevelDeclarations collects symbol-defining direct children of the
// root node, in source order.
func (c *StructuralChunker) topLevelDeclarations(tree *Tree) []declaration {
	config, ok := c.registry.GetByName(tree.Language)
	if !ok {
		return nil
	}
	kinds := map[string]SymbolKind{}
	for _, t := range config.FunctionTypes {
		kinds[t] = KindFunction
	}
	for _, t := range config.MethodTypes {
		kinds[t] = KindMethod
	}
	for _, t := range config.ClassTypes {
		kinds[t] = KindClass
	}
	for _, t := range config.InterfaceTypes {
		kinds[t] = KindInterface
	}
	for _, t := range config.TypeDefTypes {
		kinds[t] = KindType
	}

	var decls []declaration
	for _, child := range tree.Root.Children {
		kind, ok := kinds[child.Type]
		if !ok {
			continue
		}
		// const/let/var declarations only count when they bind a
		// function expression; plain values belong to the residual.
		if child.Type == "lexical_declaration" || child.Type == "variable_declaration" {
			if !bindsFunction(child) {
				continue
			}
		}
		name := symbolName(child, tree.Source, tree.Language)
		if name == "" {
			continue
		}
		if kind == KindType && isInterfaceDecl(child) {
			kind = KindInterface
		}
		if child.Type == "decorated_definition" && child.FindChildByType("class_definition") != nil {
			kind = KindClass
		}
		decls = append(decls, declaration{node: child, kind: kind, name: name})
	}
	return decls
}

// bindsFunction reports whether a JS/TS variable declaration assigns an
// arrow function or function expression.
func bindsFunction(n *Node) bool {
	if decl := n.FindChildByType("variable_declarator"); decl != nil {
		for _, c := range decl.Children {
			if c.Type == "arrow_function" || c.Type == "function" || c.Type == "function_expression" {
				return true
			}
		}
	}
	return false
}

// residualChunk covers the bytes outside the declarations: package
// clause, imports, constants, module docstrings. Nil when the residue is
// blank.
func (c *StructuralChunker) residualChunk(file *FileInput, decls []declaration) *Chunk {
	type gap struct{ lo, hi int }
	var gaps []gap
	pos := 0
	for _, d := range decls {
		start := extendToDocComment(file.Content, int(d.node.StartByte), file.Language)
		if start > pos {
			gaps = append(gaps, gap{pos, start})
		}
		if int(d.node.EndByte) > pos {
			pos = int(d.node.EndByte)
		}
	}
	if pos < len(file.Content) {
		gaps = append(gaps, gap{pos, len(file.Content)})
	}
	if len(gaps) == 0 {
		return nil
	}

	var text strings.Builder
	for _, g := range gaps {
		segment := strings.TrimRight(string(file.Content[g.lo:g.hi]), "\n")
		if strings.TrimSpace(segment) == "" {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n")
		}
		text.WriteString(segment)
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil
	}

	ch := build(file, gaps[0].lo, gaps[len(gaps)-1].hi, KindModule, moduleName(file.Path))
	ch.Text = text.String()
	return &ch
}

// moduleName is the file's base name without extension.
func moduleName(path string) string {
	base := path
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return base
}

// symbolName finds the declared identifier for a symbol node. The
// identifier node type varies per grammar.
func symbolName(n *Node, source []byte, language string) string {
	switch language {
	case "go":
		return goName(n, source)
	case "typescript", "tsx", "javascript", "jsx":
		return jsName(n, source)
	case "python":
		return pyName(n, source)
	default:
		if id := n.FindChildByType("identifier"); id != nil {
			return id.GetContent(source)
		}
	}
	return ""
}

func pyName(n *Node, source []byte) string {
	// Decorators wrap the definition they decorate.
	if n.Type == "decorated_definition" {
		for _, c := range n.Children {
			if c.Type == "function_definition" || c.Type == "class_definition" {
				return pyName(c, source)
			}
		}
		return ""
	}
	if id := n.FindChildByType("identifier"); id != nil {
		return id.GetContent(source)
	}
	return ""
}

func goName(n *Node, source []byte) string {
	switch n.Type {
	case "function_declaration":
		if id := n.FindChildByType("identifier"); id != nil {
			return id.GetContent(source)
		}
	case "method_declaration":
		// Method names are field_identifiers; qualify with the receiver
		// type so two types' methods stay distinct.
		name := ""
		if id := n.FindChildByType("field_identifier"); id != nil {
			name = id.GetContent(source)
		}
		if recv := n.FindChildByType("parameter_list"); recv != nil && name != "" {
			if t := findTypeIdent(recv); t != nil {
				return t.GetContent(source) + "." + name
			}
		}
		return name
	case "type_declaration":
		if spec := n.FindChildByType("type_spec"); spec != nil {
			if id := spec.FindChildByType("type_identifier"); id != nil {
				return id.GetContent(source)
			}
		}
	}
	return ""
}

func jsName(n *Node, source []byte) string {
	if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
		if decl := n.FindChildByType("variable_declarator"); decl != nil {
			if id := decl.FindChildByType("identifier"); id != nil {
				return id.GetContent(source)
			}
		}
		return ""
	}
	for _, child := range n.Children {
		if child.Type == "identifier" || child.Type == "type_identifier" {
			return child.GetContent(source)
		}
	}
	return ""
}

func findTypeIdent(n *Node) *Node {
	var found *Node
	n.Walk(func(child *Node) bool {
		if found != nil {
			return false
		}
		if child.Type == "type_identifier" {
			found = child
			return false
		}
		return true
	})
	return found
}

// isInterfaceDecl reports whether a Go type_declaration declares an
// interface, so the chunk can carry the more specific kind.
func isInterfaceDecl(n *Node) bool {
	if spec := n.FindChildByType("type_spec"); spec != nil {
		return spec.FindChildByType("interface_type") != nil
	}
	return false
}

// extendToDocComment walks start backwards over the contiguous comment
// block directly above a declaration, so doc comments stay attached to
// the symbol they document.
func extendToDocComment(content []byte, start int, language string) int {
	prefix := "//"
	if language == "python" {
		prefix = "#"
	}
	lineStart := start
	for lineStart > 0 && content[lineStart-1] != '\n' {
		lineStart--
	}
	pos := lineStart
	for pos > 0 {
		prevEnd := pos - 1
		prevStart := prevEnd
		for prevStart > 0 && content[prevStart-1] != '\n' {
			prevStart--
		}
		line := strings.TrimSpace(string(content[prevStart:prevEnd]))
		if !strings.HasPrefix(line, prefix) {
			break
		}
		pos = prevStart
	}
	return pos
}
