package chunk

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// Parser wraps a tree-sitter parser and converts its trees into a small
// owned node structure, so the rest of the package never touches cgo
// lifetimes.
type Parser struct {
	parser   *sitter.Parser
	registry *LanguageRegistry
}

// NewParser returns a parser over the default registry.
func NewParser() *Parser {
	return NewParserWithRegistry(DefaultRegistry())
}

// NewParserWithRegistry returns a parser over a custom registry.
func NewParserWithRegistry(registry *LanguageRegistry) *Parser {
	return &Parser{parser: sitter.NewParser(), registry: registry}
}

// Parse parses source and returns the converted tree.
func (p *Parser) Parse(ctx context.Context, source []byte, language string) (*Tree, error) {
	tsLang, ok := p.registry.GetTreeSitterLanguage(language)
	if !ok {
		return nil, fmt.Errorf("unsupported language: %s", language)
	}
	p.parser.SetLanguage(tsLang)
	tsTree, err := p.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", language, err)
	}
	if tsTree == nil {
		return nil, fmt.Errorf("parse %s: nil tree", language)
	}
	return &Tree{
		Root:     convertNode(tsTree.RootNode()),
		Source:   source,
		Language: language,
	}, nil
}

// Close releases parser resources.
func (p *Parser) Close() {
	if p.parser != nil {
		p.parser.Close()
	}
}

// Tree is a parsed file.
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

// Node is one AST node. Byte offsets index into Tree.Source.
type Node struct {
	Type      string
	StartByte uint32
	EndByte   uint32
	Children  []*Node
}

func convertNode(tsNode *sitter.Node) *Node {
	if tsNode == nil {
		return nil
	}
	node := &Node{
		Type:      tsNode.Type(),
		StartByte: tsNode.StartByte(),
		EndByte:   tsNode.EndByte(),
		Children:  make([]*Node, 0, int(tsNode.ChildCount())),
	}
	for i := uint32(0); i < tsNode.ChildCount(); i++ {
		if child := tsNode.Child(int(i)); child != nil {
			node.Children = append(node.Children, convertNode(child))
		}
	}
	return node
}

// GetContent returns the source text covered by the node.
func (n *Node) GetContent(source []byte) string {
	if n.StartByte >= n.EndByte || int(n.EndByte) > len(source) {
		return ""
	}
	return string(source[n.StartByte:n.EndByte])
}

// FindChildByType returns the first direct child of the given type.
func (n *Node) FindChildByType(nodeType string) *Node {
	for _, child := range n.Children {
		if child.Type == nodeType {
			return child
		}
	}
	return nil
}

// Walk traverses depth-first; fn returning false prunes the subtree.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, child := range n.Children {
		child.Walk(fn)
	}
}
