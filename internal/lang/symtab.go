package lang

import (
	sitter "github.com/smacker/go-tree-sitter"
)

// SymbolTable maps variable names to the type tag recorded during
// analysis. Later registrations overwrite earlier ones, so after a full
// pass the table reflects the last declaration seen for each name. It is
// built once per file and read-only during instrumentation.
type SymbolTable struct {
	types map[string]string
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{types: make(map[string]string)}
}

// Register records name under the given type tag.
func (t *SymbolTable) Register(name, typeTag string) {
	t.types[name] = typeTag
}

// TypeOf returns the registered type tag for name, or fallback when the
// name was never registered.
func (t *SymbolTable) TypeOf(name, fallback string) string {
	if tag, ok := t.types[name]; ok {
		return tag
	}
	return fallback
}

// Has reports whether name was registered.
func (t *SymbolTable) Has(name string) bool {
	_, ok := t.types[name]
	return ok
}

// Len returns the number of registered names.
func (t *SymbolTable) Len() int {
	return len(t.types)
}

// nodeText returns the source text covered by n.
func nodeText(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	return n.Content(src)
}

// extractVarName digs the declared identifier out of a declarator node,
// unwrapping pointer and array declarators along the way.
func extractVarName(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	switch n.Type() {
	case "identifier":
		return nodeText(n, src)
	case "pointer_declarator":
		for i := 0; i < int(n.ChildCount()); i++ {
			child := n.Child(i)
			if nodeText(child, src) == "*" {
				continue
			}
			if name := extractVarName(child, src); name != "" {
				return name
			}
		}
		return ""
	case "array_declarator":
		if decl := n.ChildByFieldName("declarator"); decl != nil {
			return extractVarName(decl, src)
		}
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if name := extractVarName(n.Child(i), src); name != "" {
			return name
		}
	}
	return ""
}
