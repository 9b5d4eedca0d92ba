// Package lang provides the per-language analysis and instrumentation
// backends. Each backend parses a source file with tree-sitter, builds a
// symbol table and metadata for it, and rewrites the source with trace
// statements that report execution events on stdout.
package lang

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// Backend is the contract every language implementation satisfies. A
// backend owns its grammar, its type analysis, its metadata collection,
// and its instrumentation rewrite. Backends hold no per-file state; all
// three passes take the source explicitly so one backend instance can
// serve concurrent pipeline invocations.
type Backend interface {
	// Name is the language label recorded in metadata, e.g. "C".
	Name() string

	// Extensions lists the file extensions this backend claims,
	// including the leading dot.
	Extensions() []string

	// Grammar returns the tree-sitter language used for parsing.
	Grammar() *sitter.Language

	// AnalyzeTypes walks declarations and parameters and returns the
	// symbol table consulted when formatting traced values.
	AnalyzeTypes(ctx context.Context, src []byte) (*SymbolTable, error)

	// CollectMetadata gathers file facts and structural counts. It must
	// run before Instrument: the instrumented program replays the
	// metadata as META records, and the defined-function set collected
	// here drives external-call classification.
	CollectMetadata(ctx context.Context, src []byte, path string) (*Metadata, error)

	// Instrument rewrites src with trace statements and returns the new
	// source text.
	Instrument(ctx context.Context, src []byte, symbols *SymbolTable, meta *Metadata) ([]byte, error)
}

// parseSource runs a fresh tree-sitter parse. Callers own the returned
// tree and must Close it.
func parseSource(ctx context.Context, grammar *sitter.Language, src []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(grammar)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return tree, nil
}

// eachChild invokes fn for every child of n in document order.
func eachChild(n *sitter.Node, fn func(child *sitter.Node)) {
	for i := 0; i < int(n.ChildCount()); i++ {
		fn(n.Child(i))
	}
}

// eachNamedChild invokes fn for every named child of n in document order.
func eachNamedChild(n *sitter.Node, fn func(child *sitter.Node)) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		fn(n.NamedChild(i))
	}
}

// firstNamedChild returns the first named child of n, or nil.
func firstNamedChild(n *sitter.Node) *sitter.Node {
	for i := 0; i < int(n.ChildCount()); i++ {
		if child := n.Child(i); child.IsNamed() {
			return child
		}
	}
	return nil
}

// sameNode reports whether two nodes cover the same source span. Nodes
// handed out by the tree are distinct Go values, so span identity is the
// reliable comparison.
func sameNode(a, b *sitter.Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte()
}

// startRow returns the 0-based source line a node begins on.
func startRow(n *sitter.Node) int {
	return int(n.StartPoint().Row)
}

// startCol returns the 0-based column a node begins at.
func startCol(n *sitter.Node) int {
	return int(n.StartPoint().Column)
}

// splitLines breaks source into lines for the insertion plan, tolerating
// CRLF endings.
func splitLines(src []byte) []string {
	text := strings.ReplaceAll(string(src), "\r\n", "\n")
	return strings.Split(text, "\n")
}

// definedFunctionSet parses the comma-joined defined_functions metadata
// entry back into a set for call classification.
func definedFunctionSet(meta *Metadata) map[string]struct{} {
	set := make(map[string]struct{})
	if meta == nil {
		return set
	}
	joined, ok := meta.Get("defined_functions")
	if !ok || joined == "" {
		return set
	}
	for _, name := range strings.Split(joined, ",") {
		if name != "" {
			set[name] = struct{}{}
		}
	}
	return set
}
