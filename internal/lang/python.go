package lang

import (
	"context"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"codetrace/internal/logging"
)

// pyKeywords covers reserved words plus builtins the tracer itself
// relies on. Identifiers here are never traced as reads or user calls.
var pyKeywords = map[string]struct{}{
	"print":          {},
	"return":         {},
	"if":             {},
	"elif":           {},
	"else":           {},
	"while":          {},
	"for":            {},
	"in":             {},
	"def":            {},
	"class":          {},
	"import":         {},
	"from":           {},
	"as":             {},
	"with":           {},
	"try":            {},
	"except":         {},
	"finally":        {},
	"raise":          {},
	"pass":           {},
	"break":          {},
	"continue":       {},
	"and":            {},
	"or":             {},
	"not":            {},
	"is":             {},
	"None":           {},
	"True":           {},
	"False":          {},
	"lambda":         {},
	"yield":          {},
	"global":         {},
	"nonlocal":       {},
	"assert":         {},
	"del":            {},
	"self":           {},
	"__tracer_depth": {},
}

func pyIsKeyword(name string) bool {
	_, ok := pyKeywords[name]
	return ok
}

func pyEscapeQuotes(text string) string {
	return strings.ReplaceAll(text, "'", `\'`)
}

// pyRepr renders text as a single-quoted Python string literal.
var pyReprEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

func pyRepr(text string) string {
	return "'" + pyReprEscaper.Replace(text) + "'"
}

// pyPart is one field of a trace statement: either static text rendered
// as a string literal, or a runtime expression embedded verbatim.
type pyPart struct {
	text   string
	isExpr bool
}

func pyLit(text string) pyPart  { return pyPart{text: text} }
func pyExpr(expr string) pyPart { return pyPart{text: expr, isExpr: true} }

// pyMakeTrace renders one trace record as a print call with NUL field
// separators at the given indent.
func pyMakeTrace(parts []pyPart, indent int) string {
	args := make([]string, len(parts))
	for i, p := range parts {
		if p.isExpr {
			args[i] = p.text
		} else {
			args[i] = pyRepr(p.text)
		}
	}
	return strings.Repeat(" ", indent) + "print(" + strings.Join(args, ", ") + `, sep='\0')`
}

// PythonBackend analyzes and instruments Python sources. Python is
// dynamically typed, so the symbol table only records names; values are
// formatted at runtime by print itself.
type PythonBackend struct{}

func NewPythonBackend() *PythonBackend { return &PythonBackend{} }

func (b *PythonBackend) Name() string { return "Python" }

func (b *PythonBackend) Extensions() []string { return []string{".py"} }

func (b *PythonBackend) Grammar() *sitter.Language { return python.GetLanguage() }

// AnalyzeTypes registers every assignment target and parameter under a
// single generic tag. No inference is attempted.
func (b *PythonBackend) AnalyzeTypes(ctx context.Context, src []byte) (*SymbolTable, error) {
	tree, err := parseSource(ctx, b.Grammar(), src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	table := NewSymbolTable()
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Type() {
		case "assignment":
			if left := n.ChildByFieldName("left"); left != nil && left.Type() == "identifier" {
				table.Register(nodeText(left, src), "object")
			}
		case "function_definition":
			if params := n.ChildByFieldName("parameters"); params != nil {
				eachChild(params, func(child *sitter.Node) {
					if child.Type() == "identifier" {
						table.Register(nodeText(child, src), "object")
					}
				})
			}
		}
		eachChild(n, walk)
	}
	walk(tree.RootNode())
	logging.ParserDebug("python analysis registered %d symbols", table.Len())
	return table, nil
}

// CollectMetadata walks the tree once for structural counts and merges
// them with filesystem facts.
func (b *PythonBackend) CollectMetadata(ctx context.Context, src []byte, path string) (*Metadata, error) {
	tree, err := parseSource(ctx, b.Grammar(), src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	col := &pyMetadataCollector{src: src}
	col.extractImports(tree.RootNode())
	col.walk(tree.RootNode(), 0)

	meta, err := collectFileFacts(path, src, b.Name())
	if err != nil {
		return nil, err
	}
	meta.SetInt("num_imports", col.numImports)
	meta.SetInt("num_comments", col.numComments)
	meta.SetInt("num_functions", col.numFunctions)
	meta.Set("function_names", strings.Join(col.functionNames, ","))
	meta.SetInt("num_variables", col.numVariables)
	meta.SetInt("num_assignments", col.numAssignments)
	meta.SetInt("num_calls", col.numCalls)
	meta.SetInt("num_returns", col.numReturns)
	meta.SetInt("num_loops", col.numLoops)
	meta.SetInt("num_branches", col.numBranches)
	meta.SetInt("max_nesting_depth", col.maxDepth)
	meta.Set("imports", strings.Join(col.imports, ","))
	meta.Set("defined_functions", strings.Join(sortedSet(col.definedFunctions), ","))
	return meta, nil
}

type pyMetadataCollector struct {
	src []byte

	numFunctions   int
	numVariables   int
	numLoops       int
	numBranches    int
	numReturns     int
	numAssignments int
	numCalls       int
	numImports     int
	numComments    int
	maxDepth       int

	functionNames    []string
	imports          []string
	definedFunctions map[string]struct{}
}

func (col *pyMetadataCollector) extractImports(n *sitter.Node) {
	switch n.Type() {
	case "import_statement":
		eachChild(n, func(child *sitter.Node) {
			switch child.Type() {
			case "dotted_name", "identifier":
				col.imports = append(col.imports, nodeText(child, col.src))
			}
		})
	case "import_from_statement":
		if module := n.ChildByFieldName("module_name"); module != nil {
			col.imports = append(col.imports, nodeText(module, col.src))
		}
	}
	eachChild(n, col.extractImports)
}

func (col *pyMetadataCollector) walk(n *sitter.Node, depth int) {
	switch n.Type() {
	case "function_definition":
		col.numFunctions++
		if nameNode := n.ChildByFieldName("name"); nameNode != nil {
			name := nodeText(nameNode, col.src)
			col.functionNames = append(col.functionNames, name)
			if col.definedFunctions == nil {
				col.definedFunctions = make(map[string]struct{})
			}
			col.definedFunctions[name] = struct{}{}
		}
	case "assignment":
		col.numVariables++
		col.numAssignments++
	case "augmented_assignment":
		col.numAssignments++
	case "while_statement", "for_statement":
		col.numLoops++
	case "if_statement":
		col.numBranches++
	case "return_statement":
		col.numReturns++
	case "call":
		col.numCalls++
	case "comment":
		col.numComments++
	case "import_statement", "import_from_statement":
		col.numImports++
	}

	if n.Type() == "block" {
		depth++
		if depth > col.maxDepth {
			col.maxDepth = depth
		}
	}

	eachChild(n, func(child *sitter.Node) {
		col.walk(child, depth)
	})
}

// Instrument rewrites the source with print-based trace statements and a
// module-level depth counter.
func (b *PythonBackend) Instrument(ctx context.Context, src []byte, symbols *SymbolTable, meta *Metadata) ([]byte, error) {
	tree, err := parseSource(ctx, b.Grammar(), src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	in := newPyInstrumenter(src, symbols, meta)
	in.walk(tree.RootNode())
	out := in.plan.Render(in.lines, "__tracer_depth = 0")
	logging.InstrumentDebug("python instrumented %d lines into %d", len(in.lines), strings.Count(out, "\n")+1)
	return []byte(out), nil
}

type pyInstrumenter struct {
	src     []byte
	lines   []string
	symbols *SymbolTable
	meta    *Metadata
	plan    *InsertionPlan

	seenVars     map[string]struct{}
	definedFuncs map[string]struct{}

	handlers map[string]func(n *sitter.Node)
}

func newPyInstrumenter(src []byte, symbols *SymbolTable, meta *Metadata) *pyInstrumenter {
	in := &pyInstrumenter{
		src:          src,
		lines:        splitLines(src),
		symbols:      symbols,
		meta:         meta,
		plan:         NewInsertionPlan(),
		seenVars:     make(map[string]struct{}),
		definedFuncs: definedFunctionSet(meta),
	}
	in.handlers = map[string]func(n *sitter.Node){
		"function_definition":  in.functionDefinition,
		"assignment":           in.assignment,
		"augmented_assignment": in.augmentedAssignment,
		"if_statement":         in.ifStatement,
		"for_statement":        in.forStatement,
		"while_statement":      in.whileStatement,
		"return_statement":     in.returnStatement,
		"call":                 in.call,
	}
	return in
}

func (in *pyInstrumenter) walk(n *sitter.Node) {
	if handler, ok := in.handlers[n.Type()]; ok {
		handler(n)
	}
	switch n.Type() {
	case "if_statement":
		// alternatives were traversed by the handler; only the
		// consequence remains
		if consequence := n.ChildByFieldName("consequence"); consequence != nil {
			eachChild(consequence, in.walk)
		}
		return
	case "elif_clause", "else_clause":
		return
	}
	eachChild(n, in.walk)
}

func (in *pyInstrumenter) depthPart() pyPart {
	return pyExpr("__tracer_depth")
}

// pyAddressExpr renders the identity token for a name: its id() in hex.
func pyAddressExpr(name string) string {
	return "format(id(" + name + "), 'x')"
}

// blockIndent returns the column of the first statement in a block.
func (in *pyInstrumenter) blockIndent(block *sitter.Node) int {
	if first := firstNamedChild(block); first != nil {
		return startCol(first)
	}
	return 4
}

// collectReads gathers identifiers read by an expression, skipping
// structural positions that are never value reads: assignment targets,
// parameter names, callee names, attribute names, and keyword-argument
// names.
func (in *pyInstrumenter) collectReads(n *sitter.Node) []string {
	var reads []string
	var visit func(node *sitter.Node)
	visit = func(node *sitter.Node) {
		if node.Type() == "identifier" {
			parent := node.Parent()
			skip := false
			if parent != nil {
				switch parent.Type() {
				case "assignment", "augmented_assignment", "function_definition", "parameters":
					skip = true
				case "call":
					skip = sameNode(parent.ChildByFieldName("function"), node)
				case "attribute":
					skip = sameNode(parent.ChildByFieldName("attribute"), node)
				case "keyword_argument":
					skip = sameNode(parent.ChildByFieldName("name"), node)
				}
			}
			if !skip {
				if name := nodeText(node, in.src); !pyIsKeyword(name) {
					reads = append(reads, name)
				}
			}
		}
		eachChild(node, visit)
	}
	visit(n)
	return reads
}

func (in *pyInstrumenter) functionDefinition(n *sitter.Node) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	funcName := nodeText(nameNode, in.src)

	var params []string
	if paramsNode := n.ChildByFieldName("parameters"); paramsNode != nil {
		eachChild(paramsNode, func(child *sitter.Node) {
			if child.Type() == "identifier" {
				params = append(params, nodeText(child, in.src))
			}
		})
	}

	body := n.ChildByFieldName("body")
	if body == nil {
		return
	}
	indent := in.blockIndent(body)
	first := firstNamedChild(body)
	if first == nil {
		return
	}
	startLine := startRow(first)

	if funcName == "main" {
		for _, key := range in.meta.Keys() {
			val, _ := in.meta.Get(key)
			in.plan.AddBefore(startLine, pyMakeTrace([]pyPart{pyLit("META"), pyLit(key), pyLit(val)}, indent))
		}
	}

	pad := strings.Repeat(" ", indent)
	in.plan.AddBefore(startLine, pad+"global __tracer_depth")
	in.plan.AddBefore(startLine, pad+"__tracer_depth += 1")

	parts := []pyPart{pyLit("CALL"), pyLit(funcName)}
	for _, p := range params {
		parts = append(parts, pyExpr(p))
	}
	parts = append(parts, in.depthPart())
	in.plan.AddBefore(startLine, pyMakeTrace(parts, indent))
}

func (in *pyInstrumenter) assignment(n *sitter.Node) {
	left := n.ChildByFieldName("left")
	if left == nil || left.Type() != "identifier" {
		return
	}
	name := nodeText(left, in.src)
	line := startRow(n)
	col := startCol(n)

	if right := n.ChildByFieldName("right"); right != nil {
		for _, readVar := range in.collectReads(right) {
			in.plan.AddBefore(line, pyMakeTrace([]pyPart{
				pyLit("READ"), pyLit(readVar), pyExpr(readVar),
				pyExpr(pyAddressExpr(readVar)), pyLit(strconv.Itoa(line + 1)), in.depthPart(),
			}, col))
		}
	}

	tag := "ASSIGN"
	if _, seen := in.seenVars[name]; !seen {
		in.seenVars[name] = struct{}{}
		tag = "DECL"
	}
	in.plan.AddAfter(line, pyMakeTrace([]pyPart{
		pyLit(tag), pyLit(name), pyExpr(name),
		pyExpr(pyAddressExpr(name)), pyLit(strconv.Itoa(line + 1)), in.depthPart(),
	}, col))
}

func (in *pyInstrumenter) augmentedAssignment(n *sitter.Node) {
	left := n.ChildByFieldName("left")
	if left == nil || left.Type() != "identifier" {
		return
	}
	name := nodeText(left, in.src)
	line := startRow(n)
	col := startCol(n)

	if right := n.ChildByFieldName("right"); right != nil {
		for _, readVar := range in.collectReads(right) {
			in.plan.AddBefore(line, pyMakeTrace([]pyPart{
				pyLit("READ"), pyLit(readVar), pyExpr(readVar),
				pyExpr(pyAddressExpr(readVar)), pyLit(strconv.Itoa(line + 1)), in.depthPart(),
			}, col))
		}
	}

	in.plan.AddAfter(line, pyMakeTrace([]pyPart{
		pyLit("ASSIGN"), pyLit(name), pyExpr(name),
		pyExpr(pyAddressExpr(name)), pyLit(strconv.Itoa(line + 1)), in.depthPart(),
	}, col))
}

func (in *pyInstrumenter) ifStatement(n *sitter.Node) {
	condNode := n.ChildByFieldName("condition")
	condText := nodeText(condNode, in.src)
	safeCond := pyEscapeQuotes(condText)
	line := startRow(n)
	col := startCol(n)

	if condNode != nil {
		in.plan.AddBefore(line, pyMakeTrace([]pyPart{
			pyLit("CONDITION"), pyLit(safeCond), pyExpr(condText),
			pyLit(strconv.Itoa(line + 1)), in.depthPart(),
		}, col))
	}

	if consequence := n.ChildByFieldName("consequence"); consequence != nil {
		if first := firstNamedChild(consequence); first != nil {
			indent := in.blockIndent(consequence)
			in.plan.AddBefore(startRow(first), pyMakeTrace([]pyPart{
				pyLit("BRANCH"), pyLit("if"), pyLit(safeCond),
				pyLit(strconv.Itoa(startRow(first) + 1)), in.depthPart(),
			}, indent))
		}
	}

	eachChild(n, func(child *sitter.Node) {
		switch child.Type() {
		case "elif_clause":
			in.elifClause(child)
		case "else_clause":
			in.elseClause(child, condText)
		}
	})
}

func (in *pyInstrumenter) elifClause(n *sitter.Node) {
	condNode := n.ChildByFieldName("condition")
	condText := nodeText(condNode, in.src)

	body := n.ChildByFieldName("consequence")
	if body == nil {
		return
	}
	if first := firstNamedChild(body); first != nil {
		indent := in.blockIndent(body)
		in.plan.AddBefore(startRow(first), pyMakeTrace([]pyPart{
			pyLit("BRANCH"), pyLit("elif"), pyLit(pyEscapeQuotes(condText)),
			pyLit(strconv.Itoa(startRow(first) + 1)), in.depthPart(),
		}, indent))
	}
	eachChild(body, in.walk)
}

func (in *pyInstrumenter) elseClause(n *sitter.Node, parentCond string) {
	body := n.ChildByFieldName("body")
	if body == nil {
		return
	}
	if first := firstNamedChild(body); first != nil {
		indent := in.blockIndent(body)
		in.plan.AddBefore(startRow(first), pyMakeTrace([]pyPart{
			pyLit("BRANCH"), pyLit("else"), pyLit(pyEscapeQuotes(parentCond)),
			pyLit(strconv.Itoa(startRow(first) + 1)), in.depthPart(),
		}, indent))
	}
	eachChild(body, in.walk)
}

func (in *pyInstrumenter) forStatement(n *sitter.Node) {
	line := startRow(n)

	body := n.ChildByFieldName("body")
	if body == nil {
		return
	}
	indent := in.blockIndent(body)
	first := firstNamedChild(body)
	if first == nil {
		return
	}
	stmtLine := startRow(first)

	right := n.ChildByFieldName("right")
	iterText := nodeText(right, in.src)
	in.plan.AddBefore(stmtLine, pyMakeTrace([]pyPart{
		pyLit("LOOP"), pyLit("for"), pyLit(pyEscapeQuotes(iterText)), pyLit("1"),
		pyLit(strconv.Itoa(line + 1)), in.depthPart(),
	}, indent))

	if left := n.ChildByFieldName("left"); left != nil && left.Type() == "identifier" {
		name := nodeText(left, in.src)
		in.seenVars[name] = struct{}{}
		in.plan.AddBefore(stmtLine, pyMakeTrace([]pyPart{
			pyLit("DECL"), pyLit(name), pyExpr(name),
			pyExpr(pyAddressExpr(name)), pyLit(strconv.Itoa(line + 1)), in.depthPart(),
		}, indent))
	}
}

func (in *pyInstrumenter) whileStatement(n *sitter.Node) {
	condNode := n.ChildByFieldName("condition")
	condText := nodeText(condNode, in.src)
	line := startRow(n)

	body := n.ChildByFieldName("body")
	if body == nil {
		return
	}
	indent := in.blockIndent(body)
	first := firstNamedChild(body)
	if first == nil {
		return
	}

	in.plan.AddBefore(startRow(first), pyMakeTrace([]pyPart{
		pyLit("LOOP"), pyLit("while"), pyLit(pyEscapeQuotes(condText)), pyExpr(condText),
		pyLit(strconv.Itoa(line + 1)), in.depthPart(),
	}, indent))
}

func (in *pyInstrumenter) returnStatement(n *sitter.Node) {
	line := startRow(n)
	col := startCol(n)

	if retVal := firstNamedChild(n); retVal != nil {
		if retVal.Type() == "identifier" {
			if name := nodeText(retVal, in.src); !pyIsKeyword(name) {
				in.plan.AddBefore(line, pyMakeTrace([]pyPart{
					pyLit("RETURN"), pyLit(name), pyExpr(name),
					pyExpr(pyAddressExpr(name)), pyLit(strconv.Itoa(line + 1)), in.depthPart(),
				}, col))
			}
		} else {
			in.plan.AddBefore(line, pyMakeTrace([]pyPart{
				pyLit("RETURN"), pyLit("literal"), pyLit(nodeText(retVal, in.src)),
				pyLit("0"), pyLit(strconv.Itoa(line + 1)), in.depthPart(),
			}, col))
		}
	}
	in.plan.AddBefore(line, strings.Repeat(" ", col)+"__tracer_depth -= 1")
}

func (in *pyInstrumenter) call(n *sitter.Node) {
	funcNode := n.ChildByFieldName("function")
	if funcNode == nil {
		return
	}
	var name string
	switch funcNode.Type() {
	case "identifier":
		name = nodeText(funcNode, in.src)
	case "attribute":
		if attr := funcNode.ChildByFieldName("attribute"); attr != nil {
			name = nodeText(attr, in.src)
		}
	}
	if name == "" || pyIsKeyword(name) {
		return
	}
	if _, defined := in.definedFuncs[name]; defined {
		return
	}
	line := startRow(n)
	indent := 0
	if line < len(in.lines) {
		lineText := in.lines[line]
		indent = len(lineText) - len(strings.TrimLeft(lineText, " \t"))
	}
	in.plan.AddBefore(line, pyMakeTrace([]pyPart{
		pyLit("EXTERNAL_CALL"), pyLit(name), pyLit(strconv.Itoa(line + 1)), in.depthPart(),
	}, indent))
}
