package lang

import (
	"context"
	"sort"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"

	"codetrace/internal/logging"
)

// cKeywords are identifiers never treated as user variables or
// user-defined calls.
var cKeywords = map[string]struct{}{
	"printf":   {},
	"main":     {},
	"return":   {},
	"if":       {},
	"while":    {},
	"for":      {},
	"else":     {},
	"switch":   {},
	"case":     {},
	"break":    {},
	"continue": {},
	"sizeof":   {},
	"typedef":  {},
	"struct":   {},
	"enum":     {},
	"union":    {},
	"goto":     {},
	"do":       {},
}

func cIsKeyword(name string) bool {
	_, ok := cKeywords[name]
	return ok
}

// cTypeFormats pairs type-name substrings with printf conversions. The
// first match wins, so the more specific entries come first.
var cTypeFormats = []struct {
	name   string
	format string
}{
	{"int", "%d"},
	{"float", "%f"},
	{"double", "%lf"},
	{"char", "%c"},
	{"long", "%ld"},
}

// cFormatFor resolves the printf conversion for a declared type. Pointer
// and array types print as strings when char-based and as addresses
// otherwise.
func cFormatFor(typeName string) string {
	if strings.Contains(typeName, "*") || strings.Contains(typeName, "[") {
		if strings.Contains(typeName, "char") {
			return "%s"
		}
		return "%p"
	}
	for _, tf := range cTypeFormats {
		if strings.Contains(typeName, tf.name) {
			return tf.format
		}
	}
	return "%d"
}

// cEscape makes raw source text safe to embed inside a printf format
// string.
func cEscape(text string) string {
	text = strings.ReplaceAll(text, "%", "%%")
	return strings.ReplaceAll(text, `"`, `\"`)
}

// cExtractCondition pulls a construct's condition as (escaped display
// text, raw expression). Both are empty when the construct has no
// condition.
func cExtractCondition(n *sitter.Node, src []byte) (condText, condExpr string) {
	condition := n.ChildByFieldName("condition")
	if condition == nil {
		return "", ""
	}
	raw := nodeText(condition, src)
	if raw == "" {
		return "", ""
	}
	text := raw
	if strings.HasPrefix(raw, "(") && strings.HasSuffix(raw, ")") {
		text = raw[1 : len(raw)-1]
	}
	return cEscape(text), raw
}

// cFullType appends the pointer marker for pointer and array
// declarators so format selection treats them as addresses.
func cFullType(base string, declarator *sitter.Node) string {
	if declarator == nil {
		return base
	}
	switch declarator.Type() {
	case "pointer_declarator", "array_declarator":
		return base + " *"
	}
	return base
}

func cIsTypeNode(kind string) bool {
	return strings.HasSuffix(kind, "_type") || kind == "type_identifier"
}

// CBackend analyzes and instruments C sources.
type CBackend struct{}

func NewCBackend() *CBackend { return &CBackend{} }

func (b *CBackend) Name() string { return "C" }

func (b *CBackend) Extensions() []string { return []string{".c", ".h"} }

func (b *CBackend) Grammar() *sitter.Language { return c.GetLanguage() }

// AnalyzeTypes records every declared variable and parameter under its
// declared type. Later declarations of the same name overwrite earlier
// ones.
func (b *CBackend) AnalyzeTypes(ctx context.Context, src []byte) (*SymbolTable, error) {
	tree, err := parseSource(ctx, b.Grammar(), src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	table := NewSymbolTable()
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Type() {
		case "declaration":
			cAnalyzeDeclaration(n, src, table)
		case "parameter_declaration":
			cAnalyzeParameter(n, src, table)
		}
		eachChild(n, walk)
	}
	walk(tree.RootNode())
	logging.ParserDebug("c analysis registered %d symbols", table.Len())
	return table, nil
}

func cAnalyzeDeclaration(n *sitter.Node, src []byte, table *SymbolTable) {
	typeNode := n.ChildByFieldName("type")
	if typeNode == nil {
		eachChild(n, func(child *sitter.Node) {
			if typeNode == nil && cIsTypeNode(child.Type()) {
				typeNode = child
			}
		})
	}
	curType := "int"
	if typeNode != nil {
		curType = nodeText(typeNode, src)
	}

	eachChild(n, func(child *sitter.Node) {
		switch child.Type() {
		case "init_declarator":
			declarator := child.ChildByFieldName("declarator")
			if declarator == nil {
				return
			}
			if name := extractVarName(declarator, src); name != "" {
				table.Register(name, cFullType(curType, declarator))
			}
		case "identifier":
			table.Register(nodeText(child, src), curType)
		}
	})
}

func cAnalyzeParameter(n *sitter.Node, src []byte, table *SymbolTable) {
	curType := "int"
	if typeNode := n.ChildByFieldName("type"); typeNode != nil {
		curType = nodeText(typeNode, src)
	}
	declarator := n.ChildByFieldName("declarator")
	if declarator == nil {
		return
	}
	if name := extractVarName(declarator, src); name != "" {
		table.Register(name, cFullType(curType, declarator))
	}
}

// CollectMetadata walks the tree once for structural counts and merges
// them with filesystem facts.
func (b *CBackend) CollectMetadata(ctx context.Context, src []byte, path string) (*Metadata, error) {
	tree, err := parseSource(ctx, b.Grammar(), src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	col := &cMetadataCollector{src: src}
	col.extractIncludes(tree.RootNode())
	col.walk(tree.RootNode(), 0)
	col.countComments(tree.RootNode())

	for _, line := range strings.Split(string(src), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#include") {
			col.numIncludes++
		}
	}

	meta, err := collectFileFacts(path, src, b.Name())
	if err != nil {
		return nil, err
	}
	meta.SetInt("num_includes", col.numIncludes)
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
	meta.Set("includes", strings.Join(col.includes, ","))
	meta.Set("defined_functions", strings.Join(sortedSet(col.definedFunctions), ","))
	return meta, nil
}

type cMetadataCollector struct {
	src []byte

	numFunctions   int
	numVariables   int
	numLoops       int
	numBranches    int
	numReturns     int
	numAssignments int
	numCalls       int
	numIncludes    int
	numComments    int
	maxDepth       int

	functionNames    []string
	includes         []string
	definedFunctions map[string]struct{}
}

func (col *cMetadataCollector) extractIncludes(n *sitter.Node) {
	if n.Type() == "preproc_include" {
		eachChild(n, func(child *sitter.Node) {
			switch child.Type() {
			case "string_literal", "system_lib_string":
				path := strings.Trim(nodeText(child, col.src), `"<>`)
				col.includes = append(col.includes, path)
			}
		})
	}
	eachChild(n, col.extractIncludes)
}

func (col *cMetadataCollector) countComments(n *sitter.Node) {
	eachChild(n, func(child *sitter.Node) {
		if child.Type() == "comment" {
			col.numComments++
		}
		col.countComments(child)
	})
}

func (col *cMetadataCollector) walk(n *sitter.Node, depth int) {
	switch n.Type() {
	case "function_definition":
		col.numFunctions++
		if name := cFunctionName(n, col.src); name != "" {
			col.functionNames = append(col.functionNames, name)
			if col.definedFunctions == nil {
				col.definedFunctions = make(map[string]struct{})
			}
			col.definedFunctions[name] = struct{}{}
		}
	case "declaration":
		eachChild(n, func(child *sitter.Node) {
			if child.Type() == "init_declarator" {
				col.numVariables++
			}
		})
	case "parameter_declaration":
		col.numVariables++
	case "while_statement", "for_statement", "do_statement":
		col.numLoops++
	case "if_statement", "switch_statement":
		col.numBranches++
	case "return_statement":
		col.numReturns++
	case "assignment_expression", "update_expression":
		col.numAssignments++
	case "call_expression":
		col.numCalls++
	}

	if n.Type() == "compound_statement" {
		depth++
		if depth > col.maxDepth {
			col.maxDepth = depth
		}
	}

	eachChild(n, func(child *sitter.Node) {
		col.walk(child, depth)
	})
}

// cFunctionName resolves a function definition's name, unwrapping
// pointer-returning declarators.
func cFunctionName(funcDef *sitter.Node, src []byte) string {
	var find func(n *sitter.Node) string
	find = func(n *sitter.Node) string {
		switch n.Type() {
		case "function_declarator":
			for i := 0; i < int(n.ChildCount()); i++ {
				if child := n.Child(i); child.Type() == "identifier" {
					return nodeText(child, src)
				}
			}
		case "pointer_declarator":
			for i := 0; i < int(n.ChildCount()); i++ {
				if name := find(n.Child(i)); name != "" {
					return name
				}
			}
		}
		return ""
	}
	for i := 0; i < int(funcDef.ChildCount()); i++ {
		if name := find(funcDef.Child(i)); name != "" {
			return name
		}
	}
	return ""
}

func sortedSet(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Instrument rewrites the source with printf-based trace statements and
// a file-scope depth counter.
func (b *CBackend) Instrument(ctx context.Context, src []byte, symbols *SymbolTable, meta *Metadata) ([]byte, error) {
	tree, err := parseSource(ctx, b.Grammar(), src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	in := newCInstrumenter(src, symbols, meta)
	in.walk(tree.RootNode())
	out := in.plan.Render(in.lines, "int __stack_depth = 0;")
	logging.InstrumentDebug("c instrumented %d lines into %d", len(in.lines), strings.Count(out, "\n")+1)
	return []byte(out), nil
}

// cPart is one field of a trace statement: a printf conversion plus the
// argument expression that fills it.
type cPart struct {
	format string
	arg    string
}

// cLit embeds static text as a quoted string argument.
func cLit(text string) cPart {
	return cPart{format: "%s", arg: `"` + text + `"`}
}

// cExpr embeds a runtime expression with its resolved conversion.
func cExpr(format, expr string) cPart {
	return cPart{format: format, arg: expr}
}

// cMakeTrace renders one trace record as a chain of printf calls with
// NUL field delimiters and a trailing newline.
func cMakeTrace(parts []cPart) string {
	stmts := make([]string, 0, 2*len(parts)+1)
	for i, p := range parts {
		stmts = append(stmts, `printf("`+p.format+`", `+p.arg+`)`)
		if i < len(parts)-1 {
			stmts = append(stmts, "putchar(0)")
		}
	}
	stmts = append(stmts, `putchar('\n')`)
	return "    " + strings.Join(stmts, "; ") + ";"
}

type cInstrumenter struct {
	src     []byte
	lines   []string
	symbols *SymbolTable
	meta    *Metadata
	plan    *InsertionPlan

	declaredVars  map[string]struct{}
	localVarTypes map[string]string
	definedFuncs  map[string]struct{}

	handlers map[string]func(n *sitter.Node)
}

// cReadExcludedParents are node kinds whose identifier children are
// binding or structural positions, not value reads.
var cReadExcludedParents = map[string]struct{}{
	"declaration":           {},
	"init_declarator":       {},
	"function_declarator":   {},
	"assignment_expression": {},
	"parameter_declaration": {},
	"function_definition":   {},
	"update_expression":     {},
}

func newCInstrumenter(src []byte, symbols *SymbolTable, meta *Metadata) *cInstrumenter {
	in := &cInstrumenter{
		src:           src,
		lines:         splitLines(src),
		symbols:       symbols,
		meta:          meta,
		plan:          NewInsertionPlan(),
		declaredVars:  make(map[string]struct{}),
		localVarTypes: make(map[string]string),
		definedFuncs:  definedFunctionSet(meta),
	}
	in.handlers = map[string]func(n *sitter.Node){
		"function_definition":    in.functionDefinition,
		"parameter_declaration":  in.parameterDeclaration,
		"if_statement":           in.ifStatement,
		"while_statement":        func(n *sitter.Node) { in.loop(n, "while") },
		"for_statement":          func(n *sitter.Node) { in.loop(n, "for") },
		"do_statement":           func(n *sitter.Node) { in.loop(n, "do-while") },
		"switch_statement":       in.switchStatement,
		"case_statement":         in.caseStatement,
		"update_expression":      in.updateExpression,
		"conditional_expression": in.conditionalExpression,
		"declaration":            in.declaration,
		"assignment_expression":  in.assignmentExpression,
		"return_statement":       in.returnStatement,
		"call_expression":        in.callExpression,
	}
	return in
}

func (in *cInstrumenter) walk(n *sitter.Node) {
	if handler, ok := in.handlers[n.Type()]; ok {
		handler(n)
	}
	eachChild(n, in.walk)
}

func (in *cInstrumenter) depthPart() cPart {
	return cExpr("%d", "__stack_depth")
}

func (in *cInstrumenter) collectReads(n *sitter.Node) []string {
	var reads []string
	var visit func(node *sitter.Node)
	visit = func(node *sitter.Node) {
		if node.Type() == "identifier" {
			parent := node.Parent()
			excluded := false
			if parent != nil {
				_, excluded = cReadExcludedParents[parent.Type()]
			}
			callee := parent != nil && parent.Type() == "call_expression" &&
				sameNode(parent.ChildByFieldName("function"), node)
			if !excluded && !callee {
				name := nodeText(node, in.src)
				if !cIsKeyword(name) {
					if _, declared := in.declaredVars[name]; declared {
						reads = append(reads, name)
					}
				}
			}
		}
		eachChild(node, visit)
	}
	visit(n)
	return reads
}

func (in *cInstrumenter) functionDefinition(n *sitter.Node) {
	var funcName string
	var params []string
	eachChild(n, func(child *sitter.Node) {
		if child.Type() != "function_declarator" {
			return
		}
		eachChild(child, func(sub *sitter.Node) {
			switch sub.Type() {
			case "identifier":
				funcName = nodeText(sub, in.src)
			case "parameter_list":
				eachChild(sub, func(p *sitter.Node) {
					if p.Type() != "parameter_declaration" {
						return
					}
					if name := extractVarName(p, in.src); name != "" {
						params = append(params, name)
					}
				})
			}
		})
	})
	if funcName == "" {
		return
	}
	body := n.ChildByFieldName("body")
	if body == nil {
		return
	}
	startLine := startRow(body)

	if funcName == "main" {
		in.plan.AddAfter(startLine, "    setbuf(stdout, NULL);")
		for _, key := range in.meta.Keys() {
			val, _ := in.meta.Get(key)
			in.plan.AddAfter(startLine, cMakeTrace([]cPart{cLit("META"), cLit(key), cLit(val)}))
		}
	}
	in.plan.AddAfter(startLine, "    __stack_depth++;")

	for _, p := range params {
		in.declaredVars[p] = struct{}{}
	}
	paramTypes := in.paramTypes(n)

	parts := []cPart{cLit("CALL"), cLit(funcName)}
	for _, p := range params {
		paramType, ok := paramTypes[p]
		if !ok {
			paramType = "int"
		}
		parts = append(parts, cExpr(cFormatFor(paramType), p))
	}
	parts = append(parts, in.depthPart())
	in.plan.AddAfter(startLine, cMakeTrace(parts))
}

// paramTypes maps parameter names to their declared types, read from
// the definition's own declarator rather than the symbol table.
func (in *cInstrumenter) paramTypes(funcDef *sitter.Node) map[string]string {
	types := make(map[string]string)
	declarator := funcDef.ChildByFieldName("declarator")
	if declarator == nil {
		return types
	}
	paramsNode := declarator.ChildByFieldName("parameters")
	if paramsNode == nil {
		return types
	}
	eachChild(paramsNode, func(child *sitter.Node) {
		if child.Type() != "parameter_declaration" {
			return
		}
		typeNode := child.ChildByFieldName("type")
		declNode := child.ChildByFieldName("declarator")
		if typeNode == nil || declNode == nil {
			return
		}
		if name := extractVarName(declNode, in.src); name != "" {
			types[name] = cFullType(nodeText(typeNode, in.src), declNode)
		}
	})
	return types
}

func (in *cInstrumenter) parameterDeclaration(n *sitter.Node) {
	inFunction := false
	for p := n.Parent(); p != nil; p = p.Parent() {
		if p.Type() == "function_definition" {
			inFunction = true
			break
		}
	}
	if !inFunction {
		return
	}
	name := extractVarName(n, in.src)
	if name == "" {
		return
	}
	line := startRow(n)

	varType := "int"
	if typeNode := n.ChildByFieldName("type"); typeNode != nil {
		varType = cFullType(nodeText(typeNode, in.src), n.ChildByFieldName("declarator"))
	}
	in.plan.AddAfter(line, cMakeTrace([]cPart{
		cLit("PARAM"), cLit(name), cExpr(cFormatFor(varType), name), cLit(strconv.Itoa(line + 1)),
	}))
}

func (in *cInstrumenter) ifStatement(n *sitter.Node) {
	condText, condExpr := cExtractCondition(n, in.src)
	ifLine := startRow(n)

	if condExpr != "" {
		in.plan.AddBefore(ifLine, cMakeTrace([]cPart{
			cLit("CONDITION"), cLit(condText), cExpr("%d", condExpr),
			cLit(strconv.Itoa(ifLine + 1)), in.depthPart(),
		}))
	}

	if consequence := n.ChildByFieldName("consequence"); consequence != nil {
		line := startRow(consequence)
		trace := cMakeTrace([]cPart{
			cLit("BRANCH"), cLit("if"), cLit(condText),
			cLit(strconv.Itoa(line + 1)), in.depthPart(),
		})
		if consequence.Type() == "compound_statement" {
			in.plan.AddAfter(line, trace)
		} else {
			in.plan.AddBefore(line, trace)
		}
	}

	alternative := n.ChildByFieldName("alternative")
	if alternative == nil {
		return
	}
	altBody := alternative
	if alternative.Type() == "else_clause" {
		if named := firstNamedChild(alternative); named != nil {
			altBody = named
		}
	}
	if altBody.Type() == "if_statement" {
		// else-if chains are traced when the nested if is visited
		return
	}
	line := startRow(altBody)
	trace := cMakeTrace([]cPart{
		cLit("BRANCH"), cLit("else"), cLit(condText),
		cLit(strconv.Itoa(line + 1)), in.depthPart(),
	})
	if altBody.Type() == "compound_statement" {
		in.plan.AddAfter(line, trace)
	} else {
		in.plan.AddBefore(line, trace)
	}
}

// loop traces while, for, and do-while bodies. Loops without a braced
// body are left untouched: there is no line to attach the record to
// without changing control flow.
func (in *cInstrumenter) loop(n *sitter.Node, kind string) {
	condText, condExpr := cExtractCondition(n, in.src)
	body := n.ChildByFieldName("body")
	if body == nil || body.Type() != "compound_statement" {
		return
	}
	line := startRow(body)

	var parts []cPart
	if condExpr != "" {
		parts = []cPart{
			cLit("LOOP"), cLit(kind), cLit(condText), cExpr("%d", condExpr),
			cLit(strconv.Itoa(line + 1)), in.depthPart(),
		}
	} else {
		parts = []cPart{
			cLit("LOOP"), cLit(kind), cLit(""), cLit("1"),
			cLit(strconv.Itoa(line + 1)), in.depthPart(),
		}
	}
	in.plan.AddAfter(line, cMakeTrace(parts))
}

func (in *cInstrumenter) switchStatement(n *sitter.Node) {
	condText, condExpr := cExtractCondition(n, in.src)
	if condExpr == "" {
		return
	}
	line := startRow(n)
	in.plan.AddBefore(line, cMakeTrace([]cPart{
		cLit("SWITCH"), cLit(condText), cExpr("%d", condExpr),
		cLit(strconv.Itoa(line + 1)), in.depthPart(),
	}))
}

func (in *cInstrumenter) caseStatement(n *sitter.Node) {
	line := startRow(n)
	label := "default"
	if valueNode := n.ChildByFieldName("value"); valueNode != nil {
		label = cEscape(nodeText(valueNode, in.src))
	}
	in.plan.AddAfter(line, cMakeTrace([]cPart{
		cLit("CASE"), cLit(label), cLit(strconv.Itoa(line + 1)), in.depthPart(),
	}))
}

func (in *cInstrumenter) updateExpression(n *sitter.Node) {
	if parent := n.Parent(); parent != nil && parent.Type() == "for_statement" {
		// the loop's own record covers header updates
		return
	}
	var name string
	eachChild(n, func(child *sitter.Node) {
		if name == "" && child.Type() == "identifier" {
			name = nodeText(child, in.src)
		}
	})
	if name == "" || cIsKeyword(name) {
		return
	}
	line := startRow(n)
	op := "--"
	if strings.Contains(nodeText(n, in.src), "++") {
		op = "++"
	}
	format := cFormatFor(in.symbols.TypeOf(name, "int"))
	in.plan.AddAfter(line, cMakeTrace([]cPart{
		cLit("UPDATE"), cLit(name), cLit(op), cExpr(format, name),
		cExpr("%p", "&"+name), cLit(strconv.Itoa(line + 1)), in.depthPart(),
	}))
}

func (in *cInstrumenter) conditionalExpression(n *sitter.Node) {
	condition := n.ChildByFieldName("condition")
	if condition == nil {
		return
	}
	condText := nodeText(condition, in.src)
	line := startRow(n)
	in.plan.AddBefore(line, cMakeTrace([]cPart{
		cLit("TERNARY"), cLit(cEscape(condText)), cExpr("%d", condText),
		cLit(strconv.Itoa(line + 1)), in.depthPart(),
	}))
}

func (in *cInstrumenter) declaration(n *sitter.Node) {
	baseType := "int"
	if typeNode := n.ChildByFieldName("type"); typeNode != nil {
		baseType = nodeText(typeNode, in.src)
	}

	eachChild(n, func(child *sitter.Node) {
		if child.Type() != "init_declarator" {
			return
		}
		declarator := child.ChildByFieldName("declarator")
		if declarator == nil {
			return
		}
		name := extractVarName(declarator, in.src)
		if name == "" {
			return
		}
		fullType := cFullType(baseType, declarator)
		in.localVarTypes[name] = fullType
		in.declaredVars[name] = struct{}{}

		line := startRow(n)
		in.plan.AddAfter(line, cMakeTrace([]cPart{
			cLit("DECL"), cLit(name), cExpr(cFormatFor(fullType), name),
			cExpr("%p", "&"+name), cLit(strconv.Itoa(line + 1)), in.depthPart(),
		}))

		// reads come only from the initializer, not the declarator
		valueNode := child.ChildByFieldName("value")
		if valueNode == nil {
			return
		}
		for _, readVar := range in.collectReads(valueNode) {
			readType, ok := in.localVarTypes[readVar]
			if !ok {
				readType = "int"
			}
			in.plan.AddBefore(line, cMakeTrace([]cPart{
				cLit("READ"), cLit(readVar), cExpr(cFormatFor(readType), readVar),
				cExpr("%p", "&"+readVar), cLit(strconv.Itoa(line + 1)), in.depthPart(),
			}))
		}
	})
}

func (in *cInstrumenter) assignmentExpression(n *sitter.Node) {
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")
	if left == nil || left.Type() != "identifier" {
		return
	}
	leftVar := nodeText(left, in.src)

	isCompound := false
	eachChild(n, func(child *sitter.Node) {
		if child.IsNamed() {
			return
		}
		op := nodeText(child, in.src)
		if strings.HasSuffix(op, "=") && op != "=" {
			isCompound = true
		}
	})

	line := startRow(n)

	var readVars []string
	if right != nil {
		if right.Type() == "identifier" {
			if name := nodeText(right, in.src); !cIsKeyword(name) {
				readVars = append(readVars, name)
			}
		} else {
			readVars = in.collectReads(right)
		}
	}
	if isCompound {
		readVars = append([]string{leftVar}, readVars...)
	}

	for _, readVar := range readVars {
		format := cFormatFor(in.symbols.TypeOf(readVar, "int"))
		in.plan.AddBefore(line, cMakeTrace([]cPart{
			cLit("READ"), cLit(readVar), cExpr(format, readVar),
			cExpr("%p", "&"+readVar), cLit(strconv.Itoa(line + 1)), in.depthPart(),
		}))
	}

	format := cFormatFor(in.symbols.TypeOf(leftVar, "int"))
	in.plan.AddAfter(line, cMakeTrace([]cPart{
		cLit("ASSIGN"), cLit(leftVar), cExpr(format, leftVar),
		cExpr("%p", "&"+leftVar), cLit(strconv.Itoa(line + 1)), in.depthPart(),
	}))
}

func (in *cInstrumenter) returnStatement(n *sitter.Node) {
	line := startRow(n)
	eachChild(n, func(child *sitter.Node) {
		switch child.Type() {
		case "identifier":
			name := nodeText(child, in.src)
			if cIsKeyword(name) {
				return
			}
			format := cFormatFor(in.symbols.TypeOf(name, "int"))
			in.plan.AddBefore(line, cMakeTrace([]cPart{
				cLit("RETURN"), cLit(name), cExpr(format, name),
				cExpr("%p", "&"+name), cLit(strconv.Itoa(line + 1)), in.depthPart(),
			}))
		case "number_literal", "string_literal":
			in.plan.AddBefore(line, cMakeTrace([]cPart{
				cLit("RETURN"), cLit("literal"), cLit(nodeText(child, in.src)),
				cLit("0"), cLit(strconv.Itoa(line + 1)), in.depthPart(),
			}))
		}
	})
	in.plan.AddBefore(line, "    __stack_depth--;")
}

func (in *cInstrumenter) callExpression(n *sitter.Node) {
	funcNode := n.ChildByFieldName("function")
	if funcNode == nil {
		return
	}
	name := nodeText(funcNode, in.src)
	if cIsKeyword(name) {
		return
	}
	if _, defined := in.definedFuncs[name]; defined {
		return
	}
	line := startRow(n)
	in.plan.AddBefore(line, cMakeTrace([]cPart{
		cLit("EXTERNAL_CALL"), cLit(name), cLit(strconv.Itoa(line + 1)), in.depthPart(),
	}))
}
