package lang

import (
	"context"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"

	"codetrace/internal/logging"
)

// goKeywords covers language keywords and builtins never traced as
// reads or user calls.
var goKeywords = map[string]struct{}{
	"append":  {},
	"cap":     {},
	"close":   {},
	"complex": {},
	"copy":    {},
	"delete":  {},
	"imag":    {},
	"len":     {},
	"make":    {},
	"max":     {},
	"min":     {},
	"new":     {},
	"panic":   {},
	"print":   {},
	"println": {},
	"real":    {},
	"recover": {},
	"main":    {},
	"nil":     {},
	"true":    {},
	"false":   {},
	"iota":    {},
	"_":       {},
}

func goIsKeyword(name string) bool {
	_, ok := goKeywords[name]
	return ok
}

// goLiteralKinds are expression kinds reported as literal returns.
var goLiteralKinds = map[string]struct{}{
	"int_literal":                 {},
	"float_literal":               {},
	"imaginary_literal":           {},
	"rune_literal":                {},
	"interpreted_string_literal":  {},
	"raw_string_literal":          {},
	"true":                        {},
	"false":                       {},
	"nil":                         {},
}

// gPart is one field of a trace statement: a Printf verb plus the
// argument expression that fills it.
type gPart struct {
	verb string
	arg  string
}

// gLit embeds static text as a quoted string argument.
func gLit(text string) gPart {
	return gPart{verb: "%s", arg: strconv.Quote(text)}
}

// gExpr embeds a runtime expression with the given verb.
func gExpr(verb, expr string) gPart {
	return gPart{verb: verb, arg: expr}
}

// gInt embeds a static integer.
func gInt(v int) gPart {
	return gPart{verb: "%d", arg: strconv.Itoa(v)}
}

// gMakeTrace renders one trace record as a single Printf call with NUL
// field delimiters and a trailing newline.
func gMakeTrace(parts []gPart) string {
	verbs := make([]string, len(parts))
	args := make([]string, len(parts))
	for i, p := range parts {
		verbs[i] = p.verb
		args[i] = p.arg
	}
	return "\t__trace.Printf(\"" + strings.Join(verbs, `\x00`) + `\n", ` + strings.Join(args, ", ") + ")"
}

// GoBackend analyzes and instruments Go sources. Instrumented programs
// run in-process under the interpreter toolchain, so the injected
// import uses a collision-proof alias.
type GoBackend struct{}

func NewGoBackend() *GoBackend { return &GoBackend{} }

func (b *GoBackend) Name() string { return "Go" }

func (b *GoBackend) Extensions() []string { return []string{".go"} }

func (b *GoBackend) Grammar() *sitter.Language { return golang.GetLanguage() }

// AnalyzeTypes records declared variables and parameters under their
// declared type text. Short declarations carry no type syntax, so they
// register under a generic tag; all Go values are formatted at runtime
// with %v regardless.
func (b *GoBackend) AnalyzeTypes(ctx context.Context, src []byte) (*SymbolTable, error) {
	tree, err := parseSource(ctx, b.Grammar(), src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	table := NewSymbolTable()
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Type() {
		case "var_spec", "parameter_declaration":
			typeText := "auto"
			if typeNode := n.ChildByFieldName("type"); typeNode != nil {
				typeText = nodeText(typeNode, src)
			}
			eachChild(n, func(child *sitter.Node) {
				if child.Type() == "identifier" {
					table.Register(nodeText(child, src), typeText)
				}
			})
		case "short_var_declaration":
			if left := n.ChildByFieldName("left"); left != nil {
				eachNamedChild(left, func(child *sitter.Node) {
					if child.Type() == "identifier" {
						table.Register(nodeText(child, src), "auto")
					}
				})
			}
		}
		eachChild(n, walk)
	}
	walk(tree.RootNode())
	logging.ParserDebug("go analysis registered %d symbols", table.Len())
	return table, nil
}

// CollectMetadata walks the tree once for structural counts and merges
// them with filesystem facts.
func (b *GoBackend) CollectMetadata(ctx context.Context, src []byte, path string) (*Metadata, error) {
	tree, err := parseSource(ctx, b.Grammar(), src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	col := &goMetadataCollector{src: src}
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

type goMetadataCollector struct {
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

func (col *goMetadataCollector) recordFunction(name string) {
	if name == "" {
		return
	}
	col.functionNames = append(col.functionNames, name)
	if col.definedFunctions == nil {
		col.definedFunctions = make(map[string]struct{})
	}
	col.definedFunctions[name] = struct{}{}
}

func (col *goMetadataCollector) walk(n *sitter.Node, depth int) {
	switch n.Type() {
	case "function_declaration", "method_declaration":
		col.numFunctions++
		if nameNode := n.ChildByFieldName("name"); nameNode != nil {
			col.recordFunction(nodeText(nameNode, col.src))
		}
	case "import_spec":
		col.numImports++
		if pathNode := n.ChildByFieldName("path"); pathNode != nil {
			col.imports = append(col.imports, strings.Trim(nodeText(pathNode, col.src), "`\""))
		}
	case "var_spec", "parameter_declaration":
		eachChild(n, func(child *sitter.Node) {
			if child.Type() == "identifier" {
				col.numVariables++
			}
		})
	case "short_var_declaration":
		if left := n.ChildByFieldName("left"); left != nil {
			eachNamedChild(left, func(child *sitter.Node) {
				if child.Type() == "identifier" {
					col.numVariables++
				}
			})
		}
	case "assignment_statement", "inc_statement", "dec_statement":
		col.numAssignments++
	case "for_statement":
		col.numLoops++
	case "if_statement", "expression_switch_statement", "type_switch_statement":
		col.numBranches++
	case "return_statement":
		col.numReturns++
	case "call_expression":
		col.numCalls++
	case "comment":
		col.numComments++
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

// Instrument rewrites the source with Printf-based trace statements, a
// package-level depth counter, and a bool-to-int helper for condition
// values.
func (b *GoBackend) Instrument(ctx context.Context, src []byte, symbols *SymbolTable, meta *Metadata) ([]byte, error) {
	tree, err := parseSource(ctx, b.Grammar(), src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	in := newGoInstrumenter(src, symbols, meta)
	root := tree.RootNode()

	pkgRow := -1
	eachNamedChild(root, func(child *sitter.Node) {
		if pkgRow < 0 && child.Type() == "package_clause" {
			pkgRow = startRow(child)
		}
	})

	in.walk(root)

	if !in.plan.Empty() && pkgRow >= 0 {
		in.plan.AddAfter(pkgRow, "")
		in.plan.AddAfter(pkgRow, `import __trace "fmt"`)

		lastRow := len(in.lines) - 1
		in.plan.AddAfter(lastRow, "")
		in.plan.AddAfter(lastRow, "var __traceDepth = 0")
		if in.usedBool {
			in.plan.AddAfter(lastRow, "")
			in.plan.AddAfter(lastRow, "func __traceBool(b bool) int {")
			in.plan.AddAfter(lastRow, "\tif b {")
			in.plan.AddAfter(lastRow, "\t\treturn 1")
			in.plan.AddAfter(lastRow, "\t}")
			in.plan.AddAfter(lastRow, "\treturn 0")
			in.plan.AddAfter(lastRow, "}")
		}
	}

	out := in.plan.Render(in.lines)
	logging.InstrumentDebug("go instrumented %d lines into %d", len(in.lines), strings.Count(out, "\n")+1)
	return []byte(out), nil
}

type goInstrumenter struct {
	src     []byte
	lines   []string
	symbols *SymbolTable
	meta    *Metadata
	plan    *InsertionPlan

	declaredVars map[string]struct{}
	definedFuncs map[string]struct{}
	usedBool     bool

	handlers map[string]func(n *sitter.Node)
}

func newGoInstrumenter(src []byte, symbols *SymbolTable, meta *Metadata) *goInstrumenter {
	in := &goInstrumenter{
		src:          src,
		lines:        splitLines(src),
		symbols:      symbols,
		meta:         meta,
		plan:         NewInsertionPlan(),
		declaredVars: make(map[string]struct{}),
		definedFuncs: definedFunctionSet(meta),
	}
	in.handlers = map[string]func(n *sitter.Node){
		"function_declaration":        in.functionDeclaration,
		"method_declaration":          in.functionDeclaration,
		"parameter_declaration":       in.parameterDeclaration,
		"var_spec":                    in.varSpec,
		"short_var_declaration":       in.shortVarDeclaration,
		"assignment_statement":        in.assignmentStatement,
		"inc_statement":               func(n *sitter.Node) { in.updateStatement(n, "++") },
		"dec_statement":               func(n *sitter.Node) { in.updateStatement(n, "--") },
		"if_statement":                in.ifStatement,
		"for_statement":               in.forStatement,
		"expression_switch_statement": in.switchStatement,
		"expression_case":             in.expressionCase,
		"default_case":                in.defaultCase,
		"return_statement":            in.returnStatement,
		"call_expression":             in.callExpression,
	}
	return in
}

func (in *goInstrumenter) walk(n *sitter.Node) {
	if handler, ok := in.handlers[n.Type()]; ok {
		handler(n)
	}
	eachChild(n, in.walk)
}

func (in *goInstrumenter) depthPart() gPart {
	return gExpr("%d", "__traceDepth")
}

// boolExpr wraps a condition so its value prints as 0 or 1.
func (in *goInstrumenter) boolExpr(cond string) gPart {
	in.usedBool = true
	return gExpr("%d", "__traceBool("+cond+")")
}

func (in *goInstrumenter) collectReads(n *sitter.Node) []string {
	var reads []string
	var visit func(node *sitter.Node)
	visit = func(node *sitter.Node) {
		if node.Type() == "identifier" {
			parent := node.Parent()
			skip := false
			if parent != nil {
				switch parent.Type() {
				case "call_expression":
					skip = sameNode(parent.ChildByFieldName("function"), node)
				case "selector_expression":
					skip = sameNode(parent.ChildByFieldName("field"), node)
				case "keyed_element":
					skip = true
				}
			}
			if !skip {
				name := nodeText(node, in.src)
				if !goIsKeyword(name) {
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

func (in *goInstrumenter) functionDeclaration(n *sitter.Node) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	funcName := nodeText(nameNode, in.src)
	body := n.ChildByFieldName("body")
	if body == nil {
		return
	}
	bodyRow := startRow(body)

	if funcName == "main" {
		for _, key := range in.meta.Keys() {
			val, _ := in.meta.Get(key)
			in.plan.AddAfter(bodyRow, gMakeTrace([]gPart{gLit("META"), gLit(key), gLit(val)}))
		}
	}
	in.plan.AddAfter(bodyRow, "\t__traceDepth++")

	var params []string
	if paramsNode := n.ChildByFieldName("parameters"); paramsNode != nil {
		eachNamedChild(paramsNode, func(decl *sitter.Node) {
			if decl.Type() != "parameter_declaration" {
				return
			}
			eachChild(decl, func(child *sitter.Node) {
				if child.Type() == "identifier" {
					params = append(params, nodeText(child, in.src))
				}
			})
		})
	}
	for _, p := range params {
		in.declaredVars[p] = struct{}{}
	}

	parts := []gPart{gLit("CALL"), gLit(funcName)}
	for _, p := range params {
		parts = append(parts, gExpr("%v", p))
	}
	parts = append(parts, in.depthPart())
	in.plan.AddAfter(bodyRow, gMakeTrace(parts))
}

func (in *goInstrumenter) parameterDeclaration(n *sitter.Node) {
	parent := n.Parent()
	if parent == nil || parent.Type() != "parameter_list" {
		return
	}
	owner := parent.Parent()
	if owner == nil {
		return
	}
	switch owner.Type() {
	case "function_declaration", "method_declaration":
	default:
		return
	}
	line := startRow(n)
	eachChild(n, func(child *sitter.Node) {
		if child.Type() != "identifier" {
			return
		}
		name := nodeText(child, in.src)
		in.plan.AddAfter(line, gMakeTrace([]gPart{
			gLit("PARAM"), gLit(name), gExpr("%v", name), gInt(line + 1),
		}))
	})
}

func (in *goInstrumenter) varSpec(n *sitter.Node) {
	var names []string
	eachChild(n, func(child *sitter.Node) {
		if child.Type() == "identifier" {
			names = append(names, nodeText(child, in.src))
		}
	})
	if len(names) == 0 {
		return
	}
	line := startRow(n)

	if valueNode := n.ChildByFieldName("value"); valueNode != nil {
		for _, readVar := range in.collectReads(valueNode) {
			in.plan.AddBefore(line, gMakeTrace([]gPart{
				gLit("READ"), gLit(readVar), gExpr("%v", readVar),
				gExpr("%p", "&"+readVar), gInt(line + 1), in.depthPart(),
			}))
		}
	}
	for _, name := range names {
		in.declaredVars[name] = struct{}{}
		in.plan.AddAfter(line, gMakeTrace([]gPart{
			gLit("DECL"), gLit(name), gExpr("%v", name),
			gExpr("%p", "&"+name), gInt(line + 1), in.depthPart(),
		}))
	}
}

func (in *goInstrumenter) shortVarDeclaration(n *sitter.Node) {
	left := n.ChildByFieldName("left")
	if left == nil {
		return
	}
	var names []string
	eachNamedChild(left, func(child *sitter.Node) {
		if child.Type() == "identifier" {
			if name := nodeText(child, in.src); name != "_" {
				names = append(names, name)
			}
		}
	})
	if len(names) == 0 {
		return
	}
	line := startRow(n)

	if right := n.ChildByFieldName("right"); right != nil {
		for _, readVar := range in.collectReads(right) {
			in.plan.AddBefore(line, gMakeTrace([]gPart{
				gLit("READ"), gLit(readVar), gExpr("%v", readVar),
				gExpr("%p", "&"+readVar), gInt(line + 1), in.depthPart(),
			}))
		}
	}
	for _, name := range names {
		in.declaredVars[name] = struct{}{}
		in.plan.AddAfter(line, gMakeTrace([]gPart{
			gLit("DECL"), gLit(name), gExpr("%v", name),
			gExpr("%p", "&"+name), gInt(line + 1), in.depthPart(),
		}))
	}
}

func (in *goInstrumenter) assignmentStatement(n *sitter.Node) {
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")
	if left == nil || int(left.NamedChildCount()) != 1 {
		return
	}
	target := left.NamedChild(0)
	if target.Type() != "identifier" {
		return
	}
	leftVar := nodeText(target, in.src)
	if leftVar == "_" {
		return
	}

	isCompound := false
	if opNode := n.ChildByFieldName("operator"); opNode != nil {
		op := nodeText(opNode, in.src)
		isCompound = strings.HasSuffix(op, "=") && op != "="
	}

	line := startRow(n)

	var readVars []string
	if right != nil {
		if int(right.NamedChildCount()) == 1 && right.NamedChild(0).Type() == "identifier" {
			if name := nodeText(right.NamedChild(0), in.src); !goIsKeyword(name) {
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
		in.plan.AddBefore(line, gMakeTrace([]gPart{
			gLit("READ"), gLit(readVar), gExpr("%v", readVar),
			gExpr("%p", "&"+readVar), gInt(line + 1), in.depthPart(),
		}))
	}
	in.plan.AddAfter(line, gMakeTrace([]gPart{
		gLit("ASSIGN"), gLit(leftVar), gExpr("%v", leftVar),
		gExpr("%p", "&"+leftVar), gInt(line + 1), in.depthPart(),
	}))
}

func (in *goInstrumenter) updateStatement(n *sitter.Node, op string) {
	if parent := n.Parent(); parent != nil && parent.Type() == "for_clause" {
		// the loop's own record covers header updates
		return
	}
	operand := firstNamedChild(n)
	if operand == nil || operand.Type() != "identifier" {
		return
	}
	name := nodeText(operand, in.src)
	if goIsKeyword(name) {
		return
	}
	line := startRow(n)
	in.plan.AddAfter(line, gMakeTrace([]gPart{
		gLit("UPDATE"), gLit(name), gLit(op), gExpr("%v", name),
		gExpr("%p", "&"+name), gInt(line + 1), in.depthPart(),
	}))
}

func (in *goInstrumenter) ifStatement(n *sitter.Node) {
	condNode := n.ChildByFieldName("condition")
	condText := nodeText(condNode, in.src)
	line := startRow(n)

	// with an initializer the condition's bindings do not exist before
	// the statement, so the evaluated record is skipped
	hasInit := n.ChildByFieldName("initializer") != nil
	if condNode != nil && !hasInit {
		in.plan.AddBefore(line, gMakeTrace([]gPart{
			gLit("CONDITION"), gLit(condText), in.boolExpr(condText),
			gInt(line + 1), in.depthPart(),
		}))
	}

	if consequence := n.ChildByFieldName("consequence"); consequence != nil {
		row := startRow(consequence)
		in.plan.AddAfter(row, gMakeTrace([]gPart{
			gLit("BRANCH"), gLit("if"), gLit(condText),
			gInt(row + 1), in.depthPart(),
		}))
	}

	alternative := n.ChildByFieldName("alternative")
	if alternative == nil || alternative.Type() != "block" {
		// else-if chains are traced when the nested if is visited
		return
	}
	row := startRow(alternative)
	in.plan.AddAfter(row, gMakeTrace([]gPart{
		gLit("BRANCH"), gLit("else"), gLit(condText),
		gInt(row + 1), in.depthPart(),
	}))
}

func (in *goInstrumenter) forStatement(n *sitter.Node) {
	body := n.ChildByFieldName("body")
	if body == nil {
		return
	}
	row := startRow(body)

	var condText, condExpr string
	var rangeClause *sitter.Node
	eachNamedChild(n, func(child *sitter.Node) {
		switch child.Type() {
		case "for_clause":
			if cond := child.ChildByFieldName("condition"); cond != nil {
				condText = nodeText(cond, in.src)
				condExpr = condText
			}
		case "range_clause":
			rangeClause = child
		case "block":
		default:
			// condition-only loop: the lone expression is the condition
			if sameNode(child, body) {
				return
			}
			condText = nodeText(child, in.src)
			condExpr = condText
		}
	})

	var parts []gPart
	switch {
	case rangeClause != nil:
		iterText := ""
		if rightNode := rangeClause.ChildByFieldName("right"); rightNode != nil {
			iterText = nodeText(rightNode, in.src)
		}
		parts = []gPart{
			gLit("LOOP"), gLit("for"), gLit(iterText), gLit("1"),
			gInt(row + 1), in.depthPart(),
		}
	case condExpr != "":
		parts = []gPart{
			gLit("LOOP"), gLit("for"), gLit(condText), in.boolExpr(condExpr),
			gInt(row + 1), in.depthPart(),
		}
	default:
		parts = []gPart{
			gLit("LOOP"), gLit("for"), gLit(""), gLit("1"),
			gInt(row + 1), in.depthPart(),
		}
	}
	in.plan.AddAfter(row, gMakeTrace(parts))

	if rangeClause != nil {
		if left := rangeClause.ChildByFieldName("left"); left != nil {
			eachNamedChild(left, func(child *sitter.Node) {
				if child.Type() != "identifier" {
					return
				}
				name := nodeText(child, in.src)
				if name == "_" {
					return
				}
				in.declaredVars[name] = struct{}{}
				in.plan.AddAfter(row, gMakeTrace([]gPart{
					gLit("DECL"), gLit(name), gExpr("%v", name),
					gExpr("%p", "&"+name), gInt(row + 1), in.depthPart(),
				}))
			})
		}
	}
}

func (in *goInstrumenter) switchStatement(n *sitter.Node) {
	valueNode := n.ChildByFieldName("value")
	if valueNode == nil || n.ChildByFieldName("initializer") != nil {
		return
	}
	valueText := nodeText(valueNode, in.src)
	line := startRow(n)
	in.plan.AddBefore(line, gMakeTrace([]gPart{
		gLit("SWITCH"), gLit(valueText), gExpr("%v", valueText),
		gInt(line + 1), in.depthPart(),
	}))
}

func (in *goInstrumenter) expressionCase(n *sitter.Node) {
	line := startRow(n)
	label := ""
	if valueNode := n.ChildByFieldName("value"); valueNode != nil {
		label = nodeText(valueNode, in.src)
	}
	if label == "" {
		return
	}
	in.plan.AddAfter(line, gMakeTrace([]gPart{
		gLit("CASE"), gLit(label), gInt(line + 1), in.depthPart(),
	}))
}

func (in *goInstrumenter) defaultCase(n *sitter.Node) {
	line := startRow(n)
	in.plan.AddAfter(line, gMakeTrace([]gPart{
		gLit("CASE"), gLit("default"), gInt(line + 1), in.depthPart(),
	}))
}

func (in *goInstrumenter) returnStatement(n *sitter.Node) {
	line := startRow(n)
	if exprList := firstNamedChild(n); exprList != nil && exprList.Type() == "expression_list" {
		if retVal := firstNamedChild(exprList); retVal != nil {
			if retVal.Type() == "identifier" {
				if name := nodeText(retVal, in.src); !goIsKeyword(name) {
					in.plan.AddBefore(line, gMakeTrace([]gPart{
						gLit("RETURN"), gLit(name), gExpr("%v", name),
						gExpr("%p", "&"+name), gInt(line + 1), in.depthPart(),
					}))
				}
			} else if _, literal := goLiteralKinds[retVal.Type()]; literal {
				in.plan.AddBefore(line, gMakeTrace([]gPart{
					gLit("RETURN"), gLit("literal"), gLit(nodeText(retVal, in.src)),
					gLit("0"), gInt(line + 1), in.depthPart(),
				}))
			}
		}
	}
	in.plan.AddBefore(line, "\t__traceDepth--")
}

func (in *goInstrumenter) callExpression(n *sitter.Node) {
	funcNode := n.ChildByFieldName("function")
	if funcNode == nil {
		return
	}
	var name string
	switch funcNode.Type() {
	case "identifier":
		name = nodeText(funcNode, in.src)
	case "selector_expression":
		if field := funcNode.ChildByFieldName("field"); field != nil {
			name = nodeText(field, in.src)
		}
	}
	if name == "" || goIsKeyword(name) {
		return
	}
	if _, defined := in.definedFuncs[name]; defined {
		return
	}
	line := startRow(n)
	in.plan.AddBefore(line, gMakeTrace([]gPart{
		gLit("EXTERNAL_CALL"), gLit(name), gInt(line + 1), in.depthPart(),
	}))
}
