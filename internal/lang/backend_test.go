package lang

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// instrumentFixture runs the full analyze/metadata/instrument sequence
// the way the pipeline drives a backend.
func instrumentFixture(t *testing.T, b Backend, name, src string) string {
	t.Helper()
	ctx := context.Background()
	path := writeFixture(t, name, src)

	symbols, err := b.AnalyzeTypes(ctx, []byte(src))
	require.NoError(t, err)
	meta, err := b.CollectMetadata(ctx, []byte(src), path)
	require.NoError(t, err)
	out, err := b.Instrument(ctx, []byte(src), symbols, meta)
	require.NoError(t, err)
	return string(out)
}

func assertOrdered(t *testing.T, out string, first, second string) {
	t.Helper()
	i := strings.Index(out, first)
	j := strings.Index(out, second)
	require.GreaterOrEqual(t, i, 0, "missing %q", first)
	require.GreaterOrEqual(t, j, 0, "missing %q", second)
	assert.Less(t, i, j, "%q should precede %q", first, second)
}

const pySample = `def main():
    x = 1
    x += 1
    total = len(str(x))
    return total

main()
`

func TestPythonInstrument(t *testing.T) {
	out := instrumentFixture(t, NewPythonBackend(), "demo.py", pySample)

	lines := strings.Split(out, "\n")
	require.NotEmpty(t, lines)
	assert.Equal(t, "__tracer_depth = 0", lines[0], "depth counter leads the file")

	assert.Contains(t, out, "    global __tracer_depth")
	assert.Contains(t, out, "    __tracer_depth += 1")
	assert.Contains(t, out, `print('CALL', 'main', __tracer_depth, sep='\0')`)

	// metadata replays inside main, ahead of the call record
	assert.Contains(t, out, `print('META', 'file_name', 'demo.py', sep='\0')`)
	assertOrdered(t, out, "'META', 'file_name'", "'CALL', 'main'")

	// first assignment declares, the augmented one mutates
	assert.Contains(t, out, `print('DECL', 'x', x, format(id(x), 'x'), '2', __tracer_depth, sep='\0')`)
	assert.Contains(t, out, `print('ASSIGN', 'x', x, format(id(x), 'x'), '3', __tracer_depth, sep='\0')`)
	assertOrdered(t, out, "x = 1", "'DECL', 'x'")

	// reads come from the initializer expression, before the statement
	assert.Contains(t, out, `print('READ', 'x', x, format(id(x), 'x'), '4', __tracer_depth, sep='\0')`)
	assertOrdered(t, out, "'READ', 'x', x, format(id(x), 'x'), '4'", "total = len(str(x))")
	assert.Contains(t, out, `print('DECL', 'total', total, format(id(total), 'x'), '4', __tracer_depth, sep='\0')`)

	// builtins are external, defined functions are not
	assert.Contains(t, out, `print('EXTERNAL_CALL', 'len', '4', __tracer_depth, sep='\0')`)
	assert.Contains(t, out, `print('EXTERNAL_CALL', 'str', '4', __tracer_depth, sep='\0')`)
	assert.NotContains(t, out, "'EXTERNAL_CALL', 'main'")

	assert.Contains(t, out, `print('RETURN', 'total', total, format(id(total), 'x'), '5', __tracer_depth, sep='\0')`)
	assertOrdered(t, out, "__tracer_depth -= 1", "return total")
}

const cSample = `#include <stdio.h>

int add(int a, int b) {
    int c = a + b;
    return c;
}

int main() {
    int x = add(1, 2);
    printf("%d\n", x);
    return 0;
}
`

func TestCInstrument(t *testing.T) {
	out := instrumentFixture(t, NewCBackend(), "demo.c", cSample)

	lines := strings.Split(out, "\n")
	require.NotEmpty(t, lines)
	assert.Equal(t, "int __stack_depth = 0;", lines[0], "depth counter leads the file")

	// stdout unbuffered before anything prints, then metadata replay
	assert.Equal(t, 1, strings.Count(out, "setbuf(stdout, NULL);"))
	assert.Contains(t, out, `printf("%s", "META"); putchar(0); printf("%s", "file_name"); putchar(0); printf("%s", "demo.c"); putchar('\n');`)
	assertOrdered(t, out, "setbuf(stdout, NULL);", `"CALL"); putchar(0); printf("%s", "main")`)

	// both functions bump the depth on entry and drop it on return
	assert.Equal(t, 2, strings.Count(out, "__stack_depth++;"))
	assert.Equal(t, 2, strings.Count(out, "__stack_depth--;"))

	// call records carry parameter values with type-resolved conversions
	assert.Contains(t, out, `printf("%s", "CALL"); putchar(0); printf("%s", "add"); putchar(0); printf("%d", a); putchar(0); printf("%d", b); putchar(0); printf("%d", __stack_depth); putchar('\n');`)
	assert.Contains(t, out, `printf("%s", "PARAM"); putchar(0); printf("%s", "a"); putchar(0); printf("%d", a); putchar(0); printf("%s", "3"); putchar('\n');`)
	assert.Contains(t, out, `printf("%s", "PARAM"); putchar(0); printf("%s", "b"); putchar(0); printf("%d", b); putchar(0); printf("%s", "3"); putchar('\n');`)

	// initializer reads precede the declaration record
	assert.Contains(t, out, `printf("%s", "READ"); putchar(0); printf("%s", "a"); putchar(0); printf("%d", a); putchar(0); printf("%p", &a); putchar(0); printf("%s", "4"); putchar(0); printf("%d", __stack_depth); putchar('\n');`)
	assert.Contains(t, out, `printf("%s", "DECL"); putchar(0); printf("%s", "c"); putchar(0); printf("%d", c); putchar(0); printf("%p", &c); putchar(0); printf("%s", "4"); putchar(0); printf("%d", __stack_depth); putchar('\n');`)
	assertOrdered(t, out, `"READ"); putchar(0); printf("%s", "a")`, "int c = a + b;")
	assertOrdered(t, out, "int c = a + b;", `"DECL"); putchar(0); printf("%s", "c")`)

	assert.Contains(t, out, `printf("%s", "RETURN"); putchar(0); printf("%s", "c"); putchar(0); printf("%d", c); putchar(0); printf("%p", &c); putchar(0); printf("%s", "5"); putchar(0); printf("%d", __stack_depth); putchar('\n');`)
	assert.Contains(t, out, `"RETURN"); putchar(0); printf("%s", "literal"); putchar(0); printf("%s", "0")`)

	// add is defined here and printf is reserved: neither is external
	assert.NotContains(t, out, "EXTERNAL_CALL")
}

const goSample = `package main

func double(n int) int {
	m := n * 2
	return m
}

func main() {
	x := double(4)
	if x > 4 {
		x++
	}
}
`

func TestGoInstrument(t *testing.T) {
	out := instrumentFixture(t, NewGoBackend(), "demo.go", goSample)

	// aliased import right after the package clause, runtime support at EOF
	assertOrdered(t, out, "package main", `import __trace "fmt"`)
	assertOrdered(t, out, `import __trace "fmt"`, "func double")
	assertOrdered(t, out, "func main() {", "var __traceDepth = 0")
	assert.Contains(t, out, "func __traceBool(b bool) int {")

	assert.Equal(t, 2, strings.Count(out, "__traceDepth++"))
	assert.Equal(t, 1, strings.Count(out, "__traceDepth--"))

	assert.Contains(t, out, `__trace.Printf("%s\x00%s\x00%s\n", "META", "file_name", "demo.go")`)
	assert.Contains(t, out, `__trace.Printf("%s\x00%s\x00%d\n", "CALL", "main", __traceDepth)`)
	assert.Contains(t, out, `__trace.Printf("%s\x00%s\x00%v\x00%d\n", "CALL", "double", n, __traceDepth)`)
	assert.Contains(t, out, `__trace.Printf("%s\x00%s\x00%v\x00%d\n", "PARAM", "n", n, 3)`)

	assert.Contains(t, out, `__trace.Printf("%s\x00%s\x00%v\x00%p\x00%d\x00%d\n", "READ", "n", n, &n, 4, __traceDepth)`)
	assert.Contains(t, out, `__trace.Printf("%s\x00%s\x00%v\x00%p\x00%d\x00%d\n", "DECL", "m", m, &m, 4, __traceDepth)`)
	assert.Contains(t, out, `__trace.Printf("%s\x00%s\x00%v\x00%p\x00%d\x00%d\n", "RETURN", "m", m, &m, 5, __traceDepth)`)
	assert.Contains(t, out, `__trace.Printf("%s\x00%s\x00%v\x00%p\x00%d\x00%d\n", "DECL", "x", x, &x, 9, __traceDepth)`)

	// evaluated condition, taken-branch marker, and the increment inside
	assert.Contains(t, out, `__trace.Printf("%s\x00%s\x00%d\x00%d\x00%d\n", "CONDITION", "x > 4", __traceBool(x > 4), 10, __traceDepth)`)
	assert.Contains(t, out, `__trace.Printf("%s\x00%s\x00%s\x00%d\x00%d\n", "BRANCH", "if", "x > 4", 10, __traceDepth)`)
	assert.Contains(t, out, `__trace.Printf("%s\x00%s\x00%s\x00%v\x00%p\x00%d\x00%d\n", "UPDATE", "x", "++", x, &x, 11, __traceDepth)`)

	assert.NotContains(t, out, "EXTERNAL_CALL", "double is defined in-file")
}

func TestGoInstrumentLeavesInertSourceAlone(t *testing.T) {
	src := "package main\n\nconst answer = 42\n"
	out := instrumentFixture(t, NewGoBackend(), "inert.go", src)

	assert.Equal(t, src, out, "nothing to trace means no rewrite")
	assert.NotContains(t, out, "__trace")
}

func TestAnalyzeTypesC(t *testing.T) {
	src := `int main(int argc, char **argv) {
    int x = 1;
    double rate = 0.5;
    int *p = &x;
    char name[8] = "hi";
    return x;
}
`
	table, err := NewCBackend().AnalyzeTypes(context.Background(), []byte(src))
	require.NoError(t, err)

	assert.Equal(t, "int", table.TypeOf("argc", "?"))
	assert.Equal(t, "char *", table.TypeOf("argv", "?"))
	assert.Equal(t, "int", table.TypeOf("x", "?"))
	assert.Equal(t, "double", table.TypeOf("rate", "?"))
	assert.Equal(t, "int *", table.TypeOf("p", "?"))
	assert.Equal(t, "char *", table.TypeOf("name", "?"))
	assert.False(t, table.Has("main"))
}

func TestAnalyzeTypesGo(t *testing.T) {
	src := `package main

func scale(factor int) int {
	var base int = 2
	result := base * factor
	return result
}
`
	table, err := NewGoBackend().AnalyzeTypes(context.Background(), []byte(src))
	require.NoError(t, err)

	assert.Equal(t, "int", table.TypeOf("factor", "?"))
	assert.Equal(t, "int", table.TypeOf("base", "?"))
	assert.Equal(t, "auto", table.TypeOf("result", "?"), "short declarations carry no type syntax")
}

func TestAnalyzeTypesPython(t *testing.T) {
	src := `def greet(name):
    message = 'hi ' + name
    return message
`
	table, err := NewPythonBackend().AnalyzeTypes(context.Background(), []byte(src))
	require.NoError(t, err)

	assert.Equal(t, "object", table.TypeOf("name", "?"))
	assert.Equal(t, "object", table.TypeOf("message", "?"))
	assert.Equal(t, 2, table.Len())
}
