package lang

import (
	"strings"
)

// InsertionPlan accumulates instrumentation fragments keyed by the
// 0-based source line they attach to. Fragments scheduled for the same
// line keep their scheduling order, which is what preserves the
// READ-before-ASSIGN ordering the traversal established. The plan is
// consumed exactly once by Render.
type InsertionPlan struct {
	before map[int][]string
	after  map[int][]string
}

func NewInsertionPlan() *InsertionPlan {
	return &InsertionPlan{
		before: make(map[int][]string),
		after:  make(map[int][]string),
	}
}

// AddBefore schedules code immediately above line.
func (p *InsertionPlan) AddBefore(line int, code string) {
	p.before[line] = append(p.before[line], code)
}

// AddAfter schedules code immediately below line.
func (p *InsertionPlan) AddAfter(line int, code string) {
	p.after[line] = append(p.after[line], code)
}

// Empty reports whether no fragments were scheduled.
func (p *InsertionPlan) Empty() bool {
	return len(p.before) == 0 && len(p.after) == 0
}

// Render rebuilds the source by interleaving the scheduled fragments
// with the original lines. Prologue lines, when given, come first.
func (p *InsertionPlan) Render(lines []string, prologue ...string) string {
	out := make([]string, 0, len(prologue)+len(lines))
	out = append(out, prologue...)
	for i, line := range lines {
		out = append(out, p.before[i]...)
		out = append(out, line)
		out = append(out, p.after[i]...)
	}
	return strings.Join(out, "\n")
}
