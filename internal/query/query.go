// Package query loads a normalized trace into a Datalog engine so run
// behavior can be asked about declaratively: which variables were read
// before any write, which callees were external, what a subject's
// lifetime looks like.
package query

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"codetrace/internal/logging"
	"codetrace/internal/trace"
)

// rules is the IDB evaluated over every loaded trace. The EDB
// predicates are declared up front so a trace without, say, value
// records still analyzes.
const rules = `
Decl trace_record(Id, Kind, Subject, Line) bound [/number, /string, /string, /number].
Decl trace_value(Id, Kind, Subject, Value) bound [/number, /string, /string, /string].
Decl trace_cond(Id, Condition, Outcome) bound [/number, /string, /number].
Decl trace_meta(Key, Value) bound [/string, /string].

reads(Subject, Id) :- trace_value(Id, "READ", Subject, _).
writes(Subject, Id) :- trace_value(Id, "DECL", Subject, _).
writes(Subject, Id) :- trace_value(Id, "ASSIGN", Subject, _).
writes(Subject, Id) :- trace_value(Id, "UPDATE", Subject, _).

read_before_write(Subject, ReadId, WriteId) :-
    reads(Subject, ReadId),
    writes(Subject, WriteId),
    :lt(ReadId, WriteId).

callee(Name, Id) :- trace_record(Id, "CALL", Name, _).
external_callee(Name, Id) :- trace_record(Id, "EXTERNAL_CALL", Name, _).

branch_taken(Cond, Id) :- trace_cond(Id, Cond, 1).
branch_skipped(Cond, Id) :- trace_cond(Id, Cond, 0).
`

// Fact is one EDB or derived atom.
type Fact struct {
	Predicate string
	Args      []interface{}
}

// String renders the fact in Datalog syntax.
func (f Fact) String() string {
	args := make([]string, len(f.Args))
	for i, arg := range f.Args {
		switch v := arg.(type) {
		case string:
			args[i] = fmt.Sprintf("%q", v)
		default:
			args[i] = fmt.Sprintf("%v", v)
		}
	}
	return fmt.Sprintf("%s(%s).", f.Predicate, strings.Join(args, ", "))
}

// Engine evaluates the rule set over one trace at a time.
type Engine struct {
	mu        sync.RWMutex
	store     factstore.FactStore
	program   *analysis.ProgramInfo
	evaluated bool
}

func NewEngine() *Engine {
	return &Engine{store: factstore.NewSimpleInMemoryStore()}
}

// Load translates records into EDB facts and evaluates the rules to
// fixpoint. It replaces any previously loaded trace.
func (e *Engine) Load(records []trace.Record, meta map[string]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var sb strings.Builder
	for _, f := range recordFacts(records) {
		sb.WriteString(f.String())
		sb.WriteString("\n")
	}
	for key, value := range meta {
		sb.WriteString(Fact{Predicate: "trace_meta", Args: []interface{}{key, value}}.String())
		sb.WriteString("\n")
	}
	sb.WriteString(rules)

	parsed, err := parse.Unit(strings.NewReader(sb.String()))
	if err != nil {
		return fmt.Errorf("parse program: %w", err)
	}
	program, err := analysis.AnalyzeOneUnit(parsed, nil)
	if err != nil {
		return fmt.Errorf("analyze program: %w", err)
	}

	store := factstore.NewSimpleInMemoryStore()
	if _, err := engine.EvalProgramWithStats(program, store); err != nil {
		return fmt.Errorf("evaluate program: %w", err)
	}

	e.store = store
	e.program = program
	e.evaluated = true
	logging.Query("loaded %d records", len(records))
	return nil
}

// recordFacts maps records onto the EDB vocabulary. Every record gets
// a trace_record atom; value-bearing records additionally get
// trace_value, and condition-bearing ones trace_cond.
func recordFacts(records []trace.Record) []Fact {
	var facts []Fact
	for _, r := range records {
		facts = append(facts, Fact{
			Predicate: "trace_record",
			Args:      []interface{}{int64(r.ID), r.Type, r.Subject, int64(r.LineNumber)},
		})
		switch r.Type {
		case trace.TagDecl, trace.TagAssign, trace.TagRead, trace.TagUpdate:
			facts = append(facts, Fact{
				Predicate: "trace_value",
				Args:      []interface{}{int64(r.ID), r.Type, r.Subject, r.Value},
			})
		}
		if r.ConditionResult != nil {
			facts = append(facts, Fact{
				Predicate: "trace_cond",
				Args:      []interface{}{int64(r.ID), r.Condition, int64(*r.ConditionResult)},
			})
		}
	}
	return facts
}

// Query returns every fact of a predicate, EDB or derived.
func (e *Engine) Query(predicate string) ([]Fact, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.evaluated {
		return nil, fmt.Errorf("no trace loaded")
	}

	var results []Fact
	for pred := range e.program.Decls {
		if pred.Symbol != predicate {
			continue
		}
		err := e.store.GetFacts(ast.NewQuery(pred), func(a ast.Atom) error {
			results = append(results, atomToFact(a))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", predicate, err)
		}
		return results, nil
	}
	return nil, fmt.Errorf("unknown predicate %q", predicate)
}

// Predicates lists the queryable predicate names, derived ones
// included.
func (e *Engine) Predicates() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.evaluated {
		return nil
	}
	seen := make(map[string]struct{})
	for pred := range e.program.Decls {
		if strings.HasPrefix(pred.Symbol, ":") {
			continue
		}
		seen[pred.Symbol] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	return names
}

func atomToFact(a ast.Atom) Fact {
	args := make([]interface{}, len(a.Args))
	for i, term := range a.Args {
		args[i] = termValue(term)
	}
	return Fact{Predicate: a.Predicate.Symbol, Args: args}
}

func termValue(term ast.BaseTerm) interface{} {
	switch t := term.(type) {
	case ast.Constant:
		switch t.Type {
		case ast.NumberType:
			return t.NumValue
		case ast.Float64Type:
			return t.Float64Value
		default:
			return t.Symbol
		}
	default:
		return fmt.Sprintf("%v", term)
	}
}
