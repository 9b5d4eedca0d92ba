// Package trace decodes the raw output of an instrumented program into
// typed records plus a metadata mapping. One logical record occupies one
// output line; fields are joined by a NUL byte, which cannot appear in
// ordinary program output.
package trace

// Record type tags, the first field of every wire line.
const (
	TagMeta         = "META"
	TagCall         = "CALL"
	TagExternalCall = "EXTERNAL_CALL"
	TagParam        = "PARAM"
	TagDecl         = "DECL"
	TagAssign       = "ASSIGN"
	TagRead         = "READ"
	TagUpdate       = "UPDATE"
	TagReturn       = "RETURN"
	TagLoop         = "LOOP"
	TagBranch       = "BRANCH"
	TagCondition    = "CONDITION"
	TagSwitch       = "SWITCH"
	TagCase         = "CASE"
	TagTernary      = "TERNARY"
	TagUnknown      = "UNKNOWN"
)

// Record is one decoded trace event. A single struct carries the union
// of every tag's fields; optional fields are omitted from JSON so each
// tag serializes with exactly its own layout. Records are never mutated
// after the decoder constructs them.
type Record struct {
	Type string `json:"type"`

	// ID is the strictly increasing sequence number assigned in decode
	// order. META lines never become records, so they consume no ids.
	ID int `json:"id"`

	// Subject is the variable, function, condition, or discriminant
	// the record is about.
	Subject string `json:"subject,omitempty"`

	// Subtype refines the tag: the loop/branch kind, or "literal"
	// versus a variable name for RETURN.
	Subtype string `json:"subtype,omitempty"`

	Value    string `json:"value,omitempty"`
	Address  string `json:"address,omitempty"`
	Operator string `json:"operator,omitempty"`
	Label    string `json:"label,omitempty"`

	Condition string `json:"condition,omitempty"`

	// ConditionResult is the evaluated condition as an integer (0/1 for
	// booleans). A pointer keeps a legitimate zero distinct from absent.
	ConditionResult *int `json:"condition_result,omitempty"`

	// LineNumber is the 1-based source line the event originated from.
	LineNumber int `json:"line_number,omitempty"`

	// StackDepth is the live call-nesting counter at emission time. A
	// pointer keeps depth zero (module-level statements) distinct from
	// records that carry no depth at all.
	StackDepth *int `json:"stack_depth,omitempty"`

	// Args holds CALL parameter values, or every raw field of an
	// UNKNOWN record.
	Args []string `json:"args,omitempty"`
}

// Depth returns the stack depth, or -1 when the record carries none.
func (r *Record) Depth() int {
	if r.StackDepth == nil {
		return -1
	}
	return *r.StackDepth
}

func intPtr(v int) *int { return &v }
