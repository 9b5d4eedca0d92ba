package trace

import (
	"fmt"
	"strconv"
	"strings"

	"codetrace/internal/logging"
)

// Delimiter separates fields within one wire line.
const Delimiter = "\x00"

// LineError records one raw line the decoder could not turn into a
// record. The line index is 1-based over the raw input.
type LineError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// Decoded is the result of one Decode call.
type Decoded struct {
	Records  []Record
	Metadata map[string]string
	Failures []LineError
}

// builder turns the fields after the tag into a record. Builders are
// fallible parses; they never panic on short or malformed input.
type builder func(fields []string) (Record, error)

// Decoder translates raw instrumented-program output into records. A
// decoder is stateless between calls and safe for concurrent use.
type Decoder struct {
	builders map[string]builder
}

func NewDecoder() *Decoder {
	return &Decoder{builders: map[string]builder{
		TagCall:         buildCall,
		TagExternalCall: buildExternalCall,
		TagParam:        buildParam,
		TagDecl:         buildValueRecord(TagDecl),
		TagAssign:       buildValueRecord(TagAssign),
		TagRead:         buildValueRecord(TagRead),
		TagUpdate:       buildUpdate,
		TagReturn:       buildReturn,
		TagLoop:         buildLoop,
		TagBranch:       buildBranch,
		TagCondition:    buildCondition,
		TagSwitch:       buildSwitch,
		TagCase:         buildCase,
		TagTernary:      buildTernary,
	}}
}

// Decode splits raw output into lines and each line into fields,
// dispatching on the leading tag. Malformed lines are reported in
// Failures and skipped; decoding always continues to the end of the
// input, so the same raw text decodes to the same records every time.
func (d *Decoder) Decode(raw string) *Decoded {
	out := &Decoded{Metadata: make(map[string]string)}
	nextID := 0

	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, Delimiter)
		tag := fields[0]

		if tag == TagMeta {
			if len(fields) < 3 {
				out.fail(i+1, fmt.Errorf("META needs a key and a value, got %d fields", len(fields)-1))
				continue
			}
			out.Metadata[fields[1]] = fields[2]
			continue
		}

		build, known := d.builders[tag]
		if !known {
			// Unrecognized tags are preserved rather than dropped.
			out.append(&nextID, Record{Type: TagUnknown, Args: fields})
			continue
		}
		rec, err := build(fields[1:])
		if err != nil {
			out.fail(i+1, fmt.Errorf("%s: %w", tag, err))
			continue
		}
		out.append(&nextID, rec)
	}

	logging.DecodeDebug("decoded %d records, %d metadata entries, %d failed lines",
		len(out.Records), len(out.Metadata), len(out.Failures))
	return out
}

func (out *Decoded) append(nextID *int, rec Record) {
	rec.ID = *nextID
	*nextID++
	out.Records = append(out.Records, rec)
}

func (out *Decoded) fail(line int, err error) {
	out.Failures = append(out.Failures, LineError{Line: line, Message: err.Error()})
	logging.DecodeWarn("line %d: %v", line, err)
}

func needFields(fields []string, n int) error {
	if len(fields) < n {
		return fmt.Errorf("need %d fields, got %d", n, len(fields))
	}
	return nil
}

func parseInt(field, name string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(field))
	if err != nil {
		return 0, fmt.Errorf("%s %q is not an integer", name, field)
	}
	return v, nil
}

// parseTruthy coerces an evaluated condition to an integer. C emits
// ints directly; Python and Go emit their boolean literals.
func parseTruthy(field string) (int, error) {
	switch strings.TrimSpace(field) {
	case "True", "true":
		return 1, nil
	case "False", "false":
		return 0, nil
	}
	return parseInt(field, "condition value")
}

func buildCall(fields []string) (Record, error) {
	// name, [param-value]*, depth
	if err := needFields(fields, 2); err != nil {
		return Record{}, err
	}
	depth, err := parseInt(fields[len(fields)-1], "depth")
	if err != nil {
		return Record{}, err
	}
	rec := Record{Type: TagCall, Subject: fields[0], StackDepth: intPtr(depth)}
	if params := fields[1 : len(fields)-1]; len(params) > 0 {
		rec.Args = params
	}
	return rec, nil
}

func buildExternalCall(fields []string) (Record, error) {
	// name, line, depth
	if err := needFields(fields, 3); err != nil {
		return Record{}, err
	}
	line, err := parseInt(fields[1], "line")
	if err != nil {
		return Record{}, err
	}
	depth, err := parseInt(fields[2], "depth")
	if err != nil {
		return Record{}, err
	}
	return Record{Type: TagExternalCall, Subject: fields[0], LineNumber: line, StackDepth: intPtr(depth)}, nil
}

func buildParam(fields []string) (Record, error) {
	// name, value, line
	if err := needFields(fields, 3); err != nil {
		return Record{}, err
	}
	line, err := parseInt(fields[2], "line")
	if err != nil {
		return Record{}, err
	}
	return Record{Type: TagParam, Subject: fields[0], Value: fields[1], LineNumber: line}, nil
}

// buildValueRecord covers DECL, ASSIGN, and READ, which share a layout.
func buildValueRecord(tag string) builder {
	return func(fields []string) (Record, error) {
		// name, value, address-or-empty, line, depth
		if err := needFields(fields, 5); err != nil {
			return Record{}, err
		}
		line, err := parseInt(fields[3], "line")
		if err != nil {
			return Record{}, err
		}
		depth, err := parseInt(fields[4], "depth")
		if err != nil {
			return Record{}, err
		}
		return Record{
			Type:       tag,
			Subject:    fields[0],
			Value:      fields[1],
			Address:    fields[2],
			LineNumber: line,
			StackDepth: intPtr(depth),
		}, nil
	}
}

func buildUpdate(fields []string) (Record, error) {
	// name, operator, value, address, line, depth
	if err := needFields(fields, 6); err != nil {
		return Record{}, err
	}
	line, err := parseInt(fields[4], "line")
	if err != nil {
		return Record{}, err
	}
	depth, err := parseInt(fields[5], "depth")
	if err != nil {
		return Record{}, err
	}
	return Record{
		Type:       TagUpdate,
		Subject:    fields[0],
		Operator:   fields[1],
		Value:      fields[2],
		Address:    fields[3],
		LineNumber: line,
		StackDepth: intPtr(depth),
	}, nil
}

func buildReturn(fields []string) (Record, error) {
	// subtype, value, address-or-"0", line, depth
	if err := needFields(fields, 5); err != nil {
		return Record{}, err
	}
	line, err := parseInt(fields[3], "line")
	if err != nil {
		return Record{}, err
	}
	depth, err := parseInt(fields[4], "depth")
	if err != nil {
		return Record{}, err
	}
	address := fields[2]
	if address == "0" {
		address = ""
	}
	return Record{
		Type:       TagReturn,
		Subtype:    fields[0],
		Value:      fields[1],
		Address:    address,
		LineNumber: line,
		StackDepth: intPtr(depth),
	}, nil
}

func buildLoop(fields []string) (Record, error) {
	// kind, condition-text, condition-value-or-empty, line, depth
	if err := needFields(fields, 5); err != nil {
		return Record{}, err
	}
	line, err := parseInt(fields[3], "line")
	if err != nil {
		return Record{}, err
	}
	depth, err := parseInt(fields[4], "depth")
	if err != nil {
		return Record{}, err
	}
	rec := Record{
		Type:       TagLoop,
		Subtype:    fields[0],
		Condition:  fields[1],
		LineNumber: line,
		StackDepth: intPtr(depth),
	}
	if fields[2] != "" {
		v, err := parseTruthy(fields[2])
		if err != nil {
			return Record{}, err
		}
		rec.ConditionResult = intPtr(v)
	}
	return rec, nil
}

func buildBranch(fields []string) (Record, error) {
	// kind, condition-text, line, depth
	if err := needFields(fields, 4); err != nil {
		return Record{}, err
	}
	line, err := parseInt(fields[2], "line")
	if err != nil {
		return Record{}, err
	}
	depth, err := parseInt(fields[3], "depth")
	if err != nil {
		return Record{}, err
	}
	return Record{
		Type:       TagBranch,
		Subtype:    fields[0],
		Condition:  fields[1],
		LineNumber: line,
		StackDepth: intPtr(depth),
	}, nil
}

func buildCondition(fields []string) (Record, error) {
	// condition-text, condition-value, line, depth
	if err := needFields(fields, 4); err != nil {
		return Record{}, err
	}
	v, err := parseTruthy(fields[1])
	if err != nil {
		return Record{}, err
	}
	line, err := parseInt(fields[2], "line")
	if err != nil {
		return Record{}, err
	}
	depth, err := parseInt(fields[3], "depth")
	if err != nil {
		return Record{}, err
	}
	return Record{
		Type:            TagCondition,
		Subject:         fields[0],
		ConditionResult: intPtr(v),
		LineNumber:      line,
		StackDepth:      intPtr(depth),
	}, nil
}

func buildSwitch(fields []string) (Record, error) {
	// discriminant-text, value, line, depth
	if err := needFields(fields, 4); err != nil {
		return Record{}, err
	}
	line, err := parseInt(fields[2], "line")
	if err != nil {
		return Record{}, err
	}
	depth, err := parseInt(fields[3], "depth")
	if err != nil {
		return Record{}, err
	}
	return Record{
		Type:       TagSwitch,
		Subject:    fields[0],
		Value:      fields[1],
		LineNumber: line,
		StackDepth: intPtr(depth),
	}, nil
}

func buildCase(fields []string) (Record, error) {
	// label-or-"default", line, depth
	if err := needFields(fields, 3); err != nil {
		return Record{}, err
	}
	line, err := parseInt(fields[1], "line")
	if err != nil {
		return Record{}, err
	}
	depth, err := parseInt(fields[2], "depth")
	if err != nil {
		return Record{}, err
	}
	return Record{
		Type:       TagCase,
		Label:      fields[0],
		LineNumber: line,
		StackDepth: intPtr(depth),
	}, nil
}

func buildTernary(fields []string) (Record, error) {
	// condition-text, condition-value, line, depth
	if err := needFields(fields, 4); err != nil {
		return Record{}, err
	}
	v, err := parseTruthy(fields[1])
	if err != nil {
		return Record{}, err
	}
	line, err := parseInt(fields[2], "line")
	if err != nil {
		return Record{}, err
	}
	depth, err := parseInt(fields[3], "depth")
	if err != nil {
		return Record{}, err
	}
	return Record{
		Type:            TagTernary,
		Subject:         fields[0],
		ConditionResult: intPtr(v),
		LineNumber:      line,
		StackDepth:      intPtr(depth),
	}, nil
}
