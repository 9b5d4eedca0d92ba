package trace

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func wire(fields ...string) string {
	return strings.Join(fields, Delimiter)
}

func TestDecodeValueRecords(t *testing.T) {
	raw := strings.Join([]string{
		wire("READ", "y", "5", "0x7ffd", "12", "1"),
		wire("DECL", "x", "6", "0x7ffe", "12", "1"),
		wire("ASSIGN", "x", "7", "0x7ffe", "14", "1"),
	}, "\n")

	d := NewDecoder()
	out := d.Decode(raw)

	if len(out.Failures) != 0 {
		t.Fatalf("unexpected failures: %+v", out.Failures)
	}
	if len(out.Records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(out.Records))
	}

	read := out.Records[0]
	if read.Type != TagRead || read.Subject != "y" || read.Value != "5" {
		t.Errorf("bad READ record: %+v", read)
	}
	if read.LineNumber != 12 || read.Depth() != 1 {
		t.Errorf("bad READ position: line=%d depth=%d", read.LineNumber, read.Depth())
	}

	// READ for y comes immediately before the DECL of x on the same line.
	if out.Records[1].Type != TagDecl || out.Records[1].LineNumber != 12 {
		t.Errorf("expected DECL on line 12 after READ, got %+v", out.Records[1])
	}

	for i, rec := range out.Records {
		if rec.ID != i {
			t.Errorf("record %d has id %d, ids must be sequential", i, rec.ID)
		}
	}
}

func TestDecodeIdempotent(t *testing.T) {
	raw := strings.Join([]string{
		wire("META", "file_name", "demo.c"),
		wire("CALL", "main", "1"),
		wire("DECL", "x", "5", "0x1", "3", "1"),
		wire("RETURN", "x", "5", "0x1", "4", "1"),
	}, "\n")

	d := NewDecoder()
	first := d.Decode(raw)
	second := d.Decode(raw)

	if diff := cmp.Diff(first.Records, second.Records); diff != "" {
		t.Errorf("decoding is not deterministic (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first.Metadata, second.Metadata); diff != "" {
		t.Errorf("metadata differs between decodes:\n%s", diff)
	}
}

func TestDecodeMeta(t *testing.T) {
	raw := strings.Join([]string{
		wire("META", "file_name", "demo.c"),
		wire("META", "language", "C"),
		wire("CALL", "main", "1"),
	}, "\n")

	out := NewDecoder().Decode(raw)

	if len(out.Records) != 1 {
		t.Fatalf("META lines must not become records, got %d records", len(out.Records))
	}
	if out.Metadata["file_name"] != "demo.c" || out.Metadata["language"] != "C" {
		t.Errorf("metadata not captured: %v", out.Metadata)
	}
	// META consumes no ids.
	if out.Records[0].ID != 0 {
		t.Errorf("first record should have id 0, got %d", out.Records[0].ID)
	}
}

func TestDecodeUnknownTagPreserved(t *testing.T) {
	raw := strings.Join([]string{
		wire("WIBBLE", "a", "b", "c"),
		wire("DECL", "x", "1", "", "2", "0"),
	}, "\n")

	out := NewDecoder().Decode(raw)

	if len(out.Records) != 2 {
		t.Fatalf("expected unknown line preserved plus DECL, got %d records", len(out.Records))
	}
	unknown := out.Records[0]
	if unknown.Type != TagUnknown {
		t.Fatalf("expected UNKNOWN record, got %s", unknown.Type)
	}
	if diff := cmp.Diff([]string{"WIBBLE", "a", "b", "c"}, unknown.Args); diff != "" {
		t.Errorf("UNKNOWN must keep all raw fields:\n%s", diff)
	}
	if out.Records[1].Type != TagDecl {
		t.Errorf("decoding must continue after an unknown tag")
	}
}

func TestDecodeMalformedLineReportedNotFatal(t *testing.T) {
	raw := strings.Join([]string{
		wire("DECL", "x", "1", "", "not-a-line", "0"),
		wire("ASSIGN", "x", "2", "", "5", "0"),
	}, "\n")

	out := NewDecoder().Decode(raw)

	if len(out.Failures) != 1 {
		t.Fatalf("expected 1 failure, got %+v", out.Failures)
	}
	if out.Failures[0].Line != 1 {
		t.Errorf("failure should point at line 1, got %d", out.Failures[0].Line)
	}
	if len(out.Records) != 1 || out.Records[0].Type != TagAssign {
		t.Fatalf("decoding must continue past the malformed line: %+v", out.Records)
	}
	// The surviving record still takes the first id.
	if out.Records[0].ID != 0 {
		t.Errorf("expected id 0 on surviving record, got %d", out.Records[0].ID)
	}
}

func TestDecodeCallArgs(t *testing.T) {
	out := NewDecoder().Decode(wire("CALL", "add", "3", "4", "2"))

	rec := out.Records[0]
	if rec.Subject != "add" || rec.Depth() != 2 {
		t.Fatalf("bad CALL record: %+v", rec)
	}
	if diff := cmp.Diff([]string{"3", "4"}, rec.Args); diff != "" {
		t.Errorf("CALL args wrong:\n%s", diff)
	}

	// No parameters: args absent entirely.
	out = NewDecoder().Decode(wire("CALL", "main", "1"))
	if out.Records[0].Args != nil {
		t.Errorf("parameterless CALL should carry no args, got %v", out.Records[0].Args)
	}
}

func TestDecodeReturnAddressZeroOmitted(t *testing.T) {
	out := NewDecoder().Decode(wire("RETURN", "literal", "42", "0", "7", "1"))

	rec := out.Records[0]
	if rec.Subtype != "literal" || rec.Value != "42" {
		t.Fatalf("bad RETURN record: %+v", rec)
	}
	if rec.Address != "" {
		t.Errorf("literal return address should be omitted, got %q", rec.Address)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "address") {
		t.Errorf("marshaled RETURN should drop the empty address: %s", data)
	}
}

func TestDecodeBooleanConditionValues(t *testing.T) {
	raw := strings.Join([]string{
		wire("CONDITION", "x > 0", "True", "4", "1"),
		wire("LOOP", "while", "n < 10", "false", "6", "1"),
		wire("TERNARY", "a > b", "1", "8", "2"),
	}, "\n")

	out := NewDecoder().Decode(raw)
	if len(out.Failures) != 0 {
		t.Fatalf("boolean literals must parse: %+v", out.Failures)
	}
	if got := *out.Records[0].ConditionResult; got != 1 {
		t.Errorf("True should coerce to 1, got %d", got)
	}
	if got := *out.Records[1].ConditionResult; got != 0 {
		t.Errorf("false should coerce to 0, got %d", got)
	}
	if got := *out.Records[2].ConditionResult; got != 1 {
		t.Errorf("numeric condition should parse, got %d", got)
	}
}

func TestDecodeDepthZeroSurvivesJSON(t *testing.T) {
	out := NewDecoder().Decode(wire("ASSIGN", "x", "1", "", "3", "0"))

	data, err := json.Marshal(out.Records[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"stack_depth":0`) {
		t.Errorf("module-level depth 0 must serialize explicitly: %s", data)
	}
}

func TestDecodeEmptyInput(t *testing.T) {
	out := NewDecoder().Decode("")
	if len(out.Records) != 0 || len(out.Failures) != 0 {
		t.Errorf("empty input should decode to nothing: %+v", out)
	}
}
