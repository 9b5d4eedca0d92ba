package lang

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSymbolTable(t *testing.T) {
	table := NewSymbolTable()
	assert.Equal(t, 0, table.Len())
	assert.False(t, table.Has("x"))
	assert.Equal(t, "int", table.TypeOf("x", "int"), "fallback for unknown names")

	table.Register("x", "int")
	table.Register("s", "char *")
	table.Register("x", "double")

	assert.Equal(t, 2, table.Len())
	assert.True(t, table.Has("x"))
	assert.Equal(t, "double", table.TypeOf("x", "int"), "later registration wins")
	assert.Equal(t, "char *", table.TypeOf("s", "int"))
}

func TestCFormatFor(t *testing.T) {
	cases := []struct {
		typeName string
		want     string
	}{
		{"int", "%d"},
		{"unsigned int", "%d"},
		{"float", "%f"},
		{"double", "%lf"},
		{"char", "%c"},
		{"long", "%ld"},
		{"char *", "%s"},
		{"char[8]", "%s"},
		{"int *", "%p"},
		{"int[4]", "%p"},
		{"size_t", "%d"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, cFormatFor(tc.typeName), "type %s", tc.typeName)
	}
}
