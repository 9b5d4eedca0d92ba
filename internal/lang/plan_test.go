package lang

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestPlanRenderOrdering(t *testing.T) {
	p := NewInsertionPlan()
	lines := []string{"a", "b", "c"}

	p.AddBefore(1, "pre-b-1")
	p.AddBefore(1, "pre-b-2")
	p.AddAfter(1, "post-b")
	p.AddAfter(2, "post-c")

	got := strings.Split(p.Render(lines), "\n")
	want := []string{"a", "pre-b-1", "pre-b-2", "b", "post-b", "c", "post-c"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("render mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanPrologueComesFirst(t *testing.T) {
	p := NewInsertionPlan()
	p.AddBefore(0, "probe")

	got := strings.Split(p.Render([]string{"x"}, "counter = 0"), "\n")
	want := []string{"counter = 0", "probe", "x"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("render mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanEmpty(t *testing.T) {
	p := NewInsertionPlan()
	assert.True(t, p.Empty())
	p.AddAfter(0, "x")
	assert.False(t, p.Empty())
}

func TestPlanOutOfRangeLinesIgnored(t *testing.T) {
	p := NewInsertionPlan()
	p.AddBefore(99, "never")

	got := p.Render([]string{"only"})
	assert.Equal(t, "only", got)
}
