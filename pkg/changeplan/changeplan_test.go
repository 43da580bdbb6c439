package changeplan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComparable(t *testing.T) {
	tests := []struct {
		name    string
		current []int
		desired []int
		create  []int
		delete  []int
	}{
		{"identity", []int{1, 2, 3}, []int{1, 2, 3}, []int{}, []int{}},
		{"shift", []int{1, 2, 3}, []int{2, 3, 4}, []int{4}, []int{1}},
		{"from empty", nil, []int{5, 6}, []int{5, 6}, []int{}},
		{"to empty", []int{5, 6}, nil, []int{}, []int{5, 6}},
		{"desired order kept", []int{}, []int{3, 1, 2}, []int{3, 1, 2}, []int{}},
		{"current order kept", []int{9, 1, 5}, []int{}, []int{}, []int{9, 1, 5}},
		{"duplicates created once", []int{1}, []int{2, 2, 1, 2}, []int{2}, []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := Comparable(tt.current, tt.desired)
			assert.Equal(t, tt.create, plan.Create)
			assert.Equal(t, tt.delete, plan.Delete)
			assert.Len(t, plan.DesiredState, len(tt.desired))
		})
	}
}

func TestIdentityIsEmpty(t *testing.T) {
	a := []string{"x", "y", "z"}
	plan := Comparable(a, a)
	assert.True(t, plan.Empty())
	assert.Equal(t, a, plan.DesiredState)
}

func TestCreateAndDeleteAreDisjoint(t *testing.T) {
	plan := Comparable([]string{"a", "b", "c"}, []string{"c", "d", "a", "e"})
	for _, c := range plan.Create {
		assert.NotContains(t, plan.Delete, c)
	}
	assert.Equal(t, []string{"d", "e"}, plan.Create)
	assert.Equal(t, []string{"b"}, plan.Delete)
}

func TestDesiredStateIsACopy(t *testing.T) {
	desired := []string{"a", "b"}
	plan := Comparable(nil, desired)
	desired[0] = "mutated"
	assert.Equal(t, []string{"a", "b"}, plan.DesiredState)
}

func TestComputeCustomEquality(t *testing.T) {
	fold := func(a, b string) bool { return strings.EqualFold(a, b) }
	plan := Compute([]string{"Go", "Rust"}, []string{"go", "ZIG", "zig"}, fold)
	assert.Equal(t, []string{"ZIG"}, plan.Create)
	assert.Equal(t, []string{"Rust"}, plan.Delete)
}

func TestComputeIsIdempotent(t *testing.T) {
	current := []int{1, 2, 3}
	desired := []int{3, 4}
	first := Comparable(current, desired)
	second := Comparable(current, desired)
	assert.Equal(t, first, second)
}

func TestPairsGroupByRow(t *testing.T) {
	current := []Pair{{"admin", "events.edit"}, {"admin", "tags.edit"}, {"editor", "events.edit"}}
	desired := []Pair{{"admin", "events.edit"}, {"editor", "events.edit"}, {"editor", "tags.edit"}}

	plan := Pairs(current, desired)
	assert.Equal(t, []Pair{{"editor", "tags.edit"}}, plan.Create)
	assert.Equal(t, []Pair{{"admin", "tags.edit"}}, plan.Delete)

	rows, create, remove := GroupByRow(plan)
	assert.Equal(t, []string{"admin", "editor"}, rows)
	assert.Equal(t, []string{"tags.edit"}, create["editor"])
	assert.Equal(t, []string{"tags.edit"}, remove["admin"])
}
