// Package changeplan computes the minimal create/delete set that turns one
// collection into another. It is used for tag columns and association
// matrices, where the stored state is a set of links.
package changeplan

// Plan is the result of diffing a current collection against a desired one.
// It is never stored; recompute it on every commit.
type Plan[T any] struct {
	Create       []T `json:"create"`
	Delete       []T `json:"delete"`
	DesiredState []T `json:"desiredState"`
}

// Empty reports whether applying the plan would change nothing
func (p Plan[T]) Empty() bool {
	return len(p.Create) == 0 && len(p.Delete) == 0
}

// Compute diffs current against desired under equals.
//
// Create holds the desired elements with no match in current, in desired
// order. Desired is deduplicated first so a repeated element is created once.
// Delete holds the current elements with no match in desired, in current
// order. DesiredState is a copy of desired.
func Compute[T any](current, desired []T, equals func(a, b T) bool) Plan[T] {
	plan := Plan[T]{
		Create:       make([]T, 0),
		Delete:       make([]T, 0),
		DesiredState: make([]T, len(desired)),
	}
	copy(plan.DesiredState, desired)

	for _, d := range dedupe(desired, equals) {
		if !contains(current, d, equals) {
			plan.Create = append(plan.Create, d)
		}
	}
	for _, c := range current {
		if !contains(desired, c, equals) {
			plan.Delete = append(plan.Delete, c)
		}
	}
	return plan
}

// Comparable is Compute with == as the equality
func Comparable[T comparable](current, desired []T) Plan[T] {
	return Compute(current, desired, func(a, b T) bool { return a == b })
}

// Pair is one cell of an association matrix: a row linked to a related id
type Pair struct {
	Row     string `json:"row"`
	Related string `json:"related"`
}

// Pairs diffs two sets of matrix cells
func Pairs(current, desired []Pair) Plan[Pair] {
	return Comparable(current, desired)
}

// GroupByRow splits a pair plan's creates and deletes per row, preserving
// first-seen row order.
func GroupByRow(plan Plan[Pair]) (rows []string, create, remove map[string][]string) {
	create = make(map[string][]string)
	remove = make(map[string][]string)
	seen := make(map[string]bool)
	note := func(row string) {
		if !seen[row] {
			seen[row] = true
			rows = append(rows, row)
		}
	}
	for _, p := range plan.Delete {
		note(p.Row)
		remove[p.Row] = append(remove[p.Row], p.Related)
	}
	for _, p := range plan.Create {
		note(p.Row)
		create[p.Row] = append(create[p.Row], p.Related)
	}
	return rows, create, remove
}

func dedupe[T any](items []T, equals func(a, b T) bool) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if !contains(out, item, equals) {
			out = append(out, item)
		}
	}
	return out
}

func contains[T any](items []T, item T, equals func(a, b T) bool) bool {
	for _, candidate := range items {
		if equals(candidate, item) {
			return true
		}
	}
	return false
}
