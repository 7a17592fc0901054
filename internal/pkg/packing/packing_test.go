// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package packing

import (
	"sort"
	"testing"
)

// verifyPackingResult checks invariants that must hold for any valid
// packing result, regardless of the greedy algorithm's specific choices.
func verifyPackingResult(t *testing.T, input []Item, result []Group, maxGroups int) {
	t.Helper()

	if len(result) > maxGroups {
		t.Errorf("too many groups: %d > %d", len(result), maxGroups)
	}

	var outputIndices []int
	for _, g := range result {
		if len(g.Indices) == 0 {
			t.Error("found empty group")
		}
		outputIndices = append(outputIndices, g.Indices...)
	}
	sort.Ints(outputIndices)

	expected := make([]int, len(input))
	for i := range input {
		expected[i] = i
	}
	if !intSlicesEqual(outputIndices, expected) {
		t.Errorf("indices mismatch: got %v, want %v", outputIndices, expected)
	}

	for i := 1; i < len(result); i++ {
		if result[i-1].Stability < result[i].Stability {
			t.Errorf("groups not sorted by stability descending: %v", stabilities(result))
		}
	}

	var inputTotal, outputTotal uint64
	for _, it := range input {
		inputTotal += it.Size
	}
	for _, g := range result {
		for _, idx := range g.Indices {
			outputTotal += input[idx].Size
		}
	}
	if inputTotal != outputTotal {
		t.Errorf("total size mismatch: input=%d output=%d", inputTotal, outputTotal)
	}
}

func intSlicesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func stabilities(groups []Group) []float64 {
	out := make([]float64, len(groups))
	for i, g := range groups {
		out[i] = g.Stability
	}
	return out
}

func containsIndex(g Group, idx int) bool {
	for _, i := range g.Indices {
		if i == idx {
			return true
		}
	}
	return false
}

func TestPackingEdgeCases(t *testing.T) {
	if got := Calculate(nil, 5); len(got) != 0 {
		t.Errorf("expected empty result for empty input, got %v", got)
	}

	single := []Item{{Size: 100, Stability: 0.5}}
	if got := Calculate(single, 0); len(got) != 0 {
		t.Errorf("expected empty result for maxGroups=0, got %v", got)
	}

	result := Calculate(single, 5)
	if len(result) != 1 || len(result[0].Indices) != 1 || result[0].Indices[0] != 0 {
		t.Fatalf("unexpected single-item result: %+v", result)
	}
	verifyPackingResult(t, single, result, 5)
}

func TestPackingNoPackingNeeded(t *testing.T) {
	items := []Item{
		{Size: 100, Stability: 0.9},
		{Size: 200, Stability: 0.8},
		{Size: 300, Stability: 0.7},
	}
	result := Calculate(items, 5)
	if len(result) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(result))
	}
	if result[0].Indices[0] != 0 || result[1].Indices[0] != 1 || result[2].Indices[0] != 2 {
		t.Errorf("expected groups sorted by stability descending in original order, got %+v", result)
	}
	verifyPackingResult(t, items, result, 5)
}

func TestPackingToOneGroup(t *testing.T) {
	items := []Item{
		{Size: 100, Stability: 0.5},
		{Size: 200, Stability: 0.5},
		{Size: 300, Stability: 0.5},
	}
	result := Calculate(items, 1)
	if len(result) != 1 || len(result[0].Indices) != 3 {
		t.Fatalf("expected a single group of 3, got %+v", result)
	}
	for _, idx := range []int{0, 1, 2} {
		if !containsIndex(result[0], idx) {
			t.Errorf("expected group to contain index %d", idx)
		}
	}
	verifyPackingResult(t, items, result, 1)
}

func TestPackingSizeConstantStabilityChanges(t *testing.T) {
	items := []Item{
		{Size: 1000, Stability: 0.99},
		{Size: 1000, Stability: 0.99},
		{Size: 1000, Stability: 0.3},
	}
	result := Calculate(items, 2)
	if len(result) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(result))
	}

	var merged *Group
	for i := range result {
		if len(result[i].Indices) == 2 {
			merged = &result[i]
		}
	}
	if merged == nil {
		t.Fatal("expected one group with 2 items")
	}
	if !containsIndex(*merged, 0) || !containsIndex(*merged, 1) {
		t.Errorf("expected the two stable items (0,1) to merge, got %v", merged.Indices)
	}
	verifyPackingResult(t, items, result, 2)
}

func TestPackingStabilityConstantSizeChanges(t *testing.T) {
	items := []Item{
		{Size: 10000, Stability: 0.5},
		{Size: 10, Stability: 0.5},
		{Size: 10, Stability: 0.5},
	}
	result := Calculate(items, 2)
	if len(result) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(result))
	}

	var hugeGroup, smallGroup *Group
	for i := range result {
		if containsIndex(result[i], 0) {
			hugeGroup = &result[i]
		}
		if containsIndex(result[i], 1) {
			smallGroup = &result[i]
		}
	}
	if hugeGroup == nil || len(hugeGroup.Indices) != 1 {
		t.Errorf("expected the huge item to stand alone, got %+v", hugeGroup)
	}
	if smallGroup == nil || !containsIndex(*smallGroup, 2) {
		t.Errorf("expected the two small items to merge, got %+v", smallGroup)
	}
	verifyPackingResult(t, items, result, 2)
}
