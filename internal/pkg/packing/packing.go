// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package packing implements a greedy agglomerative clustering algorithm
// that merges N components into at most K groups, minimizing the total
// expected-value loss from merging. A group's expected value is its
// total size times the product of its members' stabilities: the
// expected number of bytes that survive unchanged to the next rebuild.
package packing

import (
	"container/heap"
	"sort"
)

// Item is a single packing input: one component's size and stability.
type Item struct {
	Size      uint64
	Stability float64
}

// Group is a packing output: the input indices merged into one layer,
// plus the group's total size and combined (product) stability.
type Group struct {
	Indices   []int
	Size      uint64
	Stability float64
}

func (g Group) expectedValue() float64 {
	return float64(g.Size) * g.Stability
}

// Calculate packs items into at most maxGroups groups, returned sorted
// by stability descending. Callers MUST sort items by a stable key
// (component name) before calling, since equal-loss merges are resolved
// only by input order, per the determinism contract.
func Calculate(items []Item, maxGroups int) []Group {
	if len(items) == 0 || maxGroups == 0 {
		return nil
	}

	n := len(items)

	if n <= maxGroups {
		result := make([]Group, n)
		for i, it := range items {
			result[i] = Group{Indices: []int{i}, Size: it.Size, Stability: it.Stability}
		}
		sortByStabilityDesc(result)
		return result
	}

	groups := make([]*Group, n, n*2)
	for i, it := range items {
		groups[i] = &Group{Indices: []int{i}, Size: it.Size, Stability: it.Stability}
	}
	activeCount := n

	pq := &mergeHeap{}
	heap.Init(pq)

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			loss := mergeLoss(*groups[i], *groups[j])
			heap.Push(pq, mergeCandidate{loss: loss, a: i, b: j})
		}
	}

	for activeCount > maxGroups {
		if pq.Len() == 0 {
			break
		}
		cand := heap.Pop(pq).(mergeCandidate)

		if groups[cand.a] == nil || groups[cand.b] == nil {
			continue
		}

		ga, gb := groups[cand.a], groups[cand.b]
		groups[cand.a], groups[cand.b] = nil, nil

		newIndices := append(append([]int(nil), ga.Indices...), gb.Indices...)
		newGroup := &Group{
			Indices:   newIndices,
			Size:      ga.Size + gb.Size,
			Stability: ga.Stability * gb.Stability,
		}
		newID := len(groups)
		groups = append(groups, newGroup)
		activeCount--

		for otherID, other := range groups {
			if otherID == newID || other == nil {
				continue
			}
			loss := mergeLoss(*newGroup, *other)
			heap.Push(pq, mergeCandidate{loss: loss, a: newID, b: otherID})
		}
	}

	var result []Group
	for _, g := range groups {
		if g != nil {
			result = append(result, *g)
		}
	}
	sortByStabilityDesc(result)
	return result
}

func sortByStabilityDesc(groups []Group) {
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Stability > groups[j].Stability
	})
}

func mergeLoss(a, b Group) float64 {
	evSeparate := a.expectedValue() + b.expectedValue()

	combinedSize := float64(a.Size + b.Size)
	combinedProb := a.Stability * b.Stability
	evMerged := combinedSize * combinedProb

	return evSeparate - evMerged
}

// mergeCandidate is a potential merge stored in the min-heap, ordered by
// ascending loss (the smallest-loss merge is popped first).
type mergeCandidate struct {
	loss float64
	a, b int
}

type mergeHeap []mergeCandidate

func (h mergeHeap) Len() int            { return len(h) }
func (h mergeHeap) Less(i, j int) bool  { return h[i].loss < h[j].loss }
func (h mergeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(mergeCandidate)) }
func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
