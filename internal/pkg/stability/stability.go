// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package stability estimates, from a Poisson model of package update
// frequency, the probability that a component's contents survive
// unchanged to the next rebuild.
package stability

import "math"

const (
	LookbackDays = 365
	PeriodDays   = 7
	SecsPerDay   = 86400
)

// saturatingSub returns a-b, clamped to 0 instead of underflowing for
// unsigned subtraction.
func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// Calculate returns a stability score in [0, 1] from a package's
// changelog timestamps, its build time, and the current time, all as
// seconds since the Unix epoch.
func Calculate(changelogTimes []uint64, buildtime, now uint64) float64 {
	lookbackStart := saturatingSub(now, uint64(LookbackDays)*SecsPerDay)

	relevant := changelogTimes
	if len(relevant) == 0 {
		relevant = []uint64{buildtime}
	}

	var filtered []uint64
	for _, t := range relevant {
		if t >= lookbackStart {
			filtered = append(filtered, t)
		}
	}

	if len(filtered) == 0 {
		// Everything is older than the lookback window: no changes in the
		// past year, so treat it as very stable.
		return 0.99
	}

	oldest := filtered[0]
	for _, t := range filtered[1:] {
		if t < oldest {
			oldest = t
		}
	}

	spanDays := float64(saturatingSub(now, oldest)) / SecsPerDay
	if spanDays < 1.0 {
		return 0.0
	}

	numChanges := float64(len(filtered))
	lambda := numChanges / spanDays

	return math.Exp(-lambda * PeriodDays)
}
