// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package stability

import (
	"math"
	"testing"
	"time"
)

func nowSecs() uint64 {
	return uint64(time.Now().Unix())
}

func assertInRange(t *testing.T, got, lo, hi float64) {
	t.Helper()
	if got < lo || got > hi {
		t.Errorf("stability %v not in range [%v, %v]", got, lo, hi)
	}
}

func TestCalculateStabilityAllOldEntries(t *testing.T) {
	now := nowSecs()
	oldTime := now - 400*SecsPerDay
	got := Calculate([]uint64{oldTime, oldTime - SecsPerDay}, oldTime, now)
	if got != 0.99 {
		t.Errorf("got %v, want 0.99", got)
	}
}

func TestCalculateStabilityVeryRecent(t *testing.T) {
	now := nowSecs()
	recent := now - 3600
	got := Calculate([]uint64{recent}, recent, now)
	if got != 0.0 {
		t.Errorf("got %v, want 0.0", got)
	}
}

func TestCalculateStabilityNoChangelogUsesBuildtime(t *testing.T) {
	now := nowSecs()
	buildtime := now - 30*SecsPerDay
	got := Calculate(nil, buildtime, now)
	assertInRange(t, got, 0.75, 0.85)
}

func TestCalculateStabilityNormalCase(t *testing.T) {
	now := nowSecs()
	changelog := []uint64{
		now - 10*SecsPerDay,
		now - 30*SecsPerDay,
		now - 60*SecsPerDay,
		now - 100*SecsPerDay,
	}
	buildtime := now - 100*SecsPerDay
	got := Calculate(changelog, buildtime, now)
	assertInRange(t, got, 0.70, 0.80)
}

func TestCalculateStabilityHighFrequency(t *testing.T) {
	now := nowSecs()
	var changelog []uint64
	for i := uint64(0); i < 10; i++ {
		changelog = append(changelog, now-(2+i*2)*SecsPerDay)
	}
	buildtime := now - 20*SecsPerDay
	got := Calculate(changelog, buildtime, now)
	assertInRange(t, got, 0.0, 0.10)
}

func TestCalculateStabilityAlwaysInUnitRange(t *testing.T) {
	now := nowSecs()
	cases := []struct {
		changelog []uint64
		buildtime uint64
	}{
		{nil, 0},
		{nil, now + 10000}, // clock anomaly: buildtime in the future
		{[]uint64{now}, now},
		{[]uint64{0, now}, now},
	}
	for _, c := range cases {
		got := Calculate(c.changelog, c.buildtime, now)
		if math.IsNaN(got) || got < 0.0 || got > 1.0 {
			t.Errorf("Calculate(%v, %v, %v) = %v, not in [0,1]", c.changelog, c.buildtime, now, got)
		}
	}
}
