// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package goarch normalizes architecture strings to the values OCI image
// configs expect, falling back to the host architecture when none is
// supplied.
package goarch

import "runtime"

// Normalize translates arch to its OCI/Go equivalent. An empty arch falls
// back to the host's runtime.GOARCH. Unrecognized values pass through
// unchanged, so that an already-normalized arch (or a future one this
// table doesn't know about yet) is never rejected.
func Normalize(arch string) string {
	if arch == "" {
		arch = runtime.GOARCH
	}
	switch arch {
	case "x86_64":
		return "amd64"
	case "aarch64":
		return "arm64"
	case "powerpc64":
		return "ppc64le"
	default:
		return arch
	}
}
