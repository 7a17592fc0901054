// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package cmdline provides a thin registration layer on top of cobra/pflag
// that lets every flag also be set via one or more environment variables.
package cmdline

// Flag holds the definition of a command flag, to be registered on one or
// more cobra commands via a CommandManager.
type Flag struct {
	// ID is a unique name for this flag, used internally for bookkeeping.
	ID string
	// Value points at the variable the flag result is stored into. Must be
	// one of the types pflag knows how to create a flag for (string, bool,
	// int, uint32, []string, map[string]string, ...).
	Value interface{}
	// DefaultValue is the flag's default value; its type must match Value's
	// underlying type.
	DefaultValue interface{}

	Name      string
	ShortHand string
	Usage     string

	// EnvKeys lists environment variable suffixes (without the RECHUNK_
	// prefix, unless WithoutPrefix is set) consulted, in order, when the
	// flag is not explicitly set on the command line.
	EnvKeys []string
	// WithoutPrefix disables the implicit env-var prefix for this flag.
	WithoutPrefix bool

	Hidden     bool
	Required   bool
	Deprecated string
}
