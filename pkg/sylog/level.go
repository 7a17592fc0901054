// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2018-2022, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package sylog

// messageLevel represents the level of a log message, lower is more severe.
type messageLevel int

const (
	FatalLevel   messageLevel = -4
	ErrorLevel   messageLevel = -3
	WarnLevel    messageLevel = -2
	LogLevel     messageLevel = -1
	InfoLevel    messageLevel = 1
	VerboseLevel messageLevel = 2
	DebugLevel   messageLevel = 5
)

func (l messageLevel) String() string {
	switch l {
	case FatalLevel:
		return "FATAL"
	case ErrorLevel:
		return "ERROR"
	case WarnLevel:
		return "WARNING"
	case LogLevel:
		return "LOG"
	case InfoLevel:
		return "INFO"
	case VerboseLevel:
		return "VERBOSE"
	case DebugLevel:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}
