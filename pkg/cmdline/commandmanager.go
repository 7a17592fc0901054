// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package cmdline

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

const envPrefix = "RECHUNK_"

// CommandManager registers commands and flags, and resolves flag values
// from the environment for flags left unset on the command line.
type CommandManager struct {
	rootCmd *cobra.Command
	flags   map[string]*Flag
	errPool []error
}

// NewCommandManager creates a command manager rooted at rootCmd.
func NewCommandManager(rootCmd *cobra.Command) (*CommandManager, error) {
	if rootCmd == nil {
		return nil, fmt.Errorf("nil root command")
	}
	return &CommandManager{
		rootCmd: rootCmd,
		flags:   make(map[string]*Flag),
	}, nil
}

// RegisterCmd adds cmd as a subcommand of the root command.
func (m *CommandManager) RegisterCmd(cmd *cobra.Command) {
	m.rootCmd.AddCommand(cmd)
}

// RegisterFlagForCmd defines flag on cmd's flag set and records it for
// later environment-variable resolution.
func (m *CommandManager) RegisterFlagForCmd(flag *Flag, cmd *cobra.Command) {
	if flag == nil {
		m.errPool = append(m.errPool, fmt.Errorf("nil flag"))
		return
	}
	if cmd == nil {
		m.errPool = append(m.errPool, fmt.Errorf("nil command for flag %q", flag.Name))
		return
	}

	fs := cmd.Flags()

	switch v := flag.Value.(type) {
	case *string:
		def, _ := flag.DefaultValue.(string)
		fs.StringVarP(v, flag.Name, flag.ShortHand, def, flag.Usage)
	case *bool:
		def, _ := flag.DefaultValue.(bool)
		fs.BoolVarP(v, flag.Name, flag.ShortHand, def, flag.Usage)
	case *int:
		def, _ := flag.DefaultValue.(int)
		fs.IntVarP(v, flag.Name, flag.ShortHand, def, flag.Usage)
	case *uint32:
		def, _ := flag.DefaultValue.(uint32)
		fs.Uint32VarP(v, flag.Name, flag.ShortHand, def, flag.Usage)
	case *[]string:
		def, _ := flag.DefaultValue.([]string)
		fs.StringSliceVarP(v, flag.Name, flag.ShortHand, def, flag.Usage)
	case *map[string]string:
		def, _ := flag.DefaultValue.(map[string]string)
		fs.StringToStringVarP(v, flag.Name, flag.ShortHand, def, flag.Usage)
	default:
		m.errPool = append(m.errPool, fmt.Errorf("flag %q has unsupported value type %T", flag.Name, flag.Value))
		return
	}

	if flag.Hidden {
		_ = fs.MarkHidden(flag.Name)
	}
	if flag.Deprecated != "" {
		_ = fs.MarkDeprecated(flag.Name, flag.Deprecated)
	}
	if flag.Required {
		_ = cmd.MarkFlagRequired(flag.Name)
	}

	m.flags[flag.ID] = flag
}

// GetError returns every error accumulated during flag registration.
func (m *CommandManager) GetError() []error {
	return m.errPool
}

// UpdateCmdFlagFromEnv walks every flag registered against cmd and, for any
// flag left at its default (not explicitly set on the command line), applies
// the value of the first set environment variable among its EnvKeys.
func (m *CommandManager) UpdateCmdFlagFromEnv(cmd *cobra.Command, _ int, replacer map[string]string) error {
	var errs []error

	for _, flag := range m.flags {
		if len(flag.EnvKeys) == 0 {
			continue
		}
		pf := cmd.Flags().Lookup(flag.Name)
		if pf == nil || pf.Changed {
			continue
		}
		for _, key := range flag.EnvKeys {
			envName := key
			if !flag.WithoutPrefix {
				envName = envPrefix + key
			}
			if repl, ok := replacer[envName]; ok {
				envName = repl
			}
			val, ok := os.LookupEnv(envName)
			if !ok {
				continue
			}
			if err := pf.Value.Set(normalizeEnvValue(pf.Value.Type(), val)); err != nil {
				errs = append(errs, fmt.Errorf("while applying %s=%s to flag %q: %w", envName, val, flag.Name, err))
				break
			}
			pf.Changed = true
			break
		}
	}

	if len(errs) == 0 {
		return nil
	}
	msg := make([]string, len(errs))
	for i, e := range errs {
		msg[i] = e.Error()
	}
	return fmt.Errorf("%s", strings.Join(msg, "; "))
}

// normalizeEnvValue adapts a few common boolean spellings ("1"/"0") to what
// pflag's bool.Set expects, leaving every other flag type's value untouched.
func normalizeEnvValue(kind, val string) string {
	if kind != "bool" {
		return val
	}
	if _, err := strconv.ParseBool(val); err == nil {
		return val
	}
	if val == "1" {
		return "true"
	}
	if val == "0" {
		return "false"
	}
	return val
}
