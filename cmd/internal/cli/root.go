// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package cli wires the rechunk command tree: a root command carrying
// global logging flags and a single "build" subcommand.
package cli

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/oci-tools/rechunk/pkg/cmdline"
	"github.com/oci-tools/rechunk/pkg/sylog"
)

// cmdInits holds every init function that registers commands/flags,
// populated by each subcommand's own init().
var cmdInits []func(*cmdline.CommandManager)

func addCmdInit(f func(*cmdline.CommandManager)) {
	cmdInits = append(cmdInits, f)
}

var (
	debug   bool
	verbose bool
	quiet   bool
)

var debugFlag = cmdline.Flag{
	ID:           "debugFlag",
	Value:        &debug,
	DefaultValue: false,
	Name:         "debug",
	ShortHand:    "d",
	Usage:        "print debugging information (highest verbosity)",
	EnvKeys:      []string{"DEBUG"},
}

var verboseFlag = cmdline.Flag{
	ID:           "verboseFlag",
	Value:        &verbose,
	DefaultValue: false,
	Name:         "verbose",
	ShortHand:    "v",
	Usage:        "print additional information",
	EnvKeys:      []string{"VERBOSE"},
}

var quietFlag = cmdline.Flag{
	ID:           "quietFlag",
	Value:        &quiet,
	DefaultValue: false,
	Name:         "quiet",
	ShortHand:    "q",
	Usage:        "suppress normal output",
	EnvKeys:      []string{"QUIET"},
}

func setMessageLevel() {
	var level int
	switch {
	case debug:
		level = 5
	case verbose:
		level = 4
	case quiet:
		level = -1
	default:
		level = 1
	}
	sylog.SetLevel(level, true)
}

// rootCmd is the base command when invoked without a subcommand.
var rootCmd = &cobra.Command{
	Use:           "rechunk",
	Short:         "Rechunk a root filesystem tree into a reproducible OCI image",
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Init registers every command and flag on the root command.
func Init() (*cmdline.CommandManager, error) {
	cmdManager, err := cmdline.NewCommandManager(rootCmd)
	if err != nil {
		return nil, err
	}

	cmdManager.RegisterFlagForCmd(&debugFlag, rootCmd)
	cmdManager.RegisterFlagForCmd(&verboseFlag, rootCmd)
	cmdManager.RegisterFlagForCmd(&quietFlag, rootCmd)

	for _, init := range cmdInits {
		init(cmdManager)
	}

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := cmdManager.UpdateCmdFlagFromEnv(rootCmd, 0, nil); err != nil {
			return err
		}
		if err := cmdManager.UpdateCmdFlagFromEnv(cmd, 0, nil); err != nil {
			return err
		}
		setMessageLevel()
		return nil
	}

	if errs := cmdManager.GetError(); len(errs) > 0 {
		for _, e := range errs {
			sylog.Errorf("%s", e)
		}
		return nil, errs[0]
	}

	return cmdManager, nil
}

// Execute runs the root command. A SIGINT handler terminates the
// process directly with exit code 130: the build pipeline is
// single-threaded and synchronous with no suspension points to
// cancel cooperatively, and rechunk often runs as PID 1 in a
// container, which otherwise ignores signals it has no explicit
// handler for.
func Execute() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		os.Exit(130)
	}()

	if _, err := Init(); err != nil {
		sylog.Fatalf("while initializing: %s", err)
	}

	if err := rootCmd.Execute(); err != nil {
		sylog.Errorf("%s", err)
		os.Exit(1)
	}
}
