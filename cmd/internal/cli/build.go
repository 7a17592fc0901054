// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/oci-tools/rechunk/internal/pkg/build"
	"github.com/oci-tools/rechunk/pkg/cmdline"
)

var buildArgs struct {
	rootfs           string
	output           string
	maxLayers        int
	configPath       string
	configStr        string
	labels           []string
	annotations      []string
	sourceDateEpoch  string
	compressed       bool
	compressionLevel int
	arch             string
	skipSpecial      bool
	prune            []string
}

var buildRootfsFlag = cmdline.Flag{
	ID:           "buildRootfsFlag",
	Value:        &buildArgs.rootfs,
	DefaultValue: "",
	Name:         "rootfs",
	Usage:        "path to the root filesystem tree to rechunk",
	EnvKeys:      []string{"ROOTFS"},
	Required:     true,
}

var buildOutputFlag = cmdline.Flag{
	ID:           "buildOutputFlag",
	Value:        &buildArgs.output,
	DefaultValue: "",
	Name:         "output",
	ShortHand:    "o",
	Usage:        "path to write the OCI archive to (default stdout)",
	EnvKeys:      []string{"OUTPUT"},
}

var buildMaxLayersFlag = cmdline.Flag{
	ID:           "buildMaxLayersFlag",
	Value:        &buildArgs.maxLayers,
	DefaultValue: 64,
	Name:         "max-layers",
	Usage:        "maximum number of layers the packed image may contain",
	EnvKeys:      []string{"MAX_LAYERS"},
}

var buildConfigFlag = cmdline.Flag{
	ID:           "buildConfigFlag",
	Value:        &buildArgs.configPath,
	DefaultValue: "",
	Name:         "config",
	Usage:        "path to a base OCI image config, or podman/docker inspect output, to start from",
	EnvKeys:      []string{"CONFIG"},
}

var buildConfigStrFlag = cmdline.Flag{
	ID:           "buildConfigStrFlag",
	Value:        &buildArgs.configStr,
	DefaultValue: "",
	Name:         "config-str",
	Usage:        "base OCI image config as a JSON string, mutually exclusive with --config",
	EnvKeys:      []string{"CONFIG_STR"},
}

var buildLabelFlag = cmdline.Flag{
	ID:           "buildLabelFlag",
	Value:        &buildArgs.labels,
	DefaultValue: []string{},
	Name:         "label",
	Usage:        "set (KEY=VALUE), remove (KEY-) or clear (-) an image config label; repeatable",
	EnvKeys:      []string{"LABEL"},
}

var buildAnnotationFlag = cmdline.Flag{
	ID:           "buildAnnotationFlag",
	Value:        &buildArgs.annotations,
	DefaultValue: []string{},
	Name:         "annotation",
	Usage:        "set (KEY=VALUE), remove (KEY-) or clear (-) a manifest annotation; repeatable",
	EnvKeys:      []string{"ANNOTATION"},
}

var buildSourceDateEpochFlag = cmdline.Flag{
	ID:           "buildSourceDateEpochFlag",
	Value:        &buildArgs.sourceDateEpoch,
	DefaultValue: "",
	Name:         "source-date-epoch",
	Usage:        "fix the build timestamp to this unix time, for reproducible output (default: current time)",
	EnvKeys:      []string{"SOURCE_DATE_EPOCH"},
	WithoutPrefix: true,
}

var buildCompressedFlag = cmdline.Flag{
	ID:           "buildCompressedFlag",
	Value:        &buildArgs.compressed,
	DefaultValue: false,
	Name:         "compressed",
	Usage:        "gzip-compress layers and the outer archive",
	EnvKeys:      []string{"COMPRESSED"},
}

var buildCompressionLevelFlag = cmdline.Flag{
	ID:           "buildCompressionLevelFlag",
	Value:        &buildArgs.compressionLevel,
	DefaultValue: 6,
	Name:         "compression-level",
	Usage:        "gzip compression level, 1 (fastest) to 9 (smallest), used when --compressed is set",
	EnvKeys:      []string{"COMPRESSION_LEVEL"},
}

var buildArchFlag = cmdline.Flag{
	ID:           "buildArchFlag",
	Value:        &buildArgs.arch,
	DefaultValue: "",
	Name:         "arch",
	Usage:        "target architecture, normalized to OCI naming (default: config's or host arch)",
	EnvKeys:      []string{"ARCH"},
}

var buildSkipSpecialFlag = cmdline.Flag{
	ID:           "buildSkipSpecialFlag",
	Value:        &buildArgs.skipSpecial,
	DefaultValue: false,
	Name:         "skip-special-files",
	Usage:        "skip device, fifo and socket files instead of failing the scan",
	EnvKeys:      []string{"SKIP_SPECIAL_FILES"},
}

var buildPruneFlag = cmdline.Flag{
	ID:           "buildPruneFlag",
	Value:        &buildArgs.prune,
	DefaultValue: []string{},
	Name:         "prune",
	Usage:        "absolute path inside --rootfs to exclude from the scan; a trailing / excludes only its contents; repeatable",
	EnvKeys:      []string{"PRUNE"},
}

func init() {
	addCmdInit(func(cmdManager *cmdline.CommandManager) {
		cmdManager.RegisterCmd(buildCmd)

		cmdManager.RegisterFlagForCmd(&buildRootfsFlag, buildCmd)
		cmdManager.RegisterFlagForCmd(&buildOutputFlag, buildCmd)
		cmdManager.RegisterFlagForCmd(&buildMaxLayersFlag, buildCmd)
		cmdManager.RegisterFlagForCmd(&buildConfigFlag, buildCmd)
		cmdManager.RegisterFlagForCmd(&buildConfigStrFlag, buildCmd)
		cmdManager.RegisterFlagForCmd(&buildLabelFlag, buildCmd)
		cmdManager.RegisterFlagForCmd(&buildAnnotationFlag, buildCmd)
		cmdManager.RegisterFlagForCmd(&buildSourceDateEpochFlag, buildCmd)
		cmdManager.RegisterFlagForCmd(&buildCompressedFlag, buildCmd)
		cmdManager.RegisterFlagForCmd(&buildCompressionLevelFlag, buildCmd)
		cmdManager.RegisterFlagForCmd(&buildArchFlag, buildCmd)
		cmdManager.RegisterFlagForCmd(&buildSkipSpecialFlag, buildCmd)
		cmdManager.RegisterFlagForCmd(&buildPruneFlag, buildCmd)
	})
}

// buildCmd rechunks a root filesystem tree into an OCI archive.
var buildCmd = &cobra.Command{
	Use:                   "build",
	Short:                 "Rechunk a root filesystem into a reproducible OCI image",
	DisableFlagsInUseLine: true,
	Args:                  cobra.NoArgs,
	RunE:                  runBuild,
}

func runBuild(cmd *cobra.Command, args []string) error {
	if buildArgs.configPath != "" && buildArgs.configStr != "" {
		return fmt.Errorf("--config and --config-str are mutually exclusive")
	}

	var epoch *uint64
	if buildArgs.sourceDateEpoch != "" {
		v, err := strconv.ParseUint(buildArgs.sourceDateEpoch, 10, 64)
		if err != nil {
			return fmt.Errorf("parsing --source-date-epoch %q: %w", buildArgs.sourceDateEpoch, err)
		}
		epoch = &v
	}

	return build.Run(build.Options{
		Rootfs:           buildArgs.rootfs,
		Output:           buildArgs.output,
		MaxLayers:        buildArgs.maxLayers,
		ConfigPath:       buildArgs.configPath,
		ConfigStr:        buildArgs.configStr,
		Labels:           buildArgs.labels,
		Annotations:      buildArgs.annotations,
		SourceDateEpoch:  epoch,
		Compressed:       buildArgs.compressed,
		CompressionLevel: buildArgs.compressionLevel,
		Arch:             buildArgs.arch,
		SkipSpecialFiles: buildArgs.skipSpecial,
		Prune:            buildArgs.prune,
	})
}
