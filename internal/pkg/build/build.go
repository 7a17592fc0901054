// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package build orchestrates the full pipeline named in spec §2: scan,
// discover components, assemble, pack, and emit an OCI archive.
package build

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/oci-tools/rechunk/internal/pkg/component"
	"github.com/oci-tools/rechunk/internal/pkg/config"
	"github.com/oci-tools/rechunk/internal/pkg/ociarchive"
	"github.com/oci-tools/rechunk/internal/pkg/packing"
	"github.com/oci-tools/rechunk/internal/pkg/providers/alpm"
	"github.com/oci-tools/rechunk/internal/pkg/providers/bigfiles"
	"github.com/oci-tools/rechunk/internal/pkg/providers/rpm"
	"github.com/oci-tools/rechunk/internal/pkg/scan"
	"github.com/oci-tools/rechunk/internal/pkg/util/goarch"
	"github.com/oci-tools/rechunk/pkg/sylog"
)

// Options mirrors the `build` subcommand's flags (spec §6).
type Options struct {
	Rootfs           string
	Output           string
	MaxLayers        int
	ConfigPath       string
	ConfigStr        string
	Labels           []string
	Annotations      []string
	SourceDateEpoch  *uint64
	Compressed       bool
	CompressionLevel int
	Arch             string
	SkipSpecialFiles bool
	Prune            []string
}

// Run executes the full build pipeline and writes the resulting OCI
// archive to opts.Output, or stdout if empty.
func Run(opts Options) error {
	created := opts.SourceDateEpoch
	createdEpoch, err := currentEpochOr(created)
	if err != nil {
		return fmt.Errorf("determining build timestamp: %w", err)
	}
	sylog.Debugf("using timestamp %d", createdEpoch)

	parsed, err := loadBaseConfig(opts.ConfigPath, opts.ConfigStr)
	if err != nil {
		return fmt.Errorf("loading base config: %w", err)
	}

	architecture := opts.Arch
	if architecture == "" {
		architecture = parsed.Architecture
	}
	architecture = goarch.Normalize(architecture)
	sylog.Debugf("target architecture %s", architecture)

	annotations, err := config.ParseKeyValuePairs(opts.Annotations, parsed.Annotations)
	if err != nil {
		return fmt.Errorf("parsing annotations: %w", err)
	}

	image, err := config.BuildImage(parsed.Config, opts.Labels, createdEpoch, architecture)
	if err != nil {
		return fmt.Errorf("building image config: %w", err)
	}

	sylog.Infof("starting build from %s", opts.Rootfs)
	files, err := scan.Scan(opts.Rootfs, scan.Options{
		SkipSpecialFiles: opts.SkipSpecialFiles,
		Prune:            opts.Prune,
	})
	if err != nil {
		return fmt.Errorf("scanning %s for files: %w", opts.Rootfs, err)
	}
	sylog.Infof("scan complete: %d files", files.Len())

	providers, err := loadProviders(opts.Rootfs, files, createdEpoch)
	if err != nil {
		return fmt.Errorf("loading components: %w", err)
	}
	if files.Len() > 0 && len(providers) == 0 {
		return fmt.Errorf("no supported component repo found in rootfs")
	}

	components := component.Assemble(files, providers, createdEpoch)
	sylog.Infof("%d components assigned", len(components))

	groups, err := packComponents(components, opts.MaxLayers)
	if err != nil {
		return fmt.Errorf("packing components: %w", err)
	}
	sylog.Infof("packing complete: %d layers", countNonEmpty(groups))

	archiveOpts := ociarchive.Options{
		Compress:         opts.Compressed,
		CompressionLevel: opts.CompressionLevel,
		Image:            image,
		Annotations:      annotations,
	}

	out, closeOut, err := openOutput(opts.Output)
	if err != nil {
		return err
	}
	defer closeOut()

	if err := ociarchive.Build(out, opts.Rootfs, groups, archiveOpts); err != nil {
		return fmt.Errorf("building oci archive: %w", err)
	}

	sylog.Infof("build complete")
	return nil
}

func currentEpochOr(epoch *uint64) (uint64, error) {
	if epoch != nil {
		return *epoch, nil
	}
	now := time.Now().Unix()
	if now < 0 {
		return 0, fmt.Errorf("system time is before the unix epoch")
	}
	return uint64(now), nil
}

func loadBaseConfig(path, str string) (config.Parsed, error) {
	switch {
	case path != "":
		sylog.Debugf("loading config from file %s", path)
		data, err := os.ReadFile(path)
		if err != nil {
			return config.Parsed{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
		parsed, err := config.ParseInput(data)
		if err != nil {
			return config.Parsed{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		return parsed, nil
	case str != "":
		sylog.Debugf("loading config from string")
		parsed, err := config.ParseInput([]byte(str))
		if err != nil {
			return config.Parsed{}, fmt.Errorf("parsing config string: %w", err)
		}
		return parsed, nil
	default:
		sylog.Debugf("using default config")
		return config.Parsed{}, nil
	}
}

// loadProviders probes for an RPM database, an ALPM database, and big
// files, in that fixed order. The same order is passed to
// component.Assemble, which uses it to break DefaultPriority ties.
func loadProviders(rootfs string, files *component.FileMap, now uint64) ([]component.Provider, error) {
	var providers []component.Provider

	rpmRepo, err := rpm.Load(rootfs, files, now)
	if err != nil {
		return nil, fmt.Errorf("loading rpm provider: %w", err)
	}
	if rpmRepo != nil {
		providers = append(providers, rpmRepo)
	}

	alpmRepo, err := alpm.Load(rootfs, files, now)
	if err != nil {
		return nil, fmt.Errorf("loading alpm provider: %w", err)
	}
	if alpmRepo != nil {
		providers = append(providers, alpmRepo)
	}

	if bigRepo := bigfiles.Load(files, now); bigRepo != nil {
		providers = append(providers, bigRepo)
	}

	return providers, nil
}

// packComponents sorts assembled components by name (the packer's
// determinism contract, spec §4.5), packs them into at most maxLayers
// groups, and merges each group's members into a single ociarchive.Group.
func packComponents(components map[string]*component.Component, maxLayers int) ([]ociarchive.Group, error) {
	names := make([]string, 0, len(components))
	for name := range components {
		names = append(names, name)
	}
	sort.Strings(names)

	items := make([]packing.Item, len(names))
	for i, name := range names {
		comp := components[name]
		items[i] = packing.Item{Size: totalSize(comp.Files), Stability: comp.Stability}
	}

	packed := packing.Calculate(items, maxLayers)

	groups := make([]ociarchive.Group, 0, len(packed))
	for _, g := range packed {
		if len(g.Indices) == 1 {
			name := names[g.Indices[0]]
			groups = append(groups, ociarchive.Group{Name: name, Component: components[name]})
			continue
		}

		memberNames := make([]string, len(g.Indices))
		for i, idx := range g.Indices {
			memberNames[i] = names[idx]
		}
		sort.Strings(memberNames)

		merged := component.NewFileMap()
		var mtimeClamp uint64
		for _, idx := range g.Indices {
			comp := components[names[idx]]
			if comp.MtimeClamp > mtimeClamp {
				mtimeClamp = comp.MtimeClamp
			}
			for _, p := range comp.Files.Paths() {
				info, _ := comp.Files.Get(p)
				merged.Insert(p, info)
			}
		}

		groups = append(groups, ociarchive.Group{
			Name: joinNames(memberNames),
			Component: &component.Component{
				Name:       joinNames(memberNames),
				MtimeClamp: mtimeClamp,
				Stability:  g.Stability,
				Files:      merged,
			},
		})
	}

	return groups, nil
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += " "
		}
		out += n
	}
	return out
}

func totalSize(files *component.FileMap) uint64 {
	var total uint64
	for _, p := range files.Paths() {
		info, _ := files.Get(p)
		if info.Size > 0 {
			total += uint64(info.Size)
		}
	}
	return total
}

func countNonEmpty(groups []ociarchive.Group) int {
	n := 0
	for _, g := range groups {
		if g.Component.Files.Len() > 0 {
			n++
		}
	}
	return n
}

func openOutput(path string) (io.Writer, func() error, error) {
	if path == "" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("creating output file %s: %w", path, err)
	}
	return f, f.Close, nil
}
