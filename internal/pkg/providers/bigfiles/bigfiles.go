// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package bigfiles claims any unclaimed regular file of at least 1 MiB
// into its own standalone component.
//
// This solves a conceptual issue with leaving large files unclaimed: the
// packer treats each component as one monolithic unit, so a single
// "unclaimed" component could never be split back across layers. By
// giving each large file its own component, the packer is free to merge
// it back in or keep it separate, as the packing calculation dictates.
// Every unclaimed file could in principle be handled this granularly,
// but that's overkill below the 1 MiB threshold.
//
// Hardlinked files (same inode, nlink > 1) are grouped into one
// component so they don't get split across layers, which would
// duplicate their bytes on disk after unpacking.
package bigfiles

import (
	"path"
	"strings"

	"github.com/oci-tools/rechunk/internal/pkg/component"
)

// minSize is the smallest file size, in bytes, considered a "big file".
const minSize = 1024 * 1024

const repoName = "bigfiles"

// Repo is the big-files component.Provider implementation.
type Repo struct {
	components        []string
	componentIndex    map[string]component.ComponentId
	pathToComponent   map[string]component.ComponentId
	defaultMtimeClamp uint64
}

// Load scans files for regular files at least minSize bytes, giving each
// (or each hardlinked group) its own component. Returns nil if no
// qualifying files are found.
func Load(files *component.FileMap, defaultMtimeClamp uint64) *Repo {
	inodeToPaths := make(map[uint64][]string)
	for _, p := range files.Paths() {
		info, _ := files.Get(p)
		if info.Type == component.RegularFile && info.Nlink > 1 && info.Size >= minSize {
			inodeToPaths[info.Ino] = append(inodeToPaths[info.Ino], p)
		}
	}

	repo := &Repo{
		componentIndex:  make(map[string]component.ComponentId),
		pathToComponent: make(map[string]component.ComponentId),
	}
	repo.defaultMtimeClamp = defaultMtimeClamp

	for _, p := range files.Paths() {
		info, _ := files.Get(p)
		if info.Type != component.RegularFile || info.Size < minSize {
			continue
		}

		// Skip if this inode was already processed via an earlier hardlink.
		if info.Nlink > 1 {
			if _, pending := inodeToPaths[info.Ino]; !pending {
				continue
			}
		}

		filename := path.Base(p)

		var componentName string
		if _, used := repo.componentIndex[filename]; used {
			componentName = strings.TrimPrefix(p, "/")
		} else {
			componentName = filename
		}

		id := component.ComponentId(len(repo.components))
		repo.components = append(repo.components, componentName)
		repo.componentIndex[componentName] = id
		repo.pathToComponent[p] = id

		if linked, ok := inodeToPaths[info.Ino]; ok {
			for _, linkedPath := range linked {
				repo.pathToComponent[linkedPath] = id
			}
			delete(inodeToPaths, info.Ino)
		}
	}

	if len(repo.components) == 0 {
		return nil
	}
	return repo
}

// Name implements component.Provider.
func (r *Repo) Name() string { return repoName }

// DefaultPriority implements component.Provider.
func (r *Repo) DefaultPriority() int { return 80 }

// ClaimsForPath implements component.Provider.
func (r *Repo) ClaimsForPath(path string, _ component.FileType) []component.ComponentId {
	id, ok := r.pathToComponent[path]
	if !ok {
		return nil
	}
	return []component.ComponentId{id}
}

// ComponentInfo implements component.Provider. Big-file components carry
// zero stability: a standalone binary has no changelog or build cadence
// to reason about, so the packer should treat it as maximally likely to
// change.
func (r *Repo) ComponentInfo(id component.ComponentId) component.ProviderComponentInfo {
	return component.ProviderComponentInfo{
		Name:       r.components[id],
		MtimeClamp: r.defaultMtimeClamp,
		Stability:  0.0,
	}
}
