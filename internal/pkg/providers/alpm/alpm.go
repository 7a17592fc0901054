// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package alpm discovers components from a local Arch Linux Package
// Management (pacman) database, grouping packages sharing the same
// %BASE% into a single component.
package alpm

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/oci-tools/rechunk/internal/pkg/component"
	"github.com/oci-tools/rechunk/internal/pkg/stability"
	"github.com/oci-tools/rechunk/internal/pkg/util/pathcanon"
)

const repoName = "alpm"

// localDBPaths are searched for a local ALPM database. The first is the
// default path on Arch Linux; the second is used by the
// ghcr.io/bootcrew/arch-bootc image.
var localDBPaths = []string{"var/lib/pacman/local", "usr/lib/sysimage/lib/pacman/local"}

const (
	filenameDesc  = "desc"
	filenameFiles = "files"

	// maxDBFileSize bounds how large a single desc/files file may be
	// before it is read into memory.
	maxDBFileSize = 64 * 1024 * 1024
)

type componentRecord struct {
	name      string
	buildDate uint64
	stability float64
}

// Repo is the ALPM-backed component.Provider implementation.
type Repo struct {
	components      []componentRecord
	componentByName map[string]component.ComponentId
	pathToComponent map[string][]component.ComponentId
}

// findLocalDB returns the first localDBPaths entry present as a
// directory under rootfs, or "" if none exist.
func findLocalDB(rootfs string) (string, error) {
	for _, p := range localDBPaths {
		full := filepath.Join(rootfs, p)
		info, err := os.Stat(full)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", fmt.Errorf("checking for %s: %w", full, err)
		}
		if info.IsDir() {
			return full, nil
		}
	}
	return "", nil
}

// Load locates, parses and indexes a local ALPM database in rootfs.
// Returns (nil, nil) if no ALPM database is present.
func Load(rootfs string, files *component.FileMap, now uint64) (*Repo, error) {
	localDB, err := findLocalDB(rootfs)
	if err != nil {
		return nil, fmt.Errorf("detecting alpm database: %w", err)
	}
	if localDB == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(localDB)
	if err != nil {
		return nil, fmt.Errorf("reading alpm local database %s: %w", localDB, err)
	}

	repo := &Repo{
		componentByName: make(map[string]component.ComponentId),
		pathToComponent: make(map[string][]component.ComponentId),
	}
	canon := pathcanon.New(rootfs, files)

	// The local package database is a directory containing one
	// subdirectory per installed package (e.g. just-1.46.0-1/desc,
	// just-1.46.0-1/files, just-1.46.0-1/mtree).
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pkgDir := filepath.Join(localDB, entry.Name())

		desc, filesDB, err := readPackageInfo(pkgDir)
		if err != nil {
			return nil, fmt.Errorf("parsing metadata of package %s: %w", entry.Name(), err)
		}

		base, err := desc.base()
		if err != nil {
			return nil, fmt.Errorf("reading %%BASE%% of package %s: %w", entry.Name(), err)
		}
		buildDate, err := desc.builddate()
		if err != nil {
			return nil, fmt.Errorf("reading %%BUILDDATE%% of package %s: %w", entry.Name(), err)
		}
		st := stability.Calculate(nil, buildDate, now)

		id, ok := repo.componentByName[base]
		if !ok {
			id = component.ComponentId(len(repo.components))
			repo.componentByName[base] = id
			repo.components = append(repo.components, componentRecord{
				name:      base,
				buildDate: buildDate,
				stability: st,
			})
		} else {
			// A package built from the same %BASE% was already added: keep
			// the most recent builddate and the lowest stability, since a
			// layer can only be as stable as its least stable member.
			rec := repo.components[id]
			if buildDate > rec.buildDate {
				rec.buildDate = buildDate
			}
			if st < rec.stability {
				rec.stability = st
			}
			repo.components[id] = rec
		}

		if err := indexFiles(repo, canon, id, filesDB.files()); err != nil {
			return nil, err
		}
	}

	return repo, nil
}

// readPackageInfo reads and parses the desc and files database files
// from a single package's directory.
func readPackageInfo(pkgDir string) (desc, filesDB *dbFile, err error) {
	desc, err = readDBFile(filepath.Join(pkgDir, filenameDesc))
	if err != nil {
		return nil, nil, fmt.Errorf("read and parse desc: %w", err)
	}
	filesDB, err = readDBFile(filepath.Join(pkgDir, filenameFiles))
	if err != nil {
		return nil, nil, fmt.Errorf("read and parse files: %w", err)
	}
	return desc, filesDB, nil
}

func readDBFile(path string) (*dbFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() > maxDBFileSize {
		return nil, fmt.Errorf("file is too large: %s (size: %d, maximum: %d)", path, info.Size(), maxDBFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return parseDBFile(string(content))
}

// indexFiles associates id with every canonicalized path listed in
// rawFiles, which are relative paths as recorded in an ALPM files
// database (the %FILES% section).
func indexFiles(repo *Repo, canon *pathcanon.Canonicalizer, id component.ComponentId, rawFiles []string) error {
	for _, raw := range rawFiles {
		// We cannot differentiate file types from a files database alone
		// (only paths are recorded), so ClaimsForPath ignores fileType for
		// this provider.
		if path.IsAbs(raw) {
			return fmt.Errorf("%s is absolute, while the ALPM specification mandates relative paths", raw)
		}

		absPath := path.Clean("/" + raw)
		canonical, err := canon.CanonicalizeParentPath(absPath)
		if err != nil {
			return fmt.Errorf("canonicalizing %s: %w", raw, err)
		}

		repo.pathToComponent[canonical] = append(repo.pathToComponent[canonical], id)
	}
	return nil
}

// Name implements component.Provider.
func (r *Repo) Name() string { return repoName }

// DefaultPriority implements component.Provider.
func (r *Repo) DefaultPriority() int { return 10 }

// ClaimsForPath implements component.Provider. ALPM's files database
// records paths only, with no file-type information, so fileType is
// ignored.
func (r *Repo) ClaimsForPath(path string, _ component.FileType) []component.ComponentId {
	claims := r.pathToComponent[path]
	if len(claims) == 0 {
		return nil
	}
	out := make([]component.ComponentId, len(claims))
	copy(out, claims)
	return out
}

// ComponentInfo implements component.Provider.
func (r *Repo) ComponentInfo(id component.ComponentId) component.ProviderComponentInfo {
	rec := r.components[id]
	return component.ProviderComponentInfo{
		Name:       rec.name,
		MtimeClamp: rec.buildDate,
		Stability:  rec.stability,
	}
}
