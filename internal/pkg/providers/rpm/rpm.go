// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package rpm discovers components from an RPM package database,
// grouping subpackages of the same source RPM into a single component.
package rpm

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/knqyf263/go-rpmdb/pkg"
	"github.com/oci-tools/rechunk/internal/pkg/component"
	"github.com/oci-tools/rechunk/internal/pkg/stability"
	"github.com/oci-tools/rechunk/internal/pkg/util/pathcanon"
)

const repoName = "rpm"

// dbPaths are the standard locations an RPM database can live under,
// relative to the rootfs.
var dbPaths = []string{"usr/lib/sysimage/rpm", "usr/share/rpm", "var/lib/rpm"}

// dbMarkers name the marker file that, under each dbPaths entry,
// confirms a database of a given backend is actually present.
var dbMarkers = []string{"Packages", "Packages.db", "rpmdb.sqlite"}

type componentRecord struct {
	name       string
	mtimeClamp uint64
	stability  float64
}

// Repo is the RPM-backed component.Provider implementation.
type Repo struct {
	components      []componentRecord
	componentByName map[string]component.ComponentId
	pathToComponent map[string][]pathClaim
}

type pathClaim struct {
	id       component.ComponentId
	fileType component.FileType
}

// HasDB reports whether any known RPM database marker file exists under
// rootfs.
func HasDB(rootfs string) (bool, error) {
	for _, dbPath := range dbPaths {
		dir := filepath.Join(rootfs, dbPath)
		for _, marker := range dbMarkers {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return true, nil
			} else if !os.IsNotExist(err) {
				return false, fmt.Errorf("checking for %s: %w", filepath.Join(dir, marker), err)
			}
		}
	}
	return false, nil
}

// packageRecord and fileRecord decouple the grouping/claim logic below
// from go-rpmdb's own types, so that logic can be driven by synthetic
// data in tests without constructing a real package database.
type packageRecord struct {
	name      string
	sourceRpm string
	buildTime int64
	files     []fileRecord
}

type fileRecord struct {
	path string
	mode uint32
}

// Load opens the RPM database under rootfs (if any), canonicalizes every
// package's file paths against files, and groups subpackages by their
// source RPM. Returns (nil, nil) if no RPM database is present.
func Load(rootfs string, files *component.FileMap, now uint64) (*Repo, error) {
	found, err := HasDB(rootfs)
	if err != nil {
		return nil, fmt.Errorf("detecting rpm database: %w", err)
	}
	if !found {
		return nil, nil
	}

	dbPath, err := findDBFile(rootfs)
	if err != nil {
		return nil, fmt.Errorf("locating rpm database file: %w", err)
	}

	db, err := rpmdb.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening rpm database %s: %w", dbPath, err)
	}
	defer db.Close()

	pkgs, err := db.ListPackages()
	if err != nil {
		return nil, fmt.Errorf("listing rpm packages: %w", err)
	}

	records := make([]packageRecord, 0, len(pkgs))
	for _, pkg := range pkgs {
		installedFiles, err := pkg.InstalledFiles()
		if err != nil {
			return nil, fmt.Errorf("reading installed files for %s: %w", pkg.Name, err)
		}

		fileRecs := make([]fileRecord, 0, len(installedFiles))
		for _, f := range installedFiles {
			fileRecs = append(fileRecs, fileRecord{path: f.Path, mode: uint32(f.Mode)})
		}

		records = append(records, packageRecord{
			name:      pkg.Name,
			sourceRpm: pkg.SourceRpm,
			buildTime: int64(pkg.BuildTime),
			files:     fileRecs,
		})
	}

	return loadFromRecords(records, rootfs, files, now)
}

// loadFromRecords builds a Repo from an already-parsed package list,
// canonicalizing file paths against rootfs/files. Split out from Load so
// tests can exercise the grouping and claim logic without an actual RPM
// database file, mirroring the load/load_from_packages split in the
// original implementation.
func loadFromRecords(pkgs []packageRecord, rootfs string, files *component.FileMap, now uint64) (*Repo, error) {
	canon := pathcanon.New(rootfs, files)

	repo := &Repo{
		componentByName: make(map[string]component.ComponentId),
		pathToComponent: make(map[string][]pathClaim),
	}

	for _, pkg := range pkgs {
		name := pkg.name
		if pkg.sourceRpm != "" {
			name = parseSRPMName(pkg.sourceRpm)
		}

		id, ok := repo.componentByName[name]
		if !ok {
			id = component.ComponentId(len(repo.components))
			repo.componentByName[name] = id
			// Changelog timestamps are not exposed by the rpm database
			// reader; per the stability formula's own documented fallback,
			// an empty changelog degrades gracefully to using buildtime as
			// the sole data point. Unlike the original's changelog-frequency
			// model, every component here is scored from a single build-time
			// sample, which is a strictly coarser (but never-underflowing)
			// proxy for update cadence.
			st := stability.Calculate(nil, uint64(pkg.buildTime), now)
			repo.components = append(repo.components, componentRecord{
				name:       name,
				mtimeClamp: uint64(pkg.buildTime),
				stability:  st,
			})
		} else {
			// Build time across subpackages of a given SRPM can vary; clamp
			// to the max. Stability intentionally keeps the first
			// subpackage's value (see design notes on this asymmetry).
			rec := repo.components[id]
			if uint64(pkg.buildTime) > rec.mtimeClamp {
				rec.mtimeClamp = uint64(pkg.buildTime)
				repo.components[id] = rec
			}
		}

		for _, f := range pkg.files {
			fileType, ok := modeToFileType(f.mode)
			if !ok {
				continue
			}
			canonical, err := canon.CanonicalizeParentPath(f.path)
			if err != nil {
				return nil, fmt.Errorf("canonicalizing %s: %w", f.path, err)
			}

			claims := repo.pathToComponent[canonical]
			already := false
			for _, c := range claims {
				if c.id == id {
					already = true
					break
				}
			}
			if !already {
				repo.pathToComponent[canonical] = append(claims, pathClaim{id: id, fileType: fileType})
			}
		}
	}

	return repo, nil
}

func findDBFile(rootfs string) (string, error) {
	for _, dbPath := range dbPaths {
		dir := filepath.Join(rootfs, dbPath)
		for _, marker := range dbMarkers {
			full := filepath.Join(dir, marker)
			if _, err := os.Stat(full); err == nil {
				return full, nil
			}
		}
	}
	return "", fmt.Errorf("no rpm database found")
}

func modeToFileType(mode uint32) (component.FileType, bool) {
	switch mode & syscall.S_IFMT {
	case syscall.S_IFDIR:
		return component.Directory, true
	case syscall.S_IFREG:
		return component.RegularFile, true
	case syscall.S_IFLNK:
		return component.Symlink, true
	default:
		return 0, false
	}
}

// parseSRPMName extracts the package name from an SRPM filename, e.g.
// "bash-5.2.15-5.fc40.src.rpm" -> "bash".
func parseSRPMName(srpm string) string {
	withoutSuffix := strings.TrimSuffix(srpm, ".src.rpm")

	parts := rsplitN(withoutSuffix, '-', 3)
	if len(parts) >= 3 {
		return parts[2]
	}
	return withoutSuffix
}

// rsplitN splits s on sep from the right, returning at most n pieces in
// right-to-left order, mirroring Rust's str::rsplitn semantics
// (the first n-1 splits are taken from the right, the remainder is the
// final, leftmost piece).
func rsplitN(s string, sep byte, n int) []string {
	if n <= 0 {
		return nil
	}
	var pieces []string
	for len(pieces) < n-1 {
		idx := strings.LastIndexByte(s, sep)
		if idx < 0 {
			break
		}
		pieces = append(pieces, s[idx+1:])
		s = s[:idx]
	}
	pieces = append(pieces, s)
	return pieces
}

// Name implements component.Provider.
func (r *Repo) Name() string { return repoName }

// DefaultPriority implements component.Provider.
func (r *Repo) DefaultPriority() int { return 10 }

// ClaimsForPath implements component.Provider.
func (r *Repo) ClaimsForPath(path string, fileType component.FileType) []component.ComponentId {
	rel := strings.TrimPrefix(path, "/")
	for _, dbPath := range dbPaths {
		// Component-wise match, not a raw byte-prefix test: "usr/share/rpm"
		// must not also match "usr/share/rpmlint".
		if rel == dbPath || strings.HasPrefix(rel, dbPath+"/") {
			return nil
		}
	}

	claims := r.pathToComponent[path]
	if len(claims) == 0 {
		return nil
	}

	var ids []component.ComponentId
	for _, c := range claims {
		if c.fileType == fileType {
			ids = append(ids, c.id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ComponentInfo implements component.Provider.
func (r *Repo) ComponentInfo(id component.ComponentId) component.ProviderComponentInfo {
	rec := r.components[id]
	return component.ProviderComponentInfo{
		Name:       rec.name,
		MtimeClamp: rec.mtimeClamp,
		Stability:  rec.stability,
	}
}
