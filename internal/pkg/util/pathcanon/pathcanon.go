// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package pathcanon resolves directory symlinks in a package-database
// path so it matches the path as actually recorded by the scanner,
// without ever following a symlink in the final (leaf) component.
package pathcanon

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/oci-tools/rechunk/internal/pkg/component"
)

// maxSymlinkDepth caps the number of directory-symlink hops resolved
// before giving up, guarding against symlink cycles.
const maxSymlinkDepth = 40

// Canonicalizer resolves package-database paths against a rootfs and a
// FileMap, caching parent-path resolutions across calls.
type Canonicalizer struct {
	rootfs string
	files  *component.FileMap
	cache  map[string]string
}

// New returns a Canonicalizer rooted at rootfs, consulting files to
// decide whether a given path component is a symlink.
func New(rootfs string, files *component.FileMap) *Canonicalizer {
	return &Canonicalizer{
		rootfs: rootfs,
		files:  files,
		cache:  make(map[string]string),
	}
}

// CanonicalizeParentPath resolves every directory-symlink in p's parent
// components, leaving the final (leaf) component exactly as given. p
// must be absolute.
func (c *Canonicalizer) CanonicalizeParentPath(p string) (string, error) {
	if !path.IsAbs(p) {
		return "", fmt.Errorf("path must be absolute: %s", p)
	}
	if p == "/" {
		return "/", nil
	}

	parent := path.Dir(p)
	canonicalParent, err := c.canonicalizeDirPath(parent, 0)
	if err != nil {
		return "", err
	}

	filename := path.Base(p)
	return joinClean(canonicalParent, filename), nil
}

func (c *Canonicalizer) canonicalizeDirPath(p string, depth int) (string, error) {
	if !path.IsAbs(p) {
		return "", fmt.Errorf("path must be absolute: %s", p)
	}
	if depth > maxSymlinkDepth {
		return "", fmt.Errorf("too many levels of symbolic links: %s", p)
	}

	if cached, ok := c.cache[p]; ok {
		return cached, nil
	}

	if p == "/" {
		return "/", nil
	}

	parent := path.Dir(p)
	canonicalParent, err := c.canonicalizeDirPath(parent, depth)
	if err != nil {
		return "", err
	}

	filename := path.Base(p)
	currentPath := joinClean(canonicalParent, filename)

	info, present := c.files.Get(currentPath)
	isSymlink := present && info.Type == component.Symlink

	var canonical string
	if isSymlink {
		target, err := os.Readlink(filepath.Join(c.rootfs, currentPath))
		if err != nil {
			return "", fmt.Errorf("reading symlink target for %s: %w", currentPath, err)
		}

		if path.IsAbs(target) {
			canonical, err = c.canonicalizeDirPath(target, depth+1)
			if err != nil {
				return "", err
			}
		} else {
			resolved := joinClean(canonicalParent, target)
			normalized, err := normalizePath(resolved)
			if err != nil {
				return "", err
			}
			canonical, err = c.canonicalizeDirPath(normalized, depth+1)
			if err != nil {
				return "", err
			}
		}
	} else {
		canonical = currentPath
	}

	c.cache[p] = canonical
	return canonical, nil
}

func joinClean(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

// normalizePath resolves "." and ".." components in p without touching
// the filesystem.
func normalizePath(p string) (string, error) {
	var result []string
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
			// skip: "" arises from the leading "/" and repeated separators
		case "..":
			if len(result) > 0 {
				result = result[:len(result)-1]
			}
		default:
			result = append(result, seg)
		}
	}
	return "/" + strings.Join(result, "/"), nil
}
