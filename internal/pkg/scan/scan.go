// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package scan walks a rootfs tree and produces a component.FileMap: an
// ordered, lstat-equivalent inventory of every path, without following
// symlinks.
package scan

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/oci-tools/rechunk/internal/pkg/component"
	"golang.org/x/sys/unix"
)

// Options configures a scan.
type Options struct {
	// SkipSpecialFiles, when true, silently omits sockets, FIFOs, and
	// block/char devices instead of failing.
	SkipSpecialFiles bool
	// Prune lists absolute paths to exclude. An entry ending in "/"
	// excludes only its contents; without the trailing slash it excludes
	// the entry itself and its subtree.
	Prune []string
}

// Scan walks rootfs and returns the resulting FileMap. The root directory
// itself ("/") is never emitted.
func Scan(rootfs string, opts Options) (*component.FileMap, error) {
	rootfs = filepath.Clean(rootfs)
	files := component.NewFileMap()

	prunePaths, pruneContentsOnly := splitPrune(opts.Prune)

	err := filepath.WalkDir(rootfs, func(fsPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("while walking %s: %w", fsPath, err)
		}

		absPath := "/" + strings.TrimPrefix(strings.TrimPrefix(fsPath, rootfs), "/")
		if fsPath == rootfs {
			absPath = "/"
		}
		if !utf8.ValidString(absPath) {
			return fmt.Errorf("path is not valid UTF-8: %q", absPath)
		}

		if absPath != "/" {
			if pruned, skipDir := isPruned(absPath, prunePaths, pruneContentsOnly); pruned {
				if skipDir && d.IsDir() {
					return filepath.SkipDir
				}
				if skipDir {
					return nil
				}
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		if absPath == "/" {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("getting metadata for %s: %w", absPath, err)
		}

		fileType, ok := classify(info.Mode())
		if !ok {
			if opts.SkipSpecialFiles {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			return fmt.Errorf("special file type not supported: %s", absPath)
		}

		fileInfo, err := buildFileInfo(fsPath, info, fileType)
		if err != nil {
			return fmt.Errorf("reading metadata for %s: %w", absPath, err)
		}

		files.Insert(absPath, fileInfo)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk rootfs: %w", err)
	}

	return files, nil
}

// splitPrune separates prune entries into a set of cleaned paths marked
// as "contents only" (trailing slash) vs "entry and subtree".
func splitPrune(prune []string) (paths []string, contentsOnly []bool) {
	for _, p := range prune {
		only := strings.HasSuffix(p, "/") && p != "/"
		paths = append(paths, strings.TrimSuffix(filepath.Clean(p), "/"))
		contentsOnly = append(contentsOnly, only)
	}
	return paths, contentsOnly
}

func isPruned(path string, prunePaths []string, contentsOnly []bool) (pruned, skipEntireDir bool) {
	for i, p := range prunePaths {
		if path == p {
			if contentsOnly[i] {
				// Exclude contents only: the directory entry itself stays,
				// but nothing beneath it does.
				return false, false
			}
			return true, true
		}
		if strings.HasPrefix(path, p+"/") {
			return true, false
		}
	}
	return false, false
}

func classify(mode fs.FileMode) (component.FileType, bool) {
	switch {
	case mode&fs.ModeSymlink != 0:
		return component.Symlink, true
	case mode.IsDir():
		return component.Directory, true
	case mode.IsRegular():
		return component.RegularFile, true
	default:
		return 0, false
	}
}

func buildFileInfo(fsPath string, info fs.FileInfo, fileType component.FileType) (component.FileInfo, error) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return component.FileInfo{}, fmt.Errorf("unsupported platform: no syscall.Stat_t available")
	}

	fi := component.FileInfo{
		Type: fileType,
		// Take the mode straight from stat, not info.Mode().Perm(): Perm()
		// keeps only the low 9 permission bits and silently drops
		// setuid/setgid/sticky, which would otherwise vanish from every
		// suid binary and /tmp-style sticky directory in the output.
		Mode:  uint32(stat.Mode & 0o7777),
		UID:   stat.Uid,
		GID:   stat.Gid,
		Ino:   stat.Ino,
		Nlink: uint64(stat.Nlink),
		Mtime: info.ModTime().Unix(),
	}

	switch fileType {
	case component.RegularFile:
		fi.Size = info.Size()
	case component.Symlink:
		target, err := os.Readlink(fsPath)
		if err != nil {
			return component.FileInfo{}, fmt.Errorf("reading symlink target: %w", err)
		}
		fi.LinkTarget = target
	}

	xattrs, err := readXattrs(fsPath)
	if err != nil {
		return component.FileInfo{}, fmt.Errorf("reading xattrs: %w", err)
	}
	fi.Xattrs = xattrs

	return fi, nil
}

// readXattrs lists and reads every xattr on fsPath (without following a
// symlink leaf), dropping security.selinux and failing on a non-UTF-8 key.
func readXattrs(fsPath string) ([]component.Xattr, error) {
	size, err := unix.Llistxattr(fsPath, nil)
	if err != nil {
		if err == unix.ENOTSUP || err == unix.EOPNOTSUPP {
			return nil, nil
		}
		return nil, fmt.Errorf("listing xattrs: %w", err)
	}
	if size == 0 {
		return nil, nil
	}

	buf := make([]byte, size)
	n, err := unix.Llistxattr(fsPath, buf)
	if err != nil {
		return nil, fmt.Errorf("listing xattrs: %w", err)
	}

	var keys []string
	for _, raw := range strings.Split(string(buf[:n]), "\x00") {
		if raw != "" {
			keys = append(keys, raw)
		}
	}
	sort.Strings(keys)

	var out []component.Xattr
	for _, key := range keys {
		if key == "security.selinux" {
			continue
		}
		if !utf8.ValidString(key) {
			return nil, fmt.Errorf("non-UTF-8 xattr key on %s", fsPath)
		}
		vsize, err := unix.Lgetxattr(fsPath, key, nil)
		if err != nil {
			return nil, fmt.Errorf("reading xattr %s: %w", key, err)
		}
		val := make([]byte, vsize)
		if vsize > 0 {
			n, err := unix.Lgetxattr(fsPath, key, val)
			if err != nil {
				return nil, fmt.Errorf("reading xattr %s: %w", key, err)
			}
			val = val[:n]
		}
		out = append(out, component.Xattr{Key: key, Value: val})
	}

	return out, nil
}
