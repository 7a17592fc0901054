// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package ociarchive writes a component packing into a reproducible OCI
// image layout, serialized as a single tar archive, per spec §4.7.
package ociarchive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	digest "github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/oci-tools/rechunk/internal/pkg/component"
)

// layer is one built, materialized layer: a temp file holding its
// (possibly compressed) bytes, plus the digests and size the manifest and
// config need.
type layer struct {
	blob      *os.File
	diffID    digest.Digest
	digest    digest.Digest
	size      int64
	mediaType string
}

func (l *layer) Close() error {
	name := l.blob.Name()
	closeErr := l.blob.Close()
	removeErr := os.Remove(name)
	if closeErr != nil {
		return closeErr
	}
	return removeErr
}

// buildLayer streams comp's files into a deterministic tar, optionally
// gzip-compressing the result, materializing the (possibly compressed)
// bytes into a temp file so neither a full layer nor its digest is held
// in memory at once. The temp file is returned positioned at its start,
// ready to be copied into the outer archive; the caller must Close it.
func buildLayer(rootfs string, comp *component.Component, compress bool, level int) (*layer, error) {
	tmp, err := os.CreateTemp("", "rechunk-layer-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp layer file: %w", err)
	}

	diffDigester := digest.Canonical.Digester()

	var (
		tarWriter   io.Writer
		gz          *gzip.Writer
		layerDigest digest.Digester
		mediaType   = v1.MediaTypeImageLayer
	)
	if compress {
		layerDigest = digest.Canonical.Digester()
		gz, err = gzip.NewWriterLevel(io.MultiWriter(tmp, layerDigest.Hash()), level)
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return nil, fmt.Errorf("creating gzip writer: %w", err)
		}
		tarWriter = io.MultiWriter(gz, diffDigester.Hash())
		mediaType = v1.MediaTypeImageLayerGzip
	} else {
		tarWriter = io.MultiWriter(tmp, diffDigester.Hash())
	}

	tw := tar.NewWriter(tarWriter)
	if err := writeLayerEntries(tw, rootfs, comp); err != nil {
		tw.Close()
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("writing layer for %s: %w", comp.Name, err)
	}
	if err := tw.Close(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("closing layer tar for %s: %w", comp.Name, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return nil, fmt.Errorf("closing layer gzip for %s: %w", comp.Name, err)
		}
	}

	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("measuring layer %s: %w", comp.Name, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("rewinding layer %s: %w", comp.Name, err)
	}

	diffID := diffDigester.Digest()
	finalDigest := diffID
	if compress {
		finalDigest = layerDigest.Digest()
	}

	return &layer{
		blob:      tmp,
		diffID:    diffID,
		digest:    finalDigest,
		size:      size,
		mediaType: mediaType,
	}, nil
}

// writeLayerEntries writes every file in comp, in the FileMap's sorted
// order, as tar entries. Hardlinked regular files (nlink > 1) are written
// once as a full entry and subsequent paths sharing the inode as tar
// hardlink entries referencing it.
func writeLayerEntries(tw *tar.Writer, rootfs string, comp *component.Component) error {
	firstPathForInode := make(map[uint64]string)

	for _, p := range comp.Files.Paths() {
		info, _ := comp.Files.Get(p)
		name := strings.TrimPrefix(p, "/")

		if info.Type == component.RegularFile && info.Nlink > 1 {
			if first, seen := firstPathForInode[info.Ino]; seen {
				hdr := baseHeader(name, info)
				hdr.Typeflag = tar.TypeLink
				hdr.Linkname = strings.TrimPrefix(first, "/")
				hdr.Size = 0
				if err := tw.WriteHeader(hdr); err != nil {
					return fmt.Errorf("writing hardlink entry %s: %w", p, err)
				}
				continue
			}
			firstPathForInode[info.Ino] = p
		}

		hdr := baseHeader(name, info)

		switch info.Type {
		case component.Directory:
			hdr.Typeflag = tar.TypeDir
			hdr.Name = name + "/"
		case component.Symlink:
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = info.LinkTarget
		case component.RegularFile:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = info.Size
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("writing header for %s: %w", p, err)
		}

		if info.Type == component.RegularFile {
			if err := copyFileContent(tw, rootfs, p, info.Size); err != nil {
				return err
			}
		}
	}

	return nil
}

func baseHeader(name string, info component.FileInfo) *tar.Header {
	hdr := &tar.Header{
		Format:  tar.FormatPAX,
		Name:    name,
		Mode:    int64(info.Mode),
		Uid:     0,
		Gid:     0,
		ModTime: time.Unix(info.Mtime, 0),
	}
	if len(info.Xattrs) > 0 {
		hdr.PAXRecords = make(map[string]string, len(info.Xattrs))
		for _, x := range info.Xattrs {
			hdr.PAXRecords[paxSchilyXattr+x.Key] = string(x.Value)
		}
	}
	return hdr
}

const paxSchilyXattr = "SCHILY.xattr."

func copyFileContent(w io.Writer, rootfs, path string, size int64) error {
	f, err := os.Open(filepath.Join(rootfs, path))
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.CopyN(w, f, size); err != nil {
		return fmt.Errorf("copying %s: %w", path, err)
	}
	return nil
}
