// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package ociarchive

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
	digest "github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/oci-tools/rechunk/internal/pkg/component"
)

var versioned = specs.Versioned{SchemaVersion: 2}

// Group is one packed layer: its display name (used as the OCI history
// entry's CreatedBy) and the files it owns. Components with zero files
// produce no layer and no history entry (spec §4.7).
type Group struct {
	Name      string
	Component *component.Component
}

// Options configures a Build call.
type Options struct {
	Compress         bool
	CompressionLevel int
	Image            *v1.Image
	Annotations      map[string]string
}

// Build writes a complete OCI image layout, serialized as a tar archive,
// to w: oci-layout, one blob per non-empty group, a config blob, a
// manifest blob, and index.json, in that fixed order. When opts.Compress is
// set, both the layers and the outer archive are gzip-compressed.
func Build(w io.Writer, rootfs string, groups []Group, opts Options) error {
	image := *opts.Image

	var outer io.Writer = w
	var gz *gzip.Writer
	if opts.Compress {
		var err error
		gz, err = gzip.NewWriterLevel(w, opts.CompressionLevel)
		if err != nil {
			return fmt.Errorf("creating archive gzip writer: %w", err)
		}
		outer = gz
	}

	tw := tar.NewWriter(outer)

	if err := writeOCILayout(tw); err != nil {
		return err
	}

	var diffIDs []digest.Digest
	var history []v1.History
	layerDescriptors := []v1.Descriptor{}

	for _, g := range groups {
		if g.Component.Files.Len() == 0 {
			continue
		}

		l, err := buildLayer(rootfs, g.Component, opts.Compress, opts.CompressionLevel)
		if err != nil {
			return fmt.Errorf("building layer %s: %w", g.Name, err)
		}

		if err := writeBlobFromReader(tw, l.digest, l.size, l.blob); err != nil {
			l.Close()
			return fmt.Errorf("writing layer blob %s: %w", g.Name, err)
		}
		if err := l.Close(); err != nil {
			return fmt.Errorf("finalizing layer blob %s: %w", g.Name, err)
		}

		diffIDs = append(diffIDs, l.diffID)
		history = append(history, v1.History{
			Created:   image.Created,
			CreatedBy: g.Name,
		})
		layerDescriptors = append(layerDescriptors, v1.Descriptor{
			MediaType: l.mediaType,
			Digest:    l.digest,
			Size:      l.size,
		})
	}

	image.RootFS.DiffIDs = diffIDs
	image.History = history

	configBytes, err := json.Marshal(image)
	if err != nil {
		return fmt.Errorf("marshaling image config: %w", err)
	}
	configDigest := digest.FromBytes(configBytes)
	if err := writeBlobBytes(tw, configDigest, configBytes); err != nil {
		return fmt.Errorf("writing config blob: %w", err)
	}

	manifest := v1.Manifest{
		Versioned: versioned,
		MediaType: v1.MediaTypeImageManifest,
		Config: v1.Descriptor{
			MediaType: v1.MediaTypeImageConfig,
			Digest:    configDigest,
			Size:      int64(len(configBytes)),
		},
		Layers:      layerDescriptors,
		Annotations: opts.Annotations,
	}
	manifestBytes, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	manifestDigest := digest.FromBytes(manifestBytes)
	if err := writeBlobBytes(tw, manifestDigest, manifestBytes); err != nil {
		return fmt.Errorf("writing manifest blob: %w", err)
	}

	index := v1.Index{
		Versioned: versioned,
		MediaType: v1.MediaTypeImageIndex,
		Manifests: []v1.Descriptor{{
			MediaType: v1.MediaTypeImageManifest,
			Digest:    manifestDigest,
			Size:      int64(len(manifestBytes)),
		}},
	}
	indexBytes, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("marshaling index: %w", err)
	}
	if err := writeTarBytes(tw, "index.json", 0o644, indexBytes); err != nil {
		return fmt.Errorf("writing index.json: %w", err)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing archive: %w", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("closing archive gzip: %w", err)
		}
	}
	return nil
}

func writeOCILayout(tw *tar.Writer) error {
	layout := v1.ImageLayout{Version: v1.ImageLayoutVersion}
	data, err := json.Marshal(layout)
	if err != nil {
		return fmt.Errorf("marshaling oci-layout: %w", err)
	}
	if err := writeTarBytes(tw, v1.ImageLayoutFile, 0o644, data); err != nil {
		return fmt.Errorf("writing oci-layout: %w", err)
	}
	return nil
}

func writeBlobBytes(tw *tar.Writer, d digest.Digest, data []byte) error {
	return writeTarBytes(tw, blobPath(d), 0o444, data)
}

func writeBlobFromReader(tw *tar.Writer, d digest.Digest, size int64, r io.Reader) error {
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     blobPath(d),
		Mode:     0o444,
		Size:     size,
		ModTime:  epoch,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing header for %s: %w", hdr.Name, err)
	}
	if _, err := io.CopyN(tw, r, size); err != nil {
		return fmt.Errorf("copying %s: %w", hdr.Name, err)
	}
	return nil
}

func blobPath(d digest.Digest) string {
	return "blobs/" + d.Algorithm().String() + "/" + d.Encoded()
}

// epoch is the fixed modification time stamped on every OCI-layout
// metadata entry (oci-layout, index.json, blobs), so two builds from
// identical inputs produce byte-identical archives regardless of when
// they were run.
var epoch = time.Unix(0, 0).UTC()

func writeTarBytes(tw *tar.Writer, name string, mode int64, data []byte) error {
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Mode:     mode,
		Size:     int64(len(data)),
		ModTime:  epoch,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing header for %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}
