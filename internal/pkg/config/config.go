// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package config parses the three JSON shapes accepted for a base OCI
// image config, applies the KEY=VALUE label/annotation mutation DSL, and
// assembles the final image configuration handed to the layer builder.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	digest "github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// Parsed holds everything extracted from a base config input: the OCI
// container config, any manifest annotations carried by an inspect-shaped
// input, and an optional architecture override.
type Parsed struct {
	Config       v1.ImageConfig
	Annotations  map[string]string
	Architecture string
}

// inspectRecord mirrors a single podman/docker `inspect` element.
type inspectRecord struct {
	Config       v1.ImageConfig    `json:"Config"`
	Annotations  map[string]string `json:"Annotations"`
	Architecture string            `json:"Architecture"`
}

// ParseInput auto-detects and parses one of three accepted shapes: a bare
// OCI Config object, a podman/docker inspect array (last element wins), or
// a single inspect object.
func ParseInput(data []byte) (Parsed, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Parsed{}, fmt.Errorf("empty config input")
	}

	if trimmed[0] == '[' {
		var records []inspectRecord
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return Parsed{}, fmt.Errorf("parsing inspect array: %w", err)
		}
		if len(records) == 0 {
			return Parsed{}, fmt.Errorf("inspect output is an empty array")
		}
		last := records[len(records)-1]
		return Parsed{Config: last.Config, Annotations: last.Annotations, Architecture: last.Architecture}, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return Parsed{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	if _, isInspect := probe["Config"]; isInspect {
		var record inspectRecord
		if err := json.Unmarshal(trimmed, &record); err != nil {
			return Parsed{}, fmt.Errorf("parsing inspect object: %w", err)
		}
		return Parsed{Config: record.Config, Annotations: record.Annotations, Architecture: record.Architecture}, nil
	}

	var direct v1.ImageConfig
	if err := json.Unmarshal(trimmed, &direct); err != nil {
		return Parsed{}, fmt.Errorf("parsing direct config: %w", err)
	}
	return Parsed{Config: direct}, nil
}

// ParseKeyValuePairs applies a sequence of KEY=VALUE | KEY- | - mutations
// to a copy of base, in order, and returns the result. "-" clears every
// key accumulated so far, including those already present in base.
func ParseKeyValuePairs(pairs []string, base map[string]string) (map[string]string, error) {
	result := make(map[string]string, len(base))
	for k, v := range base {
		result[k] = v
	}

	for _, pair := range pairs {
		if pair == "-" {
			result = make(map[string]string)
			continue
		}
		if k, v, ok := strings.Cut(pair, "="); ok {
			if k == "" {
				return nil, fmt.Errorf("key cannot be empty: %s", pair)
			}
			result[k] = v
			continue
		}
		if k, ok := strings.CutSuffix(pair, "-"); ok {
			if k == "" {
				result = make(map[string]string)
				continue
			}
			delete(result, k)
			continue
		}
		return nil, fmt.Errorf("label must be in KEY=VALUE or KEY- format: %s", pair)
	}

	return result, nil
}

// ApplyLabels returns a copy of cfg with its Labels replaced by the
// result of applying labelArgs on top of cfg's existing labels. If the
// merged map ends up empty, Labels is left nil rather than set to an
// empty, non-nil map.
func ApplyLabels(cfg v1.ImageConfig, labelArgs []string) (v1.ImageConfig, error) {
	merged, err := ParseKeyValuePairs(labelArgs, cfg.Labels)
	if err != nil {
		return v1.ImageConfig{}, fmt.Errorf("parsing labels: %w", err)
	}
	out := cfg
	if len(merged) > 0 {
		out.Labels = merged
	} else {
		out.Labels = nil
	}
	return out, nil
}

// BuildImage assembles the final v1.Image (the OCI image configuration
// blob) from a base container config, CLI label overrides, the build
// timestamp, and the normalized target architecture. The RootFS DiffIDs
// are left empty; the layer builder populates them as it writes layers.
func BuildImage(cfg v1.ImageConfig, labelArgs []string, created uint64, architecture string) (*v1.Image, error) {
	applied, err := ApplyLabels(cfg, labelArgs)
	if err != nil {
		return nil, fmt.Errorf("applying cli configs: %w", err)
	}

	createdTime := time.Unix(int64(created), 0).UTC()

	return &v1.Image{
		Created:      &createdTime,
		OS:           "linux",
		Architecture: architecture,
		Config:       applied,
		RootFS: v1.RootFS{
			Type:    "layers",
			DiffIDs: []digest.Digest{},
		},
	}, nil
}
