// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package rpm

import (
	"syscall"
	"testing"

	"github.com/oci-tools/rechunk/internal/pkg/component"
)

func TestParseSRPMName(t *testing.T) {
	cases := []struct{ srpm, want string }{
		{"bash-5.2.15-5.fc40.src.rpm", "bash"},
		{"glibc-2.39-6.fc40.src.rpm", "glibc"},
		{"a-b-c-1.0-1.fc40.src.rpm", "a-b-c"},
		{"noversion.src.rpm", "noversion"},
		{"", ""},
	}
	for _, c := range cases {
		if got := parseSRPMName(c.srpm); got != c.want {
			t.Errorf("parseSRPMName(%q) = %q, want %q", c.srpm, got, c.want)
		}
	}
}

func reg(path string, mode uint32) fileRecord {
	return fileRecord{path: path, mode: mode}
}

func TestClaimsForPath(t *testing.T) {
	pkgs := []packageRecord{
		{
			name:      "bash",
			sourceRpm: "bash-5.2.15-5.fc40.src.rpm",
			buildTime: 1000,
			files: []fileRecord{
				reg("/usr/bin/bash", syscall.S_IFREG),
				reg("/usr/share/doc/bash", syscall.S_IFDIR),
			},
		},
	}

	files := component.NewFileMap()
	repo, err := loadFromRecords(pkgs, "/rootfs", files, 2000)
	if err != nil {
		t.Fatalf("loadFromRecords: %v", err)
	}

	ids := repo.ClaimsForPath("/usr/bin/bash", component.RegularFile)
	if len(ids) != 1 {
		t.Fatalf("expected 1 claim, got %v", ids)
	}
	info := repo.ComponentInfo(ids[0])
	if info.Name != "bash" {
		t.Errorf("expected component name bash, got %q", info.Name)
	}
	if info.MtimeClamp != 1000 {
		t.Errorf("expected mtime clamp 1000, got %d", info.MtimeClamp)
	}

	dirIds := repo.ClaimsForPath("/usr/share/doc/bash", component.Directory)
	if len(dirIds) != 1 || dirIds[0] != ids[0] {
		t.Errorf("expected directory claimed by same component, got %v", dirIds)
	}
}

func TestClaimsForPathWrongType(t *testing.T) {
	pkgs := []packageRecord{
		{
			name:      "bash",
			sourceRpm: "bash-5.2.15-5.fc40.src.rpm",
			buildTime: 1000,
			files: []fileRecord{
				reg("/usr/bin/bash", syscall.S_IFREG),
			},
		},
	}

	files := component.NewFileMap()
	repo, err := loadFromRecords(pkgs, "/rootfs", files, 2000)
	if err != nil {
		t.Fatalf("loadFromRecords: %v", err)
	}

	if ids := repo.ClaimsForPath("/usr/bin/bash", component.Directory); len(ids) != 0 {
		t.Errorf("expected no claims for mismatched file type, got %v", ids)
	}
	if ids := repo.ClaimsForPath("/usr/bin/bash", component.Symlink); len(ids) != 0 {
		t.Errorf("expected no claims for mismatched file type, got %v", ids)
	}
}

func TestSharedDirectoriesClaimedByMultipleComponents(t *testing.T) {
	pkgs := []packageRecord{
		{
			name:      "foo",
			sourceRpm: "foo-1.0-1.fc40.src.rpm",
			buildTime: 1000,
			files: []fileRecord{
				reg("/usr/share/doc", syscall.S_IFDIR),
				reg("/usr/share/doc/foo", syscall.S_IFDIR),
			},
		},
		{
			name:      "bar",
			sourceRpm: "bar-1.0-1.fc40.src.rpm",
			buildTime: 2000,
			files: []fileRecord{
				reg("/usr/share/doc", syscall.S_IFDIR),
				reg("/usr/share/doc/bar", syscall.S_IFDIR),
			},
		},
	}

	files := component.NewFileMap()
	repo, err := loadFromRecords(pkgs, "/rootfs", files, 3000)
	if err != nil {
		t.Fatalf("loadFromRecords: %v", err)
	}

	ids := repo.ClaimsForPath("/usr/share/doc", component.Directory)
	if len(ids) != 2 {
		t.Fatalf("expected /usr/share/doc claimed by both components, got %v", ids)
	}

	names := map[string]bool{}
	for _, id := range ids {
		names[repo.ComponentInfo(id).Name] = true
	}
	if !names["foo"] || !names["bar"] {
		t.Errorf("expected claims from both foo and bar, got %v", names)
	}

	fooIds := repo.ClaimsForPath("/usr/share/doc/foo", component.Directory)
	if len(fooIds) != 1 || repo.ComponentInfo(fooIds[0]).Name != "foo" {
		t.Errorf("expected /usr/share/doc/foo claimed only by foo, got %v", fooIds)
	}
}

func TestSubpackagesShareComponentMtimeClampTakesMax(t *testing.T) {
	pkgs := []packageRecord{
		{
			name:      "foo",
			sourceRpm: "foo-1.0-1.fc40.src.rpm",
			buildTime: 1000,
			files:     []fileRecord{reg("/usr/bin/foo", syscall.S_IFREG)},
		},
		{
			name:      "foo-libs",
			sourceRpm: "foo-1.0-1.fc40.src.rpm",
			buildTime: 5000,
			files:     []fileRecord{reg("/usr/lib/libfoo.so", syscall.S_IFREG)},
		},
	}

	files := component.NewFileMap()
	repo, err := loadFromRecords(pkgs, "/rootfs", files, 6000)
	if err != nil {
		t.Fatalf("loadFromRecords: %v", err)
	}

	if len(repo.components) != 1 {
		t.Fatalf("expected subpackages to collapse into one component, got %d", len(repo.components))
	}
	if repo.components[0].mtimeClamp != 5000 {
		t.Errorf("expected mtime clamp to take the max across subpackages, got %d", repo.components[0].mtimeClamp)
	}
}

func TestClaimsForPathExcludesDatabaseDirectory(t *testing.T) {
	pkgs := []packageRecord{
		{
			name:      "foo",
			sourceRpm: "foo-1.0-1.fc40.src.rpm",
			buildTime: 1000,
			files:     []fileRecord{reg("/usr/bin/foo", syscall.S_IFREG)},
		},
	}

	files := component.NewFileMap()
	repo, err := loadFromRecords(pkgs, "/rootfs", files, 2000)
	if err != nil {
		t.Fatalf("loadFromRecords: %v", err)
	}

	for _, dbPath := range dbPaths {
		if ids := repo.ClaimsForPath("/"+dbPath, component.Directory); len(ids) != 0 {
			t.Errorf("expected no claims under rpm database path %s, got %v", dbPath, ids)
		}
	}
}
