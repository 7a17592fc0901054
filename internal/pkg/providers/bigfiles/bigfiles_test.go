// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package bigfiles

import (
	"testing"

	"github.com/oci-tools/rechunk/internal/pkg/component"
)

func TestLoadNoQualifyingFiles(t *testing.T) {
	files := component.NewFileMap()
	files.Insert("/small", component.FileInfo{Type: component.RegularFile, Size: 100})
	files.Insert("/dir", component.FileInfo{Type: component.Directory})

	if repo := Load(files, 0); repo != nil {
		t.Fatalf("expected nil repo, got %+v", repo)
	}
}

func TestLoadStandaloneFile(t *testing.T) {
	files := component.NewFileMap()
	files.Insert("/usr/lib/libbig.so", component.FileInfo{Type: component.RegularFile, Size: 2 * minSize})

	repo := Load(files, 42)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}

	ids := repo.ClaimsForPath("/usr/lib/libbig.so", component.RegularFile)
	if len(ids) != 1 {
		t.Fatalf("expected 1 claim, got %d", len(ids))
	}
	info := repo.ComponentInfo(ids[0])
	if info.Name != "libbig.so" {
		t.Errorf("expected component name %q, got %q", "libbig.so", info.Name)
	}
	if info.MtimeClamp != 42 {
		t.Errorf("expected mtime clamp 42, got %d", info.MtimeClamp)
	}
	if info.Stability != 0.0 {
		t.Errorf("expected zero stability, got %f", info.Stability)
	}
}

func TestLoadNameCollisionUsesFullPath(t *testing.T) {
	files := component.NewFileMap()
	files.Insert("/usr/lib/data.bin", component.FileInfo{Type: component.RegularFile, Size: minSize})
	files.Insert("/opt/app/data.bin", component.FileInfo{Type: component.RegularFile, Size: minSize})

	repo := Load(files, 0)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}

	firstIDs := repo.ClaimsForPath("/usr/lib/data.bin", component.RegularFile)
	secondIDs := repo.ClaimsForPath("/opt/app/data.bin", component.RegularFile)
	if len(firstIDs) != 1 || len(secondIDs) != 1 {
		t.Fatalf("expected both paths claimed, got %v and %v", firstIDs, secondIDs)
	}

	firstName := repo.ComponentInfo(firstIDs[0]).Name
	secondName := repo.ComponentInfo(secondIDs[0]).Name
	if firstName == secondName {
		t.Errorf("expected distinct component names for colliding basenames, got %q for both", firstName)
	}
	// Paths are processed in sorted order, so /opt/app/data.bin takes the
	// basename and /usr/lib/data.bin, seen later, falls back to its full path.
	if firstName != "usr/lib/data.bin" {
		t.Errorf("expected the later path in sorted order to be named by full path, got %q", firstName)
	}
}

func TestLoadHardlinkedFilesShareComponent(t *testing.T) {
	files := component.NewFileMap()
	files.Insert("/a/big", component.FileInfo{Type: component.RegularFile, Size: minSize, Ino: 7, Nlink: 2})
	files.Insert("/b/big", component.FileInfo{Type: component.RegularFile, Size: minSize, Ino: 7, Nlink: 2})

	repo := Load(files, 0)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}

	idA := repo.ClaimsForPath("/a/big", component.RegularFile)
	idB := repo.ClaimsForPath("/b/big", component.RegularFile)
	if len(idA) != 1 || len(idB) != 1 || idA[0] != idB[0] {
		t.Fatalf("expected hardlinked paths to share a component id, got %v and %v", idA, idB)
	}
	if len(repo.components) != 1 {
		t.Errorf("expected exactly 1 component, got %d", len(repo.components))
	}
}

func TestClaimsForUnrelatedPath(t *testing.T) {
	files := component.NewFileMap()
	files.Insert("/big", component.FileInfo{Type: component.RegularFile, Size: minSize})

	repo := Load(files, 0)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
	if ids := repo.ClaimsForPath("/other", component.RegularFile); ids != nil {
		t.Errorf("expected no claim for unrelated path, got %v", ids)
	}
}
