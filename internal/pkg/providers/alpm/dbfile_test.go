// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package alpm

import "testing"

const descContents = `%NAME%
filesystem

%VERSION%
2025.10.12-1

%BASE%
filesystem

%DESC%
Base Arch Linux files

%URL%
https://archlinux.org

%ARCH%
any

%BUILDDATE%
1760286101

%INSTALLDATE%
1770909753

%PACKAGER%
David Runge <dvzrv@archlinux.org>

%SIZE%
24551

%LICENSE%
0BSD

%VALIDATION%
pgp

%DEPENDS%
iana-etc

%XDATA%
pkgtype=pkg
`

const filesContent = `%FILES%
etc/
etc/protocols
etc/services
usr/
usr/share/
usr/share/iana-etc/
usr/share/iana-etc/port-numbers.iana
usr/share/iana-etc/protocol-numbers.iana
usr/share/licenses/
usr/share/licenses/iana-etc/
usr/share/licenses/iana-etc/LICENSE

%BACKUP%
etc/protocols	b9833a5373ef2f5df416f4f71ccb42eb
etc/services	b80b33810d79289b09bac307a99b4b54
`

func TestParseDesc(t *testing.T) {
	d, err := parseDBFile(descContents)
	if err != nil {
		t.Fatalf("parseDBFile: %v", err)
	}
	base, err := d.base()
	if err != nil || base != "filesystem" {
		t.Errorf("base() = %q, %v, want filesystem, nil", base, err)
	}
	bd, err := d.builddate()
	if err != nil || bd != 1760286101 {
		t.Errorf("builddate() = %d, %v, want 1760286101, nil", bd, err)
	}
	name, err := d.singleLineValue("NAME")
	if err != nil || name != "filesystem" {
		t.Errorf("singleLineValue(NAME) = %q, %v, want filesystem, nil", name, err)
	}
}

func TestParseFiles(t *testing.T) {
	d, err := parseDBFile(filesContent)
	if err != nil {
		t.Fatalf("parseDBFile: %v", err)
	}

	want := []string{
		"etc/",
		"etc/protocols",
		"etc/services",
		"usr/",
		"usr/share/",
		"usr/share/iana-etc/",
		"usr/share/iana-etc/port-numbers.iana",
		"usr/share/iana-etc/protocol-numbers.iana",
		"usr/share/licenses/",
		"usr/share/licenses/iana-etc/",
		"usr/share/licenses/iana-etc/LICENSE",
	}
	got := d.files()
	if len(got) != len(want) {
		t.Fatalf("files() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("files()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	backup, ok := d.multiLineValue("BACKUP")
	if !ok {
		t.Fatal("expected BACKUP section")
	}
	wantBackup := []string{
		"etc/protocols\tb9833a5373ef2f5df416f4f71ccb42eb",
		"etc/services\tb80b33810d79289b09bac307a99b4b54",
	}
	if len(backup) != len(wantBackup) {
		t.Fatalf("multiLineValue(BACKUP) = %v, want %v", backup, wantBackup)
	}
	for i := range wantBackup {
		if backup[i] != wantBackup[i] {
			t.Errorf("multiLineValue(BACKUP)[%d] = %q, want %q", i, backup[i], wantBackup[i])
		}
	}
}

func TestMatchValidHeader(t *testing.T) {
	cases := []struct {
		line    string
		want    string
		matches bool
	}{
		{"%NAME%", "NAME", true},
		{"%BUILDDATE%", "BUILDDATE", true},
		{"%%", "", false},
		{"%Name%", "", false},
		{"NAME", "", false},
		{"%NAME", "", false},
	}
	for _, c := range cases {
		got, ok := matchValidHeader(c.line)
		if ok != c.matches || got != c.want {
			t.Errorf("matchValidHeader(%q) = %q, %v, want %q, %v", c.line, got, ok, c.want, c.matches)
		}
	}
}

func TestParseDBFileDuplicateSectionRejected(t *testing.T) {
	if _, err := parseDBFile("%NAME%\nfoo\n%NAME%\nbar\n"); err == nil {
		t.Error("expected error for duplicate section")
	}
}

func TestParseDBFileRequiresHeaderFirst(t *testing.T) {
	if _, err := parseDBFile("loose content\n%NAME%\nfoo\n"); err == nil {
		t.Error("expected error for content before any header")
	}
}
