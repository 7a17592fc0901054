// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package alpm

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	sectionBase      = "BASE"
	sectionBuildDate = "BUILDDATE"
	sectionFiles     = "FILES"
)

// dbFile is a parsed ALPM local database file (desc or files): a
// newline-delimited series of %SECTION% headers, each followed by zero
// or more content lines.
//
// cf. https://alpm.archlinux.page/specifications/alpm-db-desc.5.html
// and https://alpm.archlinux.page/specifications/alpm-db-files.5.html
type dbFile struct {
	sections map[string][]string
}

func parseDBFile(content string) (*dbFile, error) {
	sections := make(map[string][]string)
	currentHeader := ""
	haveHeader := false

	for _, line := range strings.Split(content, "\n") {
		if header, ok := matchValidHeader(line); ok {
			if _, exists := sections[header]; exists {
				return nil, fmt.Errorf("duplicate section: %s", header)
			}
			sections[header] = []string{}
			currentHeader = header
			haveHeader = true
		} else {
			if !haveHeader {
				return nil, fmt.Errorf("file must start with a valid header")
			}
			sections[currentHeader] = append(sections[currentHeader], line)
		}
	}

	// Empty lines between sections are ignored: strip trailing empty
	// lines from every section's content.
	for k, v := range sections {
		for len(v) > 0 && v[len(v)-1] == "" {
			v = v[:len(v)-1]
		}
		sections[k] = v
	}

	return &dbFile{sections: sections}, nil
}

// singleLineValue returns the single content line of section, erroring
// if it is absent, empty, or spans more than one line.
func (d *dbFile) singleLineValue(section string) (string, error) {
	lines, ok := d.sections[section]
	if !ok {
		return "", fmt.Errorf("section not found: %s", section)
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("no value found for section %s", section)
	}
	if len(lines) > 1 {
		return "", fmt.Errorf("unexpected extra data in section %s", section)
	}
	return lines[0], nil
}

// multiLineValue returns every content line of section, or (nil, false)
// if the section is absent.
func (d *dbFile) multiLineValue(section string) ([]string, bool) {
	lines, ok := d.sections[section]
	return lines, ok
}

func (d *dbFile) builddate() (uint64, error) {
	v, err := d.singleLineValue(sectionBuildDate)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %%BUILDDATE%%: %w", err)
	}
	return n, nil
}

func (d *dbFile) base() (string, error) {
	return d.singleLineValue(sectionBase)
}

// files returns the %FILES% section's content with empty lines removed.
func (d *dbFile) files() []string {
	lines, ok := d.multiLineValue(sectionFiles)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// matchValidHeader reports whether line is a well-formed section header
// ("%NAME%": starts and ends with '%', non-empty, all-uppercase ASCII
// between them) and returns the section name if so.
func matchValidHeader(line string) (string, bool) {
	if len(line) < 2 || line[0] != '%' || line[len(line)-1] != '%' {
		return "", false
	}
	name := line[1 : len(line)-1]
	if name == "" {
		return "", false
	}
	for _, c := range name {
		if c < 'A' || c > 'Z' {
			return "", false
		}
	}
	return name, true
}
