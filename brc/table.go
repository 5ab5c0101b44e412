// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package brc implements the billion-row aggregation benchmark: it
// generates a large file of "station;measurement" lines from a lookup
// table of station means, and computes the minimum, mean and maximum
// measurement of every station with a bigslice reduction.
package brc

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
)

// Station is a weather station and its baseline mean temperature.
type Station struct {
	Name string
	Mean float64
}

// Table is an immutable lookup table of stations.
type Table []Station

// DefaultTable is a built-in lookup table, a subset of the stations
// used by the One Billion Row Challenge.
var DefaultTable = Table{
	{"Abha", 18.0},
	{"Abidjan", 26.0},
	{"Accra", 26.4},
	{"Addis Ababa", 16.0},
	{"Adelaide", 17.3},
	{"Albuquerque", 14.0},
	{"Alexandria", 20.0},
	{"Amsterdam", 10.2},
	{"Anchorage", 2.8},
	{"Athens", 19.2},
	{"Baghdad", 22.77},
	{"Bangkok", 28.6},
	{"Barcelona", 18.2},
	{"Beijing", 12.9},
	{"Berlin", 10.3},
	{"Bogotá", 13.2},
	{"Boston", 10.9},
	{"Budapest", 11.3},
	{"Cairo", 21.4},
	{"Cape Town", 16.2},
	{"Chicago", 9.8},
	{"Copenhagen", 9.1},
	{"Dakar", 24.0},
	{"Dhaka", 25.9},
	{"Dublin", 9.8},
	{"Hamburg", 9.7},
	{"Helsinki", 5.9},
	{"Hong Kong", 23.3},
	{"Istanbul", 13.9},
	{"Jakarta", 26.7},
	{"Lagos", 26.8},
	{"Lima", 19.1},
	{"London", 11.3},
	{"Madrid", 15.0},
	{"Mexico City", 17.5},
	{"Moscow", 5.8},
	{"Mumbai", 27.1},
	{"Nairobi", 17.8},
	{"New York City", 12.9},
	{"Oslo", 5.7},
	{"Paris", 12.3},
	{"Reykjavík", 4.3},
	{"San Francisco", 14.6},
	{"São Paulo", 19.7},
	{"Seoul", 12.5},
	{"Singapore", 27.0},
	{"Stockholm", 6.6},
	{"Sydney", 17.7},
	{"Tokyo", 15.4},
	{"Toronto", 9.4},
	{"Vancouver", 10.4},
	{"Zürich", 9.3},
}

// Validate checks that t is non-empty with distinct, well-formed
// names.
func (t Table) Validate() error {
	if len(t) == 0 {
		return errors.E(errors.Invalid, "empty lookup table")
	}
	seen := make(map[string]bool, len(t))
	for _, s := range t {
		if s.Name == "" || strings.ContainsAny(s.Name, ";\n") {
			return errors.E(errors.Invalid, fmt.Sprintf("invalid station name %q", s.Name))
		}
		if seen[s.Name] {
			return errors.E(errors.Invalid, fmt.Sprintf("duplicate station %q", s.Name))
		}
		seen[s.Name] = true
	}
	return nil
}

// Contains tells whether t has a station with the given name.
func (t Table) Contains(name string) bool {
	for _, s := range t {
		if s.Name == name {
			return true
		}
	}
	return false
}

// LoadTable reads a lookup table of "name;mean" lines from path.
// Blank lines and lines starting with '#' are skipped.
func LoadTable(ctx context.Context, path string) (Table, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer f.Close(ctx) // nolint: errcheck
	var (
		t    Table
		scan = bufio.NewScanner(f.Reader(ctx))
	)
	for line := 1; scan.Scan(); line++ {
		text := strings.TrimSpace(scan.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		i := strings.LastIndexByte(text, ';')
		if i < 0 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("%s:%d: missing ';'", path, line))
		}
		mean, err := strconv.ParseFloat(text[i+1:], 64)
		if err != nil {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("%s:%d: bad mean %q", path, line, text[i+1:]))
		}
		t = append(t, Station{text[:i], mean})
	}
	if err := scan.Err(); err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, errors.E(path, err)
	}
	return t, nil
}
