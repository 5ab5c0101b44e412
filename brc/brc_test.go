// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package brc

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigslice/exec"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

var measurementRE = regexp.MustCompile(`^-?[0-9]+\.[0-9]$`)

func TestRound(t *testing.T) {
	for _, c := range []struct{ x, want float64 }{
		{1.25, 1.3},
		{-1.25, -1.3},
		{12.34, 12.3},
		{-0.04, 0},
		{99.96, 100},
	} {
		if got := Round(c.x); got != c.want {
			t.Errorf("Round(%v): got %v, want %v", c.x, got, c.want)
		}
	}
	expect.EQ(t, string(AppendMeasurement(nil, -0.04)), "0.0")
	expect.EQ(t, string(AppendMeasurement(nil, 7)), "7.0")
}

func TestLineCodec(t *testing.T) {
	fz := fuzz.New().NilChance(0)
	for i := 0; i < 1000; i++ {
		var (
			name string
			v    float64
		)
		fz.Fuzz(&name)
		fz.Fuzz(&v)
		name = strings.Map(func(r rune) rune {
			if r == Separator || r == '\n' || r == '\r' {
				return 'x'
			}
			return r
		}, name)
		if name == "" {
			name = "Oslo"
		}
		v = float64(int64(v)%2000) / 10
		line := AppendLine(nil, name, v)
		if line[len(line)-1] != '\n' {
			t.Fatalf("line %q does not end in newline", line)
		}
		line = line[:len(line)-1]
		if m := line[bytes.LastIndexByte(line, Separator)+1:]; !measurementRE.Match(m) {
			t.Fatalf("measurement %q does not have one decimal digit", m)
		}
		gotName, gotV, err := ParseLine(line)
		if err != nil {
			t.Fatal(err)
		}
		if gotName != name || gotV != Round(v) {
			t.Fatalf("got %q %v, want %q %v", gotName, gotV, name, Round(v))
		}
	}
}

func TestParseLine(t *testing.T) {
	for _, c := range []struct {
		line string
		name string
		v    float64
	}{
		{"Hamburg;12.0", "Hamburg", 12},
		{"St. John's;-5.3", "St. John's", -5.3},
		{"a;b;0.1", "a;b", 0.1},
		{"Oslo;3", "Oslo", 3},
		{"Oslo;-0.25", "Oslo", -0.25},
		{"Oslo;999.9", "Oslo", 999.9},
		{"Oslo;-999.9", "Oslo", -999.9},
	} {
		name, v, err := ParseLine([]byte(c.line))
		assert.NoError(t, err)
		expect.EQ(t, name, c.name)
		expect.EQ(t, v, c.v)
	}
	for _, bad := range []string{
		"", "Hamburg", ";1.0", "Hamburg;", "Hamburg;x", "Hamburg;NaN", "Hamburg;-",
		"Hamburg;1e300", "Hamburg;1000.0", "Hamburg;-1000", "Hamburg;99999.9",
	} {
		if _, _, err := ParseLine([]byte(bad)); !errors.Is(errors.Invalid, err) {
			t.Errorf("%q: got %v, want invalid", bad, err)
		}
	}
}

func TestChunks(t *testing.T) {
	expect.EQ(t, Chunks(1000000000, 200000000), int64(5))
	expect.EQ(t, Chunks(10, 3), int64(4))
	expect.EQ(t, Chunks(0, 3), int64(0))
}

func TestStats(t *testing.T) {
	var a, b Stats
	for _, v := range []float64{1.5, -2.0, 3.1} {
		a.Add(v)
	}
	b.Add(10.0)
	m := Merged(a, b)
	expect.EQ(t, m, Stats{Min: -20, Max: 100, Sum: 126, Count: 4})
	expect.EQ(t, Merged(Stats{}, b), b)
	expect.EQ(t, m.Row("x"), Row{Station: "x", Min: -2, Mean: 3.2, Max: 10, Count: 4})
	expect.EQ(t, Format([]Row{m.Row("x"), b.Row("y")}), "{x=-2.0/3.2/10.0, y=10.0/10.0/10.0}")
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	assert.NoError(t, err)
	defer f.Close()
	var lines []string
	scan := bufio.NewScanner(f)
	for scan.Scan() {
		lines = append(lines, scan.Text())
	}
	assert.NoError(t, scan.Err())
	return lines
}

func TestGenerate(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	path := filepath.Join(dir, "measurements.txt")
	assert.NoError(t, Generate(ctx, path, DefaultTable, GenerateOptions{Rows: 1000, ChunkSize: 300, Seed: 1}))
	lines := readLines(t, path)
	assert.EQ(t, len(lines), 1000)
	for _, line := range lines {
		name, _, err := ParseLine([]byte(line))
		assert.NoError(t, err)
		if !DefaultTable.Contains(name) {
			t.Fatalf("station %q not in table", name)
		}
		if m := line[strings.LastIndexByte(line, Separator)+1:]; !measurementRE.MatchString(m) {
			t.Fatalf("measurement %q does not have one decimal digit", m)
		}
	}

	// Generation is deterministic, and a second run replaces the file.
	first, err := ioutil.ReadFile(path)
	assert.NoError(t, err)
	assert.NoError(t, Generate(ctx, path, DefaultTable, GenerateOptions{Rows: 1000, ChunkSize: 300, Seed: 1}))
	second, err := ioutil.ReadFile(path)
	assert.NoError(t, err)
	assert.True(t, bytes.Equal(first, second))
	assert.NoError(t, Generate(ctx, path, DefaultTable, GenerateOptions{Rows: 10, ChunkSize: 300, Seed: 2}))
	assert.EQ(t, len(readLines(t, path)), 10)

	// Measurements are clamped to the range the parser accepts.
	assert.NoError(t, Generate(ctx, path, Table{{"Hot", 995}, {"Cold", -995}}, GenerateOptions{Rows: 500, ChunkSize: 100, StdDev: 50}))
	for _, line := range readLines(t, path) {
		_, v, err := ParseLine([]byte(line))
		assert.NoError(t, err)
		expect.True(t, math.Abs(v) <= MaxMeasurement)
	}

	if err := Generate(ctx, path, DefaultTable, GenerateOptions{Rows: 10}); !errors.Is(errors.Invalid, err) {
		t.Errorf("got %v, want invalid", err)
	}
	if err := Generate(ctx, path, Table{{"a", 1}, {"a", 2}}, GenerateOptions{Rows: 10, ChunkSize: 1}); !errors.Is(errors.Invalid, err) {
		t.Errorf("got %v, want invalid", err)
	}
}

func TestAggregate(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	path := filepath.Join(dir, "measurements.txt")
	table := DefaultTable[:10]
	const n = 5000
	assert.NoError(t, Generate(ctx, path, table, GenerateOptions{Rows: n, ChunkSize: 777, Seed: 3}))

	ref, err := Reference(ctx, path)
	assert.NoError(t, err)
	assert.EQ(t, ref.Lines, uint64(n))
	assert.EQ(t, len(ref.Rows), len(table))
	assert.True(t, sort.SliceIsSorted(ref.Rows, func(i, j int) bool { return ref.Rows[i].Station < ref.Rows[j].Station }))
	var count int64
	for _, r := range ref.Rows {
		assert.True(t, table.Contains(r.Station))
		assert.True(t, r.Min <= r.Mean && r.Mean <= r.Max, r)
		count += r.Count
	}
	assert.EQ(t, count, int64(n))

	sess := exec.Start(exec.Local, exec.Parallelism(4))
	defer sess.Shutdown()
	for _, nshard := range []int{1, 3, 8, 64} {
		res, err := Run(ctx, sess, path, nshard)
		assert.NoError(t, err)
		if !reflect.DeepEqual(res.Rows, ref.Rows) {
			t.Errorf("nshard=%d: got %v, want %v", nshard, Format(res.Rows), Format(ref.Rows))
		}
	}
}

func TestAggregateLineBoundaries(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	path := filepath.Join(dir, "measurements.txt")
	var b strings.Builder
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&b, "s%d;%d.%d\n", i%7, i, i%10)
	}
	b.WriteString("s0;-99.9") // no trailing newline
	assert.NoError(t, ioutil.WriteFile(path, []byte(b.String()), 0644))
	ref, err := Reference(ctx, path)
	assert.NoError(t, err)
	assert.EQ(t, ref.Lines, uint64(51))
	assert.EQ(t, ref.Rows[0].Station, "s0")
	assert.EQ(t, ref.Rows[0].Min, -99.9)
	for nshard := 1; nshard < 20; nshard++ {
		var (
			total  = make(map[string]Stats)
			nlines int64
		)
		for shard := 0; shard < nshard; shard++ {
			stats, err := aggregateRange(ctx, path, shard, nshard)
			assert.NoError(t, err)
			for name, s := range stats {
				m := total[name]
				m.Merge(*s)
				total[name] = m
				nlines += s.Count
			}
		}
		assert.EQ(t, nlines, int64(51))
		if got := Rows(total); !reflect.DeepEqual(got, ref.Rows) {
			t.Errorf("nshard=%d: got %v, want %v", nshard, Format(got), Format(ref.Rows))
		}
	}
}

func TestAggregateMalformed(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	path := filepath.Join(dir, "measurements.txt")
	assert.NoError(t, ioutil.WriteFile(path, []byte("Oslo;1.0\nOslo 2.0\n"), 0644))
	if _, err := Reference(ctx, path); !errors.Is(errors.Invalid, err) {
		t.Errorf("got %v, want invalid", err)
	}
	sess := exec.Start(exec.Local)
	defer sess.Shutdown()
	if _, err := Run(ctx, sess, path, 2); err == nil {
		t.Error("expected an error")
	}
	assert.NoError(t, ioutil.WriteFile(path, []byte("Oslo;1e300\nOslo;1.0\n"), 0644))
	if _, err := Reference(ctx, path); !errors.Is(errors.Invalid, err) {
		t.Errorf("got %v, want invalid", err)
	}
	if _, err := Run(ctx, sess, path, 2); err == nil {
		t.Error("expected an error")
	}
	if _, err := Run(ctx, sess, filepath.Join(dir, "missing.txt"), 2); err == nil {
		t.Error("expected an error")
	}
}

func TestLoadTable(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	path := filepath.Join(dir, "lookup.csv")
	assert.NoError(t, ioutil.WriteFile(path, []byte("# Stations\nAbha;18.0\n\nSt. John's;5.0\n"), 0644))
	table, err := LoadTable(ctx, path)
	assert.NoError(t, err)
	assert.EQ(t, table, Table{{"Abha", 18}, {"St. John's", 5}})

	assert.NoError(t, ioutil.WriteFile(path, []byte("Abha 18.0\n"), 0644))
	if _, err := LoadTable(ctx, path); !errors.Is(errors.Invalid, err) {
		t.Errorf("got %v, want invalid", err)
	}
	assert.NoError(t, DefaultTable.Validate())
}

func TestReport(t *testing.T) {
	res := Result{Rows: []Row{{Station: "Oslo", Min: 1, Mean: 2, Max: 3, Count: 2000}}, Lines: 2000}
	r := Report{Path: "m.txt", Shards: 4, Parallelism: 2, Result: res, Elapsed: time.Second}
	var b strings.Builder
	assert.NoError(t, r.Write(&b))
	expect.True(t, strings.Contains(b.String(), "2,000"))
	expect.False(t, strings.Contains(b.String(), "reference"))

	ref := res
	ref.Rows = append([]Row(nil), res.Rows...)
	r.Reference, r.ReferenceElapsed = &ref, 3*time.Second
	expect.True(t, r.Match())
	b.Reset()
	assert.NoError(t, r.Write(&b))
	expect.True(t, strings.Contains(b.String(), "3.00x"))
	ref.Rows[0].Max = 4
	expect.False(t, r.Match())
}
