// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package brc

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigslice"
	"github.com/grailbio/bigslice/exec"
	"github.com/grailbio/bigslice/sliceio"
)

// Aggregate computes per-station measurement statistics of the file at
// path. The file is read as nshard byte ranges; each shard
// pre-aggregates its lines, and shard results are reduced by station.
// The result is a Slice<string, Stats> in no particular order.
var Aggregate = bigslice.Func(func(path string, nshard int) bigslice.Slice {
	type state struct {
		names []string
		stats map[string]*Stats
	}
	slice := bigslice.ReaderFunc(nshard, func(shard int, state *state, names []string, stats []Stats) (n int, err error) {
		if state.stats == nil {
			state.stats, err = aggregateRange(context.Background(), path, shard, nshard)
			if err != nil {
				return 0, err
			}
			for name := range state.stats {
				state.names = append(state.names, name)
			}
			sort.Strings(state.names)
		}
		for n < len(names) && len(state.names) > 0 {
			names[n], stats[n] = state.names[0], *state.stats[state.names[0]]
			state.names = state.names[1:]
			n++
		}
		if len(state.names) == 0 {
			return n, sliceio.EOF
		}
		return n, nil
	})
	return bigslice.Reduce(slice, Merged)
})

// Result is the outcome of an aggregation.
type Result struct {
	Rows []Row
	// Lines is the number of measurement lines read.
	Lines uint64
}

// Run runs Aggregate on sess and collects its result on the driver.
// The reduced slice is moved to driver memory before the final sort
// by station name.
func Run(ctx context.Context, sess *exec.Session, path string, nshard int) (Result, error) {
	if nshard < 1 {
		return Result{}, errors.E(errors.Invalid, fmt.Sprintf("invalid shard count %d", nshard))
	}
	res, err := sess.Run(ctx, Aggregate, path, nshard)
	if err != nil {
		return Result{}, err
	}
	rows, err := Collect(ctx, res)
	if err != nil {
		return Result{}, err
	}
	r := Result{Rows: rows}
	for _, row := range rows {
		r.Lines += uint64(row.Count)
	}
	return r, nil
}

// Collect scans a Slice<string, Stats> into rows sorted by station.
func Collect(ctx context.Context, res *exec.Result) ([]Row, error) {
	scan := res.Scanner()
	defer scan.Close() // nolint: errcheck
	var (
		rows  []Row
		name  string
		stats Stats
	)
	for scan.Scan(ctx, &name, &stats) {
		rows = append(rows, stats.Row(name))
	}
	if err := scan.Err(); err != nil {
		return nil, err
	}
	SortRows(rows)
	return rows, nil
}

// Reference computes the aggregation of the file at path in a single
// pass on the calling goroutine, without a cluster.
func Reference(ctx context.Context, path string) (Result, error) {
	stats, err := aggregateRange(ctx, path, 0, 1)
	if err != nil {
		return Result{}, err
	}
	res := Result{Rows: make([]Row, 0, len(stats))}
	for name, s := range stats {
		res.Rows = append(res.Rows, s.Row(name))
		res.Lines += uint64(s.Count)
	}
	SortRows(res.Rows)
	return res, nil
}

// aggregateRange aggregates the lines of shard shard of nshard byte
// ranges of the file at path. A line belongs to the range that
// contains its first byte.
func aggregateRange(ctx context.Context, path string, shard, nshard int) (map[string]*Stats, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer f.Close(ctx) // nolint: errcheck
	info, err := f.Stat(ctx)
	if err != nil {
		return nil, err
	}
	var (
		size  = info.Size()
		start = size * int64(shard) / int64(nshard)
		end   = size * int64(shard+1) / int64(nshard)
		off   = start
		r     = f.Reader(ctx)
		stats = make(map[string]*Stats)
	)
	if start > 0 {
		off = start - 1
	}
	if _, err := r.Seek(off, io.SeekStart); err != nil {
		return nil, err
	}
	br := bufio.NewReaderSize(r, 1<<20)
	var buf []byte
	if start > 0 {
		// Skip the remainder of the line owned by the previous range.
		buf, err = readLine(br, buf[:0])
		if err != nil && err != io.EOF {
			return nil, err
		}
		off += int64(len(buf))
	}
	for off < end {
		buf, err = readLine(br, buf[:0])
		if err != nil && err != io.EOF {
			return nil, err
		}
		if len(buf) == 0 {
			break
		}
		lineOff := off
		off += int64(len(buf))
		line := bytes.TrimRight(buf, "\r\n")
		if len(line) == 0 {
			continue
		}
		name, v, perr := splitLine(line)
		if perr != nil {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("%s: offset %d", path, lineOff), perr)
		}
		s := stats[string(name)]
		if s == nil {
			s = new(Stats)
			stats[string(name)] = s
		}
		s.Add(v)
		if err == io.EOF {
			break
		}
	}
	log.Debug.Printf("%s: shard %d/%d [%d, %d): %d stations", path, shard, nshard, start, end, len(stats))
	return stats, nil
}

// readLine appends the next line of br, including its newline, to dst.
func readLine(br *bufio.Reader, dst []byte) ([]byte, error) {
	for {
		p, err := br.ReadSlice('\n')
		dst = append(dst, p...)
		if err != bufio.ErrBufferFull {
			return dst, err
		}
	}
}
