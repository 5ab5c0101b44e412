// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package brc

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"golang.org/x/sync/errgroup"
)

// DefaultStdDev is the standard deviation of generated measurements
// around their station's mean.
const DefaultStdDev = 10

// GenerateOptions configures Generate.
type GenerateOptions struct {
	// Rows is the number of lines to generate.
	Rows int64
	// ChunkSize is the number of lines formatted and written at a
	// time. Larger chunks use more memory and issue fewer writes.
	ChunkSize int64
	// Seed seeds the generator. Chunk i is generated from Seed+i.
	Seed int64
	// StdDev is the spread of measurements; DefaultStdDev if zero.
	StdDev float64
}

// Chunks returns the number of chunks needed to write rows lines in
// chunks of chunkSize lines.
func Chunks(rows, chunkSize int64) int64 {
	if rows <= 0 || chunkSize <= 0 {
		return 0
	}
	return (rows + chunkSize - 1) / chunkSize
}

// Generate writes opts.Rows synthetic measurement lines to path. Each
// line names a uniformly chosen station of table and a normally
// distributed measurement around its mean, rounded to one decimal
// place. An existing file at path is removed first. The next chunk is
// formatted while the current one is written.
func Generate(ctx context.Context, path string, table Table, opts GenerateOptions) error {
	if err := table.Validate(); err != nil {
		return err
	}
	if opts.Rows < 0 || opts.ChunkSize <= 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("invalid rows %d or chunk size %d", opts.Rows, opts.ChunkSize))
	}
	if opts.StdDev == 0 {
		opts.StdDev = DefaultStdDev
	}
	if err := file.Remove(ctx, path); err != nil && !errors.Is(errors.NotExist, err) && !os.IsNotExist(err) {
		return err
	}
	f, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	var (
		nchunk = Chunks(opts.Rows, opts.ChunkSize)
		chunks = make(chan []byte, 1)
		free   = make(chan []byte, 2)
		w      = f.Writer(ctx)
	)
	free <- nil
	free <- nil
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(chunks)
		for i := int64(0); i < nchunk; i++ {
			n := opts.ChunkSize
			if rem := opts.Rows - i*opts.ChunkSize; rem < n {
				n = rem
			}
			var buf []byte
			select {
			case buf = <-free:
			case <-gctx.Done():
				return gctx.Err()
			}
			buf = generateChunk(buf[:0], table, n, opts.StdDev, rand.New(rand.NewSource(opts.Seed+i)))
			select {
			case chunks <- buf:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	g.Go(func() error {
		var i int
		for buf := range chunks {
			if _, err := w.Write(buf); err != nil {
				return err
			}
			i++
			log.Debug.Printf("%s: wrote chunk %d/%d (%s)", path, i, nchunk, humanize.Bytes(uint64(len(buf))))
			free <- buf
		}
		return nil
	})
	err = g.Wait()
	if cerr := f.Close(ctx); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.E(fmt.Sprintf("generate %s", path), err)
	}
	log.Printf("%s: generated %s rows in %d chunks", path, humanize.Comma(opts.Rows), nchunk)
	return nil
}

func generateChunk(dst []byte, table Table, n int64, stddev float64, r *rand.Rand) []byte {
	for j := int64(0); j < n; j++ {
		s := table[r.Intn(len(table))]
		v := s.Mean + r.NormFloat64()*stddev
		v = math.Max(-MaxMeasurement, math.Min(MaxMeasurement, v))
		dst = AppendLine(dst, s.Name, v)
	}
	return dst
}
