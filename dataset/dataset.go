// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package dataset loads tabular binary-classification datasets from
// delimited text files and splits them for cross validation. Files
// are opened through github.com/grailbio/base/file, so any
// registered scheme (local paths, s3://) may be used.
package dataset

import (
	"context"
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/spaolacci/murmur3"
)

// Options configures how a dataset is read.
type Options struct {
	// Target is the name of the label column. Labels must be 0 or 1.
	Target string
	// Columns restricts the feature columns to the named ones. If
	// empty, every column except Target is a feature.
	Columns []string
	// Comma is the field delimiter; ',' if zero.
	Comma rune
}

// Dataset is an in-memory binary classification dataset.
type Dataset struct {
	// Features names the columns of X.
	Features []string
	X        [][]float64
	Y        []int
}

// Len returns the number of rows in d.
func (d *Dataset) Len() int { return len(d.Y) }

// Load reads the delimited file at path. The first record is a
// header naming the columns. Empty or non-numeric feature cells are
// read as NaN, but a feature column without any numeric cell is an
// error of kind errors.Invalid. Errors from the underlying storage are returned with
// their kinds intact.
func Load(ctx context.Context, path string, opts Options) (*Dataset, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	d, err := Read(f.Reader(ctx), opts)
	if cerr := f.Close(ctx); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, errors.E(fmt.Sprintf("dataset %s", path), err)
	}
	return d, nil
}

// Read reads a delimited dataset from r. See Load.
func Read(r io.Reader, opts Options) (*Dataset, error) {
	if opts.Target == "" {
		return nil, errors.E(errors.Invalid, "no target column specified")
	}
	cr := csv.NewReader(r)
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.E(errors.Invalid, "missing header")
	}
	if err != nil {
		return nil, err
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}
	target, ok := index[opts.Target]
	if !ok {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("target column %q not in header", opts.Target))
	}
	var (
		d    = new(Dataset)
		cols []int
	)
	if len(opts.Columns) > 0 {
		for _, name := range opts.Columns {
			i, ok := index[name]
			if !ok {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("column %q not in header", name))
			}
			if i == target {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("column %q is the target", name))
			}
			cols = append(cols, i)
			d.Features = append(d.Features, name)
		}
	} else {
		for i, name := range header {
			if i == target {
				continue
			}
			cols = append(cols, i)
			d.Features = append(d.Features, strings.TrimSpace(name))
		}
	}
	if len(cols) == 0 {
		return nil, errors.E(errors.Invalid, "no feature columns")
	}
	numeric := make([]bool, len(cols))
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		label, err := strconv.ParseFloat(strings.TrimSpace(record[target]), 64)
		if err != nil || (label != 0 && label != 1) {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("line %d: label %q is not 0 or 1", line, record[target]))
		}
		x := make([]float64, len(cols))
		for j, col := range cols {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[col]), 64)
			if err != nil {
				v = math.NaN()
			} else {
				numeric[j] = true
			}
			x[j] = v
		}
		d.X = append(d.X, x)
		d.Y = append(d.Y, int(label))
	}
	if d.Len() == 0 {
		return nil, errors.E(errors.Invalid, "dataset has no rows")
	}
	for j, ok := range numeric {
		if !ok {
			return nil, errors.E(errors.Invalid,
				fmt.Sprintf("feature column %q has no numeric values; exclude it from the feature columns", d.Features[j]))
		}
	}
	return d, nil
}

// Folds assigns each row of d to one of k folds. The assignment is a
// deterministic function of the row count and seed: rows are ordered
// by a murmur3 hash of their index and dealt round-robin, so fold
// sizes differ by at most one.
func (d *Dataset) Folds(k int, seed int64) []int {
	n := d.Len()
	type hashed struct {
		h   uint32
		row int
	}
	var (
		order = make([]hashed, n)
		buf   [8]byte
	)
	for i := range order {
		binary.LittleEndian.PutUint64(buf[:], uint64(i))
		order[i] = hashed{murmur3.Sum32WithSeed(buf[:], uint32(seed)), i}
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].h == order[j].h {
			return order[i].row < order[j].row
		}
		return order[i].h < order[j].h
	})
	folds := make([]int, n)
	for i, o := range order {
		folds[o.row] = i % k
	}
	return folds
}

// Split returns the training and test rows for the given fold of an
// assignment returned by Folds.
func (d *Dataset) Split(folds []int, fold int) (train, test *Dataset) {
	train = &Dataset{Features: d.Features}
	test = &Dataset{Features: d.Features}
	for i, f := range folds {
		dst := train
		if f == fold {
			dst = test
		}
		dst.X = append(dst.X, d.X[i])
		dst.Y = append(dst.Y, d.Y[i])
	}
	return
}

type cacheKey struct {
	path, target, columns string
	comma                 rune
}

type cacheEntry struct {
	once sync.Once
	d    *Dataset
	err  error
}

var (
	cacheMu sync.Mutex
	cache   = map[cacheKey]*cacheEntry{}
)

// Cached returns the dataset at path, loading it at most once per
// process. Workers use Cached so that a dataset is materialized once
// and reused by every trial scheduled on them. Failed loads are not
// cached.
func Cached(ctx context.Context, path string, opts Options) (*Dataset, error) {
	key := cacheKey{path, opts.Target, strings.Join(opts.Columns, ","), opts.Comma}
	cacheMu.Lock()
	e := cache[key]
	if e == nil {
		e = new(cacheEntry)
		cache[key] = e
	}
	cacheMu.Unlock()
	e.once.Do(func() {
		e.d, e.err = Load(ctx, path, opts)
		if e.err == nil {
			log.Printf("dataset %s: loaded %d rows, %d features", path, e.d.Len(), len(e.d.Features))
		}
	})
	if e.err != nil {
		cacheMu.Lock()
		if cache[key] == e {
			delete(cache, key)
		}
		cacheMu.Unlock()
	}
	return e.d, e.err
}
