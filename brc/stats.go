// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package brc

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
)

// Stats accumulates the measurements of one station. Measurements
// carry one decimal digit, so sums are kept exactly in tenths and the
// result of merging is independent of merge order.
type Stats struct {
	// Min and Max are in tenths.
	Min, Max int64
	// Sum is in tenths.
	Sum   int64
	Count int64
}

// NewStats returns the stats of a single measurement.
func NewStats(v float64) Stats {
	t := int64(math.Round(v * 10))
	return Stats{Min: t, Max: t, Sum: t, Count: 1}
}

// Add adds measurement v to s.
func (s *Stats) Add(v float64) {
	s.Merge(NewStats(v))
}

// Merge merges u into s.
func (s *Stats) Merge(u Stats) {
	if u.Count == 0 {
		return
	}
	if s.Count == 0 {
		*s = u
		return
	}
	if u.Min < s.Min {
		s.Min = u.Min
	}
	if u.Max > s.Max {
		s.Max = u.Max
	}
	s.Sum += u.Sum
	s.Count += u.Count
}

// Merged returns the merge of a and b. It is the combiner of the
// aggregation's reduction.
func Merged(a, b Stats) Stats {
	a.Merge(b)
	return a
}

// Row is one line of the aggregation result.
type Row struct {
	Station        string
	Min, Mean, Max float64
	Count          int64
}

// Row returns the result row for station name.
func (s Stats) Row(name string) Row {
	return Row{
		Station: name,
		Min:     float64(s.Min) / 10,
		Mean:    Round(math.Round(float64(s.Sum)/float64(s.Count)) / 10),
		Max:     float64(s.Max) / 10,
		Count:   s.Count,
	}
}

// Rows converts per-station stats to rows sorted by station name.
func Rows(stats map[string]Stats) []Row {
	rows := make([]Row, 0, len(stats))
	for name, s := range stats {
		rows = append(rows, s.Row(name))
	}
	SortRows(rows)
	return rows
}

// SortRows sorts rows in ascending byte-wise order of station name.
func SortRows(rows []Row) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Station < rows[j].Station })
}

// Format renders rows in the challenge's reference output format:
//
//	{Abha=-23.0/18.0/59.2, Abidjan=-16.2/26.0/67.3, ...}
func Format(rows []Row) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%s/%s/%s", r.Station,
			AppendMeasurement(nil, r.Min), AppendMeasurement(nil, r.Mean), AppendMeasurement(nil, r.Max))
	}
	b.WriteByte('}')
	return b.String()
}

// WriteTable writes rows as "station;min;mean;max" lines.
func WriteTable(w io.Writer, rows []Row) error {
	var buf []byte
	for _, r := range rows {
		buf = append(buf[:0], r.Station...)
		for _, v := range []float64{r.Min, r.Mean, r.Max} {
			buf = append(buf, Separator)
			buf = AppendMeasurement(buf, v)
		}
		buf = append(buf, '\n')
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}
