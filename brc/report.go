// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package brc

import (
	"fmt"
	"io"
	"reflect"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
)

// Report summarizes an aggregation benchmark run.
type Report struct {
	Path        string
	Shards      int
	Parallelism int
	Result      Result
	Elapsed     time.Duration
	// Reference is the single-machine result; nil if it was not
	// computed.
	Reference        *Result
	ReferenceElapsed time.Duration
}

// Match tells whether the cluster and reference results agree. It is
// true when no reference was computed.
func (r Report) Match() bool {
	return r.Reference == nil || reflect.DeepEqual(r.Result.Rows, r.Reference.Rows)
}

// Write renders the report as a table.
func (r Report) Write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "\n=== aggregation benchmark: %s ===\n\n", r.Path)
	fmt.Fprintf(tw, "rows:\t%s\n", humanize.Comma(int64(r.Result.Lines)))
	fmt.Fprintf(tw, "stations:\t%d\n\n", len(r.Result.Rows))
	fmt.Fprintln(tw, "Run\tShards\tParallelism\tElapsed\tRows/s")
	fmt.Fprintln(tw, "---\t---\t---\t---\t---")
	fmt.Fprintf(tw, "cluster\t%d\t%d\t%s\t%s\n", r.Shards, r.Parallelism, r.Elapsed.Round(time.Millisecond), rate(r.Result.Lines, r.Elapsed))
	if r.Reference != nil {
		fmt.Fprintf(tw, "reference\t1\t1\t%s\t%s\n", r.ReferenceElapsed.Round(time.Millisecond), rate(r.Reference.Lines, r.ReferenceElapsed))
		if r.Elapsed > 0 {
			fmt.Fprintf(tw, "\nspeedup:\t%.2fx\n", float64(r.ReferenceElapsed)/float64(r.Elapsed))
		}
		fmt.Fprintf(tw, "results match:\t%t\n", r.Match())
	}
	return tw.Flush()
}

func rate(n uint64, d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return humanize.Comma(int64(float64(n) / d.Seconds()))
}
