// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/slicebench/benchcmd"
	"github.com/grailbio/slicebench/brc"
)

func brcBench(fl benchcmd.Flags, args []string) error {
	var (
		flags     = flag.NewFlagSet("brc", flag.ContinueOnError)
		in        = flags.String("in", "", "measurement file (local or s3://)")
		nshard    = flags.Int("shards", 0, "number of byte-range shards; the session parallelism if zero")
		reference = flags.Bool("reference", true, "also run the single-machine reference and compare")
		table     = flags.Bool("table", false, "print the result as station;min;mean;max lines")
	)
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, `usage: slicebench brc -in path [-shards N] [-reference=false] [-table]`)
		flags.PrintDefaults()
	}
	if err := parseFlags(flags, args); err != nil {
		return err
	}
	if *in == "" {
		return usage(errors.E(errors.Invalid, "missing flag -in"))
	}
	if *nshard < 0 {
		return usage(errors.E(errors.Invalid, fmt.Sprintf("invalid shard count %d", *nshard)))
	}

	sess, err := benchcmd.Init(fl)
	if err != nil {
		return err
	}
	defer sess.Shutdown()
	if *nshard == 0 {
		*nshard = sess.Parallelism()
	}

	ctx := context.Background()
	report := brc.Report{Path: *in, Shards: *nshard, Parallelism: sess.Parallelism()}
	start := time.Now()
	if report.Result, err = brc.Run(ctx, sess, *in, *nshard); err != nil {
		return err
	}
	report.Elapsed = time.Since(start)
	log.Printf("cluster aggregation of %s: %s", *in, report.Elapsed)
	if *reference {
		start = time.Now()
		ref, err := brc.Reference(ctx, *in)
		if err != nil {
			return err
		}
		report.Reference, report.ReferenceElapsed = &ref, time.Since(start)
		log.Printf("reference aggregation of %s: %s", *in, report.ReferenceElapsed)
	}

	if *table {
		err = brc.WriteTable(os.Stdout, report.Result.Rows)
	} else {
		_, err = fmt.Println(brc.Format(report.Result.Rows))
	}
	if err != nil {
		return err
	}
	if err := report.Write(os.Stdout); err != nil {
		return err
	}
	if !report.Match() {
		return errors.E(errors.Integrity, "cluster and reference results differ")
	}
	return nil
}
