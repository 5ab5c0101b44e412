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
	"github.com/grailbio/slicebench/brc"
)

func gen(args []string) error {
	var (
		flags  = flag.NewFlagSet("gen", flag.ContinueOnError)
		out    = flags.String("out", "", "output path (local or s3://)")
		rows   = flags.Int64("rows", 1e9, "number of rows to generate")
		chunk  = flags.Int64("chunk", 2e7, "rows formatted and written at a time")
		seed   = flags.Int64("seed", 0, "random seed")
		stddev = flags.Float64("stddev", brc.DefaultStdDev, "standard deviation of measurements around the station mean")
		lookup = flags.String("lookup", "", "name;mean station table; the built-in table if empty")
	)
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, `usage: slicebench gen -out path [-rows N] [-chunk N] [-seed N] [-lookup path]`)
		flags.PrintDefaults()
	}
	if err := parseFlags(flags, args); err != nil {
		return err
	}
	if *out == "" {
		return usage(errors.E(errors.Invalid, "missing flag -out"))
	}
	ctx := context.Background()
	table := brc.DefaultTable
	if *lookup != "" {
		var err error
		if table, err = brc.LoadTable(ctx, *lookup); err != nil {
			return err
		}
	}
	opts := brc.GenerateOptions{Rows: *rows, ChunkSize: *chunk, Seed: *seed, StdDev: *stddev}
	start := time.Now()
	if err := brc.Generate(ctx, *out, table, opts); err != nil {
		return usage(err)
	}
	log.Printf("generated %s in %s", *out, time.Since(start))
	return nil
}

// parseFlags parses a command's flags, reporting errors as usage
// errors.
func parseFlags(flags *flag.FlagSet, args []string) error {
	flags.SetOutput(os.Stderr)
	if err := flags.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return err
		}
		return usage(errors.E(errors.Invalid, err))
	}
	if flags.NArg() > 0 {
		return usage(errors.E(errors.Invalid, fmt.Sprintf("unexpected arguments %v", flags.Args())))
	}
	return nil
}
