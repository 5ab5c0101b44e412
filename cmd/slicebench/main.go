// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Slicebench runs distributed benchmarks on a bigslice cluster: a
// hyperparameter optimization benchmark for tree ensembles, and the
// billion-row aggregation benchmark with its data generator. It also
// serves models trained by the optimization benchmark.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/slicebench/benchcmd"
)

func init() {
	file.RegisterImplementation("s3", s3file.NewImplementation(
		s3file.NewDefaultProvider(session.Options{})))
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `usage: slicebench [flags] command args...

Command slicebench runs benchmarks on a bigslice cluster. The cluster
is configured by the flags below; -compute sizes the worker pool by
CPU cores or by visible GPU devices.

Available commands are:

	hpo
		Hyperparameter optimization of XGBoost or RandomForest
		classifiers, scored by k-fold cross validation.
	gen
		Generate a synthetic station;measurement file.
	brc
		Aggregate per-station min/mean/max of a measurement file,
		compared against a single-machine reference.
	serve
		Serve a trained model over HTTP.

Run slicebench command -help for the flags of a command.

`)
		flag.PrintDefaults()
		os.Exit(2)
	}

	var fl benchcmd.Flags
	benchcmd.RegisterFlags(flag.CommandLine, &fl)
	log.AddFlags()
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	var err error
	switch cmd {
	default:
		fmt.Fprintf(os.Stderr, "unknown command %s\n", cmd)
		flag.Usage()
	case "hpo":
		err = hpoBench(fl, args)
	case "gen":
		err = gen(args)
	case "brc":
		err = brcBench(fl, args)
	case "serve":
		err = serveModel(fl, args)
	}
	if err == flag.ErrHelp {
		os.Exit(0)
	}
	if u, ok := err.(usageError); ok {
		log.Error.Printf("%s: %v", cmd, u.error)
		os.Exit(2)
	}
	must.Nil(err, cmd)
}

// usageError is an error in a command's arguments, detected before any
// work is done.
type usageError struct{ error }

// usage wraps argument errors of kind errors.Invalid as usage errors.
func usage(err error) error {
	if err != nil && err != flag.ErrHelp && errors.Is(errors.Invalid, err) {
		return usageError{err}
	}
	return err
}
