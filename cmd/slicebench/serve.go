// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/grailbio/slicebench/benchcmd"
	"github.com/grailbio/slicebench/serve"
)

func serveModel(fl benchcmd.Flags, args []string) error {
	var (
		flags     = flag.NewFlagSet("serve", flag.ContinueOnError)
		dir       = flags.String("model-dir", "/opt/ml/model", "directory (local or s3://) holding *_xgb, *_rf or *_kmeans model files")
		addr      = flags.String("addr", serve.DefaultAddr, "listen address")
		threshold = flags.Float64("threshold", serve.DefaultThreshold, "probability threshold of XGBoost predictions")
	)
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, `usage: slicebench serve [-model-dir dir] [-addr addr] [-threshold p]`)
		flags.PrintDefaults()
	}
	if err := parseFlags(flags, args); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()
	m, err := serve.Load(ctx, *dir)
	if err != nil {
		return err
	}
	return serve.NewServer(m, fl.Compute, *threshold).Start(ctx, *addr)
}
