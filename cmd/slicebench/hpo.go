// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"os"
	"time"

	"github.com/grailbio/base/log"
	"github.com/grailbio/slicebench/benchcmd"
	"github.com/grailbio/slicebench/dataset"
	"github.com/grailbio/slicebench/hpo"
)

func hpoBench(fl benchcmd.Flags, args []string) error {
	cfg, err := hpo.ParseConfig(args, os.Stderr)
	if err != nil {
		return usage(err)
	}
	cfg.Compute = fl.Compute
	ctx := context.Background()
	var space hpo.Space
	if cfg.Space != "" {
		space, err = hpo.LoadSpace(ctx, cfg.Space)
	} else {
		space, err = hpo.DefaultSpace(cfg.Model)
	}
	if err != nil {
		return usage(err)
	}

	sess, err := benchcmd.Init(fl)
	if err != nil {
		return err
	}
	defer sess.Shutdown()

	log.Printf("%s: %d trials of %d-fold cross validation on %s", cfg.ModelName(), cfg.Trials, cfg.Folds, cfg.Data)
	start := time.Now()
	study := hpo.NewStudy(space, hpo.NewRandomSampler(cfg.Seed), hpo.NewObjective(sess, cfg))
	if err := study.Optimize(ctx, cfg.Trials); err != nil {
		return err
	}
	elapsed := time.Since(start)
	best, _ := study.Best()

	d, err := dataset.Cached(ctx, cfg.Data, cfg.DatasetOptions())
	if err != nil {
		return err
	}
	report := hpo.Report{
		Config:  cfg,
		Rows:    d.Len(),
		Trials:  study.Trials,
		Best:    best,
		Elapsed: elapsed,
	}
	if err := report.Write(os.Stdout); err != nil {
		return err
	}
	if cfg.ModelDir == "" {
		return nil
	}
	path, err := hpo.SaveBest(ctx, cfg, best)
	if err != nil {
		return err
	}
	log.Printf("saved best model (trial %d) to %s", best.Number, path)
	return nil
}
