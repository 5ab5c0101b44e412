// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package hpo

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/slicebench/dataset"
	"github.com/grailbio/slicebench/model"
)

// Report summarizes a benchmark run.
type Report struct {
	Config  Config
	Rows    int
	Trials  []Trial
	Best    Trial
	Elapsed time.Duration
}

// Write renders the report as a table.
func (r Report) Write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "\n=== HPO benchmark: %s on %s ===\n\n", r.Config.Model, r.Config.Compute)
	fmt.Fprintf(tw, "dataset:\t%s (%s rows)\n", r.Config.Data, humanize.Comma(int64(r.Rows)))
	fmt.Fprintf(tw, "trials:\t%d x %d-fold cross validation\n\n", len(r.Trials), r.Config.Folds)
	fmt.Fprintln(tw, "Trial\tAccuracy\tDuration\tParams")
	fmt.Fprintln(tw, "---\t---\t---\t---")
	for _, t := range r.Trials {
		fmt.Fprintf(tw, "%d\t%.5f\t%s\t%s\n", t.Number, t.Value, t.Duration.Round(time.Millisecond), t.Params)
	}
	fmt.Fprintln(tw)
	fmt.Fprintf(tw, "elapsed:\t%s\n", r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(tw, "best trial:\t%d\n", r.Best.Number)
	fmt.Fprintf(tw, "best accuracy:\t%.5f\n", r.Best.Value)
	fmt.Fprintf(tw, "best params:\t%s\n", r.Best.Params)
	return tw.Flush()
}

// SaveBest retrains the best configuration of a study on the whole
// dataset and saves the model to cfg.ModelDir under cfg.ModelName. It
// returns the path of the saved model.
func SaveBest(ctx context.Context, cfg Config, best Trial) (string, error) {
	d, err := dataset.Cached(ctx, cfg.Data, cfg.DatasetOptions())
	if err != nil {
		return "", err
	}
	m, err := NewClassifier(cfg.Model, best.Params, cfg.Seed)
	if err != nil {
		return "", err
	}
	if err := m.Fit(d.X, d.Y); err != nil {
		return "", err
	}
	path := file.Join(cfg.ModelDir, cfg.ModelName())
	f, err := file.Create(ctx, path)
	if err != nil {
		return "", err
	}
	if err := model.Save(f.Writer(ctx), m); err != nil {
		f.Close(ctx) // nolint: errcheck
		return "", errors.E(fmt.Sprintf("save model %s", path), err)
	}
	return path, f.Close(ctx)
}
