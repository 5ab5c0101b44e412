// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package hpo

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/slicebench/benchcmd"
	"github.com/grailbio/slicebench/dataset"
)

// The model families that can be optimized.
const (
	XGBoost      = "XGBoost"
	RandomForest = "RandomForest"
)

// Models lists the accepted values of the -model flag.
var Models = []string{XGBoost, RandomForest}

// DataEnv names the environment variable that provides the default
// dataset path.
const DataEnv = "SLICEBENCH_DATA"

// Config is the configuration of an HPO benchmark run.
type Config struct {
	// Model is the model family, one of Models.
	Model string
	// Compute is the compute target of the worker pool.
	Compute benchcmd.Compute
	// Trials is the number of trials in the study.
	Trials int
	// Folds is the number of cross-validation folds.
	Folds int
	// Seed seeds sampling, fold assignment and model training.
	Seed int64
	// Data is the path of the dataset.
	Data string
	// Target is the label column.
	Target string
	// Columns optionally restricts the feature columns.
	Columns []string
	// Space is an optional YAML search-space path.
	Space string
	// ModelDir is an optional directory to which the best model is
	// saved.
	ModelDir string
}

// DatasetOptions returns the dataset options for c. Files ending in
// .tsv are read as tab-separated.
func (c Config) DatasetOptions() dataset.Options {
	opts := dataset.Options{Target: c.Target, Columns: c.Columns}
	if strings.HasSuffix(path.Base(c.Data), ".tsv") {
		opts.Comma = '\t'
	}
	return opts
}

// ParseConfig parses the hpo subcommand's arguments. The compute
// target is a command-wide flag and is not parsed here. Errors in the
// arguments are reported with kind errors.Invalid before any data is
// touched.
func ParseConfig(args []string, output io.Writer) (Config, error) {
	var (
		c       Config
		columns string
		flags   = flag.NewFlagSet("hpo", flag.ContinueOnError)
	)
	flags.SetOutput(output)
	flags.StringVar(&c.Model, "model", XGBoost, "model family: "+strings.Join(Models, " or "))
	flags.IntVar(&c.Trials, "trials", 100, "number of optimization trials")
	flags.IntVar(&c.Folds, "folds", 5, "number of cross-validation folds")
	flags.Int64Var(&c.Seed, "seed", 0, "random seed")
	flags.StringVar(&c.Data, "data", os.Getenv(DataEnv), "dataset path (local or s3://); defaults to $"+DataEnv)
	flags.StringVar(&c.Target, "target", "ArrDel15", "label column")
	flags.StringVar(&columns, "columns", "", "comma-separated feature columns; all non-label columns if empty")
	flags.StringVar(&c.Space, "space", "", "YAML search space; the model's default space if empty")
	flags.StringVar(&c.ModelDir, "model-dir", "", "directory to save the best model to")
	flags.Usage = func() {
		fmt.Fprintln(flags.Output(), `usage: slicebench hpo [-model XGBoost|RandomForest] [-trials N] [-folds N] -data path`)
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return c, err
		}
		return c, errors.E(errors.Invalid, err)
	}
	if flags.NArg() > 0 {
		return c, errors.E(errors.Invalid, fmt.Sprintf("unexpected arguments %v", flags.Args()))
	}
	if columns != "" {
		for _, col := range strings.Split(columns, ",") {
			if col = strings.TrimSpace(col); col != "" {
				c.Columns = append(c.Columns, col)
			}
		}
	}
	return c, c.Validate()
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var valid bool
	for _, m := range Models {
		if c.Model == m {
			valid = true
		}
	}
	switch {
	case !valid:
		return errors.E(errors.Invalid, fmt.Sprintf("invalid model %q: must be one of %s", c.Model, strings.Join(Models, ", ")))
	case c.Trials < 1:
		return errors.E(errors.Invalid, fmt.Sprintf("invalid trial count %d", c.Trials))
	case c.Folds < 2:
		return errors.E(errors.Invalid, fmt.Sprintf("invalid fold count %d: need at least 2", c.Folds))
	case c.Data == "":
		return errors.E(errors.Invalid, "missing dataset: set -data or $"+DataEnv)
	case c.Target == "":
		return errors.E(errors.Invalid, "missing -target")
	}
	return nil
}

// ModelName returns the file name under which the best model of c is
// saved. The suffix identifies the model family for serving.
func (c Config) ModelName() string {
	suffix := "rf"
	if c.Model == XGBoost {
		suffix = "xgb"
	}
	return fmt.Sprintf("slicebench_%s_%s", strings.ToLower(c.Compute.String()), suffix)
}
