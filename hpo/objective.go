// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package hpo

import (
	"context"
	"fmt"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigslice"
	"github.com/grailbio/bigslice/exec"
	"github.com/grailbio/bigslice/sliceio"
	"github.com/grailbio/slicebench/dataset"
	"github.com/grailbio/slicebench/model"
)

// Evaluation is the result of evaluating one configuration.
type Evaluation struct {
	// Score is the mean score across folds.
	Score float64
	// Folds holds the score of each fold, by fold index.
	Folds []float64
}

// Objective evaluates hyperparameter configurations. Higher scores
// are better.
type Objective interface {
	Evaluate(ctx context.Context, params Params) (Evaluation, error)
}

// foldScores evaluates a configuration by cross validation. It
// returns a slice of (fold, accuracy) with one shard per fold: shard i
// loads the dataset (once per worker process), trains on every row
// outside fold i and scores fold i.
var foldScores = bigslice.Func(func(path string, opts dataset.Options, name string, params Params, nfold int, seed int64) bigslice.Slice {
	return bigslice.ReaderFunc(nfold, func(shard int, done *bool, folds []int, scores []float64) (int, error) {
		if *done {
			return 0, sliceio.EOF
		}
		*done = true
		score, err := scoreFold(context.Background(), path, opts, name, params, nfold, shard, seed)
		if err != nil {
			return 0, err
		}
		folds[0], scores[0] = shard, score
		return 1, sliceio.EOF
	})
})

func scoreFold(ctx context.Context, path string, opts dataset.Options, name string, params Params, nfold, fold int, seed int64) (float64, error) {
	d, err := dataset.Cached(ctx, path, opts)
	if err != nil {
		return 0, err
	}
	train, test := d.Split(d.Folds(nfold, seed), fold)
	if train.Len() == 0 || test.Len() == 0 {
		return 0, errors.E(errors.Invalid, fmt.Sprintf("fold %d of %d is empty: dataset has %d rows", fold, nfold, d.Len()))
	}
	m, err := NewClassifier(name, params, seed+int64(fold))
	if err != nil {
		return 0, err
	}
	if err := m.Fit(train.X, train.Y); err != nil {
		return 0, err
	}
	return model.Accuracy(test.Y, m.Predict(test.X)), nil
}

// CrossValidation is the Objective that scores a configuration by
// its mean k-fold cross-validated accuracy. Folds are evaluated in
// parallel on the session's workers.
type CrossValidation struct {
	sess *exec.Session
	cfg  Config
}

// NewObjective returns the cross-validation objective for the model
// family selected by cfg, computed on session sess.
func NewObjective(sess *exec.Session, cfg Config) *CrossValidation {
	return &CrossValidation{sess: sess, cfg: cfg}
}

// Evaluate implements Objective.
func (o *CrossValidation) Evaluate(ctx context.Context, params Params) (Evaluation, error) {
	res, err := o.sess.Run(ctx, foldScores, o.cfg.Data, o.cfg.DatasetOptions(), o.cfg.Model, params, o.cfg.Folds, o.cfg.Seed)
	if err != nil {
		return Evaluation{}, err
	}
	scan := res.Scanner()
	defer scan.Close() // nolint: errcheck
	type foldScore struct {
		fold  int
		score float64
	}
	var (
		scores []foldScore
		fs     foldScore
	)
	for scan.Scan(ctx, &fs.fold, &fs.score) {
		scores = append(scores, fs)
	}
	if err := scan.Err(); err != nil {
		return Evaluation{}, err
	}
	if len(scores) != o.cfg.Folds {
		return Evaluation{}, errors.E(errors.Integrity, fmt.Sprintf("got %d fold scores, expected %d", len(scores), o.cfg.Folds))
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].fold < scores[j].fold })
	eval := Evaluation{Folds: make([]float64, len(scores))}
	for i, s := range scores {
		eval.Folds[i] = s.score
		eval.Score += s.score
	}
	eval.Score /= float64(len(scores))
	log.Debug.Printf("%s %v: folds %v", o.cfg.Model, params, eval.Folds)
	return eval, nil
}
