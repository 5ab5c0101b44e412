// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package hpo implements the hyperparameter optimization benchmark:
// a study runs a fixed number of randomly sampled trials, each scored
// by a cross-validated objective evaluated on a bigslice session.
package hpo

import (
	"context"
	"fmt"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// Trial is one sampled configuration and its evaluation.
type Trial struct {
	// Number is the 0-based index of the trial in its study.
	Number   int
	Params   Params
	Value    float64
	Folds    []float64
	Duration time.Duration
}

// Study maximizes an objective over a search space.
type Study struct {
	Space     Space
	Sampler   Sampler
	Objective Objective

	// Trials holds the completed trials in order.
	Trials []Trial
	best   int
}

// NewStudy returns a new study.
func NewStudy(space Space, sampler Sampler, objective Objective) *Study {
	return &Study{Space: space, Sampler: sampler, Objective: objective, best: -1}
}

// Optimize runs n trials sequentially. The first trial error aborts
// the study and is returned; trials completed before it are kept.
func (s *Study) Optimize(ctx context.Context, n int) error {
	if err := s.Space.Validate(); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		trial := Trial{Number: len(s.Trials), Params: s.Sampler.Sample(s.Space)}
		start := time.Now()
		eval, err := s.Objective.Evaluate(ctx, trial.Params)
		if err != nil {
			return errors.E(fmt.Sprintf("trial %d (%v)", trial.Number, trial.Params), err)
		}
		trial.Duration = time.Since(start)
		trial.Value, trial.Folds = eval.Score, eval.Folds
		s.Trials = append(s.Trials, trial)
		if s.best < 0 || trial.Value > s.Trials[s.best].Value {
			s.best = len(s.Trials) - 1
		}
		log.Printf("trial %d finished in %s: value %.5f, best %.5f (trial %d)",
			trial.Number, trial.Duration.Round(time.Millisecond), trial.Value,
			s.Trials[s.best].Value, s.best)
	}
	return nil
}

// Best returns the best trial so far. Ties are resolved in favor of
// the earliest trial.
func (s *Study) Best() (Trial, bool) {
	if s.best < 0 {
		return Trial{}, false
	}
	return s.Trials[s.best], true
}
