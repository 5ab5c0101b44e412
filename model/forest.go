// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package model

import (
	"math"
	"math/rand"
	"runtime"

	"github.com/grailbio/base/errors"
	"golang.org/x/sync/errgroup"
)

// RandomForest is a bagged ensemble of Gini classification trees.
type RandomForest struct {
	// NEstimators is the number of trees in the forest.
	NEstimators int
	// MaxDepth bounds the depth of each tree; 0 means unbounded.
	MaxDepth int
	// MaxFeatures is the fraction of features sampled at each split.
	// Values <= 0 or >= 1 consider every feature.
	MaxFeatures float64
	// MinSamplesSplit is the smallest node that is considered for
	// splitting.
	MinSamplesSplit int
	// Bootstrap trains each tree on a bootstrap resample of the rows.
	Bootstrap bool
	// Seed seeds tree i with Seed+i.
	Seed int64

	// Features is the number of columns the forest was trained on.
	Features int
	Trees    []Tree
}

// NewRandomForest returns a forest with the defaults of common random
// forest implementations.
func NewRandomForest() *RandomForest {
	return &RandomForest{
		NEstimators:     100,
		MaxDepth:        16,
		MaxFeatures:     1,
		MinSamplesSplit: 2,
		Bootstrap:       true,
	}
}

// Fit trains the forest. Trees are fitted concurrently, at most
// GOMAXPROCS at a time.
func (f *RandomForest) Fit(X [][]float64, y []int) error {
	if err := checkTraining(X, y); err != nil {
		return err
	}
	if f.NEstimators < 1 {
		return errors.E(errors.Invalid, "randomforest: n_estimators must be positive")
	}
	var (
		n      = len(X)
		p      = len(X[0])
		trees  = make([]Tree, f.NEstimators)
		sema   = make(chan struct{}, runtime.GOMAXPROCS(0))
		g      errgroup.Group
		nfeats = 0
	)
	if f.MaxFeatures > 0 && f.MaxFeatures < 1 {
		nfeats = int(math.Ceil(f.MaxFeatures * float64(p)))
	}
	for i := range trees {
		i := i
		g.Go(func() error {
			sema <- struct{}{}
			defer func() { <-sema }()
			rnd := rand.New(rand.NewSource(f.Seed + int64(i)))
			rows := make([]int, n)
			for j := range rows {
				if f.Bootstrap {
					rows[j] = rnd.Intn(n)
				} else {
					rows[j] = j
				}
			}
			split := &giniSplitter{y: y, minSamplesLeaf: 1}
			trees[i] = grow(X, rows, split, growOptions{
				maxDepth:        f.MaxDepth,
				minSamplesSplit: f.MinSamplesSplit,
				maxFeatures:     nfeats,
			}, rnd)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	f.Trees = trees
	f.Features = p
	return nil
}

// PredictProba returns the mean positive-class fraction across trees.
func (f *RandomForest) PredictProba(X [][]float64) []float64 {
	out := make([]float64, len(X))
	if len(f.Trees) == 0 {
		return out
	}
	for i, x := range X {
		var sum float64
		for j := range f.Trees {
			sum += f.Trees[j].Eval(x)
		}
		out[i] = sum / float64(len(f.Trees))
	}
	return out
}

// Predict returns the majority vote of the trees' class predictions.
// Ties go to the negative class.
func (f *RandomForest) Predict(X [][]float64) []int {
	out := make([]int, len(X))
	for i, x := range X {
		var votes int
		for j := range f.Trees {
			if f.Trees[j].Eval(x) > 0.5 {
				votes++
			}
		}
		if 2*votes > len(f.Trees) {
			out[i] = 1
		}
	}
	return out
}

// NumFeatures returns the number of features the forest was trained
// on, or 0 if untrained.
func (f *RandomForest) NumFeatures() int { return f.Features }
