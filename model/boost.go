// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package model

import (
	"math"
	"math/rand"

	"github.com/grailbio/base/errors"
)

// Booster is a gradient-boosted ensemble of regression trees trained
// on the logistic loss with second-order (Newton) leaf steps, as
// popularized by XGBoost.
type Booster struct {
	// NEstimators is the number of boosting rounds.
	NEstimators int
	// MaxDepth bounds the depth of each tree.
	MaxDepth int
	// LearningRate shrinks each tree's contribution.
	LearningRate float64
	// Gamma is the minimum loss reduction required to split a node.
	Gamma float64
	// Lambda is the L2 regularization on leaf weights.
	Lambda float64
	// MinChildWeight is the minimum hessian sum in a child.
	MinChildWeight float64
	// Subsample is the fraction of rows sampled for each round.
	Subsample float64
	// Seed seeds row subsampling.
	Seed int64

	// BaseScore is the initial log-odds, set from the label mean.
	BaseScore float64
	// Features is the number of columns the booster was trained on.
	Features int
	Trees    []Tree
}

// NewBooster returns a booster with XGBoost's default parameters.
func NewBooster() *Booster {
	return &Booster{
		NEstimators:    100,
		MaxDepth:       6,
		LearningRate:   0.3,
		Lambda:         1,
		MinChildWeight: 1,
		Subsample:      1,
	}
}

// Fit trains the booster. Rounds are sequential; each round fits a
// tree to the gradients of the current ensemble.
func (b *Booster) Fit(X [][]float64, y []int) error {
	if err := checkTraining(X, y); err != nil {
		return err
	}
	if b.NEstimators < 1 {
		return errors.E(errors.Invalid, "booster: n_estimators must be positive")
	}
	if b.LearningRate <= 0 {
		return errors.E(errors.Invalid, "booster: learning_rate must be positive")
	}
	n := len(X)
	var pos float64
	for _, label := range y {
		pos += float64(label)
	}
	mean := clamp(pos/float64(n), 1e-6, 1-1e-6)
	b.BaseScore = math.Log(mean / (1 - mean))
	b.Features = len(X[0])

	var (
		margin = make([]float64, n)
		grad   = make([]float64, n)
		hess   = make([]float64, n)
		rnd    = rand.New(rand.NewSource(b.Seed))
		all    = make([]int, n)
	)
	for i := range margin {
		margin[i] = b.BaseScore
		all[i] = i
	}
	b.Trees = make([]Tree, 0, b.NEstimators)
	for round := 0; round < b.NEstimators; round++ {
		for i := range margin {
			p := sigmoid(margin[i])
			grad[i] = p - float64(y[i])
			hess[i] = math.Max(p*(1-p), 1e-16)
		}
		rows := all
		if b.Subsample > 0 && b.Subsample < 1 {
			rows = rows[:0:0]
			for i := 0; i < n; i++ {
				if rnd.Float64() < b.Subsample {
					rows = append(rows, i)
				}
			}
			if len(rows) == 0 {
				rows = all
			}
		}
		split := &gradSplitter{
			grad:           grad,
			hess:           hess,
			lambda:         b.Lambda,
			gamma:          b.Gamma,
			minChildWeight: b.MinChildWeight,
		}
		tree := grow(X, rows, split, growOptions{maxDepth: b.MaxDepth, minSamplesSplit: 2}, rnd)
		for i := range tree.Nodes {
			if tree.Nodes[i].Leaf {
				tree.Nodes[i].Value *= b.LearningRate
			}
		}
		b.Trees = append(b.Trees, tree)
		for i := range margin {
			margin[i] += tree.Eval(X[i])
		}
	}
	return nil
}

// Margin returns the raw log-odds for row x.
func (b *Booster) Margin(x []float64) float64 {
	m := b.BaseScore
	for i := range b.Trees {
		m += b.Trees[i].Eval(x)
	}
	return m
}

// PredictProba returns the positive-class probability of each row.
func (b *Booster) PredictProba(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, x := range X {
		out[i] = sigmoid(b.Margin(x))
	}
	return out
}

// Predict thresholds probabilities at 0.5.
func (b *Booster) Predict(X [][]float64) []int {
	return Threshold(b.PredictProba(X), 0.5)
}

// NumFeatures returns the number of features the booster was trained
// on, or 0 if untrained.
func (b *Booster) NumFeatures() int { return b.Features }

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func clamp(x, lo, hi float64) float64 {
	return math.Min(math.Max(x, lo), hi)
}
