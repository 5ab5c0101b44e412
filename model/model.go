// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package model implements the tree-ensemble binary classifiers used
// by the HPO benchmark, a random forest and a gradient-boosted tree
// ensemble, and a k-means clustering model for serving. Models are plain structs so that they can be gob-encoded
// for persistence and transmitted between bigslice workers.
package model

import (
	"encoding/gob"
	"fmt"
	"io"

	"github.com/grailbio/base/errors"
)

// Predictor is a trained model over dense float64 feature rows.
// Missing values are represented by NaN.
type Predictor interface {
	// Predict returns the predicted class or cluster of each row.
	Predict(X [][]float64) []int
	// NumFeatures returns the number of features the model was
	// trained on.
	NumFeatures() int
}

// Classifier is a binary classifier.
type Classifier interface {
	Predictor
	// Fit trains the classifier on rows X with 0/1 labels y.
	Fit(X [][]float64, y []int) error
	// PredictProba returns p(y=1) for each row.
	PredictProba(X [][]float64) []float64
}

var (
	_ Classifier = (*RandomForest)(nil)
	_ Classifier = (*Booster)(nil)
	_ Predictor  = (*KMeans)(nil)
)

func checkTraining(X [][]float64, y []int) error {
	if len(X) == 0 {
		return errors.E(errors.Invalid, "model: empty training set")
	}
	if len(X) != len(y) {
		return errors.E(errors.Invalid, fmt.Sprintf("model: %d rows but %d labels", len(X), len(y)))
	}
	p := len(X[0])
	if p == 0 {
		return errors.E(errors.Invalid, "model: rows have no features")
	}
	for i, x := range X {
		if len(x) != p {
			return errors.E(errors.Invalid, fmt.Sprintf("model: row %d has %d features, expected %d", i, len(x), p))
		}
	}
	for i, label := range y {
		if label != 0 && label != 1 {
			return errors.E(errors.Invalid, fmt.Sprintf("model: label %d of row %d is not 0 or 1", label, i))
		}
	}
	return nil
}

// Threshold maps probabilities to classes: p > threshold is class 1.
func Threshold(proba []float64, threshold float64) []int {
	out := make([]int, len(proba))
	for i, p := range proba {
		if p > threshold {
			out[i] = 1
		}
	}
	return out
}

// Accuracy returns the fraction of predictions that match the labels.
func Accuracy(y, pred []int) float64 {
	if len(y) == 0 {
		return 0
	}
	var n int
	for i := range y {
		if y[i] == pred[i] {
			n++
		}
	}
	return float64(n) / float64(len(y))
}

// envelope is the on-disk encoding of a model.
type envelope struct {
	Forest  *RandomForest
	Booster *Booster
	KMeans  *KMeans
}

// Save writes a gob encoding of model m to w.
func Save(w io.Writer, m Predictor) error {
	var env envelope
	switch m := m.(type) {
	case *RandomForest:
		env.Forest = m
	case *Booster:
		env.Booster = m
	case *KMeans:
		env.KMeans = m
	default:
		return errors.E(errors.Invalid, fmt.Sprintf("model: cannot save %T", m))
	}
	return gob.NewEncoder(w).Encode(env)
}

// Load reads a model written by Save.
func Load(r io.Reader) (Predictor, error) {
	var env envelope
	if err := gob.NewDecoder(r).Decode(&env); err != nil {
		return nil, errors.E(errors.Integrity, "model: decode", err)
	}
	switch {
	case env.Forest != nil:
		return env.Forest, nil
	case env.Booster != nil:
		return env.Booster, nil
	case env.KMeans != nil:
		return env.KMeans, nil
	}
	return nil, errors.E(errors.Integrity, "model: empty model file")
}
