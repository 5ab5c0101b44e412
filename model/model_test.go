// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package model

import (
	"bytes"
	"math"
	"math/rand"
	"reflect"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil/assert"
)

// separable returns n rows of two uniform features where the label is
// determined by the first one. The second feature is noise.
func separable(n int, seed int64) ([][]float64, []int) {
	r := rand.New(rand.NewSource(seed))
	X := make([][]float64, n)
	y := make([]int, n)
	for i := range X {
		X[i] = []float64{r.Float64(), r.Float64()}
		if X[i][0] > 0.5 {
			y[i] = 1
		}
	}
	return X, y
}

func TestRandomForest(t *testing.T) {
	X, y := separable(400, 1)
	f := NewRandomForest()
	f.NEstimators = 20
	f.MaxDepth = 4
	f.Seed = 7
	assert.NoError(t, f.Fit(X, y))
	assert.EQ(t, len(f.Trees), 20)
	assert.EQ(t, f.NumFeatures(), 2)
	testX, testY := separable(200, 2)
	if acc := Accuracy(testY, f.Predict(testX)); acc < 0.95 {
		t.Errorf("accuracy %v too low", acc)
	}
	for _, p := range f.PredictProba(testX) {
		if p < 0 || p > 1 {
			t.Fatalf("probability %v out of range", p)
		}
	}
}

func TestBooster(t *testing.T) {
	X, y := separable(400, 3)
	b := NewBooster()
	b.NEstimators = 20
	b.MaxDepth = 3
	assert.NoError(t, b.Fit(X, y))
	testX, testY := separable(200, 4)
	if acc := Accuracy(testY, b.Predict(testX)); acc < 0.95 {
		t.Errorf("accuracy %v too low", acc)
	}
	for _, tree := range b.Trees {
		if d := tree.Depth(); d > 3 {
			t.Errorf("tree depth %d exceeds max depth", d)
		}
	}
}

func TestDeterministic(t *testing.T) {
	X, y := separable(300, 5)
	fit := func() []float64 {
		f := NewRandomForest()
		f.NEstimators = 10
		f.MaxFeatures = 0.5
		f.Seed = 11
		if err := f.Fit(X, y); err != nil {
			t.Fatal(err)
		}
		return f.PredictProba(X)
	}
	if a, b := fit(), fit(); !reflect.DeepEqual(a, b) {
		t.Error("forest is not deterministic for a fixed seed")
	}
	boost := func() []float64 {
		b := NewBooster()
		b.NEstimators = 10
		b.Subsample = 0.7
		b.Seed = 3
		if err := b.Fit(X, y); err != nil {
			t.Fatal(err)
		}
		return b.PredictProba(X)
	}
	if a, b := boost(), boost(); !reflect.DeepEqual(a, b) {
		t.Error("booster is not deterministic for a fixed seed")
	}
}

func TestMissingGoesLeft(t *testing.T) {
	tree := Tree{Nodes: []Node{
		{Feature: 0, Threshold: 1, Left: 1, Right: 2},
		{Leaf: true, Value: -1},
		{Leaf: true, Value: 1},
	}}
	if got := tree.Eval([]float64{math.NaN()}); got != -1 {
		t.Errorf("got %v, want -1", got)
	}
	if got := tree.Eval([]float64{2}); got != 1 {
		t.Errorf("got %v, want 1", got)
	}
	assert.EQ(t, tree.Depth(), 1)
}

func TestSaveLoad(t *testing.T) {
	X, y := separable(100, 6)
	for _, m := range []Classifier{
		&RandomForest{NEstimators: 5, MaxDepth: 3, MinSamplesSplit: 2, Bootstrap: true},
		&Booster{NEstimators: 5, MaxDepth: 3, LearningRate: 0.3, Lambda: 1, MinChildWeight: 1},
	} {
		assert.NoError(t, m.Fit(X, y))
		var b bytes.Buffer
		assert.NoError(t, Save(&b, m))
		loaded, err := Load(&b)
		assert.NoError(t, err)
		assert.EQ(t, reflect.TypeOf(loaded), reflect.TypeOf(m))
		if !reflect.DeepEqual(loaded.(Classifier).PredictProba(X), m.PredictProba(X)) {
			t.Errorf("%T: predictions changed after reload", m)
		}
	}
}

// blobs returns n rows scattered around each of the given centers,
// with the center index of each row.
func blobs(centers [][]float64, n int, seed int64) ([][]float64, []int) {
	r := rand.New(rand.NewSource(seed))
	var (
		X  [][]float64
		id []int
	)
	for k, c := range centers {
		for i := 0; i < n; i++ {
			x := make([]float64, len(c))
			for j := range c {
				x[j] = c[j] + 0.1*r.NormFloat64()
			}
			X = append(X, x)
			id = append(id, k)
		}
	}
	return X, id
}

func TestKMeans(t *testing.T) {
	centers := [][]float64{{0, 0}, {10, 10}, {-10, 10}}
	X, id := blobs(centers, 50, 8)
	m := NewKMeans(3)
	m.Seed = 2
	assert.NoError(t, m.Fit(X))
	assert.EQ(t, m.NumFeatures(), 2)
	assert.EQ(t, len(m.Centroids), 3)
	// Cluster ids are arbitrary, but each blob maps to one cluster.
	pred := m.Predict(X)
	label := make(map[int]int)
	for i, k := range pred {
		if l, ok := label[id[i]]; ok && l != k {
			t.Fatalf("row %d of blob %d in cluster %d, expected %d", i, id[i], k, l)
		}
		label[id[i]] = k
	}
	assert.EQ(t, len(label), 3)
	if m.Inertia > 0.1*float64(len(X)) {
		t.Errorf("inertia %v too high", m.Inertia)
	}
	// Missing coordinates are ignored.
	assert.EQ(t, m.Predict([][]float64{{math.NaN(), 0.1}, {9.8, math.NaN()}}), []int{label[0], label[1]})

	var b bytes.Buffer
	assert.NoError(t, Save(&b, m))
	loaded, err := Load(&b)
	assert.NoError(t, err)
	assert.EQ(t, loaded.Predict(X), pred)

	for _, bad := range []*KMeans{{K: 0, MaxIter: 10}, {K: 1000, MaxIter: 10}, {K: 2}} {
		if err := bad.Fit(X); !errors.Is(errors.Invalid, err) {
			t.Errorf("%+v: got %v, want invalid", bad, err)
		}
	}
	if err := NewKMeans(1).Fit(nil); !errors.Is(errors.Invalid, err) {
		t.Errorf("got %v, want invalid", err)
	}
}

func TestInvalidTraining(t *testing.T) {
	f := NewRandomForest()
	for _, c := range []struct {
		X [][]float64
		y []int
	}{
		{nil, nil},
		{[][]float64{{1}, {2}}, []int{0}},
		{[][]float64{{1}, {2, 3}}, []int{0, 1}},
		{[][]float64{{1}, {2}}, []int{0, 2}},
	} {
		if err := f.Fit(c.X, c.y); !errors.Is(errors.Invalid, err) {
			t.Errorf("fit(%v, %v): got %v, want invalid", c.X, c.y, err)
		}
	}
}

func TestThreshold(t *testing.T) {
	got := Threshold([]float64{0.1, 0.5, 0.51, 1}, 0.5)
	assert.EQ(t, got, []int{0, 0, 1, 1})
	assert.EQ(t, Accuracy([]int{0, 1, 1, 1}, got), 0.75)
}
