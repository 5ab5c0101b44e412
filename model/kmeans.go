// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package model

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"github.com/grailbio/base/errors"
	"golang.org/x/sync/errgroup"
)

// KMeans partitions rows into K clusters by Lloyd's algorithm, seeded
// with k-means++. Predictions are cluster ids in [0, K).
type KMeans struct {
	// K is the number of clusters.
	K int
	// MaxIter bounds the number of assignment and update rounds.
	MaxIter int
	// Seed seeds the k-means++ initialization.
	Seed int64

	// Features is the number of columns the model was fitted on.
	Features  int
	Centroids [][]float64
	// Inertia is the sum of squared distances of the training rows to
	// their nearest centroid.
	Inertia float64
}

// NewKMeans returns a model with k clusters and common defaults.
func NewKMeans(k int) *KMeans {
	return &KMeans{K: k, MaxIter: 300}
}

// Fit computes the centroids of X. Missing values are ignored, both
// in distances and in centroid means.
func (m *KMeans) Fit(X [][]float64) error {
	if len(X) == 0 {
		return errors.E(errors.Invalid, "kmeans: empty training set")
	}
	p := len(X[0])
	if p == 0 {
		return errors.E(errors.Invalid, "kmeans: rows have no features")
	}
	for i, x := range X {
		if len(x) != p {
			return errors.E(errors.Invalid, fmt.Sprintf("kmeans: row %d has %d features, expected %d", i, len(x), p))
		}
	}
	if m.K < 1 || m.K > len(X) {
		return errors.E(errors.Invalid, fmt.Sprintf("kmeans: k=%d with %d rows", m.K, len(X)))
	}
	if m.MaxIter < 1 {
		return errors.E(errors.Invalid, "kmeans: max_iter must be positive")
	}
	m.Features = p
	m.Centroids = initCentroids(X, m.K, rand.New(rand.NewSource(m.Seed)))
	assign := make([]int, len(X))
	for i := range assign {
		assign[i] = -1
	}
	for it := 0; it < m.MaxIter; it++ {
		if changed := m.assign(X, assign); !changed {
			break
		}
		m.update(X, assign)
	}
	m.Inertia = 0
	for i, x := range X {
		m.Inertia += sqdist(x, m.Centroids[assign[i]])
	}
	return nil
}

// assign sets each row's nearest centroid, reporting whether any
// assignment changed. Rows are partitioned across GOMAXPROCS workers.
func (m *KMeans) assign(X [][]float64, assign []int) bool {
	var (
		n       = len(X)
		workers = runtime.GOMAXPROCS(0)
		per     = (n + workers - 1) / workers
		changed = make([]bool, workers)
		g       errgroup.Group
	)
	for w := 0; w < workers; w++ {
		w, start, end := w, w*per, (w+1)*per
		if end > n {
			end = n
		}
		if start >= end {
			break
		}
		g.Go(func() error {
			for i := start; i < end; i++ {
				if k := m.nearest(X[i]); k != assign[i] {
					assign[i] = k
					changed[w] = true
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	for _, c := range changed {
		if c {
			return true
		}
	}
	return false
}

// update moves each centroid to the mean of its rows. Empty clusters
// keep their centroid.
func (m *KMeans) update(X [][]float64, assign []int) {
	sums := make([][]float64, m.K)
	counts := make([][]int, m.K)
	for k := range sums {
		sums[k] = make([]float64, m.Features)
		counts[k] = make([]int, m.Features)
	}
	for i, x := range X {
		k := assign[i]
		for j, v := range x {
			if !math.IsNaN(v) {
				sums[k][j] += v
				counts[k][j]++
			}
		}
	}
	for k := range sums {
		for j := range sums[k] {
			if counts[k][j] > 0 {
				m.Centroids[k][j] = sums[k][j] / float64(counts[k][j])
			}
		}
	}
}

func (m *KMeans) nearest(x []float64) int {
	best, bestd := 0, math.Inf(1)
	for k, c := range m.Centroids {
		if d := sqdist(x, c); d < bestd {
			best, bestd = k, d
		}
	}
	return best
}

// Predict returns the id of the nearest centroid of each row.
func (m *KMeans) Predict(X [][]float64) []int {
	out := make([]int, len(X))
	if len(m.Centroids) == 0 {
		return out
	}
	for i, x := range X {
		out[i] = m.nearest(x)
	}
	return out
}

// NumFeatures returns the number of features the model was fitted
// on, or 0 if unfitted.
func (m *KMeans) NumFeatures() int { return m.Features }

// initCentroids picks k rows by k-means++: the first uniformly, each
// next with probability proportional to its squared distance to the
// nearest centroid chosen so far.
func initCentroids(X [][]float64, k int, r *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, fill(X[r.Intn(len(X))]))
	dist := make([]float64, len(X))
	for len(centroids) < k {
		var total float64
		for i, x := range X {
			d := math.Inf(1)
			for _, c := range centroids {
				d = math.Min(d, sqdist(x, c))
			}
			dist[i] = d
			total += d
		}
		next := len(X) - 1
		if total > 0 {
			u := r.Float64() * total
			for i, d := range dist {
				if u -= d; u <= 0 {
					next = i
					break
				}
			}
		} else {
			next = r.Intn(len(X))
		}
		centroids = append(centroids, fill(X[next]))
	}
	return centroids
}

// fill copies x with missing values replaced by zero.
func fill(x []float64) []float64 {
	c := make([]float64, len(x))
	for j, v := range x {
		if !math.IsNaN(v) {
			c[j] = v
		}
	}
	return c
}

// sqdist is the squared Euclidean distance over the coordinates that
// are present in both vectors.
func sqdist(x, c []float64) float64 {
	var d float64
	for j, v := range x {
		if math.IsNaN(v) || math.IsNaN(c[j]) {
			continue
		}
		dv := v - c[j]
		d += dv * dv
	}
	return d
}
