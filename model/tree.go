// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package model

import (
	"math"
	"math/rand"
	"sort"
)

// Node is a node in a flattened binary tree. Internal nodes route
// rows with x[Feature] <= Threshold (or x[Feature] missing) to Left,
// and the rest to Right. Leaves carry Value.
type Node struct {
	Leaf      bool
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     float64
}

// Tree is a binary decision tree stored as a flat node list rooted at
// index 0. Flat storage keeps trees gob-encodable.
type Tree struct {
	Nodes []Node
}

// Eval returns the leaf value for row x.
func (t *Tree) Eval(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if v := x[n.Feature]; math.IsNaN(v) || v <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Depth returns the depth of the tree; a single leaf has depth 0.
func (t *Tree) Depth() int {
	var depth func(i int) int
	depth = func(i int) int {
		n := t.Nodes[i]
		if n.Leaf {
			return 0
		}
		l, r := depth(n.Left), depth(n.Right)
		if l > r {
			return l + 1
		}
		return r + 1
	}
	if len(t.Nodes) == 0 {
		return 0
	}
	return depth(0)
}

// splitter scores candidate partitions of a row set. Implementations
// keep sufficient statistics: add moves a row into the left
// partition; gain scores the current partition relative to the
// unsplit set.
type splitter interface {
	reset(rows []int)
	add(row int)
	gain() float64
	valid() bool
	leaf(rows []int) float64
}

type growOptions struct {
	maxDepth        int
	minSamplesSplit int
	// maxFeatures is the number of features considered per split;
	// 0 means all of them.
	maxFeatures int
	minGain     float64
}

type grower struct {
	X     [][]float64
	split splitter
	opts  growOptions
	rnd   *rand.Rand
	nodes []Node
	// scratch holds (value, row) pairs reused across splits.
	scratch []keyed
}

type keyed struct {
	v   float64
	row int
}

// grow builds a tree over the given rows.
func grow(X [][]float64, rows []int, split splitter, opts growOptions, rnd *rand.Rand) Tree {
	g := &grower{X: X, split: split, opts: opts, rnd: rnd}
	g.node(rows, 0)
	return Tree{Nodes: g.nodes}
}

func (g *grower) node(rows []int, depth int) int {
	idx := len(g.nodes)
	g.nodes = append(g.nodes, Node{Leaf: true, Value: g.split.leaf(rows)})
	if g.opts.maxDepth > 0 && depth >= g.opts.maxDepth {
		return idx
	}
	if len(rows) < g.opts.minSamplesSplit || len(rows) < 2 {
		return idx
	}
	feature, threshold, ok := g.best(rows)
	if !ok {
		return idx
	}
	var left, right []int
	for _, row := range rows {
		if v := g.X[row][feature]; math.IsNaN(v) || v <= threshold {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return idx
	}
	l := g.node(left, depth+1)
	r := g.node(right, depth+1)
	g.nodes[idx] = Node{Feature: feature, Threshold: threshold, Left: l, Right: r}
	return idx
}

func (g *grower) features() []int {
	p := len(g.X[0])
	k := g.opts.maxFeatures
	if k <= 0 || k >= p {
		all := make([]int, p)
		for i := range all {
			all[i] = i
		}
		return all
	}
	return g.rnd.Perm(p)[:k]
}

// best returns the split with the highest gain over the sampled
// features. Missing values sort first, so they always fall left.
func (g *grower) best(rows []int) (feature int, threshold float64, ok bool) {
	bestGain := g.opts.minGain
	for _, f := range g.features() {
		g.scratch = g.scratch[:0]
		for _, row := range rows {
			v := g.X[row][f]
			if math.IsNaN(v) {
				v = math.Inf(-1)
			}
			g.scratch = append(g.scratch, keyed{v, row})
		}
		sort.Slice(g.scratch, func(i, j int) bool {
			if g.scratch[i].v == g.scratch[j].v {
				return g.scratch[i].row < g.scratch[j].row
			}
			return g.scratch[i].v < g.scratch[j].v
		})
		g.split.reset(rows)
		for i := 0; i < len(g.scratch)-1; i++ {
			g.split.add(g.scratch[i].row)
			lo, hi := g.scratch[i].v, g.scratch[i+1].v
			if lo == hi || !g.split.valid() {
				continue
			}
			if gain := g.split.gain(); gain > bestGain {
				bestGain = gain
				feature = f
				if math.IsInf(lo, -1) {
					threshold = math.Inf(-1)
				} else {
					threshold = lo + (hi-lo)/2
				}
				ok = true
			}
		}
	}
	return
}

// giniSplitter scores binary classification splits by decrease in
// Gini impurity. Leaves hold the fraction of positive rows.
type giniSplitter struct {
	y                []int
	n, pos           float64
	leftN, leftPos   float64
	minSamplesLeaf   float64
	parentImpurityXN float64
}

func gini(n, pos float64) float64 {
	if n == 0 {
		return 0
	}
	p := pos / n
	return 2 * p * (1 - p)
}

func (s *giniSplitter) reset(rows []int) {
	s.n, s.pos, s.leftN, s.leftPos = float64(len(rows)), 0, 0, 0
	for _, row := range rows {
		s.pos += float64(s.y[row])
	}
	s.parentImpurityXN = gini(s.n, s.pos) * s.n
}

func (s *giniSplitter) add(row int) {
	s.leftN++
	s.leftPos += float64(s.y[row])
}

func (s *giniSplitter) valid() bool {
	return s.leftN >= s.minSamplesLeaf && s.n-s.leftN >= s.minSamplesLeaf
}

func (s *giniSplitter) gain() float64 {
	rightN, rightPos := s.n-s.leftN, s.pos-s.leftPos
	child := gini(s.leftN, s.leftPos)*s.leftN + gini(rightN, rightPos)*rightN
	return (s.parentImpurityXN - child) / s.n
}

func (s *giniSplitter) leaf(rows []int) float64 {
	if len(rows) == 0 {
		return 0
	}
	var pos float64
	for _, row := range rows {
		pos += float64(s.y[row])
	}
	return pos / float64(len(rows))
}

// gradSplitter scores regression splits over first and second order
// gradients of the loss, as in second-order gradient boosting. Leaves
// hold the Newton step -G/(H+lambda).
type gradSplitter struct {
	grad, hess     []float64
	lambda, gamma  float64
	minChildWeight float64

	g, h         float64
	leftG, leftH float64
}

func (s *gradSplitter) reset(rows []int) {
	s.g, s.h, s.leftG, s.leftH = 0, 0, 0, 0
	for _, row := range rows {
		s.g += s.grad[row]
		s.h += s.hess[row]
	}
}

func (s *gradSplitter) add(row int) {
	s.leftG += s.grad[row]
	s.leftH += s.hess[row]
}

func (s *gradSplitter) valid() bool {
	return s.leftH >= s.minChildWeight && s.h-s.leftH >= s.minChildWeight
}

func (s *gradSplitter) score(g, h float64) float64 {
	return g * g / (h + s.lambda)
}

func (s *gradSplitter) gain() float64 {
	rightG, rightH := s.g-s.leftG, s.h-s.leftH
	return 0.5*(s.score(s.leftG, s.leftH)+s.score(rightG, rightH)-s.score(s.g, s.h)) - s.gamma
}

func (s *gradSplitter) leaf(rows []int) float64 {
	var g, h float64
	for _, row := range rows {
		g += s.grad[row]
		h += s.hess[row]
	}
	return -g / (h + s.lambda)
}
