// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package hpo

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
)

// Params is a hyperparameter configuration. Integer parameters are
// stored as integral float64 values.
type Params map[string]float64

// Int returns the named parameter as an int.
func (p Params) Int(name string) int { return int(math.Round(p[name])) }

// String returns a deterministic rendering of p, sorted by name.
func (p Params) String() string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%.4g", name, p[name])
	}
	return strings.Join(parts, " ")
}

// Sampler draws configurations from a search space.
type Sampler interface {
	Sample(space Space) Params
}

// RandomSampler samples each parameter independently and uniformly
// within its bounds: Int parameters uniformly over the integers in
// [Low, High], LogFloat parameters log-uniformly.
type RandomSampler struct {
	rnd *rand.Rand
}

// NewRandomSampler returns a random sampler with the given seed.
func NewRandomSampler(seed int64) *RandomSampler {
	return &RandomSampler{rand.New(rand.NewSource(seed))}
}

// Sample implements Sampler.
func (s *RandomSampler) Sample(space Space) Params {
	p := make(Params, len(space))
	for _, param := range space {
		switch param.Kind {
		case Int:
			lo, hi := int64(param.Low), int64(param.High)
			p[param.Name] = float64(lo + s.rnd.Int63n(hi-lo+1))
		case LogFloat:
			lo, hi := math.Log(param.Low), math.Log(param.High)
			p[param.Name] = math.Exp(lo + s.rnd.Float64()*(hi-lo))
		default:
			p[param.Name] = param.Low + s.rnd.Float64()*(param.High-param.Low)
		}
	}
	return p
}
