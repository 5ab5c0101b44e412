// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package hpo

import (
	"context"
	"fmt"
	"io/ioutil"
	"math"
	"sort"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"gopkg.in/yaml.v3"
)

// Kind is the type of a hyperparameter.
type Kind int

const (
	// Int parameters take integer values in [Low, High].
	Int Kind = iota
	// Float parameters take real values in [Low, High).
	Float
	// LogFloat parameters take real values in [Low, High), sampled
	// uniformly in log space.
	LogFloat
)

var kindNames = map[Kind]string{Int: "int", Float: "float", LogFloat: "log"}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (k *Kind) UnmarshalYAML(value *yaml.Node) error {
	for kind, name := range kindNames {
		if strings.EqualFold(value.Value, name) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("line %d: unknown parameter type %q", value.Line, value.Value)
}

// MarshalYAML implements yaml.Marshaler.
func (k Kind) MarshalYAML() (interface{}, error) { return k.String(), nil }

// Param is a named hyperparameter and its bounds.
type Param struct {
	Name string  `yaml:"name"`
	Kind Kind    `yaml:"type"`
	Low  float64 `yaml:"low"`
	High float64 `yaml:"high"`
}

// Space is a hyperparameter search space.
type Space []Param

// Validate checks that every parameter has a name and sane bounds.
func (s Space) Validate() error {
	if len(s) == 0 {
		return errors.E(errors.Invalid, "empty search space")
	}
	seen := make(map[string]bool)
	for _, p := range s {
		switch {
		case p.Name == "":
			return errors.E(errors.Invalid, "search space: unnamed parameter")
		case seen[p.Name]:
			return errors.E(errors.Invalid, fmt.Sprintf("search space: duplicate parameter %s", p.Name))
		case p.Low > p.High:
			return errors.E(errors.Invalid, fmt.Sprintf("search space: %s: low %v > high %v", p.Name, p.Low, p.High))
		case p.Kind == LogFloat && p.Low <= 0:
			return errors.E(errors.Invalid, fmt.Sprintf("search space: %s: log bounds must be positive", p.Name))
		case p.Kind == Int && (p.Low != math.Trunc(p.Low) || p.High != math.Trunc(p.High)):
			return errors.E(errors.Invalid, fmt.Sprintf("search space: %s: int bounds must be integers", p.Name))
		}
		seen[p.Name] = true
	}
	return nil
}

// Names returns the sorted parameter names of s.
func (s Space) Names() []string {
	names := make([]string, len(s))
	for i, p := range s {
		names[i] = p.Name
	}
	sort.Strings(names)
	return names
}

var defaultSpaces = map[string]Space{
	XGBoost: {
		{Name: "max_depth", Kind: Int, Low: 5, High: 15},
		{Name: "learning_rate", Kind: LogFloat, Low: 0.01, High: 0.3},
		{Name: "n_estimators", Kind: Int, Low: 50, High: 300},
		{Name: "gamma", Kind: Float, Low: 0, High: 1},
		{Name: "subsample", Kind: Float, Low: 0.5, High: 1},
		{Name: "min_child_weight", Kind: Float, Low: 1, High: 10},
	},
	RandomForest: {
		{Name: "max_depth", Kind: Int, Low: 5, High: 15},
		{Name: "max_features", Kind: Float, Low: 0.1, High: 1},
		{Name: "n_estimators", Kind: Int, Low: 100, High: 500},
		{Name: "min_samples_split", Kind: Int, Low: 2, High: 10},
	},
}

// DefaultSpace returns the default search space for the named model.
func DefaultSpace(model string) (Space, error) {
	s, ok := defaultSpaces[model]
	if !ok {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("no search space for model %q", model))
	}
	return append(Space(nil), s...), nil
}

// ReadSpace parses a YAML search space of the form:
//
//	params:
//	- name: max_depth
//	  type: int
//	  low: 5
//	  high: 15
func ReadSpace(p []byte) (Space, error) {
	var doc struct {
		Params Space `yaml:"params"`
	}
	if err := yaml.Unmarshal(p, &doc); err != nil {
		return nil, errors.E(errors.Invalid, "search space", err)
	}
	if err := doc.Params.Validate(); err != nil {
		return nil, err
	}
	return doc.Params, nil
}

// LoadSpace reads a YAML search space from path.
func LoadSpace(ctx context.Context, path string) (Space, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer f.Close(ctx) // nolint: errcheck
	p, err := ioutil.ReadAll(f.Reader(ctx))
	if err != nil {
		return nil, err
	}
	return ReadSpace(p)
}
