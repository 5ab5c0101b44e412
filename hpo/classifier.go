// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package hpo

import (
	"fmt"
	"sort"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/slicebench/model"
)

// setters maps the parameter names of each model family to the model
// fields they set.
var (
	boosterParams = map[string]func(*model.Booster, Params, string){
		"max_depth":        func(b *model.Booster, p Params, k string) { b.MaxDepth = p.Int(k) },
		"learning_rate":    func(b *model.Booster, p Params, k string) { b.LearningRate = p[k] },
		"n_estimators":     func(b *model.Booster, p Params, k string) { b.NEstimators = p.Int(k) },
		"gamma":            func(b *model.Booster, p Params, k string) { b.Gamma = p[k] },
		"lambda":           func(b *model.Booster, p Params, k string) { b.Lambda = p[k] },
		"subsample":        func(b *model.Booster, p Params, k string) { b.Subsample = p[k] },
		"min_child_weight": func(b *model.Booster, p Params, k string) { b.MinChildWeight = p[k] },
	}
	forestParams = map[string]func(*model.RandomForest, Params, string){
		"max_depth":         func(f *model.RandomForest, p Params, k string) { f.MaxDepth = p.Int(k) },
		"max_features":      func(f *model.RandomForest, p Params, k string) { f.MaxFeatures = p[k] },
		"n_estimators":      func(f *model.RandomForest, p Params, k string) { f.NEstimators = p.Int(k) },
		"min_samples_split": func(f *model.RandomForest, p Params, k string) { f.MinSamplesSplit = p.Int(k) },
	}
)

// NewClassifier returns an untrained classifier of the named model
// family configured by params. Parameters not set by params keep the
// model's defaults; unknown parameters are an error.
func NewClassifier(name string, params Params, seed int64) (model.Classifier, error) {
	var unknown []string
	switch name {
	case XGBoost:
		b := model.NewBooster()
		b.Seed = seed
		for k := range params {
			if set, ok := boosterParams[k]; ok {
				set(b, params, k)
			} else {
				unknown = append(unknown, k)
			}
		}
		if len(unknown) == 0 {
			return b, nil
		}
	case RandomForest:
		f := model.NewRandomForest()
		f.Seed = seed
		for k := range params {
			if set, ok := forestParams[k]; ok {
				set(f, params, k)
			} else {
				unknown = append(unknown, k)
			}
		}
		if len(unknown) == 0 {
			return f, nil
		}
	default:
		return nil, errors.E(errors.Invalid, fmt.Sprintf("invalid model %q", name))
	}
	sort.Strings(unknown)
	return nil, errors.E(errors.Invalid, fmt.Sprintf("%s: unknown parameters %s", name, strings.Join(unknown, ", ")))
}
