// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package serve implements an HTTP inference server for models saved
// by the hpo benchmark. It follows the SageMaker hosting contract: a
// GET /ping heartbeat and POST /invocations for batch predictions.
package serve

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/slicebench/model"
)

// Model file name suffixes, in order of preference.
const (
	XGBoostSuffix      = "_xgb"
	RandomForestSuffix = "_rf"
	KMeansSuffix       = "_kmeans"
)

var families = []struct{ suffix, family string }{
	{XGBoostSuffix, "XGBoost"},
	{RandomForestSuffix, "RandomForest"},
	{KMeansSuffix, "KMeans"},
}

// Model is a trained model loaded for serving.
type Model struct {
	// Path is the file the model was loaded from.
	Path string
	// Family is "XGBoost", "RandomForest" or "KMeans".
	Family string
	model.Predictor
}

// GPU tells whether the model was trained on a GPU target, as recorded
// in its file name.
func (m *Model) GPU() bool {
	return strings.Contains(path.Base(m.Path), "gpu")
}

// Load loads the first XGBoost model in dir, or else the first
// RandomForest model, or else the first KMeans model. Dir may be any
// path supported by grailbio/base/file. It is an error of kind
// errors.NotExist if dir holds none of them.
func Load(ctx context.Context, dir string) (*Model, error) {
	names, err := list(ctx, dir)
	if err != nil {
		return nil, err
	}
	for _, c := range families {
		var paths []string
		for _, p := range names {
			if strings.HasSuffix(path.Base(p), c.suffix) {
				paths = append(paths, p)
			}
		}
		log.Printf("detected %s models: %v", c.family, paths)
		if len(paths) == 0 {
			continue
		}
		start := time.Now()
		m, err := loadFile(ctx, paths[0])
		if err != nil {
			return nil, err
		}
		log.Printf("model %s loaded in %s", paths[0], time.Since(start))
		return &Model{Path: paths[0], Family: c.family, Predictor: m}, nil
	}
	return nil, errors.E(errors.NotExist, fmt.Sprintf("no trained models in %s", dir))
}

// list returns the sorted paths of the files directly under dir.
func list(ctx context.Context, dir string) ([]string, error) {
	var (
		paths []string
		lst   = file.List(ctx, dir, false)
	)
	for lst.Scan() {
		if !lst.IsDir() {
			paths = append(paths, lst.Path())
		}
	}
	if err := lst.Err(); err != nil {
		return nil, errors.E(fmt.Sprintf("list %s", dir), err)
	}
	sort.Strings(paths)
	return paths, nil
}

func loadFile(ctx context.Context, path string) (model.Predictor, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer f.Close(ctx) // nolint: errcheck
	m, err := model.Load(f.Reader(ctx))
	if err != nil {
		return nil, errors.E(fmt.Sprintf("load %s", path), err)
	}
	return m, nil
}
