// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package serve

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/slicebench/benchcmd"
	"github.com/grailbio/slicebench/model"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

// stepData returns a single-feature dataset whose label is x > 0.5.
func stepData() ([][]float64, []int) {
	var (
		X [][]float64
		y []int
	)
	for i := 0; i < 100; i++ {
		x := float64(i) / 100
		X = append(X, []float64{x})
		if x > 0.5 {
			y = append(y, 1)
		} else {
			y = append(y, 0)
		}
	}
	return X, y
}

func saveModel(t *testing.T, path string, m model.Predictor) {
	t.Helper()
	X, y := stepData()
	switch m := m.(type) {
	case model.Classifier:
		assert.NoError(t, m.Fit(X, y))
	case *model.KMeans:
		assert.NoError(t, m.Fit(X))
	}
	f, err := os.Create(path)
	assert.NoError(t, err)
	assert.NoError(t, model.Save(f, m))
	assert.NoError(t, f.Close())
}

func newBooster() *model.Booster {
	b := model.NewBooster()
	b.NEstimators = 10
	b.MaxDepth = 2
	return b
}

func newForest() *model.RandomForest {
	f := model.NewRandomForest()
	f.NEstimators = 5
	f.MaxDepth = 3
	return f
}

func newKMeans() *model.KMeans {
	m := model.NewKMeans(2)
	m.Seed = 1
	return m
}

func TestLoad(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	if _, err := Load(ctx, dir); !errors.Is(errors.NotExist, err) {
		t.Fatalf("got %v, want not exist", err)
	}
	// Subdirectories and files with other suffixes are ignored.
	assert.NoError(t, os.Mkdir(filepath.Join(dir, "old_xgb"), 0755))
	assert.NoError(t, ioutil.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	if _, err := Load(ctx, dir); !errors.Is(errors.NotExist, err) {
		t.Fatalf("got %v, want not exist", err)
	}
	saveModel(t, filepath.Join(dir, "slicebench_cpu_kmeans"), newKMeans())
	m, err := Load(ctx, dir)
	assert.NoError(t, err)
	expect.EQ(t, m.Family, "KMeans")

	// RandomForest models take precedence over KMeans.
	saveModel(t, filepath.Join(dir, "slicebench_cpu_rf"), newForest())
	m, err = Load(ctx, dir)
	assert.NoError(t, err)
	expect.EQ(t, m.Family, "RandomForest")

	// Of several models of a family, the first by name is served.
	saveModel(t, filepath.Join(dir, "a_cpu_rf"), newForest())
	m, err = Load(ctx, dir)
	assert.NoError(t, err)
	expect.EQ(t, filepath.Base(m.Path), "a_cpu_rf")

	// XGBoost models take precedence.
	saveModel(t, filepath.Join(dir, "slicebench_gpu_xgb"), newBooster())
	m, err = Load(ctx, dir)
	assert.NoError(t, err)
	expect.EQ(t, m.Family, "XGBoost")
	expect.EQ(t, filepath.Base(m.Path), "slicebench_gpu_xgb")
	expect.True(t, m.GPU())
	expect.EQ(t, m.NumFeatures(), 1)

	assert.NoError(t, ioutil.WriteFile(filepath.Join(dir, "bad_xgb"), []byte("junk"), 0644))
	assert.NoError(t, os.Remove(filepath.Join(dir, "slicebench_gpu_xgb")))
	if _, err := Load(ctx, dir); !errors.Is(errors.Integrity, err) {
		t.Errorf("got %v, want integrity", err)
	}
}

func newTestServer(t *testing.T, name string, m model.Predictor, compute benchcmd.Compute) (*Server, func()) {
	t.Helper()
	dir, cleanup := testutil.TempDir(t, "", "")
	saveModel(t, filepath.Join(dir, name), m)
	loaded, err := Load(context.Background(), dir)
	if err != nil {
		cleanup()
		t.Fatal(err)
	}
	return NewServer(loaded, compute, DefaultThreshold), cleanup
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestPing(t *testing.T) {
	s, cleanup := newTestServer(t, "m_cpu_xgb", newBooster(), benchcmd.CPU)
	defer cleanup()
	rec := do(s, http.MethodGet, "/ping", "")
	expect.EQ(t, rec.Code, http.StatusOK)
	expect.EQ(t, rec.Body.String(), "\n")
}

func TestInvocations(t *testing.T) {
	for _, c := range []struct {
		name string
		m    model.Classifier
	}{
		{"m_cpu_xgb", newBooster()},
		{"m_cpu_rf", newForest()},
	} {
		t.Run(c.name, func(t *testing.T) {
			s, cleanup := newTestServer(t, c.name, c.m, benchcmd.CPU)
			defer cleanup()
			rec := do(s, http.MethodPost, "/invocations", "[[0.05], [0.95], [0.1], [0.9]]")
			assert.EQ(t, rec.Code, http.StatusOK, rec.Body.String())
			var pred []float64
			assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pred))
			expect.EQ(t, pred, []float64{0, 1, 0, 1})

			rec = do(s, http.MethodPost, "/invocations", "[]")
			assert.EQ(t, rec.Code, http.StatusOK)
			assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pred))
			expect.EQ(t, len(pred), 0)

			// Missing values are accepted.
			rec = do(s, http.MethodPost, "/invocations", "[[null]]")
			expect.EQ(t, rec.Code, http.StatusOK)
		})
	}
}

func TestInvocationErrors(t *testing.T) {
	s, cleanup := newTestServer(t, "m_cpu_xgb", newBooster(), benchcmd.CPU)
	defer cleanup()
	for _, body := range []string{"", "not json", `{"rows": 1}`, `[["a"]]`} {
		rec := do(s, http.MethodPost, "/invocations", body)
		expect.EQ(t, rec.Code, http.StatusUnsupportedMediaType)
	}
	rec := do(s, http.MethodPost, "/invocations", "[[0.1, 0.2]]")
	expect.EQ(t, rec.Code, http.StatusBadRequest)
	expect.True(t, strings.HasPrefix(rec.Body.String(), "Inference failure: "))

	// A flat list of values is not a list of rows.
	for _, body := range []string{"[1, 2, 3]", "[0.1]"} {
		rec = do(s, http.MethodPost, "/invocations", body)
		expect.EQ(t, rec.Code, http.StatusBadRequest)
		expect.True(t, strings.HasPrefix(rec.Body.String(), "Inference failure: "))
	}

	rec = do(s, http.MethodGet, "/invocations", "")
	expect.EQ(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestGPUForestOnCPU(t *testing.T) {
	s, cleanup := newTestServer(t, "m_gpu_rf", newForest(), benchcmd.CPU)
	defer cleanup()
	rec := do(s, http.MethodPost, "/invocations", "[[0.1]]")
	expect.EQ(t, rec.Code, http.StatusBadRequest)
	expect.True(t, strings.Contains(rec.Body.String(), "GPU trained RandomForest"))

	s, cleanup2 := newTestServer(t, "m_gpu_rf", newForest(), benchcmd.GPU)
	defer cleanup2()
	rec = do(s, http.MethodPost, "/invocations", "[[0.1]]")
	expect.EQ(t, rec.Code, http.StatusOK)
}

func TestKMeans(t *testing.T) {
	s, cleanup := newTestServer(t, "m_cpu_kmeans", newKMeans(), benchcmd.CPU)
	defer cleanup()
	rec := do(s, http.MethodPost, "/invocations", "[[0.05], [0.95], [0.1], [0.9]]")
	assert.EQ(t, rec.Code, http.StatusOK, rec.Body.String())
	var pred []float64
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pred))
	assert.EQ(t, len(pred), 4)
	expect.True(t, pred[0] != pred[1])
	expect.EQ(t, pred[0], pred[2])
	expect.EQ(t, pred[1], pred[3])
	for _, p := range pred {
		expect.True(t, p == 0 || p == 1)
	}

	s, cleanup2 := newTestServer(t, "m_gpu_kmeans", newKMeans(), benchcmd.CPU)
	defer cleanup2()
	rec = do(s, http.MethodPost, "/invocations", "[[0.1]]")
	expect.EQ(t, rec.Code, http.StatusBadRequest)
	expect.True(t, strings.Contains(rec.Body.String(), "GPU trained KMeans"))
}
