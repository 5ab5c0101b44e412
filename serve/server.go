// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package serve

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"math"
	"net/http"
	"time"

	"github.com/grailbio/base/limiter"
	"github.com/grailbio/base/log"
	"github.com/grailbio/slicebench/benchcmd"
	"github.com/grailbio/slicebench/model"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = ":8080"
	// DefaultThreshold is the probability above which XGBoost
	// predictions are class 1.
	DefaultThreshold = 0.5

	shutdownTimeout = 10 * time.Second
)

// Server serves predictions of a single model. At most one
// invocation per worker of the compute target runs at a time.
type Server struct {
	Echo *echo.Echo

	model     *Model
	compute   benchcmd.Compute
	threshold float64
	limiter   *limiter.Limiter
}

// NewServer returns a server for m running on the given compute
// target.
func NewServer(m *Model, compute benchcmd.Compute, threshold float64) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	s := &Server{Echo: e, model: m, compute: compute, threshold: threshold, limiter: limiter.New()}
	s.limiter.Release(compute.Workers())
	e.Use(requestLogger())
	e.Use(middleware.Recover())
	e.GET("/ping", s.ping)
	e.POST("/invocations", s.invocations)
	log.Printf("%s model serving workflow: %d workers", compute, compute.Workers())
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Echo.ServeHTTP(w, r)
}

// Start serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errc := make(chan error, 1)
	go func() {
		errc <- s.Echo.Start(addr)
	}()
	log.Printf("serving %s on %s", s.model.Path, addr)
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Echo.Shutdown(ctx)
}

func (s *Server) ping(c echo.Context) error {
	return c.String(http.StatusOK, "\n")
}

func (s *Server) invocations(c echo.Context) error {
	body, err := ioutil.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}
	var rows [][]*float64
	if err := json.Unmarshal(body, &rows); err != nil {
		// A flat list of numbers parses but is not a matrix.
		var flat []*float64
		if json.Unmarshal(body, &flat) != nil {
			return c.String(http.StatusUnsupportedMediaType,
				"Unable to parse input data [ should be json/string encoded list of arrays ]")
		}
		log.Error.Printf("inference on %s: input is a list of %d values, not a list of rows", s.model.Path, len(flat))
		return c.String(http.StatusBadRequest,
			fmt.Sprintf("Inference failure: expected a list of rows, got a list of %d values\n", len(flat)))
	}
	log.Debug.Printf("invocation: %d rows", len(rows))
	if err := s.limiter.Acquire(c.Request().Context(), 1); err != nil {
		return err
	}
	defer s.limiter.Release(1)
	start := time.Now()
	pred, err := s.Predict(toMatrix(rows))
	if err != nil {
		log.Error.Printf("inference on %s: %v", s.model.Path, err)
		return c.String(http.StatusBadRequest, fmt.Sprintf("Inference failure: %v\n", err))
	}
	log.Printf("inference using %s model %s: %d rows in %s", s.model.Family, s.model.Path, len(rows), time.Since(start))
	return c.JSON(http.StatusOK, pred)
}

// Predict returns predictions for the rows of X. XGBoost
// probabilities are thresholded; RandomForest returns the majority
// vote of its trees; KMeans returns cluster ids.
func (s *Server) Predict(X [][]float64) ([]float64, error) {
	if s.model.Family != "XGBoost" && s.model.GPU() && s.compute != benchcmd.GPU {
		return nil, fmt.Errorf("attempting to run CPU inference on a GPU trained %s model", s.model.Family)
	}
	nfeat := s.model.NumFeatures()
	for i, x := range X {
		if len(x) != nfeat {
			return nil, fmt.Errorf("row %d has %d features, model %s expects %d", i, len(x), s.model.Path, nfeat)
		}
	}
	var labels []int
	if b, ok := s.model.Predictor.(*model.Booster); ok {
		labels = model.Threshold(b.PredictProba(X), s.threshold)
	} else {
		labels = s.model.Predict(X)
	}
	out := make([]float64, len(labels))
	for i, l := range labels {
		out[i] = float64(l)
	}
	return out, nil
}

// toMatrix converts decoded JSON rows to a feature matrix. Null cells
// are missing values.
func toMatrix(rows [][]*float64) [][]float64 {
	X := make([][]float64, len(rows))
	for i, row := range rows {
		X[i] = make([]float64, len(row))
		for j, v := range row {
			if v == nil {
				X[i][j] = math.NaN()
			} else {
				X[i][j] = *v
			}
		}
	}
	return X
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogLatency: true,
		LogURI:     true,
		LogMethod:  true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				log.Error.Printf("%s %s: %d %s: %v", v.Method, v.URI, v.Status, v.Latency, v.Error)
			} else {
				log.Debug.Printf("%s %s: %d %s", v.Method, v.URI, v.Status, v.Latency)
			}
			return nil
		},
	})
}
