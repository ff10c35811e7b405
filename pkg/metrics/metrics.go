// Copyright 2025 The fawa Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exports generation pipeline telemetry to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const defaultNamespace = "roomdesign"

// Result labels for Pipeline runs.
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
)

// Pipeline records stage latencies, run outcomes and outstanding staged
// files. A nil *Pipeline is valid and records nothing.
type Pipeline struct {
	stageDuration *prometheus.HistogramVec
	runs          *prometheus.CounterVec
	staged        prometheus.Gauge
}

// NewPipeline registers the pipeline collectors with reg, or the default
// registerer when reg is nil. Collectors already registered under the same
// names are reused.
func NewPipeline(namespace string, reg prometheus.Registerer) (*Pipeline, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Pipeline{
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Latency of each generation pipeline stage.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"stage"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Generation runs by result and failing stage.",
		}, []string{"result", "stage"}),
		staged: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "staged_files",
			Help:      "Temporary files acquired and not yet released.",
		}),
	}

	var err error
	if p.stageDuration, err = register(reg, p.stageDuration); err != nil {
		return nil, err
	}
	if p.runs, err = register(reg, p.runs); err != nil {
		return nil, err
	}
	if p.staged, err = register(reg, p.staged); err != nil {
		return nil, err
	}
	return p, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register pipeline metric: %w", err)
	}
	return c, nil
}

// ObserveStage records how long stage took.
func (p *Pipeline) ObserveStage(stage string, d time.Duration) {
	if p == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RunSucceeded counts a completed run.
func (p *Pipeline) RunSucceeded() {
	if p == nil {
		return
	}
	p.runs.WithLabelValues(ResultSuccess, "").Inc()
}

// RunFailed counts a run that failed in stage.
func (p *Pipeline) RunFailed(stage string) {
	if p == nil {
		return
	}
	p.runs.WithLabelValues(ResultFailed, stage).Inc()
}

// SetStaged reports the number of outstanding staged files.
func (p *Pipeline) SetStaged(n int64) {
	if p == nil {
		return
	}
	p.staged.Set(float64(n))
}
