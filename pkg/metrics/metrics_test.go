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

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPipeline("test", reg)
	require.NoError(t, err)

	p.ObserveStage("rendering", 2*time.Second)
	p.RunSucceeded()
	p.RunFailed("fetching")
	p.RunFailed("fetching")
	p.SetStaged(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(p.runs.WithLabelValues(ResultSuccess, "")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.runs.WithLabelValues(ResultFailed, "fetching")))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.staged))
	assert.Equal(t, 1, testutil.CollectAndCount(p.stageDuration))
}

func TestPipelineMetricsReuseRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPipeline("test", reg)
	require.NoError(t, err)
	second, err := NewPipeline("test", reg)
	require.NoError(t, err)

	first.RunSucceeded()
	second.RunSucceeded()
	assert.Equal(t, 2.0, testutil.ToFloat64(first.runs.WithLabelValues(ResultSuccess, "")))
}

func TestNilPipelineIsNoop(t *testing.T) {
	var p *Pipeline
	assert.NotPanics(t, func() {
		p.ObserveStage("rendering", time.Second)
		p.RunSucceeded()
		p.RunFailed("persisting")
		p.SetStaged(1)
	})
}
