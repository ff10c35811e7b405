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

// Package generation runs the room redesign pipeline: stage the photograph,
// render, download the result, persist it and clean up.
package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fawa-io/roomdesign/pkg/fetch"
	"github.com/fawa-io/roomdesign/pkg/fwlog"
	"github.com/fawa-io/roomdesign/pkg/metrics"
	"github.com/fawa-io/roomdesign/pkg/render"
	"github.com/fawa-io/roomdesign/pkg/staging"
	"github.com/fawa-io/roomdesign/pkg/storage"
)

const (
	// DefaultFolder is the key prefix generated images are stored under.
	DefaultFolder = "generated"

	DefaultRenderTimeout = 5 * time.Minute

	inputSuffix = ".jpg"
)

// Fetcher downloads the rendered image a reference points at.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) (*fetch.Artifact, error)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithIndex records every stored object in idx.
func WithIndex(idx storage.Index) Option {
	return func(p *Pipeline) { p.index = idx }
}

func WithMetrics(m *metrics.Pipeline) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithFolder sets the key prefix, DefaultFolder when empty.
func WithFolder(folder string) Option {
	return func(p *Pipeline) {
		if folder != "" {
			p.folder = folder
		}
	}
}

// WithRenderTimeout bounds the render call.
func WithRenderTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.renderTimeout = d
		}
	}
}

// WithTransitionHook calls fn on every stage a run enters, including
// StageFailed.
func WithTransitionHook(fn func(Stage)) Option {
	return func(p *Pipeline) { p.onTransition = fn }
}

// Pipeline is safe for concurrent use; every Run owns its staged files and
// shares only the storage backend.
type Pipeline struct {
	backend       storage.Backend
	renderer      render.Renderer
	fetcher       Fetcher
	staging       *staging.Manager
	index         storage.Index
	metrics       *metrics.Pipeline
	folder        string
	renderTimeout time.Duration
	onTransition  func(Stage)
}

// NewPipeline wires the pipeline. backend may be nil, in which case Run
// fails with storage.ErrNotInitialized.
func NewPipeline(backend storage.Backend, renderer render.Renderer, fetcher Fetcher, stager *staging.Manager, opts ...Option) (*Pipeline, error) {
	if renderer == nil {
		return nil, errors.New("renderer is required")
	}
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if stager == nil {
		return nil, errors.New("staging manager is required")
	}
	p := &Pipeline{
		backend:       backend,
		renderer:      renderer,
		fetcher:       fetcher,
		staging:       stager,
		folder:        DefaultFolder,
		renderTimeout: DefaultRenderTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// run holds the state of a single Run.
type run struct {
	p      *Pipeline
	stage  Stage
	start  time.Time
	input  *staging.Resource
	output *staging.Resource
}

func (r *run) enter(stage Stage) {
	if r.stage != StageStart && r.stage != StageFailed {
		r.p.metrics.ObserveStage(string(r.stage), time.Since(r.start))
	}
	r.stage = stage
	r.start = time.Now()
	if r.p.onTransition != nil {
		r.p.onTransition(stage)
	}
}

// fail releases everything still staged and moves the run to StageFailed.
func (r *run) fail(err error) error {
	stage := r.stage
	r.release(&r.input)
	r.release(&r.output)
	r.enter(StageFailed)
	r.p.metrics.RunFailed(string(stage))
	fwlog.Errorf("Generation failed during %s: %v", stage, err)
	return &StageError{Stage: stage, Err: err}
}

// release drops a staged file. Errors are logged by the manager and never
// change the outcome of the run.
func (r *run) release(res **staging.Resource) {
	if *res == nil {
		return
	}
	_ = r.p.staging.Release(*res)
	*res = nil
}

// Run executes the pipeline for req and returns the stored object. Staged
// files are released on every path, including cancellation of ctx.
func (p *Pipeline) Run(ctx context.Context, req *Request) (*storage.Object, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrValidation)
	}
	if p.backend == nil {
		return nil, storage.ErrNotInitialized
	}

	r := &run{p: p, stage: StageStart}
	defer r.release(&r.output)
	defer r.release(&r.input)

	fwlog.Infof("Generating image with theme: %s, furniture count: %d", req.Theme(), req.FurnitureCount())

	r.enter(StageStagingInput)
	if err := ctx.Err(); err != nil {
		return nil, r.fail(err)
	}
	input, err := p.staging.Stage(inputSuffix, req.image)
	if err != nil {
		return nil, r.fail(err)
	}
	r.input = input

	r.enter(StageRendering)
	ref, err := p.render(ctx, req, input.Path())
	if err != nil {
		return nil, r.fail(err)
	}

	r.enter(StageFetching)
	artifact, err := p.fetcher.Fetch(ctx, ref)
	if err != nil {
		return nil, r.fail(err)
	}

	r.enter(StageStagingOutput)
	output, err := p.staging.Stage(artifact.Ext(), artifact.Data)
	if err != nil {
		return nil, r.fail(err)
	}
	r.output = output
	r.release(&r.input)

	r.enter(StagePersisting)
	if err := ctx.Err(); err != nil {
		return nil, r.fail(err)
	}
	key := p.backend.NewKey(p.folder, artifact.Ext())
	obj, err := p.backend.Store(ctx, storage.FromFile(output.Path()), key, true)
	if err != nil {
		return nil, r.fail(err)
	}

	r.enter(StageCleanup)
	r.release(&r.output)
	p.record(ctx, obj)

	r.enter(StageDone)
	p.metrics.RunSucceeded()
	fwlog.Infof("Image uploaded: %s", obj.Reference)
	return obj, nil
}

func (p *Pipeline) render(ctx context.Context, req *Request, imagePath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.renderTimeout)
	defer cancel()

	prompt := render.BuildPrompt(req.Theme(), req.Prompt(), req.links)
	fwlog.Debugf("Render prompt: %s", prompt)
	return p.renderer.Render(ctx, render.Input{
		ImagePath:      imagePath,
		Prompt:         prompt,
		NegativePrompt: render.NegativePrompt,
		Params:         render.DefaultParams(),
	})
}

// record indexes obj. A failure is logged and does not fail the run.
func (p *Pipeline) record(ctx context.Context, obj *storage.Object) {
	if p.index == nil {
		return
	}
	if err := p.index.Save(ctx, obj); err != nil {
		fwlog.Warnf("Failed to index artifact %s: %v", obj.ID, err)
	}
}
