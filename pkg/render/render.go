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

// Package render talks to the external generative image services that turn
// a room photograph into a redesigned room.
package render

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/afero"

	"github.com/fawa-io/roomdesign/pkg/config"
)

var (
	// ErrNoOutput is returned when a service reports success without an
	// image reference.
	ErrNoOutput = errors.New("render: no output returned")

	// ErrNotConfigured is returned when the selected provider lacks
	// credentials.
	ErrNotConfigured = errors.New("render: provider not configured")
)

// Params are the sampling settings sent with every render.
type Params struct {
	Steps    int
	Guidance float64
	Strength float64
	Outputs  int
}

// DefaultParams returns 30 steps, guidance 7.5, strength 0.6 and a single
// output. Strength 0.6 keeps roughly 40% of the original photograph.
func DefaultParams() Params {
	return Params{Steps: 30, Guidance: 7.5, Strength: 0.6, Outputs: 1}
}

// Input is one render request. ImagePath points at a staged copy of the
// room photograph.
type Input struct {
	ImagePath      string
	Prompt         string
	NegativePrompt string
	Params         Params
}

// Renderer produces a reference to a rendered image: an http(s) URL or a
// data: URL.
type Renderer interface {
	Render(ctx context.Context, in Input) (string, error)
}

type options struct {
	fs         afero.Fs
	httpClient *http.Client
	newBackOff func() backoff.BackOff
}

// Option customizes a client.
type Option func(*options)

// WithFs sets the filesystem staged images are read from.
func WithFs(fsys afero.Fs) Option {
	return func(o *options) { o.fs = fsys }
}

// WithHTTPClient replaces the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithPollBackOff sets the policy used between prediction status polls.
func WithPollBackOff(fn func() backoff.BackOff) Option {
	return func(o *options) { o.newBackOff = fn }
}

func buildOptions(opts []Option) options {
	o := options{
		fs:         afero.NewOsFs(),
		httpClient: &http.Client{},
		newBackOff: defaultPollBackOff,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func defaultPollBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// New returns the Renderer selected by cfg.Provider.
func New(ctx context.Context, cfg config.RenderConfig, opts ...Option) (Renderer, error) {
	switch cfg.Provider {
	case "", config.ProviderReplicate:
		return NewReplicateClient(cfg.Replicate, opts...)
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg.Gemini, opts...)
	default:
		return nil, fmt.Errorf("unknown render provider: %q", cfg.Provider)
	}
}

func readImage(fsys afero.Fs, path string) ([]byte, string, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, "", fmt.Errorf("read staged image: %w", err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("staged image %s is empty", path)
	}
	return data, http.DetectContentType(data), nil
}

// DataURL encodes data as a base64 data: URL.
func DataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Unavailable is a Renderer that always fails with err. It stands in for a
// provider whose credentials are missing so the server can still start.
type Unavailable struct {
	Err error
}

func (u Unavailable) Render(context.Context, Input) (string, error) {
	return "", u.Err
}
