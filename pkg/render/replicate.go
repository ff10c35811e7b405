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

package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/shouni/go-http-kit/pkg/httpkit"

	"github.com/fawa-io/roomdesign/pkg/config"
	"github.com/fawa-io/roomdesign/pkg/fwlog"
)

const (
	DefaultReplicateBaseURL = "https://api.replicate.com/v1"
	// DefaultReplicateVersion is stability-ai/sdxl.
	DefaultReplicateVersion = "39ed52f2a78e934b3ba6e2a89f5b1c712de7dfea535525255b1aa35c5565e08b"

	maxErrorBody = 512
)

type predictionStatus string

const (
	statusStarting   predictionStatus = "starting"
	statusProcessing predictionStatus = "processing"
	statusSucceeded  predictionStatus = "succeeded"
	statusFailed     predictionStatus = "failed"
	statusCanceled   predictionStatus = "canceled"
)

type predictionInput struct {
	Image          string  `json:"image"`
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Steps          int     `json:"num_inference_steps"`
	Guidance       float64 `json:"guidance_scale"`
	Strength       float64 `json:"strength"`
	Outputs        int     `json:"num_outputs"`
}

type predictionRequest struct {
	Version string          `json:"version"`
	Input   predictionInput `json:"input"`
}

type prediction struct {
	ID     string           `json:"id"`
	Status predictionStatus `json:"status"`
	Output json.RawMessage  `json:"output"`
	Error  any              `json:"error"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
}

var errPending = errors.New("prediction still running")

// ReplicateClient runs img2img predictions against the Replicate HTTP API.
type ReplicateClient struct {
	opts    options
	api     httpkit.ClientInterface
	version string
	baseURL string
}

// NewReplicateClient returns a client for cfg. The API token is required.
func NewReplicateClient(cfg config.ReplicateConfig, opts ...Option) (*ReplicateClient, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: REPLICATE_API_TOKEN is not set", ErrNotConfigured)
	}
	c := &ReplicateClient{
		opts:    buildOptions(opts),
		version: cfg.Version,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
	if c.version == "" {
		c.version = DefaultReplicateVersion
	}
	if c.baseURL == "" {
		c.baseURL = DefaultReplicateBaseURL
	}

	// Creating a prediction is not idempotent, so requests are sent once and
	// polling is paced by the poll backoff. The API host is operator
	// configured and must be https (or a local address) instead of passing
	// the per-request SSRF check.
	c.api = httpkit.New(0,
		httpkit.WithHTTPClient(&bearerDoer{next: c.opts.httpClient, token: cfg.Token}),
		httpkit.WithMaxRetries(0),
		httpkit.WithSkipNetworkValidation(true),
	)
	if !c.api.IsSecureServiceURL(c.baseURL) {
		return nil, fmt.Errorf("replicate base URL %q must use https", c.baseURL)
	}
	return c, nil
}

func (c *ReplicateClient) Render(ctx context.Context, in Input) (string, error) {
	data, mimeType, err := readImage(c.opts.fs, in.ImagePath)
	if err != nil {
		return "", err
	}

	p, err := c.create(ctx, predictionRequest{
		Version: c.version,
		Input: predictionInput{
			Image:          DataURL(mimeType, data),
			Prompt:         in.Prompt,
			NegativePrompt: in.NegativePrompt,
			Steps:          in.Params.Steps,
			Guidance:       in.Params.Guidance,
			Strength:       in.Params.Strength,
			Outputs:        in.Params.Outputs,
		},
	})
	if err != nil {
		return "", fmt.Errorf("create prediction: %w", err)
	}
	fwlog.Infof("Prediction %s created (status: %s)", p.ID, p.Status)

	if !p.Status.terminal() {
		p, err = c.wait(ctx, p)
		if err != nil {
			return "", err
		}
	}
	if p.Status != statusSucceeded {
		return "", fmt.Errorf("prediction %s %s: %v", p.ID, p.Status, p.Error)
	}

	ref, err := firstOutput(p.Output)
	if err != nil {
		return "", fmt.Errorf("prediction %s: %w", p.ID, err)
	}
	fwlog.Infof("Image generated: %s", ref)
	return ref, nil
}

// wait polls the prediction until it reaches a terminal status or ctx ends.
func (c *ReplicateClient) wait(ctx context.Context, p *prediction) (*prediction, error) {
	getURL := p.URLs.Get
	if getURL == "" {
		getURL = c.baseURL + "/predictions/" + p.ID
	}
	b := backoff.WithContext(c.opts.newBackOff(), ctx)

	return backoff.RetryWithData(func() (*prediction, error) {
		var cur prediction
		if err := c.api.FetchAndDecodeJSON(ctx, getURL, &cur); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("poll prediction %s: %w", p.ID, apiError(ctx, err)))
		}
		if !cur.Status.terminal() {
			fwlog.Debugf("Prediction %s is %s", cur.ID, cur.Status)
			return nil, errPending
		}
		return &cur, nil
	}, b)
}

func (c *ReplicateClient) create(ctx context.Context, req predictionRequest) (*prediction, error) {
	body, err := c.api.PostJSONAndFetchBytes(ctx, c.baseURL+"/predictions", req)
	if err != nil {
		return nil, apiError(ctx, err)
	}
	var p prediction
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode prediction: %w", err)
	}
	return &p, nil
}

// apiError prefers the context error and reports rejected calls by status.
func apiError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var statusErr *httpkit.NonRetryableHTTPError
	if errors.As(err, &statusErr) {
		msg := strings.TrimSpace(string(statusErr.Body))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return fmt.Errorf("unexpected status %d: %s", statusErr.StatusCode, msg)
	}
	return err
}

// bearerDoer authenticates every API call with the account token.
type bearerDoer struct {
	next  httpkit.Doer
	token string
}

func (d *bearerDoer) Do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+d.token)
	return d.next.Do(req)
}

func (s predictionStatus) terminal() bool {
	switch s {
	case statusSucceeded, statusFailed, statusCanceled:
		return true
	}
	return false
}

// firstOutput accepts either a single reference or a list of references.
func firstOutput(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", ErrNoOutput
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return "", ErrNoOutput
		}
		return single, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return "", fmt.Errorf("unrecognized output %s: %w", raw, err)
	}
	if len(list) == 0 || list[0] == "" {
		return "", ErrNoOutput
	}
	return list[0], nil
}

var _ Renderer = (*ReplicateClient)(nil)
