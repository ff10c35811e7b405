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
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/fawa-io/roomdesign/pkg/config"
	"github.com/fawa-io/roomdesign/pkg/fwlog"
)

// DefaultGeminiModel is an image-capable Gemini model.
const DefaultGeminiModel = "gemini-2.5-flash-image"

// contentGenerator is the subset of *genai.Models the client uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient edits the room photograph with a Gemini image model. The
// rendered image comes back inline and is returned as a data: URL.
type GeminiClient struct {
	opts   options
	models contentGenerator
	model  string
}

// NewGeminiClient returns a client for cfg. The API key is required.
func NewGeminiClient(ctx context.Context, cfg config.GeminiConfig, opts ...Option) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY is not set", ErrNotConfigured)
	}
	o := buildOptions(opts)
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: o.httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return newGeminiClient(client.Models, cfg.Model, o), nil
}

func newGeminiClient(models contentGenerator, model string, o options) *GeminiClient {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiClient{opts: o, models: models, model: model}
}

func (c *GeminiClient) Render(ctx context.Context, in Input) (string, error) {
	data, mimeType, err := readImage(c.opts.fs, in.ImagePath)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return "", fmt.Errorf("staged input is %s, not an image", mimeType)
	}

	text := in.Prompt
	if in.NegativePrompt != "" {
		text += "\nAvoid: " + in.NegativePrompt + "."
	}
	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: text},
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
		},
	}}
	outputs := max(in.Params.Outputs, 1)

	resp, err := c.models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
		CandidateCount:     int32(outputs),
	})
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	blob, err := firstImage(resp)
	if err != nil {
		return "", err
	}
	fwlog.Infof("Image generated by %s (%s, %.2fKB)", c.model, blob.MIMEType, float64(len(blob.Data))/1024)
	return DataURL(blob.MIMEType, blob.Data), nil
}

func firstImage(resp *genai.GenerateContentResponse) (*genai.Blob, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, ErrNoOutput
	}
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData, nil
			}
		}
	}
	return nil, ErrNoOutput
}

var _ Renderer = (*GeminiClient)(nil)
