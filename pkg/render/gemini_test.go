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
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeModels struct {
	resp     *genai.GenerateContentResponse
	err      error
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.contents = contents
	f.config = config
	return f.resp, f.err
}

func imageResponse(mimeType string, data []byte) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "here is your room"},
				{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
			}},
		}},
	}
}

func TestGeminiClient_Render(t *testing.T) {
	fsys, path := stageImage(t)
	fake := &fakeModels{resp: imageResponse("image/png", []byte("png-bytes"))}
	c := newGeminiClient(fake, "", buildOptions([]Option{WithFs(fsys)}))

	ref, err := c.Render(context.Background(), testInput(path))
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,"+base64.StdEncoding.EncodeToString([]byte("png-bytes")), ref)

	assert.Equal(t, DefaultGeminiModel, fake.model)
	require.Len(t, fake.contents, 1)
	parts := fake.contents[0].Parts
	require.Len(t, parts, 2)
	assert.True(t, strings.HasSuffix(parts[0].Text, "Avoid: "+NegativePrompt+"."))
	assert.Equal(t, "image/jpeg", parts[1].InlineData.MIMEType)
	assert.Equal(t, onePixelJPEG, parts[1].InlineData.Data)
	assert.EqualValues(t, 1, fake.config.CandidateCount)
}

func TestGeminiClient_Failures(t *testing.T) {
	tests := []struct {
		name  string
		fake  *fakeModels
		noOut bool
	}{
		{name: "api error", fake: &fakeModels{err: errors.New("quota exceeded")}},
		{name: "no candidates", fake: &fakeModels{resp: &genai.GenerateContentResponse{}}, noOut: true},
		{name: "text only", fake: &fakeModels{resp: &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{{Text: "sorry"}}}}},
		}}, noOut: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys, path := stageImage(t)
			c := newGeminiClient(tt.fake, "custom-model", buildOptions([]Option{WithFs(fsys)}))

			_, err := c.Render(context.Background(), testInput(path))
			require.Error(t, err)
			if tt.noOut {
				assert.ErrorIs(t, err, ErrNoOutput)
			}
			assert.Equal(t, "custom-model", tt.fake.model)
		})
	}
}
