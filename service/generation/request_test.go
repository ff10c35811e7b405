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

package generation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest(t *testing.T) {
	image := []byte{0xFF, 0xD8, 0xFF}
	links := []string{" https://shop/a ", "", "https://shop/b"}

	req, err := NewRequest(image, " sofa left ", "MODERN LIVING", links)
	require.NoError(t, err)
	assert.Equal(t, "sofa left", req.Prompt())
	assert.Equal(t, "MODERN LIVING", req.Theme())
	assert.Equal(t, []string{"https://shop/a", "https://shop/b"}, req.Links())
	assert.Equal(t, 2, req.FurnitureCount())

	// Mutating the caller's slices must not leak into the request.
	image[0] = 0
	links[0] = "changed"
	got := req.Links()
	got[0] = "changed"
	assert.Equal(t, byte(0xFF), req.image[0])
	assert.Equal(t, "https://shop/a", req.Links()[0])
}

func TestNewRequestValidation(t *testing.T) {
	tests := []struct {
		name  string
		image []byte
		links []string
	}{
		{"no links", []byte{1}, nil},
		{"blank links", []byte{1}, []string{"  ", "\t", ""}},
		{"empty image", nil, []string{"https://shop/a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRequest(tt.image, "p", "t", tt.links)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestParseLinks(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, ParseLinks(" a , ,b,"))
	assert.Empty(t, ParseLinks(" , "))
}

func TestStageErrorMatching(t *testing.T) {
	cause := assert.AnError
	err := error(&StageError{Stage: StageFetching, Err: cause})

	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrRenderFailed)
	assert.Contains(t, err.Error(), "fetch failed")

	assert.ErrorIs(t, &StageError{Stage: StageStagingOutput, Err: cause}, ErrStagingFailed)
	assert.ErrorIs(t, &StageError{Stage: StagePersisting, Err: cause}, ErrStoreFailed)
}
