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
	"fmt"
	"strings"
)

// Request is an accepted generation request. It cannot be changed after
// NewRequest returns.
type Request struct {
	image  []byte
	prompt string
	theme  string
	links  []string
}

// NewRequest validates its arguments and returns an immutable Request.
// Links are trimmed and blank entries dropped; at least one must remain.
func NewRequest(image []byte, prompt, theme string, links []string) (*Request, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: room image is empty", ErrValidation)
	}
	cleaned := make([]string, 0, len(links))
	for _, l := range links {
		if l = strings.TrimSpace(l); l != "" {
			cleaned = append(cleaned, l)
		}
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("%w: at least one furniture link is required", ErrValidation)
	}
	return &Request{
		image:  append([]byte(nil), image...),
		prompt: strings.TrimSpace(prompt),
		theme:  strings.TrimSpace(theme),
		links:  cleaned,
	}, nil
}

// ParseLinks splits a comma separated list of links.
func ParseLinks(s string) []string {
	var links []string
	for _, l := range strings.Split(s, ",") {
		if l = strings.TrimSpace(l); l != "" {
			links = append(links, l)
		}
	}
	return links
}

func (r *Request) Prompt() string { return r.prompt }

func (r *Request) Theme() string { return r.theme }

// Links returns a copy of the furniture links.
func (r *Request) Links() []string { return append([]string(nil), r.links...) }

// FurnitureCount is the number of accepted links.
func (r *Request) FurnitureCount() int { return len(r.links) }
