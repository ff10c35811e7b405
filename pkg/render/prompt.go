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
	"strings"

	"github.com/fawa-io/roomdesign/pkg/fwlog"
)

// NegativePrompt lists what every render should avoid.
const NegativePrompt = "blurry, distorted, cartoon, unrealistic, low quality, bad lighting"

const maxFurnitureHints = 3

var themes = []string{
	"MINIMAL SCANDINAVIAN",
	"TIMELESS LUXURY",
	"MODERN LIVING",
	"MODERN MEDITERRANEAN",
	"BOHO ECLECTIC",
}

// Themes returns the curated design themes. Other themes are accepted as
// free text.
func Themes() []string {
	return append([]string(nil), themes...)
}

// IsKnownTheme reports whether theme is one of Themes, ignoring case.
func IsKnownTheme(theme string) bool {
	for _, t := range themes {
		if strings.EqualFold(strings.TrimSpace(theme), t) {
			return true
		}
	}
	return false
}

// BuildPrompt composes the render prompt from a style preamble naming
// theme, the caller's placement instructions, a quality qualifier and a
// hint naming at most the first three furniture links.
func BuildPrompt(theme, prompt string, links []string) string {
	if !IsKnownTheme(theme) {
		fwlog.Warnf("Unknown theme %q, passing it through as free text", theme)
	}
	lines := []string{
		"Professional interior design photo, " + theme + " style room.",
		prompt,
		"High quality, realistic lighting, 4k resolution, photorealistic.",
		"Furniture placement: " + FurnitureHint(links),
	}
	return strings.Join(lines, "\n")
}

// FurnitureHint joins the last path segment of up to the first three links.
func FurnitureHint(links []string) string {
	n := min(len(links), maxFurnitureHints)
	names := make([]string, 0, n)
	for _, link := range links[:n] {
		names = append(names, link[strings.LastIndex(link, "/")+1:])
	}
	return strings.Join(names, ", ")
}
