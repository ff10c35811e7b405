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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fawa-io/roomdesign/pkg/fwlog"
	"github.com/fawa-io/roomdesign/pkg/storage"
)

const (
	// MaxImageSize is the largest room photograph accepted over HTTP.
	MaxImageSize = 10 * 1024 * 1024

	maxFormOverhead = 1 << 20
)

// Runner executes a generation request.
type Runner interface {
	Run(ctx context.Context, req *Request) (*storage.Object, error)
}

// HealthInfo is reported by the health endpoint.
type HealthInfo struct {
	Storage          storage.Kind `json:"storage"`
	Bucket           string       `json:"bucket,omitempty"`
	Region           string       `json:"region,omitempty"`
	RenderProvider   string       `json:"render_provider"`
	RenderConfigured bool         `json:"render_configured"`
}

type generateResponse struct {
	Success           bool   `json:"success"`
	ID                string `json:"id"`
	Key               string `json:"key"`
	GeneratedImageURL string `json:"generated_image_url"`
	Message           string `json:"message"`
	FurnitureCount    int    `json:"furniture_count"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// Handler serves the generation HTTP API.
type Handler struct {
	runner Runner
	index  storage.Index
	health HealthInfo
}

// NewHandler returns a Handler. index may be nil, which disables lookups.
func NewHandler(runner Runner, index storage.Index, health HealthInfo) *Handler {
	return &Handler{runner: runner, index: index, health: health}
}

// Register adds the handler's routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /generation/generate", h.Generate)
	mux.HandleFunc("GET /generation/{id}", h.Lookup)
	mux.HandleFunc("GET /health", h.Health)
}

// Generate accepts a multipart form with room_image, prompt, theme and a
// comma separated furniture_links field.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxImageSize+maxFormOverhead)
	if err := r.ParseMultipartForm(MaxImageSize + maxFormOverhead); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusBadRequest, "Image too large. Maximum size is 10MB")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart form: "+err.Error())
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			fwlog.Warnf("Failed to remove multipart temp files: %v", err)
		}
	}()

	file, header, err := r.FormFile("room_image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "room_image is required")
		return
	}
	defer file.Close()

	if !strings.HasPrefix(header.Header.Get("Content-Type"), "image/") {
		writeError(w, http.StatusBadRequest, "Invalid file type. Please upload an image (JPEG/PNG)")
		return
	}

	fwlog.Infof("Reading room image: %s", header.Filename)
	image, err := io.ReadAll(io.LimitReader(file, MaxImageSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read room_image")
		return
	}
	if len(image) > MaxImageSize {
		writeError(w, http.StatusBadRequest, "Image too large. Maximum size is 10MB")
		return
	}

	req, err := NewRequest(image, r.FormValue("prompt"), r.FormValue("theme"), ParseLinks(r.FormValue("furniture_links")))
	if err != nil {
		if errors.Is(err, ErrValidation) && len(image) > 0 {
			writeError(w, http.StatusBadRequest, "Please provide at least one furniture link")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	obj, err := h.runner.Run(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, storage.ErrNotInitialized) {
			status = http.StatusServiceUnavailable
		}
		fwlog.Errorf("Generation endpoint error: %v", err)
		writeError(w, status, fmt.Sprintf("Image generation failed: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, generateResponse{
		Success:           true,
		ID:                obj.ID,
		Key:               obj.Key,
		GeneratedImageURL: obj.Reference,
		Message:           "Image generated successfully",
		FurnitureCount:    req.FurnitureCount(),
	})
}

// Lookup resolves an artifact id recorded in the index.
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id cannot be empty")
		return
	}
	if h.index == nil {
		writeError(w, http.StatusNotFound, "artifact index is disabled")
		return
	}

	obj, err := h.index.Lookup(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "artifact not found or expired")
			return
		}
		fwlog.Errorf("Failed to look up artifact %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "could not look up artifact")
		return
	}
	writeJSON(w, http.StatusOK, obj)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
		HealthInfo
	}{Status: "healthy", HealthInfo: h.health})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fwlog.Warnf("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}
