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

// Package fetch downloads rendered images referenced by the render service.
package fetch

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/shouni/go-http-kit/pkg/httpkit"

	"github.com/fawa-io/roomdesign/pkg/config"
	"github.com/fawa-io/roomdesign/pkg/fwlog"
)

const (
	// DefaultTimeout bounds a single download.
	DefaultTimeout = 60 * time.Second

	// MaxBodySize caps how much of a response is read.
	MaxBodySize = httpkit.MaxResponseBodySize
)

var (
	ErrDownload         = errors.New("fetch: download failed")
	ErrBodyTooLarge     = errors.New("fetch: body too large")
	ErrInvalidReference = errors.New("fetch: invalid reference")
)

// Artifact is a downloaded rendered image.
type Artifact struct {
	Data        []byte
	ContentType string
}

// Ext returns the file extension matching the artifact's content type.
func (a *Artifact) Ext() string {
	switch a.ContentType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

// Fetcher performs a single, time-bounded GET per reference. It never
// retries. Unless cfg.AllowPrivateNetworks is set, references resolving to
// loopback, private or metadata addresses are refused.
type Fetcher struct {
	client  httpkit.ClientInterface
	timeout time.Duration
}

// New returns a Fetcher bounded by cfg.Timeout, or DefaultTimeout when unset.
// opts are applied after the defaults.
func New(cfg config.FetchConfig, opts ...httpkit.ClientOption) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	base := []httpkit.ClientOption{
		httpkit.WithMaxRetries(0),
		httpkit.WithSkipNetworkValidation(cfg.AllowPrivateNetworks),
	}
	return &Fetcher{
		client:  httpkit.New(timeout, append(base, opts...)...),
		timeout: timeout,
	}
}

// Fetch retrieves ref, which is an http(s) URL or a data: URL.
func (f *Fetcher) Fetch(ctx context.Context, ref string) (*Artifact, error) {
	if strings.HasPrefix(ref, "data:") {
		return decodeDataURL(ref)
	}
	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()
	data, err := f.client.FetchBytes(ctx, ref)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrDownload, ref, ctxErr)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrDownload, ref, err)
	}

	a := &Artifact{Data: data, ContentType: contentType(data, mime.TypeByExtension(path.Ext(u.Path)))}
	fwlog.Infof("Downloaded %s (%s, %.2fKB) in %s", ref, a.ContentType, float64(len(data))/1024, time.Since(start).Round(time.Millisecond))
	return a, nil
}

// contentType prefers the sniffed type and falls back to a declared image/*
// type, taken from a data: URL header or the reference's extension.
func contentType(data []byte, declared string) string {
	sniffed := http.DetectContentType(data)
	if strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}
	if mt, _, _ := strings.Cut(declared, ";"); strings.HasPrefix(mt, "image/") {
		return strings.TrimSpace(mt)
	}
	return sniffed
}
func decodeDataURL(ref string) (*Artifact, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("%w: malformed data URL", ErrInvalidReference)
	}
	var (
		data []byte
		err  error
	)
	if strings.HasSuffix(meta, ";base64") {
		meta = strings.TrimSuffix(meta, ";base64")
		data, err = base64.StdEncoding.DecodeString(payload)
	} else {
		var s string
		s, err = url.PathUnescape(payload)
		data = []byte(s)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidReference, err)
	}
	if int64(len(data)) > MaxBodySize {
		return nil, ErrBodyTooLarge
	}
	return &Artifact{Data: data, ContentType: contentType(data, meta)}, nil
}
