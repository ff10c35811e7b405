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

// Command client submits a room photograph to a running server and prints
// the generated image URL.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/fawa-io/roomdesign/pkg/fwlog"
)

type options struct {
	server string
	image  string
	prompt string
	theme  string
	links  string
}

type result struct {
	Success           bool   `json:"success"`
	ID                string `json:"id"`
	GeneratedImageURL string `json:"generated_image_url"`
	FurnitureCount    int    `json:"furniture_count"`
	Detail            string `json:"detail"`
}

func main() {
	var o options
	pflag.StringVar(&o.server, "server", "http://localhost:8000", "server base URL")
	pflag.StringVar(&o.image, "image", "", "path to the room photograph")
	pflag.StringVar(&o.prompt, "prompt", "", "placement instructions")
	pflag.StringVar(&o.theme, "theme", "MODERN LIVING", "design theme")
	pflag.StringVar(&o.links, "links", "", "comma separated furniture links")
	timeout := pflag.Duration("timeout", 6*time.Minute, "request deadline")
	rpc := pflag.Bool("rpc", false, "call GenerationService over connect instead of posting a form")
	pflag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var (
		res *result
		err error
	)
	if *rpc {
		res, err = generateRPC(ctx, http.DefaultClient, o)
	} else {
		res, err = generate(ctx, http.DefaultClient, o)
	}
	if err != nil {
		fwlog.Fatal(err)
	}
	fmt.Printf("%s (furniture: %d)\n", res.GeneratedImageURL, res.FurnitureCount)
}

func generate(ctx context.Context, client *http.Client, o options) (*result, error) {
	image, err := os.ReadFile(o.image)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="room_image"; filename=%q`, filepath.Base(o.image)))
	h.Set("Content-Type", http.DetectContentType(image))
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(image); err != nil {
		return nil, err
	}
	for k, v := range map[string]string{"prompt": o.prompt, "theme": o.theme, "furniture_links": o.links} {
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	url := strings.TrimRight(o.server, "/") + "/generation/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var res result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("unexpected response (%d): %s", resp.StatusCode, raw)
	}
	if resp.StatusCode != http.StatusOK || !res.Success {
		return nil, fmt.Errorf("generation failed (%d): %s", resp.StatusCode, res.Detail)
	}
	return &res, nil
}
