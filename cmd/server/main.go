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

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/fawa-io/roomdesign/pkg/config"
	"github.com/fawa-io/roomdesign/pkg/cors"
	"github.com/fawa-io/roomdesign/pkg/fetch"
	"github.com/fawa-io/roomdesign/pkg/fwlog"
	"github.com/fawa-io/roomdesign/pkg/metrics"
	"github.com/fawa-io/roomdesign/pkg/render"
	"github.com/fawa-io/roomdesign/pkg/staging"
	"github.com/fawa-io/roomdesign/pkg/storage"
	"github.com/fawa-io/roomdesign/service/generation"
)

func main() {
	if err := config.InitConfig(); err != nil {
		fwlog.Fatalf("Failed to initialize configuration: %v", err)
	}
	cfg := config.Get()

	lv, err := fwlog.ParseLevel(cfg.LogLevel)
	if err != nil {
		fwlog.Warnf("%v, using info", err)
	}
	fwlog.SetLevel(lv)

	ctx := context.Background()

	// Staged files, local objects and renderer input all live on one fs.
	fsys := afero.NewOsFs()

	registry := storage.NewRegistry()
	backend, err := registry.Initialize(cfg.Storage, fsys)
	if err != nil {
		fwlog.Fatalf("Failed to initialize storage: %v", err)
	}
	health := generation.HealthInfo{
		Storage:        backend.Kind(),
		RenderProvider: cfg.Render.Provider,
	}
	if s3b, ok := backend.(*storage.S3Backend); ok {
		health.Bucket = s3b.Bucket()
		health.Region = s3b.Region()
		if err := s3b.CheckConnection(ctx); err != nil {
			fwlog.Warnf("S3 connection check failed: %v", err)
		}
	}

	pipelineMetrics, err := metrics.NewPipeline("roomdesign", prometheus.DefaultRegisterer)
	if err != nil {
		fwlog.Fatalf("Failed to register metrics: %v", err)
	}

	stager, err := staging.NewManager(fsys, cfg.Staging.Dir, staging.WithObserver(pipelineMetrics.SetStaged))
	if err != nil {
		fwlog.Fatalf("Failed to initialize staging: %v", err)
	}

	renderer, err := render.New(ctx, cfg.Render, render.WithFs(stager.Fs()))
	switch {
	case errors.Is(err, render.ErrNotConfigured):
		fwlog.Errorf("%v; generation requests will fail until it is set", err)
		renderer = render.Unavailable{Err: err}
	case err != nil:
		fwlog.Fatalf("Failed to initialize renderer: %v", err)
	default:
		health.RenderConfigured = true
	}

	// The index is optional; generation works without it.
	var index storage.Index
	if cfg.Redis.Addr != "" {
		dfly, err := storage.NewDragonflyIndex(ctx, cfg.Redis)
		if err != nil {
			fwlog.Warnf("Artifact index disabled: %v", err)
		} else {
			index = dfly
		}
	}

	opts := []generation.Option{
		generation.WithFolder(cfg.Storage.Folder),
		generation.WithRenderTimeout(cfg.Render.Timeout),
		generation.WithMetrics(pipelineMetrics),
	}
	if index != nil {
		opts = append(opts, generation.WithIndex(index))
	}
	pipeline, err := generation.NewPipeline(backend, renderer, fetch.New(cfg.Fetch), stager, opts...)
	if err != nil {
		fwlog.Fatalf("Failed to build pipeline: %v", err)
	}

	mux := http.NewServeMux()
	generation.NewHandler(pipeline, index, health).Register(mux)
	rpcPath, rpcHandler, err := generation.NewRPCHandler(generation.NewRPCService(pipeline, index))
	if err != nil {
		fwlog.Fatalf("Failed to build generation RPC handler: %v", err)
	}
	mux.Handle(rpcPath, rpcHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h2c.NewHandler(cors.NewCORS().Handler(mux), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Setup graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fwlog.Info("Shutting down server...")

		// In-flight runs release their staged files as their contexts end.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			fwlog.Errorf("Server shutdown error: %v", err)
		}
		registry.Reset()

		fwlog.Info("Server shutdown complete")
		os.Exit(0)
	}()

	fwlog.Infof("Server starting on %v (storage: %s)", cfg.Addr, backend.Kind())

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		err = srv.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		fwlog.Fatalf("Failed to start server: %v", err)
	}
}
