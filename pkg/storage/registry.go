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

package storage

import (
	"sync"

	"github.com/spf13/afero"

	"github.com/fawa-io/roomdesign/pkg/config"
	"github.com/fawa-io/roomdesign/pkg/fwlog"
)

// New builds the backend selected by cfg. fsys is where FromFile sources
// are read from and, for the local backend, where objects are kept; nil
// means the OS filesystem.
func New(cfg config.StorageConfig, fsys afero.Fs) (Backend, error) {
	if cfg.UseLocal {
		fwlog.Infof("Using local storage under %s", cfg.Local.Root)
		return NewLocalBackend(fsys, cfg.Local.Root)
	}
	return NewS3Backend(cfg.S3, fsys)
}

// Registry holds the one configured Backend of a process. It is created
// explicitly at startup and handed to whoever needs the backend; there is
// no package level instance.
type Registry struct {
	mu      sync.RWMutex
	backend Backend
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Initialize builds a backend from cfg on fsys and stores it, replacing any
// previous one.
func (r *Registry) Initialize(cfg config.StorageConfig, fsys afero.Fs) (Backend, error) {
	b, err := New(cfg, fsys)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.backend = b
	r.mu.Unlock()
	return b, nil
}

// Current returns the configured backend or ErrNotInitialized.
func (r *Registry) Current() (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.backend == nil {
		return nil, ErrNotInitialized
	}
	return r.backend, nil
}

// Reset forgets the backend. Intended for tests.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.backend = nil
	r.mu.Unlock()
}
