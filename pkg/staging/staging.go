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

// Package staging hands out exclusively owned temporary files for the
// duration of a single generation run.
package staging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync/atomic"

	"github.com/spf13/afero"

	"github.com/fawa-io/roomdesign/pkg/fwlog"
)

const filePrefix = "roomdesign-"

// Resource is a staged file owned by exactly one run.
type Resource struct {
	path     string
	released atomic.Bool
}

// Path is the location of the staged file.
func (r *Resource) Path() string { return r.path }

// Option configures a Manager.
type Option func(*Manager)

// WithObserver registers fn to be called with the outstanding count after
// every acquire and release.
func WithObserver(fn func(outstanding int64)) Option {
	return func(m *Manager) { m.observe = fn }
}

// Manager creates and removes staged files under a single directory.
type Manager struct {
	fs          afero.Fs
	dir         string
	outstanding atomic.Int64
	observe     func(int64)
}

// NewManager returns a Manager staging into dir, or os.TempDir() when dir
// is empty.
func NewManager(fsys afero.Fs, dir string, opts ...Option) (*Manager, error) {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if dir == "" {
		dir = os.TempDir()
	}
	if err := fsys.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create staging dir: %w", err)
	}
	m := &Manager{fs: fsys, dir: dir}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Fs is the filesystem staged files live on.
func (m *Manager) Fs() afero.Fs { return m.fs }

// Acquire creates an empty, uniquely named file ending in suffix.
func (m *Manager) Acquire(suffix string) (*Resource, error) {
	f, err := afero.TempFile(m.fs, m.dir, filePrefix+"*"+suffix)
	if err != nil {
		return nil, fmt.Errorf("failed to create staged file: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		_ = m.fs.Remove(name)
		return nil, fmt.Errorf("failed to close staged file: %w", err)
	}
	m.changed(m.outstanding.Add(1))
	fwlog.Debugf("Staged file acquired: %s", name)
	return &Resource{path: name}, nil
}

// Stage acquires a file and fills it with data. Nothing stays acquired
// when it fails.
func (m *Manager) Stage(suffix string, data []byte) (*Resource, error) {
	r, err := m.Acquire(suffix)
	if err != nil {
		return nil, err
	}
	if err := afero.WriteFile(m.fs, r.path, data, 0o600); err != nil {
		_ = m.Release(r)
		return nil, fmt.Errorf("failed to write staged file: %w", err)
	}
	return r, nil
}

// Release removes the staged file. It is safe to call more than once and on
// a file that has already been moved away. A failure is logged and returned
// for diagnostics only; callers may discard it.
func (m *Manager) Release(r *Resource) error {
	if r == nil || r.released.Swap(true) {
		return nil
	}
	defer func() { m.changed(m.outstanding.Add(-1)) }()

	if err := m.fs.Remove(r.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		fwlog.Warnf("Failed to remove staged file %s: %v", r.path, err)
		return fmt.Errorf("failed to remove staged file %s: %w", r.path, err)
	}
	fwlog.Debugf("Staged file released: %s", r.path)
	return nil
}

// Outstanding is the number of acquired resources not yet released.
func (m *Manager) Outstanding() int64 {
	return m.outstanding.Load()
}

func (m *Manager) changed(n int64) {
	if m.observe != nil {
		m.observe(n)
	}
}
