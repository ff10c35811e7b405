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
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/fawa-io/roomdesign/pkg/fwlog"
)

const (
	publicFileMode  = 0o644
	privateFileMode = 0o600
	dirMode         = 0o755
)

// LocalBackend keeps artifacts under a root directory. The public
// reference of an object is its path on disk.
type LocalBackend struct {
	fs   afero.Fs
	root string
}

// NewLocalBackend creates root if needed and returns a backend rooted there.
func NewLocalBackend(fsys afero.Fs, root string) (*LocalBackend, error) {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if err := fsys.MkdirAll(root, dirMode); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &LocalBackend{fs: fsys, root: filepath.Clean(root)}, nil
}

func (b *LocalBackend) Kind() Kind { return KindLocal }

// Root is the directory objects are stored under.
func (b *LocalBackend) Root() string { return b.root }

func (b *LocalBackend) NewKey(folder, ext string) string {
	return LocalKey(folder, ext)
}

// resolve maps key to a path under root, rejecting traversal.
func (b *LocalBackend) resolve(key string) (string, error) {
	p := filepath.Join(b.root, filepath.FromSlash(key))
	if p != b.root && !strings.HasPrefix(p, b.root+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid key %q: path traversal detected", key)
	}
	return p, nil
}

func (b *LocalBackend) Store(ctx context.Context, src Source, key string, public bool) (*Object, error) {
	dst, err := b.resolve(key)
	if err != nil {
		return nil, err
	}

	// The source is checked before anything is created under root.
	var size int64
	if src.Path != "" {
		info, err := b.fs.Stat(src.Path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, src.Path)
			}
			return nil, fmt.Errorf("%w: stat %s: %w", ErrBackend, src.Path, err)
		}
		size = info.Size()
	} else {
		size = int64(len(src.Data))
	}
	if size > MaxObjectSize {
		return nil, fmt.Errorf("%w: %.2fMB (max: 50MB)", ErrTooLarge, float64(size)/(1024*1024))
	}

	if err := b.fs.MkdirAll(filepath.Dir(dst), dirMode); err != nil {
		return nil, fmt.Errorf("%w: mkdir for %s: %w", ErrBackend, key, err)
	}
	if src.Path != "" {
		if err := b.move(src.Path, dst); err != nil {
			return nil, fmt.Errorf("%w: move %s: %w", ErrBackend, key, err)
		}
	} else if err := afero.WriteFile(b.fs, dst, src.Data, privateFileMode); err != nil {
		return nil, fmt.Errorf("%w: write %s: %w", ErrBackend, key, err)
	}

	mode := os.FileMode(privateFileMode)
	if public {
		mode = publicFileMode
	}
	if err := b.fs.Chmod(dst, mode); err != nil {
		// A failed store leaves nothing behind under key.
		if rmErr := b.fs.Remove(dst); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			fwlog.Warnf("Failed to remove %s after chmod error: %v", dst, rmErr)
		}
		return nil, fmt.Errorf("%w: chmod %s: %w", ErrBackend, key, err)
	}

	fwlog.Infof("File saved locally: %s (size: %.2fKB)", dst, float64(size)/1024)
	return &Object{
		ID:          IDFromKey(key),
		Key:         key,
		Reference:   dst,
		ContentType: ContentTypeForKey(key),
		Size:        size,
	}, nil
}

// move renames src to dst, copying when the two live on different devices.
func (b *LocalBackend) move(src, dst string) error {
	if err := b.fs.Rename(src, dst); err == nil {
		return nil
	}
	if err := b.copyFile(src, dst); err != nil {
		return err
	}
	return b.fs.Remove(src)
}

func (b *LocalBackend) copyFile(src, dst string) (err error) {
	in, err := b.fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := b.fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, privateFileMode)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
	}()

	_, err = io.Copy(out, in)
	return err
}

func (b *LocalBackend) Delete(ctx context.Context, key string) (bool, error) {
	p, err := b.resolve(key)
	if err != nil {
		return false, err
	}
	if err := b.fs.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("%w: delete %s: %w", ErrBackend, key, err)
	}
	fwlog.Debugf("File deleted: %s", key)
	return true, nil
}

func (b *LocalBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := b.Size(ctx, key)
	return ok, err
}

func (b *LocalBackend) Size(ctx context.Context, key string) (int64, bool, error) {
	p, err := b.resolve(key)
	if err != nil {
		return 0, false, err
	}
	info, err := b.fs.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("%w: stat %s: %w", ErrBackend, key, err)
	}
	if info.IsDir() {
		return 0, false, nil
	}
	return info.Size(), true, nil
}

// walk visits every regular file whose key starts with prefix.
func (b *LocalBackend) walk(ctx context.Context, prefix string, fn func(key string, size int64) error) error {
	start := b.root
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		dir, err := b.resolve(prefix[:i])
		if err != nil {
			return err
		}
		start = dir
	}
	if ok, err := afero.DirExists(b.fs, start); err != nil || !ok {
		return err
	}

	return afero.Walk(b.fs, start, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(b.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		return fn(key, info.Size())
	})
}

func (b *LocalBackend) List(ctx context.Context, prefix string, limit int) ([]string, error) {
	var keys []string
	if err := b.walk(ctx, prefix, func(key string, _ int64) error {
		keys = append(keys, key)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("%w: list %q: %w", ErrBackend, prefix, err)
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

func (b *LocalBackend) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := b.List(ctx, prefix, 0)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		fwlog.Infof("No files to delete with prefix '%s'", prefix)
		return 0, nil
	}

	removed := 0
	for _, key := range keys {
		ok, err := b.Delete(ctx, key)
		if err != nil {
			fwlog.Warnf("Failed to delete %s: %v", key, err)
			continue
		}
		if ok {
			removed++
		}
	}
	fwlog.Infof("Deleted %d files with prefix '%s'", removed, prefix)
	return removed, nil
}

func (b *LocalBackend) Copy(ctx context.Context, srcKey, dstKey string) (bool, error) {
	src, err := b.resolve(srcKey)
	if err != nil {
		return false, err
	}
	dst, err := b.resolve(dstKey)
	if err != nil {
		return false, err
	}
	if ok, err := afero.Exists(b.fs, src); err != nil || !ok {
		return false, err
	}
	if err := b.fs.MkdirAll(filepath.Dir(dst), dirMode); err != nil {
		return false, fmt.Errorf("%w: mkdir for %s: %w", ErrBackend, dstKey, err)
	}
	if err := b.copyFile(src, dst); err != nil {
		return false, fmt.Errorf("%w: copy %s -> %s: %w", ErrBackend, srcKey, dstKey, err)
	}
	if info, err := b.fs.Stat(src); err == nil {
		_ = b.fs.Chmod(dst, info.Mode().Perm())
	}
	fwlog.Infof("File copied: %s -> %s", srcKey, dstKey)
	return true, nil
}

func (b *LocalBackend) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := b.walk(ctx, "", func(_ string, size int64) error {
		st.Count++
		st.TotalBytes += size
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("%w: stats: %w", ErrBackend, err)
	}
	return st, nil
}
